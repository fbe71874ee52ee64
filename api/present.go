/*
present.go - Money presentation

PURPOSE:
  The only place where amounts are rounded. The engine works on exact
  decimals; responses carry the amount rounded to the currency's minor
  unit plus a display string formatted by go-money.

ROUNDING:
  Half away from zero at the currency's fraction digits
  (decimal.Decimal.Round). 12.345 USD → "12.35", -12.345 → "-12.35".

EXAMPLE:
  p, _ := NewPresenter("USD")
  p.Money(decimal.RequireFromString("1234.5"))
  → MoneyDTO{Amount: "1234.50", Display: "$1,234.50"}
*/
package api

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Presenter renders decimals for one currency.
type Presenter struct {
	currency *money.Currency
}

// NewPresenter returns a presenter for an ISO 4217 currency code.
func NewPresenter(code string) (*Presenter, error) {
	c := money.GetCurrency(strings.ToUpper(strings.TrimSpace(code)))
	if c == nil {
		return nil, fmt.Errorf("unknown currency %q", code)
	}
	return &Presenter{currency: c}, nil
}

// Currency returns the ISO code.
func (p *Presenter) Currency() string {
	return p.currency.Code
}

// Round rounds d to the currency's minor unit.
func (p *Presenter) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(int32(p.currency.Fraction))
}

// Money renders d as a MoneyDTO.
func (p *Presenter) Money(d decimal.Decimal) MoneyDTO {
	rounded := p.Round(d)
	minor := rounded.Shift(int32(p.currency.Fraction)).IntPart()
	return MoneyDTO{
		Amount:  rounded.StringFixed(int32(p.currency.Fraction)),
		Display: money.New(minor, p.currency.Code).Display(),
	}
}
