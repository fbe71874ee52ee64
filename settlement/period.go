package settlement

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MODE - One tagged variant instead of scattered mode checks
// =============================================================================

// Mode selects how a group is settled.
//
//	ONE_OFF:   a trip. Every computation covers the group's whole lifetime,
//	           direct transfers count, nothing carries forward.
//	RECURRING: a shared stay closed period after period. Each period starts
//	           strictly after the previous settlement's end and inherits its
//	           adjusted balances.
type Mode string

const (
	ModeOneOff    Mode = "ONE_OFF"
	ModeRecurring Mode = "RECURRING"
)

// ParseMode accepts the canonical names in any case.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", NewValidationError("mode", fmt.Sprintf("unknown mode %q", s))
	}
	return m, nil
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeOneOff || m == ModeRecurring
}

// IncludesDirectTransfers reports whether private loans between
// participants are part of the balance.
func (m Mode) IncludesDirectTransfers() bool {
	return m == ModeOneOff
}

// CarriesForward reports whether the previous settlement's adjusted
// balances seed the next computation.
func (m Mode) CarriesForward() bool {
	return m == ModeRecurring
}

// FoldsConsumedPayments reports whether payments already archived by an
// earlier settlement are folded in again. Lifetime windows recount every
// cost entry, so they must recount every payment too.
func (m Mode) FoldsConsumedPayments() bool {
	return m == ModeOneOff
}

// =============================================================================
// PERIOD - The accounting window of one computation
// =============================================================================

// Period is the window a computation covers. Start and End are what a
// settlement header records; After and OpenEnd decide which entries fall
// inside.
type Period struct {
	Start time.Time
	End   time.Time

	// After, when set, excludes every entry at or before it. It is the
	// previous settlement's end for recurring groups.
	After *time.Time

	// OpenEnd counts entries dated after End (lifetime windows).
	OpenEnd bool
}

// Contains reports whether an entry dated t belongs to the period.
func (p Period) Contains(t time.Time) bool {
	if p.After != nil && !t.After(*p.After) {
		return false
	}
	if !p.OpenEnd && t.After(p.End) {
		return false
	}
	return true
}

// Bounds returns the store query bounds: since exclusive, until inclusive.
func (p Period) Bounds() (since, until *time.Time) {
	if p.After != nil {
		a := *p.After
		since = &a
	}
	if !p.OpenEnd {
		e := p.End
		until = &e
	}
	return since, until
}

// String returns a string representation of the period.
func (p Period) String() string {
	open := "["
	if p.After != nil {
		open = "("
	}
	end := p.End.Format(time.RFC3339)
	if p.OpenEnd {
		end += "+"
	}
	return open + p.Start.Format(time.RFC3339) + ", " + end + "]"
}

// ResolvePeriod determines the window for the next computation of g.
// last is the group's most recent settlement, or nil.
func ResolvePeriod(g *Group, last *SettlementSnapshot, now time.Time) Period {
	switch g.Mode {
	case ModeRecurring:
		if last == nil {
			// First period: nothing is closed yet, so nothing is excluded.
			return Period{Start: g.CreatedAt, End: laterOf(now, g.CreatedAt)}
		}
		after := last.PeriodEnd
		return Period{Start: after, End: laterOf(now, after), After: &after}
	default:
		return Period{Start: g.CreatedAt, End: laterOf(now, g.CreatedAt), OpenEnd: true}
	}
}

func laterOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
