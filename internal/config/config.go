// Package config loads server configuration from an optional YAML file and
// SPLITLEDGER_* environment variables.
//
// Precedence (highest first): command-line flags (applied by cmd/server),
// environment, config file, defaults.
//
// Environment keys mirror the file keys with dots replaced by underscores:
//
//	server.port              SPLITLEDGER_SERVER_PORT
//	database.path            SPLITLEDGER_DATABASE_PATH
//	settlement.duplicate_window SPLITLEDGER_SETTLEMENT_DUPLICATE_WINDOW
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SettlementConfig struct {
	// DuplicateWindow treats a second finalize within this window as a
	// double submit. Zero disables the guard.
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
	Tolerance       string        `mapstructure:"tolerance"`
	Epsilon         string        `mapstructure:"epsilon"`
	Currency        string        `mapstructure:"currency"`

	tolerance decimal.Decimal
	epsilon   decimal.Decimal
}

// ToleranceValue is the parsed zero-sum tolerance.
func (c SettlementConfig) ToleranceValue() decimal.Decimal { return c.tolerance }

// EpsilonValue is the parsed minimizer threshold.
func (c SettlementConfig) EpsilonValue() decimal.Decimal { return c.epsilon }

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Settlement SettlementConfig `mapstructure:"settlement"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("database.path", "splitledger.db")

	v.SetDefault("log.level", "info")

	v.SetDefault("settlement.duplicate_window", 5*time.Second)
	v.SetDefault("settlement.tolerance", "0.01")
	v.SetDefault("settlement.epsilon", "0.005")
	v.SetDefault("settlement.currency", "USD")
}

// Load reads configuration from path. An empty path looks for an optional
// splitledger.yaml in the working directory; a missing file is fine then.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("splitledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	// environment overrides, e.g. SPLITLEDGER_SERVER_PORT=9000
	v.SetEnvPrefix("SPLITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("config: database.path is required")
	}
	if c.Settlement.DuplicateWindow < 0 {
		return fmt.Errorf("config: settlement.duplicate_window must not be negative")
	}

	var err error
	if c.Settlement.tolerance, err = nonNegative("settlement.tolerance", c.Settlement.Tolerance); err != nil {
		return err
	}
	if c.Settlement.epsilon, err = nonNegative("settlement.epsilon", c.Settlement.Epsilon); err != nil {
		return err
	}

	c.Settlement.Currency = strings.ToUpper(c.Settlement.Currency)
	if money.GetCurrency(c.Settlement.Currency) == nil {
		return fmt.Errorf("config: unknown currency %q", c.Settlement.Currency)
	}
	return nil
}

func nonNegative(key, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: %s must not be negative", key)
	}
	return d, nil
}
