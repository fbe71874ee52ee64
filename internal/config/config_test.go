package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 30*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, "splitledger.db", c.Database.Path)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 5*time.Second, c.Settlement.DuplicateWindow)
	assert.Equal(t, "0.01", c.Settlement.ToleranceValue().String())
	assert.Equal(t, "0.005", c.Settlement.EpsilonValue().String())
	assert.Equal(t, "USD", c.Settlement.Currency)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GIVEN: a config file and an environment override
	// THEN: the environment wins over the file, the file over defaults

	path := filepath.Join(t.TempDir(), "splitledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  path: /var/lib/splitledger/ledger.db
settlement:
  duplicate_window: 0s
  currency: eur
`), 0o600))
	t.Setenv("SPLITLEDGER_SERVER_PORT", "9100")
	t.Setenv("SPLITLEDGER_LOG_LEVEL", "debug")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, "/var/lib/splitledger/ledger.db", c.Database.Path)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, time.Duration(0), c.Settlement.DuplicateWindow)
	assert.Equal(t, "EUR", c.Settlement.Currency)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "port out of range", env: map[string]string{"SPLITLEDGER_SERVER_PORT": "70000"}},
		{name: "bad tolerance", env: map[string]string{"SPLITLEDGER_SETTLEMENT_TOLERANCE": "a cent"}},
		{name: "negative epsilon", env: map[string]string{"SPLITLEDGER_SETTLEMENT_EPSILON": "-0.1"}},
		{name: "unknown currency", env: map[string]string{"SPLITLEDGER_SETTLEMENT_CURRENCY": "XXY"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

// chdir is a pre-Go 1.24 stand-in for t.Chdir.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
