package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "points.db", cfg.Store.SQLitePath)
	assert.Equal(t, 3, cfg.Ledger.MaxRetries)
	assert.Equal(t, "points.decisions", cfg.Events.SubjectPrefix)
	assert.Empty(t, cfg.Events.NATSURL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParse_ZeroRetriesKept(t *testing.T) {
	cfg, err := Parse([]byte("ledger:\n  max_retries: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Ledger.MaxRetries)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A YAML file and an environment override for one of its keys
	// WHEN: Loading
	// THEN: File values apply and the environment wins where both are set

	path := filepath.Join(t.TempDir(), "points.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  allowed_origins: ["https://chores.example"]
store:
  driver: memory
ledger:
  max_retries: 5
  persist_ranks: true
log:
  level: debug
  format: console
`), 0600))

	t.Setenv("POINTS_SERVER_PORT", "9100")
	t.Setenv("POINTS_EVENTS_NATS_URL", "nats://localhost:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://chores.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Ledger.MaxRetries)
	assert.True(t, cfg.Ledger.PersistRanks)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "store:\n  driver: postgres\n"},
		{"mongo without uri", "store:\n  driver: mongo\n"},
		{"port out of range", "server:\n  port: 70000\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "store.sqlite_path", envKey("POINTS_STORE_SQLITE_PATH"))
	assert.Equal(t, "ledger.max_retries", envKey("POINTS_LEDGER_MAX_RETRIES"))
	assert.Equal(t, "debug", envKey("POINTS_DEBUG"))
}
