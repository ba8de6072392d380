package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"catalogsync/internal/syncer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimal = `
source:
  spreadsheet_id: sheet-123
store:
  dsn: postgres://localhost/catalog?sslmode=disable
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "sheets", cfg.Source.Kind)
	assert.Equal(t, []string{"Catalog"}, cfg.Source.Sheets)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "products", cfg.Store.Table)
	assert.Equal(t, syncer.DefaultInterval, cfg.Sync.Interval)
	assert.Equal(t, syncer.DefaultCycleTimeout, cfg.Sync.CycleTimeout)
	assert.Equal(t, syncer.DefaultConcurrency, cfg.Sync.Concurrency)
	assert.True(t, cfg.Sync.RunOnStart)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.History.Enabled)
	assert.False(t, cfg.Lock.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.File)
}

func TestLoadFileValues(t *testing.T) {
	cfg, err := Load(writeFile(t, minimal+`
  driver: sqlite
sync:
  interval: 30s
  concurrency: 4
http:
  addr: 127.0.0.1:9000
lock:
  redis_addr: localhost:6379
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.True(t, cfg.Lock.Enabled())
	assert.Equal(t, "catalogsync:cycle", cfg.Lock.Key)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("CATALOGSYNC_SYNC_INTERVAL", "5m")
	t.Setenv("CATALOGSYNC_SOURCE_SHEETS", "Каталог,Catalog")
	t.Setenv("CATALOGSYNC_HISTORY_ENABLED", "false")

	cfg, err := Load(writeFile(t, minimal+`
sync:
  interval: 30s
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, []string{"Каталог", "Catalog"}, cfg.Source.Sheets)
	assert.False(t, cfg.History.Enabled)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing dsn":      "source:\n  spreadsheet_id: x\n",
		"missing sheet id": "store:\n  dsn: x\n",
		"bad driver":       minimal + "  driver: mysql\n",
		"bad kind":         "source:\n  kind: csv\nstore:\n  dsn: x\n",
		"bad level":        minimal + "log:\n  level: loud\n",
		"short lock ttl":   minimal + "lock:\n  redis_addr: localhost:6379\n  ttl: 1m\n",
		"token half set":   minimal + "http:\n  token_hash: abc\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestWorkbookSourceNeedsNoSpreadsheet(t *testing.T) {
	cfg, err := Load(writeFile(t, `
source:
  kind: workbook
  workbook: https://example.com/catalog.xlsx
store:
  driver: sqlite
  dsn: file:catalog.db
`))
	require.NoError(t, err)
	assert.Equal(t, "workbook", cfg.Source.Kind)
}
