package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axolotl/internal/app"
	"axolotl/internal/protocol/ratchet"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := app.LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, app.BackendBadger, cfg.Store.Backend)
	assert.Equal(t, uint32(1), cfg.Self.Device)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ratchet.DefaultPolicy(), cfg.Ratchet.Policy())
	assert.Equal(t, filepath.Join(cfg.Home, "sessions"), cfg.StorePath())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "axolotl.yaml")
	content := `
home: /tmp/axolotl-test
self:
  recipient: "+14155550100"
  device: 3
directory:
  url: http://127.0.0.1:8080
store:
  backend: sqlite
log:
  format: json
ratchet:
  max_skipped_keys: 64
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("AXOLOTL_STORE_BACKEND", "memory")
	t.Setenv("AXOLOTL_RATCHET_MAX_CHAIN_GAP", "32")
	t.Setenv("AXOLOTL_LOG_LEVEL", "debug")

	cfg, err := app.LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/axolotl-test", cfg.Home)
	assert.Equal(t, "+14155550100", cfg.Self.Recipient)
	assert.Equal(t, uint32(3), cfg.Self.Device)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Directory.URL)
	assert.Equal(t, app.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ratchet.Policy{MaxSkippedKeys: 64, MaxChainGap: 32}, cfg.Ratchet.Policy())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := app.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := app.LoadConfig("")
	require.NoError(t, err)

	bad := cfg
	bad.Store.Backend = "postgres"
	bad.Ratchet.MaxSkippedKeys = 0
	bad.Self.Device = 0
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
	assert.Contains(t, err.Error(), "max_skipped_keys")
	assert.Contains(t, err.Error(), "self.device")

	tooMany := cfg
	tooMany.Ratchet.MaxSkippedKeys = ratchet.MaxSkippedKeysLimit + 1
	err = tooMany.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_skipped_keys")

	sqlite := cfg
	sqlite.Store.Backend = app.BackendSQLite
	assert.Equal(t, filepath.Join(cfg.Home, "sessions.db"), sqlite.StorePath())
}

func TestForDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "axolotl.yaml")
	content := `
home: /tmp/axolotl-test
store:
  backend: sqlite
  path: /tmp/client.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := app.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/client.db", cfg.StorePath())
	assert.Equal(t, filepath.Join("/tmp/axolotl-test", "directory.db"), cfg.ForDirectory().StorePath())

	t.Setenv("AXOLOTL_DIRECTORY_STORE_PATH", "/tmp/directory.db")
	cfg, err = app.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/directory.db", cfg.ForDirectory().StorePath())
	assert.Equal(t, "/tmp/client.db", cfg.StorePath())
}
