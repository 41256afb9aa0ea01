package app

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"axolotl/internal/protocol/ratchet"
)

// EnvPrefix prefixes environment overrides, e.g. AXOLOTL_STORE_BACKEND.
const EnvPrefix = "AXOLOTL_"

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home      string          `koanf:"home"` // config directory, e.g. $HOME/.axolotl
	Self      SelfConfig      `koanf:"self"`
	Directory DirectoryConfig `koanf:"directory"`
	Store     StoreConfig     `koanf:"store"`
	Log       LogConfig       `koanf:"log"`
	Ratchet   RatchetConfig   `koanf:"ratchet"`

	HTTP *http.Client `koanf:"-"` // optional; defaults to http.DefaultClient
}

// SelfConfig is the local address stamped on outgoing envelopes.
type SelfConfig struct {
	Recipient string `koanf:"recipient"`
	Device    uint32 `koanf:"device"`
}

// DirectoryConfig locates the bundle directory.
type DirectoryConfig struct {
	URL string `koanf:"url"` // e.g. http://127.0.0.1:8080; empty disables it
	// StorePath is where the directory server keeps registrations. It is
	// separate from store.path so a client and a server can share one
	// config file and home.
	StorePath string `koanf:"store_path"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend string `koanf:"backend"`
	// Path defaults to a backend-specific location under Home.
	Path string `koanf:"path"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RatchetConfig bounds the work an untrusted message can cause.
type RatchetConfig struct {
	MaxSkippedKeys int    `koanf:"max_skipped_keys"`
	MaxChainGap    uint32 `koanf:"max_chain_gap"`
}

// Policy returns the ratchet policy described by c.
func (c RatchetConfig) Policy() ratchet.Policy {
	return ratchet.Policy{MaxSkippedKeys: c.MaxSkippedKeys, MaxChainGap: c.MaxChainGap}
}

// defaults are loaded before the file and environment. Maps are nested
// because koanf only unflattens dotted keys for parsed sources.
func defaults() map[string]any {
	home := ".axolotl"
	if dir, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(dir, ".axolotl")
	}
	return map[string]any{
		"home":  home,
		"self":  map[string]any{"device": 1},
		"store": map[string]any{"backend": BackendBadger},
		"log":   map[string]any{"level": "info", "format": "console"},
		"ratchet": map[string]any{
			"max_skipped_keys": ratchet.DefaultMaxSkippedKeys,
			"max_chain_gap":    ratchet.DefaultMaxChainGap,
		},
	}
}

// LoadConfig reads defaults, then the YAML file at path if it is non-empty,
// then AXOLOTL_ environment variables. Later sources win.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	// AXOLOTL_RATCHET_MAX_SKIPPED_KEYS -> ratchet.max_skipped_keys: only the
	// first underscore separates the section from the key.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the app cannot be built from.
func (c Config) Validate() error {
	var errs []error
	if c.Home == "" {
		errs = append(errs, errors.New("home is required"))
	}
	switch c.Store.Backend {
	case BackendMemory, BackendBadger, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want memory, badger or sqlite", c.Store.Backend))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	if c.Ratchet.MaxSkippedKeys <= 0 || c.Ratchet.MaxSkippedKeys > ratchet.MaxSkippedKeysLimit {
		errs = append(errs, fmt.Errorf("ratchet.max_skipped_keys must be in [1, %d], got %d",
			ratchet.MaxSkippedKeysLimit, c.Ratchet.MaxSkippedKeys))
	}
	if c.Ratchet.MaxChainGap == 0 {
		errs = append(errs, errors.New("ratchet.max_chain_gap must be positive"))
	}
	if c.Self.Device == 0 {
		errs = append(errs, errors.New("self.device must be positive"))
	}
	return errors.Join(errs...)
}

// StorePath returns the configured store path or the backend default.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Backend {
	case BackendSQLite:
		return filepath.Join(c.Home, "sessions.db")
	default:
		return filepath.Join(c.Home, "sessions")
	}
}

// ForDirectory returns c with the store pointed at the directory server's
// own path: directory.store_path, or a backend default under Home.
func (c Config) ForDirectory() Config {
	out := c
	out.Store.Path = c.Directory.StorePath
	if out.Store.Path == "" {
		name := "directory"
		if c.Store.Backend == BackendSQLite {
			name = "directory.db"
		}
		out.Store.Path = filepath.Join(c.Home, name)
	}
	return out
}

// mapProvider is a koanf provider over an in-memory map.
type mapProvider map[string]any

// ReadBytes is not supported; koanf uses Read.
func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("app: map provider does not support ReadBytes")
}

// Read returns the map.
func (m mapProvider) Read() (map[string]any, error) { return m, nil }
