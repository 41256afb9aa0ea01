package app

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"axolotl/internal/directory"
	"axolotl/internal/domain"
	"axolotl/internal/locks"
	"axolotl/internal/logging"
	"axolotl/internal/metrics"
	"axolotl/internal/protocol/cipher"
	"axolotl/internal/protocol/ratchet"
	identitysvc "axolotl/internal/services/identity"
	messagesvc "axolotl/internal/services/message"
	prekeysvc "axolotl/internal/services/prekey"
	sessionsvc "axolotl/internal/services/session"
	"axolotl/internal/store"
	"axolotl/internal/store/badgerkv"
	"axolotl/internal/store/memory"
	"axolotl/internal/store/sqlitekv"
)

// New validates cfg and constructs the dependency graph from it.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	db, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	tx := metrics.Instrument(db, m)

	// Ensure an HTTP client is available for outbound calls
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	var dir domain.BundleDirectory
	if cfg.Directory.URL != "" {
		dir = directory.NewClient(cfg.Directory.URL, httpClient)
	}

	// Stores
	identityStore := store.NewIdentityFileStore(cfg.Home)
	sessionStore := store.NewSessionStore()
	prekeyStore := store.NewPreKeyStore()
	trustStore := store.NewTrustStore()

	// Protocol
	c := cipher.New(ratchet.NewEngine(ratchet.WithPolicy(cfg.Ratchet.Policy())))
	table := locks.New()

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Registry:  reg,
		DB:        tx,
		Identity:  identityStore,
		Directory: dir,
	}
	a.IDs = identitysvc.New(identityStore, logger)
	a.PreKeys = prekeysvc.New(identityStore, tx, prekeyStore, dir, logger)
	a.Sessions = sessionsvc.New(sessionsvc.Deps{
		Identities: identityStore,
		DB:         tx,
		Sessions:   sessionStore,
		Trust:      trustStore,
		Directory:  dir,
		Cipher:     c,
		Locks:      table,
		Metrics:    m,
		Logger:     logger,
	})
	a.Messages = messagesvc.New(messagesvc.Deps{
		Self:       a.Self(),
		Identities: identityStore,
		DB:         tx,
		Sessions:   sessionStore,
		PreKeys:    prekeyStore,
		Trust:      trustStore,
		Cipher:     c,
		Locks:      table,
		Metrics:    m,
		Logger:     logger,
	})
	return a, nil
}

// OpenStore opens the key-value backend selected by cfg.Store.
func OpenStore(cfg Config, logger *zap.Logger) (domain.Transactor, error) {
	switch cfg.Store.Backend {
	case BackendMemory:
		return memory.New(), nil
	case BackendBadger:
		return badgerkv.Open(badgerkv.Config{Dir: cfg.StorePath(), SyncWrites: true}, logger)
	case BackendSQLite:
		return sqlitekv.Open(cfg.StorePath(), logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
