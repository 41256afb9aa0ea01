package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"axolotl/internal/app"
	"axolotl/internal/directory"
	"axolotl/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		backend    string
		storePath  string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:          "directory",
		Short:        "Serve prekey bundles over HTTP",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("store") {
				cfg.Store.Backend = backend
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("store-path") {
				cfg.Directory.StorePath = storePath
			}
			cfg = cfg.ForDirectory()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Store.Backend != app.BackendMemory {
				if err := os.MkdirAll(filepath.Dir(cfg.StorePath()), 0o700); err != nil {
					return err
				}
			}
			db, err := app.OpenStore(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, listen, directory.NewServer(directory.NewRegistry(db, logger), logger), logger)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVarP(&listen, "listen", "l", ":8080", "listen address")
	f.StringVar(&backend, "store", "", "store backend: memory, badger or sqlite")
	f.StringVar(&storePath, "store-path", "", "store path (default directory.store_path, then <home>/directory)")
	f.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	return cmd
}

// serve runs the server until ctx is cancelled, then drains in-flight
// requests.
func serve(ctx context.Context, addr string, s *directory.Server, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("directory listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("directory shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
