package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"axolotl/internal/app"
	"axolotl/internal/domain"
)

var (
	configPath string
	passphrase string
	appCtx     *app.App

	overrides struct {
		home      string
		directory string
		backend   string
		recipient string
		device    uint32
		logLevel  string
	}
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "axolotl",
		Short:         "End-to-end encrypted session management",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			applyOverrides(cmd, &cfg)
			appCtx, err = app.New(cfg)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			return appCtx.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity")
	pf.StringVar(&overrides.home, "home", "", "config dir (default ~/.axolotl)")
	pf.StringVar(&overrides.directory, "directory", "", "directory base URL (e.g. http://127.0.0.1:8080)")
	pf.StringVar(&overrides.backend, "store", "", "store backend: memory, badger or sqlite")
	pf.StringVar(&overrides.recipient, "as", "", "your recipient id")
	pf.Uint32Var(&overrides.device, "device", 0, "your device id")
	pf.StringVar(&overrides.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		bundleCmd(),
		startSessionCmd(),
		encryptCmd(),
		decryptCmd(),
		sessionsCmd(),
		resetCmd(),
		deleteCmd(),
		metricsCmd(),
	)
	return root.Execute()
}

// applyOverrides lets explicitly set flags win over every other source.
func applyOverrides(cmd *cobra.Command, cfg *app.Config) {
	flags := cmd.Flags()
	if flags.Changed("home") {
		cfg.Home = overrides.home
	}
	if flags.Changed("directory") {
		cfg.Directory.URL = overrides.directory
	}
	if flags.Changed("store") {
		cfg.Store.Backend = overrides.backend
	}
	if flags.Changed("as") {
		cfg.Self.Recipient = overrides.recipient
	}
	if flags.Changed("device") {
		cfg.Self.Device = overrides.device
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = overrides.logLevel
	}
}

func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	return nil
}

// peerArgs parses "<recipient> [device]"; the device defaults to 1.
func peerArgs(args []string) (domain.Address, error) {
	addr := domain.Address{Recipient: domain.RecipientID(args[0]), Device: 1}
	if len(args) > 1 {
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil || n == 0 {
			return domain.Address{}, fmt.Errorf("bad device id %q", args[1])
		}
		addr.Device = domain.DeviceID(n)
	}
	return addr, nil
}

// openInput returns the named file, or stdin for "" and "-".
func openInput(name string) (io.ReadCloser, error) {
	if name == "" || name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}

// createOutput returns the named file, or stdout for "" and "-".
func createOutput(name string) (io.WriteCloser, error) {
	if name == "" || name == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
