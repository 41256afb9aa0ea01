package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"axolotl/internal/domain"
)

// App bundles the services and infrastructure built from a Config.
type App struct {
	Config   Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	DB       domain.Transactor

	Identity  domain.IdentityStore
	Directory domain.BundleDirectory // nil when no directory is configured

	IDs      domain.IdentityService
	PreKeys  domain.PreKeyService
	Sessions domain.SessionService
	Messages domain.MessageService
}

// Self returns the configured local address.
func (a *App) Self() domain.Address {
	return domain.Address{
		Recipient: domain.RecipientID(a.Config.Self.Recipient),
		Device:    domain.DeviceID(a.Config.Self.Device),
	}
}

// Close releases the store and flushes the logger.
func (a *App) Close() error {
	err := a.DB.Close()
	_ = a.Logger.Sync()
	return err
}
