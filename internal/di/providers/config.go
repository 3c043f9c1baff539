// Package providers contains dependency injection providers for the sync daemon.
package providers

import (
	"log/slog"
	"os"

	"github.com/samber/do/v2"

	"github.com/listenupapp/addressbook-sync/internal/config"
	"github.com/listenupapp/addressbook-sync/internal/logger"
)

// ProvideConfig provides the application configuration from the process
// arguments, environment and config files.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig(os.Args[1:])
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting address book sync",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"backend", cfg.Remote.Backend,
		"data_path", cfg.Remote.DataPath,
		"address_book", cfg.Remote.AddressBook,
	)

	return log, nil
}

// ProvideSlogLogger provides the underlying slog.Logger for packages that take one.
func ProvideSlogLogger(i do.Injector) (*slog.Logger, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return log.Logger, nil
}
