// Package di provides dependency injection configuration for the sync daemon.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/addressbook-sync/internal/command"
	"github.com/listenupapp/addressbook-sync/internal/config"
	"github.com/listenupapp/addressbook-sync/internal/di/providers"
	"github.com/listenupapp/addressbook-sync/internal/logger"
	"github.com/listenupapp/addressbook-sync/internal/model"
	"github.com/listenupapp/addressbook-sync/internal/remote"
	"github.com/listenupapp/addressbook-sync/internal/service"
	"github.com/listenupapp/addressbook-sync/internal/validation"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)
	do.Provide(injector, providers.ProvideSSEManager)

	// Simulated remote
	do.Provide(injector, providers.ProvideBackend)
	do.Provide(injector, providers.ProvideQuotaTracker)
	do.Provide(injector, providers.ProvideSimulator)
	do.Provide(injector, providers.ProvideRemoteClient)

	// Local side
	do.Provide(injector, providers.ProvideLocalModel)
	do.Provide(injector, providers.ProvideRegistry)
	do.Provide(injector, providers.ProvideValidator)

	// Business services
	do.Provide(injector, providers.ProvideCommandManager)
	do.Provide(injector, providers.ProvidePersonService)
	do.Provide(injector, providers.ProvideSyncService)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services. Invoking the HTTP server last starts
// listening once everything it depends on is ready.
func Bootstrap(injector *do.RootScope) error {
	for _, invoke := range []func(do.Injector) error{
		invokeAs[*config.Config],
		invokeAs[*logger.Logger],
		invokeAs[*providers.SSEManagerHandle],
		invokeAs[*providers.BackendHandle],
		invokeAs[*providers.QuotaHandle],
		invokeAs[*providers.SimulatorHandle],
		invokeAs[*remote.Client],
		invokeAs[*model.AddressBook],
		invokeAs[*command.Registry],
		invokeAs[*validation.Validator],
		invokeAs[*providers.CommandManagerHandle],
		invokeAs[*service.PersonService],
		invokeAs[*providers.SyncServiceHandle],
		invokeAs[*providers.HTTPServerHandle],
	} {
		if err := invoke(injector); err != nil {
			return err
		}
	}
	return nil
}

func invokeAs[T any](i do.Injector) error {
	_, err := do.Invoke[T](i)
	return err
}
