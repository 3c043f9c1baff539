package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/listenupapp/addressbook-sync/internal/command"
	"github.com/listenupapp/addressbook-sync/internal/config"
	"github.com/listenupapp/addressbook-sync/internal/logger"
	"github.com/listenupapp/addressbook-sync/internal/model"
	"github.com/listenupapp/addressbook-sync/internal/ratelimit"
	"github.com/listenupapp/addressbook-sync/internal/remote"
	"github.com/listenupapp/addressbook-sync/internal/service"
	"github.com/listenupapp/addressbook-sync/internal/validation"
)

// shutdownTimeout bounds each handle's Shutdown. The command manager is the
// slowest: it waits for changes already sent to the remote to come back.
const shutdownTimeout = 30 * time.Second

// ProvideLocalModel provides the in-memory local address book. It stays
// inactive until the person service bootstraps it.
func ProvideLocalModel(i do.Injector) (*model.AddressBook, error) {
	return model.New(""), nil
}

// ProvideRegistry provides the ongoing-change registry.
func ProvideRegistry(i do.Injector) (*command.Registry, error) {
	return command.NewRegistry(), nil
}

// ProvideValidator provides the shared validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// CommandManagerHandle wraps the command manager with shutdown capability.
type CommandManagerHandle struct {
	*command.Manager
}

// Shutdown implements do.Shutdownable.
func (h *CommandManagerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideCommandManager provides the change command manager.
func ProvideCommandManager(i do.Injector) (*CommandManagerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	client := do.MustInvoke[*remote.Client](i)
	local := do.MustInvoke[*model.AddressBook](i)
	registry := do.MustInvoke[*command.Registry](i)

	mgr := command.NewManager(command.Config{
		GracePeriod:  cfg.Commands.GracePeriod,
		TickInterval: cfg.Commands.TickInterval,
	}, registry, local, client, sseHandle.Manager, log.Logger)

	return &CommandManagerHandle{Manager: mgr}, nil
}

// ProvidePersonService provides the person service and makes sure the
// configured address book exists.
func ProvidePersonService(i do.Injector) (*service.PersonService, error) {
	log := do.MustInvoke[*logger.Logger](i)
	client := do.MustInvoke[*remote.Client](i)
	local := do.MustInvoke[*model.AddressBook](i)
	validator := do.MustInvoke[*validation.Validator](i)

	svc := service.NewPersonService(client, local, validator, log.Logger)
	if err := svc.Bootstrap(context.Background()); err != nil {
		return nil, err
	}
	return svc, nil
}

// SyncServiceHandle wraps the sync service with its outbound limiter.
type SyncServiceHandle struct {
	*service.SyncService
	limiter *ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *SyncServiceHandle) Shutdown() error {
	defer h.limiter.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.SyncService.Shutdown(ctx)
}

// ProvideSyncService provides the sync service and schedules it when enabled.
func ProvideSyncService(i do.Injector) (*SyncServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	client := do.MustInvoke[*remote.Client](i)
	local := do.MustInvoke[*model.AddressBook](i)
	registry := do.MustInvoke[*command.Registry](i)
	// The address book must be active before the first pull.
	_ = do.MustInvoke[*service.PersonService](i)

	limiter := ratelimit.New(cfg.Sync.RequestsPerSecond, 1)
	svc := service.NewSyncService(service.SyncConfig{
		Schedule:          cfg.Sync.Schedule,
		PageSize:          cfg.Sync.PageSize,
		RequestsPerSecond: cfg.Sync.RequestsPerSecond,
		Attempts:          cfg.Sync.Attempts,
		RetryDelay:        500 * time.Millisecond,
	}, client, local, registry, limiter, sseHandle.Manager, log.Logger)

	if cfg.Sync.Enabled {
		if err := svc.UpdatePeriodically(context.Background()); err != nil {
			limiter.Stop()
			return nil, err
		}
	} else {
		log.Info("Periodic sync disabled by configuration")
	}

	return &SyncServiceHandle{SyncService: svc, limiter: limiter}, nil
}
