package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/addressbook-sync/internal/config"
	"github.com/listenupapp/addressbook-sync/internal/logger"
	"github.com/listenupapp/addressbook-sync/internal/quota"
	"github.com/listenupapp/addressbook-sync/internal/remote"
)

// QuotaHandle wraps the quota tracker with its reset schedule.
type QuotaHandle struct {
	*quota.Tracker
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *QuotaHandle) Shutdown() error {
	h.cancel()
	h.Stop()
	return nil
}

// ProvideQuotaTracker provides the remote's request allowance and starts
// its window resets.
func ProvideQuotaTracker(i do.Injector) (*QuotaHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	tracker := quota.New(cfg.Remote.QuotaCeiling, cfg.Remote.QuotaWindow)
	ctx, cancel := context.WithCancel(context.Background())
	tracker.Start(ctx)

	return &QuotaHandle{Tracker: tracker, cancel: cancel}, nil
}

// SimulatorHandle wraps the simulator and the file watch feeding its cache.
type SimulatorHandle struct {
	*remote.Simulator
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SimulatorHandle) Shutdown() error {
	h.cancel()
	return nil
}

// ProvideSimulator provides the simulated remote. With the file backend,
// external edits of a collection file invalidate its cached pages.
func ProvideSimulator(i do.Injector) (*SimulatorHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	backend := do.MustInvoke[*BackendHandle](i)
	tracker := do.MustInvoke[*QuotaHandle](i)

	cache, err := remote.NewResponseCache(cfg.Remote.CacheSize)
	if err != nil {
		return nil, err
	}
	sim := remote.NewSimulator(backend.Backend, tracker.Tracker, cache, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	if backend.Watcher != nil {
		if err := backend.Watcher.Watch(ctx, sim.InvalidateCache); err != nil {
			log.Warn("Collection files will not be watched", "error", err)
		}
	}

	return &SimulatorHandle{Simulator: sim, cancel: cancel}, nil
}

// ProvideRemoteClient provides the client bound to the configured address book.
func ProvideRemoteClient(i do.Injector) (*remote.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	sim := do.MustInvoke[*SimulatorHandle](i)
	return remote.NewClient(sim.Simulator, cfg.Remote.AddressBook), nil
}
