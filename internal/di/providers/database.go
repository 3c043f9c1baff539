package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/listenupapp/addressbook-sync/internal/config"
	"github.com/listenupapp/addressbook-sync/internal/logger"
	"github.com/listenupapp/addressbook-sync/internal/sse"
	"github.com/listenupapp/addressbook-sync/internal/store"
	"github.com/listenupapp/addressbook-sync/internal/store/jsonfile"
	"github.com/listenupapp/addressbook-sync/internal/store/sqlite"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// BackendHandle wraps the persistence backend of the simulated remote.
type BackendHandle struct {
	store.Backend
	// Watcher is set for the file backend, whose files may be edited by hand.
	Watcher *jsonfile.Store
}

// Shutdown implements do.Shutdownable.
func (h *BackendHandle) Shutdown() error {
	return h.Close()
}

// ProvideBackend opens the configured backend under the data path.
func ProvideBackend(i do.Injector) (*BackendHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Remote.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data path: %w", err)
	}

	switch cfg.Remote.Backend {
	case config.BackendBadger:
		path := filepath.Join(cfg.Remote.DataPath, "badger")
		db, err := store.New(path, log.Logger)
		if err != nil {
			return nil, err
		}
		return &BackendHandle{Backend: db}, nil

	case config.BackendSQLite:
		path := filepath.Join(cfg.Remote.DataPath, "addressbooks.db")
		db, err := sqlite.Open(path, log.Logger)
		if err != nil {
			return nil, err
		}
		log.Info("SQLite backend opened", "path", path)
		return &BackendHandle{Backend: db}, nil

	default:
		files, err := jsonfile.Open(cfg.Remote.DataPath, log.Logger)
		if err != nil {
			return nil, err
		}
		log.Info("File backend opened", "path", cfg.Remote.DataPath)
		return &BackendHandle{Backend: files, Watcher: files}, nil
	}
}
