package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	domainerrors "github.com/listenupapp/addressbook-sync/internal/errors"
	"github.com/listenupapp/addressbook-sync/internal/events"
	"github.com/listenupapp/addressbook-sync/internal/id"
)

// Config holds the grace-period settings.
type Config struct {
	// GracePeriod is the number of ticks before a change is sent.
	GracePeriod  int
	TickInterval time.Duration
}

type clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Manager creates change commands and routes follow-up requests for a
// person to its newest live command.
type Manager struct {
	cfg      Config
	registry *Registry
	local    LocalStore
	remote   Remote
	emitter  events.Emitter
	logger   *slog.Logger
	clock    clock

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	latest map[int]*Command
}

// NewManager creates a manager. The registry is shared with the sync
// service so it can skip persons with an ongoing change.
func NewManager(cfg Config, registry *Registry, local LocalStore, remote Remote, emitter events.Emitter, logger *slog.Logger) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		registry: registry,
		local:    local,
		remote:   remote,
		emitter:  emitter,
		logger:   logger,
		clock:    realClock{},
		ctx:      ctx,
		stop:     stop,
		latest:   make(map[int]*Command),
	}
}

// Registry returns the ongoing-change registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Edit requests an edit of person personID with the editable fields of input.
func (m *Manager) Edit(personID int, input domain.Person) (*Command, error) {
	if cur, ok := m.Ongoing(personID); ok {
		return cur.RequestEdit(input)
	}
	if _, ok := m.local.Person(personID); !ok {
		return nil, domainerrors.NotFoundf("person %d not found", personID)
	}
	return m.launch(KindEdit, personID, input, nil)
}

// Delete requests deletion of person personID.
func (m *Manager) Delete(personID int) (*Command, error) {
	if cur, ok := m.Ongoing(personID); ok {
		return cur.RequestDelete()
	}
	if _, ok := m.local.Person(personID); !ok {
		return nil, domainerrors.NotFoundf("person %d not found", personID)
	}
	return m.launch(KindDelete, personID, domain.Person{}, nil)
}

// Cancel cancels the live command of personID.
func (m *Manager) Cancel(personID int) error {
	cur, ok := m.Ongoing(personID)
	if !ok {
		return domainerrors.NotFoundf("no pending change for person %d", personID)
	}
	if err := cur.Cancel(); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeConflict, "cancel change")
	}
	return nil
}

// Retry retries the newest command of personID.
func (m *Manager) Retry(personID int) (*Command, error) {
	cur, ok := m.Latest(personID)
	if !ok {
		return nil, domainerrors.NotFoundf("no change to retry for person %d", personID)
	}
	next, err := cur.Retry()
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeConflict, "retry change")
	}
	return next, nil
}

// Latest returns the most recently started command of personID.
func (m *Manager) Latest(personID int) (*Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.latest[personID]
	return cmd, ok
}

// Ongoing returns the newest command of personID that is not terminal.
func (m *Manager) Ongoing(personID int) (*Command, bool) {
	cmd, ok := m.Latest(personID)
	if !ok || cmd.State().Terminal() {
		return nil, false
	}
	return cmd, true
}

// forget drops c from the per-person history if nothing newer replaced it.
// A deleted person has no further changes to report or retry.
func (m *Manager) forget(c *Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest[c.PersonID] == c {
		delete(m.latest, c.PersonID)
	}
}

func (m *Manager) launch(kind Kind, personID int, input domain.Person, baseline *domain.Person) (*Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domainerrors.Wrap(ErrShuttingDown, domainerrors.CodeUnavailable, "start change")
	}

	ctx, abort := context.WithCancel(m.ctx)
	c := &Command{
		ID:       id.Command(),
		Kind:     kind,
		PersonID: personID,
		input:    input.Clone(),
		baseline: baseline,
		mgr:      m,
		ctx:      ctx,
		abort:    abort,
		done:     make(chan struct{}),
		state:    StateCreated,
	}
	c.logger = m.logger.With("command_id", c.ID, "kind", kind.String(), "person_id", personID)
	m.latest[personID] = c

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run()
	}()

	c.logger.Debug("change started")
	return c, nil
}

// Shutdown cancels every command still in its grace period and waits for
// dispatched ones to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
