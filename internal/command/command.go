// Package command implements the per-person change commands: an optimistic
// local edit or delete, a cancellable grace period, and propagation to the
// remote, with at most one live command per person.
package command

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	domainerrors "github.com/listenupapp/addressbook-sync/internal/errors"
	"github.com/listenupapp/addressbook-sync/internal/events"
	"github.com/listenupapp/addressbook-sync/internal/model"
)

// Command errors.
var (
	ErrNotCancellable = errors.New("command can no longer be cancelled")
	ErrNotRetryable   = errors.New("command cannot be retried in its current state")
	ErrShuttingDown   = errors.New("command manager is shutting down")
)

var errNoResult = domainerrors.Internal("remote returned no result")

// LocalStore is the local optimistic view the commands mutate.
type LocalStore interface {
	Person(id int) (domain.Person, bool)
	Put(p domain.Person)
	Remove(id int)
	SetPending(id int, change model.Change, secondsLeft int)
	ClearPending(id int)
}

// Remote propagates changes.
type Remote interface {
	UpdatePerson(ctx context.Context, id int, p domain.Person) (*domain.Person, error)
	DeletePerson(ctx context.Context, id int) error
}

// Kind selects the behaviour of a command.
type Kind int

// Command kinds.
const (
	KindEdit Kind = iota + 1
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindEdit:
		return "Edit"
	case KindDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// State is a command's position in its lifecycle.
type State int

// Command states.
const (
	StateCreated State = iota + 1
	StateLocalApplied
	StateCancelled
	StateRemoteRequested
	StateSucceeded
	StateFailed
)

var stateNames = map[State]string{
	StateCreated:         "Created",
	StateLocalApplied:    "LocalApplied",
	StateCancelled:       "Cancelled",
	StateRemoteRequested: "RemoteRequested",
	StateSucceeded:       "Succeeded",
	StateFailed:          "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateSucceeded || s == StateFailed
}

// Command drives one change of one person. Commands are created by a
// Manager; each runs on its own goroutine.
type Command struct {
	ID       string
	Kind     Kind
	PersonID int

	input    domain.Person
	baseline *domain.Person
	mgr      *Manager
	logger   *slog.Logger

	// ctx is cancelled by Cancel and by manager shutdown.
	ctx   context.Context
	abort context.CancelFunc
	done  chan struct{}

	mu              sync.Mutex
	state           State
	cancelRequested bool
	before          domain.Person
	after           domain.Person
	secondsLeft     int
	err             error
}

// State returns the current state.
func (c *Command) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Before returns the snapshot taken when the command applied its local change.
func (c *Command) Before() domain.Person {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.before.Clone()
}

// After returns the intended (or, after success, the remote) version. It is
// the zero Person for deletes.
func (c *Command) After() domain.Person {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.after.Clone()
}

// SecondsLeft returns the remaining grace period.
func (c *Command) SecondsLeft() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secondsLeft
}

// Err returns the failure of a Failed command.
func (c *Command) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the command is terminal and has released its slot.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the command is terminal.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the command during its grace period, reverting the local
// change. Once the remote call is dispatched it returns ErrNotCancellable.
func (c *Command) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked()
}

func (c *Command) cancelLocked() error {
	switch c.state {
	case StateCreated, StateLocalApplied:
		if !c.cancelRequested {
			c.cancelRequested = true
			c.abort()
		}
		return nil
	default:
		return ErrNotCancellable
	}
}

// RequestEdit handles a new edit for the same person: an edit supersedes a
// pending edit, a pending delete ignores it. The returned command is the
// one that now carries the user's intent.
func (c *Command) RequestEdit(input domain.Person) (*Command, error) {
	return opsFor(c.Kind).onEdit(c, input)
}

// RequestDelete handles a delete for the same person: it replaces a pending
// edit and is a no-op on a pending delete.
func (c *Command) RequestDelete() (*Command, error) {
	return opsFor(c.Kind).onDelete(c)
}

// Retry restarts the command. A command still counting down is cancelled
// and replaced by a fresh one of the same kind; a failed command stays
// failed and a new one is started from its before snapshot.
func (c *Command) Retry() (*Command, error) {
	c.mu.Lock()
	switch c.state {
	case StateFailed:
		before := c.before.Clone()
		c.mu.Unlock()
		return c.mgr.launch(c.Kind, c.PersonID, c.input, &before)
	case StateCreated, StateLocalApplied:
		_ = c.cancelLocked()
		c.mu.Unlock()
		return c.mgr.launch(c.Kind, c.PersonID, c.input, c.baseline)
	default:
		c.mu.Unlock()
		return nil, ErrNotRetryable
	}
}

// ResolveConflict is the hook for merging a concurrent remote change.
// Merging is not implemented; the call is logged and has no effect.
func (c *Command) ResolveConflict() error {
	c.logger.Warn("conflict resolution requested but not implemented")
	return nil
}

// RemoteConflictData returns the remote version that conflicts with this
// command. Always nil.
func (c *Command) RemoteConflictData() *domain.Person {
	return nil
}

// supersede cancels c if it has not reached the remote yet and launches the
// replacement. A replacement of a dispatched command waits for it.
func (c *Command) supersede(kind Kind, input domain.Person) (*Command, error) {
	c.mu.Lock()
	_ = c.cancelLocked()
	c.mu.Unlock()
	return c.mgr.launch(kind, c.PersonID, input, nil)
}

func (c *Command) run() {
	defer close(c.done)
	ops := opsFor(c.Kind)

	if err := c.mgr.registry.Acquire(c.ctx, c.PersonID, c); err != nil {
		c.mu.Lock()
		userCancelled := c.cancelRequested
		c.mu.Unlock()
		if !userCancelled {
			c.logger.Warn("wait for ongoing change interrupted", "error", err)
		}
		c.describe()
		c.finish(StateCancelled, nil, false)
		return
	}

	before, ok := c.startingPoint()
	if !ok {
		c.finish(StateFailed, domainerrors.NotFoundf("person %d not found locally", c.PersonID), true)
		return
	}

	c.mu.Lock()
	if c.cancelRequested {
		c.mu.Unlock()
		c.finish(StateCancelled, nil, true)
		return
	}
	c.before = before
	ops.simulate(c)
	c.state = StateLocalApplied
	c.mu.Unlock()

	if !c.countdown(ops.pending) {
		c.revert(ops)
		c.finish(StateCancelled, nil, true)
		return
	}

	c.mu.Lock()
	if c.cancelRequested {
		c.mu.Unlock()
		c.revert(ops)
		c.finish(StateCancelled, nil, true)
		return
	}
	c.state = StateRemoteRequested
	c.mu.Unlock()

	c.logger.Debug("grace period elapsed, sending to remote")

	// The dispatched call finishes even if the manager shuts down meanwhile.
	result, err := ops.request(context.WithoutCancel(c.ctx), c)
	if err != nil {
		c.revert(ops)
		c.finish(StateFailed, err, true)
		return
	}

	c.mu.Lock()
	ops.reconcile(c, result)
	c.mu.Unlock()
	c.finish(StateSucceeded, nil, true)
}

// startingPoint is the version the command changes: its baseline when
// retried, otherwise the local record.
func (c *Command) startingPoint() (domain.Person, bool) {
	if c.baseline != nil {
		return c.baseline.Clone(), true
	}
	return c.mgr.local.Person(c.PersonID)
}

// describe fills the snapshots of a command that never got its slot, so
// its CommandFinished still names the person.
func (c *Command) describe() {
	before, ok := c.startingPoint()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.before = before
	if c.Kind == KindEdit {
		c.after = before.Clone()
		c.after.ApplyEdit(c.input)
	}
}

// countdown ticks the grace period down. It returns false when cancelled.
func (c *Command) countdown(pending model.Change) bool {
	grace := c.mgr.cfg.GracePeriod
	for left := grace; left > 0; left-- {
		c.setSecondsLeft(pending, left)
		c.mgr.emitter.Emit(events.GraceTick{
			CommandID:   c.ID,
			Kind:        c.Kind.String(),
			PersonID:    c.PersonID,
			SecondsLeft: left,
		})

		select {
		case <-c.mgr.clock.After(c.mgr.cfg.TickInterval):
		case <-c.ctx.Done():
			return false
		}
	}
	c.setSecondsLeft(pending, 0)
	return true
}

func (c *Command) setSecondsLeft(pending model.Change, left int) {
	c.mu.Lock()
	c.secondsLeft = left
	c.mu.Unlock()
	c.mgr.local.SetPending(c.PersonID, pending, left)
}

func (c *Command) revert(ops kindOps) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops.revert(c)
	c.mgr.local.ClearPending(c.PersonID)
}

// finish enters a terminal state, publishes CommandFinished and, when held,
// releases the person's slot.
func (c *Command) finish(state State, err error, holdsSlot bool) {
	c.mu.Lock()
	c.state = state
	c.err = err
	c.secondsLeft = 0
	nameBefore := c.before.FullName()
	nameAfter := nameBefore
	if c.Kind == KindEdit && c.after.FullName() != "" {
		nameAfter = c.after.FullName()
	}
	c.mu.Unlock()

	finished := events.CommandFinished{
		CommandID:  c.ID,
		Kind:       c.Kind.String(),
		Status:     state.String(),
		PersonID:   c.PersonID,
		NameBefore: nameBefore,
		NameAfter:  nameAfter,
	}
	switch state {
	case StateFailed:
		finished.Reason = err.Error()
		c.logger.Warn("change failed", "error", err, "recoverable", domainerrors.CodeOf(err).Recoverable())
	case StateSucceeded:
		c.logger.Info("change applied")
	default:
		c.logger.Debug("change cancelled")
	}
	c.mgr.emitter.Emit(finished)

	if holdsSlot {
		c.mgr.registry.release(c.PersonID, c)
	}
	if state == StateSucceeded && c.Kind == KindDelete {
		c.mgr.forget(c)
	}
	c.abort()
}
