package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domainerrors "github.com/listenupapp/addressbook-sync/internal/errors"
)

// ErrSlotTaken is returned by Assign when a person already has an ongoing
// command. Callers are expected to wait first, so it signals a bug.
var ErrSlotTaken = errors.New("person already has an ongoing change")

// Registry maps a person id to its single ongoing command.
type Registry struct {
	mu      sync.Mutex
	ongoing map[int]*Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ongoing: make(map[int]*Command)}
}

// Assign registers cmd for personID.
func (r *Registry) Assign(personID int, cmd *Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ongoing[personID]; ok {
		return fmt.Errorf("assign person %d: %w", personID, ErrSlotTaken)
	}
	r.ongoing[personID] = cmd
	return nil
}

// Unassign removes the entry for personID, if any.
func (r *Registry) Unassign(personID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ongoing, personID)
}

// release removes the entry only if it still belongs to cmd.
func (r *Registry) release(personID int, cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ongoing[personID] == cmd {
		delete(r.ongoing, personID)
	}
}

// Get returns the ongoing command of personID.
func (r *Registry) Get(personID int) (*Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.ongoing[personID]
	return cmd, ok
}

// Len returns the number of persons with an ongoing command.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ongoing)
}

// WaitForCompletion blocks until the ongoing command of personID, if any,
// is terminal. An ended ctx yields a CodeInterrupted error.
func (r *Registry) WaitForCompletion(ctx context.Context, personID int) error {
	cmd, ok := r.Get(personID)
	if !ok {
		return nil
	}
	select {
	case <-cmd.Done():
		return nil
	case <-ctx.Done():
		return domainerrors.Wrapf(ctx.Err(), domainerrors.CodeInterrupted, "wait for change of person %d", personID)
	}
}

// Acquire waits until personID is free and assigns cmd, atomically with
// respect to other acquirers.
func (r *Registry) Acquire(ctx context.Context, personID int, cmd *Command) error {
	for {
		r.mu.Lock()
		cur, ok := r.ongoing[personID]
		if !ok {
			r.ongoing[personID] = cmd
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		select {
		case <-cur.Done():
		case <-ctx.Done():
			return domainerrors.Wrapf(ctx.Err(), domainerrors.CodeInterrupted, "wait for change of person %d", personID)
		}
	}
}

// IfIdle runs fn while no command can take personID's slot, provided no
// command holds it now. It reports whether fn ran.
func (r *Registry) IfIdle(personID int, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ongoing[personID]; ok {
		return false
	}
	fn()
	return true
}
