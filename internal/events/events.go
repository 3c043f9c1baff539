// Package events defines the lifecycle notifications the change commands and
// the sync service publish, and the sink they publish them through.
package events

import (
	"sync"
)

// Emitter publishes events. Implementations must not block the caller for
// long; commands emit from their own goroutine while holding a record slot.
type Emitter interface {
	Emit(event any)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(any) {}

// CommandFinished is published exactly once per change command, when it
// reaches a terminal state. NameAfter equals NameBefore for deletes.
type CommandFinished struct {
	CommandID  string `json:"command_id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	PersonID   int    `json:"person_id"`
	NameBefore string `json:"name_before"`
	NameAfter  string `json:"name_after"`
	Reason     string `json:"reason,omitempty"`
}

// GraceTick reports the seconds left before a pending change is sent.
type GraceTick struct {
	CommandID   string `json:"command_id"`
	Kind        string `json:"kind"`
	PersonID    int    `json:"person_id"`
	SecondsLeft int    `json:"seconds_left"`
}

// SyncStarted marks the start of a pull from the remote.
type SyncStarted struct {
	RunID string `json:"run_id"`
}

// SyncCompleted marks a pull that applied every update.
type SyncCompleted struct {
	RunID   string `json:"run_id"`
	Persons int    `json:"persons"`
	Tags    int    `json:"tags"`
}

// SyncFailed carries the reason a pull stopped.
type SyncFailed struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

// SyncUpdate reports one finished stage of a pull.
type SyncUpdate struct {
	RunID       string `json:"run_id"`
	Items       int    `json:"items"`
	Description string `json:"description"`
}

// Recorder keeps every emitted event in order. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []any
	notify chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Emit implements Emitter.
func (r *Recorder) Emit(event any) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Of returns the recorded events of type T.
func Of[T any](r *Recorder) []T {
	var out []T
	for _, e := range r.Events() {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Changed is signalled after an Emit. Waiters should re-check the recorded
// events since signals coalesce.
func (r *Recorder) Changed() <-chan struct{} {
	return r.notify
}

// Fanout emits every event to each of its emitters in order.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(event any) {
	for _, e := range f {
		e.Emit(event)
	}
}
