// Package model holds the local, optimistic view of the active address book.
// Change commands write to it while they own a person's slot; the sync
// service writes to it for persons without an ongoing change.
package model

import (
	"slices"
	"sync"
	"time"

	"github.com/listenupapp/addressbook-sync/internal/domain"
)

// Change marks a person with a change that is waiting for its grace period.
type Change string

// Pending change markers.
const (
	ChangeNone     Change = ""
	ChangeEditing  Change = "editing"
	ChangeDeleting Change = "deleting"
)

// Entry is a person plus its pending marker.
type Entry struct {
	Person      domain.Person `json:"person"`
	Pending     Change        `json:"pending,omitempty"`
	SecondsLeft int           `json:"seconds_left,omitempty"`
}

// AddressBook is the in-memory local model. It is safe for concurrent use.
type AddressBook struct {
	mu       sync.RWMutex
	name     string
	entries  map[int]*Entry
	tags     []domain.Tag
	lastSync time.Time

	// removed remembers when each person left the model.
	removed map[int]time.Time
	now     func() time.Time
}

// New creates an empty local model bound to the named remote collection.
// An empty name means no address book is active.
func New(name string) *AddressBook {
	return &AddressBook{
		name:    name,
		entries: make(map[int]*Entry),
		tags:    []domain.Tag{},
		removed: make(map[int]time.Time),
		now:     time.Now,
	}
}

// Name returns the active collection, or "".
func (ab *AddressBook) Name() string {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.name
}

// Activate switches the active collection and clears the model.
func (ab *AddressBook) Activate(name string) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.name = name
	ab.entries = make(map[int]*Entry)
	ab.tags = []domain.Tag{}
	ab.lastSync = time.Time{}
	ab.removed = make(map[int]time.Time)
}

// Person returns a copy of person id.
func (ab *AddressBook) Person(id int) (domain.Person, bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	e, ok := ab.entries[id]
	if !ok {
		return domain.Person{}, false
	}
	return e.Person.Clone(), true
}

// Entry returns a copy of the entry for person id.
func (ab *AddressBook) Entry(id int) (Entry, bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	e, ok := ab.entries[id]
	if !ok {
		return Entry{}, false
	}
	c := *e
	c.Person = e.Person.Clone()
	return c, true
}

// Put adds or replaces a person, keeping any pending marker.
func (ab *AddressBook) Put(p domain.Person) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if e, ok := ab.entries[p.ID]; ok {
		e.Person = p.Clone()
		return
	}
	ab.entries[p.ID] = &Entry{Person: p.Clone()}
}

// Remove drops person id and its marker.
func (ab *AddressBook) Remove(id int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	delete(ab.entries, id)
	ab.removed[id] = ab.now()
}

// Stale reports whether p is older than what the model holds: the local
// copy was updated after p, or the person was removed after p was last
// updated.
func (ab *AddressBook) Stale(p domain.Person) bool {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	if e, ok := ab.entries[p.ID]; ok {
		return e.Person.LastUpdatedAt.After(p.LastUpdatedAt)
	}
	if at, ok := ab.removed[p.ID]; ok {
		return at.After(p.LastUpdatedAt)
	}
	return false
}

// ForgetRemovedBefore drops removal marks older than t. Remote reads that
// started after t already reflect those removals.
func (ab *AddressBook) ForgetRemovedBefore(t time.Time) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for id, at := range ab.removed {
		if at.Before(t) {
			delete(ab.removed, id)
		}
	}
}

// SetPending marks person id. Unknown ids are ignored.
func (ab *AddressBook) SetPending(id int, change Change, secondsLeft int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if e, ok := ab.entries[id]; ok {
		e.Pending = change
		e.SecondsLeft = secondsLeft
	}
}

// ClearPending removes the marker of person id.
func (ab *AddressBook) ClearPending(id int) {
	ab.SetPending(id, ChangeNone, 0)
}

// Entries returns every entry ordered by person id.
func (ab *AddressBook) Entries() []Entry {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	out := make([]Entry, 0, len(ab.entries))
	for _, e := range ab.entries {
		c := *e
		c.Person = e.Person.Clone()
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Entry) int { return a.Person.ID - b.Person.ID })
	return out
}

// Len returns the number of persons.
func (ab *AddressBook) Len() int {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return len(ab.entries)
}

// Tags returns the tag catalogue.
func (ab *AddressBook) Tags() []domain.Tag {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return slices.Clone(ab.tags)
}

// SetTags replaces the tag catalogue.
func (ab *AddressBook) SetTags(tags []domain.Tag) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.tags = slices.Clone(tags)
	if ab.tags == nil {
		ab.tags = []domain.Tag{}
	}
}

// LastSync is when the last successful pull started.
func (ab *AddressBook) LastSync() time.Time {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.lastSync
}

// SetLastSync records the start of a successful pull.
func (ab *AddressBook) SetLastSync(t time.Time) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.lastSync = t
}
