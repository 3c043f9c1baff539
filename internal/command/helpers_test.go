package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	"github.com/listenupapp/addressbook-sync/internal/events"
	"github.com/listenupapp/addressbook-sync/internal/logger"
	"github.com/listenupapp/addressbook-sync/internal/model"
)

const waitTimeout = 2 * time.Second

// manualClock hands out one tick per Tick call.
type manualClock struct {
	ch chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{ch: make(chan time.Time)}
}

func (c *manualClock) After(time.Duration) <-chan time.Time {
	return c.ch
}

func (c *manualClock) Tick(t *testing.T) {
	t.Helper()
	select {
	case c.ch <- time.Now():
	case <-time.After(waitTimeout):
		t.Fatal("no command waiting for a tick")
	}
}

// fakeRemote records calls and tracks how many run at once per person.
type fakeRemote struct {
	mu          sync.Mutex
	updates     []domain.Person
	deletes     []int
	err         error
	gate        chan struct{}
	entered     chan int
	inFlight    map[int]int
	maxInFlight map[int]int
	delay       time.Duration
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{inFlight: make(map[int]int), maxInFlight: make(map[int]int)}
}

func (f *fakeRemote) enter(id int) error {
	f.mu.Lock()
	f.inFlight[id]++
	f.maxInFlight[id] = max(f.maxInFlight[id], f.inFlight[id])
	gate, entered, delay, err := f.gate, f.entered, f.delay, f.err
	f.mu.Unlock()

	if entered != nil {
		entered <- id
	}
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeRemote) leave(id int) {
	f.mu.Lock()
	f.inFlight[id]--
	f.mu.Unlock()
}

func (f *fakeRemote) UpdatePerson(_ context.Context, id int, p domain.Person) (*domain.Person, error) {
	defer f.leave(id)
	if err := f.enter(id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = id
	p.LastUpdatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.updates = append(f.updates, p.Clone())
	return &p, nil
}

func (f *fakeRemote) DeletePerson(_ context.Context, id int) error {
	defer f.leave(id)
	if err := f.enter(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeRemote) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRemote) Updates() []domain.Person {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Person(nil), f.updates...)
}

func (f *fakeRemote) Deletes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.deletes...)
}

type harness struct {
	mgr    *Manager
	local  *model.AddressBook
	remote *fakeRemote
	rec    *events.Recorder
	clock  *manualClock
}

func ann() domain.Person {
	return domain.Person{ID: 1, FirstName: "Ann", LastName: "Lee", City: "Berlin", Tags: []domain.Tag{{Name: "work"}}}
}

func newHarness(t *testing.T, grace int) *harness {
	t.Helper()
	h := &harness{
		local:  model.New("friends"),
		remote: newFakeRemote(),
		rec:    events.NewRecorder(),
		clock:  newManualClock(),
	}
	h.local.Put(ann())
	h.local.Put(domain.Person{ID: 2, FirstName: "Bo", LastName: "Tan"})

	h.mgr = NewManager(Config{GracePeriod: grace, TickInterval: time.Second}, NewRegistry(), h.local, h.remote, h.rec, logger.Discard())
	h.mgr.clock = h.clock
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		require.NoError(t, h.mgr.Shutdown(ctx))
	})
	return h
}

func withCity(p domain.Person, city string) domain.Person {
	p.City = city
	return p
}

// waitForEvent blocks until a recorded event of type T satisfies match.
func waitForEvent[T any](t *testing.T, rec *events.Recorder, match func(T) bool) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		for _, e := range events.Of[T](rec) {
			if match(e) {
				return e
			}
		}
		select {
		case <-rec.Changed():
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func waitForTick(t *testing.T, rec *events.Recorder, commandID string, secondsLeft int) {
	t.Helper()
	waitForEvent(t, rec, func(e events.GraceTick) bool {
		return e.CommandID == commandID && e.SecondsLeft == secondsLeft
	})
}

func waitDone(t *testing.T, c *Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, c.Wait(ctx), "command %s did not finish", c.ID)
}

func finishedFor(rec *events.Recorder, commandID string) []events.CommandFinished {
	var out []events.CommandFinished
	for _, e := range events.Of[events.CommandFinished](rec) {
		if e.CommandID == commandID {
			out = append(out, e)
		}
	}
	return out
}
