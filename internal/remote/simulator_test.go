package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	domainerrors "github.com/listenupapp/addressbook-sync/internal/errors"
	"github.com/listenupapp/addressbook-sync/internal/logger"
	"github.com/listenupapp/addressbook-sync/internal/quota"
	"github.com/listenupapp/addressbook-sync/internal/store"
	"github.com/listenupapp/addressbook-sync/internal/store/jsonfile"
	"github.com/listenupapp/addressbook-sync/internal/store/mocks"
)

const book = "friends"

func newTestSimulator(t *testing.T, ceiling int) (*Simulator, *quota.Tracker) {
	t.Helper()
	backend, err := jsonfile.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	return newSimulatorOver(t, backend, ceiling)
}

func newSimulatorOver(t *testing.T, backend store.Backend, ceiling int) (*Simulator, *quota.Tracker) {
	t.Helper()
	cache, err := NewResponseCache(64)
	require.NoError(t, err)
	tracker := quota.New(ceiling, time.Hour)
	return NewSimulator(backend, tracker, cache, logger.Discard()), tracker
}

func mustCreateBook(t *testing.T, sim *Simulator) {
	t.Helper()
	require.Equal(t, StatusCreated, sim.CreateAddressBook(context.Background(), book).Status)
}

func decodeBody[T any](t *testing.T, resp *Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Body, &v))
	return v
}

func TestSimulator_CreatePersonInEmptyBook(t *testing.T) {
	sim, tracker := newTestSimulator(t, 6)
	mustCreateBook(t, sim)
	require.Equal(t, 5, tracker.Remaining())

	resp := sim.CreatePerson(context.Background(), book, domain.Person{FirstName: "Ann", LastName: "Lee"})

	require.Equal(t, StatusCreated, resp.Status)
	assert.Equal(t, 4, tracker.Remaining())
	assert.Equal(t, 4, resp.Quota.Remaining)

	created := decodeBody[domain.Person](t, resp)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, "Ann Lee", created.FullName())
	assert.False(t, created.LastUpdatedAt.IsZero())
}

func TestSimulator_QuotaExhaustion(t *testing.T) {
	sim, tracker := newTestSimulator(t, 3)
	mustCreateBook(t, sim)
	ctx := context.Background()

	assert.Equal(t, StatusOK, sim.ListTags(ctx, book, ListQuery{}).Status)
	assert.Equal(t, StatusOK, sim.ListPersons(ctx, book, ListQuery{}).Status)
	assert.Equal(t, 0, tracker.Remaining())

	resp := sim.CreatePerson(ctx, book, domain.Person{FirstName: "Ann", LastName: "Lee"})
	assert.Equal(t, StatusForbidden, resp.Status)
	assert.Equal(t, 0, tracker.Remaining())
	assert.Equal(t, domainerrors.CodeQuotaExceeded, decodeBody[domainerrors.Error](t, resp).Code)

	// The rejected create did nothing.
	tracker.ResetWindow()
	list := sim.ListPersons(ctx, book, ListQuery{})
	assert.Empty(t, decodeBody[[]domain.Person](t, list))

	status := sim.RateLimitStatus()
	assert.Equal(t, StatusOK, status.Status)
	assert.Equal(t, 2, decodeBody[quota.Status](t, status).Remaining, "status queries are free")
}

func TestSimulator_FailuresStillConsumeQuota(t *testing.T) {
	sim, tracker := newTestSimulator(t, 10)
	mustCreateBook(t, sim)
	ctx := context.Background()

	resp := sim.CreatePerson(ctx, book, domain.Person{FirstName: "Ann"})
	assert.Equal(t, StatusBadRequest, resp.Status)
	assert.Equal(t, 8, tracker.Remaining())

	resp = sim.UpdatePerson(ctx, "nobody", 1, domain.Person{FirstName: "Ann", LastName: "Lee"})
	assert.Equal(t, StatusNotFound, resp.Status)
	assert.Equal(t, 7, tracker.Remaining())
}

func TestSimulator_Validation(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	ctx := context.Background()

	require.Equal(t, StatusCreated, sim.CreatePerson(ctx, book, domain.Person{FirstName: "Ann", LastName: "Lee"}).Status)
	require.Equal(t, StatusCreated, sim.CreateTag(ctx, book, domain.Tag{Name: "work"}).Status)

	tests := []struct {
		name     string
		call     func() *Response
		wantCode domainerrors.Code
	}{
		{name: "missing last name", call: func() *Response {
			return sim.CreatePerson(ctx, book, domain.Person{FirstName: "Bo"})
		}, wantCode: domainerrors.CodeValidation},
		{name: "duplicate person", call: func() *Response {
			return sim.CreatePerson(ctx, book, domain.Person{FirstName: "Ann", LastName: "Lee"})
		}, wantCode: domainerrors.CodeAlreadyExists},
		{name: "update unknown id", call: func() *Response {
			return sim.UpdatePerson(ctx, book, 42, domain.Person{FirstName: "X", LastName: "Y"})
		}, wantCode: domainerrors.CodeValidation},
		{name: "delete unknown id", call: func() *Response {
			return sim.DeletePerson(ctx, book, 42)
		}, wantCode: domainerrors.CodeValidation},
		{name: "blank tag", call: func() *Response {
			return sim.CreateTag(ctx, book, domain.Tag{Name: ""})
		}, wantCode: domainerrors.CodeValidation},
		{name: "duplicate tag", call: func() *Response {
			return sim.CreateTag(ctx, book, domain.Tag{Name: "work"})
		}, wantCode: domainerrors.CodeAlreadyExists},
		{name: "rename unknown tag", call: func() *Response {
			return sim.UpdateTag(ctx, book, "nope", domain.Tag{Name: "x"})
		}, wantCode: domainerrors.CodeValidation},
		{name: "delete unknown tag", call: func() *Response {
			return sim.DeleteTag(ctx, book, "nope")
		}, wantCode: domainerrors.CodeValidation},
		{name: "existing address book", call: func() *Response {
			return sim.CreateAddressBook(ctx, book)
		}, wantCode: domainerrors.CodeAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.call()
			require.Equal(t, StatusBadRequest, resp.Status)
			assert.Equal(t, tt.wantCode, decodeBody[domainerrors.Error](t, resp).Code)
		})
	}

	persons := decodeBody[[]domain.Person](t, sim.ListPersons(ctx, book, ListQuery{}))
	assert.Len(t, persons, 1, "rejected calls must not mutate")
	tags := decodeBody[[]domain.Tag](t, sim.ListTags(ctx, book, ListQuery{}))
	assert.Equal(t, []domain.Tag{{Name: "work"}}, tags)
}

func TestSimulator_UpdatePersonMergesTags(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	ctx := context.Background()

	require.Equal(t, StatusCreated, sim.CreateTag(ctx, book, domain.Tag{Name: "work"}).Status)
	require.Equal(t, StatusCreated, sim.CreatePerson(ctx, book, domain.Person{FirstName: "Ann", LastName: "Lee"}).Status)

	resp := sim.UpdatePerson(ctx, book, 1, domain.Person{
		FirstName: "Ann", LastName: "Lee", City: "Paris",
		Tags: []domain.Tag{{Name: "work"}, {Name: "climbing"}},
	})
	require.Equal(t, StatusOK, resp.Status)
	updated := decodeBody[domain.Person](t, resp)
	assert.Equal(t, "Paris", updated.City)
	assert.Equal(t, 1, updated.ID)

	tags := decodeBody[[]domain.Tag](t, sim.ListTags(ctx, book, ListQuery{}))
	assert.Equal(t, []string{"work", "climbing"}, domain.TagNames(tags))
}

func seedTagged(t *testing.T, sim *Simulator) {
	t.Helper()
	ctx := context.Background()
	require.Equal(t, StatusCreated, sim.CreateTag(ctx, book, domain.Tag{Name: "climbing"}).Status)
	for _, name := range []string{"Ann", "Bo", "Cy"} {
		resp := sim.CreatePerson(ctx, book, domain.Person{
			FirstName: name, LastName: "Lee",
			Tags: []domain.Tag{{Name: "climbing"}, {Name: "friends"}},
		})
		require.Equal(t, StatusCreated, resp.Status)
	}
	require.Equal(t, StatusCreated, sim.CreatePerson(ctx, book, domain.Person{FirstName: "Di", LastName: "Ng"}).Status)
}

func TestSimulator_RenameTagPropagates(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	seedTagged(t, sim)
	ctx := context.Background()

	resp := sim.UpdateTag(ctx, book, "climbing", domain.Tag{Name: "bouldering"})
	require.Equal(t, StatusOK, resp.Status)

	persons := decodeBody[[]domain.Person](t, sim.ListPersons(ctx, book, ListQuery{}))
	renamed := 0
	for _, p := range persons {
		assert.False(t, p.HasTag("climbing"), p.FullName())
		if p.HasTag("bouldering") {
			renamed++
			assert.Equal(t, []string{"bouldering", "friends"}, domain.TagNames(p.Tags), "order kept")
		}
	}
	assert.Equal(t, 3, renamed)

	tags := decodeBody[[]domain.Tag](t, sim.ListTags(ctx, book, ListQuery{}))
	assert.Equal(t, []string{"bouldering", "friends"}, domain.TagNames(tags))
}

func TestSimulator_RenameTagEdgeCases(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	seedTagged(t, sim)
	ctx := context.Background()

	same := sim.UpdateTag(ctx, book, "climbing", domain.Tag{Name: "climbing"})
	assert.Equal(t, StatusOK, same.Status, "renaming to the same name is allowed")

	onto := sim.UpdateTag(ctx, book, "climbing", domain.Tag{Name: "friends"})
	require.Equal(t, StatusBadRequest, onto.Status)
	assert.Equal(t, domainerrors.CodeAlreadyExists, decodeBody[domainerrors.Error](t, onto).Code)

	persons := decodeBody[[]domain.Person](t, sim.ListPersons(ctx, book, ListQuery{}))
	assert.Equal(t, []string{"climbing", "friends"}, domain.TagNames(persons[0].Tags))
}

func TestSimulator_DeleteTagDetaches(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	seedTagged(t, sim)
	ctx := context.Background()

	require.Equal(t, StatusNoContent, sim.DeleteTag(ctx, book, "climbing").Status)

	persons := decodeBody[[]domain.Person](t, sim.ListPersons(ctx, book, ListQuery{}))
	require.Len(t, persons, 4)
	for _, p := range persons {
		assert.False(t, p.HasTag("climbing"), p.FullName())
	}
	tags := decodeBody[[]domain.Tag](t, sim.ListTags(ctx, book, ListQuery{}))
	assert.Equal(t, []string{"friends"}, domain.TagNames(tags))
}

func TestSimulator_SoftDelete(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sim.now = func() time.Time { return base }
	require.Equal(t, StatusCreated, sim.CreatePerson(ctx, book, domain.Person{FirstName: "Ann", LastName: "Lee"}).Status)
	require.Equal(t, StatusCreated, sim.CreatePerson(ctx, book, domain.Person{FirstName: "Bo", LastName: "Tan"}).Status)

	sim.now = func() time.Time { return base.Add(time.Hour) }
	require.Equal(t, StatusNoContent, sim.DeletePerson(ctx, book, 1).Status)

	live := decodeBody[[]domain.Person](t, sim.ListPersons(ctx, book, ListQuery{}))
	require.Len(t, live, 1)
	assert.Equal(t, 2, live[0].ID)

	updated := decodeBody[[]domain.Person](t, sim.ListUpdatedPersons(ctx, book, base.Add(time.Hour), ListQuery{}))
	require.Len(t, updated, 1)
	assert.Equal(t, 1, updated[0].ID)
	assert.True(t, updated[0].Deleted)

	assert.Equal(t, StatusBadRequest, sim.DeletePerson(ctx, book, 1).Status, "already deleted")
	assert.Equal(t, StatusBadRequest, sim.UpdatePerson(ctx, book, 1, domain.Person{FirstName: "A", LastName: "B"}).Status)

	// A deleted person's name is free again and ids are never reused.
	resp := sim.CreatePerson(ctx, book, domain.Person{FirstName: "Ann", LastName: "Lee"})
	require.Equal(t, StatusCreated, resp.Status)
	assert.Equal(t, 3, decodeBody[domain.Person](t, resp).ID)
}

func TestSimulator_UpdatedSinceIsInclusive(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	ctx := context.Background()

	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sim.now = func() time.Time { return stamp }
	require.Equal(t, StatusCreated, sim.CreatePerson(ctx, book, domain.Person{FirstName: "Ann", LastName: "Lee"}).Status)

	exact := decodeBody[[]domain.Person](t, sim.ListUpdatedPersons(ctx, book, stamp, ListQuery{}))
	assert.Len(t, exact, 1)

	later := decodeBody[[]domain.Person](t, sim.ListUpdatedPersons(ctx, book, stamp.Add(time.Nanosecond), ListQuery{}))
	assert.Empty(t, later)
}

func TestSimulator_Pagination(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C", "D", "E"} {
		require.Equal(t, StatusCreated, sim.CreatePerson(ctx, book, domain.Person{FirstName: name, LastName: "Lee"}).Status)
	}

	first := sim.ListPersons(ctx, book, ListQuery{Page: 1, PerPage: 2})
	assert.Equal(t, 1, first.FirstPage)
	assert.Equal(t, NoPage, first.PrevPage)
	assert.Equal(t, 2, first.NextPage)
	assert.Equal(t, 3, first.LastPage)
	assert.Len(t, decodeBody[[]domain.Person](t, first), 2)

	last := sim.ListPersons(ctx, book, ListQuery{Page: 3, PerPage: 2})
	assert.Equal(t, 2, last.PrevPage)
	assert.Equal(t, NoPage, last.NextPage)
	persons := decodeBody[[]domain.Person](t, last)
	require.Len(t, persons, 1)
	assert.Equal(t, "E", persons[0].FirstName)

	beyond := sim.ListPersons(ctx, book, ListQuery{Page: 7, PerPage: 2})
	assert.Equal(t, StatusOK, beyond.Status)
	assert.Equal(t, NoPage, beyond.FirstPage)
	assert.Equal(t, NoPage, beyond.PrevPage)
	assert.Equal(t, NoPage, beyond.NextPage)
	assert.Equal(t, NoPage, beyond.LastPage)
	assert.Empty(t, decodeBody[[]domain.Person](t, beyond))
}

func TestSimulator_NotModifiedIsFree(t *testing.T) {
	sim, tracker := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	ctx := context.Background()
	require.Equal(t, StatusCreated, sim.CreateTag(ctx, book, domain.Tag{Name: "work"}).Status)

	first := sim.ListTags(ctx, book, ListQuery{})
	require.Equal(t, StatusOK, first.Status)
	require.NotEmpty(t, first.ETag)
	before := tracker.Remaining()

	again := sim.ListTags(ctx, book, ListQuery{ETag: first.ETag})
	assert.Equal(t, StatusNotModified, again.Status)
	assert.Empty(t, again.Body)
	assert.Equal(t, first.ETag, again.ETag)
	assert.Equal(t, before, tracker.Remaining())

	stale := sim.ListTags(ctx, book, ListQuery{ETag: "0000000000000000"})
	assert.Equal(t, StatusOK, stale.Status)
	assert.Equal(t, before-1, tracker.Remaining())

	require.Equal(t, StatusCreated, sim.CreateTag(ctx, book, domain.Tag{Name: "home"}).Status)
	changed := sim.ListTags(ctx, book, ListQuery{ETag: first.ETag})
	assert.Equal(t, StatusOK, changed.Status)
	assert.NotEqual(t, first.ETag, changed.ETag)
}

func TestSimulator_NotModifiedAfterInvalidate(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	ctx := context.Background()

	first := sim.ListPersons(ctx, book, ListQuery{})
	require.Equal(t, 1, sim.cache.Len())

	sim.InvalidateCache(book)
	assert.Equal(t, 0, sim.cache.Len())

	again := sim.ListPersons(ctx, book, ListQuery{ETag: first.ETag})
	assert.Equal(t, StatusNotModified, again.Status, "same content hashes to the same fingerprint")
}

func TestSimulator_MissingBook(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)

	resp := sim.ListPersons(context.Background(), "nobody", ListQuery{})
	assert.Equal(t, StatusNotFound, resp.Status)
	assert.Equal(t, domainerrors.CodeNotFound, decodeBody[domainerrors.Error](t, resp).Code)
}

func TestSimulator_BackendFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("read conversion error", func(t *testing.T) {
		backend := &mocks.Backend{}
		backend.On("ReadAddressBook", mock.Anything, book).Return(nil, store.ErrConversion.WithCause(errors.New("bad json")))
		sim, tracker := newSimulatorOver(t, backend, 5)

		resp := sim.ListTags(ctx, book, ListQuery{})
		assert.Equal(t, StatusInternalError, resp.Status)
		assert.Equal(t, 4, tracker.Remaining())
		backend.AssertExpectations(t)
	})

	t.Run("write failure leaves no partial state", func(t *testing.T) {
		backend := &mocks.Backend{}
		backend.On("ReadAddressBook", mock.Anything, book).Return(domain.NewAddressBook(book), nil)
		backend.On("WriteAddressBook", mock.Anything, mock.AnythingOfType("*domain.AddressBook")).Return(errors.New("disk full"))
		sim, tracker := newSimulatorOver(t, backend, 5)

		resp := sim.CreateTag(ctx, book, domain.Tag{Name: "work"})
		assert.Equal(t, StatusInternalError, resp.Status)
		assert.Equal(t, 4, tracker.Remaining())
		assert.Equal(t, domainerrors.CodeInternal, decodeBody[domainerrors.Error](t, resp).Code)
		backend.AssertExpectations(t)
	})

	t.Run("create io failure", func(t *testing.T) {
		backend := &mocks.Backend{}
		backend.On("CreateAddressBook", mock.Anything, book).Return(errors.New("permission denied"))
		sim, _ := newSimulatorOver(t, backend, 5)

		assert.Equal(t, StatusInternalError, sim.CreateAddressBook(ctx, book).Status)
	})
}

func TestSimulator_ConcurrentCreatesGetDistinctIDs(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	ctx := context.Background()

	const n = 10
	ids := make(chan int, n)
	for i := range n {
		go func() {
			resp := sim.CreatePerson(ctx, book, domain.Person{FirstName: "P", LastName: string(rune('a' + i))})
			if resp.Status != StatusCreated {
				ids <- -1
				return
			}
			var p domain.Person
			if err := json.Unmarshal(resp.Body, &p); err != nil {
				ids <- -1
				return
			}
			ids <- p.ID
		}()
	}

	seen := make(map[int]bool)
	for range n {
		id := <-ids
		require.Positive(t, id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestSimulator_NormalizesInput(t *testing.T) {
	sim, _ := newTestSimulator(t, 100)
	mustCreateBook(t, sim)
	ctx := context.Background()

	resp := sim.CreatePerson(ctx, book, domain.Person{FirstName: "  Zoë ", LastName: "Lee", Tags: []domain.Tag{{Name: " work"}, {Name: "work "}}})
	require.Equal(t, StatusCreated, resp.Status)
	created := decodeBody[domain.Person](t, resp)
	assert.Equal(t, "Zoë", created.FirstName)
	assert.Equal(t, []domain.Tag{{Name: "work"}}, created.Tags)

	dup := sim.CreatePerson(ctx, book, domain.Person{FirstName: "Zoë", LastName: " Lee"})
	require.Equal(t, StatusBadRequest, dup.Status)
	assert.Equal(t, domainerrors.CodeAlreadyExists, decodeBody[domainerrors.Error](t, dup).Code)

	require.Equal(t, StatusCreated, sim.CreateTag(ctx, book, domain.Tag{Name: " family  "}).Status)
	tags := decodeBody[[]domain.Tag](t, sim.ListTags(ctx, book, ListQuery{}))
	assert.Contains(t, tags, domain.Tag{Name: "family"})
}

// gatedBackend holds reads of one address book while armed.
type gatedBackend struct {
	store.Backend
	book    string
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) ReadAddressBook(ctx context.Context, name string) (*domain.AddressBook, error) {
	if name == g.book && g.armed.Load() {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Backend.ReadAddressBook(ctx, name)
}

func TestSimulator_NotModifiedHoldsNoQuota(t *testing.T) {
	files, err := jsonfile.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { files.Close() })
	backend := &gatedBackend{Backend: files, book: "a", entered: make(chan struct{}), release: make(chan struct{})}

	sim, tracker := newSimulatorOver(t, backend, 4)
	ctx := context.Background()
	require.Equal(t, StatusCreated, sim.CreateAddressBook(ctx, "a").Status)
	require.Equal(t, StatusCreated, sim.CreateAddressBook(ctx, "b").Status)

	first := sim.ListTags(ctx, "a", ListQuery{})
	require.Equal(t, StatusOK, first.Status)
	require.Equal(t, 1, tracker.Remaining())

	backend.armed.Store(true)
	conditional := make(chan *Response, 1)
	go func() {
		conditional <- sim.ListTags(ctx, "a", ListQuery{ETag: first.ETag})
	}()
	<-backend.entered

	created := sim.CreatePerson(ctx, "b", domain.Person{FirstName: "Ann", LastName: "Lee"})
	assert.Equal(t, StatusCreated, created.Status, "the last unit is still available to other books")

	close(backend.release)
	assert.Equal(t, StatusNotModified, (<-conditional).Status)
	assert.Equal(t, 0, tracker.Remaining())

	backend.armed.Store(false)
	assert.Equal(t, StatusForbidden, sim.ListTags(ctx, "a", ListQuery{ETag: first.ETag}).Status)
	assert.Equal(t, 0, tracker.Remaining())
}
