// Package remote simulates the address-book web service: an hourly request
// quota, paginated lists with fingerprint-based "not modified" answers,
// and CRUD over persons and tags persisted through a store.Backend.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	domainerrors "github.com/listenupapp/addressbook-sync/internal/errors"
	"github.com/listenupapp/addressbook-sync/internal/normalize"
	"github.com/listenupapp/addressbook-sync/internal/quota"
	"github.com/listenupapp/addressbook-sync/internal/store"
	"github.com/listenupapp/addressbook-sync/internal/validation"
)

// ListQuery selects a page of a list. ETag is the fingerprint the caller
// saw last time for the same query, if any.
type ListQuery struct {
	Page    int
	PerPage int
	ETag    string
}

// Simulator is the in-process remote. Every operation except
// RateLimitStatus is billed one quota unit up front; a "not modified" list
// answer is refunded. Operations on one collection run one at a time.
type Simulator struct {
	backend   store.Backend
	quota     *quota.Tracker
	cache     *ResponseCache
	validator *validation.Validator
	logger    *slog.Logger
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewSimulator creates a simulator over backend.
func NewSimulator(backend store.Backend, tracker *quota.Tracker, cache *ResponseCache, logger *slog.Logger) *Simulator {
	return &Simulator{
		backend:   backend,
		quota:     tracker,
		cache:     cache,
		validator: validation.New(),
		logger:    logger,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Simulator) lock(book string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[book]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[book] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// InvalidateCache forgets cached pages of book.
func (s *Simulator) InvalidateCache(book string) {
	if n := s.cache.Invalidate(book); n > 0 {
		s.logger.Debug("response cache invalidated", "address_book", book, "pages", n)
	}
}

// CreateAddressBook creates an empty collection. An existing collection is
// a bad request.
func (s *Simulator) CreateAddressBook(ctx context.Context, name string) *Response {
	if !s.quota.TryAcquire() {
		return s.forbidden("create address book", name)
	}
	unlock := s.lock(name)
	defer unlock()

	err := s.backend.CreateAddressBook(ctx, name)
	switch {
	case err == nil:
		return s.respond(StatusCreated, map[string]string{"name": name})
	case errors.Is(err, store.ErrAlreadyExists):
		return s.fail("create address book", name, StatusBadRequest, domainerrors.AlreadyExistsf("address book %q already exists", name))
	case errors.Is(err, store.ErrInvalidName):
		return s.fail("create address book", name, StatusBadRequest, domainerrors.Validationf("invalid address book name %q", name))
	default:
		return s.fail("create address book", name, StatusInternalError, domainerrors.Wrap(err, domainerrors.CodeInternal, "create address book"))
	}
}

// CreatePerson adds p with a fresh id. Tags it names that the catalogue
// lacks are added to the catalogue.
func (s *Simulator) CreatePerson(ctx context.Context, book string, p domain.Person) *Response {
	p = normalize.Person(p)
	return s.mutate(ctx, book, "create person", StatusCreated, func(ab *domain.AddressBook) (any, *domainerrors.Error) {
		if err := s.validate(p); err != nil {
			return nil, err
		}
		if clash := findByName(ab, &p, 0); clash != nil {
			return nil, domainerrors.AlreadyExistsf("person %s already exists with id %d", p.FullName(), clash.ID)
		}

		created := p.Clone()
		created.ID = ab.NextPersonID()
		created.Deleted = false
		if created.Tags == nil {
			created.Tags = []domain.Tag{}
		}
		created.Touch(s.now())
		ab.Persons = append(ab.Persons, created)
		mergeTags(ab, created.Tags)
		return created, nil
	})
}

// UpdatePerson replaces the editable fields of person id.
func (s *Simulator) UpdatePerson(ctx context.Context, book string, id int, p domain.Person) *Response {
	p = normalize.Person(p)
	return s.mutate(ctx, book, "update person", StatusOK, func(ab *domain.AddressBook) (any, *domainerrors.Error) {
		target := livePerson(ab, id)
		if target == nil {
			return nil, domainerrors.Validationf("no person with id %d", id)
		}
		if err := s.validate(p); err != nil {
			return nil, err
		}
		if clash := findByName(ab, &p, id); clash != nil {
			return nil, domainerrors.AlreadyExistsf("person %s already exists with id %d", p.FullName(), clash.ID)
		}

		target.ApplyEdit(p)
		if target.Tags == nil {
			target.Tags = []domain.Tag{}
		}
		target.Touch(s.now())
		mergeTags(ab, target.Tags)
		return target.Clone(), nil
	})
}

// DeletePerson soft-deletes person id.
func (s *Simulator) DeletePerson(ctx context.Context, book string, id int) *Response {
	return s.mutate(ctx, book, "delete person", StatusNoContent, func(ab *domain.AddressBook) (any, *domainerrors.Error) {
		target := livePerson(ab, id)
		if target == nil {
			return nil, domainerrors.Validationf("no person with id %d", id)
		}
		target.MarkDeleted(s.now())
		return nil, nil
	})
}

// CreateTag adds a tag to the catalogue.
func (s *Simulator) CreateTag(ctx context.Context, book string, tag domain.Tag) *Response {
	tag = normalize.Tag(tag)
	return s.mutate(ctx, book, "create tag", StatusCreated, func(ab *domain.AddressBook) (any, *domainerrors.Error) {
		if err := s.validate(tag); err != nil {
			return nil, err
		}
		if ab.TagIndex(tag.Name) >= 0 {
			return nil, domainerrors.AlreadyExistsf("tag %q already exists", tag.Name)
		}
		ab.Tags = append(ab.Tags, tag)
		return tag, nil
	})
}

// UpdateTag renames oldName to tag.Name in the catalogue and on every
// person holding it.
func (s *Simulator) UpdateTag(ctx context.Context, book, oldName string, tag domain.Tag) *Response {
	oldName, tag = normalize.Text(oldName), normalize.Tag(tag)
	return s.mutate(ctx, book, "update tag", StatusOK, func(ab *domain.AddressBook) (any, *domainerrors.Error) {
		if err := s.validate(tag); err != nil {
			return nil, err
		}
		idx := ab.TagIndex(oldName)
		if idx < 0 {
			return nil, domainerrors.Validationf("no tag named %q", oldName)
		}
		if tag.Name != oldName && ab.TagIndex(tag.Name) >= 0 {
			return nil, domainerrors.AlreadyExistsf("tag %q already exists", tag.Name)
		}

		ab.Tags[idx] = tag
		now := s.now()
		for i := range ab.Persons {
			p := &ab.Persons[i]
			if !p.HasTag(oldName) {
				continue
			}
			renamed := make([]domain.Tag, 0, len(p.Tags))
			for _, t := range p.Tags {
				if t.Name == oldName {
					t = tag
				}
				if !slices.Contains(renamed, t) {
					renamed = append(renamed, t)
				}
			}
			p.Tags = renamed
			p.Touch(now)
		}
		return tag, nil
	})
}

// DeleteTag removes a tag from the catalogue and from every person.
func (s *Simulator) DeleteTag(ctx context.Context, book, name string) *Response {
	name = normalize.Text(name)
	return s.mutate(ctx, book, "delete tag", StatusNoContent, func(ab *domain.AddressBook) (any, *domainerrors.Error) {
		idx := ab.TagIndex(name)
		if idx < 0 {
			return nil, domainerrors.Validationf("no tag named %q", name)
		}
		ab.Tags = slices.Delete(ab.Tags, idx, idx+1)

		now := s.now()
		for i := range ab.Persons {
			p := &ab.Persons[i]
			if !p.HasTag(name) {
				continue
			}
			p.Tags = slices.DeleteFunc(p.Tags, func(t domain.Tag) bool { return t.Name == name })
			p.Touch(now)
		}
		return nil, nil
	})
}

// ListPersons pages through persons that are not soft-deleted.
func (s *Simulator) ListPersons(ctx context.Context, book string, q ListQuery) *Response {
	return listPage(ctx, s, book, "list persons", "persons", q, func(ab *domain.AddressBook) []domain.Person {
		live := make([]domain.Person, 0, len(ab.Persons))
		for _, p := range ab.Persons {
			if !p.Deleted {
				live = append(live, p)
			}
		}
		return live
	})
}

// ListUpdatedPersons pages through persons changed at or after since,
// soft-deleted ones included so callers learn about deletions.
func (s *Simulator) ListUpdatedPersons(ctx context.Context, book string, since time.Time, q ListQuery) *Response {
	queryKey := "updated:" + since.UTC().Format(time.RFC3339Nano)
	return listPage(ctx, s, book, "list updated persons", queryKey, q, func(ab *domain.AddressBook) []domain.Person {
		updated := []domain.Person{}
		for _, p := range ab.Persons {
			if !p.LastUpdatedAt.Before(since) {
				updated = append(updated, p)
			}
		}
		return updated
	})
}

// ListTags pages through the tag catalogue.
func (s *Simulator) ListTags(ctx context.Context, book string, q ListQuery) *Response {
	return listPage(ctx, s, book, "list tags", "tags", q, func(ab *domain.AddressBook) []domain.Tag {
		return ab.Tags
	})
}

// RateLimitStatus reports the quota. It is never billed.
func (s *Simulator) RateLimitStatus() *Response {
	return s.respond(StatusOK, s.quota.Status())
}

func (s *Simulator) mutate(ctx context.Context, book, op string, success Status, fn func(*domain.AddressBook) (any, *domainerrors.Error)) *Response {
	if !s.quota.TryAcquire() {
		return s.forbidden(op, book)
	}
	unlock := s.lock(book)
	defer unlock()

	ab, failure := s.read(ctx, book, op)
	if failure != nil {
		return failure
	}

	result, err := fn(ab)
	if err != nil {
		return s.fail(op, book, StatusBadRequest, err)
	}

	ab.Revision++
	if err := s.backend.WriteAddressBook(ctx, ab); err != nil {
		return s.fail(op, book, StatusInternalError, domainerrors.Wrap(err, domainerrors.CodeInternal, "write address book"))
	}

	s.logger.Debug("remote operation applied", "op", op, "address_book", book, "revision", ab.Revision)
	return s.respond(success, result)
}

// listPage answers a list call. Exhaustion is checked up front without
// charging; the unit is taken only once the answer is known to be a full
// page or a failure, so a NOT_MODIFIED answer never holds quota.
func listPage[T any](ctx context.Context, s *Simulator, book, op, queryKey string, q ListQuery, items func(*domain.AddressBook) []T) *Response {
	if s.quota.Remaining() == 0 {
		return s.forbidden(op, book)
	}
	unlock := s.lock(book)
	defer unlock()

	ab, failure := s.read(ctx, book, op)
	if failure != nil {
		return s.charge(op, book, failure)
	}

	all := items(ab)
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	page := Paginate(len(all), perPage, q.Page)

	key := cacheKey{Book: book, Revision: ab.Revision, Query: fmt.Sprintf("%s|%d|%d", queryKey, page.Number, perPage)}
	entry, ok := s.cache.get(key)
	if !ok {
		body, err := json.Marshal(Slice(all, page))
		if err != nil {
			return s.charge(op, book, s.fail(op, book, StatusInternalError, domainerrors.Wrap(err, domainerrors.CodeInternal, "encode page")))
		}
		entry = cachedPage{Body: body, ETag: Fingerprint(body)}
		s.cache.add(key, entry)
	}

	if q.ETag != "" && q.ETag == entry.ETag {
		resp := newResponse(StatusNotModified, nil, s.quota.Status()).withPage(page)
		resp.ETag = entry.ETag
		return resp
	}

	if !s.quota.TryAcquire() {
		return s.forbidden(op, book)
	}
	resp := newResponse(StatusOK, entry.Body, s.quota.Status()).withPage(page)
	resp.ETag = entry.ETag
	return resp
}

// charge bills a failed list call. A window emptied meanwhile turns the
// failure into FORBIDDEN.
func (s *Simulator) charge(op, book string, failure *Response) *Response {
	if !s.quota.TryAcquire() {
		return s.forbidden(op, book)
	}
	failure.Quota = s.quota.Status()
	return failure
}

func (s *Simulator) read(ctx context.Context, book, op string) (*domain.AddressBook, *Response) {
	ab, err := s.backend.ReadAddressBook(ctx, book)
	switch {
	case err == nil:
		return ab, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, s.fail(op, book, StatusNotFound, domainerrors.NotFoundf("address book %q not found", book))
	case errors.Is(err, store.ErrInvalidName):
		return nil, s.fail(op, book, StatusBadRequest, domainerrors.Validationf("invalid address book name %q", book))
	default:
		return nil, s.fail(op, book, StatusInternalError, domainerrors.Wrap(err, domainerrors.CodeInternal, "read address book"))
	}
}

func (s *Simulator) validate(v any) *domainerrors.Error {
	err := s.validator.Validate(v)
	if err == nil {
		return nil
	}
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return domainerrors.Validation(err.Error())
}

func (s *Simulator) forbidden(op, book string) *Response {
	s.logger.Warn("remote quota exhausted", "op", op, "address_book", book)
	return s.errorResponse(StatusForbidden, domainerrors.QuotaExceeded("request quota exhausted for this window"))
}

func (s *Simulator) fail(op, book string, status Status, err *domainerrors.Error) *Response {
	if status == StatusInternalError {
		s.logger.Error("remote operation failed", "op", op, "address_book", book, "error", err)
	} else {
		s.logger.Debug("remote operation rejected", "op", op, "address_book", book, "status", status.String(), "reason", err.Message)
	}
	return s.errorResponse(status, err)
}

// errorResponse carries the coded error as the body so the client can tell
// a duplicate apart from a missing field.
func (s *Simulator) errorResponse(status Status, err *domainerrors.Error) *Response {
	body, _ := json.Marshal(domainerrors.Error{Code: err.Code, Message: err.Error(), Details: err.Details})
	return newResponse(status, body, s.quota.Status())
}

func (s *Simulator) respond(status Status, result any) *Response {
	if result == nil {
		return newResponse(status, nil, s.quota.Status())
	}
	body, err := json.Marshal(result)
	if err != nil {
		return s.errorResponse(StatusInternalError, domainerrors.Wrap(err, domainerrors.CodeInternal, "encode result"))
	}
	return newResponse(status, body, s.quota.Status())
}

func livePerson(ab *domain.AddressBook, id int) *domain.Person {
	idx := ab.PersonIndex(id)
	if idx < 0 || ab.Persons[idx].Deleted {
		return nil
	}
	return &ab.Persons[idx]
}

// findByName returns a live person other than exceptID sharing p's name.
func findByName(ab *domain.AddressBook, p *domain.Person, exceptID int) *domain.Person {
	for i := range ab.Persons {
		other := &ab.Persons[i]
		if other.Deleted || (exceptID != 0 && other.ID == exceptID) {
			continue
		}
		if other.SameName(p) {
			return other
		}
	}
	return nil
}

func mergeTags(ab *domain.AddressBook, tags []domain.Tag) {
	for _, t := range tags {
		if ab.TagIndex(t.Name) < 0 {
			ab.Tags = append(ab.Tags, t)
		}
	}
}
