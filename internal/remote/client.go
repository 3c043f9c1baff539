package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	domainerrors "github.com/listenupapp/addressbook-sync/internal/errors"
	"github.com/listenupapp/addressbook-sync/internal/quota"
)

// ListResult is a decoded list page. Items is nil when NotModified.
type ListResult[T any] struct {
	Items       []T
	NotModified bool
	ETag        string
	Page        int
	NextPage    int
	LastPage    int
	Quota       quota.Status
}

// Client talks to the simulator on behalf of one address book and turns
// responses into typed results and coded errors.
type Client struct {
	sim  *Simulator
	book string
}

// NewClient binds a client to book.
func NewClient(sim *Simulator, book string) *Client {
	return &Client{sim: sim, book: book}
}

// AddressBook returns the bound collection name.
func (c *Client) AddressBook() string {
	return c.book
}

// EnsureAddressBook creates the bound collection unless it already exists.
func (c *Client) EnsureAddressBook(ctx context.Context) error {
	resp := c.sim.CreateAddressBook(ctx, c.book)
	err := expect(resp, "create address book", StatusCreated)
	if domainerrors.Is(err, domainerrors.ErrAlreadyExists) {
		return nil
	}
	return err
}

// CreatePerson creates p remotely and returns it with its assigned id.
func (c *Client) CreatePerson(ctx context.Context, p domain.Person) (*domain.Person, error) {
	resp := c.sim.CreatePerson(ctx, c.book, p)
	if err := expect(resp, "create person", StatusCreated); err != nil {
		return nil, err
	}
	return decode[domain.Person](resp, "create person")
}

// UpdatePerson sends the edited fields of person id.
func (c *Client) UpdatePerson(ctx context.Context, id int, p domain.Person) (*domain.Person, error) {
	resp := c.sim.UpdatePerson(ctx, c.book, id, p)
	if err := expect(resp, "update person", StatusOK); err != nil {
		return nil, err
	}
	return decode[domain.Person](resp, "update person")
}

// DeletePerson deletes person id.
func (c *Client) DeletePerson(ctx context.Context, id int) error {
	return expect(c.sim.DeletePerson(ctx, c.book, id), "delete person", StatusNoContent)
}

// CreateTag adds a tag to the catalogue.
func (c *Client) CreateTag(ctx context.Context, tag domain.Tag) (*domain.Tag, error) {
	resp := c.sim.CreateTag(ctx, c.book, tag)
	if err := expect(resp, "create tag", StatusCreated); err != nil {
		return nil, err
	}
	return decode[domain.Tag](resp, "create tag")
}

// RenameTag renames oldName everywhere.
func (c *Client) RenameTag(ctx context.Context, oldName, newName string) (*domain.Tag, error) {
	resp := c.sim.UpdateTag(ctx, c.book, oldName, domain.Tag{Name: newName})
	if err := expect(resp, "rename tag", StatusOK); err != nil {
		return nil, err
	}
	return decode[domain.Tag](resp, "rename tag")
}

// DeleteTag removes a tag everywhere.
func (c *Client) DeleteTag(ctx context.Context, name string) error {
	return expect(c.sim.DeleteTag(ctx, c.book, name), "delete tag", StatusNoContent)
}

// ListPersons fetches a page of live persons.
func (c *Client) ListPersons(ctx context.Context, q ListQuery) (*ListResult[domain.Person], error) {
	return decodeList[domain.Person](c.sim.ListPersons(ctx, c.book, q), "list persons", q.Page)
}

// ListUpdatedPersons fetches a page of persons changed at or after since.
func (c *Client) ListUpdatedPersons(ctx context.Context, since time.Time, q ListQuery) (*ListResult[domain.Person], error) {
	return decodeList[domain.Person](c.sim.ListUpdatedPersons(ctx, c.book, since, q), "list updated persons", q.Page)
}

// ListTags fetches a page of the tag catalogue.
func (c *Client) ListTags(ctx context.Context, q ListQuery) (*ListResult[domain.Tag], error) {
	return decodeList[domain.Tag](c.sim.ListTags(ctx, c.book, q), "list tags", q.Page)
}

// Quota reports the remote allowance without spending it.
func (c *Client) Quota(_ context.Context) (quota.Status, error) {
	resp := c.sim.RateLimitStatus()
	if err := expect(resp, "rate limit status", StatusOK); err != nil {
		return quota.Status{}, err
	}
	st, err := decode[quota.Status](resp, "rate limit status")
	if err != nil {
		return quota.Status{}, err
	}
	return *st, nil
}

func decodeList[T any](resp *Response, op string, requested int) (*ListResult[T], error) {
	if resp != nil && resp.Status == StatusNotModified {
		return &ListResult[T]{
			NotModified: true,
			ETag:        resp.ETag,
			Page:        max(requested, 1),
			NextPage:    resp.NextPage,
			LastPage:    resp.LastPage,
			Quota:       resp.Quota,
		}, nil
	}
	if err := expect(resp, op, StatusOK); err != nil {
		return nil, err
	}

	var items []T
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeInternal, "%s: decode page", op)
	}
	return &ListResult[T]{
		Items:    items,
		ETag:     resp.ETag,
		Page:     max(requested, 1),
		NextPage: resp.NextPage,
		LastPage: resp.LastPage,
		Quota:    resp.Quota,
	}, nil
}

func decode[T any](resp *Response, op string) (*T, error) {
	var v T
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeInternal, "%s: decode result", op)
	}
	return &v, nil
}

// expect converts anything but the wanted status into a coded error.
func expect(resp *Response, op string, want Status) error {
	if resp == nil {
		return domainerrors.Internalf("%s: no result from remote", op)
	}
	if resp.Status == want {
		return nil
	}

	var body domainerrors.Error
	_ = json.Unmarshal(resp.Body, &body)
	msg := body.Message
	if msg == "" {
		msg = resp.Status.String()
	}

	switch resp.Status {
	case StatusForbidden:
		return domainerrors.QuotaExceeded(op + ": " + msg).WithDetails(resp.Quota)
	case StatusBadRequest:
		code := body.Code
		if code == "" {
			code = domainerrors.CodeValidation
		}
		return (&domainerrors.Error{Code: code, Message: op + ": " + msg}).WithDetails(body.Details)
	case StatusNotFound:
		return domainerrors.NotFound(op + ": " + msg)
	case StatusInternalError:
		return domainerrors.Internal(op + ": " + msg)
	default:
		return domainerrors.Internalf("%s: unexpected remote status %s", op, resp.Status)
	}
}
