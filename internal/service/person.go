package service

import (
	"context"
	"log/slog"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	domainerrors "github.com/listenupapp/addressbook-sync/internal/errors"
	"github.com/listenupapp/addressbook-sync/internal/model"
	"github.com/listenupapp/addressbook-sync/internal/quota"
	"github.com/listenupapp/addressbook-sync/internal/validation"
)

// PersonRemote is the part of the remote client the person service uses.
type PersonRemote interface {
	AddressBook() string
	EnsureAddressBook(ctx context.Context) error
	CreatePerson(ctx context.Context, p domain.Person) (*domain.Person, error)
	Quota(ctx context.Context) (quota.Status, error)
}

// PersonService creates persons directly on the remote and serves the
// local model. Edits and deletes go through the command manager.
type PersonService struct {
	remote    PersonRemote
	local     *model.AddressBook
	validator *validation.Validator
	logger    *slog.Logger
}

// NewPersonService creates a new person service.
func NewPersonService(remote PersonRemote, local *model.AddressBook, validator *validation.Validator, logger *slog.Logger) *PersonService {
	return &PersonService{
		remote:    remote,
		local:     local,
		validator: validator,
		logger:    logger,
	}
}

// Bootstrap creates the configured address book on the remote if it is
// missing and makes it the active local collection.
func (s *PersonService) Bootstrap(ctx context.Context) error {
	if err := s.remote.EnsureAddressBook(ctx); err != nil {
		return err
	}
	if s.local.Name() != s.remote.AddressBook() {
		s.local.Activate(s.remote.AddressBook())
	}
	s.logger.Info("address book ready", "address_book", s.remote.AddressBook())
	return nil
}

// Create validates p, creates it remotely and adopts the remote version,
// including its assigned id, locally.
func (s *PersonService) Create(ctx context.Context, p domain.Person) (*domain.Person, error) {
	if err := s.validator.Validate(p); err != nil {
		return nil, err
	}
	p.ID = 0
	created, err := s.remote.CreatePerson(ctx, p)
	if err != nil {
		return nil, err
	}
	s.local.Put(*created)
	s.logger.Info("person created", "person_id", created.ID)
	return created, nil
}

// Validate checks p the same way Create does. Edits are validated before a
// command is started so an invalid change never enters its grace period.
func (s *PersonService) Validate(p domain.Person) error {
	return s.validator.Validate(p)
}

// List returns the local entries.
func (s *PersonService) List() []model.Entry {
	return s.local.Entries()
}

// Get returns the local entry of person id.
func (s *PersonService) Get(id int) (*model.Entry, error) {
	e, ok := s.local.Entry(id)
	if !ok {
		return nil, domainerrors.NotFoundf("person %d not found", id)
	}
	return &e, nil
}

// Quota reports the remote allowance.
func (s *PersonService) Quota(ctx context.Context) (quota.Status, error) {
	return s.remote.Quota(ctx)
}
