// Package mocks provides testify mocks for store interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	"github.com/listenupapp/addressbook-sync/internal/store"
)

// Backend is a mock store.Backend.
type Backend struct {
	mock.Mock
}

var _ store.Backend = (*Backend)(nil)

// ReadAddressBook mocks store.Backend.ReadAddressBook.
func (m *Backend) ReadAddressBook(ctx context.Context, name string) (*domain.AddressBook, error) {
	args := m.Called(ctx, name)
	ab, _ := args.Get(0).(*domain.AddressBook)
	return ab, args.Error(1)
}

// WriteAddressBook mocks store.Backend.WriteAddressBook.
func (m *Backend) WriteAddressBook(ctx context.Context, ab *domain.AddressBook) error {
	args := m.Called(ctx, ab)
	return args.Error(0)
}

// CreateAddressBook mocks store.Backend.CreateAddressBook.
func (m *Backend) CreateAddressBook(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// Close mocks store.Backend.Close.
func (m *Backend) Close() error {
	args := m.Called()
	return args.Error(0)
}
