package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	"github.com/listenupapp/addressbook-sync/internal/store"
	"github.com/listenupapp/addressbook-sync/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "remote.db"), nil)
	require.NoError(t, err)
	return s
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestStore_Backend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return newTestStore(t)
	})
}

func TestStore_BadTimestampIsConversionError(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateAddressBook(ctx, "friends"))
	ab := domain.NewAddressBook("friends")
	ab.Persons = []domain.Person{{ID: 1, FirstName: "Ann", LastName: "Lee"}}
	require.NoError(t, s.WriteAddressBook(ctx, ab))

	_, err := s.db.Exec(`UPDATE persons SET last_updated_at = 'yesterday' WHERE id = 1`)
	require.NoError(t, err)

	_, err = s.ReadAddressBook(ctx, "friends")
	assert.ErrorIs(t, err, store.ErrConversion)
}

func TestStore_FailedWriteLeavesPreviousVersion(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateAddressBook(ctx, "friends"))
	ab := domain.NewAddressBook("friends")
	ab.Tags = []domain.Tag{{Name: "work"}}
	ab.Persons = []domain.Person{{ID: 1, FirstName: "Ann", LastName: "Lee"}}
	require.NoError(t, s.WriteAddressBook(ctx, ab))

	broken := domain.NewAddressBook("friends")
	broken.Tags = []domain.Tag{{Name: "dup"}, {Name: "dup"}}
	require.Error(t, s.WriteAddressBook(ctx, broken))

	got, err := s.ReadAddressBook(ctx, "friends")
	require.NoError(t, err)
	assert.Equal(t, []domain.Tag{{Name: "work"}}, got.Tags)
	assert.Len(t, got.Persons, 1)
}
