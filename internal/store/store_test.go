package store_test

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/addressbook-sync/internal/store"
	"github.com/listenupapp/addressbook-sync/internal/store/storetest"
)

func TestBadgerStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		s, err := store.New(t.TempDir(), nil)
		require.NoError(t, err)
		return s
	})
}

func TestBadgerStore_CorruptPersonIsConversionError(t *testing.T) {
	dir := t.TempDir()
	s, err := store.New(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.CreateAddressBook(ctx, "friends"))
	require.NoError(t, s.Close())

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("book:friends/person:0000000001"), []byte("{not json"))
	}))
	require.NoError(t, db.Close())

	s, err = store.New(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ReadAddressBook(ctx, "friends")
	assert.ErrorIs(t, err, store.ErrConversion)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, store.ValidateName("friends"))
	assert.NoError(t, store.ValidateName("my address book"))
	for _, bad := range []string{"", "  ", "a/b", `a\b`, "a:b", ".."} {
		assert.ErrorIs(t, store.ValidateName(bad), store.ErrInvalidName, bad)
	}
}
