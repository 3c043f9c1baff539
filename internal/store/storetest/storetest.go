// Package storetest holds behaviour tests every store.Backend must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	"github.com/listenupapp/addressbook-sync/internal/store"
)

// Run exercises open against the shared backend contract. open must return
// a fresh, empty backend; Run closes it.
func Run(t *testing.T, open func(t *testing.T) store.Backend) {
	t.Helper()

	t.Run("ReadMissing", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		_, err := b.ReadAddressBook(context.Background(), "nobody")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("CreateTwice", func(t *testing.T) {
		b := open(t)
		defer b.Close()
		ctx := context.Background()

		require.NoError(t, b.CreateAddressBook(ctx, "friends"))
		assert.ErrorIs(t, b.CreateAddressBook(ctx, "friends"), store.ErrAlreadyExists)

		ab, err := b.ReadAddressBook(ctx, "friends")
		require.NoError(t, err)
		assert.Equal(t, "friends", ab.Name)
		assert.Empty(t, ab.Persons)
		assert.Empty(t, ab.Tags)
	})

	t.Run("InvalidName", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		assert.ErrorIs(t, b.CreateAddressBook(context.Background(), "../etc"), store.ErrInvalidName)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		b := open(t)
		defer b.Close()
		ctx := context.Background()
		require.NoError(t, b.CreateAddressBook(ctx, "friends"))

		stamp := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
		bday := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)
		want := &domain.AddressBook{
			Name:     "friends",
			Revision: 3,
			Tags:     []domain.Tag{{Name: "work"}, {Name: "climbing"}, {Name: "family"}},
			Persons: []domain.Person{
				{ID: 1, FirstName: "Ann", LastName: "Lee", City: "Paris", Birthday: &bday,
					Tags: []domain.Tag{{Name: "work"}, {Name: "climbing"}}, LastUpdatedAt: stamp},
				{ID: 2, FirstName: "Bo", LastName: "Tan", GithubUsername: "botan",
					Tags: []domain.Tag{}, LastUpdatedAt: stamp, Deleted: true},
				{ID: 12, FirstName: "Cy", LastName: "Ng", Tags: []domain.Tag{{Name: "family"}}, LastUpdatedAt: stamp},
			},
		}
		require.NoError(t, b.WriteAddressBook(ctx, want))

		got, err := b.ReadAddressBook(ctx, "friends")
		require.NoError(t, err)
		assert.Equal(t, want.Revision, got.Revision)
		assert.Equal(t, want.Tags, got.Tags)
		require.Len(t, got.Persons, 3)
		for i := range want.Persons {
			w, g := want.Persons[i], got.Persons[i]
			assert.Equal(t, w.ID, g.ID)
			assert.Equal(t, w.FullName(), g.FullName())
			assert.Equal(t, w.City, g.City)
			assert.Equal(t, w.GithubUsername, g.GithubUsername)
			assert.Equal(t, w.Deleted, g.Deleted)
			assert.Equal(t, domain.TagNames(w.Tags), domain.TagNames(g.Tags))
			assert.True(t, w.LastUpdatedAt.Equal(g.LastUpdatedAt))
		}
		require.NotNil(t, got.Persons[0].Birthday)
		assert.True(t, bday.Equal(*got.Persons[0].Birthday))
	})

	t.Run("WriteReplaces", func(t *testing.T) {
		b := open(t)
		defer b.Close()
		ctx := context.Background()
		require.NoError(t, b.CreateAddressBook(ctx, "friends"))

		first := domain.NewAddressBook("friends")
		first.Persons = []domain.Person{{ID: 1, FirstName: "Ann", LastName: "Lee"}, {ID: 2, FirstName: "Bo", LastName: "Tan"}}
		first.Tags = []domain.Tag{{Name: "a"}, {Name: "b"}}
		require.NoError(t, b.WriteAddressBook(ctx, first))

		second := domain.NewAddressBook("friends")
		second.Revision = 1
		second.Persons = []domain.Person{{ID: 2, FirstName: "Bo", LastName: "Tan"}}
		second.Tags = []domain.Tag{{Name: "b"}}
		require.NoError(t, b.WriteAddressBook(ctx, second))

		got, err := b.ReadAddressBook(ctx, "friends")
		require.NoError(t, err)
		require.Len(t, got.Persons, 1)
		assert.Equal(t, 2, got.Persons[0].ID)
		assert.Equal(t, []domain.Tag{{Name: "b"}}, got.Tags)
		assert.Equal(t, int64(1), got.Revision)
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		b := open(t)
		defer b.Close()
		ctx := context.Background()
		require.NoError(t, b.CreateAddressBook(ctx, "friends"))
		require.NoError(t, b.CreateAddressBook(ctx, "friends2"))

		ab := domain.NewAddressBook("friends")
		ab.Persons = []domain.Person{{ID: 1, FirstName: "Ann", LastName: "Lee"}}
		require.NoError(t, b.WriteAddressBook(ctx, ab))

		other, err := b.ReadAddressBook(ctx, "friends2")
		require.NoError(t, err)
		assert.Empty(t, other.Persons)
	})
}
