// Package store persists the simulated remote's address books. Store keeps
// them in Badger; the sqlite and jsonfile subpackages provide the other
// backends behind the same Backend interface.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/addressbook-sync/internal/domain"
)

// Backend reads and writes whole address books. Writes replace the stored
// collection atomically: a failed write leaves the previous version intact.
type Backend interface {
	ReadAddressBook(ctx context.Context, name string) (*domain.AddressBook, error)
	WriteAddressBook(ctx context.Context, ab *domain.AddressBook) error
	CreateAddressBook(ctx context.Context, name string) error
	Close() error
}

// ValidateName rejects names that cannot serve as a key or file name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\:`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

type bookMeta struct {
	Name      string    `json:"name"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ Backend = (*Store)(nil)

// New opens (or creates) a Badger database at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if logger != nil {
		logger.Info("Badger database opened successfully", "path", path)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateAddressBook stores an empty collection.
func (s *Store) CreateAddressBook(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := metaKey(name)
		defer releaseKey(key)

		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check address book: %w", err)
		}

		data, err := json.Marshal(bookMeta{Name: name, CreatedAt: time.Now()})
		if err != nil {
			return ErrConversion.WithCause(err)
		}
		return txn.Set(bytes.Clone(key), data)
	})
}

// ReadAddressBook loads a collection with persons ordered by id and tags in
// catalogue order.
func (s *Store) ReadAddressBook(_ context.Context, name string) (*domain.AddressBook, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	ab := domain.NewAddressBook(name)
	err := s.db.View(func(txn *badger.Txn) error {
		key := metaKey(name)
		defer releaseKey(key)

		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get address book: %w", err)
		}

		var meta bookMeta
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		}); err != nil {
			return ErrConversion.WithCause(err)
		}
		ab.Revision = meta.Revision

		prefix := childrenPrefix(name)
		defer releaseKey(prefix)
		personTag := []byte(bookPrefix + name + personInfix)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			isPerson := bytes.HasPrefix(item.Key(), personTag)
			err := item.Value(func(val []byte) error {
				if isPerson {
					var p domain.Person
					if err := json.Unmarshal(val, &p); err != nil {
						return err
					}
					ab.Persons = append(ab.Persons, p)
					return nil
				}
				var t domain.Tag
				if err := json.Unmarshal(val, &t); err != nil {
					return err
				}
				ab.Tags = append(ab.Tags, t)
				return nil
			})
			if err != nil {
				return ErrConversion.WithCause(fmt.Errorf("key %s: %w", item.Key(), err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ab, nil
}

// WriteAddressBook replaces the stored collection in a single transaction.
func (s *Store) WriteAddressBook(_ context.Context, ab *domain.AddressBook) error {
	if err := ValidateName(ab.Name); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := metaKey(ab.Name)
		defer releaseKey(key)

		meta := bookMeta{Name: ab.Name, Revision: ab.Revision, CreatedAt: time.Now()}
		if item, err := txn.Get(key); err == nil {
			var existing bookMeta
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err == nil {
				meta.CreatedAt = existing.CreatedAt
			}
		}

		if err := deleteChildren(txn, ab.Name); err != nil {
			return err
		}

		data, err := json.Marshal(meta)
		if err != nil {
			return ErrConversion.WithCause(err)
		}
		if err := txn.Set(bytes.Clone(key), data); err != nil {
			return err
		}

		for _, p := range ab.Persons {
			if err := setJSON(txn, personKey(ab.Name, p.ID), p); err != nil {
				return err
			}
		}
		for i, t := range ab.Tags {
			if err := setJSON(txn, tagKey(ab.Name, i), t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write address book %s: %w", ab.Name, err)
	}

	if s.logger != nil {
		s.logger.Debug("address book written",
			"name", ab.Name,
			"revision", ab.Revision,
			"persons", len(ab.Persons),
			"tags", len(ab.Tags),
		)
	}
	return nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		releaseKey(key)
		return ErrConversion.WithCause(err)
	}
	// Badger keeps a reference to key until commit, so copy out of the pool.
	owned := bytes.Clone(key)
	releaseKey(key)
	return txn.Set(owned, data)
}

func deleteChildren(txn *badger.Txn, book string) error {
	prefix := childrenPrefix(book)
	defer releaseKey(prefix)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
