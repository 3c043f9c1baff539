// Package jsonfile keeps each address book in its own JSON file, the way
// the remote simulator originally stored them, and can watch the directory
// for edits made outside the process.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	"github.com/listenupapp/addressbook-sync/internal/store"
)

const (
	fileExt    = ".json"
	tempPrefix = ".tmp-"
)

// Store persists address books as <dir>/<name>.json.
type Store struct {
	dir      string
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

var _ store.Backend = (*Store)(nil)

// Open prepares dir for use, creating it if needed.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir, logger: logger, debounce: 100 * time.Millisecond}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// CreateAddressBook writes an empty collection file. It fails with
// store.ErrAlreadyExists if the file is present.
func (s *Store) CreateAddressBook(_ context.Context, name string) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}

	data, err := encode(domain.NewAddressBook(name))
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if errors.Is(err, fs.ErrExist) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create address book file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write address book file: %w", err)
	}
	return f.Close()
}

// ReadAddressBook decodes a collection file.
func (s *Store) ReadAddressBook(_ context.Context, name string) (*domain.AddressBook, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read address book file: %w", err)
	}

	ab := domain.NewAddressBook(name)
	if err := json.Unmarshal(data, ab); err != nil {
		return nil, store.ErrConversion.WithCause(err)
	}
	ab.Name = name
	return ab, nil
}

// WriteAddressBook writes to a temp file and renames it over the old one,
// so readers see either the old or the new collection.
func (s *Store) WriteAddressBook(_ context.Context, ab *domain.AddressBook) error {
	if err := store.ValidateName(ab.Name); err != nil {
		return err
	}

	data, err := encode(ab)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+ab.Name+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(ab.Name)); err != nil {
		cleanup()
		return fmt.Errorf("replace address book file: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("address book written", "name", ab.Name, "revision", ab.Revision, "path", s.path(ab.Name))
	}
	return nil
}

func encode(ab *domain.AddressBook) ([]byte, error) {
	data, err := json.MarshalIndent(ab, "", "  ")
	if err != nil {
		return nil, store.ErrConversion.WithCause(err)
	}
	return data, nil
}

// Watch calls onChange with the collection name whenever a collection file
// is written, replaced or removed, until ctx ends. Bursts of events for one
// file are coalesced.
func (s *Store) Watch(ctx context.Context, onChange func(name string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	go s.processEvents(ctx, w, onChange)
	return nil
}

func (s *Store) processEvents(ctx context.Context, w *fsnotify.Watcher, onChange func(string)) {
	defer w.Close()

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			name, ok := collectionName(event.Name)
			if !ok || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			mu.Lock()
			if t, exists := pending[name]; exists {
				t.Stop()
			}
			pending[name] = time.AfterFunc(s.debounce, func() {
				mu.Lock()
				delete(pending, name)
				mu.Unlock()
				onChange(name)
			})
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if s.logger != nil {
				s.logger.Warn("address book watcher error", "dir", s.dir, "error", err)
			}
		}
	}
}

func collectionName(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, tempPrefix) || !strings.HasSuffix(base, fileExt) {
		return "", false
	}
	return strings.TrimSuffix(base, fileExt), true
}

// Close stops an active watcher. Pending notifications are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
