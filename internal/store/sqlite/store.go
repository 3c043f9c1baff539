// Package sqlite is the SQL backend for the simulated remote's address books.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	"github.com/listenupapp/addressbook-sync/internal/store"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store provides SQLite-backed persistence.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Backend = (*Store)(nil)

// Open creates a new SQLite store at the given path.
// It configures WAL mode, sets pragmas, and runs the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateAddressBook inserts an empty collection.
func (s *Store) CreateAddressBook(ctx context.Context, name string) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO address_books (name, revision, created_at) VALUES (?, 0, ?)`,
		name, formatTime(time.Now()))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("create address book: %w", err)
	}
	return nil
}

// ReadAddressBook loads a collection, persons ordered by id.
func (s *Store) ReadAddressBook(ctx context.Context, name string) (*domain.AddressBook, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	ab := domain.NewAddressBook(name)
	err := s.db.QueryRowContext(ctx, `SELECT revision FROM address_books WHERE name = ?`, name).Scan(&ab.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read address book: %w", err)
	}

	if err := s.readTags(ctx, ab); err != nil {
		return nil, err
	}
	if err := s.readPersons(ctx, ab); err != nil {
		return nil, err
	}
	return ab, nil
}

func (s *Store) readTags(ctx context.Context, ab *domain.AddressBook) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM tags WHERE book = ? ORDER BY position`, ab.Name)
	if err != nil {
		return fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.Name); err != nil {
			return store.ErrConversion.WithCause(err)
		}
		ab.Tags = append(ab.Tags, t)
	}
	return rows.Err()
}

const personColumns = `id, first_name, last_name, street, postal_code, city, github_username, birthday, last_updated_at, deleted`

func (s *Store) readPersons(ctx context.Context, ab *domain.AddressBook) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE book = ? ORDER BY id`, ab.Name)
	if err != nil {
		return fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	index := make(map[int]int)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return store.ErrConversion.WithCause(err)
		}
		index[p.ID] = len(ab.Persons)
		ab.Persons = append(ab.Persons, *p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tagRows, err := s.db.QueryContext(ctx,
		`SELECT person_id, tag_name FROM person_tags WHERE book = ? ORDER BY person_id, position`, ab.Name)
	if err != nil {
		return fmt.Errorf("query person tags: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var (
			personID int
			tagName  string
		)
		if err := tagRows.Scan(&personID, &tagName); err != nil {
			return store.ErrConversion.WithCause(err)
		}
		if i, ok := index[personID]; ok {
			ab.Persons[i].Tags = append(ab.Persons[i].Tags, domain.Tag{Name: tagName})
		}
	}
	return tagRows.Err()
}

// scanPerson scans a row selected with personColumns. Tags are left empty.
func scanPerson(scanner interface{ Scan(dest ...any) error }) (*domain.Person, error) {
	var (
		p         domain.Person
		birthday  sql.NullString
		updatedAt string
		deleted   int
	)
	err := scanner.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Street,
		&p.PostalCode,
		&p.City,
		&p.GithubUsername,
		&birthday,
		&updatedAt,
		&deleted,
	)
	if err != nil {
		return nil, err
	}

	p.LastUpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("person %d last_updated_at: %w", p.ID, err)
	}
	p.Birthday, err = parseNullableTime(birthday)
	if err != nil {
		return nil, fmt.Errorf("person %d birthday: %w", p.ID, err)
	}
	p.Deleted = deleted != 0
	p.Tags = []domain.Tag{}
	return &p, nil
}

// WriteAddressBook replaces the collection's persons and tags in one
// transaction.
func (s *Store) WriteAddressBook(ctx context.Context, ab *domain.AddressBook) (err error) {
	if err := store.ValidateName(ab.Name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO address_books (name, revision, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET revision = excluded.revision`,
		ab.Name, ab.Revision, formatTime(time.Now())); err != nil {
		return fmt.Errorf("upsert address book: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM person_tags WHERE book = ?`,
		`DELETE FROM persons WHERE book = ?`,
		`DELETE FROM tags WHERE book = ?`,
	} {
		if _, err = tx.ExecContext(ctx, stmt, ab.Name); err != nil {
			return fmt.Errorf("clear address book: %w", err)
		}
	}

	for i, t := range ab.Tags {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO tags (book, position, name) VALUES (?, ?, ?)`, ab.Name, i, t.Name); err != nil {
			return fmt.Errorf("insert tag %q: %w", t.Name, err)
		}
	}

	for i := range ab.Persons {
		if err = insertPerson(ctx, tx, ab.Name, &ab.Persons[i]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("address book written", "name", ab.Name, "revision", ab.Revision, "persons", len(ab.Persons))
	}
	return nil
}

func insertPerson(ctx context.Context, tx *sql.Tx, book string, p *domain.Person) error {
	var birthday sql.NullString
	if p.Birthday != nil {
		birthday = sql.NullString{String: formatTime(*p.Birthday), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO persons (book, `+personColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book,
		p.ID,
		p.FirstName,
		p.LastName,
		p.Street,
		p.PostalCode,
		p.City,
		p.GithubUsername,
		birthday,
		formatTime(p.LastUpdatedAt),
		boolToInt(p.Deleted),
	)
	if err != nil {
		return fmt.Errorf("insert person %d: %w", p.ID, err)
	}

	for pos, t := range p.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO person_tags (book, person_id, position, tag_name) VALUES (?, ?, ?, ?)`,
			book, p.ID, pos, t.Name); err != nil {
			return fmt.Errorf("insert tag of person %d: %w", p.ID, err)
		}
	}
	return nil
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a RFC3339Nano string back to time.Time.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses an optional time string.
func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
