// Package main seeds a remote backend with generated persons and tags.
//
// Usage:
//
//	go run ./cmd/seed -backend sqlite -data-path ~/.addressbook-sync/remote -persons 200 -tags 12
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/listenupapp/addressbook-sync/internal/config"
	"github.com/listenupapp/addressbook-sync/internal/domain"
	"github.com/listenupapp/addressbook-sync/internal/store"
	"github.com/listenupapp/addressbook-sync/internal/store/jsonfile"
	"github.com/listenupapp/addressbook-sync/internal/store/sqlite"
)

var (
	backendFlag = flag.String("backend", config.BackendFile, "Backend to seed: file, badger, sqlite")
	dataPath    = flag.String("data-path", "", "Directory holding the backend's data (required)")
	bookName    = flag.String("address-book", "addressbook", "Address book to create or extend")
	persons     = flag.Int("persons", 50, "Number of persons to add")
	tags        = flag.Int("tags", 8, "Number of tags in the catalogue")
	seed        = flag.Uint64("seed", 0, "Random seed (0 picks one from the clock)")
)

var (
	firstNames = []string{"Ann", "Bo", "Cy", "Di", "Eli", "Fay", "Gus", "Hal", "Ida", "Jo", "Kai", "Liv", "Max", "Nia", "Oz", "Pia"}
	lastNames  = []string{"Lee", "Tan", "Ng", "Berg", "Costa", "Doyle", "Eder", "Frey", "Gallo", "Haas", "Ivers", "Jansen"}
	cities     = []string{"Berlin", "Paris", "Lisbon", "Oslo", "Vienna", "Porto", "Ghent", "Turin"}
	tagWords   = []string{"family", "friends", "work", "climbing", "chess", "choir", "neighbours", "school", "football", "book-club", "cycling", "travel"}
)

func main() {
	flag.Parse()

	if *dataPath == "" {
		log.Fatal("-data-path is required")
	}
	if *persons < 0 || *tags < 0 {
		log.Fatal("-persons and -tags must not be negative")
	}

	backend, err := openBackend(*backendFlag, *dataPath)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	if err := backend.CreateAddressBook(ctx, *bookName); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		log.Fatalf("Failed to create address book: %v", err)
	}

	ab, err := backend.ReadAddressBook(ctx, *bookName)
	if err != nil {
		log.Fatalf("Failed to read address book: %v", err)
	}

	s := *seed
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(s, s>>1))

	catalogue := seedTags(ab, *tags)
	added := seedPersons(ab, rng, catalogue, *persons)

	ab.Revision++
	if err := backend.WriteAddressBook(ctx, ab); err != nil {
		log.Fatalf("Failed to write address book: %v", err)
	}

	fmt.Printf("Seeded %q (%s): %d persons added, %d tags in catalogue, seed %d\n",
		*bookName, *backendFlag, added, len(ab.Tags), s)
}

func openBackend(kind, dir string) (store.Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	switch kind {
	case config.BackendBadger:
		return store.New(filepath.Join(dir, "badger"), nil)
	case config.BackendSQLite:
		return sqlite.Open(filepath.Join(dir, "addressbooks.db"), nil)
	case config.BackendFile:
		return jsonfile.Open(dir, nil)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// seedTags adds up to n tags from the word list and returns the catalogue.
func seedTags(ab *domain.AddressBook, n int) []domain.Tag {
	for i := 0; i < n && i < len(tagWords); i++ {
		if ab.TagIndex(tagWords[i]) < 0 {
			ab.Tags = append(ab.Tags, domain.Tag{Name: tagWords[i]})
		}
	}
	return ab.Tags
}

// seedPersons appends n persons with unique names and returns how many were
// added. Name combinations already in the book are skipped.
func seedPersons(ab *domain.AddressBook, rng *rand.Rand, catalogue []domain.Tag, n int) int {
	taken := make(map[string]bool, len(ab.Persons))
	for _, p := range ab.Persons {
		taken[p.FullName()] = true
	}

	now := time.Now().UTC()
	added := 0
	for attempt := 0; added < n && attempt < n*10; attempt++ {
		p := domain.Person{
			FirstName: firstNames[rng.IntN(len(firstNames))],
			LastName:  lastNames[rng.IntN(len(lastNames))],
			City:      cities[rng.IntN(len(cities))],
			Tags:      []domain.Tag{},
		}
		if taken[p.FullName()] {
			// Disambiguate with a counter once the plain combinations run out.
			p.LastName = fmt.Sprintf("%s %d", p.LastName, attempt)
			if taken[p.FullName()] {
				continue
			}
		}
		for _, t := range catalogue {
			if rng.IntN(4) == 0 {
				p.Tags = append(p.Tags, t)
			}
		}

		p.ID = ab.NextPersonID()
		p.Touch(now)
		ab.Persons = append(ab.Persons, p)
		taken[p.FullName()] = true
		added++
	}
	return added
}
