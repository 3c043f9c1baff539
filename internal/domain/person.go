// Package domain defines the address-book records shared by the local model,
// the change commands and the simulated remote.
package domain

import (
	"slices"
	"strings"
	"time"
)

// Person is one address-book entry. ID is assigned by the remote on create
// and never changes afterwards; zero means "not yet known to the remote".
type Person struct {
	ID             int        `json:"id"`
	FirstName      string     `json:"first_name" validate:"notblank,max=100"`
	LastName       string     `json:"last_name" validate:"notblank,max=100"`
	Street         string     `json:"street,omitempty" validate:"max=200"`
	PostalCode     string     `json:"postal_code,omitempty" validate:"max=20"`
	City           string     `json:"city,omitempty" validate:"max=100"`
	GithubUsername string     `json:"github_username,omitempty" validate:"githubuser,max=39"`
	Birthday       *time.Time `json:"birthday,omitempty"`
	Tags           []Tag      `json:"tags" validate:"dive"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
	Deleted        bool       `json:"deleted"`
}

// FullName returns "First Last".
func (p *Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// GithubProfileURL returns the profile page, or "" without a username.
func (p *Person) GithubProfileURL() string {
	if p.GithubUsername == "" {
		return ""
	}
	return "https://github.com/" + p.GithubUsername
}

// SameName reports whether both persons share the legacy compound key
// (first name, last name).
func (p *Person) SameName(other *Person) bool {
	return p.FirstName == other.FirstName && p.LastName == other.LastName
}

// Matches identifies the same record: by ID when both sides have one,
// otherwise by the legacy compound key.
func (p *Person) Matches(other *Person) bool {
	if p.ID != 0 && other.ID != 0 {
		return p.ID == other.ID
	}
	return p.SameName(other)
}

// HasTag reports whether the person carries a tag with the given name.
func (p *Person) HasTag(name string) bool {
	return slices.ContainsFunc(p.Tags, func(t Tag) bool { return t.Name == name })
}

// Touch stamps LastUpdatedAt.
func (p *Person) Touch(now time.Time) {
	p.LastUpdatedAt = now
}

// MarkDeleted soft-deletes the person. LastUpdatedAt moves too so the
// deletion shows up in "updated since" queries.
func (p *Person) MarkDeleted(now time.Time) {
	p.Deleted = true
	p.LastUpdatedAt = now
}

// Clone returns a deep copy.
func (p Person) Clone() Person {
	c := p
	c.Tags = slices.Clone(p.Tags)
	if p.Birthday != nil {
		b := *p.Birthday
		c.Birthday = &b
	}
	return c
}

// ApplyEdit copies the user-editable fields of in onto p. ID, timestamps and
// the deleted flag are left alone.
func (p *Person) ApplyEdit(in Person) {
	p.FirstName = in.FirstName
	p.LastName = in.LastName
	p.Street = in.Street
	p.PostalCode = in.PostalCode
	p.City = in.City
	p.GithubUsername = in.GithubUsername
	p.Birthday = nil
	if in.Birthday != nil {
		b := *in.Birthday
		p.Birthday = &b
	}
	p.Tags = slices.Clone(in.Tags)
}
