// Package normalize cleans user-entered text before it is stored.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/listenupapp/addressbook-sync/internal/domain"
)

// Text returns s in Unicode NFC with surrounding whitespace trimmed and
// inner whitespace runs collapsed to a single space. Composed and decomposed
// spellings of the same name ("Zoë") compare equal afterwards.
func Text(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// Tag normalizes the tag name.
func Tag(t domain.Tag) domain.Tag {
	return domain.Tag{Name: Text(t.Name)}
}

// Person normalizes the text fields of p and drops repeated tags. The
// GitHub username is only trimmed.
func Person(p domain.Person) domain.Person {
	out := p.Clone()
	out.FirstName = Text(p.FirstName)
	out.LastName = Text(p.LastName)
	out.Street = Text(p.Street)
	out.PostalCode = Text(p.PostalCode)
	out.City = Text(p.City)
	out.GithubUsername = strings.TrimSpace(p.GithubUsername)

	if p.Tags != nil {
		out.Tags = make([]domain.Tag, 0, len(p.Tags))
		seen := make(map[string]bool, len(p.Tags))
		for _, t := range p.Tags {
			t = Tag(t)
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out.Tags = append(out.Tags, t)
		}
	}
	return out
}
