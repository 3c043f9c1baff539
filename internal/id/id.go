// Package id generates prefixed identifiers for change commands, sync runs
// and event-stream clients.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes in use.
const (
	PrefixCommand = "cmd"
	PrefixSync    = "sync"
	PrefixClient  = "client"
)

// Generate creates "prefix-nanoid", e.g. "cmd-V1StGXR8_Z5jdHi6B-myT".
func Generate(prefix string) (string, error) {
	raw, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + raw, nil
}

// MustGenerate is like Generate but panics if the system has no entropy.
func MustGenerate(prefix string) string {
	generated, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return generated
}

// Command returns a new change command identifier.
func Command() string {
	return MustGenerate(PrefixCommand)
}
