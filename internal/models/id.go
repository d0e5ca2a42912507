package models

import "github.com/oklog/ulid/v2"

// NewID returns a lexicographically sortable record id.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether s is a well-formed record id.
func ValidID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
