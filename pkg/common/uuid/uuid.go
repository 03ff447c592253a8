// Package uuid wraps github.com/google/uuid so the rest of the code base
// depends on a single import path for identifiers.
package uuid

import "github.com/google/uuid"

// UUID is a 128 bit (16 byte) Universal Unique IDentifier.
type UUID = uuid.UUID

// Nil is the empty UUID, all zeros.
var Nil = uuid.Nil

// New creates a new random (version 4) UUID. It panics if the random source
// fails, matching google/uuid.
func New() UUID { return uuid.New() }

// Parse decodes s into a UUID or returns an error.
func Parse(s string) (UUID, error) { return uuid.Parse(s) }

// MustParse is like Parse but panics if the string cannot be parsed.
func MustParse(s string) UUID { return uuid.MustParse(s) }
