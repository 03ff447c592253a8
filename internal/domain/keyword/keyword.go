// Package keyword decides which externally collected vulnerabilities are
// relevant enough to be ingested as flaws.
package keyword

import (
	"context"
	"errors"
	"fmt"
)

// Type classifies a keyword entry.
type Type string

const (
	// TypeAllowlist entries are case-insensitive patterns that force
	// ingestion even when a blocklist entry matches.
	TypeAllowlist Type = "ALLOWLIST"
	// TypeAllowlistSpecialCase entries are allowlist patterns matched
	// case-sensitively and without added word boundaries.
	TypeAllowlistSpecialCase Type = "ALLOWLIST_SPECIAL_CASE"
	// TypeBlocklist entries are case-insensitive patterns that prevent
	// ingestion.
	TypeBlocklist Type = "BLOCKLIST"
	// TypeBlocklistSpecialCase entries are blocklist patterns matched
	// case-sensitively and without added word boundaries.
	TypeBlocklistSpecialCase Type = "BLOCKLIST_SPECIAL_CASE"
)

func (t Type) String() string { return string(t) }

// IsValid reports whether t is a known keyword type.
func (t Type) IsValid() bool {
	switch t {
	case TypeAllowlist, TypeAllowlistSpecialCase, TypeBlocklist, TypeBlocklistSpecialCase:
		return true
	default:
		return false
	}
}

func (t Type) isAllow() bool       { return t == TypeAllowlist || t == TypeAllowlistSpecialCase }
func (t Type) isSpecialCase() bool { return t == TypeAllowlistSpecialCase || t == TypeBlocklistSpecialCase }

// MaxLength is the longest keyword that can be stored.
const MaxLength = 255

var (
	// ErrKeywordNotFound is returned when deleting a keyword that is not stored.
	ErrKeywordNotFound = errors.New("keyword not found")
	// ErrInvalidKeyword is returned for empty, oversized or mistyped keywords.
	ErrInvalidKeyword = errors.New("invalid keyword")
)

// Keyword is a single allowlist or blocklist entry. Value is a regular
// expression in RE2 syntax.
type Keyword struct {
	Value string
	Type  Type
}

// New validates and returns a keyword.
func New(value string, typ Type) (Keyword, error) {
	switch {
	case value == "":
		return Keyword{}, fmt.Errorf("%w: empty value", ErrInvalidKeyword)
	case len(value) > MaxLength:
		return Keyword{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidKeyword, MaxLength)
	case !typ.IsValid():
		return Keyword{}, fmt.Errorf("%w: unknown type %q", ErrInvalidKeyword, typ)
	}
	if _, err := compile(Keyword{Value: value, Type: typ}); err != nil {
		return Keyword{}, fmt.Errorf("%w: %v", ErrInvalidKeyword, err)
	}
	return Keyword{Value: value, Type: typ}, nil
}

// Repository stores keywords. Values are unique; upserting an existing
// value replaces its type.
type Repository interface {
	Upsert(ctx context.Context, kw Keyword) error
	List(ctx context.Context) ([]Keyword, error)
	Delete(ctx context.Context, value string) error
}
