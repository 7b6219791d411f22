package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	dErrors "custodia/pkg/domain-errors"
)

// Typed identifiers for the ledger. Construct via the Parse functions at
// trust boundaries; direct casting bypasses validation.

// PrincipalID identifies an authenticated actor (manufacturer,
// distributor, pharmacy, regulator, sensor).
type PrincipalID uuid.UUID

// ParsePrincipalID constructs a PrincipalID from external input.
// Rejects empty, malformed, and nil UUIDs with CodeInvalidInput.
func ParsePrincipalID(s string) (PrincipalID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return PrincipalID{}, err
	}
	return PrincipalID(u), nil
}

func (p PrincipalID) String() string { return uuid.UUID(p).String() }
func (p PrincipalID) IsNil() bool    { return uuid.UUID(p) == uuid.Nil }

// MarshalText renders the canonical UUID form so principal IDs embed in
// JSON documents as strings, not byte arrays.
func (p PrincipalID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(p).String()), nil
}

// UnmarshalText parses stored principal IDs. The nil UUID is accepted
// here (unlike ParsePrincipalID) because optional fields round-trip
// through their zero value.
func (p *PrincipalID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = PrincipalID{}
		return nil
	}
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*p = PrincipalID(u)
	return nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "nil id")
	}
	return u, nil
}

// BatchID is the manufacturer-assigned batch identifier. Unlike
// principal IDs these are not UUIDs; manufacturers mint them against
// their own lot numbering, so the ledger only constrains charset and
// length.
type BatchID string

// batchIDPattern bounds batch identifiers to a printable, URL-safe
// alphabet so they can appear in paths and audit subjects verbatim.
var batchIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ParseBatchID constructs a BatchID from external input.
func ParseBatchID(s string) (BatchID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "batch id cannot be empty")
	}
	if !batchIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "batch id must be 1-64 URL-safe characters")
	}
	return BatchID(s), nil
}

func (b BatchID) String() string { return string(b) }
func (b BatchID) IsNil() bool    { return b == "" }

// ContentHash references content-addressed documents (certificates of
// analysis, transfer documents, reading payloads, evidence). The ledger
// never dereferences content; it only stores and returns hashes.
type ContentHash string

var contentHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ParseContentHash constructs a ContentHash from external input.
// Accepts a 64-char hex SHA-256 digest; uppercase is normalized.
func ParseContentHash(s string) (ContentHash, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "content hash cannot be empty")
	}
	n := strings.ToLower(s)
	if !contentHashPattern.MatchString(n) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "content hash must be a 64-char hex digest")
	}
	return ContentHash(n), nil
}

func (h ContentHash) String() string { return string(h) }
func (h ContentHash) IsNil() bool    { return h == "" }
