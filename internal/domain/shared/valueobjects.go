// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"unicode/utf8"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// MaxPlayerIDLength bounds player identifiers accepted from upstream.
const MaxPlayerIDLength = 128

// PlayerID identifies a player. Upstream systems own the format; the engine only
// requires a non-empty, trimmed, bounded string.
type PlayerID string

// IsValid checks if the player ID is usable as a key.
func (p PlayerID) IsValid() bool {
	s := string(p)
	return s != "" && s == strings.TrimSpace(s) && utf8.RuneCountInString(s) <= MaxPlayerIDLength
}

// String returns the string representation.
func (p PlayerID) String() string {
	return string(p)
}

// NewPlayerID creates a new PlayerID with validation.
func NewPlayerID(id string) (PlayerID, error) {
	pid := PlayerID(strings.TrimSpace(id))
	if !pid.IsValid() {
		return "", ErrInvalidPlayerID
	}
	return pid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Limit Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Limit is a bounded result size for list queries.
type Limit int

// Clamp returns the limit bounded to [1, max], substituting def for non-positive values.
func (l Limit) Clamp(def, max int) int {
	n := int(l)
	if n <= 0 {
		n = def
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}
