// Package blocklist decides which identifiers may drive a match. Hard entries
// make an identifier worthless for matching; soft entries mark identifiers
// known to be shared by several real people, which still narrow the candidate
// pool but carry reduced evidentiary weight.
package blocklist

import (
	"strings"
	"time"

	id "trapper/pkg/domain"
	dErrors "trapper/pkg/domain-errors"
)

// Corroboration names the extra signal a soft-blocked identifier needs before
// it counts as evidence at all.
type Corroboration string

const (
	// CorroborationNone: the identifier counts, just at reduced weight.
	CorroborationNone Corroboration = "none"
	// CorroborationName: only count the identifier when name similarity to
	// the candidate also clears the scorer's medium threshold.
	CorroborationName Corroboration = "name_similarity"
	// CorroborationAddress: only count the identifier when the incoming
	// address agrees with one on file for the candidate.
	CorroborationAddress Corroboration = "address_match"
)

// HardEntry bans a (type, normalized value) pair outright. Operator-curated
// and append-only; structural junk (empty, repeated digits, placeholder
// tokens) is caught by the filter without an entry.
type HardEntry struct {
	Type      id.IdentifierType
	Value     string
	Reason    string
	CreatedAt time.Time
}

// NewHardEntry validates and returns a hard blocklist entry.
func NewHardEntry(idType id.IdentifierType, value, reason string, now time.Time) (*HardEntry, error) {
	if _, err := id.ParseIdentifierType(string(idType)); err != nil {
		return nil, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "blocklist value is required")
	}
	return &HardEntry{Type: idType, Value: value, Reason: reason, CreatedAt: now}, nil
}

// SoftEntry marks a shared identifier. Matching on it remains valid evidence
// but is discounted by Multiplier, and may additionally require corroboration
// before it counts at all.
type SoftEntry struct {
	Type  id.IdentifierType
	Value string
	// Multiplier scales the field's nominal weight, e.g. 0.5 for a shared
	// office line.
	Multiplier float64
	// KnownNames are distinct display names historically seen using this
	// identifier; surfaced in review tooling.
	KnownNames []string
	Requires   Corroboration
	CreatedAt  time.Time
}

// NewSoftEntry validates and returns a soft blocklist entry.
func NewSoftEntry(idType id.IdentifierType, value string, multiplier float64, requires Corroboration, now time.Time) (*SoftEntry, error) {
	if _, err := id.ParseIdentifierType(string(idType)); err != nil {
		return nil, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "soft blocklist value is required")
	}
	if multiplier <= 0 || multiplier >= 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "multiplier must be in (0,1)")
	}
	switch requires {
	case CorroborationNone, CorroborationName, CorroborationAddress:
	case "":
		requires = CorroborationNone
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown corroboration requirement: %q", requires)
	}
	return &SoftEntry{Type: idType, Value: value, Multiplier: multiplier, Requires: requires, CreatedAt: now}, nil
}

// Snapshot is an immutable view of the operator blocklist tables, injected
// into each resolution call. The engine never mutates it.
type Snapshot struct {
	hard map[key]*HardEntry
	soft map[key]*SoftEntry
}

type key struct {
	t id.IdentifierType
	v string
}

// NewSnapshot indexes entries for lookup.
func NewSnapshot(hard []*HardEntry, soft []*SoftEntry) *Snapshot {
	s := &Snapshot{
		hard: make(map[key]*HardEntry, len(hard)),
		soft: make(map[key]*SoftEntry, len(soft)),
	}
	for _, e := range hard {
		s.hard[key{e.Type, e.Value}] = e
	}
	for _, e := range soft {
		s.soft[key{e.Type, e.Value}] = e
	}
	return s
}

func (s *Snapshot) hardEntry(t id.IdentifierType, v string) (*HardEntry, bool) {
	e, ok := s.hard[key{t, v}]
	return e, ok
}

func (s *Snapshot) softEntry(t id.IdentifierType, v string) (*SoftEntry, bool) {
	e, ok := s.soft[key{t, v}]
	return e, ok
}

// placeholderTokens are values that mean "no data" across upstream systems.
var placeholderTokens = map[string]struct{}{
	"none":    {},
	"n/a":     {},
	"na":      {},
	"unknown": {},
	"test":    {},
}

// IsPlaceholderToken reports whether a normalized value is a known
// no-data placeholder.
func IsPlaceholderToken(v string) bool {
	_, ok := placeholderTokens[v]
	return ok
}

// IsRepeatedDigitPhone reports whether a normalized phone is ten copies of
// the same digit (555... placeholders, keyboard mashing).
func IsRepeatedDigitPhone(phone string) bool {
	if len(phone) != 10 || phone[0] < '0' || phone[0] > '9' {
		return false
	}
	for i := 1; i < len(phone); i++ {
		if phone[i] != phone[0] {
			return false
		}
	}
	return true
}
