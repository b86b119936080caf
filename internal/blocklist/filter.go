package blocklist

import (
	"strings"

	"trapper/internal/normalize"
	id "trapper/pkg/domain"
)

// Filter answers blocklist questions against one config snapshot. Construct
// one per resolution batch (or per request) from the snapshot loader so the
// answer set cannot shift mid-decision.
type Filter struct {
	snapshot *Snapshot
}

// NewFilter wraps a snapshot. A nil snapshot behaves as an empty blocklist;
// structural checks still apply.
func NewFilter(snapshot *Snapshot) *Filter {
	if snapshot == nil {
		snapshot = NewSnapshot(nil, nil)
	}
	return &Filter{snapshot: snapshot}
}

// IsBlocked reports whether the normalized identifier must be treated as
// absent for matching. Structural junk is blocked without an operator entry:
// empty values, placeholder tokens, all-same-digit phones, and emails whose
// local part is a placeholder token.
func (f *Filter) IsBlocked(idType id.IdentifierType, value string) bool {
	if value == "" {
		return true
	}
	if IsPlaceholderToken(value) {
		return true
	}
	if idType == id.IdentifierPhone && IsRepeatedDigitPhone(value) {
		return true
	}
	if idType == id.IdentifierEmail {
		if local, _, ok := strings.Cut(value, "@"); ok && IsPlaceholderToken(local) {
			return true
		}
	}
	_, blocked := f.snapshot.hardEntry(idType, value)
	return blocked
}

// SoftPenalty returns the soft-blocklist entry for an identifier, if any.
// The scorer applies the entry's multiplier and corroboration requirement.
func (f *Filter) SoftPenalty(idType id.IdentifierType, value string) (*SoftEntry, bool) {
	return f.snapshot.softEntry(idType, value)
}

// SafeNormalizeEmail composes normalization with the hard blocklist check.
// This is the only sanctioned way ingestion code obtains a trustworthy email:
// a blocked email normalizes to absent.
func (f *Filter) SafeNormalizeEmail(raw string) (string, bool) {
	email, ok := normalize.Email(raw)
	if !ok || f.IsBlocked(id.IdentifierEmail, email) {
		return "", false
	}
	return email, true
}

// SafeNormalizePhone composes normalization with the hard blocklist check.
func (f *Filter) SafeNormalizePhone(raw string) (string, bool) {
	phone, ok := normalize.PhoneUS(raw)
	if !ok || f.IsBlocked(id.IdentifierPhone, phone) {
		return "", false
	}
	return phone, true
}
