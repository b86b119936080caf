// Package normalize canonicalizes raw identifier strings into comparable
// forms. Every function is pure, deterministic, and idempotent; blocklist
// checks and storage live elsewhere.
package normalize

import (
	"strings"
	"unicode"
)

// Email lowercases and trims an email address. Returns false for empty or
// whitespace-only input. No RFC validation: matching only needs a stable
// comparable form, and upstream systems hold plenty of technically-invalid
// addresses that still identify a person.
func Email(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", false
	}
	return email, true
}

// PhoneUS reduces a phone number to its 10 significant digits. All non-digit
// characters are stripped; a leading country code "1" (or anything else ahead
// of the last 10 digits) is dropped. Returns false if fewer than 10 digits
// remain.
func PhoneUS(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < 10 {
		return "", false
	}
	return d[len(d)-10:], true
}

// DisplayName joins first and last into a single display name, trimming both
// and omitting empty parts. When an upstream import duplicated the full name
// into both fields (first == last), only one copy is kept.
func DisplayName(first, last string) string {
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)
	switch {
	case first == "" && last == "":
		return ""
	case first == "":
		return last
	case last == "" || strings.EqualFold(first, last):
		return first
	default:
		return first + " " + last
	}
}

// Address casefolds, trims, and collapses internal whitespace. Full postal
// standardization belongs to the geocoding collaborator; this form only needs
// to be equal for two sloppy copies of the same address.
func Address(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(lower))
	inSpace := false
	for _, r := range lower {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
