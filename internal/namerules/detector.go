package namerules

import (
	"strings"
	"unicode"
)

// orgTokens are words that mark a display name as a business or agency when
// they appear as a whole token. Derived from the kinds of records upstream
// vendor feeds actually deliver (clinics, rescues, shelters, county offices).
var orgTokens = map[string]struct{}{
	"inc": {}, "llc": {}, "corp": {}, "co": {}, "ltd": {},
	"rescue": {}, "shelter": {}, "clinic": {}, "hospital": {}, "veterinary": {},
	"vet": {}, "society": {}, "humane": {}, "spca": {}, "foundation": {},
	"services": {}, "department": {}, "county": {}, "city": {}, "church": {},
	"school": {}, "farm": {}, "ranch": {}, "winery": {}, "apartments": {},
}

// internalTokens mark staff and system bookkeeping accounts.
var internalTokens = map[string]struct{}{
	"admin": {}, "staff": {}, "volunteer": {}, "foster": {},
	"frontdesk": {}, "walkin": {}, "walk-in": {},
}

// garbageNames are whole names that mean "no name".
var garbageNames = map[string]struct{}{
	"none": {}, "n/a": {}, "na": {}, "unknown": {}, "test": {},
	"no name": {}, "name": {}, "caller": {}, "owner": {}, "anonymous": {},
	"same": {}, "x": {}, "xx": {}, "xxx": {}, "-": {}, ".": {},
}

// IsOrganizationName reports whether the display name looks like a business
// rather than a person.
func IsOrganizationName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return false
	}
	if strings.Contains(lower, "@") {
		// An email address in the name field is an org inbox, not a person.
		return true
	}
	for _, token := range splitNameTokens(lower) {
		if _, ok := orgTokens[token]; ok {
			return true
		}
	}
	return false
}

// IsGarbageName reports whether the display name carries no identifying
// content: placeholder words, bare digits, or a single character.
func IsGarbageName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return true
	}
	if _, ok := garbageNames[lower]; ok {
		return true
	}
	if len([]rune(lower)) < 2 {
		return true
	}
	digitsOnly := true
	for _, r := range lower {
		if !unicode.IsDigit(r) && !unicode.IsSpace(r) && r != '-' {
			digitsOnly = false
			break
		}
	}
	return digitsOnly
}

// IsInternalName reports whether the display name is a staff or system
// placeholder account.
func IsInternalName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return false
	}
	for _, token := range splitNameTokens(lower) {
		if _, ok := internalTokens[token]; ok {
			return true
		}
	}
	return strings.HasPrefix(lower, "ffsc ") || lower == "ffsc"
}

func splitNameTokens(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '.' || r == '(' || r == ')' || r == '&' || r == '/'
	})
}

// Snapshot combines the built-in detectors with the operator pattern table.
type Snapshot struct {
	patterns []*Pattern
}

// NewSnapshot wraps a loaded pattern table.
func NewSnapshot(patterns []*Pattern) *Snapshot {
	return &Snapshot{patterns: patterns}
}

// Classify returns the rejection class for a display name, or false when the
// name is acceptable. Operator patterns win over built-in heuristics so staff
// can both extend and refine classification; internal detection runs first
// because staff placeholder names often also look like garbage.
func (s *Snapshot) Classify(name string) (Class, string, bool) {
	trimmed := strings.TrimSpace(name)
	for _, p := range s.patterns {
		if p.Matches(trimmed) {
			return p.Class, "operator pattern: " + p.Expr, true
		}
	}
	switch {
	case IsInternalName(trimmed):
		return ClassInternal, "internal placeholder name", true
	case IsOrganizationName(trimmed):
		return ClassOrganization, "organization name", true
	case IsGarbageName(trimmed):
		return ClassGarbage, "garbage or placeholder name", true
	}
	return "", "", false
}
