// Package namerules classifies incoming display names that should never
// become person entities: organizations, junk placeholders, and internal
// staff accounts. Organizations and junk are distinguished so downstream
// remediation can route them separately.
package namerules

import (
	"regexp"
	"strings"
	"time"

	dErrors "trapper/pkg/domain-errors"
)

// Class is the rejection class a rule assigns.
type Class string

const (
	// ClassOrganization marks names that look like a business or agency.
	ClassOrganization Class = "organization"
	// ClassGarbage marks placeholder or junk names.
	ClassGarbage Class = "garbage"
	// ClassInternal marks staff and system accounts.
	ClassInternal Class = "internal"
)

// PatternKind selects how a pattern's expression matches.
type PatternKind string

const (
	// KindExact matches the whole normalized name, case-insensitively.
	KindExact PatternKind = "exact"
	// KindWildcard matches with '*' globs ("* test account *").
	KindWildcard PatternKind = "wildcard"
	// KindRegex matches a Go regular expression.
	KindRegex PatternKind = "regex"
)

// Pattern is one operator-curated bad-name rule.
type Pattern struct {
	Kind      PatternKind
	Class     Class
	Expr      string
	CreatedAt time.Time

	re *regexp.Regexp
}

// NewPattern validates and compiles a pattern. Regex and wildcard
// expressions that fail to compile are rejected at write time so a bad rule
// can never take down snapshot loading.
func NewPattern(kind PatternKind, class Class, expr string, now time.Time) (*Pattern, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "pattern expression is required")
	}
	switch class {
	case ClassOrganization, ClassGarbage, ClassInternal:
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown pattern class: %q", class)
	}

	p := &Pattern{Kind: kind, Class: class, Expr: expr, CreatedAt: now}
	switch kind {
	case KindExact:
		// no compilation needed
	case KindWildcard:
		re, err := regexp.Compile("(?i)^" + wildcardToRegex(expr) + "$")
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid wildcard pattern")
		}
		p.re = re
	case KindRegex:
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid regex pattern")
		}
		p.re = re
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown pattern kind: %q", kind)
	}
	return p, nil
}

// Matches reports whether the normalized display name trips this pattern.
func (p *Pattern) Matches(name string) bool {
	switch p.Kind {
	case KindExact:
		return strings.EqualFold(name, p.Expr)
	default:
		return p.re != nil && p.re.MatchString(name)
	}
}

func wildcardToRegex(expr string) string {
	parts := strings.Split(expr, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return strings.Join(parts, ".*")
}

// Compile rebuilds the matcher after loading a pattern from storage.
func (p *Pattern) Compile() error {
	fresh, err := NewPattern(p.Kind, p.Class, p.Expr, p.CreatedAt)
	if err != nil {
		return err
	}
	p.re = fresh.re
	return nil
}
