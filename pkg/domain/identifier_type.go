package domain

import (
	dErrors "trapper/pkg/domain-errors"
)

// IdentifierType distinguishes the two identifier kinds the engine matches on.
// Addresses are not identifiers; they block candidates through place
// relations and never prove identity on their own.
type IdentifierType string

const (
	IdentifierEmail IdentifierType = "email"
	IdentifierPhone IdentifierType = "phone"
)

// ParseIdentifierType validates an identifier type string.
func ParseIdentifierType(s string) (IdentifierType, error) {
	switch IdentifierType(s) {
	case IdentifierEmail, IdentifierPhone:
		return IdentifierType(s), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown identifier type: %q", s)
	}
}

func (t IdentifierType) String() string { return string(t) }
