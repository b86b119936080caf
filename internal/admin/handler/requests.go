package handler

import (
	"strings"
	"time"

	"trapper/internal/blocklist"
	"trapper/internal/match"
	"trapper/internal/namerules"
	id "trapper/pkg/domain"
	dErrors "trapper/pkg/domain-errors"
)

// AddHardRequest is the HTTP request DTO for a hard blocklist entry.
type AddHardRequest struct {
	Type   string `json:"type"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// Validate normalizes and checks required fields.
func (r *AddHardRequest) Validate() error {
	r.Type = strings.TrimSpace(r.Type)
	r.Value = strings.TrimSpace(r.Value)
	if r.Type == "" {
		return dErrors.New(dErrors.CodeValidation, "type is required")
	}
	if r.Value == "" {
		return dErrors.New(dErrors.CodeValidation, "value is required")
	}
	return nil
}

// Entry converts the request into a validated domain entry.
func (r *AddHardRequest) Entry() (*blocklist.HardEntry, error) {
	return blocklist.NewHardEntry(id.IdentifierType(r.Type), r.Value, r.Reason, time.Now().UTC())
}

// AddSoftRequest is the HTTP request DTO for a soft blocklist entry.
type AddSoftRequest struct {
	Type       string   `json:"type"`
	Value      string   `json:"value"`
	Multiplier float64  `json:"multiplier"`
	Requires   string   `json:"requires"`
	KnownNames []string `json:"known_names"`
}

// Validate normalizes and checks required fields.
func (r *AddSoftRequest) Validate() error {
	r.Type = strings.TrimSpace(r.Type)
	r.Value = strings.TrimSpace(r.Value)
	if r.Type == "" {
		return dErrors.New(dErrors.CodeValidation, "type is required")
	}
	if r.Value == "" {
		return dErrors.New(dErrors.CodeValidation, "value is required")
	}
	return nil
}

// Entry converts the request into a validated domain entry.
func (r *AddSoftRequest) Entry() (*blocklist.SoftEntry, error) {
	entry, err := blocklist.NewSoftEntry(
		id.IdentifierType(r.Type), r.Value, r.Multiplier,
		blocklist.Corroboration(r.Requires), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	entry.KnownNames = r.KnownNames
	return entry, nil
}

// AddPatternRequest is the HTTP request DTO for a name classification rule.
type AddPatternRequest struct {
	Kind  string `json:"kind"`
	Class string `json:"class"`
	Expr  string `json:"expr"`
}

// Validate normalizes and checks required fields.
func (r *AddPatternRequest) Validate() error {
	r.Kind = strings.TrimSpace(r.Kind)
	r.Class = strings.TrimSpace(r.Class)
	if r.Kind == "" || r.Class == "" {
		return dErrors.New(dErrors.CodeValidation, "kind and class are required")
	}
	if strings.TrimSpace(r.Expr) == "" {
		return dErrors.New(dErrors.CodeValidation, "expr is required")
	}
	return nil
}

// Pattern converts the request into a validated, compiled rule.
func (r *AddPatternRequest) Pattern() (*namerules.Pattern, error) {
	return namerules.NewPattern(
		namerules.PatternKind(r.Kind), namerules.Class(r.Class), r.Expr, time.Now().UTC())
}

// UpdateParamsRequest carries a full replacement scoring parameter set.
// Partial updates are deliberately unsupported; operators submit the whole
// set so the decision log can be read against one coherent configuration.
type UpdateParamsRequest match.FSParams

// Validate defers to the parameter set's own consistency checks.
func (r *UpdateParamsRequest) Validate() error {
	return match.FSParams(*r).Validate()
}
