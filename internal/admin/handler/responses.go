package handler

import (
	"time"

	"trapper/internal/blocklist"
	"trapper/internal/namerules"
)

// HardEntryResponse is the HTTP response DTO for a hard blocklist entry.
type HardEntryResponse struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SoftEntryResponse is the HTTP response DTO for a soft blocklist entry.
type SoftEntryResponse struct {
	Type       string    `json:"type"`
	Value      string    `json:"value"`
	Multiplier float64   `json:"multiplier"`
	Requires   string    `json:"requires"`
	KnownNames []string  `json:"known_names,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BlocklistResponse wraps both blocklist tiers.
type BlocklistResponse struct {
	Hard []HardEntryResponse `json:"hard"`
	Soft []SoftEntryResponse `json:"soft"`
}

// PatternResponse is the HTTP response DTO for a name classification rule.
type PatternResponse struct {
	Kind      string    `json:"kind"`
	Class     string    `json:"class"`
	Expr      string    `json:"expr"`
	CreatedAt time.Time `json:"created_at"`
}

// PatternsResponse wraps the rule list.
type PatternsResponse struct {
	Patterns []PatternResponse `json:"patterns"`
}

func hardResponse(e *blocklist.HardEntry) HardEntryResponse {
	return HardEntryResponse{
		Type:      string(e.Type),
		Value:     e.Value,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt,
	}
}

func hardResponses(entries []*blocklist.HardEntry) []HardEntryResponse {
	out := make([]HardEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, hardResponse(e))
	}
	return out
}

func softResponse(e *blocklist.SoftEntry) SoftEntryResponse {
	return SoftEntryResponse{
		Type:       string(e.Type),
		Value:      e.Value,
		Multiplier: e.Multiplier,
		Requires:   string(e.Requires),
		KnownNames: e.KnownNames,
		CreatedAt:  e.CreatedAt,
	}
}

func softResponses(entries []*blocklist.SoftEntry) []SoftEntryResponse {
	out := make([]SoftEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, softResponse(e))
	}
	return out
}

func patternResponse(p *namerules.Pattern) PatternResponse {
	return PatternResponse{
		Kind:      string(p.Kind),
		Class:     string(p.Class),
		Expr:      p.Expr,
		CreatedAt: p.CreatedAt,
	}
}

func patternResponses(patterns []*namerules.Pattern) []PatternResponse {
	out := make([]PatternResponse, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, patternResponse(p))
	}
	return out
}
