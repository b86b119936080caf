package handler

import (
	"trapper/internal/resolve"
)

// ResolveResponse is the HTTP response for POST /resolve.
type ResolveResponse struct {
	DecisionID     string  `json:"decision_id"`
	Decision       string  `json:"decision"`
	Reason         string  `json:"reason,omitempty"`
	PersonID       *string `json:"person_id,omitempty"`
	HouseholdID    *string `json:"household_id,omitempty"`
	Confidence     float64 `json:"confidence"`
	CandidateCount int     `json:"candidate_count"`
}

// FromResolution converts a domain Resolution to an HTTP response.
func FromResolution(res resolve.Resolution) *ResolveResponse {
	out := &ResolveResponse{
		DecisionID:     res.DecisionID.String(),
		Decision:       string(res.Decision),
		Reason:         res.Reason,
		Confidence:     res.Confidence,
		CandidateCount: res.CandidateCount,
	}
	if res.PersonID != nil {
		s := res.PersonID.String()
		out.PersonID = &s
	}
	if res.HouseholdID != nil {
		s := res.HouseholdID.String()
		out.HouseholdID = &s
	}
	return out
}
