// Package audit owns the append-only decision log. Every resolution call
// lands exactly one decision row, rejections and errors included, with the
// full ranked candidate breakdown so a reviewer can see not just who won but
// who lost and by how much.
package audit

import (
	"time"

	"trapper/internal/match"
	id "trapper/pkg/domain"
	dErrors "trapper/pkg/domain-errors"
)

// DecisionType is the outcome vocabulary.
type DecisionType string

const (
	DecisionAutoMatch          DecisionType = "auto_match"
	DecisionHouseholdMember    DecisionType = "household_member"
	DecisionReviewPending      DecisionType = "review_pending"
	DecisionNewEntity          DecisionType = "new_entity"
	DecisionRejected           DecisionType = "rejected"
	DecisionError              DecisionType = "error"
	DecisionIntegrityViolation DecisionType = "integrity_violation"
)

// Rejection reasons recorded alongside DecisionRejected.
const (
	ReasonInternalName         = "internal_name"
	ReasonOrganizationName     = "organization_name"
	ReasonGarbageName          = "garbage_name"
	ReasonNoIdentifier         = "no_identifier"
	ReasonBlocklistedEmailOnly = "blocklisted_email_only"
)

// RecordSnapshot is the staged input exactly as it arrived, before
// normalization, preserved so a decision can be re-derived later.
type RecordSnapshot struct {
	SourceSystem   string `json:"source_system"`
	SourceRecordID string `json:"source_record_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Address        string `json:"address,omitempty"`
}

// CandidateBreakdown is one ranked candidate's full score, losers included.
type CandidateBreakdown struct {
	PersonID   id.PersonID        `json:"person_id"`
	Rank       int                `json:"rank"`
	Strategy   string             `json:"strategy"`
	Confidence float64            `json:"confidence"`
	Total      float64            `json:"total"`
	NameSim    float64            `json:"name_similarity"`
	Fields     []match.FieldScore `json:"fields"`
}

// maxBreakdowns caps the per-decision explanation payload.
const maxBreakdowns = 50

// BreakdownsFromRanked converts scorer output into the stored explanation.
func BreakdownsFromRanked(ranked []match.Ranked) []CandidateBreakdown {
	if len(ranked) > maxBreakdowns {
		ranked = ranked[:maxBreakdowns]
	}
	out := make([]CandidateBreakdown, 0, len(ranked))
	for i, r := range ranked {
		out = append(out, CandidateBreakdown{
			PersonID:   r.Score.PersonID,
			Rank:       i + 1,
			Strategy:   r.Score.Strategy,
			Confidence: r.Score.Confidence,
			Total:      r.Score.Total,
			NameSim:    r.Score.NameSim,
			Fields:     r.Score.Fields,
		})
	}
	return out
}

// Decision is one immutable audit row.
type Decision struct {
	ID             id.DecisionID        `json:"id"`
	SourceSystem   string               `json:"source_system"`
	SourceRecordID string               `json:"source_record_id"`
	Input          RecordSnapshot       `json:"input"`
	Decision       DecisionType         `json:"decision"`
	Reason         string               `json:"reason,omitempty"`
	PersonID       *id.PersonID         `json:"person_id,omitempty"`
	HouseholdID    *id.HouseholdID      `json:"household_id,omitempty"`
	Confidence     float64              `json:"confidence"`
	CandidateCount int                  `json:"candidate_count"`
	Candidates     []CandidateBreakdown `json:"candidates,omitempty"`
	RequestID      string               `json:"request_id,omitempty"`
	Duration       time.Duration        `json:"duration"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Validate checks the invariants every decision row must satisfy before it
// is persisted: matching and creating outcomes bind a person, terminal
// failures never do.
func (d *Decision) Validate() error {
	if d.ID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "decision id is required")
	}
	if d.SourceSystem == "" || d.SourceRecordID == "" {
		return dErrors.New(dErrors.CodeValidation, "decision needs a source system and record id")
	}
	switch d.Decision {
	case DecisionAutoMatch, DecisionHouseholdMember, DecisionNewEntity, DecisionReviewPending:
		if d.PersonID == nil {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"%s decision without a person", d.Decision)
		}
	case DecisionRejected, DecisionError, DecisionIntegrityViolation:
		if d.PersonID != nil {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"%s decision must not bind a person", d.Decision)
		}
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown decision type %q", d.Decision)
	}
	return nil
}
