// Package resolve implements the decision policy: one staged record in, one
// classified decision out. Each call is independent, consumes the ranked
// scorer output once, and leaves exactly one audit row behind no matter
// which way it went.
package resolve

import (
	"strings"
	"time"

	"trapper/internal/audit"
	id "trapper/pkg/domain"
	dErrors "trapper/pkg/domain-errors"
)

// StagedRecord is one record pulled off an intake source, untouched by
// normalization. The ingest adapters produce these; nothing upstream of
// them reaches the engine.
type StagedRecord struct {
	SourceSystem   string    `json:"source_system"`
	SourceRecordID string    `json:"source_record_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Address        string    `json:"address,omitempty"`
	ReceivedAt     time.Time `json:"received_at,omitempty"`
}

// Validate checks the fields resolution cannot proceed without. Missing
// names and identifiers are policy questions, not validation errors: the
// policy rejects them with an audit trail instead.
func (r *StagedRecord) Validate() error {
	if strings.TrimSpace(r.SourceSystem) == "" {
		return dErrors.New(dErrors.CodeValidation, "source system is required")
	}
	if strings.TrimSpace(r.SourceRecordID) == "" {
		return dErrors.New(dErrors.CodeValidation, "source record id is required")
	}
	return nil
}

func (r *StagedRecord) snapshot() audit.RecordSnapshot {
	return audit.RecordSnapshot{
		SourceSystem:   r.SourceSystem,
		SourceRecordID: r.SourceRecordID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Email:          r.Email,
		Phone:          r.Phone,
		Address:        r.Address,
	}
}

// Resolution is the caller-facing result of one resolution call.
type Resolution struct {
	DecisionID     id.DecisionID      `json:"decision_id"`
	Decision       audit.DecisionType `json:"decision"`
	Reason         string             `json:"reason,omitempty"`
	PersonID       *id.PersonID       `json:"person_id,omitempty"`
	HouseholdID    *id.HouseholdID    `json:"household_id,omitempty"`
	Confidence     float64            `json:"confidence"`
	CandidateCount int                `json:"candidate_count"`
}
