package handler

import (
	"strings"

	"trapper/internal/resolve"
	dErrors "trapper/pkg/domain-errors"
)

const maxFieldLength = 512

// ResolveRequest is the HTTP request body for POST /resolve.
type ResolveRequest struct {
	SourceSystem   string `json:"source_system"`
	SourceRecordID string `json:"source_record_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
}

// Validate validates the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *ResolveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.SourceSystem = strings.TrimSpace(r.SourceSystem)
	if r.SourceSystem == "" {
		return dErrors.New(dErrors.CodeValidation, "source_system is required")
	}
	r.SourceRecordID = strings.TrimSpace(r.SourceRecordID)
	if r.SourceRecordID == "" {
		return dErrors.New(dErrors.CodeValidation, "source_record_id is required")
	}
	for _, field := range []struct {
		name, value string
	}{
		{"first_name", r.FirstName},
		{"last_name", r.LastName},
		{"email", r.Email},
		{"phone", r.Phone},
		{"address", r.Address},
	} {
		if len(field.value) > maxFieldLength {
			return dErrors.Newf(dErrors.CodeValidation,
				"%s must be at most %d characters", field.name, maxFieldLength)
		}
	}
	return nil
}

// StagedRecord converts the request into the engine's staged record shape.
func (r *ResolveRequest) StagedRecord() resolve.StagedRecord {
	return resolve.StagedRecord{
		SourceSystem:   r.SourceSystem,
		SourceRecordID: r.SourceRecordID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Email:          r.Email,
		Phone:          r.Phone,
		Address:        r.Address,
	}
}
