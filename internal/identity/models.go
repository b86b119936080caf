// Package identity holds the person aggregate the engine resolves against:
// people, their identifiers, their place relations, and household groupings.
// The scorer only ever sees read-only projections; all mutation goes through
// the store on behalf of the decision policy.
package identity

import (
	"time"

	id "trapper/pkg/domain"
	dErrors "trapper/pkg/domain-errors"
)

// DataQuality tiers exclude an entity from candidacy without deleting it, so
// historical relationships and the audit trail stay intact.
type DataQuality string

const (
	QualityNormal      DataQuality = "normal"
	QualityLow         DataQuality = "low"
	QualityGarbage     DataQuality = "garbage"
	QualityNeedsReview DataQuality = "needs_review"
)

// ParseDataQuality validates a quality tier string.
func ParseDataQuality(s string) (DataQuality, error) {
	switch DataQuality(s) {
	case QualityNormal, QualityLow, QualityGarbage, QualityNeedsReview:
		return DataQuality(s), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown data quality tier: %q", s)
	}
}

// Eligible reports whether this tier may be offered as a match candidate.
func (q DataQuality) Eligible() bool {
	return q == QualityNormal || q == QualityLow
}

// MinEvidenceConfidence is the floor below which an identifier may be
// displayed but never used as match evidence.
const MinEvidenceConfidence = 0.5

// Person is the canonical person aggregate. At most one person is canonical
// per real-world referent; duplicates point at their survivor through
// MergedInto and are never deleted.
type Person struct {
	ID          id.PersonID
	FirstName   string
	LastName    string
	DisplayName string
	DataQuality DataQuality
	// MergedInto, when set, must point directly at the canonical survivor:
	// chains are flattened to length one on write, never chased at read time.
	MergedInto  *id.PersonID
	HouseholdID *id.HouseholdID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPerson creates a person with normal quality.
func NewPerson(personID id.PersonID, first, last, display string, now time.Time) (*Person, error) {
	if personID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "person id is required")
	}
	if display == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "display name is required")
	}
	return &Person{
		ID:          personID,
		FirstName:   first,
		LastName:    last,
		DisplayName: display,
		DataQuality: QualityNormal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsMerged reports whether this person has been folded into another.
func (p *Person) IsMerged() bool { return p.MergedInto != nil }

// CandidateEligible reports whether this person may appear in a candidate set.
func (p *Person) CandidateEligible() bool {
	return !p.IsMerged() && p.DataQuality.Eligible()
}

// Identifier is an email or phone owned by a person. Rows are append-only:
// a replacement gets the next version, the superseded row stays for audit.
//
// Unshared identifiers are globally unique per (type, normalized value); the
// loser of a concurrent create fails fast on the constraint instead of
// silently duplicating a person. Shared is set for soft-blocklisted values
// (office lines, family inboxes) that legitimately sit on several people and
// are exempt from the constraint.
type Identifier struct {
	ID           id.IdentifierID
	PersonID     id.PersonID
	Type         id.IdentifierType
	Raw          string
	Normalized   string
	Confidence   float64
	SourceSystem string
	Shared       bool
	Version      int
	CreatedAt    time.Time
}

// NewIdentifier validates an identifier before persistence.
func NewIdentifier(identifierID id.IdentifierID, personID id.PersonID, idType id.IdentifierType, raw, normalized string, confidence float64, sourceSystem string, now time.Time) (*Identifier, error) {
	if _, err := id.ParseIdentifierType(string(idType)); err != nil {
		return nil, err
	}
	if normalized == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "normalized value is required")
	}
	if confidence < 0 || confidence > 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "confidence must be in [0,1]")
	}
	if sourceSystem == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "source system is required")
	}
	return &Identifier{
		ID:           identifierID,
		PersonID:     personID,
		Type:         idType,
		Raw:          raw,
		Normalized:   normalized,
		Confidence:   confidence,
		SourceSystem: sourceSystem,
		Version:      1,
		CreatedAt:    now,
	}, nil
}

// UsableAsEvidence reports whether this identifier may contribute to a match
// score.
func (i *Identifier) UsableAsEvidence() bool {
	return i.Confidence >= MinEvidenceConfidence
}

// PlaceRelation links a person to a normalized address, tagged with the
// source system that asserted it. The same address arriving from a second
// source is the "enriched" agreement the weighted scorer credits separately.
type PlaceRelation struct {
	PlaceID      id.PlaceID
	PersonID     id.PersonID
	AddressRaw   string
	AddressNorm  string
	SourceSystem string
	CreatedAt    time.Time
}

// Household is a weak grouping of people sharing an address, used only to
// tell "same person" from "different member of the same household".
// Membership is inferred, never a primary key.
type Household struct {
	ID          id.HouseholdID
	AddressNorm string
	MemberCount int
	CreatedAt   time.Time
}

// Candidate is a read-only projection of a person plus everything the scorer
// compares on. Produced only for scoring; never persisted.
type Candidate struct {
	Person      Person
	Identifiers []Identifier
	Places      []PlaceRelation
	Household   *Household
}

// EmailValues returns the evidence-grade normalized emails on file.
func (c *Candidate) EmailValues() []string {
	return c.identifierValues(id.IdentifierEmail)
}

// PhoneValues returns the evidence-grade normalized phones on file.
func (c *Candidate) PhoneValues() []string {
	return c.identifierValues(id.IdentifierPhone)
}

func (c *Candidate) identifierValues(t id.IdentifierType) []string {
	var out []string
	for _, ident := range c.Identifiers {
		if ident.Type == t && ident.UsableAsEvidence() {
			out = append(out, ident.Normalized)
		}
	}
	return out
}

// AddressSources returns the source systems asserting the given normalized
// address for this candidate.
func (c *Candidate) AddressSources(addressNorm string) []string {
	var out []string
	for _, pl := range c.Places {
		if pl.AddressNorm == addressNorm {
			out = append(out, pl.SourceSystem)
		}
	}
	return out
}
