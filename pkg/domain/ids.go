package domain

import (
	"github.com/google/uuid"

	dErrors "trapper/pkg/domain-errors"
)

// Typed IDs keep person, place, household, and decision references from being
// swapped for one another at compile time. Stores and services should never
// pass raw uuid.UUID values across package boundaries.
type (
	PersonID     uuid.UUID
	PlaceID      uuid.UUID
	HouseholdID  uuid.UUID
	IdentifierID uuid.UUID
	DecisionID   uuid.UUID
)

func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be the nil uuid")
	}
	return id, nil
}

// ParsePersonID validates and returns a PersonID.
func ParsePersonID(raw string) (PersonID, error) {
	id, err := parseUUID(raw, "person")
	return PersonID(id), err
}

// ParsePlaceID validates and returns a PlaceID.
func ParsePlaceID(raw string) (PlaceID, error) {
	id, err := parseUUID(raw, "place")
	return PlaceID(id), err
}

// ParseHouseholdID validates and returns a HouseholdID.
func ParseHouseholdID(raw string) (HouseholdID, error) {
	id, err := parseUUID(raw, "household")
	return HouseholdID(id), err
}

// ParseIdentifierID validates and returns an IdentifierID.
func ParseIdentifierID(raw string) (IdentifierID, error) {
	id, err := parseUUID(raw, "identifier")
	return IdentifierID(id), err
}

// ParseDecisionID validates and returns a DecisionID.
func ParseDecisionID(raw string) (DecisionID, error) {
	id, err := parseUUID(raw, "decision")
	return DecisionID(id), err
}

func (id PersonID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id PlaceID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id HouseholdID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id IdentifierID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DecisionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

func (id PersonID) String() string     { return uuid.UUID(id).String() }
func (id PlaceID) String() string      { return uuid.UUID(id).String() }
func (id HouseholdID) String() string  { return uuid.UUID(id).String() }
func (id IdentifierID) String() string { return uuid.UUID(id).String() }
func (id DecisionID) String() string   { return uuid.UUID(id).String() }

// The marshalling methods below keep typed IDs rendering as canonical uuid
// strings in JSON and logs. Defined types do not inherit uuid.UUID's methods.

func (id PersonID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id PlaceID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id HouseholdID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id IdentifierID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id DecisionID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *PersonID) UnmarshalText(b []byte) error {
	parsed, err := ParsePersonID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *PlaceID) UnmarshalText(b []byte) error {
	parsed, err := ParsePlaceID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *HouseholdID) UnmarshalText(b []byte) error {
	parsed, err := ParseHouseholdID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *IdentifierID) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentifierID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *DecisionID) UnmarshalText(b []byte) error {
	parsed, err := ParseDecisionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewPersonID allocates a fresh random PersonID.
func NewPersonID() PersonID { return PersonID(uuid.New()) }

// NewPlaceID allocates a fresh random PlaceID.
func NewPlaceID() PlaceID { return PlaceID(uuid.New()) }

// NewHouseholdID allocates a fresh random HouseholdID.
func NewHouseholdID() HouseholdID { return HouseholdID(uuid.New()) }

// NewIdentifierID allocates a fresh random IdentifierID.
func NewIdentifierID() IdentifierID { return IdentifierID(uuid.New()) }

// NewDecisionID allocates a fresh random DecisionID.
func NewDecisionID() DecisionID { return DecisionID(uuid.New()) }
