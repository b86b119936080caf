package identity

import (
	"context"

	id "trapper/pkg/domain"
)

// Store is the persistence contract for the person aggregate. Stores return
// pkg/platform/sentinel errors; services translate them into coded errors.
type Store interface {
	// CreatePerson persists a new person.
	CreatePerson(ctx context.Context, person *Person) error

	// GetPerson fetches a person by ID. sentinel.ErrNotFound when absent.
	GetPerson(ctx context.Context, personID id.PersonID) (*Person, error)

	// CanonicalID resolves a person to its canonical survivor. With eager
	// chain flattening this is at most one hop.
	CanonicalID(ctx context.Context, personID id.PersonID) (id.PersonID, error)

	// MergePerson folds `from` into `into`, flattening so that every merge
	// pointer lands directly on the canonical survivor. Merging an already
	// merged `from` is sentinel.ErrInvalidState.
	MergePerson(ctx context.Context, from, into id.PersonID) error

	// SetDataQuality demotes or restores a person's quality tier.
	SetDataQuality(ctx context.Context, personID id.PersonID, quality DataQuality) error

	// AddIdentifier appends an identifier. The (person, type, normalized)
	// uniqueness constraint returns sentinel.ErrConflict for the loser of a
	// concurrent race.
	AddIdentifier(ctx context.Context, ident *Identifier) error

	// FindPersonsByIdentifier returns IDs of candidate-eligible people owning
	// an evidence-grade identifier exactly matching the normalized value.
	FindPersonsByIdentifier(ctx context.Context, idType id.IdentifierType, normalized string) ([]id.PersonID, error)

	// OwnerOfIdentifier returns any single person (eligible or not, but not
	// merged-away) owning the exact identifier. Used by the new-entity
	// fallback recheck, which must see what the scorer might have missed.
	OwnerOfIdentifier(ctx context.Context, idType id.IdentifierType, normalized string) (id.PersonID, bool, error)

	// AttachPlace links a person to a normalized address. Idempotent per
	// (person, address, source system).
	AttachPlace(ctx context.Context, rel *PlaceRelation) error

	// FindPersonsByAddress returns IDs of candidate-eligible people with a
	// place relation on the normalized address.
	FindPersonsByAddress(ctx context.Context, addressNorm string) ([]id.PersonID, error)

	// LoadCandidate assembles the read-only scoring projection for a person.
	LoadCandidate(ctx context.Context, personID id.PersonID) (*Candidate, error)

	// EnsureHousehold finds or creates the household for a normalized address.
	EnsureHousehold(ctx context.Context, addressNorm string) (*Household, error)

	// AddHouseholdMember links a person into a household and bumps the member
	// count. Idempotent: re-linking an existing member is a no-op, so a
	// replayed batch cannot double-count.
	AddHouseholdMember(ctx context.Context, householdID id.HouseholdID, personID id.PersonID) error

	// GetHousehold fetches a household by ID.
	GetHousehold(ctx context.Context, householdID id.HouseholdID) (*Household, error)
}
