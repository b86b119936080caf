package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "trapper/pkg/domain"
	"trapper/pkg/platform/sentinel"
)

func newTestPerson(t *testing.T, store *InMemoryStore, first, last string) *Person {
	t.Helper()
	person, err := NewPerson(id.NewPersonID(), first, last, first+" "+last, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.CreatePerson(context.Background(), person))
	return person
}

func newTestEmail(t *testing.T, personID id.PersonID, value string) *Identifier {
	t.Helper()
	ident, err := NewIdentifier(id.NewIdentifierID(), personID, id.IdentifierEmail,
		value, value, 1.0, "clinichq", time.Now())
	require.NoError(t, err)
	return ident
}

func TestMergePersonFlattensChains(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	a := newTestPerson(t, store, "Dana", "Whitfield")
	b := newTestPerson(t, store, "D", "Whitfield")
	c := newTestPerson(t, store, "Dana", "W")

	require.NoError(t, store.MergePerson(ctx, b.ID, a.ID))
	// Merging into an already-merged person must land on its survivor, not
	// extend the chain.
	require.NoError(t, store.MergePerson(ctx, c.ID, b.ID))

	for _, merged := range []id.PersonID{b.ID, c.ID} {
		got, err := store.GetPerson(ctx, merged)
		require.NoError(t, err)
		require.NotNil(t, got.MergedInto)
		assert.Equal(t, a.ID, *got.MergedInto)

		canonical, err := store.CanonicalID(ctx, merged)
		require.NoError(t, err)
		assert.Equal(t, a.ID, canonical)
	}
}

func TestMergePersonRejectsBadStates(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	a := newTestPerson(t, store, "Ray", "Okafor")
	b := newTestPerson(t, store, "Raymond", "Okafor")

	require.NoError(t, store.MergePerson(ctx, a.ID, b.ID))

	// Re-merging a merged person is invalid.
	err := store.MergePerson(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	// Merging the survivor back into its own merged record would cycle.
	err = store.MergePerson(ctx, b.ID, a.ID)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestAddIdentifierUniqueAcrossPersons(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := newTestPerson(t, store, "Kerry", "Lin")
	second := newTestPerson(t, store, "K", "Lin")

	require.NoError(t, store.AddIdentifier(ctx, newTestEmail(t, first.ID, "kerry@example.com")))

	// Same value on the same person is an idempotent no-op.
	require.NoError(t, store.AddIdentifier(ctx, newTestEmail(t, first.ID, "kerry@example.com")))

	// The second person claiming the same email loses the race.
	err := store.AddIdentifier(ctx, newTestEmail(t, second.ID, "kerry@example.com"))
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestAddIdentifierSharedValuesMultiOwner(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := newTestPerson(t, store, "Front", "Desk")
	second := newTestPerson(t, store, "Back", "Office")

	shared := newTestEmail(t, first.ID, "adoptions@example.org")
	shared.Shared = true
	require.NoError(t, store.AddIdentifier(ctx, shared))

	also := newTestEmail(t, second.ID, "adoptions@example.org")
	also.Shared = true
	require.NoError(t, store.AddIdentifier(ctx, also))

	// Shared values never force-bind to a single owner.
	_, found, err := store.OwnerOfIdentifier(ctx, id.IdentifierEmail, "adoptions@example.org")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindPersonsByIdentifierSkipsIneligible(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	eligible := newTestPerson(t, store, "Mia", "Torres")
	garbage := newTestPerson(t, store, "Asdf", "Qwerty")

	require.NoError(t, store.AddIdentifier(ctx, newTestEmail(t, eligible.ID, "mia@example.com")))

	low := newTestEmail(t, garbage.ID, "shared@example.com")
	low.Shared = true
	require.NoError(t, store.AddIdentifier(ctx, low))
	require.NoError(t, store.SetDataQuality(ctx, garbage.ID, QualityGarbage))

	got, err := store.FindPersonsByIdentifier(ctx, id.IdentifierEmail, "mia@example.com")
	require.NoError(t, err)
	assert.Equal(t, []id.PersonID{eligible.ID}, got)

	got, err = store.FindPersonsByIdentifier(ctx, id.IdentifierEmail, "shared@example.com")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOwnerOfIdentifierFollowsMergePointer(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	merged := newTestPerson(t, store, "Sam", "Pierce")
	survivor := newTestPerson(t, store, "Samuel", "Pierce")

	require.NoError(t, store.AddIdentifier(ctx, newTestEmail(t, merged.ID, "sam@example.com")))
	require.NoError(t, store.MergePerson(ctx, merged.ID, survivor.ID))

	owner, found, err := store.OwnerOfIdentifier(ctx, id.IdentifierEmail, "sam@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, survivor.ID, owner)
}

func TestHouseholdMembershipIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	person := newTestPerson(t, store, "Noor", "Haddad")

	household, err := store.EnsureHousehold(ctx, "114 blossom ct, sebastopol, ca 95472")
	require.NoError(t, err)

	again, err := store.EnsureHousehold(ctx, "114 blossom ct, sebastopol, ca 95472")
	require.NoError(t, err)
	assert.Equal(t, household.ID, again.ID)

	require.NoError(t, store.AddHouseholdMember(ctx, household.ID, person.ID))
	require.NoError(t, store.AddHouseholdMember(ctx, household.ID, person.ID))

	got, err := store.GetHousehold(ctx, household.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MemberCount)

	p, err := store.GetPerson(ctx, person.ID)
	require.NoError(t, err)
	require.NotNil(t, p.HouseholdID)
	assert.Equal(t, household.ID, *p.HouseholdID)
}

func TestLoadCandidateAggregates(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	person := newTestPerson(t, store, "Iris", "Vann")
	require.NoError(t, store.AddIdentifier(ctx, newTestEmail(t, person.ID, "iris@example.com")))
	require.NoError(t, store.AttachPlace(ctx, &PlaceRelation{
		PlaceID:      id.NewPlaceID(),
		PersonID:     person.ID,
		AddressRaw:   "9 Elm St",
		AddressNorm:  "9 elm st",
		SourceSystem: "jotform",
		CreatedAt:    time.Now(),
	}))

	cand, err := store.LoadCandidate(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, person.ID, cand.Person.ID)
	require.Len(t, cand.Identifiers, 1)
	assert.Equal(t, "iris@example.com", cand.Identifiers[0].Normalized)
	require.Len(t, cand.Places, 1)
	assert.Equal(t, "9 elm st", cand.Places[0].AddressNorm)
	assert.Equal(t, []string{"iris@example.com"}, cand.EmailValues())
}

func TestLoadCandidateIncludesMergedEvidence(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	duplicate := newTestPerson(t, store, "Bob", "Tran")
	survivor := newTestPerson(t, store, "Robert", "Tran")

	require.NoError(t, store.AddIdentifier(ctx, newTestEmail(t, duplicate.ID, "bob@example.com")))
	require.NoError(t, store.AttachPlace(ctx, &PlaceRelation{
		PlaceID:      id.NewPlaceID(),
		PersonID:     duplicate.ID,
		AddressRaw:   "42 Fern Way",
		AddressNorm:  "42 fern way",
		SourceSystem: "clinichq",
		CreatedAt:    time.Now(),
	}))
	require.NoError(t, store.MergePerson(ctx, duplicate.ID, survivor.ID))

	// Evidence left on the merged-away record still scores for the survivor.
	cand, err := store.LoadCandidate(ctx, survivor.ID)
	require.NoError(t, err)
	assert.Equal(t, survivor.ID, cand.Person.ID)
	assert.Equal(t, []string{"bob@example.com"}, cand.EmailValues())
	require.Len(t, cand.Places, 1)
	assert.Equal(t, "42 fern way", cand.Places[0].AddressNorm)
}
