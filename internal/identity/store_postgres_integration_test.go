//go:build integration

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "trapper/pkg/domain"
	"trapper/pkg/platform/sentinel"
	"trapper/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"household_members", "person_places", "identifiers", "persons", "households")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) createPerson(first, last string) *Person {
	s.T().Helper()
	person, err := NewPerson(id.PersonID(uuid.New()), first, last, first+" "+last, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreatePerson(context.Background(), person))
	return person
}

func (s *PostgresStoreSuite) addEmail(person *Person, normalized string, shared bool) {
	s.T().Helper()
	ident, err := NewIdentifier(id.IdentifierID(uuid.New()), person.ID, id.IdentifierEmail,
		normalized, normalized, 0.95, "clinichq", time.Now().UTC())
	s.Require().NoError(err)
	ident.Shared = shared
	s.Require().NoError(s.store.AddIdentifier(context.Background(), ident))
}

func (s *PostgresStoreSuite) TestCreateAndGetPerson() {
	ctx := context.Background()
	created := s.createPerson("Marguerite", "Delacroix-Fontaine")

	got, err := s.store.GetPerson(ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.ID, got.ID)
	s.Equal("Marguerite", got.FirstName)
	s.Equal(QualityNormal, got.DataQuality)
	s.Nil(got.MergedInto)

	_, err = s.store.GetPerson(ctx, id.PersonID(uuid.New()))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestSetDataQuality() {
	ctx := context.Background()
	person := s.createPerson("Ty", "Ubach")

	s.Require().NoError(s.store.SetDataQuality(ctx, person.ID, QualityGarbage))
	got, err := s.store.GetPerson(ctx, person.ID)
	s.Require().NoError(err)
	s.Equal(QualityGarbage, got.DataQuality)

	err = s.store.SetDataQuality(ctx, id.PersonID(uuid.New()), QualityLow)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestMergeFlattensChains() {
	ctx := context.Background()
	a := s.createPerson("Amy", "First")
	b := s.createPerson("Amy", "Second")
	c := s.createPerson("Amy", "Third")

	s.Require().NoError(s.store.MergePerson(ctx, a.ID, b.ID))
	s.Require().NoError(s.store.MergePerson(ctx, b.ID, c.ID))

	// a pointed at b before b was merged; the second merge must rewrite a's
	// pointer so no chain is ever longer than one hop.
	gotA, err := s.store.GetPerson(ctx, a.ID)
	s.Require().NoError(err)
	s.Require().NotNil(gotA.MergedInto)
	s.Equal(c.ID, *gotA.MergedInto)

	canonical, err := s.store.CanonicalID(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(c.ID, canonical)
}

func (s *PostgresStoreSuite) TestMergeLandsOnSurvivor() {
	ctx := context.Background()
	a := s.createPerson("Bo", "First")
	b := s.createPerson("Bo", "Second")
	c := s.createPerson("Bo", "Third")

	s.Require().NoError(s.store.MergePerson(ctx, a.ID, b.ID))

	// Merging into an already-merged person must land on its survivor.
	s.Require().NoError(s.store.MergePerson(ctx, c.ID, a.ID))
	gotC, err := s.store.GetPerson(ctx, c.ID)
	s.Require().NoError(err)
	s.Require().NotNil(gotC.MergedInto)
	s.Equal(b.ID, *gotC.MergedInto)
}

func (s *PostgresStoreSuite) TestMergeRejectsInvalidStates() {
	ctx := context.Background()
	a := s.createPerson("Cy", "First")
	b := s.createPerson("Cy", "Second")

	s.Require().NoError(s.store.MergePerson(ctx, a.ID, b.ID))

	// Already-merged source.
	err := s.store.MergePerson(ctx, a.ID, b.ID)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)

	// Merging the survivor into its own duplicate would form a cycle.
	err = s.store.MergePerson(ctx, b.ID, a.ID)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestIdentifierExclusiveOwnership() {
	ctx := context.Background()
	owner := s.createPerson("Dee", "Owner")
	rival := s.createPerson("Eve", "Rival")

	s.addEmail(owner, "dee@example.org", false)

	// Same person, same value: idempotent no-op.
	s.addEmail(owner, "dee@example.org", false)

	// A second person claiming the unshared value trips the partial unique
	// index and surfaces as a conflict.
	ident, err := NewIdentifier(id.IdentifierID(uuid.New()), rival.ID, id.IdentifierEmail,
		"dee@example.org", "dee@example.org", 0.95, "jotform", time.Now().UTC())
	s.Require().NoError(err)
	err = s.store.AddIdentifier(ctx, ident)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	ownerID, found, err := s.store.OwnerOfIdentifier(ctx, id.IdentifierEmail, "dee@example.org")
	s.Require().NoError(err)
	s.True(found)
	s.Equal(owner.ID, ownerID)
}

func (s *PostgresStoreSuite) TestSharedIdentifierOnMultiplePersons() {
	ctx := context.Background()
	first := s.createPerson("Fay", "Sharer")
	second := s.createPerson("Gus", "Sharer")

	s.addEmail(first, "office@example.org", true)
	s.addEmail(second, "office@example.org", true)

	_, found, err := s.store.OwnerOfIdentifier(ctx, id.IdentifierEmail, "office@example.org")
	s.Require().NoError(err)
	s.False(found, "shared identifiers have no exclusive owner")

	ids, err := s.store.FindPersonsByIdentifier(ctx, id.IdentifierEmail, "office@example.org")
	s.Require().NoError(err)
	s.Len(ids, 2)
}

func (s *PostgresStoreSuite) TestFindPersonsByIdentifierFollowsMerges() {
	ctx := context.Background()
	dup := s.createPerson("Hal", "Duplicate")
	survivor := s.createPerson("Hal", "Survivor")

	s.addEmail(dup, "hal@example.org", false)
	s.Require().NoError(s.store.MergePerson(ctx, dup.ID, survivor.ID))

	ids, err := s.store.FindPersonsByIdentifier(ctx, id.IdentifierEmail, "hal@example.org")
	s.Require().NoError(err)
	s.Require().Len(ids, 1)
	s.Equal(survivor.ID, ids[0], "identifier on a merged person resolves to the survivor")
}

func (s *PostgresStoreSuite) TestFindPersonsByIdentifierFiltersQualityAndConfidence() {
	ctx := context.Background()
	garbage := s.createPerson("Ivy", "Garbage")
	lowConf := s.createPerson("Jan", "LowConf")

	s.addEmail(garbage, "ivy@example.org", false)
	s.Require().NoError(s.store.SetDataQuality(ctx, garbage.ID, QualityGarbage))

	ident, err := NewIdentifier(id.IdentifierID(uuid.New()), lowConf.ID, id.IdentifierEmail,
		"jan@example.org", "jan@example.org", 0.3, "airtable", time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.store.AddIdentifier(ctx, ident))

	ids, err := s.store.FindPersonsByIdentifier(ctx, id.IdentifierEmail, "ivy@example.org")
	s.Require().NoError(err)
	s.Empty(ids, "garbage-quality persons never surface as candidates")

	ids, err = s.store.FindPersonsByIdentifier(ctx, id.IdentifierEmail, "jan@example.org")
	s.Require().NoError(err)
	s.Empty(ids, "below-floor confidence is not match evidence")
}

func (s *PostgresStoreSuite) TestAttachPlaceAndFindByAddress() {
	ctx := context.Background()
	person := s.createPerson("Kai", "Resident")

	rel := &PlaceRelation{
		PlaceID:      id.PlaceID(uuid.New()),
		PersonID:     person.ID,
		AddressRaw:   "123 Main St, Santa Rosa CA",
		AddressNorm:  "123 main st santa rosa ca",
		SourceSystem: "clinichq",
		CreatedAt:    time.Now().UTC(),
	}
	s.Require().NoError(s.store.AttachPlace(ctx, rel))
	// Replay from the same source is a no-op.
	s.Require().NoError(s.store.AttachPlace(ctx, rel))

	ids, err := s.store.FindPersonsByAddress(ctx, "123 main st santa rosa ca")
	s.Require().NoError(err)
	s.Require().Len(ids, 1)
	s.Equal(person.ID, ids[0])
}

func (s *PostgresStoreSuite) TestHouseholdLifecycle() {
	ctx := context.Background()
	first := s.createPerson("Lou", "Member")
	second := s.createPerson("Mia", "Member")

	h1, err := s.store.EnsureHousehold(ctx, "9 elm ave petaluma ca")
	s.Require().NoError(err)
	h2, err := s.store.EnsureHousehold(ctx, "9 elm ave petaluma ca")
	s.Require().NoError(err)
	s.Equal(h1.ID, h2.ID, "EnsureHousehold is idempotent per address")

	s.Require().NoError(s.store.AddHouseholdMember(ctx, h1.ID, first.ID))
	s.Require().NoError(s.store.AddHouseholdMember(ctx, h1.ID, second.ID))
	// Replayed membership must not double-count.
	s.Require().NoError(s.store.AddHouseholdMember(ctx, h1.ID, first.ID))

	got, err := s.store.GetHousehold(ctx, h1.ID)
	s.Require().NoError(err)
	s.Equal(2, got.MemberCount)

	person, err := s.store.GetPerson(ctx, first.ID)
	s.Require().NoError(err)
	s.Require().NotNil(person.HouseholdID)
	s.Equal(h1.ID, *person.HouseholdID)
}

func (s *PostgresStoreSuite) TestLoadCandidateProjection() {
	ctx := context.Background()
	person := s.createPerson("Nia", "Candidate")
	s.addEmail(person, "nia@example.org", false)

	s.Require().NoError(s.store.AttachPlace(ctx, &PlaceRelation{
		PlaceID:      id.PlaceID(uuid.New()),
		PersonID:     person.ID,
		AddressRaw:   "42 Oak Ln",
		AddressNorm:  "42 oak ln",
		SourceSystem: "jotform",
		CreatedAt:    time.Now().UTC(),
	}))

	h, err := s.store.EnsureHousehold(ctx, "42 oak ln")
	s.Require().NoError(err)
	s.Require().NoError(s.store.AddHouseholdMember(ctx, h.ID, person.ID))

	cand, err := s.store.LoadCandidate(ctx, person.ID)
	s.Require().NoError(err)
	s.Equal(person.ID, cand.Person.ID)
	s.Equal([]string{"nia@example.org"}, cand.EmailValues())
	s.Require().Len(cand.Places, 1)
	s.Equal([]string{"jotform"}, cand.AddressSources("42 oak ln"))
	s.Require().NotNil(cand.Household)
	s.Equal(h.ID, cand.Household.ID)
}

func (s *PostgresStoreSuite) TestLoadCandidateIncludesMergedEvidence() {
	ctx := context.Background()
	dup := s.createPerson("Oli", "Duplicate")
	survivor := s.createPerson("Oliver", "Survivor")

	s.addEmail(dup, "oli@example.org", false)
	s.Require().NoError(s.store.AttachPlace(ctx, &PlaceRelation{
		PlaceID:      id.PlaceID(uuid.New()),
		PersonID:     dup.ID,
		AddressRaw:   "7 Pine Ct",
		AddressNorm:  "7 pine ct",
		SourceSystem: "clinichq",
		CreatedAt:    time.Now().UTC(),
	}))
	s.Require().NoError(s.store.MergePerson(ctx, dup.ID, survivor.ID))

	// The survivor's projection must carry evidence still rowed under the
	// merged duplicate, or re-arrivals of that evidence stop scoring.
	cand, err := s.store.LoadCandidate(ctx, survivor.ID)
	s.Require().NoError(err)
	s.Equal(survivor.ID, cand.Person.ID)
	s.Equal([]string{"oli@example.org"}, cand.EmailValues())
	s.Require().Len(cand.Places, 1)
	s.Equal("7 pine ct", cand.Places[0].AddressNorm)
}
