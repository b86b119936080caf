package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	id "trapper/pkg/domain"
	"trapper/pkg/platform/sentinel"
	"trapper/pkg/requestcontext"
)

// InMemoryStore is the test and development identity store. It enforces the
// same uniqueness and merge-flattening invariants as the Postgres store.
type InMemoryStore struct {
	mu          sync.RWMutex
	persons     map[id.PersonID]*Person
	identifiers map[id.PersonID][]*Identifier
	places      map[id.PersonID][]*PlaceRelation
	households  map[id.HouseholdID]*Household
	members     map[id.HouseholdID]map[id.PersonID]struct{}

	// identifierOwners enforces (type, normalized) -> owner for race
	// detection, mirroring the Postgres uniqueness constraint.
	identifierOwners map[identKey]id.PersonID
}

type identKey struct {
	t id.IdentifierType
	v string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		persons:          make(map[id.PersonID]*Person),
		identifiers:      make(map[id.PersonID][]*Identifier),
		places:           make(map[id.PersonID][]*PlaceRelation),
		households:       make(map[id.HouseholdID]*Household),
		members:          make(map[id.HouseholdID]map[id.PersonID]struct{}),
		identifierOwners: make(map[identKey]id.PersonID),
	}
}

func (s *InMemoryStore) CreatePerson(_ context.Context, person *Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.persons[person.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *person
	s.persons[person.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetPerson(_ context.Context, personID id.PersonID) (*Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[personID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) CanonicalID(_ context.Context, personID id.PersonID) (id.PersonID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[personID]
	if !ok {
		return id.PersonID{}, sentinel.ErrNotFound
	}
	if p.MergedInto != nil {
		return *p.MergedInto, nil
	}
	return p.ID, nil
}

func (s *InMemoryStore) MergePerson(_ context.Context, from, into id.PersonID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.persons[from]
	if !ok {
		return sentinel.ErrNotFound
	}
	if src.MergedInto != nil {
		return sentinel.ErrInvalidState
	}
	dst, ok := s.persons[into]
	if !ok {
		return sentinel.ErrNotFound
	}

	// Resolve the destination's own pointer so the new pointer lands on the
	// canonical survivor, then re-point anyone already merged into `from`.
	canonical := dst.ID
	if dst.MergedInto != nil {
		canonical = *dst.MergedInto
	}
	if canonical == from {
		return sentinel.ErrInvalidState
	}

	src.MergedInto = &canonical
	src.UpdatedAt = time.Now()
	for _, p := range s.persons {
		if p.MergedInto != nil && *p.MergedInto == from {
			c := canonical
			p.MergedInto = &c
		}
	}
	return nil
}

func (s *InMemoryStore) SetDataQuality(_ context.Context, personID id.PersonID, quality DataQuality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[personID]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.DataQuality = quality
	p.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) AddIdentifier(ctx context.Context, ident *Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[ident.PersonID]; !ok {
		return sentinel.ErrNotFound
	}

	k := identKey{ident.Type, ident.Normalized}
	if owner, taken := s.identifierOwners[k]; taken && owner != ident.PersonID && !ident.Shared {
		return sentinel.ErrConflict
	}
	for _, existing := range s.identifiers[ident.PersonID] {
		if existing.Type == ident.Type && existing.Normalized == ident.Normalized {
			// Same person, same value: already on file, nothing to version.
			return nil
		}
	}

	cp := *ident
	cp.Version = 1
	for _, existing := range s.identifiers[ident.PersonID] {
		if existing.Type == ident.Type {
			cp.Version++
		}
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = requestcontext.Now(ctx)
	}
	s.identifiers[ident.PersonID] = append(s.identifiers[ident.PersonID], &cp)
	if !ident.Shared {
		s.identifierOwners[k] = ident.PersonID
	}
	return nil
}

func (s *InMemoryStore) FindPersonsByIdentifier(_ context.Context, idType id.IdentifierType, normalized string) ([]id.PersonID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[id.PersonID]struct{})
	var out []id.PersonID
	for personID, idents := range s.identifiers {
		for _, ident := range idents {
			if ident.Type == idType && ident.Normalized == normalized && ident.UsableAsEvidence() {
				if canonical, ok := s.canonicalEligible(personID); ok {
					if _, dup := seen[canonical]; !dup {
						seen[canonical] = struct{}{}
						out = append(out, canonical)
					}
				}
				break
			}
		}
	}
	sortPersonIDs(out)
	return out, nil
}

// canonicalEligible follows a merge pointer one hop and applies the
// candidate eligibility filter to the surviving person. Evidence attached
// to merged duplicates keeps pulling the survivor into candidate sets.
func (s *InMemoryStore) canonicalEligible(personID id.PersonID) (id.PersonID, bool) {
	p := s.persons[personID]
	if p == nil {
		return id.PersonID{}, false
	}
	if p.MergedInto != nil {
		p = s.persons[*p.MergedInto]
		if p == nil {
			return id.PersonID{}, false
		}
	}
	if !p.CandidateEligible() {
		return id.PersonID{}, false
	}
	return p.ID, true
}

func (s *InMemoryStore) OwnerOfIdentifier(_ context.Context, idType id.IdentifierType, normalized string) (id.PersonID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.identifierOwners[identKey{idType, normalized}]
	if !ok {
		return id.PersonID{}, false, nil
	}
	if p := s.persons[owner]; p != nil && p.MergedInto != nil {
		return *p.MergedInto, true, nil
	}
	return owner, true, nil
}

func (s *InMemoryStore) AttachPlace(ctx context.Context, rel *PlaceRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[rel.PersonID]; !ok {
		return sentinel.ErrNotFound
	}
	for _, existing := range s.places[rel.PersonID] {
		if existing.AddressNorm == rel.AddressNorm && existing.SourceSystem == rel.SourceSystem {
			return nil
		}
	}
	cp := *rel
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = requestcontext.Now(ctx)
	}
	s.places[rel.PersonID] = append(s.places[rel.PersonID], &cp)
	return nil
}

func (s *InMemoryStore) FindPersonsByAddress(_ context.Context, addressNorm string) ([]id.PersonID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[id.PersonID]struct{})
	var out []id.PersonID
	for personID, rels := range s.places {
		for _, rel := range rels {
			if rel.AddressNorm == addressNorm {
				if canonical, ok := s.canonicalEligible(personID); ok {
					if _, dup := seen[canonical]; !dup {
						seen[canonical] = struct{}{}
						out = append(out, canonical)
					}
				}
				break
			}
		}
	}
	sortPersonIDs(out)
	return out, nil
}

func (s *InMemoryStore) LoadCandidate(_ context.Context, personID id.PersonID) (*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[personID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	// Evidence attached to merged-away duplicates still describes the
	// survivor. Merge pointers are flattened to one hop, so collecting the
	// person plus anyone pointing at them covers the whole merge set.
	set := []id.PersonID{personID}
	for otherID, other := range s.persons {
		if other.MergedInto != nil && *other.MergedInto == personID {
			set = append(set, otherID)
		}
	}
	sortPersonIDs(set)

	cand := &Candidate{Person: *p}
	for _, member := range set {
		for _, ident := range s.identifiers[member] {
			cand.Identifiers = append(cand.Identifiers, *ident)
		}
		for _, rel := range s.places[member] {
			cand.Places = append(cand.Places, *rel)
		}
	}
	if p.HouseholdID != nil {
		if h, ok := s.households[*p.HouseholdID]; ok {
			cp := *h
			cand.Household = &cp
		}
	}
	return cand, nil
}

func (s *InMemoryStore) EnsureHousehold(ctx context.Context, addressNorm string) (*Household, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.households {
		if h.AddressNorm == addressNorm {
			cp := *h
			return &cp, nil
		}
	}
	h := &Household{
		ID:          id.NewHouseholdID(),
		AddressNorm: addressNorm,
		CreatedAt:   requestcontext.Now(ctx),
	}
	s.households[h.ID] = h
	s.members[h.ID] = make(map[id.PersonID]struct{})
	cp := *h
	return &cp, nil
}

func (s *InMemoryStore) AddHouseholdMember(_ context.Context, householdID id.HouseholdID, personID id.PersonID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.households[householdID]
	if !ok {
		return sentinel.ErrNotFound
	}
	p, ok := s.persons[personID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if _, already := s.members[householdID][personID]; already {
		return nil
	}
	s.members[householdID][personID] = struct{}{}
	h.MemberCount++
	hid := householdID
	p.HouseholdID = &hid
	p.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) GetHousehold(_ context.Context, householdID id.HouseholdID) (*Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.households[householdID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

// Map iteration order would leak into candidate ordering; sort so results
// are deterministic for tie-breaking and tests.
func sortPersonIDs(ids []id.PersonID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
