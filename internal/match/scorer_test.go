package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trapper/internal/blocklist"
	"trapper/internal/identity"
	id "trapper/pkg/domain"
)

func emptyFilter() *blocklist.Filter {
	return blocklist.NewFilter(blocklist.NewSnapshot(nil, nil))
}

func filterWithSoft(t *testing.T, idType id.IdentifierType, value string, multiplier float64, requires blocklist.Corroboration) *blocklist.Filter {
	t.Helper()
	entry, err := blocklist.NewSoftEntry(idType, value, multiplier, requires, time.Now())
	require.NoError(t, err)
	return blocklist.NewFilter(blocklist.NewSnapshot(nil, []*blocklist.SoftEntry{entry}))
}

func testCandidate(t *testing.T, display string, email, phone, address string) *identity.Candidate {
	t.Helper()
	now := time.Now()
	person, err := identity.NewPerson(id.NewPersonID(), "", "", display, now)
	require.NoError(t, err)
	cand := &identity.Candidate{Person: *person}
	if email != "" {
		ident, err := identity.NewIdentifier(id.NewIdentifierID(), person.ID, id.IdentifierEmail,
			email, email, 1.0, "clinichq", now)
		require.NoError(t, err)
		cand.Identifiers = append(cand.Identifiers, *ident)
	}
	if phone != "" {
		ident, err := identity.NewIdentifier(id.NewIdentifierID(), person.ID, id.IdentifierPhone,
			phone, phone, 1.0, "clinichq", now)
		require.NoError(t, err)
		cand.Identifiers = append(cand.Identifiers, *ident)
	}
	if address != "" {
		cand.Places = append(cand.Places, identity.PlaceRelation{
			PlaceID:      id.NewPlaceID(),
			PersonID:     person.ID,
			AddressRaw:   address,
			AddressNorm:  address,
			SourceSystem: "clinichq",
			CreatedAt:    now,
		})
	}
	return cand
}

func fieldByName(t *testing.T, s Score, field Field) FieldScore {
	t.Helper()
	for _, f := range s.Fields {
		if f.Field == field {
			return f
		}
	}
	t.Fatalf("no field %q in score", field)
	return FieldScore{}
}

func TestWeightedFullAgreement(t *testing.T) {
	scorer := NewWeightedScorer(emptyFilter())
	cand := testCandidate(t, "dana whitfield", "dana@example.com", "7075551234", "12 vine st")
	probe := &Probe{
		DisplayName:  "dana whitfield",
		Email:        "dana@example.com",
		Phone:        "7075551234",
		AddressNorm:  "12 vine st",
		SourceSystem: "clinichq",
	}

	got := scorer.Score(context.Background(), probe, cand)
	// email 0.40 + phone 0.25 + name 0.25 + same-source address 0.08
	assert.InDelta(t, 0.98, got.Confidence, 1e-9)
	assert.Equal(t, VerdictAgree, fieldByName(t, got, FieldEmail).Verdict)
	assert.Equal(t, 1.0, got.NameSim)
}

func TestWeightedMissingIsNeutral(t *testing.T) {
	scorer := NewWeightedScorer(emptyFilter())
	cand := testCandidate(t, "dana whitfield", "dana@example.com", "7075551234", "")

	missing := scorer.Score(context.Background(), &Probe{
		DisplayName: "dana whitfield",
		Email:       "dana@example.com",
	}, cand)
	disagreeing := scorer.Score(context.Background(), &Probe{
		DisplayName: "dana whitfield",
		Email:       "dana@example.com",
		Phone:       "4155550000",
	}, cand)

	// An absent phone contributes zero; a disagreeing phone also adds
	// nothing under the weighted strategy, and both explanations differ.
	assert.Equal(t, missing.Confidence, disagreeing.Confidence)
	assert.Equal(t, VerdictMissing, fieldByName(t, missing, FieldPhone).Verdict)
	assert.Equal(t, VerdictDisagree, fieldByName(t, disagreeing, FieldPhone).Verdict)
}

func TestWeightedSoftBlockDiscount(t *testing.T) {
	filter := filterWithSoft(t, id.IdentifierPhone, "7075550100", 0.5, blocklist.CorroborationNone)
	scorer := NewWeightedScorer(filter)
	cand := testCandidate(t, "dana whitfield", "", "7075550100", "")

	got := scorer.Score(context.Background(), &Probe{
		DisplayName: "dana whitfield",
		Phone:       "7075550100",
	}, cand)

	phone := fieldByName(t, got, FieldPhone)
	assert.Equal(t, VerdictAgree, phone.Verdict)
	assert.InDelta(t, 0.125, phone.Contribution, 1e-9)
}

func TestWeightedSoftBlockCorroborationGate(t *testing.T) {
	filter := filterWithSoft(t, id.IdentifierPhone, "7075550100", 0.5, blocklist.CorroborationName)
	scorer := NewWeightedScorer(filter)

	cand := testCandidate(t, "dana whitfield", "", "7075550100", "")

	// Dissimilar name: the shared phone counts for nothing.
	uncorroborated := scorer.Score(context.Background(), &Probe{
		DisplayName: "marcus oyelaran",
		Phone:       "7075550100",
	}, cand)
	assert.Zero(t, fieldByName(t, uncorroborated, FieldPhone).Contribution)

	// Similar name: discounted contribution applies.
	corroborated := scorer.Score(context.Background(), &Probe{
		DisplayName: "dana whitfield",
		Phone:       "7075550100",
	}, cand)
	assert.InDelta(t, 0.125, fieldByName(t, corroborated, FieldPhone).Contribution, 1e-9)
}

func TestWeightedAddressCrossSource(t *testing.T) {
	scorer := NewWeightedScorer(emptyFilter())
	cand := testCandidate(t, "dana whitfield", "", "", "12 vine st")
	cand.Places = append(cand.Places, identity.PlaceRelation{
		PlaceID:      id.NewPlaceID(),
		PersonID:     cand.Person.ID,
		AddressRaw:   "12 Vine St",
		AddressNorm:  "12 vine st",
		SourceSystem: "jotform",
		CreatedAt:    time.Now(),
	})

	got := scorer.Score(context.Background(), &Probe{
		DisplayName:  "dana whitfield",
		AddressNorm:  "12 vine st",
		SourceSystem: "clinichq",
	}, cand)

	addr := fieldByName(t, got, FieldAddress)
	// 0.08 same-source + 0.06 cross-source, capped at the field weight.
	assert.InDelta(t, 0.10, addr.Contribution, 1e-9)
}

func TestFellegiSunterPosteriorBounds(t *testing.T) {
	scorer, err := NewFellegiSunterScorer(DefaultFSParams(), emptyFilter())
	require.NoError(t, err)

	cand := testCandidate(t, "dana whitfield", "dana@example.com", "7075551234", "12 vine st")

	full := scorer.Score(context.Background(), &Probe{
		DisplayName:  "dana whitfield",
		Email:        "dana@example.com",
		Phone:        "7075551234",
		AddressNorm:  "12 vine st",
		SourceSystem: "clinichq",
	}, cand)
	assert.Greater(t, full.Confidence, 0.99)
	assert.LessOrEqual(t, full.Total, 20.0)

	nothing := scorer.Score(context.Background(), &Probe{
		DisplayName: "zelda quartermain",
		Email:       "other@example.com",
		Phone:       "4155550000",
	}, cand)
	assert.Less(t, nothing.Confidence, 0.01)
	assert.GreaterOrEqual(t, nothing.Total, -20.0)
}

func TestFellegiSunterMissingIsZero(t *testing.T) {
	scorer, err := NewFellegiSunterScorer(DefaultFSParams(), emptyFilter())
	require.NoError(t, err)

	cand := testCandidate(t, "dana whitfield", "dana@example.com", "", "")

	got := scorer.Score(context.Background(), &Probe{Email: "dana@example.com"}, cand)
	for _, f := range got.Fields {
		if f.Verdict == VerdictMissing {
			assert.Zero(t, f.Contribution, "field %s", f.Field)
		}
	}
	// Only the email agreement moved the total.
	assert.InDelta(t, fieldByName(t, got, FieldEmail).Contribution, got.Total, 1e-9)
}

func TestFellegiSunterNameLevels(t *testing.T) {
	scorer, err := NewFellegiSunterScorer(DefaultFSParams(), emptyFilter())
	require.NoError(t, err)
	cand := testCandidate(t, "katherine alvarez", "", "", "")

	exact := scorer.Score(context.Background(), &Probe{DisplayName: "katherine alvarez"}, cand)
	closeScore := scorer.Score(context.Background(), &Probe{DisplayName: "katherine alvares"}, cand)
	weak := scorer.Score(context.Background(), &Probe{DisplayName: "kathy alvarez"}, cand)

	assert.Equal(t, "exact", fieldByName(t, exact, FieldName).Note)
	assert.Greater(t, exact.Total, closeScore.Total)
	assert.GreaterOrEqual(t, closeScore.Total, weak.Total)
}

func TestFellegiSunterRejectsBadParams(t *testing.T) {
	params := DefaultFSParams()
	params.Email = FieldParams{M: 0.2, U: 0.5}
	_, err := NewFellegiSunterScorer(params, emptyFilter())
	assert.Error(t, err)
}

func TestScorerFieldMonotonicity(t *testing.T) {
	// For every field, with the other fields held at agreement, evidence must
	// order disagree <= missing <= agree, both per field and in the total.
	fsScorer, err := NewFellegiSunterScorer(DefaultFSParams(), emptyFilter())
	require.NoError(t, err)
	scorers := map[string]Scorer{
		"weighted":       NewWeightedScorer(emptyFilter()),
		"fellegi_sunter": fsScorer,
	}

	agreeProbe := func() *Probe {
		return &Probe{
			DisplayName:  "dana whitfield",
			Email:        "dana@example.com",
			Phone:        "7075551234",
			AddressNorm:  "12 vine st",
			SourceSystem: "clinichq",
		}
	}
	variants := map[Field]struct {
		missing  func(*Probe)
		disagree func(*Probe)
	}{
		FieldEmail: {
			missing:  func(p *Probe) { p.Email = "" },
			disagree: func(p *Probe) { p.Email = "other@example.com" },
		},
		FieldPhone: {
			missing:  func(p *Probe) { p.Phone = "" },
			disagree: func(p *Probe) { p.Phone = "4155550000" },
		},
		FieldName: {
			missing: func(p *Probe) { p.DisplayName = "" },
			// Zero-overlap, same-length name so the edit-distance ratio
			// bottoms out at 0 for the weighted strategy too.
			disagree: func(p *Probe) { p.DisplayName = "zzzzzzzzzzzzzz" },
		},
		FieldAddress: {
			missing:  func(p *Probe) { p.AddressNorm = "" },
			disagree: func(p *Probe) { p.AddressNorm = "99 oak rd" },
		},
	}

	for name, scorer := range scorers {
		t.Run(name, func(t *testing.T) {
			cand := testCandidate(t, "dana whitfield", "dana@example.com", "7075551234", "12 vine st")
			for field, v := range variants {
				agree := scorer.Score(context.Background(), agreeProbe(), cand)

				missingProbe := agreeProbe()
				v.missing(missingProbe)
				missing := scorer.Score(context.Background(), missingProbe, cand)

				disagreeProbe := agreeProbe()
				v.disagree(disagreeProbe)
				disagree := scorer.Score(context.Background(), disagreeProbe, cand)

				assert.Equal(t, VerdictAgree, fieldByName(t, agree, field).Verdict, "field %s", field)
				assert.Equal(t, VerdictMissing, fieldByName(t, missing, field).Verdict, "field %s", field)
				assert.Equal(t, VerdictDisagree, fieldByName(t, disagree, field).Verdict, "field %s", field)

				assert.LessOrEqual(t, fieldByName(t, disagree, field).Contribution,
					fieldByName(t, missing, field).Contribution, "field %s", field)
				assert.Zero(t, fieldByName(t, missing, field).Contribution, "field %s", field)
				assert.Greater(t, fieldByName(t, agree, field).Contribution,
					fieldByName(t, missing, field).Contribution, "field %s", field)

				assert.LessOrEqual(t, disagree.Total, missing.Total, "field %s", field)
				assert.Less(t, missing.Total, agree.Total, "field %s", field)
			}
		})
	}
}

func TestRankDeterministicTieBreak(t *testing.T) {
	scorer := NewWeightedScorer(emptyFilter())

	older := testCandidate(t, "dana whitfield", "dana@example.com", "", "")
	older.Person.CreatedAt = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := testCandidate(t, "dana whitfield", "dana@example.com", "", "")
	newer.Person.CreatedAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	probe := &Probe{DisplayName: "dana whitfield", Email: "dana@example.com"}

	for range 5 {
		ranked := Rank(context.Background(), scorer, probe, []*identity.Candidate{newer, older})
		require.Len(t, ranked, 2)
		assert.Equal(t, older.Person.ID, ranked[0].Candidate.Person.ID)
		assert.Equal(t, ranked[0].Score.Confidence, ranked[1].Score.Confidence)
	}
}
