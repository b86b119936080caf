package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trapper/internal/identity"
	"trapper/internal/match"
	id "trapper/pkg/domain"
	dErrors "trapper/pkg/domain-errors"
	"trapper/pkg/platform/sentinel"
)

func newTestDecision(decisionType DecisionType) *Decision {
	d := &Decision{
		ID:             id.NewDecisionID(),
		SourceSystem:   "jotform",
		SourceRecordID: "sub-100",
		Input:          RecordSnapshot{SourceSystem: "jotform", SourceRecordID: "sub-100", FirstName: "Bob"},
		Decision:       decisionType,
		Confidence:     0.97,
		CreatedAt:      time.Now().UTC(),
	}
	switch decisionType {
	case DecisionAutoMatch, DecisionHouseholdMember, DecisionNewEntity, DecisionReviewPending:
		personID := id.NewPersonID()
		d.PersonID = &personID
	}
	return d
}

func TestDecisionValidateBindingRequiresPerson(t *testing.T) {
	d := newTestDecision(DecisionAutoMatch)
	d.PersonID = nil

	err := d.Validate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestDecisionValidateTerminalForbidsPerson(t *testing.T) {
	d := newTestDecision(DecisionRejected)
	personID := id.NewPersonID()
	d.PersonID = &personID

	err := d.Validate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestDecisionValidateUnknownType(t *testing.T) {
	d := newTestDecision(DecisionType("maybe"))
	err := d.Validate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestRecorderWritesRowAndOutboxEntry(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rec := NewRecorder(store, store)

	d := newTestDecision(DecisionAutoMatch)
	require.NoError(t, rec.Record(ctx, d))

	got, err := store.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.SourceRecordID, got.SourceRecordID)

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, d.ID, pending[0].DecisionID)
}

func TestRecorderNilOutboxSkipsStreaming(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rec := NewRecorder(store, nil)

	require.NoError(t, rec.Record(ctx, newTestDecision(DecisionNewEntity)))

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRecorderRejectsInvalidDecision(t *testing.T) {
	store := NewInMemoryStore()
	rec := NewRecorder(store, store)

	d := newTestDecision(DecisionAutoMatch)
	d.SourceSystem = ""
	require.Error(t, rec.Record(context.Background(), d))

	pending, err := store.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "invalid decisions enqueue nothing")
}

func TestInMemoryStoreFindByStagedRecordReturnsLatest(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := newTestDecision(DecisionReviewPending)
	second := newTestDecision(DecisionAutoMatch)
	require.NoError(t, store.Insert(ctx, first))
	require.NoError(t, store.Insert(ctx, second))

	got, err := store.FindByStagedRecord(ctx, "jotform", "sub-100")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestInMemoryStoreFindByStagedRecordMissing(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.FindByStagedRecord(context.Background(), "jotform", "nope")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStoreRejectsDuplicateDecisionID(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	d := newTestDecision(DecisionNewEntity)
	require.NoError(t, store.Insert(ctx, d))
	require.ErrorIs(t, store.Insert(ctx, d), sentinel.ErrConflict)
}

func TestOutboxMarkPublishedRemovesFromPending(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rec := NewRecorder(store, store)

	for range 3 {
		require.NoError(t, rec.Record(ctx, newTestDecision(DecisionNewEntity)))
	}

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	require.NoError(t, store.MarkPublished(ctx, []int64{pending[0].Seq, pending[1].Seq}))

	remaining, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, pending[2].Seq, remaining[0].Seq)
}

func TestBreakdownsFromRankedCapsAndRanks(t *testing.T) {
	ranked := make([]match.Ranked, 0, maxBreakdowns+10)
	for i := range maxBreakdowns + 10 {
		cand := &identity.Candidate{}
		ranked = append(ranked, match.Ranked{
			Candidate: cand,
			Score: match.Score{
				PersonID:   id.NewPersonID(),
				Strategy:   "fellegi_sunter",
				Confidence: 1.0 - float64(i)/100,
			},
		})
	}

	breakdowns := BreakdownsFromRanked(ranked)
	require.Len(t, breakdowns, maxBreakdowns)
	for i, b := range breakdowns {
		assert.Equal(t, i+1, b.Rank, fmt.Sprintf("breakdown %d", i))
	}
}
