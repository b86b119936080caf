package audit

import (
	"context"
	"time"

	id "trapper/pkg/domain"
)

// Store is the append-only decision log. Rows are never updated or deleted.
type Store interface {
	Insert(ctx context.Context, decision *Decision) error
	GetByID(ctx context.Context, decisionID id.DecisionID) (*Decision, error)
	// FindByStagedRecord returns the most recent decision for a staged
	// record, if any. Batch replays use it to skip already-resolved rows.
	FindByStagedRecord(ctx context.Context, sourceSystem, sourceRecordID string) (*Decision, error)
	ListByPerson(ctx context.Context, personID id.PersonID, limit int) ([]*Decision, error)
	ListByRange(ctx context.Context, from, to time.Time, limit int) ([]*Decision, error)
}

// OutboxEntry is one queued decision event awaiting publication.
type OutboxEntry struct {
	Seq        int64
	DecisionID id.DecisionID
	Payload    []byte
	CreatedAt  time.Time
}

// Outbox queues decision events transactionally with the decision insert so
// the log and the stream cannot disagree about what happened.
type Outbox interface {
	Enqueue(ctx context.Context, decision *Decision) error
	Pending(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkPublished(ctx context.Context, seqs []int64) error
}
