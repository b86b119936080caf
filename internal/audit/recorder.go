package audit

import (
	"context"
	"fmt"
)

// Recorder writes a decision and queues its event in one shot. Callers run
// it inside the same transaction as the decision's side effects so a
// rollback takes the audit row and the event with it.
type Recorder struct {
	store  Store
	outbox Outbox
}

// NewRecorder constructs a Recorder. A nil outbox disables event streaming;
// the decision log itself is never optional.
func NewRecorder(store Store, outbox Outbox) *Recorder {
	return &Recorder{store: store, outbox: outbox}
}

// Record validates and persists one decision plus its outbox event.
func (r *Recorder) Record(ctx context.Context, decision *Decision) error {
	if err := decision.Validate(); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	if err := r.store.Insert(ctx, decision); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	if r.outbox == nil {
		return nil
	}
	if err := r.outbox.Enqueue(ctx, decision); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}
