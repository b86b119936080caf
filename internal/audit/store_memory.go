package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	id "trapper/pkg/domain"
	"trapper/pkg/platform/sentinel"
)

// InMemoryStore backs unit tests and dev mode. Implements Store and Outbox.
type InMemoryStore struct {
	mu        sync.RWMutex
	decisions []*Decision
	byID      map[id.DecisionID]*Decision
	outbox    []OutboxEntry
	nextSeq   int64
}

// NewInMemoryStore constructs an empty in-memory decision log.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[id.DecisionID]*Decision), nextSeq: 1}
}

func (s *InMemoryStore) Insert(_ context.Context, decision *Decision) error {
	if err := decision.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[decision.ID]; dup {
		return sentinel.ErrConflict
	}
	cp := *decision
	s.decisions = append(s.decisions, &cp)
	s.byID[decision.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, decisionID id.DecisionID) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[decisionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *InMemoryStore) FindByStagedRecord(_ context.Context, sourceSystem, sourceRecordID string) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.decisions) - 1; i >= 0; i-- {
		d := s.decisions[i]
		if d.SourceSystem == sourceSystem && d.SourceRecordID == sourceRecordID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListByPerson(_ context.Context, personID id.PersonID, limit int) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Decision
	for i := len(s.decisions) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		d := s.decisions[i]
		if d.PersonID != nil && *d.PersonID == personID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListByRange(_ context.Context, from, to time.Time, limit int) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Decision
	for _, d := range s.decisions {
		if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Enqueue(_ context.Context, decision *Decision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, OutboxEntry{
		Seq:        s.nextSeq,
		DecisionID: decision.ID,
		Payload:    payload,
		CreatedAt:  decision.CreatedAt,
	})
	s.nextSeq++
	return nil
}

func (s *InMemoryStore) Pending(_ context.Context, limit int) ([]OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.outbox)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]OutboxEntry, n)
	copy(out, s.outbox[:n])
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, seqs []int64) error {
	published := make(map[int64]struct{}, len(seqs))
	for _, seq := range seqs {
		published[seq] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outbox[:0]
	for _, e := range s.outbox {
		if _, ok := published[e.Seq]; !ok {
			kept = append(kept, e)
		}
	}
	s.outbox = kept
	return nil
}
