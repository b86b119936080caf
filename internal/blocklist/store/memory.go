package store

import (
	"context"
	"sort"
	"sync"

	"trapper/internal/blocklist"
	"trapper/pkg/platform/sentinel"
)

// InMemory is the test and development blocklist store.
type InMemory struct {
	mu   sync.RWMutex
	hard map[entryKey]*blocklist.HardEntry
	soft map[entryKey]*blocklist.SoftEntry
}

func NewInMemory() *InMemory {
	return &InMemory{
		hard: make(map[entryKey]*blocklist.HardEntry),
		soft: make(map[entryKey]*blocklist.SoftEntry),
	}
}

func (s *InMemory) AddHard(_ context.Context, entry *blocklist.HardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryKey{entry.Type, entry.Value}
	if _, exists := s.hard[k]; exists {
		return sentinel.ErrConflict
	}
	cp := *entry
	s.hard[k] = &cp
	return nil
}

func (s *InMemory) AddSoft(_ context.Context, entry *blocklist.SoftEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.KnownNames = append([]string(nil), entry.KnownNames...)
	s.soft[entryKey{entry.Type, entry.Value}] = &cp
	return nil
}

func (s *InMemory) ListHard(_ context.Context) ([]*blocklist.HardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*blocklist.HardEntry, 0, len(s.hard))
	for _, e := range s.hard {
		cp := *e
		out = append(out, &cp)
	}
	sortHard(out)
	return out, nil
}

func (s *InMemory) ListSoft(_ context.Context) ([]*blocklist.SoftEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*blocklist.SoftEntry, 0, len(s.soft))
	for _, e := range s.soft {
		cp := *e
		cp.KnownNames = append([]string(nil), e.KnownNames...)
		out = append(out, &cp)
	}
	sortSoft(out)
	return out, nil
}

// Deterministic listing keeps snapshot diffs and tests stable.
func sortHard(entries []*blocklist.HardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].Value < entries[j].Value
	})
}

func sortSoft(entries []*blocklist.SoftEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].Value < entries[j].Value
	})
}
