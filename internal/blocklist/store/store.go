// Package store persists operator blocklist entries. The hard list is
// append-only; removing noise from it would silently resurrect matches.
package store

import (
	"context"

	"trapper/internal/blocklist"
	id "trapper/pkg/domain"
)

// Store is the operator blocklist persistence contract.
type Store interface {
	// AddHard appends a hard entry. Duplicate (type, value) pairs conflict.
	AddHard(ctx context.Context, entry *blocklist.HardEntry) error

	// AddSoft upserts a soft entry; operators re-tune multipliers in place.
	AddSoft(ctx context.Context, entry *blocklist.SoftEntry) error

	// ListHard returns all hard entries.
	ListHard(ctx context.Context) ([]*blocklist.HardEntry, error)

	// ListSoft returns all soft entries.
	ListSoft(ctx context.Context) ([]*blocklist.SoftEntry, error)
}

type entryKey struct {
	t id.IdentifierType
	v string
}
