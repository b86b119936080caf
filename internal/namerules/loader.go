package namerules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Loader memoizes the compiled pattern snapshot. Operator pattern writes are
// rare, so a short TTL with serve-stale-on-failure keeps the hot path free
// of database reads.
type Loader struct {
	store   Store
	refresh time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	snapshot *Snapshot
	loadedAt time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the structured logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader wraps a pattern store in a refreshing snapshot source.
func NewLoader(store Store, refresh time.Duration, opts ...LoaderOption) *Loader {
	l := &Loader{store: store, refresh: refresh, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Snapshot returns the current compiled snapshot, reloading past the TTL.
// A failed reload serves the previous snapshot rather than failing the
// resolution that asked.
func (l *Loader) Snapshot(ctx context.Context) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapshot != nil && time.Since(l.loadedAt) < l.refresh {
		return l.snapshot, nil
	}
	snap, err := LoadSnapshot(ctx, l.store)
	if err != nil {
		if l.snapshot != nil {
			l.logger.WarnContext(ctx, "name pattern reload failed, serving stale snapshot",
				slog.String("error", err.Error()))
			return l.snapshot, nil
		}
		return nil, fmt.Errorf("load name patterns: %w", err)
	}
	l.snapshot = snap
	l.loadedAt = time.Now()
	return snap, nil
}

// Invalidate drops the memoized snapshot so the next read hits the store.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = nil
}
