package blocklist

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Source is the subset of the blocklist store the loader reads. Declared here
// so the loader does not depend on the store package.
type Source interface {
	ListHard(ctx context.Context) ([]*HardEntry, error)
	ListSoft(ctx context.Context) ([]*SoftEntry, error)
}

// Cache is a shared byte cache (Redis in production) that lets several engine
// processes reuse one snapshot load within the refresh interval.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

const cacheKey = "trapper:blocklist:snapshot"

// Loader produces read-only snapshots, refreshed at a bounded interval. The
// engine holds one Loader and asks it for the current snapshot per resolution
// call; operator edits become visible within one refresh interval.
type Loader struct {
	source  Source
	cache   Cache
	refresh time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	current *Snapshot
	expires time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithCache attaches a shared cache in front of the store.
func WithCache(cache Cache) LoaderOption {
	return func(l *Loader) { l.cache = cache }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a snapshot loader over a blocklist source.
func NewLoader(source Source, refresh time.Duration, opts ...LoaderOption) *Loader {
	l := &Loader{
		source:  source,
		refresh: refresh,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type cachePayload struct {
	Hard []*HardEntry `json:"hard"`
	Soft []*SoftEntry `json:"soft"`
}

// Snapshot returns the current blocklist snapshot, reloading when the local
// copy has aged out. A load failure with a previous snapshot in hand serves
// the stale copy rather than failing resolution.
func (l *Loader) Snapshot(ctx context.Context) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil && time.Now().Before(l.expires) {
		return l.current, nil
	}

	snapshot, err := l.load(ctx)
	if err != nil {
		if l.current != nil {
			l.logger.WarnContext(ctx, "blocklist reload failed, serving stale snapshot", "error", err)
			return l.current, nil
		}
		return nil, err
	}

	l.current = snapshot
	l.expires = time.Now().Add(l.refresh)
	return snapshot, nil
}

// Invalidate drops the local copy so the next Snapshot call reloads. Admin
// handlers call this after operator writes.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = nil
	l.expires = time.Time{}
}

func (l *Loader) load(ctx context.Context) (*Snapshot, error) {
	if l.cache != nil {
		if raw, ok, err := l.cache.Get(ctx, cacheKey); err == nil && ok {
			var payload cachePayload
			if err := json.Unmarshal(raw, &payload); err == nil {
				return NewSnapshot(payload.Hard, payload.Soft), nil
			}
			// Corrupt cache entries fall through to a store load.
		}
	}

	hard, err := l.source.ListHard(ctx)
	if err != nil {
		return nil, err
	}
	soft, err := l.source.ListSoft(ctx)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		raw, err := json.Marshal(cachePayload{Hard: hard, Soft: soft})
		if err == nil {
			if err := l.cache.Set(ctx, cacheKey, raw, l.refresh); err != nil {
				l.logger.WarnContext(ctx, "blocklist cache write failed", "error", err)
			}
		}
	}

	return NewSnapshot(hard, soft), nil
}
