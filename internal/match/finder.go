package match

import (
	"context"
	"fmt"
	"log/slog"

	"trapper/internal/identity"
	id "trapper/pkg/domain"
)

// MaxCandidates bounds the scored set. A probe pulling more than this many
// distinct persons is almost certainly blocking on a shared identifier that
// belongs on the soft blocklist; the overflow is logged and dropped.
const MaxCandidates = 50

// Finder pulls candidate persons by identifier and address blocking keys.
type Finder struct {
	store  identity.Store
	logger *slog.Logger
}

// FinderOption configures a Finder.
type FinderOption func(*Finder)

// WithFinderLogger sets the structured logger.
func WithFinderLogger(logger *slog.Logger) FinderOption {
	return func(f *Finder) { f.logger = logger }
}

// NewFinder constructs a candidate finder over an identity store.
func NewFinder(store identity.Store, opts ...FinderOption) *Finder {
	f := &Finder{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Find returns the union of persons reachable from the probe's email, phone,
// and normalized address, deduplicated through merge pointers, capped at
// MaxCandidates, in deterministic order. Name fields never block: a probe
// with no identifier and no address yields no candidates no matter how
// distinctive the name is.
func (f *Finder) Find(ctx context.Context, probe *Probe) ([]*identity.Candidate, error) {
	var pool []id.PersonID

	if probe.Email != "" {
		ids, err := f.store.FindPersonsByIdentifier(ctx, id.IdentifierEmail, probe.Email)
		if err != nil {
			return nil, fmt.Errorf("find by email: %w", err)
		}
		pool = append(pool, ids...)
	}
	if probe.Phone != "" {
		ids, err := f.store.FindPersonsByIdentifier(ctx, id.IdentifierPhone, probe.Phone)
		if err != nil {
			return nil, fmt.Errorf("find by phone: %w", err)
		}
		pool = append(pool, ids...)
	}
	if probe.AddressNorm != "" {
		ids, err := f.store.FindPersonsByAddress(ctx, probe.AddressNorm)
		if err != nil {
			return nil, fmt.Errorf("find by address: %w", err)
		}
		pool = append(pool, ids...)
	}

	seen := make(map[id.PersonID]struct{}, len(pool))
	var canonical []id.PersonID
	for _, pid := range pool {
		cid, err := f.store.CanonicalID(ctx, pid)
		if err != nil {
			return nil, fmt.Errorf("canonicalize candidate: %w", err)
		}
		if _, dup := seen[cid]; dup {
			continue
		}
		seen[cid] = struct{}{}
		canonical = append(canonical, cid)
	}

	if len(canonical) > MaxCandidates {
		f.logger.WarnContext(ctx, "candidate pool capped",
			slog.Int("found", len(canonical)),
			slog.Int("cap", MaxCandidates),
			slog.String("source_system", probe.SourceSystem))
		canonical = canonical[:MaxCandidates]
	}

	cands := make([]*identity.Candidate, 0, len(canonical))
	for _, cid := range canonical {
		cand, err := f.store.LoadCandidate(ctx, cid)
		if err != nil {
			return nil, fmt.Errorf("load candidate %s: %w", cid, err)
		}
		if !cand.Person.CandidateEligible() {
			continue
		}
		cands = append(cands, cand)
	}
	return cands, nil
}
