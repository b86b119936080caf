// Package batch drains staged records through the resolution engine with a
// bounded worker pool. Batches are restartable: already-decided records are
// detected by their decision log entry and skipped, so re-running a partial
// batch never double-creates entities.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"trapper/internal/audit"
	"trapper/internal/resolve"
	"trapper/pkg/platform/sentinel"
)

// Resolver is the slice of the resolution service the processor needs.
type Resolver interface {
	ResolveIdentity(ctx context.Context, rec resolve.StagedRecord) (resolve.Resolution, error)
}

// DecisionLookup checks whether a staged record was already decided.
type DecisionLookup interface {
	FindByStagedRecord(ctx context.Context, sourceSystem, sourceRecordID string) (*audit.Decision, error)
}

// Stats summarizes one drain pass.
type Stats struct {
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Decisions map[string]int `json:"decisions"`
}

// Processor runs staged records through the resolver.
type Processor struct {
	records   Store
	decisions DecisionLookup
	resolver  Resolver
	workers   int
	limit     int
	logger    *slog.Logger
}

// Option adjusts processor construction.
type Option func(*Processor)

// WithWorkers bounds resolver concurrency. Values below one fall back to
// serial processing.
func WithWorkers(n int) Option {
	return func(p *Processor) { p.workers = n }
}

// WithFetchLimit bounds how many records one drain pass pulls.
func WithFetchLimit(n int) Option {
	return func(p *Processor) { p.limit = n }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// New constructs a processor.
func New(records Store, decisions DecisionLookup, resolver Resolver, opts ...Option) *Processor {
	p := &Processor{
		records:   records,
		decisions: decisions,
		resolver:  resolver,
		workers:   4,
		limit:     1000,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	return p
}

// Run drains the staged-record store until it is empty or ctx is done.
// Individual record failures are logged and counted, never fatal; the only
// errors returned are store-level ones that make continuing pointless.
func (p *Processor) Run(ctx context.Context) (Stats, error) {
	stats := Stats{Decisions: make(map[string]int)}
	var mu sync.Mutex

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		pending, err := p.records.Pending(ctx, p.limit)
		if err != nil {
			return stats, err
		}
		if len(pending) == 0 {
			return stats, nil
		}

		var advanced int
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers)
		for _, rec := range pending {
			g.Go(func() error {
				outcome, decision := p.processOne(gctx, rec)
				mu.Lock()
				switch outcome {
				case outcomeProcessed:
					stats.Processed++
					stats.Decisions[decision]++
					advanced++
				case outcomeSkipped:
					stats.Skipped++
					advanced++
				case outcomeFailed:
					stats.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		// Failed records stay pending, so a page with zero progress
		// would come straight back and spin forever.
		if advanced == 0 {
			return stats, errors.New("batch made no progress; aborting drain")
		}
	}
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (p *Processor) processOne(ctx context.Context, rec resolve.StagedRecord) (outcome, string) {
	prior, err := p.decisions.FindByStagedRecord(ctx, rec.SourceSystem, rec.SourceRecordID)
	switch {
	case err == nil:
		// Already decided, likely by a previous partial batch.
		if markErr := p.records.MarkProcessed(ctx, rec.SourceSystem, rec.SourceRecordID); markErr != nil {
			p.logRecordErr(ctx, rec, "mark processed failed", markErr)
			return outcomeFailed, ""
		}
		p.logger.DebugContext(ctx, "record already decided",
			"source_system", rec.SourceSystem,
			"source_record_id", rec.SourceRecordID,
			"decision_id", prior.ID,
		)
		return outcomeSkipped, ""
	case !errors.Is(err, sentinel.ErrNotFound):
		p.logRecordErr(ctx, rec, "decision lookup failed", err)
		return outcomeFailed, ""
	}

	res, err := p.resolver.ResolveIdentity(ctx, rec)
	if err != nil {
		p.logRecordErr(ctx, rec, "resolution failed", err)
		return outcomeFailed, ""
	}
	if err := p.records.MarkProcessed(ctx, rec.SourceSystem, rec.SourceRecordID); err != nil {
		p.logRecordErr(ctx, rec, "mark processed failed", err)
		return outcomeFailed, ""
	}
	return outcomeProcessed, string(res.Decision)
}

func (p *Processor) logRecordErr(ctx context.Context, rec resolve.StagedRecord, msg string, err error) {
	p.logger.ErrorContext(ctx, msg,
		"source_system", rec.SourceSystem,
		"source_record_id", rec.SourceRecordID,
		"error", err,
	)
}
