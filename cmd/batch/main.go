package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/twmb/franz-go/pkg/kgo"

	"trapper/internal/audit"
	"trapper/internal/batch"
	"trapper/internal/blocklist"
	blockstore "trapper/internal/blocklist/store"
	"trapper/internal/identity"
	"trapper/internal/match"
	"trapper/internal/namerules"
	"trapper/internal/platform/config"
	"trapper/internal/platform/logger"
	"trapper/internal/platform/postgres"
	"trapper/internal/resolve"
	"trapper/internal/resolve/metrics"
	"trapper/pkg/platform/tx"
)

// main drains the staged-record table through the resolution engine once and
// exits. Interrupting a run is safe: decided records are skipped on replay.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	identities := identity.NewPostgresStore(db)
	decisions := audit.NewPostgresStore(db)
	blockLoader := blocklist.NewLoader(blockstore.NewPostgres(db), cfg.SnapshotRefresh,
		blocklist.WithLogger(log))
	nameLoader := namerules.NewLoader(namerules.NewPostgresStore(db), cfg.SnapshotRefresh,
		namerules.WithLoaderLogger(log))

	var scorer match.ScorerFactory
	switch cfg.Scorer {
	case config.ScorerWeighted:
		scorer = match.WeightedFactory()
	default:
		scorer = match.FellegiSunterFactory(match.NewParamsHolder(match.DefaultFSParams()))
	}

	var outbox audit.Outbox
	if len(cfg.Kafka.Brokers) > 0 {
		outbox = decisions
	}

	service := resolve.NewService(resolve.Deps{
		Identities:      identities,
		Finder:          match.NewFinder(identities, match.WithFinderLogger(log)),
		Blocklists:      blockLoader,
		Names:           nameLoader,
		Scorer:          scorer,
		Recorder:        audit.NewRecorder(decisions, outbox),
		Runner:          tx.NewSQLRunner(db),
		AutoThreshold:   cfg.AutoMatchThreshold,
		ReviewThreshold: cfg.ReviewThreshold,
	},
		resolve.WithLogger(log),
		resolve.WithMetrics(metrics.New()),
	)

	processor := batch.New(batch.NewPostgresStore(db), decisions, service,
		batch.WithWorkers(cfg.BatchWorkers),
		batch.WithFetchLimit(cfg.BatchLimit),
		batch.WithLogger(log),
	)

	stats, err := processor.Run(ctx)
	log.Info("batch drain finished",
		"processed", stats.Processed,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"decisions", stats.Decisions,
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("batch drain aborted", "error", err)
		os.Exit(1)
	}

	// Flush queued decision events before exit so reporting does not wait
	// for the next server-side drain.
	if outbox != nil {
		kafkaClient, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
		if err != nil {
			log.Error("kafka connect failed", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		publisher := audit.NewPublisher(decisions, kafkaClient, cfg.Kafka.Topic,
			audit.WithPublisherLogger(log))
		if err := publisher.EnsureTopic(ctx, 3, 1); err != nil {
			log.Error("kafka topic setup failed", "error", err)
			os.Exit(1)
		}
		if err := publisher.DrainOnce(ctx); err != nil {
			log.Error("decision event flush failed", "error", err)
			os.Exit(1)
		}
	}
}
