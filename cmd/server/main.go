package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	adminhandler "trapper/internal/admin/handler"
	"trapper/internal/audit"
	audithandler "trapper/internal/audit/handler"
	"trapper/internal/blocklist"
	blockstore "trapper/internal/blocklist/store"
	httpapi "trapper/internal/http"
	"trapper/internal/identity"
	"trapper/internal/match"
	"trapper/internal/namerules"
	"trapper/internal/platform/config"
	"trapper/internal/platform/httpserver"
	"trapper/internal/platform/logger"
	platformmetrics "trapper/internal/platform/metrics"
	"trapper/internal/platform/postgres"
	"trapper/internal/platform/redis"
	"trapper/internal/resolve"
	resolvehandler "trapper/internal/resolve/handler"
	"trapper/internal/resolve/metrics"
	"trapper/pkg/platform/tx"
)

// main wires stores, loaders, the resolution service, and the HTTP surface.
// Business logic lives in the internal packages; this stays assembly only.
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

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}

	identities := identity.NewPostgresStore(db)
	decisions := audit.NewPostgresStore(db)

	blockStore := blockstore.NewPostgres(db)
	blockOpts := []blocklist.LoaderOption{blocklist.WithLogger(log)}
	if cache := redis.NewCache(redisClient); cache != nil {
		blockOpts = append(blockOpts, blocklist.WithCache(cache))
	}
	blockLoader := blocklist.NewLoader(blockStore, cfg.SnapshotRefresh, blockOpts...)

	nameStore := namerules.NewPostgresStore(db)
	nameLoader := namerules.NewLoader(nameStore, cfg.SnapshotRefresh,
		namerules.WithLoaderLogger(log))

	params := match.NewParamsHolder(match.DefaultFSParams())
	var scorer match.ScorerFactory
	switch cfg.Scorer {
	case config.ScorerWeighted:
		scorer = match.WeightedFactory()
	default:
		scorer = match.FellegiSunterFactory(params)
	}

	var outbox audit.Outbox
	var publisher *audit.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
		if err != nil {
			log.Error("kafka connect failed", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		outbox = decisions
		publisher = audit.NewPublisher(decisions, kafkaClient, cfg.Kafka.Topic,
			audit.WithPublisherLogger(log))
		if err := publisher.EnsureTopic(ctx, 3, 1); err != nil {
			log.Error("kafka topic setup failed", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("decision publisher stopped", "error", err)
			}
		}()
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

	router := httpapi.NewRouter(httpapi.Deps{
		Resolve:         resolvehandler.New(service, log),
		Decisions:       audithandler.New(decisions, log),
		Admin:           adminhandler.New(blockStore, blockLoader, nameStore, nameLoader, params, log),
		AdminSigningKey: cfg.JWTSigningKey,
		Ready:           db.PingContext,
		Logger:          log,
		Metrics:         platformmetrics.New(),
	})

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting identity engine", "addr", cfg.Addr, "scorer", string(cfg.Scorer))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
