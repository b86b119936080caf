package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"trapper/internal/batch"
	"trapper/internal/ingest"
	"trapper/internal/platform/config"
	"trapper/internal/platform/logger"
	"trapper/internal/platform/postgres"
)

// main stages one vendor CSV export into the staged-record table. Rows are
// upserted by (source system, record id), so re-running an export is safe;
// the batch drainer picks staged rows up from there.
func main() {
	source := flag.String("source", "", "source system of the export (clinichq, jotform, airtable)")
	file := flag.String("file", "", "path to the CSV export; - reads stdin")
	flag.Parse()

	log := logger.New()
	if *source == "" || *file == "" {
		log.Error("both -source and -file are required")
		os.Exit(2)
	}

	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	in := os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			log.Error("open export failed", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	staged, failed, err := stage(ctx, batch.NewPostgresStore(db), ingest.DefaultRegistry(), *source, in)
	log.Info("export staged", "source", *source, "staged", staged, "failed", failed)
	if err != nil {
		log.Error("staging aborted", "error", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// stage maps each CSV row through the source adapter and upserts it. Rows the
// adapter rejects are counted and skipped; storage errors abort the run so a
// dead database does not read as a clean import.
func stage(ctx context.Context, store batch.Store, registry *ingest.Registry, source string, in io.Reader) (staged, failed int, err error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("read csv header: %w", err)
	}

	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return staged, failed, fmt.Errorf("read csv line %d: %w", line, err)
		}

		raw := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				raw[col] = row[i]
			}
		}

		rec, err := registry.Map(source, raw)
		if err != nil {
			failed++
			continue
		}
		if err := store.Add(ctx, rec); err != nil {
			return staged, failed, fmt.Errorf("stage csv line %d: %w", line, err)
		}
		staged++
	}
	return staged, failed, nil
}
