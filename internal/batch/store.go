package batch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"trapper/internal/platform/postgres"
	"trapper/internal/resolve"
	txcontext "trapper/pkg/platform/tx"
)

// Store holds staged records awaiting resolution. Ingest writes rows in,
// the batch processor drains them.
type Store interface {
	// Add stages a record. Re-staging the same (source_system,
	// source_record_id) replaces the previous row.
	Add(ctx context.Context, rec resolve.StagedRecord) error

	// Pending returns up to limit unprocessed records, oldest first.
	Pending(ctx context.Context, limit int) ([]resolve.StagedRecord, error)

	// MarkProcessed stamps a record so subsequent drains skip it.
	MarkProcessed(ctx context.Context, sourceSystem, sourceRecordID string) error
}

type stagedKey struct {
	source string
	record string
}

// InMemoryStore is the test and development staged-record store.
type InMemoryStore struct {
	mu        sync.Mutex
	records   map[stagedKey]resolve.StagedRecord
	processed map[stagedKey]bool
	order     []stagedKey
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:   make(map[stagedKey]resolve.StagedRecord),
		processed: make(map[stagedKey]bool),
	}
}

func (s *InMemoryStore) Add(_ context.Context, rec resolve.StagedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stagedKey{rec.SourceSystem, rec.SourceRecordID}
	if _, exists := s.records[k]; !exists {
		s.order = append(s.order, k)
	}
	s.records[k] = rec
	delete(s.processed, k)
	return nil
}

func (s *InMemoryStore) Pending(_ context.Context, limit int) ([]resolve.StagedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []resolve.StagedRecord
	for _, k := range s.order {
		if s.processed[k] {
			continue
		}
		out = append(out, s.records[k])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, sourceSystem, sourceRecordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[stagedKey{sourceSystem, sourceRecordID}] = true
	return nil
}

// PostgresStore persists staged records in the staged_records table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Add(ctx context.Context, rec resolve.StagedRecord) error {
	const q = `
		INSERT INTO staged_records (
			source_system, source_record_id, first_name, last_name,
			email, phone, address, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_system, source_record_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			address = EXCLUDED.address,
			received_at = EXCLUDED.received_at,
			processed_at = NULL`
	_, err := s.execer(ctx).ExecContext(ctx, q,
		rec.SourceSystem, rec.SourceRecordID, rec.FirstName, rec.LastName,
		rec.Email, rec.Phone, rec.Address, rec.ReceivedAt)
	if err != nil {
		return fmt.Errorf("stage record: %w", postgres.MapError(err))
	}
	return nil
}

func (s *PostgresStore) Pending(ctx context.Context, limit int) ([]resolve.StagedRecord, error) {
	const q = `
		SELECT source_system, source_record_id, first_name, last_name,
		       email, phone, address, received_at
		FROM staged_records
		WHERE processed_at IS NULL
		ORDER BY received_at, source_system, source_record_id
		LIMIT $1`
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.execer(ctx).QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", postgres.MapError(err))
	}
	defer rows.Close()

	var out []resolve.StagedRecord
	for rows.Next() {
		var rec resolve.StagedRecord
		var receivedAt time.Time
		if err := rows.Scan(
			&rec.SourceSystem, &rec.SourceRecordID, &rec.FirstName, &rec.LastName,
			&rec.Email, &rec.Phone, &rec.Address, &receivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan staged record: %w", err)
		}
		rec.ReceivedAt = receivedAt
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, sourceSystem, sourceRecordID string) error {
	const q = `
		UPDATE staged_records SET processed_at = now()
		WHERE source_system = $1 AND source_record_id = $2`
	_, err := s.execer(ctx).ExecContext(ctx, q, sourceSystem, sourceRecordID)
	if err != nil {
		return fmt.Errorf("mark record processed: %w", postgres.MapError(err))
	}
	return nil
}
