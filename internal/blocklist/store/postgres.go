package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"trapper/internal/blocklist"
	"trapper/internal/platform/postgres"
	id "trapper/pkg/domain"
	txcontext "trapper/pkg/platform/tx"
)

// Postgres persists blocklist entries in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed blocklist store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) AddHard(ctx context.Context, entry *blocklist.HardEntry) error {
	query := `
		INSERT INTO blocklist_hard (identifier_type, normalized_value, reason, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		string(entry.Type), entry.Value, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add hard blocklist entry: %w", postgres.MapError(err))
	}
	return nil
}

func (s *Postgres) AddSoft(ctx context.Context, entry *blocklist.SoftEntry) error {
	query := `
		INSERT INTO blocklist_soft (identifier_type, normalized_value, multiplier, known_names, requires, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identifier_type, normalized_value)
		DO UPDATE SET multiplier = EXCLUDED.multiplier,
		              known_names = EXCLUDED.known_names,
		              requires = EXCLUDED.requires
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		string(entry.Type), entry.Value, entry.Multiplier,
		pq.Array(entry.KnownNames), string(entry.Requires), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert soft blocklist entry: %w", postgres.MapError(err))
	}
	return nil
}

func (s *Postgres) ListHard(ctx context.Context) ([]*blocklist.HardEntry, error) {
	query := `
		SELECT identifier_type, normalized_value, reason, created_at
		FROM blocklist_hard
		ORDER BY identifier_type, normalized_value
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list hard blocklist: %w", postgres.MapError(err))
	}
	defer rows.Close()

	var entries []*blocklist.HardEntry
	for rows.Next() {
		var e blocklist.HardEntry
		var idType string
		if err := rows.Scan(&idType, &e.Value, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hard blocklist entry: %w", err)
		}
		e.Type = id.IdentifierType(idType)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *Postgres) ListSoft(ctx context.Context) ([]*blocklist.SoftEntry, error) {
	query := `
		SELECT identifier_type, normalized_value, multiplier, known_names, requires, created_at
		FROM blocklist_soft
		ORDER BY identifier_type, normalized_value
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list soft blocklist: %w", postgres.MapError(err))
	}
	defer rows.Close()

	var entries []*blocklist.SoftEntry
	for rows.Next() {
		var e blocklist.SoftEntry
		var idType, requires string
		if err := rows.Scan(&idType, &e.Value, &e.Multiplier, pq.Array(&e.KnownNames), &requires, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan soft blocklist entry: %w", err)
		}
		e.Type = id.IdentifierType(idType)
		e.Requires = blocklist.Corroboration(requires)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
