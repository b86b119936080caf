package namerules

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"trapper/internal/platform/postgres"
	txcontext "trapper/pkg/platform/tx"
)

// Store persists the operator bad-name pattern table.
type Store interface {
	Add(ctx context.Context, pattern *Pattern) error
	List(ctx context.Context) ([]*Pattern, error)
}

// InMemoryStore is the test and development pattern store.
type InMemoryStore struct {
	mu       sync.RWMutex
	patterns []*Pattern
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Add(_ context.Context, pattern *Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pattern
	s.patterns = append(s.patterns, &cp)
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expr < out[j].Expr })
	return out, nil
}

// PostgresStore persists patterns in PostgreSQL.
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

func (s *PostgresStore) Add(ctx context.Context, pattern *Pattern) error {
	query := `
		INSERT INTO name_patterns (kind, class, expr, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		string(pattern.Kind), string(pattern.Class), pattern.Expr, pattern.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add name pattern: %w", postgres.MapError(err))
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Pattern, error) {
	query := `
		SELECT kind, class, expr, created_at
		FROM name_patterns
		ORDER BY expr
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list name patterns: %w", postgres.MapError(err))
	}
	defer rows.Close()

	var patterns []*Pattern
	for rows.Next() {
		var p Pattern
		var kind, class string
		if err := rows.Scan(&kind, &class, &p.Expr, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan name pattern: %w", err)
		}
		p.Kind = PatternKind(kind)
		p.Class = Class(class)
		if err := p.Compile(); err != nil {
			// A pattern that validated at write time should always compile;
			// skip rather than poison the whole snapshot if one predates
			// write-time validation.
			continue
		}
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}

// LoadSnapshot reads the pattern table into an immutable snapshot.
func LoadSnapshot(ctx context.Context, store Store) (*Snapshot, error) {
	patterns, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(patterns), nil
}
