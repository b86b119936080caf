package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"trapper/internal/platform/postgres"
	id "trapper/pkg/domain"
	txcontext "trapper/pkg/platform/tx"
)

// PostgresStore persists decisions and the decision outbox. The candidate
// breakdowns land as JSONB: they are read back whole for explanations, never
// filtered server-side.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed decision log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Insert(ctx context.Context, decision *Decision) error {
	if err := decision.Validate(); err != nil {
		return err
	}
	input, err := json.Marshal(decision.Input)
	if err != nil {
		return fmt.Errorf("marshal decision input: %w", err)
	}
	candidates, err := json.Marshal(decision.Candidates)
	if err != nil {
		return fmt.Errorf("marshal candidate breakdowns: %w", err)
	}
	query := `
		INSERT INTO decisions (id, source_system, source_record_id, input, decision, reason,
			person_id, household_id, confidence, candidate_count, candidates, request_id,
			duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(decision.ID), decision.SourceSystem, decision.SourceRecordID,
		input, string(decision.Decision), decision.Reason,
		nullUUID(ptrPersonUUID(decision.PersonID)), nullUUID(ptrHouseholdUUID(decision.HouseholdID)),
		decision.Confidence, decision.CandidateCount, candidates, decision.RequestID,
		decision.Duration.Milliseconds(), decision.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", postgres.MapError(err))
	}
	return nil
}

const decisionColumns = `id, source_system, source_record_id, input, decision, reason,
	person_id, household_id, confidence, candidate_count, candidates, request_id,
	duration_ms, created_at`

func (s *PostgresStore) GetByID(ctx context.Context, decisionID id.DecisionID) (*Decision, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, uuid.UUID(decisionID))
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", postgres.MapError(err))
	}
	out, err := scanDecisions(rows)
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("get decision: %w", postgres.MapError(sql.ErrNoRows))
	}
	return out[0], nil
}

func (s *PostgresStore) FindByStagedRecord(ctx context.Context, sourceSystem, sourceRecordID string) (*Decision, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE source_system = $1 AND source_record_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, sourceSystem, sourceRecordID)
	if err != nil {
		return nil, fmt.Errorf("find decision by staged record: %w", postgres.MapError(err))
	}
	out, err := scanDecisions(rows)
	if err != nil {
		return nil, fmt.Errorf("find decision by staged record: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("find decision by staged record: %w", postgres.MapError(sql.ErrNoRows))
	}
	return out[0], nil
}

func (s *PostgresStore) ListByPerson(ctx context.Context, personID id.PersonID, limit int) ([]*Decision, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE person_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, uuid.UUID(personID), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list decisions by person: %w", postgres.MapError(err))
	}
	return scanDecisions(rows)
}

func (s *PostgresStore) ListByRange(ctx context.Context, from, to time.Time, limit int) ([]*Decision, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at LIMIT $3
	`, from, to, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list decisions by range: %w", postgres.MapError(err))
	}
	return scanDecisions(rows)
}

func (s *PostgresStore) Enqueue(ctx context.Context, decision *Decision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO decision_outbox (decision_id, payload, created_at)
		VALUES ($1, $2, $3)
	`, uuid.UUID(decision.ID), payload, decision.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue decision event: %w", postgres.MapError(err))
	}
	return nil
}

func (s *PostgresStore) Pending(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT seq, decision_id, payload, created_at
		FROM decision_outbox
		WHERE published_at IS NULL
		ORDER BY seq LIMIT $1
	`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("pending decision events: %w", postgres.MapError(err))
	}
	defer rows.Close()
	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var did uuid.UUID
		if err := rows.Scan(&e.Seq, &did, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.DecisionID = id.DecisionID(did)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE decision_outbox SET published_at = now() WHERE seq = ANY($1)
	`, pq.Array(seqs))
	if err != nil {
		return fmt.Errorf("mark decision events published: %w", postgres.MapError(err))
	}
	return nil
}

func scanDecisions(rows *sql.Rows) ([]*Decision, error) {
	defer rows.Close()
	var out []*Decision
	for rows.Next() {
		var d Decision
		var did uuid.UUID
		var personID, householdID sql.Null[uuid.UUID]
		var input, candidates []byte
		var decision string
		var durationMS int64
		if err := rows.Scan(&did, &d.SourceSystem, &d.SourceRecordID, &input, &decision,
			&d.Reason, &personID, &householdID, &d.Confidence, &d.CandidateCount,
			&candidates, &d.RequestID, &durationMS, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.ID = id.DecisionID(did)
		d.Decision = DecisionType(decision)
		d.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal(input, &d.Input); err != nil {
			return nil, fmt.Errorf("unmarshal decision input: %w", err)
		}
		if len(candidates) > 0 {
			if err := json.Unmarshal(candidates, &d.Candidates); err != nil {
				return nil, fmt.Errorf("unmarshal candidate breakdowns: %w", err)
			}
		}
		if personID.Valid {
			p := id.PersonID(personID.V)
			d.PersonID = &p
		}
		if householdID.Valid {
			h := id.HouseholdID(householdID.V)
			d.HouseholdID = &h
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 500
	}
	return limit
}

func ptrPersonUUID(p *id.PersonID) *uuid.UUID {
	if p == nil {
		return nil
	}
	u := uuid.UUID(*p)
	return &u
}

func ptrHouseholdUUID(h *id.HouseholdID) *uuid.UUID {
	if h == nil {
		return nil
	}
	u := uuid.UUID(*h)
	return &u
}

func nullUUID(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return *u
}
