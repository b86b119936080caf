package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	id "trapper/pkg/domain"
	"trapper/pkg/platform/sentinel"
	txcontext "trapper/pkg/platform/tx"

	"github.com/google/uuid"

	"trapper/internal/platform/postgres"
	"trapper/pkg/requestcontext"
)

// PostgresStore persists the person aggregate in PostgreSQL. Merge-chain
// flattening happens inside the merge statement's transaction; uniqueness of
// unshared identifiers is a partial unique index so the loser of a concurrent
// create gets a constraint violation, mapped to sentinel.ErrConflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed identity store.
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

func (s *PostgresStore) CreatePerson(ctx context.Context, person *Person) error {
	query := `
		INSERT INTO persons (id, first_name, last_name, display_name, data_quality, merged_into, household_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(person.ID), person.FirstName, person.LastName, person.DisplayName,
		string(person.DataQuality), nullPersonID(person.MergedInto), nullHouseholdID(person.HouseholdID),
		person.CreatedAt, person.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create person: %w", postgres.MapError(err))
	}
	return nil
}

const personColumns = `id, first_name, last_name, display_name, data_quality, merged_into, household_id, created_at, updated_at`

func (s *PostgresStore) GetPerson(ctx context.Context, personID id.PersonID) (*Person, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id = $1`, uuid.UUID(personID))
	person, err := scanPerson(row)
	if err != nil {
		return nil, fmt.Errorf("get person: %w", postgres.MapError(err))
	}
	return person, nil
}

func (s *PostgresStore) CanonicalID(ctx context.Context, personID id.PersonID) (id.PersonID, error) {
	var merged sql.Null[uuid.UUID]
	var pid uuid.UUID
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, merged_into FROM persons WHERE id = $1`, uuid.UUID(personID)).Scan(&pid, &merged)
	if err != nil {
		return id.PersonID{}, fmt.Errorf("canonical id: %w", postgres.MapError(err))
	}
	if merged.Valid {
		return id.PersonID(merged.V), nil
	}
	return id.PersonID(pid), nil
}

func (s *PostgresStore) MergePerson(ctx context.Context, from, into id.PersonID) error {
	run := func(ctx context.Context) error {
		ex := s.execer(ctx)

		var fromMerged sql.Null[uuid.UUID]
		if err := ex.QueryRowContext(ctx,
			`SELECT merged_into FROM persons WHERE id = $1 FOR UPDATE`, uuid.UUID(from)).Scan(&fromMerged); err != nil {
			return postgres.MapError(err)
		}
		if fromMerged.Valid {
			return sentinel.ErrInvalidState
		}

		// Land on the destination's canonical survivor, one hop max.
		var intoID uuid.UUID
		var intoMerged sql.Null[uuid.UUID]
		if err := ex.QueryRowContext(ctx,
			`SELECT id, merged_into FROM persons WHERE id = $1`, uuid.UUID(into)).Scan(&intoID, &intoMerged); err != nil {
			return postgres.MapError(err)
		}
		canonical := intoID
		if intoMerged.Valid {
			canonical = intoMerged.V
		}
		if canonical == uuid.UUID(from) {
			return sentinel.ErrInvalidState
		}

		if _, err := ex.ExecContext(ctx,
			`UPDATE persons SET merged_into = $1, updated_at = now() WHERE id = $2`,
			canonical, uuid.UUID(from)); err != nil {
			return postgres.MapError(err)
		}
		// Flatten: anything already pointing at `from` now points at the
		// survivor directly, keeping every chain at length one.
		if _, err := ex.ExecContext(ctx,
			`UPDATE persons SET merged_into = $1, updated_at = now() WHERE merged_into = $2`,
			canonical, uuid.UUID(from)); err != nil {
			return postgres.MapError(err)
		}
		return nil
	}

	if _, inTx := txcontext.From(ctx); inTx {
		if err := run(ctx); err != nil {
			return fmt.Errorf("merge person: %w", err)
		}
		return nil
	}
	if err := txcontext.NewSQLRunner(s.db).RunInTx(ctx, run); err != nil {
		return fmt.Errorf("merge person: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetDataQuality(ctx context.Context, personID id.PersonID, quality DataQuality) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE persons SET data_quality = $1, updated_at = now() WHERE id = $2`,
		string(quality), uuid.UUID(personID))
	if err != nil {
		return fmt.Errorf("set data quality: %w", postgres.MapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddIdentifier(ctx context.Context, ident *Identifier) error {
	query := `
		INSERT INTO identifiers (id, person_id, identifier_type, raw_value, normalized_value, confidence, source_system, shared, version, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8,
		       1 + COALESCE((SELECT MAX(version) FROM identifiers WHERE person_id = $2 AND identifier_type = $3), 0),
		       $9
		ON CONFLICT (person_id, identifier_type, normalized_value) DO NOTHING
	`
	createdAt := ident.CreatedAt
	if createdAt.IsZero() {
		createdAt = requestcontext.Now(ctx)
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(ident.ID), uuid.UUID(ident.PersonID), string(ident.Type),
		ident.Raw, ident.Normalized, ident.Confidence, ident.SourceSystem,
		ident.Shared, createdAt,
	)
	if err != nil {
		// The partial unique index on unshared (type, value) pairs lands
		// here when another person already owns the identifier.
		return fmt.Errorf("add identifier: %w", postgres.MapError(err))
	}
	return nil
}

func (s *PostgresStore) FindPersonsByIdentifier(ctx context.Context, idType id.IdentifierType, normalized string) ([]id.PersonID, error) {
	// Merge pointers are one hop at most, so a single self-join lands on
	// the canonical survivor; eligibility is judged on the survivor.
	query := `
		SELECT DISTINCT COALESCE(c.id, p.id) AS person_id
		FROM identifiers i
		JOIN persons p ON p.id = i.person_id
		LEFT JOIN persons c ON c.id = p.merged_into
		WHERE i.identifier_type = $1
		  AND i.normalized_value = $2
		  AND i.confidence >= $3
		  AND COALESCE(c.data_quality, p.data_quality) IN ('normal', 'low')
		ORDER BY person_id
	`
	return s.queryPersonIDs(ctx, query, string(idType), normalized, MinEvidenceConfidence)
}

func (s *PostgresStore) OwnerOfIdentifier(ctx context.Context, idType id.IdentifierType, normalized string) (id.PersonID, bool, error) {
	query := `
		SELECT COALESCE(p.merged_into, p.id)
		FROM identifiers i
		JOIN persons p ON p.id = i.person_id
		WHERE i.identifier_type = $1 AND i.normalized_value = $2 AND NOT i.shared
		ORDER BY i.created_at
		LIMIT 1
	`
	var owner uuid.UUID
	err := s.execer(ctx).QueryRowContext(ctx, query, string(idType), normalized).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return id.PersonID{}, false, nil
	}
	if err != nil {
		return id.PersonID{}, false, fmt.Errorf("owner of identifier: %w", err)
	}
	return id.PersonID(owner), true, nil
}

func (s *PostgresStore) AttachPlace(ctx context.Context, rel *PlaceRelation) error {
	query := `
		INSERT INTO person_places (place_id, person_id, address_raw, address_norm, source_system, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (person_id, address_norm, source_system) DO NOTHING
	`
	createdAt := rel.CreatedAt
	if createdAt.IsZero() {
		createdAt = requestcontext.Now(ctx)
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(rel.PlaceID), uuid.UUID(rel.PersonID),
		rel.AddressRaw, rel.AddressNorm, rel.SourceSystem, createdAt,
	)
	if err != nil {
		return fmt.Errorf("attach place: %w", postgres.MapError(err))
	}
	return nil
}

func (s *PostgresStore) FindPersonsByAddress(ctx context.Context, addressNorm string) ([]id.PersonID, error) {
	query := `
		SELECT DISTINCT COALESCE(c.id, p.id) AS person_id
		FROM person_places pp
		JOIN persons p ON p.id = pp.person_id
		LEFT JOIN persons c ON c.id = p.merged_into
		WHERE pp.address_norm = $1
		  AND COALESCE(c.data_quality, p.data_quality) IN ('normal', 'low')
		ORDER BY person_id
	`
	return s.queryPersonIDs(ctx, query, addressNorm)
}

func (s *PostgresStore) LoadCandidate(ctx context.Context, personID id.PersonID) (*Candidate, error) {
	person, err := s.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	cand := &Candidate{Person: *person}

	// Identifiers and places left on merged-away duplicates still belong to
	// the survivor's evidence. Merge pointers are flattened to one hop, so
	// joining through merged_into covers the whole merge set.
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, person_id, identifier_type, raw_value, normalized_value, confidence, source_system, shared, version, created_at
		FROM identifiers
		WHERE person_id = $1
		   OR person_id IN (SELECT id FROM persons WHERE merged_into = $1)
		ORDER BY created_at, id
	`, uuid.UUID(personID))
	if err != nil {
		return nil, fmt.Errorf("load candidate identifiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ident Identifier
		var identID, pid uuid.UUID
		var idType string
		if err := rows.Scan(&identID, &pid, &idType, &ident.Raw, &ident.Normalized,
			&ident.Confidence, &ident.SourceSystem, &ident.Shared, &ident.Version, &ident.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		ident.ID = id.IdentifierID(identID)
		ident.PersonID = id.PersonID(pid)
		ident.Type = id.IdentifierType(idType)
		cand.Identifiers = append(cand.Identifiers, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	placeRows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT place_id, person_id, address_raw, address_norm, source_system, created_at
		FROM person_places
		WHERE person_id = $1
		   OR person_id IN (SELECT id FROM persons WHERE merged_into = $1)
		ORDER BY created_at, place_id
	`, uuid.UUID(personID))
	if err != nil {
		return nil, fmt.Errorf("load candidate places: %w", err)
	}
	defer placeRows.Close()
	for placeRows.Next() {
		var rel PlaceRelation
		var placeID, pid uuid.UUID
		if err := placeRows.Scan(&placeID, &pid, &rel.AddressRaw, &rel.AddressNorm, &rel.SourceSystem, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan place relation: %w", err)
		}
		rel.PlaceID = id.PlaceID(placeID)
		rel.PersonID = id.PersonID(pid)
		cand.Places = append(cand.Places, rel)
	}
	if err := placeRows.Err(); err != nil {
		return nil, err
	}

	if person.HouseholdID != nil {
		household, err := s.GetHousehold(ctx, *person.HouseholdID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		cand.Household = household
	}
	return cand, nil
}

func (s *PostgresStore) EnsureHousehold(ctx context.Context, addressNorm string) (*Household, error) {
	query := `
		INSERT INTO households (id, address_norm, member_count, created_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (address_norm) DO UPDATE SET address_norm = EXCLUDED.address_norm
		RETURNING id, address_norm, member_count, created_at
	`
	var h Household
	var hid uuid.UUID
	err := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.New(), addressNorm, requestcontext.Now(ctx)).
		Scan(&hid, &h.AddressNorm, &h.MemberCount, &h.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure household: %w", postgres.MapError(err))
	}
	h.ID = id.HouseholdID(hid)
	return &h, nil
}

func (s *PostgresStore) AddHouseholdMember(ctx context.Context, householdID id.HouseholdID, personID id.PersonID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO household_members (household_id, person_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (household_id, person_id) DO NOTHING
	`, uuid.UUID(householdID), uuid.UUID(personID), requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("add household member: %w", postgres.MapError(err))
	}
	inserted, _ := res.RowsAffected()
	if inserted == 0 {
		// Already a member; replayed batches must not double-count.
		return nil
	}
	if _, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE households SET member_count = member_count + 1 WHERE id = $1`,
		uuid.UUID(householdID)); err != nil {
		return fmt.Errorf("bump household member count: %w", postgres.MapError(err))
	}
	if _, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE persons SET household_id = $1, updated_at = now() WHERE id = $2`,
		uuid.UUID(householdID), uuid.UUID(personID)); err != nil {
		return fmt.Errorf("set person household: %w", postgres.MapError(err))
	}
	return nil
}

func (s *PostgresStore) GetHousehold(ctx context.Context, householdID id.HouseholdID) (*Household, error) {
	var h Household
	var hid uuid.UUID
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, address_norm, member_count, created_at FROM households WHERE id = $1`,
		uuid.UUID(householdID)).Scan(&hid, &h.AddressNorm, &h.MemberCount, &h.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get household: %w", postgres.MapError(err))
	}
	h.ID = id.HouseholdID(hid)
	return &h, nil
}

func (s *PostgresStore) queryPersonIDs(ctx context.Context, query string, args ...any) ([]id.PersonID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query person ids: %w", postgres.MapError(err))
	}
	defer rows.Close()
	var out []id.PersonID
	for rows.Next() {
		var pid uuid.UUID
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("scan person id: %w", err)
		}
		out = append(out, id.PersonID(pid))
	}
	return out, rows.Err()
}

func scanPerson(row *sql.Row) (*Person, error) {
	var p Person
	var pid uuid.UUID
	var merged, household sql.Null[uuid.UUID]
	var quality string
	err := row.Scan(&pid, &p.FirstName, &p.LastName, &p.DisplayName, &quality,
		&merged, &household, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = id.PersonID(pid)
	p.DataQuality = DataQuality(quality)
	if merged.Valid {
		m := id.PersonID(merged.V)
		p.MergedInto = &m
	}
	if household.Valid {
		h := id.HouseholdID(household.V)
		p.HouseholdID = &h
	}
	return &p, nil
}

func nullPersonID(p *id.PersonID) any {
	if p == nil {
		return nil
	}
	return uuid.UUID(*p)
}

func nullHouseholdID(h *id.HouseholdID) any {
	if h == nil {
		return nil
	}
	return uuid.UUID(*h)
}
