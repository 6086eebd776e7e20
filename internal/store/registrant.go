package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/registry/internal/model"
	"github.com/dukerupert/registry/internal/query"
)

type RegistrantStore struct {
	db        DBTX
	chunkSize int
}

func NewRegistrantStore(db DBTX) *RegistrantStore {
	return &RegistrantStore{db: db, chunkSize: maxBoundIDs}
}

func scanRegistrant(scanner interface{ Scan(...any) error }) (*model.Registrant, error) {
	var r model.Registrant
	var birthdate, disabledAt sql.NullTime
	err := scanner.Scan(&r.ID, &r.Name, &r.GivenName, &r.FamilyName, &r.IsGroup, &r.Gender,
		&birthdate, &disabledAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Birthdate = timePtr(birthdate)
	r.DisabledAt = timePtr(disabledAt)
	return &r, nil
}

const registrantCols = `id, name, given_name, family_name, is_group, gender, birthdate, disabled_at, created_at, updated_at`

// activeGroupWhere selects groups that take part in indicator recomputation.
const activeGroupWhere = `is_group = 1 AND disabled_at IS NULL`

func (s *RegistrantStore) Create(ctx context.Context, r model.Registrant) (*model.Registrant, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO registrants (name, given_name, family_name, is_group, gender, birthdate, disabled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.GivenName, r.FamilyName, r.IsGroup, r.Gender, nullTime(r.Birthdate), nullTime(r.DisabledAt), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert registrant: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns the registrant or model.ErrNotFound.
func (s *RegistrantStore) GetByID(ctx context.Context, id int64) (*model.Registrant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+registrantCols+` FROM registrants WHERE id = ?`, id)
	r, err := scanRegistrant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("registrant %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get registrant: %w", err)
	}
	return r, nil
}

// GetByIDs returns the registrants keyed by id. Missing ids are skipped.
func (s *RegistrantStore) GetByIDs(ctx context.Context, ids []int64) (map[int64]model.Registrant, error) {
	out := make(map[int64]model.Registrant, len(ids))
	for _, chunk := range chunkIDs(ids, s.chunkSize) {
		if err := s.getChunk(ctx, chunk, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *RegistrantStore) getChunk(ctx context.Context, ids []int64, out map[int64]model.Registrant) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+registrantCols+` FROM registrants WHERE id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...,
	)
	if err != nil {
		return fmt.Errorf("query registrants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRegistrant(rows)
		if err != nil {
			return fmt.Errorf("scan registrant: %w", err)
		}
		out[r.ID] = *r
	}
	return rows.Err()
}

// ListFilter narrows List. Zero values do not filter.
type ListFilter struct {
	IsGroup         *bool
	NameContains    string
	IncludeDisabled bool
	Limit           int
	Offset          int
}

func (s *RegistrantStore) List(ctx context.Context, f ListFilter) ([]model.Registrant, error) {
	b := query.Select(registrantCols).From("registrants", "r")
	if f.IsGroup != nil {
		b.Where(query.Col("r", "is_group")+" = ?", *f.IsGroup)
	}
	if f.NameContains != "" {
		b.Where(query.Col("r", "name")+" LIKE ?", "%"+f.NameContains+"%")
	}
	if !f.IncludeDisabled {
		b.Where(query.Col("r", "disabled_at") + " IS NULL")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	sqlText, args, err := b.OrderBy(query.Col("r", "id")).Limit(limit, f.Offset).Build()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrants: %w", err)
	}
	defer rows.Close()

	var out []model.Registrant
	for rows.Next() {
		r, err := scanRegistrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registrant: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *RegistrantStore) Update(ctx context.Context, r model.Registrant) (*model.Registrant, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE registrants SET name = ?, given_name = ?, family_name = ?, gender = ?, birthdate = ?, updated_at = ?
		 WHERE id = ?`,
		r.Name, r.GivenName, r.FamilyName, r.Gender, nullTime(r.Birthdate), time.Now().UTC(), r.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update registrant: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("registrant %d: %w", r.ID, model.ErrNotFound)
	}
	return s.GetByID(ctx, r.ID)
}

// SetDisabled disables the registrant at the given time, or re-enables it when at is nil.
func (s *RegistrantStore) SetDisabled(ctx context.Context, id int64, at *time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE registrants SET disabled_at = ?, updated_at = ? WHERE id = ?`,
		nullTime(at), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("disable registrant: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("registrant %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *RegistrantStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM registrants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete registrant: %w", err)
	}
	return nil
}

// FilterGroups returns the subset of ids that are active groups, ordered by id.
func (s *RegistrantStore) FilterGroups(ctx context.Context, ids []int64) ([]int64, error) {
	var groups []int64
	for _, chunk := range chunkIDs(dedupe(ids), s.chunkSize) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id FROM registrants WHERE `+activeGroupWhere+` AND id IN (`+placeholders(len(chunk))+`) ORDER BY id`,
			int64Args(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("filter groups: %w", err)
		}
		found, err := collectIDs(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		groups = append(groups, found...)
	}
	return groups, nil
}

// CountActiveGroups counts the groups eligible for indicator recomputation.
func (s *RegistrantStore) CountActiveGroups(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrants WHERE `+activeGroupWhere).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return n, nil
}

// ListActiveGroupIDs returns one id-ordered window of active groups.
func (s *RegistrantStore) ListActiveGroupIDs(ctx context.Context, offset, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM registrants WHERE `+activeGroupWhere+` ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list group ids: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("scan group id: %w", err)
	}
	return ids, nil
}
