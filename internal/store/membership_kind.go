package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/registry/internal/model"
)

type KindStore struct {
	db DBTX
}

func NewKindStore(db DBTX) *KindStore {
	return &KindStore{db: db}
}

func scanKind(scanner interface{ Scan(...any) error }) (*model.MembershipKind, error) {
	var k model.MembershipKind
	var systemID sql.NullString
	if err := scanner.Scan(&k.ID, &k.Name, &k.IsUnique, &systemID, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	k.SystemID = systemID.String
	return &k, nil
}

const kindCols = `id, name, is_unique, system_id, created_at, updated_at`

func (s *KindStore) Create(ctx context.Context, name string, isUnique bool) (*model.MembershipKind, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO membership_kinds (name, name_key, is_unique, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name, model.KindKey(name), isUnique, now, now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, model.ErrDuplicateKindName(name)
		}
		return nil, fmt.Errorf("insert kind: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns the kind or model.ErrNotFound.
func (s *KindStore) GetByID(ctx context.Context, id int64) (*model.MembershipKind, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+kindCols+` FROM membership_kinds WHERE id = ?`, id)
	k, err := scanKind(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("membership kind %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get kind: %w", err)
	}
	return k, nil
}

func (s *KindStore) List(ctx context.Context) ([]model.MembershipKind, error) {
	return s.query(ctx, `SELECT `+kindCols+` FROM membership_kinds ORDER BY id DESC`)
}

// ListUnique returns the kinds flagged unique.
func (s *KindStore) ListUnique(ctx context.Context) ([]model.MembershipKind, error) {
	return s.query(ctx, `SELECT `+kindCols+` FROM membership_kinds WHERE is_unique = 1 ORDER BY id`)
}

// FindByNames resolves names by their folded key.
func (s *KindStore) FindByNames(ctx context.Context, names []string) ([]model.MembershipKind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = model.KindKey(n)
	}
	return s.query(ctx,
		`SELECT `+kindCols+` FROM membership_kinds WHERE name_key IN (`+placeholders(len(names))+`) ORDER BY id`,
		args...,
	)
}

// GetByIDs returns the kinds with the given ids.
func (s *KindStore) GetByIDs(ctx context.Context, ids []int64) ([]model.MembershipKind, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.query(ctx,
		`SELECT `+kindCols+` FROM membership_kinds WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		int64Args(ids)...,
	)
}

func (s *KindStore) query(ctx context.Context, q string, args ...any) ([]model.MembershipKind, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query kinds: %w", err)
	}
	defer rows.Close()

	var kinds []model.MembershipKind
	for rows.Next() {
		k, err := scanKind(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kind: %w", err)
		}
		kinds = append(kinds, *k)
	}
	return kinds, rows.Err()
}

// NameExists reports whether another kind already uses name, ignoring case.
func (s *KindStore) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM membership_kinds WHERE name_key = ? AND id != ?`,
		model.KindKey(name), excludeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check kind name: %w", err)
	}
	return count > 0, nil
}

func (s *KindStore) Update(ctx context.Context, id int64, name string, isUnique bool) (*model.MembershipKind, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE membership_kinds SET name = ?, name_key = ?, is_unique = ?, updated_at = ? WHERE id = ?`,
		name, model.KindKey(name), isUnique, time.Now().UTC(), id,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, model.ErrDuplicateKindName(name)
		}
		return nil, fmt.Errorf("update kind: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *KindStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM membership_kinds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete kind: %w", err)
	}
	return nil
}

// GroupIDsUsing returns the groups with at least one membership carrying the kind.
func (s *KindStore) GroupIDsUsing(ctx context.Context, kindID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT m.group_id FROM group_membership_kinds r
		 JOIN group_memberships m ON m.id = r.membership_id
		 WHERE r.kind_id = ? ORDER BY m.group_id`,
		kindID,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups using kind: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("scan group id: %w", err)
	}
	return ids, nil
}

// GroupsWithMultiple returns the groups where more than one membership
// carries the kind.
func (s *KindStore) GroupsWithMultiple(ctx context.Context, kindID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.group_id FROM group_membership_kinds r
		 JOIN group_memberships m ON m.id = r.membership_id
		 WHERE r.kind_id = ?
		 GROUP BY m.group_id HAVING COUNT(*) > 1 ORDER BY m.group_id`,
		kindID,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups with multiple: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("scan group id: %w", err)
	}
	return ids, nil
}
