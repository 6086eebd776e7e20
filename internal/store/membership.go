package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/registry/internal/model"
)

// ErrMembershipConflict is returned when a (group, individual) pair already exists.
var ErrMembershipConflict = errors.New("membership already exists")

type MembershipStore struct {
	db DBTX
}

func NewMembershipStore(db DBTX) *MembershipStore {
	return &MembershipStore{db: db}
}

func scanMembership(scanner interface{ Scan(...any) error }) (*model.Membership, error) {
	var m model.Membership
	var endedAt sql.NullTime
	if err := scanner.Scan(&m.ID, &m.GroupID, &m.IndividualID, &m.StartAt, &endedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.StartAt = m.StartAt.UTC()
	m.EndedAt = timePtr(endedAt)
	m.Kinds = []model.MembershipKind{}
	return &m, nil
}

const membershipCols = `id, group_id, individual_id, start_at, ended_at, created_at, updated_at`

// Create inserts the membership and its kind links. A duplicate
// (group, individual) pair returns ErrMembershipConflict.
func (s *MembershipStore) Create(ctx context.Context, m model.Membership) (*model.Membership, error) {
	now := time.Now().UTC()
	if m.StartAt.IsZero() {
		m.StartAt = now
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO group_memberships (group_id, individual_id, start_at, ended_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.GroupID, m.IndividualID, m.StartAt.UTC(), nullTime(m.EndedAt), now, now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrMembershipConflict
		}
		return nil, fmt.Errorf("insert membership: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if err := s.SetKinds(ctx, id, m.KindIDs()); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// GetByID returns the membership with its kinds, or model.ErrNotFound.
func (s *MembershipStore) GetByID(ctx context.Context, id int64) (*model.Membership, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+membershipCols+` FROM group_memberships WHERE id = ?`, id)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("membership %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	kinds, err := s.kindsFor(ctx, `r.membership_id = ?`, id)
	if err != nil {
		return nil, err
	}
	m.Kinds = append(m.Kinds, kinds[m.ID]...)
	return m, nil
}

// ListByGroup returns every membership of the group, ended or not, newest first.
func (s *MembershipStore) ListByGroup(ctx context.Context, groupID int64) ([]model.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+membershipCols+` FROM group_memberships WHERE group_id = ? ORDER BY id DESC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	var members []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}

	kinds, err := s.kindsFor(ctx,
		`r.membership_id IN (SELECT id FROM group_memberships WHERE group_id = ?)`, groupID)
	if err != nil {
		return nil, err
	}
	for i := range members {
		members[i].Kinds = append(members[i].Kinds, kinds[members[i].ID]...)
	}
	return members, nil
}

// ListByIndividual returns the memberships of an individual across groups.
func (s *MembershipStore) ListByIndividual(ctx context.Context, individualID int64) ([]model.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+membershipCols+` FROM group_memberships WHERE individual_id = ? ORDER BY id DESC`,
		individualID,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	var members []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}

	kinds, err := s.kindsFor(ctx,
		`r.membership_id IN (SELECT id FROM group_memberships WHERE individual_id = ?)`, individualID)
	if err != nil {
		return nil, err
	}
	for i := range members {
		members[i].Kinds = append(members[i].Kinds, kinds[members[i].ID]...)
	}
	return members, nil
}

func (s *MembershipStore) kindsFor(ctx context.Context, where string, args ...any) (map[int64][]model.MembershipKind, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.membership_id, k.id, k.name, k.is_unique, k.system_id, k.created_at, k.updated_at
		 FROM group_membership_kinds r
		 JOIN membership_kinds k ON k.id = r.kind_id
		 WHERE `+where+` ORDER BY k.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query membership kinds: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]model.MembershipKind)
	for rows.Next() {
		var membershipID int64
		var k model.MembershipKind
		var systemID sql.NullString
		if err := rows.Scan(&membershipID, &k.ID, &k.Name, &k.IsUnique, &systemID, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan membership kind: %w", err)
		}
		k.SystemID = systemID.String
		out[membershipID] = append(out[membershipID], k)
	}
	return out, rows.Err()
}

// Update writes the dates and replaces the kind set of the membership.
func (s *MembershipStore) Update(ctx context.Context, m model.Membership) (*model.Membership, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE group_memberships SET start_at = ?, ended_at = ?, updated_at = ? WHERE id = ?`,
		m.StartAt.UTC(), nullTime(m.EndedAt), time.Now().UTC(), m.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update membership: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("membership %d: %w", m.ID, model.ErrNotFound)
	}
	if err := s.SetKinds(ctx, m.ID, m.KindIDs()); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, m.ID)
}

// SetKinds replaces the kind links of a membership.
func (s *MembershipStore) SetKinds(ctx context.Context, membershipID int64, kindIDs []int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM group_membership_kinds WHERE membership_id = ?`, membershipID); err != nil {
		return fmt.Errorf("clear membership kinds: %w", err)
	}
	ids := dedupe(kindIDs)
	for _, kindID := range ids {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO group_membership_kinds (membership_id, kind_id) VALUES (?, ?)`,
			membershipID, kindID,
		); err != nil {
			return fmt.Errorf("link kind %d: %w", kindID, err)
		}
	}
	return nil
}

// Delete removes the membership and returns the id of its group.
func (s *MembershipStore) Delete(ctx context.Context, id int64) (int64, error) {
	var groupID int64
	err := s.db.QueryRowContext(ctx, `SELECT group_id FROM group_memberships WHERE id = ?`, id).Scan(&groupID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("membership %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get membership group: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM group_memberships WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("delete membership: %w", err)
	}
	return groupID, nil
}

// GroupIDsForIndividual returns the groups the individual belongs to.
func (s *MembershipStore) GroupIDsForIndividual(ctx context.Context, individualID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT group_id FROM group_memberships WHERE individual_id = ? ORDER BY group_id`,
		individualID,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups for individual: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("scan group id: %w", err)
	}
	return ids, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
