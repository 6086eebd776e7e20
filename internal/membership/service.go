// Package membership owns group membership mutations: it validates them
// against the per-group invariants, serialises them per group and stamps the
// owning groups for indicator recomputation.
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/registry/internal/database"
	"github.com/dukerupert/registry/internal/metrics"
	"github.com/dukerupert/registry/internal/model"
	"github.com/dukerupert/registry/internal/store"
)

// Recomputer marks groups for indicator recomputation. Stamp runs inside the
// mutation's transaction, MarkDirty after it committed.
type Recomputer interface {
	Stamp(ctx context.Context, tx store.DBTX, groupIDs []int64) error
	MarkDirty(groupIDs ...int64)
}

// Service applies membership and registrant mutations.
type Service struct {
	db         *sql.DB
	recomputer Recomputer
	locks      *groupLocks
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for default start dates and status.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *sql.DB, recomputer Recomputer, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		db:         db,
		recomputer: recomputer,
		locks:      newGroupLocks(),
		logger:     logger.With("component", "membership"),
		metrics:    m,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddInput describes a new membership.
type AddInput struct {
	GroupID      int64
	IndividualID int64
	KindIDs      []int64
	StartAt      time.Time
	EndedAt      *time.Time
}

// Add links an individual to a group.
func (s *Service) Add(ctx context.Context, in AddInput) (*model.Membership, error) {
	unlock := s.locks.lock(in.GroupID)
	defer unlock()

	var created *model.Membership
	err := s.mutate(ctx, "add", in.GroupID, func(tx *sql.Tx) error {
		var err error
		created, err = s.addTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) addTx(ctx context.Context, tx *sql.Tx, in AddInput) (*model.Membership, error) {
	rs := store.NewRegistrantStore(tx)
	ks := store.NewKindStore(tx)
	ms := store.NewMembershipStore(tx)

	group, err := rs.GetByID(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	individual, err := rs.GetByID(ctx, in.IndividualID)
	if err != nil {
		return nil, err
	}
	if err := CheckRoles(*group, *individual); err != nil {
		return nil, err
	}

	kinds, err := resolveKindIDs(ctx, ks, in.KindIDs)
	if err != nil {
		return nil, err
	}
	m := model.Membership{
		GroupID:      group.ID,
		IndividualID: individual.ID,
		Kinds:        kinds,
		StartAt:      startOr(in.StartAt, s.now()),
		EndedAt:      in.EndedAt,
	}
	if err := CheckDates(m, individual.Name, group.Name); err != nil {
		return nil, err
	}

	existing, err := ms.ListByGroup(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	unique, err := ks.ListUnique(ctx)
	if err != nil {
		return nil, err
	}
	names := map[int64]string{individual.ID: individual.Name}
	if err := CheckGroup(append(existing, m), unique, names, group.Name); err != nil {
		return nil, err
	}

	created, err := ms.Create(ctx, m)
	if errors.Is(err, store.ErrMembershipConflict) {
		return nil, model.ErrDuplicateMember(individual.Name, group.Name)
	}
	return created, err
}

// UpdateInput changes an existing membership. Nil fields are left alone.
type UpdateInput struct {
	KindIDs  *[]int64
	StartAt  *time.Time
	EndedAt  *time.Time
	ClearEnd bool
}

// Update edits the kinds or dates of a membership.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*model.Membership, error) {
	current, err := store.NewMembershipStore(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(current.GroupID)
	defer unlock()

	var updated *model.Membership
	err = s.mutate(ctx, "update", current.GroupID, func(tx *sql.Tx) error {
		ks := store.NewKindStore(tx)
		ms := store.NewMembershipStore(tx)

		m, err := ms.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if in.KindIDs != nil {
			if m.Kinds, err = resolveKindIDs(ctx, ks, *in.KindIDs); err != nil {
				return err
			}
		}
		if in.StartAt != nil {
			m.StartAt = in.StartAt.UTC()
		}
		if in.ClearEnd {
			m.EndedAt = nil
		} else if in.EndedAt != nil {
			end := in.EndedAt.UTC()
			m.EndedAt = &end
		}
		parties, err := store.NewRegistrantStore(tx).GetByIDs(ctx, []int64{m.GroupID, m.IndividualID})
		if err != nil {
			return err
		}
		if err := CheckDates(*m, parties[m.IndividualID].Name, parties[m.GroupID].Name); err != nil {
			return err
		}

		members, err := ms.ListByGroup(ctx, m.GroupID)
		if err != nil {
			return err
		}
		for i := range members {
			if members[i].ID == m.ID {
				members[i] = *m
			}
		}
		unique, err := ks.ListUnique(ctx)
		if err != nil {
			return err
		}
		if err := CheckUniqueKinds(members, unique); err != nil {
			return err
		}

		updated, err = ms.Update(ctx, *m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove unlinks a membership and marks its former group dirty.
func (s *Service) Remove(ctx context.Context, id int64) error {
	current, err := store.NewMembershipStore(s.db).GetByID(ctx, id)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(current.GroupID)
	defer unlock()

	return s.mutate(ctx, "remove", current.GroupID, func(tx *sql.Tx) error {
		_, err := store.NewMembershipStore(tx).Delete(ctx, id)
		return err
	})
}

// Get returns one membership.
func (s *Service) Get(ctx context.Context, id int64) (*model.Membership, error) {
	return store.NewMembershipStore(s.db).GetByID(ctx, id)
}

// ListMembers returns the memberships of a group with their individuals.
func (s *Service) ListMembers(ctx context.Context, groupID int64) ([]model.Member, error) {
	group, err := store.NewRegistrantStore(s.db).GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsGroup {
		return nil, fmt.Errorf("group %d: %w", groupID, model.ErrNotFound)
	}
	memberships, err := store.NewMembershipStore(s.db).ListByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.IndividualID)
	}
	individuals, err := store.NewRegistrantStore(s.db).GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]model.Member, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, model.NewMember(m, individuals[m.IndividualID], now))
	}
	return out, nil
}

// ListMemberships returns the memberships an individual holds across groups.
func (s *Service) ListMemberships(ctx context.Context, individualID int64) ([]model.Membership, error) {
	ind, err := store.NewRegistrantStore(s.db).GetByID(ctx, individualID)
	if err != nil {
		return nil, err
	}
	if ind.IsGroup {
		return nil, fmt.Errorf("individual %d: %w", individualID, model.ErrNotFound)
	}
	return store.NewMembershipStore(s.db).ListByIndividual(ctx, individualID)
}

// validateGroupTx re-runs the per-group checks against the stored state.
func validateGroupTx(ctx context.Context, db store.DBTX, groupID int64) error {
	group, err := store.NewRegistrantStore(db).GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	members, err := store.NewMembershipStore(db).ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	unique, err := store.NewKindStore(db).ListUnique(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.IndividualID)
	}
	individuals, err := store.NewRegistrantStore(db).GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	names := make(map[int64]string, len(individuals))
	for id, r := range individuals {
		names[id] = r.Name
	}
	return CheckGroup(members, unique, names, group.Name)
}

// mutate runs fn in a transaction, stamps the groups inside it and marks them
// dirty once it committed.
func (s *Service) mutate(ctx context.Context, op string, groupID int64, fn func(tx *sql.Tx) error) error {
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return s.recomputer.Stamp(ctx, tx, []int64{groupID})
	})
	if err != nil {
		s.record(op, err)
		return err
	}
	s.record(op, nil)
	s.recomputer.MarkDirty(groupID)
	return nil
}

func (s *Service) record(op string, err error) {
	switch {
	case err == nil:
		s.metrics.IncMutation(op, "ok")
	case model.IsValidation(err):
		s.metrics.IncMutation(op, "invalid")
		s.logger.Debug("membership rejected", "op", op, "reason", err)
	case errors.Is(err, model.ErrNotFound):
		s.metrics.IncMutation(op, "not_found")
	default:
		s.metrics.IncMutation(op, "error")
		s.logger.Error("membership mutation failed", "op", op, "error", err)
	}
}

func resolveKindIDs(ctx context.Context, ks *store.KindStore, ids []int64) ([]model.MembershipKind, error) {
	if len(ids) == 0 {
		return []model.MembershipKind{}, nil
	}
	kinds, err := ks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[int64]bool, len(kinds))
	for _, k := range kinds {
		found[k.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, model.ErrUnknownKind(fmt.Sprintf("#%d", id))
		}
	}
	return kinds, nil
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}
