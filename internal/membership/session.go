package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dukerupert/registry/internal/model"
	"github.com/dukerupert/registry/internal/store"
)

// ErrSessionClosed is returned when a committed session is used again.
var ErrSessionClosed = errors.New("edit session already committed")

type sessionRecord struct {
	ref        model.RecordRef
	membership model.Membership
	changed    bool
}

// EditSession stages changes to one group's memberships. Staged records are
// addressed by RecordRef: Persisted for stored memberships, Pending for ones
// added in this session. Every staging call validates the prospective state
// and rejects the change when it would break a group invariant.
type EditSession struct {
	svc         *Service
	group       model.Registrant
	records     []*sessionRecord
	removed     []int64
	kinds       map[int64]model.MembershipKind
	individuals map[int64]model.Registrant
	closed      bool
}

// Edit opens an edit session on a group.
func (s *Service) Edit(ctx context.Context, groupID int64) (*EditSession, error) {
	rs := store.NewRegistrantStore(s.db)
	group, err := rs.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsGroup {
		return nil, model.ErrNotAGroup(group.Name)
	}
	members, err := store.NewMembershipStore(s.db).ListByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	kinds, err := store.NewKindStore(s.db).List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.IndividualID)
	}
	individuals, err := rs.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	sess := &EditSession{
		svc:         s,
		group:       *group,
		kinds:       make(map[int64]model.MembershipKind, len(kinds)),
		individuals: individuals,
	}
	for _, k := range kinds {
		sess.kinds[k.ID] = k
	}
	for _, m := range members {
		sess.records = append(sess.records, &sessionRecord{ref: model.Persisted(m.ID), membership: m})
	}
	return sess, nil
}

// AddMember stages a new membership and returns its pending reference.
func (e *EditSession) AddMember(ctx context.Context, individualID int64, kindIDs []int64, startAt time.Time) (model.RecordRef, error) {
	if e.closed {
		return model.RecordRef{}, ErrSessionClosed
	}
	ind, ok := e.individuals[individualID]
	if !ok {
		r, err := store.NewRegistrantStore(e.svc.db).GetByID(ctx, individualID)
		if err != nil {
			return model.RecordRef{}, err
		}
		ind = *r
	}
	if err := CheckRoles(e.group, ind); err != nil {
		return model.RecordRef{}, err
	}
	kinds, err := e.lookupKinds(kindIDs)
	if err != nil {
		return model.RecordRef{}, err
	}

	rec := &sessionRecord{
		ref: model.NewPending(),
		membership: model.Membership{
			GroupID:      e.group.ID,
			IndividualID: ind.ID,
			Kinds:        kinds,
			StartAt:      startOr(startAt, e.svc.now()),
		},
		changed: true,
	}
	e.individuals[ind.ID] = ind
	if err := e.check(append(e.memberships(), rec.membership)); err != nil {
		return model.RecordRef{}, err
	}
	e.records = append(e.records, rec)
	return rec.ref, nil
}

// AddKinds tags a staged record with kinds. It fails, without applying the
// change, when a unique kind would be held twice in the group.
func (e *EditSession) AddKinds(ref model.RecordRef, kindIDs ...int64) error {
	return e.stage(ref, func(m *model.Membership) error {
		add, err := e.lookupKinds(kindIDs)
		if err != nil {
			return err
		}
		for _, k := range add {
			if !m.HasKind(k.ID) {
				m.Kinds = append(m.Kinds, k)
			}
		}
		return nil
	})
}

// RemoveKinds drops kinds from a staged record.
func (e *EditSession) RemoveKinds(ref model.RecordRef, kindIDs ...int64) error {
	return e.stage(ref, func(m *model.Membership) error {
		m.Kinds = slices.DeleteFunc(slices.Clone(m.Kinds), func(k model.MembershipKind) bool {
			return slices.Contains(kindIDs, k.ID)
		})
		return nil
	})
}

// End sets the end date of a staged record.
func (e *EditSession) End(ref model.RecordRef, at time.Time) error {
	return e.stage(ref, func(m *model.Membership) error {
		end := at.UTC()
		m.EndedAt = &end
		return nil
	})
}

// Remove unstages a pending record or schedules deletion of a persisted one.
func (e *EditSession) Remove(ref model.RecordRef) error {
	if e.closed {
		return ErrSessionClosed
	}
	idx := slices.IndexFunc(e.records, func(r *sessionRecord) bool { return r.ref == ref })
	if idx < 0 {
		return fmt.Errorf("record %s: %w", ref, model.ErrNotFound)
	}
	if id, ok := ref.ID(); ok {
		e.removed = append(e.removed, id)
	}
	e.records = slices.Delete(e.records, idx, idx+1)
	return nil
}

// Validate runs every group check against the staged state.
func (e *EditSession) Validate() error {
	return e.check(e.memberships())
}

// Commit applies the staged changes in one transaction, re-validating them
// against the stored state, and marks the group dirty once. It returns the
// ids assigned to pending records keyed by their temporary id.
func (e *EditSession) Commit(ctx context.Context) (map[string]int64, error) {
	if e.closed {
		return nil, ErrSessionClosed
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	unlock := e.svc.locks.lock(e.group.ID)
	defer unlock()

	assigned := make(map[string]int64)
	err := e.svc.mutate(ctx, "commit", e.group.ID, func(tx *sql.Tx) error {
		ms := store.NewMembershipStore(tx)
		for _, id := range e.removed {
			if _, err := ms.Delete(ctx, id); err != nil && !errors.Is(err, model.ErrNotFound) {
				return err
			}
		}
		for _, r := range e.records {
			if !r.changed {
				continue
			}
			if r.ref.IsPending() {
				created, err := ms.Create(ctx, r.membership)
				if errors.Is(err, store.ErrMembershipConflict) {
					ind := e.individuals[r.membership.IndividualID]
					return model.ErrDuplicateMember(ind.Name, e.group.Name)
				}
				if err != nil {
					return err
				}
				assigned[r.ref.TempID()] = created.ID
				continue
			}
			if _, err := ms.Update(ctx, r.membership); err != nil {
				return err
			}
		}
		return validateGroupTx(ctx, tx, e.group.ID)
	})
	if err != nil {
		return nil, err
	}
	e.closed = true
	return assigned, nil
}

// stage applies fn to a copy of the record and keeps it only when the
// prospective group state passes every check.
func (e *EditSession) stage(ref model.RecordRef, fn func(m *model.Membership) error) error {
	if e.closed {
		return ErrSessionClosed
	}
	rec := e.find(ref)
	if rec == nil {
		return fmt.Errorf("record %s: %w", ref, model.ErrNotFound)
	}

	next := rec.membership
	next.Kinds = slices.Clone(rec.membership.Kinds)
	if err := fn(&next); err != nil {
		return err
	}

	prospective := e.memberships()
	for i, r := range e.records {
		if r == rec {
			prospective[i] = next
		}
	}
	if err := e.check(prospective); err != nil {
		return err
	}
	rec.membership = next
	rec.changed = true
	return nil
}

func (e *EditSession) check(members []model.Membership) error {
	names := make(map[int64]string, len(e.individuals))
	for id, r := range e.individuals {
		names[id] = r.Name
	}
	return CheckGroup(members, uniqueOnly(e.kinds), names, e.group.Name)
}

func (e *EditSession) memberships() []model.Membership {
	out := make([]model.Membership, 0, len(e.records))
	for _, r := range e.records {
		out = append(out, r.membership)
	}
	return out
}

func (e *EditSession) find(ref model.RecordRef) *sessionRecord {
	for _, r := range e.records {
		if r.ref == ref {
			return r
		}
	}
	return nil
}

func (e *EditSession) lookupKinds(ids []int64) ([]model.MembershipKind, error) {
	out := make([]model.MembershipKind, 0, len(ids))
	for _, id := range ids {
		k, ok := e.kinds[id]
		if !ok {
			return nil, model.ErrUnknownKind(fmt.Sprintf("#%d", id))
		}
		if !slices.ContainsFunc(out, func(x model.MembershipKind) bool { return x.ID == id }) {
			out = append(out, k)
		}
	}
	return out, nil
}
