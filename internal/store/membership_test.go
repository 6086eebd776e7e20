package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/registry/internal/model"
)

func TestMembershipCreateWithKinds(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rs, ks, ms := NewRegistrantStore(db), NewKindStore(db), NewMembershipStore(db)

	g := createGroup(t, rs, "Lima household")
	ind := createIndividual(t, rs, "Ana Lima", "female", time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC))
	head := headKind(t, ks)
	spouse, err := ks.Create(ctx, "Spouse", false)
	if err != nil {
		t.Fatalf("create kind: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := ms.Create(ctx, model.Membership{
		GroupID: g.ID, IndividualID: ind.ID, StartAt: start,
		Kinds: []model.MembershipKind{*spouse, head, head},
	})
	if err != nil {
		t.Fatalf("create membership: %v", err)
	}
	if !m.StartAt.Equal(start) {
		t.Errorf("start_at = %v, want %v", m.StartAt, start)
	}
	if len(m.Kinds) != 2 || !m.HasKind(head.ID) || !m.HasKind(spouse.ID) {
		t.Errorf("kinds = %+v", m.Kinds)
	}

	_, err = ms.Create(ctx, model.Membership{GroupID: g.ID, IndividualID: ind.ID})
	if !errors.Is(err, ErrMembershipConflict) {
		t.Fatalf("duplicate err = %v, want ErrMembershipConflict", err)
	}
}

func TestMembershipListAndUpdate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rs, ks, ms := NewRegistrantStore(db), NewKindStore(db), NewMembershipStore(db)

	g := createGroup(t, rs, "Silva household")
	a := createIndividual(t, rs, "A", "", time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC))
	b := createIndividual(t, rs, "B", "", time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))
	head := headKind(t, ks)

	ma, _ := ms.Create(ctx, model.Membership{GroupID: g.ID, IndividualID: a.ID, Kinds: []model.MembershipKind{head}})
	ms.Create(ctx, model.Membership{GroupID: g.ID, IndividualID: b.ID})

	list, err := ms.ListByGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	for _, m := range list {
		if m.IndividualID == a.ID && !m.HasKind(head.ID) {
			t.Errorf("membership of A lost its kind: %+v", m)
		}
		if m.IndividualID == b.ID && len(m.Kinds) != 0 {
			t.Errorf("membership of B has kinds: %+v", m.Kinds)
		}
	}

	ended := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ma.EndedAt = &ended
	ma.Kinds = nil
	updated, err := ms.Update(ctx, *ma)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.EndedAt == nil || !updated.EndedAt.Equal(ended) {
		t.Errorf("ended_at = %v, want %v", updated.EndedAt, ended)
	}
	if len(updated.Kinds) != 0 {
		t.Errorf("kinds = %+v, want none", updated.Kinds)
	}

	byInd, _ := ms.ListByIndividual(ctx, a.ID)
	if len(byInd) != 1 || byInd[0].GroupID != g.ID {
		t.Errorf("by individual = %+v", byInd)
	}
}

func TestMembershipDeleteReturnsGroup(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rs, ms := NewRegistrantStore(db), NewMembershipStore(db)

	g := createGroup(t, rs, "G")
	ind := createIndividual(t, rs, "I", "", time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
	m, _ := ms.Create(ctx, model.Membership{GroupID: g.ID, IndividualID: ind.ID})

	groupID, err := ms.Delete(ctx, m.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if groupID != g.ID {
		t.Errorf("group id = %d, want %d", groupID, g.ID)
	}
	if _, err := ms.GetByID(ctx, m.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
	if _, err := ms.Delete(ctx, m.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestMembershipCascadeOnKindDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rs, ks, ms := NewRegistrantStore(db), NewKindStore(db), NewMembershipStore(db)

	g := createGroup(t, rs, "G")
	ind := createIndividual(t, rs, "I", "", time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
	worker, _ := ks.Create(ctx, "Worker", false)
	m, _ := ms.Create(ctx, model.Membership{GroupID: g.ID, IndividualID: ind.ID, Kinds: []model.MembershipKind{*worker}})

	groups, err := ks.GroupIDsUsing(ctx, worker.ID)
	if err != nil {
		t.Fatalf("groups using: %v", err)
	}
	if len(groups) != 1 || groups[0] != g.ID {
		t.Errorf("groups using = %v", groups)
	}

	if err := ks.Delete(ctx, worker.ID); err != nil {
		t.Fatalf("delete kind: %v", err)
	}
	got, _ := ms.GetByID(ctx, m.ID)
	if len(got.Kinds) != 0 {
		t.Errorf("kinds after delete = %+v", got.Kinds)
	}
}
