package membership

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/registry/internal/database"
	"github.com/dukerupert/registry/internal/model"
	"github.com/dukerupert/registry/internal/store"
)

// CreateRegistrant stores a new individual or group.
func (s *Service) CreateRegistrant(ctx context.Context, r model.Registrant) (*model.Registrant, error) {
	r.Name = normalizeName(r.Name)
	if r.Name == "" {
		return nil, model.ErrRequired("name")
	}
	r.DisabledAt = nil
	return store.NewRegistrantStore(s.db).Create(ctx, r)
}

// UpdateRegistrant writes the editable fields of a registrant. A group write
// re-validates the group; an individual write marks the individual's groups
// dirty, since birthdate and gender feed the indicators.
func (s *Service) UpdateRegistrant(ctx context.Context, r model.Registrant) (*model.Registrant, error) {
	r.Name = normalizeName(r.Name)
	if r.Name == "" {
		return nil, model.ErrRequired("name")
	}
	current, err := store.NewRegistrantStore(s.db).GetByID(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	if current.IsGroup {
		unlock := s.locks.lock(current.ID)
		defer unlock()
		var updated *model.Registrant
		err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			var err error
			if updated, err = store.NewRegistrantStore(tx).Update(ctx, r); err != nil {
				return err
			}
			return validateGroupTx(ctx, tx, r.ID)
		})
		s.record("update_group", err)
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	var updated *model.Registrant
	groups, err := s.touchGroupsOf(ctx, "update_individual", current.ID, func(tx *sql.Tx) error {
		var err error
		updated, err = store.NewRegistrantStore(tx).Update(ctx, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("individual updated", "id", r.ID, "groups", len(groups))
	return updated, nil
}

// SetDisabled disables or re-enables a registrant. Disabled individuals and
// groups drop out of the indicators, so the affected groups are marked dirty.
func (s *Service) SetDisabled(ctx context.Context, id int64, disabled bool) error {
	current, err := store.NewRegistrantStore(s.db).GetByID(ctx, id)
	if err != nil {
		return err
	}
	var at *time.Time
	if disabled {
		now := s.now().UTC()
		at = &now
	}

	if current.IsGroup {
		return s.mutate(ctx, "disable_group", id, func(tx *sql.Tx) error {
			return store.NewRegistrantStore(tx).SetDisabled(ctx, id, at)
		})
	}
	_, err = s.touchGroupsOf(ctx, "disable_individual", id, func(tx *sql.Tx) error {
		return store.NewRegistrantStore(tx).SetDisabled(ctx, id, at)
	})
	return err
}

// DeleteRegistrant removes a registrant and, by cascade, its memberships.
func (s *Service) DeleteRegistrant(ctx context.Context, id int64) error {
	current, err := store.NewRegistrantStore(s.db).GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.IsGroup {
		err := store.NewRegistrantStore(s.db).Delete(ctx, id)
		s.record("delete_group", err)
		return err
	}
	_, err = s.touchGroupsOf(ctx, "delete_individual", id, func(tx *sql.Tx) error {
		return store.NewRegistrantStore(tx).Delete(ctx, id)
	})
	return err
}

// touchGroupsOf runs fn and stamps every group the individual belonged to
// before fn ran.
func (s *Service) touchGroupsOf(ctx context.Context, op string, individualID int64, fn func(tx *sql.Tx) error) ([]int64, error) {
	var groups []int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		groups, err = store.NewMembershipStore(tx).GroupIDsForIndividual(ctx, individualID)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		return s.recomputer.Stamp(ctx, tx, groups)
	})
	s.record(op, err)
	if err != nil {
		return nil, err
	}
	s.recomputer.MarkDirty(groups...)
	return groups, nil
}

// GetGroup returns a group with its recompute state and stored indicators.
func (s *Service) GetGroup(ctx context.Context, id int64) (*model.Group, error) {
	r, err := store.NewRegistrantStore(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsGroup {
		return nil, fmt.Errorf("group %d: %w", id, model.ErrNotFound)
	}
	state, err := store.NewRecomputeStateStore(s.db).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	indicators, err := store.NewIndicatorStore(s.db).ListByGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.Group{Registrant: *r, Recompute: state, Indicators: indicators}, nil
}

// AddIndividualInput is the creation payload for a new individual joining a
// group: demographics plus kind names.
type AddIndividualInput struct {
	Individual model.Registrant
	KindNames  []string
	StartAt    time.Time
	EndedAt    *time.Time
}

// AddIndividual creates an individual and links it to the group in one
// transaction.
func (s *Service) AddIndividual(ctx context.Context, groupID int64, in AddIndividualInput) (*model.Member, error) {
	ind := in.Individual
	ind.IsGroup = false
	ind.DisabledAt = nil
	ind.Name = normalizeName(ind.Name)
	if ind.Name == "" {
		return nil, model.ErrRequired("name")
	}

	unlock := s.locks.lock(groupID)
	defer unlock()

	var member model.Member
	err := s.mutate(ctx, "add_individual", groupID, func(tx *sql.Tx) error {
		kinds, err := resolveKindNames(ctx, store.NewKindStore(tx), in.KindNames)
		if err != nil {
			return err
		}
		created, err := store.NewRegistrantStore(tx).Create(ctx, ind)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(kinds))
		for _, k := range kinds {
			ids = append(ids, k.ID)
		}
		m, err := s.addTx(ctx, tx, AddInput{
			GroupID:      groupID,
			IndividualID: created.ID,
			KindIDs:      ids,
			StartAt:      in.StartAt,
			EndedAt:      in.EndedAt,
		})
		if err != nil {
			return err
		}
		member = model.NewMember(*m, *created, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// ListRegistrants lists individuals or groups. Name search is a substring
// match on the registrant name.
func (s *Service) ListRegistrants(ctx context.Context, f store.ListFilter) ([]model.Registrant, error) {
	return store.NewRegistrantStore(s.db).List(ctx, f)
}

// GetRegistrant returns one registrant of either role.
func (s *Service) GetRegistrant(ctx context.Context, id int64) (*model.Registrant, error) {
	return store.NewRegistrantStore(s.db).GetByID(ctx, id)
}
