package membership

import (
	"fmt"
	"time"

	"github.com/dukerupert/registry/internal/model"
)

// CheckRoles verifies that group is a group and individual is not.
func CheckRoles(group, individual model.Registrant) error {
	if !group.IsGroup {
		return model.ErrNotAGroup(group.Name)
	}
	if individual.IsGroup {
		return model.ErrNotAnIndividual(individual.Name)
	}
	return nil
}

// CheckDates verifies that the membership does not end before it starts.
// The names are only used in the error message.
func CheckDates(m model.Membership, individual, group string) error {
	if m.EndedAt != nil && m.EndedAt.Before(m.StartAt) {
		return model.ErrDateRange(individual, group)
	}
	return nil
}

// CheckDuplicates fails when an individual appears in more than one of the
// group's memberships, ended or not.
func CheckDuplicates(members []model.Membership, names map[int64]string, groupName string) error {
	seen := make(map[int64]int, len(members))
	for _, m := range members {
		seen[m.IndividualID]++
		if seen[m.IndividualID] > 1 {
			return model.ErrDuplicateMember(displayName(names, m.IndividualID), groupName)
		}
	}
	return nil
}

// CheckUniqueKinds fails when more than one membership of the group carries
// a kind flagged unique.
func CheckUniqueKinds(members []model.Membership, unique []model.MembershipKind) error {
	for _, k := range unique {
		count := 0
		for _, m := range members {
			if m.HasKind(k.ID) {
				count++
			}
		}
		if count > 1 {
			return model.ErrUniqueKind(k.Name)
		}
	}
	return nil
}

// CheckGroup runs every per-group check against members, which must be the
// complete prospective membership set of the group.
func CheckGroup(members []model.Membership, unique []model.MembershipKind, names map[int64]string, groupName string) error {
	for _, m := range members {
		if err := CheckDates(m, displayName(names, m.IndividualID), groupName); err != nil {
			return err
		}
	}
	if err := CheckDuplicates(members, names, groupName); err != nil {
		return err
	}
	return CheckUniqueKinds(members, unique)
}

func displayName(names map[int64]string, id int64) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return fmt.Sprintf("#%d", id)
}

func uniqueOnly(kinds map[int64]model.MembershipKind) []model.MembershipKind {
	var out []model.MembershipKind
	for _, k := range kinds {
		if k.IsUnique {
			out = append(out, k)
		}
	}
	return out
}

func startOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback.UTC()
	}
	return t.UTC()
}
