package model

import "time"

// MembershipStatus mirrors whether a membership has ended.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
)

// Membership links one individual to one group.
type Membership struct {
	ID           int64            `json:"id"`
	GroupID      int64            `json:"group_id"`
	IndividualID int64            `json:"individual_id"`
	Kinds        []MembershipKind `json:"kinds"`
	StartAt      time.Time        `json:"start_at"`
	EndedAt      *time.Time       `json:"ended_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// IsEnded reports whether the membership has an end date that is not after now.
func (m Membership) IsEnded(now time.Time) bool {
	return m.EndedAt != nil && !m.EndedAt.After(now)
}

// Status derives the membership status at now.
func (m Membership) Status(now time.Time) MembershipStatus {
	if m.IsEnded(now) {
		return MembershipInactive
	}
	return MembershipActive
}

// HasKind reports whether the membership carries the given kind.
func (m Membership) HasKind(kindID int64) bool {
	for _, k := range m.Kinds {
		if k.ID == kindID {
			return true
		}
	}
	return false
}

// KindIDs returns the ids of the kinds attached to the membership.
func (m Membership) KindIDs() []int64 {
	ids := make([]int64, 0, len(m.Kinds))
	for _, k := range m.Kinds {
		ids = append(ids, k.ID)
	}
	return ids
}

// KindNames returns the names of the kinds attached to the membership.
func (m Membership) KindNames() []string {
	names := make([]string, 0, len(m.Kinds))
	for _, k := range m.Kinds {
		names = append(names, k.Name)
	}
	return names
}

// Member is a membership together with its individual, as listed on a group.
type Member struct {
	Membership
	Individual Registrant       `json:"individual"`
	KindNames  []string         `json:"kind_names"`
	IsEnded    bool             `json:"is_ended"`
	Status     MembershipStatus `json:"status"`
}

// NewMember derives the listing view of m at now.
func NewMember(m Membership, individual Registrant, now time.Time) Member {
	return Member{
		Membership: m,
		Individual: individual,
		KindNames:  m.KindNames(),
		IsEnded:    m.IsEnded(now),
		Status:     m.Status(now),
	}
}
