package model

import "time"

// Registrant is a person or a collective registered in the registry.
// Groups and individuals share the same table and are told apart by IsGroup.
type Registrant struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	GivenName  string     `json:"given_name,omitempty"`
	FamilyName string     `json:"family_name,omitempty"`
	IsGroup    bool       `json:"is_group"`
	Gender     string     `json:"gender,omitempty"`
	Birthdate  *time.Time `json:"birthdate,omitempty"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Disabled reports whether the registrant has been disabled.
func (r Registrant) Disabled() bool {
	return r.DisabledAt != nil
}

// Group is a group registrant together with its membership extension.
type Group struct {
	Registrant
	Recompute  *RecomputeState  `json:"recompute,omitempty"`
	Indicators []IndicatorValue `json:"indicators,omitempty"`
}

// RecomputeState tracks when a group was last marked dirty and last recomputed.
type RecomputeState struct {
	GroupID      int64      `json:"group_id"`
	Canary       *time.Time `json:"recompute_canary,omitempty"`
	RecomputedAt *time.Time `json:"recomputed_at,omitempty"`
}

// Dirty reports whether the group was marked after its last recompute.
func (s RecomputeState) Dirty() bool {
	if s.Canary == nil {
		return false
	}
	return s.RecomputedAt == nil || s.RecomputedAt.Before(*s.Canary)
}

// IndicatorValue is one stored indicator of a group.
type IndicatorValue struct {
	GroupID    int64     `json:"group_id"`
	Name       string    `json:"name"`
	Value      int64     `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}
