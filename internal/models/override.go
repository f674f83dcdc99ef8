package models

import "time"

// OverrideType names an administrative bypass of a normally blocking rule.
type OverrideType string

const (
	OverrideCapacity     OverrideType = "CAPACITY_OVERRIDE"
	OverridePrerequisite OverrideType = "PREREQUISITE_OVERRIDE"
	OverrideDeadline     OverrideType = "DEADLINE_OVERRIDE"
)

// OverrideStatus is terminal once approved or denied.
type OverrideStatus string

const (
	OverrideStatusPending  OverrideStatus = "PENDING"
	OverrideStatusApproved OverrideStatus = "APPROVED"
	OverrideStatusDenied   OverrideStatus = "DENIED"
)

// OverrideRequest asks for one administrative exception for one student in
// one class.
type OverrideRequest struct {
	ID            string         `db:"id" json:"id"`
	StudentID     string         `db:"student_id" json:"student_id"`
	ClassID       string         `db:"class_id" json:"class_id"`
	InstitutionID string         `db:"institution_id" json:"institution_id"`
	Type          OverrideType   `db:"type" json:"type"`
	Status        OverrideStatus `db:"status" json:"status"`
	RequestedBy   string         `db:"requested_by" json:"requested_by"`
	ApprovedBy    *string        `db:"approved_by" json:"approved_by,omitempty"`
	Notes         string         `db:"notes" json:"notes"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	DecidedAt     *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
}

// RoleOverridePolicy is one row of the static per-role capability table:
// which override types a role may request, how many per quota period, and
// whether a justification is mandatory.
type RoleOverridePolicy struct {
	Role                  UserRole       `json:"role"`
	AllowedTypes          []OverrideType `json:"allowed_types"`
	MaxPerPeriod          int            `json:"max_per_period"`
	RequiresJustification bool           `json:"requires_justification"`
}

// Allows reports whether the role may request the given override type.
func (p RoleOverridePolicy) Allows(t OverrideType) bool {
	for _, a := range p.AllowedTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Override capability is data, not dispatch: each role gets a fixed menu.
var overridePolicies = map[UserRole]RoleOverridePolicy{
	RoleSuperAdmin: {
		Role:         RoleSuperAdmin,
		AllowedTypes: []OverrideType{OverrideCapacity, OverridePrerequisite, OverrideDeadline},
		MaxPerPeriod: 100,
	},
	RoleAdmin: {
		Role:                  RoleAdmin,
		AllowedTypes:          []OverrideType{OverrideCapacity, OverridePrerequisite, OverrideDeadline},
		MaxPerPeriod:          25,
		RequiresJustification: true,
	},
	RoleInstructor: {
		Role:                  RoleInstructor,
		AllowedTypes:          []OverrideType{OverrideCapacity},
		MaxPerPeriod:          5,
		RequiresJustification: true,
	},
}

// OverridePolicyFor returns the capability row for a role, if any.
func OverridePolicyFor(role UserRole) (RoleOverridePolicy, bool) {
	p, ok := overridePolicies[role]
	return p, ok
}
