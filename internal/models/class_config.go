package models

import (
	"fmt"
	"time"
)

// EnrollmentMode determines how students gain admission to a class.
type EnrollmentMode string

const (
	ModeOpen           EnrollmentMode = "OPEN"
	ModeRestricted     EnrollmentMode = "RESTRICTED"
	ModeInvitationOnly EnrollmentMode = "INVITATION_ONLY"
)

// ClassEnrollmentConfig holds the per-class admission settings. It is owned
// by the class and mutated only through the institution config surface; this
// engine consumes it read-only.
type ClassEnrollmentConfig struct {
	ID                    string         `db:"id" json:"id"`
	ClassID               string         `db:"class_id" json:"class_id"`
	InstitutionID         string         `db:"institution_id" json:"institution_id"`
	EnrollmentMode        EnrollmentMode `db:"enrollment_mode" json:"enrollment_mode"`
	Capacity              int            `db:"capacity" json:"capacity"`
	WaitlistCapacity      int            `db:"waitlist_capacity" json:"waitlist_capacity"`
	EnrollmentStart       *time.Time     `db:"enrollment_start" json:"enrollment_start,omitempty"`
	EnrollmentEnd         *time.Time     `db:"enrollment_end" json:"enrollment_end,omitempty"`
	DropDeadline          *time.Time     `db:"drop_deadline" json:"drop_deadline,omitempty"`
	WithdrawDeadline      *time.Time     `db:"withdraw_deadline" json:"withdraw_deadline,omitempty"`
	AutoApprove           bool           `db:"auto_approve" json:"auto_approve"`
	RequiresJustification bool           `db:"requires_justification" json:"requires_justification"`
	AllowWaitlist         bool           `db:"allow_waitlist" json:"allow_waitlist"`
	MaxWaitlistPosition   *int           `db:"max_waitlist_position" json:"max_waitlist_position,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// Validate rejects malformed configs before they reach the allocator.
func (c *ClassEnrollmentConfig) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	if c.WaitlistCapacity < 0 {
		return fmt.Errorf("waitlist capacity must not be negative, got %d", c.WaitlistCapacity)
	}
	if c.EnrollmentStart != nil && c.EnrollmentEnd != nil && !c.EnrollmentStart.Before(*c.EnrollmentEnd) {
		return fmt.Errorf("enrollment window start must precede end")
	}
	if c.DropDeadline != nil && c.WithdrawDeadline != nil && !c.DropDeadline.Before(*c.WithdrawDeadline) {
		return fmt.Errorf("drop deadline must precede withdraw deadline")
	}
	if c.MaxWaitlistPosition != nil && *c.MaxWaitlistPosition > c.WaitlistCapacity {
		return fmt.Errorf("max waitlist position %d exceeds waitlist capacity %d", *c.MaxWaitlistPosition, c.WaitlistCapacity)
	}
	return nil
}

// PrerequisiteType enumerates supported prerequisite predicates.
type PrerequisiteType string

const (
	PrerequisiteCourse PrerequisiteType = "COURSE"
	PrerequisiteGPA    PrerequisiteType = "GPA"
	PrerequisiteYear   PrerequisiteType = "YEAR"
	PrerequisiteMajor  PrerequisiteType = "MAJOR"
)

// Prerequisite is a typed predicate a student must satisfy before admission.
// Strict prerequisites cannot be bypassed by an override.
type Prerequisite struct {
	ID          string           `db:"id" json:"id"`
	ClassID     string           `db:"class_id" json:"class_id"`
	Type        PrerequisiteType `db:"type" json:"type"`
	Requirement string           `db:"requirement" json:"requirement"`
	Strict      bool             `db:"strict" json:"strict"`
}

// RestrictionType enumerates supported restriction predicates.
type RestrictionType string

const (
	RestrictionMajor       RestrictionType = "MAJOR"
	RestrictionDepartment  RestrictionType = "DEPARTMENT"
	RestrictionYear        RestrictionType = "YEAR"
	RestrictionInstitution RestrictionType = "INSTITUTION"
)

// Restriction limits admission to students matching its condition.
type Restriction struct {
	ID          string          `db:"id" json:"id"`
	ClassID     string          `db:"class_id" json:"class_id"`
	Type        RestrictionType `db:"type" json:"type"`
	Condition   string          `db:"condition" json:"condition"`
	Overridable bool            `db:"overridable" json:"overridable"`
}

// ClassRuleSet bundles everything the rules engine needs for one class.
type ClassRuleSet struct {
	Config        ClassEnrollmentConfig
	Prerequisites []Prerequisite
	Restrictions  []Restriction
}

// InvitationStatus tracks the lifecycle of a class invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

// Invitation grants a student entry to an invitation-only class. An
// invitation is live while pending and unexpired.
type Invitation struct {
	ID        string           `db:"id" json:"id"`
	ClassID   string           `db:"class_id" json:"class_id"`
	StudentID string           `db:"student_id" json:"student_id"`
	InvitedBy string           `db:"invited_by" json:"invited_by"`
	Status    InvitationStatus `db:"status" json:"status"`
	ExpiresAt time.Time        `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// Live reports whether the invitation can still be used at the given instant.
func (i *Invitation) Live(now time.Time) bool {
	return i.Status == InvitationPending && now.Before(i.ExpiresAt)
}
