package models

import "time"

// RequestStatus tracks the approval lifecycle of a restricted-mode
// enrollment request. Pending is the only non-terminal status.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusDenied   RequestStatus = "DENIED"
	RequestStatusExpired  RequestStatus = "EXPIRED"
)

// EnrollmentRequest is created for restricted-mode classes and awaits an
// instructor or admin decision. Once approved, denied, or expired it is
// immutable.
type EnrollmentRequest struct {
	ID            string        `db:"id" json:"id"`
	StudentID     string        `db:"student_id" json:"student_id"`
	ClassID       string        `db:"class_id" json:"class_id"`
	InstitutionID string        `db:"institution_id" json:"institution_id"`
	Status        RequestStatus `db:"status" json:"status"`
	Justification string        `db:"justification" json:"justification"`
	RequestedAt   time.Time     `db:"requested_at" json:"requested_at"`
	ExpiresAt     time.Time     `db:"expires_at" json:"expires_at"`
	ReviewedBy    *string       `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewNotes   *string       `db:"review_notes" json:"review_notes,omitempty"`
	ReviewedAt    *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// Lapsed reports whether a pending request has outlived its expiry.
func (r *EnrollmentRequest) Lapsed(now time.Time) bool {
	return r.Status == RequestStatusPending && !now.Before(r.ExpiresAt)
}

// ApprovalDecision reports the outcome of an approve call, including the
// allocation that resulted (a full class falls back to waitlisting).
type ApprovalDecision struct {
	Request    *EnrollmentRequest `json:"request"`
	Allocation *AllocationResult  `json:"allocation,omitempty"`
}
