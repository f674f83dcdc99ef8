package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment. Dropped and
// completed are terminal; records are never deleted.
type EnrollmentStatus string

const (
	EnrollmentStatusEnrolled   EnrollmentStatus = "ENROLLED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusDropped    EnrollmentStatus = "DROPPED"
	EnrollmentStatusCompleted  EnrollmentStatus = "COMPLETED"
)

// Enrollment captures a student's seat (or waitlist slot) in a class.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	ClassID       string           `db:"class_id" json:"class_id"`
	InstitutionID string           `db:"institution_id" json:"institution_id"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	EnrolledBy    string           `db:"enrolled_by" json:"enrolled_by"`
	EnrolledAt    time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt     *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	CompletedAt   *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID     string
	ClassID       string
	InstitutionID string
	Status        EnrollmentStatus
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// AllocationOutcome is the discriminant of an allocation attempt.
type AllocationOutcome string

const (
	OutcomeEnrolled   AllocationOutcome = "ENROLLED"
	OutcomeWaitlisted AllocationOutcome = "WAITLISTED"
	OutcomeRejected   AllocationOutcome = "REJECTED"
)

// Rejection reasons returned by the allocator and orchestrator.
const (
	RejectionCapacityFull       = "capacity_full"
	RejectionInvitationRequired = "invitation_required"
)

// AllocationResult is the typed outcome of a seat allocation attempt.
// Exactly one branch is populated depending on Outcome.
type AllocationResult struct {
	Outcome     AllocationOutcome `json:"outcome"`
	Enrollment  *Enrollment       `json:"enrollment,omitempty"`
	Position    int               `json:"position,omitempty"`
	Probability float64           `json:"probability,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// RequestState is the orchestrator-visible state of an enrollment request.
type RequestState string

const (
	StateEligibilityFailed RequestState = "ELIGIBILITY_FAILED"
	StateEnrolled          RequestState = "ENROLLED"
	StateWaitlisted        RequestState = "WAITLISTED"
	StatePendingApproval   RequestState = "PENDING_APPROVAL"
	StateRejected          RequestState = "REJECTED"
	StateDenied            RequestState = "DENIED"
	StateExpired           RequestState = "EXPIRED"
	StateDropped           RequestState = "DROPPED"
	StateCompleted         RequestState = "COMPLETED"
)

// EnrollmentDecision is what requestEnrollment reports back to the caller.
type EnrollmentDecision struct {
	State      RequestState        `json:"state"`
	Reasons    []EligibilityReason `json:"reasons,omitempty"`
	Allocation *AllocationResult   `json:"allocation,omitempty"`
	Request    *EnrollmentRequest  `json:"request,omitempty"`
	Existing   bool                `json:"existing"`
}

// BulkEnrollItem is the per-student result of a bulk enrollment.
type BulkEnrollItem struct {
	StudentID string              `json:"student_id"`
	State     RequestState        `json:"state"`
	Reasons   []EligibilityReason `json:"reasons,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// BulkEnrollResult aggregates a bulk enrollment run. The batch is not
// atomic; partial failure is expected and reported, never retried.
type BulkEnrollResult struct {
	Items      []BulkEnrollItem `json:"items"`
	Enrolled   int              `json:"enrolled"`
	Waitlisted int              `json:"waitlisted"`
	Pending    int              `json:"pending"`
	Failed     int              `json:"failed"`
}
