package models

import "time"

// AuditAction constants cover every state transition the engine records.
const (
	AuditActionRequested          = "REQUESTED"
	AuditActionEnrolled           = "ENROLLED"
	AuditActionWaitlisted         = "WAITLISTED"
	AuditActionRejected           = "REJECTED"
	AuditActionEligibilityFailed  = "ELIGIBILITY_FAILED"
	AuditActionPendingApproval    = "PENDING_APPROVAL"
	AuditActionApproved           = "APPROVED"
	AuditActionDenied             = "DENIED"
	AuditActionExpired            = "EXPIRED"
	AuditActionDropped            = "DROPPED"
	AuditActionCompleted          = "COMPLETED"
	AuditActionPromoted           = "PROMOTED"
	AuditActionPromotionAccepted  = "PROMOTION_ACCEPTED"
	AuditActionPromotionDeclined  = "PROMOTION_DECLINED"
	AuditActionPromotionExpired   = "PROMOTION_EXPIRED"
	AuditActionInvitationAccepted = "INVITATION_ACCEPTED"
	AuditActionOverrideRequested  = "OVERRIDE_REQUESTED"
	AuditActionOverrideApproved   = "OVERRIDE_APPROVED"
	AuditActionOverrideDenied     = "OVERRIDE_DENIED"
	AuditActionConflictResolved   = "CONFLICT_RESOLVED"
)

// AuditLogEntry is an immutable record of one state transition. Entries are
// appended inside the same transaction as the transition and never updated
// or deleted.
type AuditLogEntry struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	ClassID     string    `db:"class_id" json:"class_id"`
	Action      string    `db:"action" json:"action"`
	PerformedBy string    `db:"performed_by" json:"performed_by"`
	Reason      string    `db:"reason" json:"reason"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter provides filters for listing audit entries.
type AuditFilter struct {
	StudentID string
	ClassID   string
	Action    string
	Page      int
	PageSize  int
}
