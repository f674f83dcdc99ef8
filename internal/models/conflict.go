package models

import "time"

// ConflictType classifies a detected allocation conflict.
type ConflictType string

const (
	ConflictCapacityExceeded      ConflictType = "CAPACITY_EXCEEDED"
	ConflictSuspiciousActivity    ConflictType = "SUSPICIOUS_ACTIVITY"
	ConflictPrerequisiteViolation ConflictType = "PREREQUISITE_VIOLATION"
)

// ConflictSeverity grades a conflict record.
type ConflictSeverity string

const (
	SeverityHigh   ConflictSeverity = "HIGH"
	SeverityMedium ConflictSeverity = "MEDIUM"
	SeverityLow    ConflictSeverity = "LOW"
)

// ConflictStatus is open until an administrator resolves the record.
type ConflictStatus string

const (
	ConflictStatusOpen     ConflictStatus = "OPEN"
	ConflictStatusResolved ConflictStatus = "RESOLVED"
)

// ConflictRecord captures one invariant violation or anomaly found by the
// detection sweep. Resolution marks the record closed; corrective mutation
// happens through the override flow, never here.
type ConflictRecord struct {
	ID               string           `db:"id" json:"id"`
	InstitutionID    string           `db:"institution_id" json:"institution_id"`
	ClassID          *string          `db:"class_id" json:"class_id,omitempty"`
	StudentID        *string          `db:"student_id" json:"student_id,omitempty"`
	Type             ConflictType     `db:"type" json:"type"`
	Severity         ConflictSeverity `db:"severity" json:"severity"`
	Status           ConflictStatus   `db:"status" json:"status"`
	Description      string           `db:"description" json:"description"`
	AffectedStudents int              `db:"affected_students" json:"affected_students"`
	DetectedAt       time.Time        `db:"detected_at" json:"detected_at"`
	ResolvedAt       *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy       *string          `db:"resolved_by" json:"resolved_by,omitempty"`
	Resolution       *string          `db:"resolution" json:"resolution,omitempty"`
}

// TenantPolicy carries per-institution detector thresholds. Absent rows fall
// back to the configured defaults.
type TenantPolicy struct {
	InstitutionID            string `db:"institution_id" json:"institution_id"`
	SuspiciousMaxEnrollments int    `db:"suspicious_max_enrollments" json:"suspicious_max_enrollments"`
	SuspiciousWindowMinutes  int    `db:"suspicious_window_minutes" json:"suspicious_window_minutes"`
	BulkVelocityMax          int    `db:"bulk_velocity_max" json:"bulk_velocity_max"`
	BulkVelocityWindowMins   int    `db:"bulk_velocity_window_minutes" json:"bulk_velocity_window_minutes"`
}

// SuspiciousWindow returns the rolling window as a duration.
func (p TenantPolicy) SuspiciousWindow() time.Duration {
	return time.Duration(p.SuspiciousWindowMinutes) * time.Minute
}

// BulkVelocityWindow returns the bulk-enrollment window as a duration.
func (p TenantPolicy) BulkVelocityWindow() time.Duration {
	return time.Duration(p.BulkVelocityWindowMins) * time.Minute
}
