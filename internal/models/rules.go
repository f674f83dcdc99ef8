package models

// ReasonSeverity grades an eligibility reason.
type ReasonSeverity string

const (
	SeverityError   ReasonSeverity = "ERROR"
	SeverityWarning ReasonSeverity = "WARNING"
)

// EligibilityReason explains one failed or advisory check.
type EligibilityReason struct {
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Severity    ReasonSeverity `json:"severity"`
	Overridable bool           `json:"overridable"`
}

// Blocking reports whether this reason alone prevents enrollment.
func (r EligibilityReason) Blocking() bool {
	return r.Severity == SeverityError && !r.Overridable
}

// EligibilityResult is the rules engine verdict for a (student, class) pair.
type EligibilityResult struct {
	Eligible           bool                `json:"eligible"`
	Reasons            []EligibilityReason `json:"reasons"`
	RecommendedActions []string            `json:"recommended_actions"`
}

// CourseRecord is a completed or in-progress course on a student's record.
type CourseRecord struct {
	CourseID  string  `db:"course_id" json:"course_id"`
	Grade     float64 `db:"grade" json:"grade"`
	Completed bool    `db:"completed" json:"completed"`
}

// StudentFacts carries the academic facts the rules engine evaluates.
// Supplied by the caller; the engine itself performs no I/O.
type StudentFacts struct {
	StudentID     string         `db:"student_id" json:"student_id"`
	InstitutionID string         `db:"institution_id" json:"institution_id"`
	Major         string         `db:"major" json:"major"`
	Department    string         `db:"department" json:"department"`
	Year          int            `db:"year" json:"year"`
	GPA           float64        `db:"gpa" json:"gpa"`
	Courses       []CourseRecord `json:"courses"`
}
