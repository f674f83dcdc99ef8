package models

import "time"

// WaitlistEntry is a student's slot on a class waitlist. Positions are
// 1-based and dense; ordering is priority descending, then join time
// ascending. A populated NotificationExpiresAt in the future means the entry
// holds a reserved seat pending acceptance.
type WaitlistEntry struct {
	ID                    string     `db:"id" json:"id"`
	ClassID               string     `db:"class_id" json:"class_id"`
	StudentID             string     `db:"student_id" json:"student_id"`
	InstitutionID         string     `db:"institution_id" json:"institution_id"`
	Position              int        `db:"position" json:"position"`
	Priority              int        `db:"priority" json:"priority"`
	EstimatedProbability  float64    `db:"estimated_probability" json:"estimated_probability"`
	AddedAt               time.Time  `db:"added_at" json:"added_at"`
	NotifiedAt            *time.Time `db:"notified_at" json:"notified_at,omitempty"`
	NotificationExpiresAt *time.Time `db:"notification_expires_at" json:"notification_expires_at,omitempty"`
}

// HoldActive reports whether the entry holds a reserved seat at the instant.
func (w *WaitlistEntry) HoldActive(now time.Time) bool {
	return w.NotificationExpiresAt != nil && now.Before(*w.NotificationExpiresAt)
}

// EstimateProbability maps a waitlist position to an admission probability
// estimate, monotonically decreasing and clamped to [0.1, 0.9].
func EstimateProbability(position int) float64 {
	p := 1.0 - float64(position)*0.1
	if p < 0.1 {
		return 0.1
	}
	if p > 0.9 {
		return 0.9
	}
	return p
}

// WaitlistSnapshot is the cache-friendly view served for position lookups.
type WaitlistSnapshot struct {
	ClassID     string    `json:"class_id"`
	StudentID   string    `json:"student_id"`
	Position    int       `json:"position"`
	Probability float64   `json:"probability"`
	FetchedAt   time.Time `json:"fetched_at"`
}
