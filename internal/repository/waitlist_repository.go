package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// WaitlistRepository owns waitlist entries: dense 1-based positions ordered
// by priority descending then join time ascending, plus seat-hold
// bookkeeping for promotions.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

const waitlistColumns = `id, class_id, student_id, institution_id, position, priority, estimated_probability, added_at, notified_at, notification_expires_at`

// Count returns the number of waitlist entries for a class.
func (r *WaitlistRepository) Count(ctx context.Context, tx *sqlx.Tx, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM waitlist_entries WHERE class_id = $1`
	var count int
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &count, query, classID); err != nil {
		return 0, fmt.Errorf("count waitlist: %w", err)
	}
	return count, nil
}

// CountActiveHolds returns how many entries currently hold a reserved seat.
// Active holds count toward the capacity invariant.
func (r *WaitlistRepository) CountActiveHolds(ctx context.Context, tx *sqlx.Tx, classID string, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM waitlist_entries WHERE class_id = $1 AND notification_expires_at > $2`
	var count int
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &count, query, classID, now); err != nil {
		return 0, fmt.Errorf("count active holds: %w", err)
	}
	return count, nil
}

// Create appends a new entry at the given position.
func (r *WaitlistRepository) Create(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}
	const query = `INSERT INTO waitlist_entries (id, class_id, student_id, institution_id, position, priority, estimated_probability, added_at, notified_at, notification_expires_at)
        VALUES (:id, :class_id, :student_id, :institution_id, :position, :priority, :estimated_probability, :added_at, :notified_at, :notification_expires_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext(r.db, tx), query, entry); err != nil {
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	return nil
}

// FindByPair returns the entry for (class, student), or nil when absent.
func (r *WaitlistRepository) FindByPair(ctx context.Context, tx *sqlx.Tx, classID, studentID string) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries WHERE class_id = $1 AND student_id = $2`, waitlistColumns)
	var entry models.WaitlistEntry
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &entry, query, classID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find waitlist entry: %w", err)
	}
	return &entry, nil
}

// Remove deletes an entry and renumbers all subsequent positions so the
// sequence stays dense.
func (r *WaitlistRepository) Remove(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error {
	const deleteQuery = `DELETE FROM waitlist_entries WHERE id = $1`
	if _, err := ext(r.db, tx).ExecContext(ctx, deleteQuery, entry.ID); err != nil {
		return fmt.Errorf("remove waitlist entry: %w", err)
	}
	const renumberQuery = `UPDATE waitlist_entries SET position = position - 1 WHERE class_id = $1 AND position > $2`
	if _, err := ext(r.db, tx).ExecContext(ctx, renumberQuery, entry.ClassID, entry.Position); err != nil {
		return fmt.Errorf("renumber waitlist: %w", err)
	}
	return nil
}

// NextCandidate returns the promotion candidate: highest priority, earliest
// joined, not already holding a seat. Nil when the waitlist is empty.
func (r *WaitlistRepository) NextCandidate(ctx context.Context, tx *sqlx.Tx, classID string, now time.Time) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE class_id = $1 AND (notification_expires_at IS NULL OR notification_expires_at <= $2)
        ORDER BY priority DESC, added_at ASC LIMIT 1`, waitlistColumns)
	var entry models.WaitlistEntry
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &entry, query, classID, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("next waitlist candidate: %w", err)
	}
	return &entry, nil
}

// MarkNotified stamps a promotion offer onto an entry.
func (r *WaitlistRepository) MarkNotified(ctx context.Context, tx *sqlx.Tx, id string, notifiedAt, expiresAt time.Time) error {
	const query = `UPDATE waitlist_entries SET notified_at = $2, notification_expires_at = $3 WHERE id = $1`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, id, notifiedAt, expiresAt); err != nil {
		return fmt.Errorf("mark waitlist entry notified: %w", err)
	}
	return nil
}

// ListLapsedHolds returns entries whose promotion offer expired unanswered.
func (r *WaitlistRepository) ListLapsedHolds(ctx context.Context, tx *sqlx.Tx, classID string, now time.Time) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE class_id = $1 AND notification_expires_at IS NOT NULL AND notification_expires_at <= $2`, waitlistColumns)
	var entries []models.WaitlistEntry
	if err := sqlx.SelectContext(ctx, ext(r.db, tx), &entries, query, classID, now); err != nil {
		return nil, fmt.Errorf("list lapsed holds: %w", err)
	}
	return entries, nil
}

// ListClassesWithLapsedHolds feeds the periodic hold-expiry sweep.
func (r *WaitlistRepository) ListClassesWithLapsedHolds(ctx context.Context, now time.Time) ([]string, error) {
	const query = `SELECT DISTINCT class_id FROM waitlist_entries
        WHERE notification_expires_at IS NOT NULL AND notification_expires_at <= $1`
	var classIDs []string
	if err := r.db.SelectContext(ctx, &classIDs, query, now); err != nil {
		return nil, fmt.Errorf("list classes with lapsed holds: %w", err)
	}
	return classIDs, nil
}

// ListByClass returns the waitlist in position order.
func (r *WaitlistRepository) ListByClass(ctx context.Context, classID string) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries WHERE class_id = $1 ORDER BY position ASC`, waitlistColumns)
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, classID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}
