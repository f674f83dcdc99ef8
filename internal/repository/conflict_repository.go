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

// ConflictRepository persists conflict records and runs the detection
// queries over the shared enrollment store.
type ConflictRepository struct {
	db *sqlx.DB
}

// NewConflictRepository constructs the repository.
func NewConflictRepository(db *sqlx.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

const conflictColumns = `id, institution_id, class_id, student_id, type, severity, status, description, affected_students, detected_at, resolved_at, resolved_by, resolution`

// OvercapacityClass is one row of the capacity-invariant scan.
type OvercapacityClass struct {
	ClassID       string `db:"class_id"`
	InstitutionID string `db:"institution_id"`
	Capacity      int    `db:"capacity"`
	Enrolled      int    `db:"enrolled"`
}

// ListOvercapacity returns classes whose enrolled count exceeds capacity.
func (r *ConflictRepository) ListOvercapacity(ctx context.Context) ([]OvercapacityClass, error) {
	const query = `SELECT c.class_id, c.institution_id, c.capacity, COUNT(e.id) AS enrolled
        FROM class_enrollment_configs c
        JOIN enrollments e ON e.class_id = c.class_id AND e.status = $1
        GROUP BY c.class_id, c.institution_id, c.capacity
        HAVING COUNT(e.id) > c.capacity`
	var rows []OvercapacityClass
	if err := r.db.SelectContext(ctx, &rows, query, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("scan overcapacity classes: %w", err)
	}
	return rows, nil
}

// StudentVelocity is one row of the suspicious-activity scan.
type StudentVelocity struct {
	StudentID     string `db:"student_id"`
	InstitutionID string `db:"institution_id"`
	Enrollments   int    `db:"enrollments"`
}

// ListHighVelocityStudents returns students with more than maxEnrollments
// distinct class enrollments since the window start.
func (r *ConflictRepository) ListHighVelocityStudents(ctx context.Context, institutionID string, since time.Time, maxEnrollments int) ([]StudentVelocity, error) {
	const query = `SELECT student_id, institution_id, COUNT(DISTINCT class_id) AS enrollments
        FROM enrollments
        WHERE institution_id = $1 AND created_at >= $2
        GROUP BY student_id, institution_id
        HAVING COUNT(DISTINCT class_id) > $3`
	var rows []StudentVelocity
	if err := r.db.SelectContext(ctx, &rows, query, institutionID, since, maxEnrollments); err != nil {
		return nil, fmt.Errorf("scan enrollment velocity: %w", err)
	}
	return rows, nil
}

// ListInstitutionIDs returns every institution with enrollment config rows.
func (r *ConflictRepository) ListInstitutionIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT institution_id FROM class_enrollment_configs`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list institutions: %w", err)
	}
	return ids, nil
}

// ExistsOpen reports whether an open conflict of the same type already
// covers the class or student, keeping the sweep idempotent.
func (r *ConflictRepository) ExistsOpen(ctx context.Context, conflictType models.ConflictType, classID, studentID *string) (bool, error) {
	const query = `SELECT 1 FROM conflict_records
        WHERE type = $1 AND status = $2
        AND class_id IS NOT DISTINCT FROM $3 AND student_id IS NOT DISTINCT FROM $4
        LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, conflictType, models.ConflictStatusOpen, classID, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check open conflict: %w", err)
	}
	return true, nil
}

// Create persists one conflict record. Each record is its own atomic write
// so an aborted sweep never leaves partial batches.
func (r *ConflictRepository) Create(ctx context.Context, record *models.ConflictRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.DetectedAt.IsZero() {
		record.DetectedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = models.ConflictStatusOpen
	}
	const query = `INSERT INTO conflict_records (id, institution_id, class_id, student_id, type, severity, status, description, affected_students, detected_at, resolved_at, resolved_by, resolution)
        VALUES (:id, :institution_id, :class_id, :student_id, :type, :severity, :status, :description, :affected_students, :detected_at, :resolved_at, :resolved_by, :resolution)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, record); err != nil {
		return fmt.Errorf("create conflict record: %w", err)
	}
	return nil
}

// FindByID returns a conflict record.
func (r *ConflictRepository) FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.ConflictRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM conflict_records WHERE id = $1`, conflictColumns)
	var record models.ConflictRecord
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// MarkResolved closes an open conflict record.
func (r *ConflictRepository) MarkResolved(ctx context.Context, tx *sqlx.Tx, id, resolvedBy, resolution string, at time.Time) error {
	const query = `UPDATE conflict_records SET status = $2, resolved_by = $3, resolution = $4, resolved_at = $5 WHERE id = $1 AND status = $6`
	res, err := ext(r.db, tx).ExecContext(ctx, query, id, models.ConflictStatusResolved, resolvedBy, resolution, at, models.ConflictStatusOpen)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListOpen returns open conflicts for an institution, newest first.
func (r *ConflictRepository) ListOpen(ctx context.Context, institutionID string, page, pageSize int) ([]models.ConflictRecord, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT %s FROM conflict_records WHERE institution_id = $1 AND status = $2
        ORDER BY detected_at DESC LIMIT %d OFFSET %d`, conflictColumns, pageSize, offset)
	var records []models.ConflictRecord
	if err := r.db.SelectContext(ctx, &records, query, institutionID, models.ConflictStatusOpen); err != nil {
		return nil, 0, fmt.Errorf("list open conflicts: %w", err)
	}

	const countQuery = `SELECT COUNT(*) FROM conflict_records WHERE institution_id = $1 AND status = $2`
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, institutionID, models.ConflictStatusOpen); err != nil {
		return nil, 0, fmt.Errorf("count open conflicts: %w", err)
	}
	return records, total, nil
}

// GetTenantPolicy returns the institution's detector thresholds, or nil when
// the institution uses the defaults.
func (r *ConflictRepository) GetTenantPolicy(ctx context.Context, institutionID string) (*models.TenantPolicy, error) {
	const query = `SELECT institution_id, suspicious_max_enrollments, suspicious_window_minutes, bulk_velocity_max, bulk_velocity_window_minutes
        FROM tenant_policies WHERE institution_id = $1`
	var policy models.TenantPolicy
	if err := r.db.GetContext(ctx, &policy, query, institutionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant policy: %w", err)
	}
	return &policy, nil
}
