package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, class_id, institution_id, status, enrolled_by, enrolled_at, dropped_at, completed_at, created_at, updated_at`

// FindActivePair returns the non-terminal enrollment for (student, class),
// or nil when none exists. Enrolled and waitlisted are the active states.
func (r *EnrollmentRepository) FindActivePair(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND class_id = $2 AND status IN ($3, $4) LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	err := sqlx.GetContext(ctx, ext(r.db, tx), &enrollment, query, studentID, classID,
		models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindEnrolled returns the enrolled record for the pair.
func (r *EnrollmentRepository) FindEnrolled(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND class_id = $2 AND status = $3 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &enrollment, query, studentID, classID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CountEnrolled returns the number of enrolled students in a class. Call
// under the class config row lock when the count feeds an allocation.
func (r *EnrollmentRepository) CountEnrolled(ctx context.Context, tx *sqlx.Tx, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = $2`
	var count int
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &count, query, classID, models.EnrollmentStatusEnrolled); err != nil {
		return 0, fmt.Errorf("count enrolled: %w", err)
	}
	return count, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	const query = `INSERT INTO enrollments (id, student_id, class_id, institution_id, status, enrolled_by, enrolled_at, dropped_at, completed_at, created_at, updated_at)
        VALUES (:id, :student_id, :class_id, :institution_id, :status, :enrolled_by, :enrolled_at, :dropped_at, :completed_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext(r.db, tx), query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// MarkEnrolled promotes a waitlisted enrollment to enrolled.
func (r *EnrollmentRepository) MarkEnrolled(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	const query = `UPDATE enrollments SET status = $2, enrolled_at = $3, updated_at = $3 WHERE id = $1`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, id, models.EnrollmentStatusEnrolled, at); err != nil {
		return fmt.Errorf("mark enrollment enrolled: %w", err)
	}
	return nil
}

// MarkDropped transitions an enrollment to dropped.
func (r *EnrollmentRepository) MarkDropped(ctx context.Context, tx *sqlx.Tx, id string, droppedAt time.Time) error {
	const query = `UPDATE enrollments SET status = $2, dropped_at = $3, updated_at = $3 WHERE id = $1`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, id, models.EnrollmentStatusDropped, droppedAt); err != nil {
		return fmt.Errorf("mark enrollment dropped: %w", err)
	}
	return nil
}

// MarkCompleted transitions an enrollment to completed.
func (r *EnrollmentRepository) MarkCompleted(ctx context.Context, tx *sqlx.Tx, id string, completedAt time.Time) error {
	const query = `UPDATE enrollments SET status = $2, completed_at = $3, updated_at = $3 WHERE id = $1`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, id, models.EnrollmentStatusCompleted, completedAt); err != nil {
		return fmt.Errorf("mark enrollment completed: %w", err)
	}
	return nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.InstitutionID != "" {
		conditions = append(conditions, fmt.Sprintf("institution_id = $%d", len(args)+1))
		args = append(args, filter.InstitutionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at": "enrolled_at",
		"status":      "status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		enrollmentColumns, clause, orderBy, order, size, offset)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM enrollments" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}
