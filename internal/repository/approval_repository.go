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

// ApprovalRepository persists restricted-mode enrollment requests.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const requestColumns = `id, student_id, class_id, institution_id, status, justification, requested_at, expires_at, reviewed_by, review_notes, reviewed_at`

// Create persists a new pending request.
func (r *ApprovalRepository) Create(ctx context.Context, tx *sqlx.Tx, request *models.EnrollmentRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	const query = `INSERT INTO enrollment_requests (id, student_id, class_id, institution_id, status, justification, requested_at, expires_at, reviewed_by, review_notes, reviewed_at)
        VALUES (:id, :student_id, :class_id, :institution_id, :status, :justification, :requested_at, :expires_at, :reviewed_by, :review_notes, :reviewed_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext(r.db, tx), query, request); err != nil {
		return fmt.Errorf("create enrollment request: %w", err)
	}
	return nil
}

// FindByID returns a request by its ID.
func (r *ApprovalRepository) FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.EnrollmentRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollment_requests WHERE id = $1`, requestColumns)
	var request models.EnrollmentRequest
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindForUpdate locks the request row for a decision.
func (r *ApprovalRepository) FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.EnrollmentRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollment_requests WHERE id = $1 FOR UPDATE`, requestColumns)
	var request models.EnrollmentRequest
	if err := sqlx.GetContext(ctx, tx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindPendingPair returns the pending request for (student, class), or nil.
func (r *ApprovalRepository) FindPendingPair(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.EnrollmentRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollment_requests WHERE student_id = $1 AND class_id = $2 AND status = $3 LIMIT 1`, requestColumns)
	var request models.EnrollmentRequest
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &request, query, studentID, classID, models.RequestStatusPending); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending request: %w", err)
	}
	return &request, nil
}

// Decide finalizes a pending request. The status change is guarded on
// pending so a concurrent decision cannot double-finalize.
func (r *ApprovalRepository) Decide(ctx context.Context, tx *sqlx.Tx, id string, status models.RequestStatus, reviewedBy, notes string, reviewedAt time.Time) error {
	const query = `UPDATE enrollment_requests SET status = $2, reviewed_by = $3, review_notes = $4, reviewed_at = $5 WHERE id = $1 AND status = $6`
	res, err := ext(r.db, tx).ExecContext(ctx, query, id, status, reviewedBy, notes, reviewedAt, models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("decide enrollment request: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkExpired transitions a lapsed pending request to expired.
func (r *ApprovalRepository) MarkExpired(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	const query = `UPDATE enrollment_requests SET status = $2, reviewed_at = $3 WHERE id = $1 AND status = $4`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, id, models.RequestStatusExpired, at, models.RequestStatusPending); err != nil {
		return fmt.Errorf("expire enrollment request: %w", err)
	}
	return nil
}

// ListPending returns pending requests for an institution, oldest first.
func (r *ApprovalRepository) ListPending(ctx context.Context, institutionID string, page, pageSize int) ([]models.EnrollmentRequest, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT %s FROM enrollment_requests WHERE institution_id = $1 AND status = $2
        ORDER BY requested_at ASC LIMIT %d OFFSET %d`, requestColumns, pageSize, offset)
	var requests []models.EnrollmentRequest
	if err := r.db.SelectContext(ctx, &requests, query, institutionID, models.RequestStatusPending); err != nil {
		return nil, 0, fmt.Errorf("list pending requests: %w", err)
	}

	const countQuery = `SELECT COUNT(*) FROM enrollment_requests WHERE institution_id = $1 AND status = $2`
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, institutionID, models.RequestStatusPending); err != nil {
		return nil, 0, fmt.Errorf("count pending requests: %w", err)
	}
	return requests, total, nil
}
