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

// OverrideRepository persists override requests.
type OverrideRepository struct {
	db *sqlx.DB
}

// NewOverrideRepository constructs the repository.
func NewOverrideRepository(db *sqlx.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

const overrideColumns = `id, student_id, class_id, institution_id, type, status, requested_by, approved_by, notes, created_at, decided_at`

// Create persists a new pending override request.
func (r *OverrideRepository) Create(ctx context.Context, tx *sqlx.Tx, request *models.OverrideRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	if request.Status == "" {
		request.Status = models.OverrideStatusPending
	}
	const query = `INSERT INTO override_requests (id, student_id, class_id, institution_id, type, status, requested_by, approved_by, notes, created_at, decided_at)
        VALUES (:id, :student_id, :class_id, :institution_id, :type, :status, :requested_by, :approved_by, :notes, :created_at, :decided_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext(r.db, tx), query, request); err != nil {
		return fmt.Errorf("create override request: %w", err)
	}
	return nil
}

// FindForUpdate locks the override row for a decision.
func (r *OverrideRepository) FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.OverrideRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM override_requests WHERE id = $1 FOR UPDATE`, overrideColumns)
	var request models.OverrideRequest
	if err := sqlx.GetContext(ctx, tx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// Decide finalizes a pending override, guarded on pending.
func (r *OverrideRepository) Decide(ctx context.Context, tx *sqlx.Tx, id string, status models.OverrideStatus, decidedBy string, at time.Time) error {
	const query = `UPDATE override_requests SET status = $2, approved_by = $3, decided_at = $4 WHERE id = $1 AND status = $5`
	res, err := ext(r.db, tx).ExecContext(ctx, query, id, status, decidedBy, at, models.OverrideStatusPending)
	if err != nil {
		return fmt.Errorf("decide override request: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByRequesterSince counts override requests a user has filed within the
// quota period. Denied requests still consume quota. The quota check runs in
// the filing transaction, so the count must see that transaction's view.
func (r *OverrideRepository) CountByRequesterSince(ctx context.Context, tx *sqlx.Tx, requestedBy string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM override_requests WHERE requested_by = $1 AND created_at >= $2`
	var count int
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &count, query, requestedBy, since); err != nil {
		return 0, fmt.Errorf("count override requests: %w", err)
	}
	return count, nil
}

// ListPending returns pending overrides for an institution, oldest first.
func (r *OverrideRepository) ListPending(ctx context.Context, institutionID string, page, pageSize int) ([]models.OverrideRequest, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT %s FROM override_requests WHERE institution_id = $1 AND status = $2
        ORDER BY created_at ASC LIMIT %d OFFSET %d`, overrideColumns, pageSize, offset)
	var requests []models.OverrideRequest
	if err := r.db.SelectContext(ctx, &requests, query, institutionID, models.OverrideStatusPending); err != nil {
		return nil, 0, fmt.Errorf("list pending overrides: %w", err)
	}

	const countQuery = `SELECT COUNT(*) FROM override_requests WHERE institution_id = $1 AND status = $2`
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, institutionID, models.OverrideStatusPending); err != nil {
		return nil, 0, fmt.Errorf("count pending overrides: %w", err)
	}
	return requests, total, nil
}
