package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// ClassConfigRepository reads class enrollment settings, attached rules, and
// invitations. Configs are mutated by the institution config surface, never
// here.
type ClassConfigRepository struct {
	db *sqlx.DB
}

// NewClassConfigRepository constructs the repository.
func NewClassConfigRepository(db *sqlx.DB) *ClassConfigRepository {
	return &ClassConfigRepository{db: db}
}

const classConfigColumns = `id, class_id, institution_id, enrollment_mode, capacity, waitlist_capacity,
        enrollment_start, enrollment_end, drop_deadline, withdraw_deadline,
        auto_approve, requires_justification, allow_waitlist, max_waitlist_position, created_at, updated_at`

// FindByClassID returns the enrollment config for a class.
func (r *ClassConfigRepository) FindByClassID(ctx context.Context, tx *sqlx.Tx, classID string) (*models.ClassEnrollmentConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_enrollment_configs WHERE class_id = $1`, classConfigColumns)
	var cfg models.ClassEnrollmentConfig
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &cfg, query, classID); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindForUpdate locks the config row for the duration of the enclosing
// transaction. This lock is the per-class critical section serializing
// allocate, release, and promote.
func (r *ClassConfigRepository) FindForUpdate(ctx context.Context, tx *sqlx.Tx, classID string) (*models.ClassEnrollmentConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_enrollment_configs WHERE class_id = $1 FOR UPDATE`, classConfigColumns)
	var cfg models.ClassEnrollmentConfig
	if err := sqlx.GetContext(ctx, tx, &cfg, query, classID); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadRuleSet returns the config together with its prerequisites and
// restrictions for rules evaluation.
func (r *ClassConfigRepository) LoadRuleSet(ctx context.Context, tx *sqlx.Tx, classID string) (*models.ClassRuleSet, error) {
	cfg, err := r.FindByClassID(ctx, tx, classID)
	if err != nil {
		return nil, err
	}

	var prereqs []models.Prerequisite
	const prereqQuery = `SELECT id, class_id, type, requirement, strict FROM class_prerequisites WHERE class_id = $1`
	if err := sqlx.SelectContext(ctx, ext(r.db, tx), &prereqs, prereqQuery, classID); err != nil {
		return nil, fmt.Errorf("load prerequisites: %w", err)
	}

	var restrictions []models.Restriction
	const restrictionQuery = `SELECT id, class_id, type, condition, overridable FROM class_restrictions WHERE class_id = $1`
	if err := sqlx.SelectContext(ctx, ext(r.db, tx), &restrictions, restrictionQuery, classID); err != nil {
		return nil, fmt.Errorf("load restrictions: %w", err)
	}

	return &models.ClassRuleSet{Config: *cfg, Prerequisites: prereqs, Restrictions: restrictions}, nil
}

// FindLiveInvitation returns the pending, unexpired invitation for the pair.
func (r *ClassConfigRepository) FindLiveInvitation(ctx context.Context, tx *sqlx.Tx, classID, studentID string, now time.Time) (*models.Invitation, error) {
	const query = `SELECT id, class_id, student_id, invited_by, status, expires_at, created_at
        FROM class_invitations
        WHERE class_id = $1 AND student_id = $2 AND status = $3 AND expires_at > $4
        ORDER BY created_at DESC LIMIT 1`
	var inv models.Invitation
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &inv, query, classID, studentID, models.InvitationPending, now); err != nil {
		return nil, err
	}
	return &inv, nil
}

// MarkInvitationAccepted consumes an invitation.
func (r *ClassConfigRepository) MarkInvitationAccepted(ctx context.Context, tx *sqlx.Tx, invitationID string) error {
	const query = `UPDATE class_invitations SET status = $2 WHERE id = $1 AND status = $3`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, invitationID, models.InvitationAccepted, models.InvitationPending); err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	return nil
}
