package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
)

type overrideStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, request *models.OverrideRequest) error
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.OverrideRequest, error)
	Decide(ctx context.Context, tx *sqlx.Tx, id string, status models.OverrideStatus, decidedBy string, at time.Time) error
	CountByRequesterSince(ctx context.Context, tx *sqlx.Tx, requestedBy string, since time.Time) (int, error)
	ListPending(ctx context.Context, institutionID string, page, pageSize int) ([]models.OverrideRequest, int, error)
}

// OverrideService handles administrative exceptions. What a role may request
// is a static capability table, not a permission lookup; quotas count every
// request filed in the rolling period, denied ones included.
type OverrideService struct {
	tx        txRunner
	overrides overrideStore
	capacity  seatAllocator
	audit     auditAppender
	logger    *zap.Logger

	quotaPeriod time.Duration
}

// NewOverrideService constructs the override workflow service.
func NewOverrideService(tx txRunner, overrides overrideStore, capacity seatAllocator, audit auditAppender, logger *zap.Logger, quotaPeriod time.Duration) *OverrideService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if quotaPeriod <= 0 {
		quotaPeriod = 30 * 24 * time.Hour
	}
	return &OverrideService{tx: tx, overrides: overrides, capacity: capacity, audit: audit, logger: logger, quotaPeriod: quotaPeriod}
}

// RequestOverride files an override request after checking the requester's
// capability, justification requirement, and quota.
func (s *OverrideService) RequestOverride(ctx context.Context, requester models.JWTClaims, classID, studentID string, overrideType models.OverrideType, notes string) (*models.OverrideRequest, error) {
	policy, ok := models.OverridePolicyFor(requester.Role)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot request overrides")
	}
	if !policy.Allows(overrideType) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot request this override type")
	}
	if policy.RequiresJustification && notes == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a justification is required for this override")
	}

	request := &models.OverrideRequest{
		StudentID:     studentID,
		ClassID:       classID,
		InstitutionID: requester.InstitutionID,
		Type:          overrideType,
		Status:        models.OverrideStatusPending,
		RequestedBy:   requester.UserID,
		Notes:         notes,
	}
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		// Counting in the same transaction as the insert keeps concurrent
		// filings from slipping past the quota together.
		used, err := s.overrides.CountByRequesterSince(ctx, tx, requester.UserID, time.Now().UTC().Add(-s.quotaPeriod))
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check override quota")
		}
		if used >= policy.MaxPerPeriod {
			return appErrors.Clone(appErrors.ErrQuotaExceeded, "override quota for this period is exhausted")
		}
		if err := s.overrides.Create(ctx, tx, request); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create override request")
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: studentID, ClassID: classID,
			Action: models.AuditActionOverrideRequested, PerformedBy: requester.UserID, Reason: notes,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// ApproveOverride grants a pending override and applies its effect: a
// capacity override enrolls past the nominal capacity, a prerequisite
// override allocates with rules bypassed. Deadline overrides only flip the
// record; the drop flow consults it.
func (s *OverrideService) ApproveOverride(ctx context.Context, overrideID string, approver models.JWTClaims) (*models.OverrideRequest, *models.AllocationResult, error) {
	var approved *models.OverrideRequest
	var allocation *models.AllocationResult
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		request, err := s.loadPending(ctx, tx, overrideID)
		if err != nil {
			return err
		}

		switch request.Type {
		case models.OverrideCapacity:
			allocation, err = s.capacity.AllocateInTx(ctx, tx, request.ClassID, request.StudentID, approver.UserID,
				AllocateOptions{ExtraSeats: 1, DisallowWaitlist: true})
			if err != nil {
				return err
			}
			if allocation.Outcome != models.OutcomeEnrolled {
				return appErrors.Clone(appErrors.ErrConflict, "override seat could not be allocated")
			}
		case models.OverridePrerequisite:
			allocation, err = s.capacity.AllocateInTx(ctx, tx, request.ClassID, request.StudentID, approver.UserID, AllocateOptions{})
			if err != nil {
				return err
			}
			// Waitlisting is an acceptable grant here; the override lifts
			// the rules gate, not capacity. A flat rejection grants nothing,
			// so the request must stay pending.
			if allocation.Outcome == models.OutcomeRejected {
				return appErrors.Clone(appErrors.ErrConflict, "no seat or waitlist slot available for the override")
			}
		case models.OverrideDeadline:
			// Nothing to allocate; the approved record itself is the grant.
		}

		now := time.Now().UTC()
		if err := s.overrides.Decide(ctx, tx, request.ID, models.OverrideStatusApproved, approver.UserID, now); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrConflict, "override was already decided")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize override")
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: request.StudentID, ClassID: request.ClassID,
			Action: models.AuditActionOverrideApproved, PerformedBy: approver.UserID,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}

		request.Status = models.OverrideStatusApproved
		request.ApprovedBy = &approver.UserID
		request.DecidedAt = &now
		approved = request
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return approved, allocation, nil
}

// DenyOverride rejects a pending override. A reason is mandatory.
func (s *OverrideService) DenyOverride(ctx context.Context, overrideID string, approver models.JWTClaims, reason string) (*models.OverrideRequest, error) {
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a denial reason is required")
	}

	var denied *models.OverrideRequest
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		request, err := s.loadPending(ctx, tx, overrideID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := s.overrides.Decide(ctx, tx, request.ID, models.OverrideStatusDenied, approver.UserID, now); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrConflict, "override was already decided")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize override")
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: request.StudentID, ClassID: request.ClassID,
			Action: models.AuditActionOverrideDenied, PerformedBy: approver.UserID, Reason: reason,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}

		request.Status = models.OverrideStatusDenied
		request.ApprovedBy = &approver.UserID
		request.DecidedAt = &now
		denied = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	return denied, nil
}

// ListPending returns pending overrides for an institution.
func (s *OverrideService) ListPending(ctx context.Context, institutionID string, page, pageSize int) ([]models.OverrideRequest, int, error) {
	requests, total, err := s.overrides.ListPending(ctx, institutionID, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending overrides")
	}
	return requests, total, nil
}

// GetPolicy exposes the capability row for a role.
func (s *OverrideService) GetPolicy(role models.UserRole) (models.RoleOverridePolicy, bool) {
	return models.OverridePolicyFor(role)
}

func (s *OverrideService) loadPending(ctx context.Context, tx *sqlx.Tx, overrideID string) (*models.OverrideRequest, error) {
	request, err := s.overrides.FindForUpdate(ctx, tx, overrideID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "override request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load override request")
	}
	if request.Status != models.OverrideStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "override was already decided")
	}
	return request, nil
}
