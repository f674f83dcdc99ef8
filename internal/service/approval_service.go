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

type approvalDecider interface {
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.EnrollmentRequest, error)
	Decide(ctx context.Context, tx *sqlx.Tx, id string, status models.RequestStatus, reviewedBy, notes string, reviewedAt time.Time) error
	MarkExpired(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error
	ListPending(ctx context.Context, institutionID string, page, pageSize int) ([]models.EnrollmentRequest, int, error)
}

type decisionNotifier interface {
	NotifyApproval(classID, studentID string)
	NotifyDenial(classID, studentID, reason string)
}

// ApprovalService decides restricted-mode enrollment requests. A request is
// pending until approved, denied, or expired; the first decision wins and
// later decisions fail.
type ApprovalService struct {
	tx       txRunner
	requests approvalDecider
	capacity seatAllocator
	audit    auditAppender
	notifier decisionNotifier
	logger   *zap.Logger
}

// NewApprovalService constructs the approval workflow service.
func NewApprovalService(tx txRunner, requests approvalDecider, capacity seatAllocator, audit auditAppender, notifier decisionNotifier, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{tx: tx, requests: requests, capacity: capacity, audit: audit, notifier: notifier, logger: logger}
}

// Approve grants a pending request and allocates a seat in the same
// transaction. A full class falls back to the waitlist; if the waitlist is
// also full the request stays pending and the call fails.
func (s *ApprovalService) Approve(ctx context.Context, requestID string, reviewer models.JWTClaims, notes string) (*models.ApprovalDecision, error) {
	var decision *models.ApprovalDecision
	var lapsed bool
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		request, err := s.loadForDecision(ctx, tx, requestID, &lapsed)
		if err != nil || lapsed {
			return err
		}

		allocation, err := s.capacity.AllocateInTx(ctx, tx, request.ClassID, request.StudentID, reviewer.UserID, AllocateOptions{})
		if err != nil {
			return err
		}
		if allocation.Outcome == models.OutcomeRejected {
			return appErrors.Clone(appErrors.ErrConflict, "class and waitlist are both full; request remains pending")
		}

		now := time.Now().UTC()
		if err := s.requests.Decide(ctx, tx, request.ID, models.RequestStatusApproved, reviewer.UserID, notes, now); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrConflict, "request was already decided")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize request")
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: request.StudentID, ClassID: request.ClassID,
			Action: models.AuditActionApproved, PerformedBy: reviewer.UserID, Reason: notes,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}

		request.Status = models.RequestStatusApproved
		request.ReviewedBy = &reviewer.UserID
		request.ReviewedAt = &now
		decision = &models.ApprovalDecision{Request: request, Allocation: allocation}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		return nil, appErrors.Clone(appErrors.ErrExpired, "enrollment request has expired")
	}
	if s.notifier != nil {
		s.notifier.NotifyApproval(decision.Request.ClassID, decision.Request.StudentID)
	}
	return decision, nil
}

// Deny rejects a pending request. A denial reason is mandatory.
func (s *ApprovalService) Deny(ctx context.Context, requestID string, reviewer models.JWTClaims, reason string) (*models.EnrollmentRequest, error) {
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a denial reason is required")
	}

	var denied *models.EnrollmentRequest
	var lapsed bool
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		request, err := s.loadForDecision(ctx, tx, requestID, &lapsed)
		if err != nil || lapsed {
			return err
		}

		now := time.Now().UTC()
		if err := s.requests.Decide(ctx, tx, request.ID, models.RequestStatusDenied, reviewer.UserID, reason, now); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrConflict, "request was already decided")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize request")
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: request.StudentID, ClassID: request.ClassID,
			Action: models.AuditActionDenied, PerformedBy: reviewer.UserID, Reason: reason,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}

		request.Status = models.RequestStatusDenied
		request.ReviewedBy = &reviewer.UserID
		request.ReviewNotes = &reason
		request.ReviewedAt = &now
		denied = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		return nil, appErrors.Clone(appErrors.ErrExpired, "enrollment request has expired")
	}
	if s.notifier != nil {
		s.notifier.NotifyDenial(denied.ClassID, denied.StudentID, reason)
	}
	return denied, nil
}

// GetRequest returns a request by ID, finalizing it first if its expiry has
// lapsed. Expiry is lazy: the transition is applied on the next touch, and
// exactly once.
func (s *ApprovalService) GetRequest(ctx context.Context, requestID string) (*models.EnrollmentRequest, error) {
	var request *models.EnrollmentRequest
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		found, err := s.requests.FindForUpdate(ctx, tx, requestID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
		}
		now := time.Now().UTC()
		if found.Lapsed(now) {
			if err := s.expireLocked(ctx, tx, found, now); err != nil {
				return err
			}
		}
		request = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// ListPending returns the pending requests for an institution, oldest first.
func (s *ApprovalService) ListPending(ctx context.Context, institutionID string, page, pageSize int) ([]models.EnrollmentRequest, int, error) {
	requests, total, err := s.requests.ListPending(ctx, institutionID, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending requests")
	}
	return requests, total, nil
}

// loadForDecision locks the request row and rejects anything not actionable.
// A lapsed request is finalized in place and the transaction still commits,
// so the expiry write survives the failed decision; lapsed is reported back
// through the flag.
func (s *ApprovalService) loadForDecision(ctx context.Context, tx *sqlx.Tx, requestID string, lapsed *bool) (*models.EnrollmentRequest, error) {
	request, err := s.requests.FindForUpdate(ctx, tx, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	now := time.Now().UTC()
	if request.Lapsed(now) {
		if err := s.expireLocked(ctx, tx, request, now); err != nil {
			return nil, err
		}
		*lapsed = true
		return nil, nil
	}
	switch request.Status {
	case models.RequestStatusPending:
		return request, nil
	case models.RequestStatusExpired:
		return nil, appErrors.Clone(appErrors.ErrExpired, "enrollment request has expired")
	default:
		return nil, appErrors.Clone(appErrors.ErrConflict, "request was already decided")
	}
}

func (s *ApprovalService) expireLocked(ctx context.Context, tx *sqlx.Tx, request *models.EnrollmentRequest, now time.Time) error {
	if err := s.requests.MarkExpired(ctx, tx, request.ID, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire request")
	}
	if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
		StudentID: request.StudentID, ClassID: request.ClassID,
		Action: models.AuditActionExpired, PerformedBy: "system",
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
	}
	request.Status = models.RequestStatusExpired
	request.ReviewedAt = &now
	return nil
}
