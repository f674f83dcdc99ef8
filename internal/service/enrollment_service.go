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

type ruleSetLoader interface {
	FindByClassID(ctx context.Context, tx *sqlx.Tx, classID string) (*models.ClassEnrollmentConfig, error)
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, classID string) (*models.ClassEnrollmentConfig, error)
	LoadRuleSet(ctx context.Context, tx *sqlx.Tx, classID string) (*models.ClassRuleSet, error)
	FindLiveInvitation(ctx context.Context, tx *sqlx.Tx, classID, studentID string, now time.Time) (*models.Invitation, error)
	MarkInvitationAccepted(ctx context.Context, tx *sqlx.Tx, invitationID string) error
}

type approvalStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, request *models.EnrollmentRequest) error
	FindPendingPair(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.EnrollmentRequest, error)
	MarkExpired(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error
}

type factsProvider interface {
	GetFacts(ctx context.Context, studentID string) (*models.StudentFacts, error)
}

type seatAllocator interface {
	AllocateInTx(ctx context.Context, tx *sqlx.Tx, classID, studentID, enrolledBy string, opts AllocateOptions) (*models.AllocationResult, error)
	Release(ctx context.Context, classID, studentID, reason, performedBy string) error
}

type enrollmentLister interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	FindActivePair(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.Enrollment, error)
	FindEnrolled(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.Enrollment, error)
	MarkCompleted(ctx context.Context, tx *sqlx.Tx, id string, completedAt time.Time) error
}

type requestNotifier interface {
	NotifyRequestSubmitted(classID, studentID string)
}

// EnrollmentService orchestrates the admission flow: eligibility evaluation,
// mode dispatch, and the resulting state transition, all inside one
// transaction per request.
type EnrollmentService struct {
	tx          txRunner
	configs     ruleSetLoader
	enrollments enrollmentLister
	approvals   approvalStore
	facts       factsProvider
	rules       *RulesService
	capacity    seatAllocator
	audit       auditAppender
	notifier    requestNotifier
	logger      *zap.Logger

	requestTTL time.Duration
	bulkMax    int
}

// NewEnrollmentService constructs the orchestrator.
func NewEnrollmentService(tx txRunner, configs ruleSetLoader, enrollments enrollmentLister, approvals approvalStore, facts factsProvider, rules *RulesService, capacity seatAllocator, audit auditAppender, notifier requestNotifier, logger *zap.Logger, requestTTL time.Duration, bulkMax int) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestTTL <= 0 {
		requestTTL = 7 * 24 * time.Hour
	}
	if bulkMax <= 0 {
		bulkMax = 200
	}
	return &EnrollmentService{
		tx:          tx,
		configs:     configs,
		enrollments: enrollments,
		approvals:   approvals,
		facts:       facts,
		rules:       rules,
		capacity:    capacity,
		audit:       audit,
		notifier:    notifier,
		logger:      logger,
		requestTTL:  requestTTL,
		bulkMax:     bulkMax,
	}
}

// RequestEnrollment runs the full admission flow for one (student, class)
// pair. Repeating a request for a pair that already has an active enrollment
// or pending approval returns the existing state without creating anything.
func (s *EnrollmentService) RequestEnrollment(ctx context.Context, classID, studentID, requestedBy, justification string) (*models.EnrollmentDecision, error) {
	var decision *models.EnrollmentDecision
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var txErr error
		decision, txErr = s.requestEnrollmentInTx(ctx, tx, classID, studentID, requestedBy, justification)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	if decision.State == models.StatePendingApproval && !decision.Existing && s.notifier != nil {
		s.notifier.NotifyRequestSubmitted(classID, studentID)
	}
	return decision, nil
}

func (s *EnrollmentService) requestEnrollmentInTx(ctx context.Context, tx *sqlx.Tx, classID, studentID, requestedBy, justification string) (*models.EnrollmentDecision, error) {
	// The class row lock must come before the duplicate checks: two
	// concurrent requests for the same pair serialize here, so the second
	// one sees whatever the first committed.
	if err := s.lockClass(ctx, tx, classID); err != nil {
		return nil, err
	}

	existing, err := s.enrollments.FindActivePair(ctx, tx, studentID, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if existing != nil {
		state := models.StateEnrolled
		if existing.Status == models.EnrollmentStatusWaitlisted {
			state = models.StateWaitlisted
		}
		return &models.EnrollmentDecision{State: state, Existing: true}, nil
	}

	now := time.Now().UTC()

	pending, err := s.approvals.FindPendingPair(ctx, tx, studentID, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending request")
	}
	if pending != nil {
		if !pending.Lapsed(now) {
			return &models.EnrollmentDecision{State: models.StatePendingApproval, Request: pending, Existing: true}, nil
		}
		// Expired pending requests are finalized lazily on the next touch.
		if err := s.expirePending(ctx, tx, pending, now); err != nil {
			return nil, err
		}
	}

	ruleSet, err := s.configs.LoadRuleSet(ctx, tx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class enrollment config not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class rules")
	}

	facts, err := s.facts.GetFacts(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student academic record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student facts")
	}

	if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
		StudentID: studentID, ClassID: classID,
		Action: models.AuditActionRequested, PerformedBy: requestedBy,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
	}

	eligibility := s.rules.EvaluateEligibility(*facts, *ruleSet, now)
	if !eligibility.Eligible {
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: studentID, ClassID: classID,
			Action: models.AuditActionEligibilityFailed, PerformedBy: requestedBy,
			Reason: firstBlockingReason(eligibility.Reasons),
		}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}
		return &models.EnrollmentDecision{State: models.StateEligibilityFailed, Reasons: eligibility.Reasons}, nil
	}

	switch ruleSet.Config.EnrollmentMode {
	case models.ModeOpen:
		return s.allocateDecision(ctx, tx, classID, studentID, requestedBy, eligibility.Reasons)

	case models.ModeInvitationOnly:
		invitation, err := s.configs.FindLiveInvitation(ctx, tx, classID, studentID, now)
		if err != nil {
			if err == sql.ErrNoRows {
				if auditErr := s.audit.Append(ctx, tx, &models.AuditLogEntry{
					StudentID: studentID, ClassID: classID,
					Action: models.AuditActionRejected, PerformedBy: requestedBy,
					Reason: models.RejectionInvitationRequired,
				}); auditErr != nil {
					return nil, appErrors.Wrap(auditErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
				}
				return &models.EnrollmentDecision{
					State:      models.StateRejected,
					Reasons:    eligibility.Reasons,
					Allocation: &models.AllocationResult{Outcome: models.OutcomeRejected, Reason: models.RejectionInvitationRequired},
				}, nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up invitation")
		}
		if err := s.consumeInvitation(ctx, tx, invitation, requestedBy); err != nil {
			return nil, err
		}
		return s.allocateDecision(ctx, tx, classID, studentID, requestedBy, eligibility.Reasons)

	case models.ModeRestricted:
		if ruleSet.Config.AutoApprove {
			return s.allocateDecision(ctx, tx, classID, studentID, requestedBy, eligibility.Reasons)
		}
		if ruleSet.Config.RequiresJustification && justification == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "a justification is required for this class")
		}
		request := &models.EnrollmentRequest{
			StudentID:     studentID,
			ClassID:       classID,
			InstitutionID: ruleSet.Config.InstitutionID,
			Status:        models.RequestStatusPending,
			Justification: justification,
			RequestedAt:   now,
			ExpiresAt:     now.Add(s.requestTTL),
		}
		if err := s.approvals.Create(ctx, tx, request); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment request")
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: studentID, ClassID: classID,
			Action: models.AuditActionPendingApproval, PerformedBy: requestedBy,
		}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}
		return &models.EnrollmentDecision{State: models.StatePendingApproval, Reasons: eligibility.Reasons, Request: request}, nil

	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment mode")
	}
}

// lockClass takes the per-class row lock for the rest of the transaction.
func (s *EnrollmentService) lockClass(ctx context.Context, tx *sqlx.Tx, classID string) error {
	if _, err := s.configs.FindForUpdate(ctx, tx, classID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "class enrollment config not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock class config")
	}
	return nil
}

func (s *EnrollmentService) allocateDecision(ctx context.Context, tx *sqlx.Tx, classID, studentID, requestedBy string, reasons []models.EligibilityReason) (*models.EnrollmentDecision, error) {
	allocation, err := s.capacity.AllocateInTx(ctx, tx, classID, studentID, requestedBy, AllocateOptions{})
	if err != nil {
		return nil, err
	}
	return &models.EnrollmentDecision{State: stateForOutcome(allocation.Outcome), Reasons: reasons, Allocation: allocation}, nil
}

func (s *EnrollmentService) consumeInvitation(ctx context.Context, tx *sqlx.Tx, invitation *models.Invitation, performedBy string) error {
	if err := s.configs.MarkInvitationAccepted(ctx, tx, invitation.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept invitation")
	}
	if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
		StudentID: invitation.StudentID, ClassID: invitation.ClassID,
		Action: models.AuditActionInvitationAccepted, PerformedBy: performedBy,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
	}
	return nil
}

func (s *EnrollmentService) expirePending(ctx context.Context, tx *sqlx.Tx, request *models.EnrollmentRequest, now time.Time) error {
	if err := s.approvals.MarkExpired(ctx, tx, request.ID, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire request")
	}
	if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
		StudentID: request.StudentID, ClassID: request.ClassID,
		Action: models.AuditActionExpired, PerformedBy: "system",
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
	}
	return nil
}

// AcceptInvitation explicitly redeems a live invitation and allocates a seat.
func (s *EnrollmentService) AcceptInvitation(ctx context.Context, classID, studentID string) (*models.EnrollmentDecision, error) {
	var decision *models.EnrollmentDecision
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockClass(ctx, tx, classID); err != nil {
			return err
		}

		existing, err := s.enrollments.FindActivePair(ctx, tx, studentID, classID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
		}
		if existing != nil {
			state := models.StateEnrolled
			if existing.Status == models.EnrollmentStatusWaitlisted {
				state = models.StateWaitlisted
			}
			decision = &models.EnrollmentDecision{State: state, Existing: true}
			return nil
		}

		invitation, err := s.configs.FindLiveInvitation(ctx, tx, classID, studentID, time.Now().UTC())
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "no live invitation for this class")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up invitation")
		}
		if err := s.consumeInvitation(ctx, tx, invitation, studentID); err != nil {
			return err
		}
		decision, err = s.allocateDecision(ctx, tx, classID, studentID, studentID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// DropStudent removes an enrolled student and triggers waitlist promotion.
// Students cannot drop past the deadline; staff use a deadline override.
func (s *EnrollmentService) DropStudent(ctx context.Context, classID, studentID, reason string, actor models.JWTClaims) error {
	cfg, err := s.configs.FindByClassID(ctx, nil, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "class enrollment config not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class config")
	}
	if actor.Role == models.RoleStudent && cfg.DropDeadline != nil && time.Now().UTC().After(*cfg.DropDeadline) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "drop deadline has passed")
	}
	return s.capacity.Release(ctx, classID, studentID, reason, actor.UserID)
}

// CompleteEnrollment marks an enrolled student's class as completed.
func (s *EnrollmentService) CompleteEnrollment(ctx context.Context, classID, studentID, performedBy string) error {
	return s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		enrollment, err := s.enrollments.FindEnrolled(ctx, tx, studentID, classID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, "student is not enrolled")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		now := time.Now().UTC()
		if err := s.enrollments.MarkCompleted(ctx, tx, enrollment.ID, now); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: studentID, ClassID: classID,
			Action: models.AuditActionCompleted, PerformedBy: performedBy,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}
		return nil
	})
}

// BulkEnroll runs the admission flow for each student independently. The
// batch is not atomic: each student commits or fails on their own, and the
// per-student outcomes are all reported back.
func (s *EnrollmentService) BulkEnroll(ctx context.Context, classID string, studentIDs []string, enrolledBy string) (*models.BulkEnrollResult, error) {
	if len(studentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student list is empty")
	}
	if len(studentIDs) > s.bulkMax {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student list exceeds the bulk enrollment limit")
	}

	result := &models.BulkEnrollResult{Items: make([]models.BulkEnrollItem, 0, len(studentIDs))}
	for _, studentID := range studentIDs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		decision, err := s.RequestEnrollment(ctx, classID, studentID, enrolledBy, "")
		if err != nil {
			result.Failed++
			result.Items = append(result.Items, models.BulkEnrollItem{StudentID: studentID, Error: err.Error()})
			s.logger.Warn("bulk enrollment item failed",
				zap.String("class_id", classID), zap.String("student_id", studentID), zap.Error(err))
			continue
		}
		item := models.BulkEnrollItem{StudentID: studentID, State: decision.State, Reasons: decision.Reasons}
		switch decision.State {
		case models.StateEnrolled:
			result.Enrolled++
		case models.StateWaitlisted:
			result.Waitlisted++
		case models.StatePendingApproval:
			result.Pending++
		default:
			result.Failed++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// EvaluateEligibility runs the rules engine without side effects.
func (s *EnrollmentService) EvaluateEligibility(ctx context.Context, classID, studentID string) (*models.EligibilityResult, error) {
	ruleSet, err := s.configs.LoadRuleSet(ctx, nil, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class enrollment config not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class rules")
	}
	facts, err := s.facts.GetFacts(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student academic record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student facts")
	}
	result := s.rules.EvaluateEligibility(*facts, *ruleSet, time.Now().UTC())
	return &result, nil
}

// List returns enrollments matching the filter.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, total, nil
}

func stateForOutcome(outcome models.AllocationOutcome) models.RequestState {
	switch outcome {
	case models.OutcomeEnrolled:
		return models.StateEnrolled
	case models.OutcomeWaitlisted:
		return models.StateWaitlisted
	default:
		return models.StateRejected
	}
}

func firstBlockingReason(reasons []models.EligibilityReason) string {
	for _, reason := range reasons {
		if reason.Blocking() {
			return reason.Message
		}
	}
	if len(reasons) > 0 {
		return reasons[0].Message
	}
	return ""
}
