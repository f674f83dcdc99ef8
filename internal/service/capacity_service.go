package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	"github.com/noah-isme/sma-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
)

type txRunner interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type classConfigLocker interface {
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, classID string) (*models.ClassEnrollmentConfig, error)
}

type enrollmentStore interface {
	FindActivePair(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.Enrollment, error)
	FindEnrolled(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.Enrollment, error)
	CountEnrolled(ctx context.Context, tx *sqlx.Tx, classID string) (int, error)
	Create(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error
	MarkEnrolled(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error
	MarkDropped(ctx context.Context, tx *sqlx.Tx, id string, droppedAt time.Time) error
}

type waitlistStore interface {
	Count(ctx context.Context, tx *sqlx.Tx, classID string) (int, error)
	CountActiveHolds(ctx context.Context, tx *sqlx.Tx, classID string, now time.Time) (int, error)
	Create(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error
	FindByPair(ctx context.Context, tx *sqlx.Tx, classID, studentID string) (*models.WaitlistEntry, error)
	Remove(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error
	NextCandidate(ctx context.Context, tx *sqlx.Tx, classID string, now time.Time) (*models.WaitlistEntry, error)
	MarkNotified(ctx context.Context, tx *sqlx.Tx, id string, notifiedAt, expiresAt time.Time) error
	ListLapsedHolds(ctx context.Context, tx *sqlx.Tx, classID string, now time.Time) ([]models.WaitlistEntry, error)
	ListClassesWithLapsedHolds(ctx context.Context, now time.Time) ([]string, error)
	ListByClass(ctx context.Context, classID string) ([]models.WaitlistEntry, error)
}

type auditAppender interface {
	Append(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLogEntry) error
}

type waitlistCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type promotionNotifier interface {
	NotifyPromotion(classID, studentID string, expiresAt time.Time)
}

// AllocateOptions tunes one allocation attempt. ExtraSeats lifts the
// nominal capacity for an approved capacity override; Priority orders the
// waitlist fallback; DisallowWaitlist forces enroll-or-reject.
type AllocateOptions struct {
	ExtraSeats       int
	Priority         int
	DisallowWaitlist bool
}

// CapacityService owns the capacity invariant: for each class,
// enrolled + active holds never exceeds capacity, and the waitlist never
// exceeds its own capacity. All mutations run under the class config row
// lock; classes never share a lock.
type CapacityService struct {
	tx          txRunner
	configs     classConfigLocker
	enrollments enrollmentStore
	waitlist    waitlistStore
	audit       auditAppender
	cache       waitlistCache
	metrics     *MetricsService
	notifier    promotionNotifier
	logger      *zap.Logger

	holdTTL  time.Duration
	cacheTTL time.Duration
}

// NewCapacityService constructs the capacity and waitlist manager.
func NewCapacityService(tx txRunner, configs classConfigLocker, enrollments enrollmentStore, waitlist waitlistStore, audit auditAppender, cache waitlistCache, metrics *MetricsService, notifier promotionNotifier, logger *zap.Logger, holdTTL, cacheTTL time.Duration) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if holdTTL <= 0 {
		holdTTL = 24 * time.Hour
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &CapacityService{
		tx:          tx,
		configs:     configs,
		enrollments: enrollments,
		waitlist:    waitlist,
		audit:       audit,
		cache:       cache,
		metrics:     metrics,
		notifier:    notifier,
		logger:      logger,
		holdTTL:     holdTTL,
		cacheTTL:    cacheTTL,
	}
}

// Allocate attempts a seat for the student in its own transaction.
func (s *CapacityService) Allocate(ctx context.Context, classID, studentID, enrolledBy string) (*models.AllocationResult, error) {
	var result *models.AllocationResult
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var txErr error
		result, txErr = s.AllocateInTx(ctx, tx, classID, studentID, enrolledBy, AllocateOptions{})
		return txErr
	})
	if err != nil {
		return nil, err
	}
	s.invalidateWaitlist(ctx, classID)
	return result, nil
}

// AllocateInTx runs the allocation inside the caller's transaction so the
// orchestrator can commit the whole request atomically. The class config
// row lock acquired here is the per-class critical section: two concurrent
// attempts can never both observe room for the last seat.
func (s *CapacityService) AllocateInTx(ctx context.Context, tx *sqlx.Tx, classID, studentID, enrolledBy string, opts AllocateOptions) (*models.AllocationResult, error) {
	cfg, err := s.configs.FindForUpdate(ctx, tx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class enrollment config not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock class config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class enrollment config")
	}

	now := time.Now().UTC()

	enrolled, err := s.enrollments.CountEnrolled(ctx, tx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	holds, err := s.waitlist.CountActiveHolds(ctx, tx, classID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count seat holds")
	}

	// Active holds are reserved seats and count toward capacity.
	if enrolled+holds < cfg.Capacity+opts.ExtraSeats {
		enrollment := &models.Enrollment{
			StudentID:     studentID,
			ClassID:       classID,
			InstitutionID: cfg.InstitutionID,
			Status:        models.EnrollmentStatusEnrolled,
			EnrolledBy:    enrolledBy,
			EnrolledAt:    now,
		}
		if err := s.enrollments.Create(ctx, tx, enrollment); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: studentID, ClassID: classID,
			Action: models.AuditActionEnrolled, PerformedBy: enrolledBy,
		}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}
		s.metrics.RecordAllocation(string(models.OutcomeEnrolled))
		return &models.AllocationResult{Outcome: models.OutcomeEnrolled, Enrollment: enrollment}, nil
	}

	if cfg.AllowWaitlist && !opts.DisallowWaitlist {
		waitlisted, err := s.waitlist.Count(ctx, tx, classID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count waitlist")
		}
		limit := cfg.WaitlistCapacity
		if cfg.MaxWaitlistPosition != nil && *cfg.MaxWaitlistPosition < limit {
			limit = *cfg.MaxWaitlistPosition
		}
		if waitlisted < limit {
			position := waitlisted + 1
			probability := models.EstimateProbability(position)
			entry := &models.WaitlistEntry{
				ClassID:              classID,
				StudentID:            studentID,
				InstitutionID:        cfg.InstitutionID,
				Position:             position,
				Priority:             opts.Priority,
				EstimatedProbability: probability,
				AddedAt:              now,
			}
			if err := s.waitlist.Create(ctx, tx, entry); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create waitlist entry")
			}
			enrollment := &models.Enrollment{
				StudentID:     studentID,
				ClassID:       classID,
				InstitutionID: cfg.InstitutionID,
				Status:        models.EnrollmentStatusWaitlisted,
				EnrolledBy:    enrolledBy,
				EnrolledAt:    now,
			}
			if err := s.enrollments.Create(ctx, tx, enrollment); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create waitlisted enrollment")
			}
			if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
				StudentID: studentID, ClassID: classID,
				Action: models.AuditActionWaitlisted, PerformedBy: enrolledBy,
			}); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
			}
			s.metrics.RecordAllocation(string(models.OutcomeWaitlisted))
			return &models.AllocationResult{Outcome: models.OutcomeWaitlisted, Position: position, Probability: probability}, nil
		}
	}

	if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
		StudentID: studentID, ClassID: classID,
		Action: models.AuditActionRejected, PerformedBy: enrolledBy, Reason: models.RejectionCapacityFull,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
	}
	s.metrics.RecordAllocation(string(models.OutcomeRejected))
	return &models.AllocationResult{Outcome: models.OutcomeRejected, Reason: models.RejectionCapacityFull}, nil
}

// Release drops an enrolled student and promotes from the waitlist.
func (s *CapacityService) Release(ctx context.Context, classID, studentID, reason, performedBy string) error {
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		cfg, err := s.configs.FindForUpdate(ctx, tx, classID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "class enrollment config not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock class config")
		}

		enrollment, err := s.enrollments.FindEnrolled(ctx, tx, studentID, classID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, "student is not enrolled")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}

		now := time.Now().UTC()
		if err := s.enrollments.MarkDropped(ctx, tx, enrollment.ID, now); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: studentID, ClassID: classID,
			Action: models.AuditActionDropped, PerformedBy: performedBy, Reason: reason,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}

		return s.promoteLocked(ctx, tx, cfg, now)
	})
	if err != nil {
		return err
	}
	s.invalidateWaitlist(ctx, classID)
	return nil
}

// Promote offers any free seat to the next waitlist candidate.
func (s *CapacityService) Promote(ctx context.Context, classID string) error {
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		cfg, err := s.configs.FindForUpdate(ctx, tx, classID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "class enrollment config not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock class config")
		}
		return s.promoteLocked(ctx, tx, cfg, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.invalidateWaitlist(ctx, classID)
	return nil
}

// promoteLocked runs under the class config row lock. Lapsed holds are
// expired first; while a hold is outstanding no further promotion runs, so
// the held seat stays inside the capacity invariant.
func (s *CapacityService) promoteLocked(ctx context.Context, tx *sqlx.Tx, cfg *models.ClassEnrollmentConfig, now time.Time) error {
	lapsed, err := s.waitlist.ListLapsedHolds(ctx, tx, cfg.ClassID, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lapsed holds")
	}
	for i := range lapsed {
		entry := lapsed[i]
		if err := s.expireHoldLocked(ctx, tx, &entry, now); err != nil {
			return err
		}
	}

	holds, err := s.waitlist.CountActiveHolds(ctx, tx, cfg.ClassID, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count seat holds")
	}
	if holds > 0 {
		return nil
	}

	enrolled, err := s.enrollments.CountEnrolled(ctx, tx, cfg.ClassID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if enrolled >= cfg.Capacity {
		return nil
	}

	candidate, err := s.waitlist.NextCandidate(ctx, tx, cfg.ClassID, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to select waitlist candidate")
	}
	if candidate == nil {
		return nil
	}

	expiresAt := now.Add(s.holdTTL)
	if err := s.waitlist.MarkNotified(ctx, tx, candidate.ID, now, expiresAt); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
	}
	if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
		StudentID: candidate.StudentID, ClassID: cfg.ClassID,
		Action: models.AuditActionPromoted, PerformedBy: "system",
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
	}
	s.metrics.RecordPromotion()
	if s.notifier != nil {
		s.notifier.NotifyPromotion(cfg.ClassID, candidate.StudentID, expiresAt)
	}
	return nil
}

func (s *CapacityService) expireHoldLocked(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry, now time.Time) error {
	if err := s.waitlist.Remove(ctx, tx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove lapsed hold")
	}
	if enrollment, err := s.enrollments.FindActivePair(ctx, tx, entry.StudentID, entry.ClassID); err == nil && enrollment != nil && enrollment.Status == models.EnrollmentStatusWaitlisted {
		if err := s.enrollments.MarkDropped(ctx, tx, enrollment.ID, now); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop lapsed enrollment")
		}
	}
	if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
		StudentID: entry.StudentID, ClassID: entry.ClassID,
		Action: models.AuditActionPromotionExpired, PerformedBy: "system",
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
	}
	s.metrics.RecordHoldExpired()
	return nil
}

// AcceptPromotion converts an active seat hold into an enrollment.
func (s *CapacityService) AcceptPromotion(ctx context.Context, classID, studentID string) (*models.Enrollment, error) {
	var accepted *models.Enrollment
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.configs.FindForUpdate(ctx, tx, classID); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "class enrollment config not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock class config")
		}

		entry, err := s.waitlist.FindByPair(ctx, tx, classID, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist entry")
		}
		if entry == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
		}
		now := time.Now().UTC()
		if !entry.HoldActive(now) {
			return appErrors.Clone(appErrors.ErrExpired, "promotion offer expired")
		}

		if err := s.waitlist.Remove(ctx, tx, entry); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove waitlist entry")
		}

		enrollment, err := s.enrollments.FindActivePair(ctx, tx, studentID, classID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		if enrollment != nil && enrollment.Status == models.EnrollmentStatusWaitlisted {
			if err := s.enrollments.MarkEnrolled(ctx, tx, enrollment.ID, now); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll from waitlist")
			}
			enrollment.Status = models.EnrollmentStatusEnrolled
		} else {
			enrollment = &models.Enrollment{
				StudentID:     studentID,
				ClassID:       classID,
				InstitutionID: entry.InstitutionID,
				Status:        models.EnrollmentStatusEnrolled,
				EnrolledBy:    studentID,
				EnrolledAt:    now,
			}
			if err := s.enrollments.Create(ctx, tx, enrollment); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
			}
		}

		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: studentID, ClassID: classID,
			Action: models.AuditActionPromotionAccepted, PerformedBy: studentID,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}
		accepted = enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateWaitlist(ctx, classID)
	return accepted, nil
}

// DeclinePromotion releases a held seat back to the pool and re-promotes.
func (s *CapacityService) DeclinePromotion(ctx context.Context, classID, studentID string) error {
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		cfg, err := s.configs.FindForUpdate(ctx, tx, classID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "class enrollment config not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock class config")
		}

		entry, err := s.waitlist.FindByPair(ctx, tx, classID, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist entry")
		}
		if entry == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
		}

		now := time.Now().UTC()
		if err := s.waitlist.Remove(ctx, tx, entry); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove waitlist entry")
		}
		if enrollment, err := s.enrollments.FindActivePair(ctx, tx, studentID, classID); err == nil && enrollment != nil && enrollment.Status == models.EnrollmentStatusWaitlisted {
			if err := s.enrollments.MarkDropped(ctx, tx, enrollment.ID, now); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop waitlisted enrollment")
			}
		}
		if err := s.audit.Append(ctx, tx, &models.AuditLogEntry{
			StudentID: studentID, ClassID: classID,
			Action: models.AuditActionPromotionDeclined, PerformedBy: studentID,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}

		return s.promoteLocked(ctx, tx, cfg, now)
	})
	if err != nil {
		return err
	}
	s.invalidateWaitlist(ctx, classID)
	return nil
}

// SweepExpiredHolds re-promotes every class with a lapsed seat hold.
// Called on a schedule; per-class failures are logged and skipped.
func (s *CapacityService) SweepExpiredHolds(ctx context.Context) {
	classIDs, err := s.waitlist.ListClassesWithLapsedHolds(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Warn("hold expiry sweep failed", zap.Error(err))
		return
	}
	for _, classID := range classIDs {
		if ctx.Err() != nil {
			return
		}
		if err := s.Promote(ctx, classID); err != nil {
			s.logger.Warn("hold expiry promote failed", zap.String("class_id", classID), zap.Error(err))
		}
	}
}

// GetWaitlistPosition returns the student's current position, served from
// the snapshot cache when fresh.
func (s *CapacityService) GetWaitlistPosition(ctx context.Context, classID, studentID string) (*models.WaitlistSnapshot, error) {
	key := repository.WaitlistKey(classID, studentID)
	var snapshot models.WaitlistSnapshot
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &snapshot); err == nil {
			return &snapshot, nil
		}
	}

	entry, err := s.waitlist.FindByPair(ctx, nil, classID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist entry")
	}
	if entry == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not waitlisted for this class")
	}

	snapshot = models.WaitlistSnapshot{
		ClassID:     classID,
		StudentID:   studentID,
		Position:    entry.Position,
		Probability: entry.EstimatedProbability,
		FetchedAt:   time.Now().UTC(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, snapshot, s.cacheTTL); err != nil {
			s.logger.Debug("waitlist snapshot cache write failed", zap.Error(err))
		}
	}
	return &snapshot, nil
}

// EstimateEnrollmentProbability returns the admission probability estimate
// for the student's current waitlist position.
func (s *CapacityService) EstimateEnrollmentProbability(ctx context.Context, classID, studentID string) (float64, error) {
	snapshot, err := s.GetWaitlistPosition(ctx, classID, studentID)
	if err != nil {
		return 0, err
	}
	return snapshot.Probability, nil
}

// ListWaitlist returns the class waitlist in position order.
func (s *CapacityService) ListWaitlist(ctx context.Context, classID string) ([]models.WaitlistEntry, error) {
	entries, err := s.waitlist.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}
	return entries, nil
}

func (s *CapacityService) invalidateWaitlist(ctx context.Context, classID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, repository.WaitlistClassPattern(classID)); err != nil {
		s.logger.Debug("waitlist cache invalidation failed", zap.String("class_id", classID), zap.Error(err))
	}
}
