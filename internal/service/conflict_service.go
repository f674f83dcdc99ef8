package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	"github.com/noah-isme/sma-enroll-api/internal/repository"
	"github.com/noah-isme/sma-enroll-api/pkg/config"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
)

type conflictStore interface {
	ListOvercapacity(ctx context.Context) ([]repository.OvercapacityClass, error)
	ListHighVelocityStudents(ctx context.Context, institutionID string, since time.Time, maxEnrollments int) ([]repository.StudentVelocity, error)
	ListInstitutionIDs(ctx context.Context) ([]string, error)
	ExistsOpen(ctx context.Context, conflictType models.ConflictType, classID, studentID *string) (bool, error)
	Create(ctx context.Context, record *models.ConflictRecord) error
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.ConflictRecord, error)
	MarkResolved(ctx context.Context, tx *sqlx.Tx, id, resolvedBy, resolution string, at time.Time) error
	ListOpen(ctx context.Context, institutionID string, page, pageSize int) ([]models.ConflictRecord, int, error)
	GetTenantPolicy(ctx context.Context, institutionID string) (*models.TenantPolicy, error)
}

// ConflictService detects and resolves allocation conflicts. The sweep is
// read-mostly and advisory: it writes conflict records for administrators,
// never corrective mutations. Detector failures degrade to an empty result
// rather than failing the sweep.
type ConflictService struct {
	tx        txRunner
	conflicts conflictStore
	audit     auditAppender
	metrics   *MetricsService
	logger    *zap.Logger
	defaults  config.ConflictConfig
}

// NewConflictService constructs the detection and resolution service.
func NewConflictService(tx txRunner, conflicts conflictStore, audit auditAppender, metrics *MetricsService, logger *zap.Logger, defaults config.ConflictConfig) *ConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictService{tx: tx, conflicts: conflicts, audit: audit, metrics: metrics, logger: logger, defaults: defaults}
}

// DetectConflicts runs every detector and records what it finds. The sweep
// is idempotent: a finding already covered by an open record is skipped.
func (s *ConflictService) DetectConflicts(ctx context.Context) ([]models.ConflictRecord, error) {
	start := time.Now()
	var created []models.ConflictRecord

	overcapacity := s.detectOvercapacity(ctx)
	created = append(created, overcapacity...)

	if ctx.Err() != nil {
		return created, ctx.Err()
	}

	suspicious := s.detectSuspiciousActivity(ctx)
	created = append(created, suspicious...)

	s.metrics.ObserveSweep(time.Since(start))
	s.logger.Info("conflict sweep finished",
		zap.Int("overcapacity", len(overcapacity)),
		zap.Int("suspicious", len(suspicious)),
		zap.Duration("elapsed", time.Since(start)))
	return created, ctx.Err()
}

func (s *ConflictService) detectOvercapacity(ctx context.Context) []models.ConflictRecord {
	rows, err := s.conflicts.ListOvercapacity(ctx)
	if err != nil {
		s.logger.Warn("overcapacity scan failed", zap.Error(err))
		return nil
	}

	var created []models.ConflictRecord
	for _, row := range rows {
		if ctx.Err() != nil {
			return created
		}
		classID := row.ClassID
		record := models.ConflictRecord{
			InstitutionID:    row.InstitutionID,
			ClassID:          &classID,
			Type:             models.ConflictCapacityExceeded,
			Severity:         models.SeverityHigh,
			Status:           models.ConflictStatusOpen,
			Description:      fmt.Sprintf("class has %d enrolled students for %d seats", row.Enrolled, row.Capacity),
			AffectedStudents: row.Enrolled - row.Capacity,
		}
		if s.record(ctx, &record) {
			created = append(created, record)
		}
	}
	return created
}

// detectSuspiciousActivity applies two velocity rules per institution: the
// rolling suspicious-activity threshold and the tighter bulk-enrollment
// window. Both flag the same conflict type, so one open record per student
// covers either rule.
func (s *ConflictService) detectSuspiciousActivity(ctx context.Context) []models.ConflictRecord {
	institutionIDs, err := s.conflicts.ListInstitutionIDs(ctx)
	if err != nil {
		s.logger.Warn("institution scan failed", zap.Error(err))
		return nil
	}

	now := time.Now().UTC()
	var created []models.ConflictRecord
	for _, institutionID := range institutionIDs {
		if ctx.Err() != nil {
			return created
		}

		suspiciousMax, suspiciousWindow := s.defaults.SuspiciousMax, s.defaults.SuspiciousWindow
		bulkMax, bulkWindow := s.defaults.BulkVelocityMax, s.defaults.BulkVelocityWindow
		policy, err := s.conflicts.GetTenantPolicy(ctx, institutionID)
		if err != nil {
			s.logger.Warn("tenant policy lookup failed", zap.String("institution_id", institutionID), zap.Error(err))
		} else if policy != nil {
			if policy.SuspiciousMaxEnrollments > 0 {
				suspiciousMax, suspiciousWindow = policy.SuspiciousMaxEnrollments, policy.SuspiciousWindow()
			}
			if policy.BulkVelocityMax > 0 {
				bulkMax, bulkWindow = policy.BulkVelocityMax, policy.BulkVelocityWindow()
			}
		}

		created = append(created, s.flagHighVelocity(ctx, institutionID, now, suspiciousMax, suspiciousWindow)...)
		if bulkMax > 0 && bulkWindow > 0 {
			created = append(created, s.flagHighVelocity(ctx, institutionID, now, bulkMax, bulkWindow)...)
		}
	}
	return created
}

func (s *ConflictService) flagHighVelocity(ctx context.Context, institutionID string, now time.Time, maxEnrollments int, window time.Duration) []models.ConflictRecord {
	rows, err := s.conflicts.ListHighVelocityStudents(ctx, institutionID, now.Add(-window), maxEnrollments)
	if err != nil {
		s.logger.Warn("velocity scan failed", zap.String("institution_id", institutionID), zap.Error(err))
		return nil
	}

	var created []models.ConflictRecord
	for _, row := range rows {
		studentID := row.StudentID
		record := models.ConflictRecord{
			InstitutionID:    row.InstitutionID,
			StudentID:        &studentID,
			Type:             models.ConflictSuspiciousActivity,
			Severity:         models.SeverityMedium,
			Status:           models.ConflictStatusOpen,
			Description:      fmt.Sprintf("student enrolled in %d classes within %s", row.Enrollments, window),
			AffectedStudents: 1,
		}
		if s.record(ctx, &record) {
			created = append(created, record)
		}
	}
	return created
}

// record persists one finding unless an open record already covers it.
func (s *ConflictService) record(ctx context.Context, record *models.ConflictRecord) bool {
	exists, err := s.conflicts.ExistsOpen(ctx, record.Type, record.ClassID, record.StudentID)
	if err != nil {
		s.logger.Warn("open conflict check failed", zap.Error(err))
		return false
	}
	if exists {
		return false
	}
	if err := s.conflicts.Create(ctx, record); err != nil {
		s.logger.Warn("conflict record write failed", zap.Error(err))
		return false
	}
	s.metrics.RecordConflict(string(record.Type))
	return true
}

// Sweep runs detection on the configured interval until the context ends.
func (s *ConflictService) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.DetectConflicts(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("conflict sweep failed", zap.Error(err))
			}
		}
	}
}

// ResolveConflict closes an open conflict record. A resolution note is
// mandatory; the record itself is the only thing mutated.
func (s *ConflictService) ResolveConflict(ctx context.Context, conflictID, resolvedBy, resolution string) (*models.ConflictRecord, error) {
	if resolution == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a resolution note is required")
	}

	var resolved *models.ConflictRecord
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		record, err := s.conflicts.FindByID(ctx, tx, conflictID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "conflict record not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conflict record")
		}

		now := time.Now().UTC()
		if err := s.conflicts.MarkResolved(ctx, tx, conflictID, resolvedBy, resolution, now); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrConflict, "conflict record is already resolved")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve conflict")
		}

		entry := models.AuditLogEntry{
			Action: models.AuditActionConflictResolved, PerformedBy: resolvedBy, Reason: resolution,
		}
		if record.StudentID != nil {
			entry.StudentID = *record.StudentID
		}
		if record.ClassID != nil {
			entry.ClassID = *record.ClassID
		}
		if err := s.audit.Append(ctx, tx, &entry); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit entry")
		}

		record.Status = models.ConflictStatusResolved
		record.ResolvedAt = &now
		record.ResolvedBy = &resolvedBy
		record.Resolution = &resolution
		resolved = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// ListOpen returns open conflicts for an institution.
func (s *ConflictService) ListOpen(ctx context.Context, institutionID string, page, pageSize int) ([]models.ConflictRecord, int, error) {
	records, total, err := s.conflicts.ListOpen(ctx, institutionID, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list conflicts")
	}
	return records, total, nil
}
