package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/pkg/jobs"
)

// Notification job types.
const (
	NotifyTypePromotion        = "waitlist.promotion"
	NotifyTypeRequestSubmitted = "approval.submitted"
	NotifyTypeApproval         = "approval.approved"
	NotifyTypeDenial           = "approval.denied"
)

// NotificationPayload is the body of one queued notification.
type NotificationPayload struct {
	ClassID   string    `json:"class_id"`
	StudentID string    `json:"student_id"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Sender delivers one notification. The engine itself only queues; delivery
// transport (mail, push) lives behind this interface.
type Sender interface {
	Send(ctx context.Context, notifyType string, payload NotificationPayload) error
}

// LogSender writes notifications to the structured log. Stands in until a
// delivery transport is wired up.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a log-backed sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the notification.
func (s *LogSender) Send(_ context.Context, notifyType string, payload NotificationPayload) error {
	s.logger.Info("notification",
		zap.String("type", notifyType),
		zap.String("class_id", payload.ClassID),
		zap.String("student_id", payload.StudentID),
		zap.String("reason", payload.Reason))
	return nil
}

// NotificationService fans enrollment events out to students through a
// background queue. Enqueue failures are logged and dropped: notifications
// are best-effort and never block or fail a state transition.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService builds the service and its queue.
func NewNotificationService(sender Sender, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{logger: logger}
	s.queue = jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(NotificationPayload)
		if !ok {
			logger.Warn("notification job has unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		return sender.Send(ctx, job.Type, payload)
	}, cfg)
	return s
}

// Start launches the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyPromotion tells a student their seat hold is open.
func (s *NotificationService) NotifyPromotion(classID, studentID string, expiresAt time.Time) {
	s.enqueue(NotifyTypePromotion, NotificationPayload{ClassID: classID, StudentID: studentID, ExpiresAt: expiresAt})
}

// NotifyRequestSubmitted confirms a pending approval request.
func (s *NotificationService) NotifyRequestSubmitted(classID, studentID string) {
	s.enqueue(NotifyTypeRequestSubmitted, NotificationPayload{ClassID: classID, StudentID: studentID})
}

// NotifyApproval tells a student their request was approved.
func (s *NotificationService) NotifyApproval(classID, studentID string) {
	s.enqueue(NotifyTypeApproval, NotificationPayload{ClassID: classID, StudentID: studentID})
}

// NotifyDenial tells a student their request was denied and why.
func (s *NotificationService) NotifyDenial(classID, studentID, reason string) {
	s.enqueue(NotifyTypeDenial, NotificationPayload{ClassID: classID, StudentID: studentID, Reason: reason})
}

func (s *NotificationService) enqueue(notifyType string, payload NotificationPayload) {
	job := jobs.Job{ID: uuid.NewString(), Type: notifyType, Payload: payload}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("type", notifyType),
			zap.String("class_id", payload.ClassID),
			zap.String("student_id", payload.StudentID),
			zap.Error(err))
	}
}
