package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
)

// memRequests fakes the enrollment request repository with guarded
// transitions: pending is the only state a decision or expiry can leave.
type memRequests struct {
	requests map[string]*models.EnrollmentRequest
	nextID   int
}

func newMemRequests() *memRequests {
	return &memRequests{requests: make(map[string]*models.EnrollmentRequest)}
}

func (m *memRequests) add(request models.EnrollmentRequest) *models.EnrollmentRequest {
	if request.ID == "" {
		m.nextID++
		request.ID = fmt.Sprintf("req-%d", m.nextID)
	}
	m.requests[request.ID] = &request
	return &request
}

func (m *memRequests) Create(ctx context.Context, tx *sqlx.Tx, request *models.EnrollmentRequest) error {
	if request.ID == "" {
		m.nextID++
		request.ID = fmt.Sprintf("req-%d", m.nextID)
	}
	m.requests[request.ID] = request
	return nil
}

func (m *memRequests) FindPendingPair(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.EnrollmentRequest, error) {
	for _, r := range m.requests {
		if r.StudentID == studentID && r.ClassID == classID && r.Status == models.RequestStatusPending {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memRequests) FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.EnrollmentRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r, nil
}

func (m *memRequests) MarkExpired(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	r, ok := m.requests[id]
	if !ok || r.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	r.Status = models.RequestStatusExpired
	r.ReviewedAt = &at
	return nil
}

func (m *memRequests) Decide(ctx context.Context, tx *sqlx.Tx, id string, status models.RequestStatus, reviewedBy, notes string, reviewedAt time.Time) error {
	r, ok := m.requests[id]
	if !ok || r.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	r.Status = status
	r.ReviewedBy = &reviewedBy
	r.ReviewNotes = &notes
	r.ReviewedAt = &reviewedAt
	return nil
}

func (m *memRequests) ListPending(ctx context.Context, institutionID string, page, pageSize int) ([]models.EnrollmentRequest, int, error) {
	var pending []models.EnrollmentRequest
	for _, r := range m.requests {
		if r.Status == models.RequestStatusPending && (institutionID == "" || r.InstitutionID == institutionID) {
			pending = append(pending, *r)
		}
	}
	return pending, len(pending), nil
}

// memFacts fakes the student academic record lookup.
type memFacts struct {
	facts map[string]*models.StudentFacts
}

func newMemFacts() *memFacts {
	return &memFacts{facts: make(map[string]*models.StudentFacts)}
}

func (m *memFacts) put(facts models.StudentFacts) {
	m.facts[facts.StudentID] = &facts
}

func (m *memFacts) GetFacts(ctx context.Context, studentID string) (*models.StudentFacts, error) {
	facts, ok := m.facts[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return facts, nil
}

type enrollFixture struct {
	store    *memStore
	requests *memRequests
	facts    *memFacts
	notifier *fakeNotifier
	capacity *CapacityService
	svc      *EnrollmentService
}

func newEnrollFixture(bulkMax int) *enrollFixture {
	store := newMemStore()
	requests := newMemRequests()
	facts := newMemFacts()
	notifier := &fakeNotifier{}
	capacity := NewCapacityService(&fakeTx{}, store, memEnrollments{store}, memWaitlist{store}, store,
		nil, nil, notifier, nil, time.Hour, time.Minute)
	svc := NewEnrollmentService(&fakeTx{}, store, memEnrollments{store}, requests, facts,
		NewRulesService(), capacity, store, notifier, nil, time.Hour, bulkMax)
	return &enrollFixture{store: store, requests: requests, facts: facts, notifier: notifier, capacity: capacity, svc: svc}
}

func (f *enrollFixture) addStudent(studentID string) {
	f.facts.put(models.StudentFacts{
		StudentID: studentID, InstitutionID: "inst-1",
		Major: "Computer Science", Department: "Engineering", Year: 3, GPA: 3.2,
	})
}

func TestRequestEnrollmentOpenModeEnrolls(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeOpen, Capacity: 2,
	})
	f.addStudent("student-1")

	decision, err := f.svc.RequestEnrollment(context.Background(), "class-1", "student-1", "student-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StateEnrolled, decision.State)
	assert.False(t, decision.Existing)
	require.NotNil(t, decision.Allocation)
	assert.Equal(t, models.OutcomeEnrolled, decision.Allocation.Outcome)

	assert.Equal(t, 1, f.store.auditCount(models.AuditActionRequested))
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionEnrolled))
}

func TestRequestEnrollmentIsIdempotent(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeOpen, Capacity: 2,
	})
	f.addStudent("student-1")
	ctx := context.Background()

	first, err := f.svc.RequestEnrollment(ctx, "class-1", "student-1", "student-1", "")
	require.NoError(t, err)
	require.Equal(t, models.StateEnrolled, first.State)

	second, err := f.svc.RequestEnrollment(ctx, "class-1", "student-1", "student-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StateEnrolled, second.State)
	assert.True(t, second.Existing)

	// No duplicate records or audit entries from the repeat.
	assert.Len(t, f.store.enrollments, 1)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionEnrolled))
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionRequested))
}

func TestRequestEnrollmentIneligibleStudent(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeOpen, Capacity: 2,
	})
	f.store.prereqs["class-1"] = []models.Prerequisite{
		{Type: models.PrerequisiteGPA, Requirement: "3.8", Strict: true},
	}
	f.addStudent("student-1")

	decision, err := f.svc.RequestEnrollment(context.Background(), "class-1", "student-1", "student-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StateEligibilityFailed, decision.State)
	require.NotEmpty(t, decision.Reasons)

	assert.Empty(t, f.store.enrollments)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionEligibilityFailed))
}

func TestRequestEnrollmentUnknownClassAndStudent(t *testing.T) {
	f := newEnrollFixture(0)
	f.addStudent("student-1")
	ctx := context.Background()

	_, err := f.svc.RequestEnrollment(ctx, "ghost-class", "student-1", "student-1", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeOpen, Capacity: 2,
	})
	_, err = f.svc.RequestEnrollment(ctx, "class-1", "ghost-student", "ghost-student", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRequestEnrollmentRestrictedCreatesPendingRequest(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeRestricted, Capacity: 2,
		RequiresJustification: true,
	})
	f.addStudent("student-1")
	ctx := context.Background()

	_, err := f.svc.RequestEnrollment(ctx, "class-1", "student-1", "student-1", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	decision, err := f.svc.RequestEnrollment(ctx, "class-1", "student-1", "student-1", "I need this for my degree plan")
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingApproval, decision.State)
	require.NotNil(t, decision.Request)
	assert.Equal(t, models.RequestStatusPending, decision.Request.Status)
	assert.Equal(t, decision.Request.RequestedAt.Add(time.Hour), decision.Request.ExpiresAt)

	assert.Equal(t, []string{"student-1"}, f.notifier.submitted)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionPendingApproval))
	assert.Empty(t, f.store.enrollments)

	// Re-requesting while pending returns the same request.
	repeat, err := f.svc.RequestEnrollment(ctx, "class-1", "student-1", "student-1", "again")
	require.NoError(t, err)
	assert.True(t, repeat.Existing)
	assert.Equal(t, decision.Request.ID, repeat.Request.ID)
	assert.Len(t, f.requests.requests, 1)
	assert.Equal(t, []string{"student-1"}, f.notifier.submitted)
}

func TestRequestEnrollmentRestrictedAutoApprove(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeRestricted, Capacity: 2,
		AutoApprove: true,
	})
	f.addStudent("student-1")

	decision, err := f.svc.RequestEnrollment(context.Background(), "class-1", "student-1", "student-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StateEnrolled, decision.State)
	assert.Empty(t, f.requests.requests)
}

func TestRequestEnrollmentInvitationRequired(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeInvitationOnly, Capacity: 2,
	})
	f.addStudent("student-1")

	decision, err := f.svc.RequestEnrollment(context.Background(), "class-1", "student-1", "student-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StateRejected, decision.State)
	require.NotNil(t, decision.Allocation)
	assert.Equal(t, models.RejectionInvitationRequired, decision.Allocation.Reason)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionRejected))
	assert.Empty(t, f.store.enrollments)
}

func TestRequestEnrollmentConsumesInvitation(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeInvitationOnly, Capacity: 2,
	})
	f.addStudent("student-1")
	f.store.invitations = append(f.store.invitations, &models.Invitation{
		ID: "inv-1", ClassID: "class-1", StudentID: "student-1", InvitedBy: "instructor-1",
		Status: models.InvitationPending, ExpiresAt: time.Now().UTC().Add(time.Hour),
	})

	decision, err := f.svc.RequestEnrollment(context.Background(), "class-1", "student-1", "student-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StateEnrolled, decision.State)
	assert.Equal(t, models.InvitationAccepted, f.store.invitations[0].Status)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionInvitationAccepted))
}

func TestRequestEnrollmentFinalizesLapsedPending(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeOpen, Capacity: 2,
	})
	f.addStudent("student-1")
	now := time.Now().UTC()
	stale := f.requests.add(models.EnrollmentRequest{
		StudentID: "student-1", ClassID: "class-1", InstitutionID: "inst-1",
		Status: models.RequestStatusPending, RequestedAt: now.Add(-48 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	})

	decision, err := f.svc.RequestEnrollment(context.Background(), "class-1", "student-1", "student-1", "")
	require.NoError(t, err)

	// The stale request is finalized and the flow continues to a fresh seat.
	assert.Equal(t, models.StateEnrolled, decision.State)
	assert.False(t, decision.Existing)
	assert.Equal(t, models.RequestStatusExpired, f.requests.requests[stale.ID].Status)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionExpired))
}

// orderedConfigs and orderedEnrollments record the relative order of the
// class-lock acquisition and the duplicate checks inside the transaction.
type orderedConfigs struct {
	*memStore
	calls *[]string
}

func (s orderedConfigs) FindForUpdate(ctx context.Context, tx *sqlx.Tx, classID string) (*models.ClassEnrollmentConfig, error) {
	*s.calls = append(*s.calls, "class-lock")
	return s.memStore.FindForUpdate(ctx, tx, classID)
}

type orderedEnrollments struct {
	memEnrollments
	calls *[]string
}

func (s orderedEnrollments) FindActivePair(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.Enrollment, error) {
	*s.calls = append(*s.calls, "duplicate-check")
	return s.memEnrollments.FindActivePair(ctx, tx, studentID, classID)
}

func TestRequestEnrollmentLocksClassBeforeDuplicateCheck(t *testing.T) {
	store := newMemStore()
	var calls []string
	configs := orderedConfigs{memStore: store, calls: &calls}
	enrollments := orderedEnrollments{memEnrollments: memEnrollments{store}, calls: &calls}
	requests := newMemRequests()
	facts := newMemFacts()
	notifier := &fakeNotifier{}
	capacity := NewCapacityService(&fakeTx{}, store, memEnrollments{store}, memWaitlist{store}, store,
		nil, nil, notifier, nil, time.Hour, time.Minute)
	svc := NewEnrollmentService(&fakeTx{}, configs, enrollments, requests, facts,
		NewRulesService(), capacity, store, notifier, nil, time.Hour, 0)

	store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeInvitationOnly, Capacity: 2,
	})
	facts.put(models.StudentFacts{
		StudentID: "student-1", InstitutionID: "inst-1",
		Major: "Computer Science", Department: "Engineering", Year: 3, GPA: 3.2,
	})
	ctx := context.Background()

	// Without the lock first, two requests for the same pair could both pass
	// the duplicate check and both insert.
	_, err := svc.RequestEnrollment(ctx, "class-1", "student-1", "student-1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"class-lock", "duplicate-check"}, calls)

	calls = nil
	store.invitations = append(store.invitations, &models.Invitation{
		ID: "inv-1", ClassID: "class-1", StudentID: "student-1", InvitedBy: "instructor-1",
		Status: models.InvitationPending, ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	_, err = svc.AcceptInvitation(ctx, "class-1", "student-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"class-lock", "duplicate-check"}, calls)
}

func TestAcceptInvitationFlow(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeInvitationOnly, Capacity: 2,
	})
	f.addStudent("student-1")
	ctx := context.Background()

	_, err := f.svc.AcceptInvitation(ctx, "class-1", "student-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	f.store.invitations = append(f.store.invitations, &models.Invitation{
		ID: "inv-1", ClassID: "class-1", StudentID: "student-1", InvitedBy: "instructor-1",
		Status: models.InvitationPending, ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	decision, err := f.svc.AcceptInvitation(ctx, "class-1", "student-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateEnrolled, decision.State)

	// A second redeem returns the existing enrollment.
	repeat, err := f.svc.AcceptInvitation(ctx, "class-1", "student-1")
	require.NoError(t, err)
	assert.True(t, repeat.Existing)
}

func TestBulkEnrollReportsMixedOutcomes(t *testing.T) {
	f := newEnrollFixture(10)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeOpen, Capacity: 1,
		AllowWaitlist: true, WaitlistCapacity: 1,
	})
	for _, studentID := range []string{"s1", "s2", "s3"} {
		f.addStudent(studentID)
	}
	// s4 has no academic record on file.

	result, err := f.svc.BulkEnroll(context.Background(), "class-1", []string{"s1", "s2", "s3", "s4"}, "admin-1")
	require.NoError(t, err)
	require.Len(t, result.Items, 4)

	assert.Equal(t, 1, result.Enrolled)
	assert.Equal(t, 1, result.Waitlisted)
	assert.Equal(t, 0, result.Pending)
	assert.Equal(t, 2, result.Failed)

	assert.Equal(t, models.StateEnrolled, result.Items[0].State)
	assert.Equal(t, models.StateWaitlisted, result.Items[1].State)
	assert.Equal(t, models.StateRejected, result.Items[2].State)
	assert.NotEmpty(t, result.Items[3].Error)
}

func TestBulkEnrollValidatesBatch(t *testing.T) {
	f := newEnrollFixture(2)
	ctx := context.Background()

	_, err := f.svc.BulkEnroll(ctx, "class-1", nil, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.BulkEnroll(ctx, "class-1", []string{"s1", "s2", "s3"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDropStudentHonorsDeadline(t *testing.T) {
	f := newEnrollFixture(0)
	deadline := time.Now().UTC().Add(-time.Hour)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeOpen, Capacity: 1,
		AllowWaitlist: true, WaitlistCapacity: 2,
		DropDeadline: &deadline,
	})
	f.addStudent("student-1")
	f.addStudent("student-2")
	ctx := context.Background()

	_, err := f.svc.RequestEnrollment(ctx, "class-1", "student-1", "student-1", "")
	require.NoError(t, err)
	_, err = f.svc.RequestEnrollment(ctx, "class-1", "student-2", "student-2", "")
	require.NoError(t, err)

	student := models.JWTClaims{UserID: "student-1", InstitutionID: "inst-1", Role: models.RoleStudent}
	err = f.svc.DropStudent(ctx, "class-1", "student-1", "changed my mind", student)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	// Staff can drop past the deadline, and the vacancy is offered onward.
	admin := models.JWTClaims{UserID: "admin-1", InstitutionID: "inst-1", Role: models.RoleAdmin}
	require.NoError(t, f.svc.DropStudent(ctx, "class-1", "student-1", "administrative removal", admin))
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionDropped))
	assert.Equal(t, []string{"student-2"}, f.notifier.promotions)
}

func TestCompleteEnrollment(t *testing.T) {
	f := newEnrollFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeOpen, Capacity: 2,
	})
	f.addStudent("student-1")
	ctx := context.Background()

	_, err := f.svc.RequestEnrollment(ctx, "class-1", "student-1", "student-1", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.CompleteEnrollment(ctx, "class-1", "student-1", "instructor-1"))
	assert.Equal(t, models.EnrollmentStatusCompleted, f.store.enrollments[0].Status)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionCompleted))

	err = f.svc.CompleteEnrollment(ctx, "class-1", "student-2", "instructor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}
