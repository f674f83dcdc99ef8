package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
)

type memOverrides struct {
	requests map[string]*models.OverrideRequest
	nextID   int
}

func newMemOverrides() *memOverrides {
	return &memOverrides{requests: make(map[string]*models.OverrideRequest)}
}

func (m *memOverrides) Create(ctx context.Context, tx *sqlx.Tx, request *models.OverrideRequest) error {
	if request.ID == "" {
		m.nextID++
		request.ID = fmt.Sprintf("ovr-%d", m.nextID)
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	m.requests[request.ID] = request
	return nil
}

func (m *memOverrides) FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.OverrideRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r, nil
}

func (m *memOverrides) Decide(ctx context.Context, tx *sqlx.Tx, id string, status models.OverrideStatus, decidedBy string, at time.Time) error {
	r, ok := m.requests[id]
	if !ok || r.Status != models.OverrideStatusPending {
		return sql.ErrNoRows
	}
	r.Status = status
	r.ApprovedBy = &decidedBy
	r.DecidedAt = &at
	return nil
}

func (m *memOverrides) CountByRequesterSince(ctx context.Context, tx *sqlx.Tx, requestedBy string, since time.Time) (int, error) {
	count := 0
	for _, r := range m.requests {
		if r.RequestedBy == requestedBy && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memOverrides) ListPending(ctx context.Context, institutionID string, page, pageSize int) ([]models.OverrideRequest, int, error) {
	var pending []models.OverrideRequest
	for _, r := range m.requests {
		if r.Status == models.OverrideStatusPending && (institutionID == "" || r.InstitutionID == institutionID) {
			pending = append(pending, *r)
		}
	}
	return pending, len(pending), nil
}

type overrideFixture struct {
	store     *memStore
	overrides *memOverrides
	svc       *OverrideService
}

func newOverrideFixture(quotaPeriod time.Duration) *overrideFixture {
	store := newMemStore()
	overrides := newMemOverrides()
	capacity := NewCapacityService(&fakeTx{}, store, memEnrollments{store}, memWaitlist{store}, store,
		nil, nil, nil, nil, time.Hour, time.Minute)
	svc := NewOverrideService(&fakeTx{}, overrides, capacity, store, nil, quotaPeriod)
	return &overrideFixture{store: store, overrides: overrides, svc: svc}
}

func instructor() models.JWTClaims {
	return models.JWTClaims{UserID: "instructor-1", InstitutionID: "inst-1", Role: models.RoleInstructor}
}

func admin() models.JWTClaims {
	return models.JWTClaims{UserID: "admin-1", InstitutionID: "inst-1", Role: models.RoleAdmin}
}

func TestRequestOverrideRoleCapabilities(t *testing.T) {
	f := newOverrideFixture(0)
	ctx := context.Background()

	// Students have no override capability at all.
	student := models.JWTClaims{UserID: "student-1", InstitutionID: "inst-1", Role: models.RoleStudent}
	_, err := f.svc.RequestOverride(ctx, student, "class-1", "student-1", models.OverrideCapacity, "please")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Instructors may only request capacity overrides.
	_, err = f.svc.RequestOverride(ctx, instructor(), "class-1", "student-1", models.OverridePrerequisite, "missed one course")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	request, err := f.svc.RequestOverride(ctx, instructor(), "class-1", "student-1", models.OverrideCapacity, "strong candidate")
	require.NoError(t, err)
	assert.Equal(t, models.OverrideStatusPending, request.Status)
	assert.Equal(t, "instructor-1", request.RequestedBy)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionOverrideRequested))
}

func TestRequestOverrideRequiresJustification(t *testing.T) {
	f := newOverrideFixture(0)
	ctx := context.Background()

	_, err := f.svc.RequestOverride(ctx, admin(), "class-1", "student-1", models.OverrideDeadline, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	// Superadmins are exempt from the justification requirement.
	super := models.JWTClaims{UserID: "root-1", InstitutionID: "inst-1", Role: models.RoleSuperAdmin}
	_, err = f.svc.RequestOverride(ctx, super, "class-1", "student-1", models.OverrideDeadline, "")
	require.NoError(t, err)
}

func TestRequestOverrideQuotaExhaustion(t *testing.T) {
	f := newOverrideFixture(time.Hour)
	ctx := context.Background()

	// Instructors get five per period; denied requests count too.
	for i := 0; i < 5; i++ {
		request, err := f.svc.RequestOverride(ctx, instructor(), fmt.Sprintf("class-%d", i), "student-1", models.OverrideCapacity, "notes")
		require.NoError(t, err)
		if i == 0 {
			_, err = f.svc.DenyOverride(ctx, request.ID, admin(), "not warranted")
			require.NoError(t, err)
		}
	}

	_, err := f.svc.RequestOverride(ctx, instructor(), "class-6", "student-1", models.OverrideCapacity, "notes")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErrors.FromError(err).Code)
}

func TestRequestOverrideQuotaUnderConcurrentFilings(t *testing.T) {
	f := newOverrideFixture(time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	// Four of the instructor's five slots are already spent.
	for i := 0; i < 4; i++ {
		require.NoError(t, f.overrides.Create(ctx, nil, &models.OverrideRequest{
			StudentID: "student-1", ClassID: fmt.Sprintf("class-%d", i), InstitutionID: "inst-1",
			Type: models.OverrideCapacity, Status: models.OverrideStatusPending,
			RequestedBy: "instructor-1", Notes: "notes", CreatedAt: now,
		}))
	}

	const attempts = 10
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.svc.RequestOverride(ctx, instructor(), fmt.Sprintf("race-class-%d", n), "student-1", models.OverrideCapacity, "notes")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	granted, exhausted := 0, 0
	for err := range errs {
		if err == nil {
			granted++
			continue
		}
		require.Equal(t, appErrors.ErrQuotaExceeded.Code, appErrors.FromError(err).Code)
		exhausted++
	}

	// Exactly one filing claims the last slot.
	assert.Equal(t, 1, granted)
	assert.Equal(t, attempts-1, exhausted)
	assert.Len(t, f.overrides.requests, 5)
}

func TestApproveCapacityOverrideEnrollsPastCapacity(t *testing.T) {
	f := newOverrideFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeOpen, Capacity: 1,
	})
	f.store.enrollments = append(f.store.enrollments, &models.Enrollment{
		ID: "e-1", StudentID: "seated", ClassID: "class-1", InstitutionID: "inst-1",
		Status: models.EnrollmentStatusEnrolled,
	})
	ctx := context.Background()

	request, err := f.svc.RequestOverride(ctx, instructor(), "class-1", "student-1", models.OverrideCapacity, "senior thesis needs this")
	require.NoError(t, err)

	approved, allocation, err := f.svc.ApproveOverride(ctx, request.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, models.OverrideStatusApproved, approved.Status)
	require.NotNil(t, allocation)
	assert.Equal(t, models.OutcomeEnrolled, allocation.Outcome)

	count, err := f.store.CountEnrolled(ctx, nil, "class-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionOverrideApproved))
}

func TestApprovePrerequisiteOverrideCanWaitlist(t *testing.T) {
	f := newOverrideFixture(0)
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeRestricted, Capacity: 1,
		AllowWaitlist: true, WaitlistCapacity: 2,
	})
	f.store.enrollments = append(f.store.enrollments, &models.Enrollment{
		ID: "e-1", StudentID: "seated", ClassID: "class-1", InstitutionID: "inst-1",
		Status: models.EnrollmentStatusEnrolled,
	})
	ctx := context.Background()

	request, err := f.svc.RequestOverride(ctx, admin(), "class-1", "student-1", models.OverridePrerequisite, "transfer credit under review")
	require.NoError(t, err)

	approved, allocation, err := f.svc.ApproveOverride(ctx, request.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, models.OverrideStatusApproved, approved.Status)
	require.NotNil(t, allocation)
	assert.Equal(t, models.OutcomeWaitlisted, allocation.Outcome)
}

func TestApprovePrerequisiteOverrideFailsWhenNothingGranted(t *testing.T) {
	f := newOverrideFixture(0)
	// Full class, no waitlist: the allocation has nothing to grant.
	f.store.addConfig(models.ClassEnrollmentConfig{
		ClassID: "class-1", InstitutionID: "inst-1",
		EnrollmentMode: models.ModeRestricted, Capacity: 1,
	})
	f.store.enrollments = append(f.store.enrollments, &models.Enrollment{
		ID: "e-1", StudentID: "seated", ClassID: "class-1", InstitutionID: "inst-1",
		Status: models.EnrollmentStatusEnrolled,
	})
	ctx := context.Background()

	request, err := f.svc.RequestOverride(ctx, admin(), "class-1", "student-1", models.OverridePrerequisite, "transfer credit under review")
	require.NoError(t, err)

	_, _, err = f.svc.ApproveOverride(ctx, request.ID, admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.OverrideStatusPending, f.overrides.requests[request.ID].Status)
	assert.Zero(t, f.store.auditCount(models.AuditActionOverrideApproved))
}

func TestApproveDeadlineOverrideSkipsAllocation(t *testing.T) {
	f := newOverrideFixture(0)
	ctx := context.Background()

	request, err := f.svc.RequestOverride(ctx, admin(), "class-1", "student-1", models.OverrideDeadline, "documented emergency")
	require.NoError(t, err)

	approved, allocation, err := f.svc.ApproveOverride(ctx, request.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, models.OverrideStatusApproved, approved.Status)
	assert.Nil(t, allocation)
	assert.Empty(t, f.store.enrollments)
}

func TestApproveOverrideAlreadyDecided(t *testing.T) {
	f := newOverrideFixture(0)
	ctx := context.Background()

	request, err := f.svc.RequestOverride(ctx, admin(), "class-1", "student-1", models.OverrideDeadline, "emergency")
	require.NoError(t, err)
	_, err = f.svc.DenyOverride(ctx, request.ID, admin(), "insufficient evidence")
	require.NoError(t, err)

	_, _, err = f.svc.ApproveOverride(ctx, request.ID, admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDenyOverrideRequiresReason(t *testing.T) {
	f := newOverrideFixture(0)
	ctx := context.Background()

	request, err := f.svc.RequestOverride(ctx, admin(), "class-1", "student-1", models.OverrideDeadline, "emergency")
	require.NoError(t, err)

	_, err = f.svc.DenyOverride(ctx, request.ID, admin(), "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	denied, err := f.svc.DenyOverride(ctx, request.ID, admin(), "insufficient evidence")
	require.NoError(t, err)
	assert.Equal(t, models.OverrideStatusDenied, denied.Status)
	assert.Equal(t, 1, f.store.auditCount(models.AuditActionOverrideDenied))
}

func TestGetPolicyExposesCapabilityTable(t *testing.T) {
	f := newOverrideFixture(0)

	policy, ok := f.svc.GetPolicy(models.RoleInstructor)
	require.True(t, ok)
	assert.Equal(t, []models.OverrideType{models.OverrideCapacity}, policy.AllowedTypes)
	assert.Equal(t, 5, policy.MaxPerPeriod)
	assert.True(t, policy.RequiresJustification)

	_, ok = f.svc.GetPolicy(models.RoleStudent)
	assert.False(t, ok)
}
