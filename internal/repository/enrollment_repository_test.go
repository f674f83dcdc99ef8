package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

func TestEnrollmentRepositoryCountEnrolled(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = $2")).
		WithArgs("class-1", models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(28))

	count, err := repo.CountEnrolled(context.Background(), nil, "class-1")
	require.NoError(t, err)
	require.Equal(t, 28, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindActivePair(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "class_id", "institution_id", "status", "enrolled_by", "enrolled_at", "dropped_at", "completed_at", "created_at", "updated_at"}).
		AddRow("enr-1", "stu-1", "class-1", "inst-1", models.EnrollmentStatusWaitlisted, "stu-1", now, nil, nil, now, now)
	mock.ExpectQuery("SELECT .+ FROM enrollments WHERE student_id = \\$1 AND class_id = \\$2 AND status IN \\(\\$3, \\$4\\) LIMIT 1").
		WithArgs("stu-1", "class-1", models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted).
		WillReturnRows(rows)

	enrollment, err := repo.FindActivePair(context.Background(), nil, "stu-1", "class-1")
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	require.Equal(t, models.EnrollmentStatusWaitlisted, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindActivePairAbsent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("SELECT .+ FROM enrollments WHERE student_id = \\$1 AND class_id = \\$2 AND status IN").
		WithArgs("stu-1", "class-1", models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	enrollment, err := repo.FindActivePair(context.Background(), nil, "stu-1", "class-1")
	require.NoError(t, err)
	require.Nil(t, enrollment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkDropped(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	droppedAt := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, dropped_at = $3, updated_at = $3 WHERE id = $1")).
		WithArgs("enr-1", models.EnrollmentStatusDropped, droppedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkDropped(context.Background(), nil, "enr-1", droppedAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "class_id", "institution_id", "status", "enrolled_by", "enrolled_at", "dropped_at", "completed_at", "created_at", "updated_at"}).
		AddRow("enr-1", "stu-1", "class-1", "inst-1", models.EnrollmentStatusEnrolled, "admin-1", now, nil, nil, now, now)
	mock.ExpectQuery("SELECT .+ FROM enrollments WHERE student_id = \\$1 AND status = \\$2 ORDER BY enrolled_at DESC LIMIT 20 OFFSET 0").
		WithArgs("stu-1", models.EnrollmentStatusEnrolled).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND status = $2")).
		WithArgs("stu-1", models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	enrollments, total, err := repo.List(context.Background(), models.EnrollmentFilter{
		StudentID: "stu-1",
		Status:    models.EnrollmentStatusEnrolled,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, enrollments, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
