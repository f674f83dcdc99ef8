package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestWaitlistRepositoryRemoveRenumbersTail(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM waitlist_entries WHERE id = $1")).
		WithArgs("wl-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE waitlist_entries SET position = position - 1 WHERE class_id = $1 AND position > $2")).
		WithArgs("class-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 3))

	entry := &models.WaitlistEntry{ID: "wl-2", ClassID: "class-1", Position: 2}
	err := repo.Remove(context.Background(), nil, entry)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryNextCandidateOrdering(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "class_id", "student_id", "institution_id", "position", "priority", "estimated_probability", "added_at", "notified_at", "notification_expires_at"}).
		AddRow("wl-1", "class-1", "stu-1", "inst-1", 1, 5, 0.9, now.Add(-time.Hour), nil, nil)
	mock.ExpectQuery("SELECT .+ FROM waitlist_entries\\s+WHERE class_id = \\$1 AND \\(notification_expires_at IS NULL OR notification_expires_at <= \\$2\\)\\s+ORDER BY priority DESC, added_at ASC LIMIT 1").
		WithArgs("class-1", now).
		WillReturnRows(rows)

	entry, err := repo.NextCandidate(context.Background(), nil, "class-1", now)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "stu-1", entry.StudentID)
	require.Equal(t, 5, entry.Priority)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryNextCandidateEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM waitlist_entries").
		WithArgs("class-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	entry, err := repo.NextCandidate(context.Background(), nil, "class-1", now)
	require.NoError(t, err)
	require.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryCountActiveHolds(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM waitlist_entries WHERE class_id = $1 AND notification_expires_at > $2")).
		WithArgs("class-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountActiveHolds(context.Background(), nil, "class-1", now)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryFindByPairAbsent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectQuery("SELECT .+ FROM waitlist_entries WHERE class_id = \\$1 AND student_id = \\$2").
		WithArgs("class-1", "stu-9").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	entry, err := repo.FindByPair(context.Background(), nil, "class-1", "stu-9")
	require.NoError(t, err)
	require.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}
