package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

func newEnrollmentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "class_id", "status", "priority", "credits", "seq",
		"enrolled_at", "enrolled_by", "drop_deadline", "withdraw_deadline", "created_at", "updated_at"}).
		AddRow("enr-1", "s1", "c1", "ENROLLED", 0, 3, int64(7), now, nil, nil, nil, now, now)
	mock.ExpectQuery("SELECT (.+) FROM enrollments").
		WithArgs("s1", "c1", "PENDING", "ENROLLED", "WAITLISTED").
		WillReturnRows(rows)

	enrollment, err := repo.FindActive(context.Background(), "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "enr-1", enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	assert.Equal(t, int64(7), enrollment.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySeatCounts(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"enrolled", "waitlisted"}).AddRow(28, 4)
	mock.ExpectQuery("SELECT(.+)FILTER").
		WithArgs("c1", "ENROLLED", "WAITLISTED").
		WillReturnRows(rows)

	counts, err := repo.SeatCounts(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 28, counts.Enrolled)
	assert.Equal(t, 4, counts.Waitlisted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateWithAuditIsTransactional(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO enrollments").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))
	mock.ExpectExec("INSERT INTO enrollment_audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{
		StudentID: "s1",
		ClassID:   "c1",
		Status:    models.EnrollmentStatusEnrolled,
	}
	log := &models.EnrollmentAuditLog{
		StudentID:      "s1",
		ClassID:        "c1",
		Action:         models.AuditActionEnroll,
		PreviousStatus: models.EnrollmentStatusPending,
		NewStatus:      models.EnrollmentStatusEnrolled,
	}
	err := repo.CreateWithAudit(context.Background(), enrollment, log)
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, int64(42), enrollment.Seq)
	assert.NotEmpty(t, log.IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryTransitionWithAudit(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollments").
		WithArgs("enr-1", "ENROLLED", "DROPPED", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO enrollment_audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	log := &models.EnrollmentAuditLog{
		StudentID:      "s1",
		ClassID:        "c1",
		Action:         models.AuditActionDrop,
		PreviousStatus: models.EnrollmentStatusEnrolled,
		NewStatus:      models.EnrollmentStatusDropped,
	}
	err := repo.TransitionWithAudit(context.Background(), "enr-1",
		models.EnrollmentStatusEnrolled, models.EnrollmentStatusDropped, TransitionUpdates{}, log)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A conditional update that matches no row must surface ErrStaleStatus so the
// caller can re-read and retry instead of silently losing the change.
func TestEnrollmentRepositoryTransitionStaleStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.TransitionWithAudit(context.Background(), "enr-1",
		models.EnrollmentStatusWaitlisted, models.EnrollmentStatusEnrolled, TransitionUpdates{}, nil)
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
