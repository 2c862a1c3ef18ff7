package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

func newAuditMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAuditRepositoryAppendFillsKeyAndTimestamps(t *testing.T) {
	db, mock, cleanup := newAuditMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO enrollment_audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.EnrollmentAuditLog{
		StudentID:      "s1",
		ClassID:        "c1",
		ActorID:        "registrar-1",
		Action:         models.AuditActionWaitlist,
		PreviousStatus: models.EnrollmentStatusPending,
		NewStatus:      models.EnrollmentStatusWaitlisted,
	}
	err := repo.Append(context.Background(), log)
	require.NoError(t, err)
	assert.NotEmpty(t, log.ID)
	assert.NotEmpty(t, log.IdempotencyKey)
	assert.False(t, log.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A retried write with the same key conflicts and affects zero rows; that is
// success, not an error.
func TestAuditRepositoryAppendIdempotent(t *testing.T) {
	db, mock, cleanup := newAuditMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO enrollment_audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	log := &models.EnrollmentAuditLog{
		StudentID:      "s1",
		ClassID:        "c1",
		Action:         models.AuditActionPromote,
		IdempotencyKey: "s1:c1:1700000000000000000:PROMOTE",
	}
	err := repo.Append(context.Background(), log)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryPromotionStats(t *testing.T) {
	db, mock, cleanup := newAuditMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	rows := sqlmock.NewRows([]string{"joined", "promoted"}).AddRow(20, 8)
	mock.ExpectQuery("SELECT(.+)FILTER").
		WithArgs("c1", models.AuditActionWaitlist, models.AuditActionPromote).
		WillReturnRows(rows)

	joined, promoted, err := repo.PromotionStats(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 20, joined)
	assert.Equal(t, 8, promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
