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

func newWaitlistMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

// Inserting ranks the entry by priority, shifts everything at or after the
// slot, and writes the row — all in one transaction.
func TestWaitlistRepositoryInsertRanksAndShifts(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) \+ 1 FROM waitlist_entries`).
		WithArgs("c1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(`UPDATE waitlist_entries SET position = position \+ 1`).
		WithArgs("c1", 2).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery("INSERT INTO waitlist_entries").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(11)))
	mock.ExpectCommit()

	entry := &models.WaitlistEntry{StudentID: "s1", ClassID: "c1", Priority: 5}
	position, err := repo.Insert(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, 2, position)
	assert.Equal(t, 2, entry.Position)
	assert.Equal(t, int64(11), entry.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Removing closes the gap so remaining positions stay dense 1..N.
func TestWaitlistRepositoryRemoveRenumbers(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM waitlist_entries").
		WithArgs("c1", "s2").
		WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(3))
	mock.ExpectExec(`UPDATE waitlist_entries SET position = position - 1`).
		WithArgs("c1", 3).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	removed, err := repo.Remove(context.Background(), "c1", "s2")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryRemoveAbsentEntry(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM waitlist_entries").
		WithArgs("c1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"position"}))
	mock.ExpectRollback()

	removed, err := repo.Remove(context.Background(), "c1", "ghost")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryTop(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "class_id", "position", "priority", "seq",
		"estimated_probability", "added_at", "notified_at", "notification_expires_at"}).
		AddRow("wl-1", "s1", "c1", 1, 0, int64(3), 0.5, now, nil, nil)
	mock.ExpectQuery("SELECT (.+) FROM waitlist_entries").
		WithArgs("c1").
		WillReturnRows(rows)

	entry, err := repo.Top(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "s1", entry.StudentID)
	assert.Equal(t, 1, entry.Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}
