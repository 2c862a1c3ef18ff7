package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// ErrStaleStatus signals that a conditional status update matched no row,
// i.e. the stored status no longer equals the expected prior state.
var ErrStaleStatus = errors.New("enrollment status changed concurrently")

// EnrollmentRepository handles persistence of enrollment records.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, class_id, status, priority, credits, seq,
        enrolled_at, enrolled_by, drop_deadline, withdraw_deadline, created_at, updated_at`

// FindActive returns the single active record for a (student, class) pair.
// At most one such record exists at any time.
func (r *EnrollmentRepository) FindActive(ctx context.Context, studentID, classID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE student_id = $1 AND class_id = $2 AND status IN ($3, $4, $5)`, enrollmentColumns)
	var enrollment models.Enrollment
	err := r.db.GetContext(ctx, &enrollment, query, studentID, classID,
		models.EnrollmentStatusPending, models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":  "created_at",
		"enrolled_at": "enrolled_at",
		"priority":    "priority",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		enrollmentColumns, clause, orderBy, order, size, offset)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM enrollments" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// SeatCounts derives the authoritative seat usage from active rows.
func (r *EnrollmentRepository) SeatCounts(ctx context.Context, classID string) (models.ClassSeatCounts, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status = $2) AS enrolled,
        COUNT(*) FILTER (WHERE status = $3) AS waitlisted
        FROM enrollments WHERE class_id = $1`
	var counts models.ClassSeatCounts
	err := r.db.GetContext(ctx, &counts, query, classID,
		models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return models.ClassSeatCounts{}, fmt.Errorf("count class seats: %w", err)
	}
	return counts, nil
}

// CreateWithAudit inserts a new enrollment row and its audit anchor in one
// transaction, so neither exists without the other.
func (r *EnrollmentRepository) CreateWithAudit(ctx context.Context, enrollment *models.Enrollment, log *models.EnrollmentAuditLog) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create enrollment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO enrollments
        (id, student_id, class_id, status, priority, credits, enrolled_at, enrolled_by,
         drop_deadline, withdraw_deadline, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING seq`
	err = tx.QueryRowxContext(ctx, insert,
		enrollment.ID, enrollment.StudentID, enrollment.ClassID, enrollment.Status,
		enrollment.Priority, enrollment.Credits, enrollment.EnrolledAt, enrollment.EnrolledBy,
		enrollment.DropDeadline, enrollment.WithdrawDeadline, enrollment.CreatedAt, enrollment.UpdatedAt,
	).Scan(&enrollment.Seq)
	if err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}

	if log != nil {
		if err := appendAuditTx(ctx, tx, log); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create enrollment: %w", err)
	}
	return nil
}

// TransitionUpdates carries the column changes accompanying a transition.
type TransitionUpdates struct {
	EnrolledAt *time.Time
	EnrolledBy *string
}

// TransitionWithAudit performs the optimistic status change and appends the
// audit row in one transaction. Returns ErrStaleStatus when the stored status
// no longer matches expected.
func (r *EnrollmentRepository) TransitionWithAudit(ctx context.Context, id string, expected, next models.EnrollmentStatus, updates TransitionUpdates, log *models.EnrollmentAuditLog) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const update = `UPDATE enrollments
        SET status = $3,
            enrolled_at = COALESCE($4, enrolled_at),
            enrolled_by = COALESCE($5, enrolled_by),
            updated_at = $6
        WHERE id = $1 AND status = $2`
	res, err := tx.ExecContext(ctx, update, id, expected, next,
		updates.EnrolledAt, updates.EnrolledBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition enrollment: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}

	if log != nil {
		if err := appendAuditTx(ctx, tx, log); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}
