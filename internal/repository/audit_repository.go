package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// AuditRepository appends enrollment audit rows. The table is append-only;
// there are no update or delete statements here on purpose.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditInsert = `INSERT INTO enrollment_audit_logs
        (id, student_id, class_id, actor_id, action, previous_status, new_status, reason, metadata, idempotency_key, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (idempotency_key) DO NOTHING`

// Append writes one audit row. Retried writes with the same idempotency key
// are no-ops, giving at-least-once delivery without duplicate history.
func (r *AuditRepository) Append(ctx context.Context, log *models.EnrollmentAuditLog) error {
	prepareAuditRow(log)
	if _, err := r.db.ExecContext(ctx, auditInsert,
		log.ID, log.StudentID, log.ClassID, log.ActorID, log.Action,
		log.PreviousStatus, log.NewStatus, log.Reason, log.Metadata,
		log.IdempotencyKey, log.CreatedAt,
	); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// ListByEnrollment returns the transition history for a (student, class) pair
// in chronological order.
func (r *AuditRepository) ListByEnrollment(ctx context.Context, studentID, classID string) ([]models.EnrollmentAuditLog, error) {
	const query = `SELECT id, student_id, class_id, actor_id, action, previous_status, new_status, reason, metadata, idempotency_key, created_at
        FROM enrollment_audit_logs
        WHERE student_id = $1 AND class_id = $2
        ORDER BY created_at ASC, id ASC`
	var logs []models.EnrollmentAuditLog
	if err := r.db.SelectContext(ctx, &logs, query, studentID, classID); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

// PromotionStats counts historical waitlist joins and promotions for a class.
// Consumed only by the probability heuristic, never by admission decisions.
func (r *AuditRepository) PromotionStats(ctx context.Context, classID string) (joined, promoted int, err error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE action = $2) AS joined,
        COUNT(*) FILTER (WHERE action = $3) AS promoted
        FROM enrollment_audit_logs WHERE class_id = $1`
	row := struct {
		Joined   int `db:"joined"`
		Promoted int `db:"promoted"`
	}{}
	if err := r.db.GetContext(ctx, &row, query, classID, models.AuditActionWaitlist, models.AuditActionPromote); err != nil {
		return 0, 0, fmt.Errorf("promotion stats: %w", err)
	}
	return row.Joined, row.Promoted, nil
}

// appendAuditTx writes an audit row inside an existing transaction. Used by
// the enrollment repository to pair transitions with their audit anchor.
func appendAuditTx(ctx context.Context, tx *sqlx.Tx, log *models.EnrollmentAuditLog) error {
	prepareAuditRow(log)
	if _, err := tx.ExecContext(ctx, auditInsert,
		log.ID, log.StudentID, log.ClassID, log.ActorID, log.Action,
		log.PreviousStatus, log.NewStatus, log.Reason, log.Metadata,
		log.IdempotencyKey, log.CreatedAt,
	); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func prepareAuditRow(log *models.EnrollmentAuditLog) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if log.IdempotencyKey == "" {
		log.IdempotencyKey = models.AuditIdempotencyKey(log.StudentID, log.ClassID, log.CreatedAt, log.Action)
	}
}
