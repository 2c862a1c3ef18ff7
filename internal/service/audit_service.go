package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	"github.com/noah-isme/sma-enroll-api/pkg/jobs"
)

type auditStore interface {
	Append(ctx context.Context, log *models.EnrollmentAuditLog) error
	ListByEnrollment(ctx context.Context, studentID, classID string) ([]models.EnrollmentAuditLog, error)
}

// AuditRecorder appends enrollment audit rows without blocking the decision
// path. Transition anchors are written transactionally by the enrollment
// repository; this recorder handles the supplementary records (override
// grants, batch summaries, reconciliation findings) with at-least-once
// delivery — the idempotency key makes retried writes no-ops.
type AuditRecorder struct {
	store  auditStore
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditRecorder constructs the recorder and its worker queue.
func NewAuditRecorder(store auditStore, queueCfg jobs.QueueConfig, logger *zap.Logger) *AuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := &AuditRecorder{store: store, logger: logger}
	recorder.queue = jobs.NewQueue("audit", recorder.handle, queueCfg)
	return recorder
}

// Start launches the background workers.
func (r *AuditRecorder) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop drains the workers.
func (r *AuditRecorder) Stop() {
	r.queue.Stop()
}

// Record enqueues an audit row. Fire-and-forget: a full queue is logged, it
// never fails the transition that produced the record.
func (r *AuditRecorder) Record(action, studentID, classID, actorID string, previous, next models.EnrollmentStatus, reason string, metadata models.AuditMetadata) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		payload = nil
	}
	now := time.Now().UTC()
	log := &models.EnrollmentAuditLog{
		StudentID:      studentID,
		ClassID:        classID,
		ActorID:        actorID,
		Action:         action,
		PreviousStatus: previous,
		NewStatus:      next,
		Reason:         reason,
		Metadata:       payload,
		IdempotencyKey: models.AuditIdempotencyKey(studentID, classID, now, action),
		CreatedAt:      now,
	}
	job := jobs.Job{
		ID:      log.IdempotencyKey,
		Type:    action,
		Payload: log,
	}
	if err := r.queue.TryEnqueue(job); err != nil {
		r.logger.Error("audit record dropped",
			zap.String("action", action),
			zap.String("student_id", studentID),
			zap.String("class_id", classID),
			zap.Error(err))
	}
}

// History returns the transition trail for a (student, class) pair.
func (r *AuditRecorder) History(ctx context.Context, studentID, classID string) ([]models.EnrollmentAuditLog, error) {
	return r.store.ListByEnrollment(ctx, studentID, classID)
}

func (r *AuditRecorder) handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.EnrollmentAuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	return r.store.Append(ctx, log)
}
