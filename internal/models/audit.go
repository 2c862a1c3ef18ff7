package models

import (
	"fmt"
	"time"
)

// AuditAction constants represent enrollment transitions to be logged.
const (
	AuditActionEnroll        = "ENROLL"
	AuditActionWaitlist      = "WAITLIST"
	AuditActionDeny          = "DENY"
	AuditActionDrop          = "DROP"
	AuditActionWithdraw      = "WITHDRAW"
	AuditActionComplete      = "COMPLETE"
	AuditActionPromote       = "PROMOTE"
	AuditActionExpire        = "EXPIRE"
	AuditActionWaitlistLeave = "WAITLIST_LEAVE"
	AuditActionOverride      = "OVERRIDE"
	AuditActionBulkEnroll    = "BULK_ENROLL"
	AuditActionReconcile     = "RECONCILE"
)

// AuditMetadata is the closed set of typed extension fields an audit row may
// carry. Extra holds genuinely opaque client metadata only.
type AuditMetadata struct {
	AppliedOverrides []AppliedOverride `json:"applied_overrides,omitempty"`
	Position         *int              `json:"position,omitempty"`
	BatchID          string            `json:"batch_id,omitempty"`
	DriftEnrolled    *int              `json:"drift_enrolled,omitempty"`
	DriftWaitlisted  *int              `json:"drift_waitlisted,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// EnrollmentAuditLog is one append-only row per status transition.
// Rows are never mutated or deleted.
type EnrollmentAuditLog struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	ClassID        string           `db:"class_id" json:"class_id"`
	ActorID        string           `db:"actor_id" json:"actor_id"`
	Action         string           `db:"action" json:"action"`
	PreviousStatus EnrollmentStatus `db:"previous_status" json:"previous_status"`
	NewStatus      EnrollmentStatus `db:"new_status" json:"new_status"`
	Reason         string           `db:"reason" json:"reason"`
	Metadata       []byte           `db:"metadata" json:"metadata,omitempty"`
	IdempotencyKey string           `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// AuditIdempotencyKey derives the key that makes retried audit writes no-ops.
func AuditIdempotencyKey(studentID, classID string, at time.Time, action string) string {
	return fmt.Sprintf("%s:%s:%d:%s", studentID, classID, at.UnixNano(), action)
}
