package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending    EnrollmentStatus = "PENDING"
	EnrollmentStatusEnrolled   EnrollmentStatus = "ENROLLED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusDenied     EnrollmentStatus = "DENIED"
	EnrollmentStatusDropped    EnrollmentStatus = "DROPPED"
	EnrollmentStatusWithdrawn  EnrollmentStatus = "WITHDRAWN"
	EnrollmentStatusCompleted  EnrollmentStatus = "COMPLETED"
	EnrollmentStatusExpired    EnrollmentStatus = "EXPIRED"
)

// IsActive reports whether the status counts against the one-active-record
// rule for a (student, class) pair.
func (s EnrollmentStatus) IsActive() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusEnrolled, EnrollmentStatusWaitlisted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s EnrollmentStatus) IsTerminal() bool {
	switch s {
	case EnrollmentStatusDenied, EnrollmentStatusDropped, EnrollmentStatusWithdrawn,
		EnrollmentStatusCompleted, EnrollmentStatusExpired:
		return true
	}
	return false
}

// Enrollment captures a student's registration attempt for a class.
// Historical records are retained; rows are never physically deleted.
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	ClassID          string           `db:"class_id" json:"class_id"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	Priority         int              `db:"priority" json:"priority"`
	Credits          int              `db:"credits" json:"credits"`
	Seq              int64            `db:"seq" json:"-"`
	EnrolledAt       *time.Time       `db:"enrolled_at" json:"enrolled_at,omitempty"`
	EnrolledBy       *string          `db:"enrolled_by" json:"enrolled_by,omitempty"`
	DropDeadline     *time.Time       `db:"drop_deadline" json:"drop_deadline,omitempty"`
	WithdrawDeadline *time.Time       `db:"withdraw_deadline" json:"withdraw_deadline,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ClassSeatCounts is the row-derived snapshot the capacity ledger works from.
type ClassSeatCounts struct {
	Enrolled   int `db:"enrolled" json:"enrolled"`
	Waitlisted int `db:"waitlisted" json:"waitlisted"`
}
