package models

import "time"

// EnrollmentType governs who may request enrollment into a class.
type EnrollmentType string

const (
	EnrollmentTypeOpen           EnrollmentType = "OPEN"
	EnrollmentTypeRestricted     EnrollmentType = "RESTRICTED"
	EnrollmentTypeInvitationOnly EnrollmentType = "INVITATION_ONLY"
)

// Class is the subject of enrollment. The engine reads it as an immutable
// snapshot per decision; config changes apply from the next request on.
type Class struct {
	ID           string    `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Name         string    `db:"name" json:"name"`
	DepartmentID string    `db:"department_id" json:"department_id"`
	Credits      int       `db:"credits" json:"credits"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`

	Config ClassEnrollmentConfig `json:"config"`
}

// ClassEnrollmentConfig holds the admission parameters for a class.
// Owned externally; read-only inside the engine.
type ClassEnrollmentConfig struct {
	Capacity              int            `db:"capacity" json:"capacity"`
	WaitlistCapacity      int            `db:"waitlist_capacity" json:"waitlist_capacity"`
	EnrollmentType        EnrollmentType `db:"enrollment_type" json:"enrollment_type"`
	AutoApprove           bool           `db:"auto_approve" json:"auto_approve"`
	RequiresJustification bool           `db:"requires_justification" json:"requires_justification"`
	EnrollmentStart       *time.Time     `db:"enrollment_start" json:"enrollment_start,omitempty"`
	EnrollmentEnd         *time.Time     `db:"enrollment_end" json:"enrollment_end,omitempty"`
	DropDeadline          *time.Time     `db:"drop_deadline" json:"drop_deadline,omitempty"`
	WithdrawDeadline      *time.Time     `db:"withdraw_deadline" json:"withdraw_deadline,omitempty"`
}
