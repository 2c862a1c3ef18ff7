package dto

import "github.com/noah-isme/sma-enroll-api/internal/models"

// EnrollRequest asks to enroll one student into a class.
type EnrollRequest struct {
	StudentID     string                   `json:"student_id" validate:"required"`
	ClassID       string                   `json:"class_id" validate:"required"`
	Priority      int                      `json:"priority"`
	AllowWaitlist *bool                    `json:"allow_waitlist,omitempty"`
	Justification string                   `json:"justification,omitempty"`
	Overrides     []models.OverrideRequest `json:"overrides,omitempty"`
}

// WaitlistAllowed resolves the optional flag; waitlisting defaults to on.
func (r EnrollRequest) WaitlistAllowed() bool {
	return r.AllowWaitlist == nil || *r.AllowWaitlist
}

// EnrollmentDecision is the user-visible outcome of an admission request.
type EnrollmentDecision struct {
	Success     bool                      `json:"success"`
	StudentID   string                    `json:"student_id"`
	ClassID     string                    `json:"class_id"`
	Status      models.EnrollmentStatus   `json:"status,omitempty"`
	Message     string                    `json:"message"`
	NextSteps   []string                  `json:"next_steps,omitempty"`
	Position    *int                      `json:"waitlist_position,omitempty"`
	Probability *float64                  `json:"estimated_probability,omitempty"`
	Eligibility *models.EligibilityResult `json:"eligibility,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// BulkEnrollRequest enrolls a list of students into one class.
type BulkEnrollRequest struct {
	ClassID       string                   `json:"class_id" validate:"required"`
	StudentIDs    []string                 `json:"student_ids" validate:"required,min=1,dive,required"`
	AllowWaitlist *bool                    `json:"allow_waitlist,omitempty"`
	Overrides     []models.OverrideRequest `json:"overrides,omitempty"`
}

// WaitlistAllowed resolves the optional flag; waitlisting defaults to on.
func (r BulkEnrollRequest) WaitlistAllowed() bool {
	return r.AllowWaitlist == nil || *r.AllowWaitlist
}

// BulkEnrollmentResult reports per-student outcomes. Partial success is the
// expected shape; no entry is ever silently dropped from Items.
type BulkEnrollmentResult struct {
	BatchID    string               `json:"batch_id"`
	ClassID    string               `json:"class_id"`
	Total      int                  `json:"total"`
	Enrolled   int                  `json:"enrolled"`
	Waitlisted int                  `json:"waitlisted"`
	Rejected   int                  `json:"rejected"`
	Items      []EnrollmentDecision `json:"items"`
}

// StatusChangeRequest carries the reason for a drop or withdrawal.
type StatusChangeRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CapacityStatus summarises a class's seat usage for clients.
type CapacityStatus struct {
	ClassID          string `json:"class_id"`
	Capacity         int    `json:"capacity"`
	Enrolled         int    `json:"enrolled"`
	SeatsAvailable   int    `json:"seats_available"`
	WaitlistCapacity int    `json:"waitlist_capacity"`
	Waitlisted       int    `json:"waitlisted"`
}

// WaitlistPosition is the per-student waitlist view.
type WaitlistPosition struct {
	ClassID     string  `json:"class_id"`
	StudentID   string  `json:"student_id"`
	Position    int     `json:"position"`
	Probability float64 `json:"estimated_probability"`
}
