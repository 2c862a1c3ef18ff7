package models

import "time"

// PrerequisiteType enumerates the supported prerequisite predicates.
type PrerequisiteType string

const (
	PrerequisiteCourseCompletion PrerequisiteType = "COURSE_COMPLETION"
	PrerequisiteMinGrade         PrerequisiteType = "MIN_GRADE"
	PrerequisiteMinGPA           PrerequisiteType = "MIN_GPA"
	PrerequisiteYearLevel        PrerequisiteType = "YEAR_LEVEL"
	PrerequisiteMajor            PrerequisiteType = "MAJOR"
	PrerequisiteDepartment       PrerequisiteType = "DEPARTMENT"
	PrerequisiteInstitution      PrerequisiteType = "INSTITUTION"
	PrerequisiteCustom           PrerequisiteType = "CUSTOM"
)

// ClassPrerequisite is a typed predicate a student must satisfy.
// Strict prerequisites fail with error severity and cannot be overridden.
type ClassPrerequisite struct {
	ID       string           `db:"id" json:"id"`
	ClassID  string           `db:"class_id" json:"class_id"`
	Type     PrerequisiteType `db:"type" json:"type"`
	CourseID string           `db:"course_id" json:"course_id,omitempty"`
	MinGrade float64          `db:"min_grade" json:"min_grade,omitempty"`
	MinGPA   float64          `db:"min_gpa" json:"min_gpa,omitempty"`
	Value    string           `db:"value" json:"value,omitempty"`
	Strict   bool             `db:"strict" json:"strict"`
}

// EnrollmentRestriction limits who may enroll, evaluated as a conjunction
// with prerequisites. Non-overridable restrictions are hard failures.
type EnrollmentRestriction struct {
	ID          string           `db:"id" json:"id"`
	ClassID     string           `db:"class_id" json:"class_id"`
	Type        PrerequisiteType `db:"type" json:"type"`
	Value       string           `db:"value" json:"value"`
	Overridable bool             `db:"overridable" json:"overridable"`
}

// ReasonType classifies an eligibility reason.
type ReasonType string

const (
	ReasonPrerequisite ReasonType = "prerequisite"
	ReasonRestriction  ReasonType = "restriction"
	ReasonCapacity     ReasonType = "capacity"
	ReasonDeadline     ReasonType = "deadline"
	ReasonPermission   ReasonType = "permission"
)

// ReasonSeverity grades how blocking a reason is.
type ReasonSeverity string

const (
	SeverityError   ReasonSeverity = "error"
	SeverityWarning ReasonSeverity = "warning"
	SeverityInfo    ReasonSeverity = "info"
)

// EligibilityReason is one finding of the evaluator.
type EligibilityReason struct {
	Type        ReasonType     `json:"type"`
	Severity    ReasonSeverity `json:"severity"`
	Message     string         `json:"message"`
	SourceID    string         `json:"source_id,omitempty"`
	Overridable bool           `json:"overridable"`
	Overridden  bool           `json:"overridden"`
}

// OverrideRequest is an authorized actor's explicit bypass of an
// overridable failure. Applied overrides are echoed back for audit.
type OverrideRequest struct {
	SourceID      string `json:"source_id" validate:"required"`
	Justification string `json:"justification" validate:"required"`
}

// AppliedOverride records an override that took effect during evaluation.
type AppliedOverride struct {
	SourceID      string    `json:"source_id"`
	Justification string    `json:"justification"`
	ActorID       string    `json:"actor_id"`
	AppliedAt     time.Time `json:"applied_at"`
}

// EligibilityResult is the evaluator's structured verdict. Eligible is true
// iff no reason remains with error severity that was not overridden.
type EligibilityResult struct {
	Eligible         bool                `json:"eligible"`
	Reasons          []EligibilityReason `json:"reasons"`
	AppliedOverrides []AppliedOverride   `json:"applied_overrides,omitempty"`
}

// BlockingReasons returns the reasons that currently deny enrollment.
func (r EligibilityResult) BlockingReasons() []EligibilityReason {
	var blocking []EligibilityReason
	for _, reason := range r.Reasons {
		if reason.Severity == SeverityError && !reason.Overridden {
			blocking = append(blocking, reason)
		}
	}
	return blocking
}
