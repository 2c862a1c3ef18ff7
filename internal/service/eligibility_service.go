package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// EligibilityInput is everything the evaluator needs for one verdict. The
// orchestrator supplies all data; the evaluator performs no I/O.
type EligibilityInput struct {
	Student          models.StudentProfile
	Class            models.Class
	Prerequisites    []models.ClassPrerequisite
	Restrictions     []models.EnrollmentRestriction
	Overrides        []models.OverrideRequest
	ActorID          string
	ActorCanOverride bool
	AtCapacity       bool
	Now              time.Time
}

// EligibilityService evaluates multi-factor admission eligibility.
// Pure and deterministic: same input, same verdict.
type EligibilityService struct{}

// NewEligibilityService constructs the evaluator.
func NewEligibilityService() *EligibilityService {
	return &EligibilityService{}
}

// Evaluate produces the structured verdict for a (student, class) pair.
// Capacity is reported informationally only; the ledger decides seats.
func (s *EligibilityService) Evaluate(in EligibilityInput) models.EligibilityResult {
	var reasons []models.EligibilityReason

	if !in.Student.Active {
		reasons = append(reasons, models.EligibilityReason{
			Type:     models.ReasonRestriction,
			Severity: models.SeverityError,
			Message:  "student record is inactive",
		})
	}
	reasons = append(reasons, s.deadlineReasons(in)...)
	reasons = append(reasons, s.permissionReasons(in)...)
	for _, prereq := range in.Prerequisites {
		if reason, failed := s.checkPrerequisite(in.Student, prereq); failed {
			reasons = append(reasons, reason)
		}
	}
	for _, restriction := range in.Restrictions {
		if reason, failed := s.checkRestriction(in.Student, restriction); failed {
			reasons = append(reasons, reason)
		}
	}
	if in.AtCapacity {
		reasons = append(reasons, models.EligibilityReason{
			Type:     models.ReasonCapacity,
			Severity: models.SeverityWarning,
			Message:  "class is at capacity, enrollment will join the waitlist",
		})
	}

	applied := s.applyOverrides(reasons, in)

	result := models.EligibilityResult{Reasons: reasons, AppliedOverrides: applied}
	result.Eligible = len(result.BlockingReasons()) == 0
	return result
}

func (s *EligibilityService) deadlineReasons(in EligibilityInput) []models.EligibilityReason {
	cfg := in.Class.Config
	var reasons []models.EligibilityReason
	if cfg.EnrollmentStart != nil && in.Now.Before(*cfg.EnrollmentStart) {
		reasons = append(reasons, models.EligibilityReason{
			Type:     models.ReasonDeadline,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("enrollment opens at %s", cfg.EnrollmentStart.Format(time.RFC3339)),
		})
	}
	if cfg.EnrollmentEnd != nil && in.Now.After(*cfg.EnrollmentEnd) {
		reasons = append(reasons, models.EligibilityReason{
			Type:     models.ReasonDeadline,
			Severity: models.SeverityError,
			Message:  "enrollment period has ended",
		})
	}
	return reasons
}

func (s *EligibilityService) permissionReasons(in EligibilityInput) []models.EligibilityReason {
	cfg := in.Class.Config
	switch cfg.EnrollmentType {
	case models.EnrollmentTypeInvitationOnly:
		if !in.Student.InvitedTo(in.Class.ID) {
			return []models.EligibilityReason{{
				Type:        models.ReasonPermission,
				Severity:    models.SeverityError,
				Message:     "class is invitation only",
				SourceID:    in.Class.ID,
				Overridable: true,
			}}
		}
	case models.EnrollmentTypeRestricted:
		if cfg.RequiresJustification && !in.ActorCanOverride {
			return []models.EligibilityReason{{
				Type:        models.ReasonPermission,
				Severity:    models.SeverityError,
				Message:     "class requires registrar approval",
				SourceID:    in.Class.ID,
				Overridable: true,
			}}
		}
	}
	return nil
}

func (s *EligibilityService) checkPrerequisite(student models.StudentProfile, prereq models.ClassPrerequisite) (models.EligibilityReason, bool) {
	reason := models.EligibilityReason{
		Type:        models.ReasonPrerequisite,
		SourceID:    prereq.ID,
		Overridable: !prereq.Strict,
	}
	if prereq.Strict {
		reason.Severity = models.SeverityError
	} else {
		reason.Severity = models.SeverityWarning
	}

	switch prereq.Type {
	case models.PrerequisiteCourseCompletion:
		if _, ok := student.Completed(prereq.CourseID); !ok {
			reason.Message = fmt.Sprintf("course %s not completed", prereq.CourseID)
			return reason, true
		}
	case models.PrerequisiteMinGrade:
		course, ok := student.Completed(prereq.CourseID)
		if !ok || course.Grade < prereq.MinGrade {
			reason.Message = fmt.Sprintf("grade below %.1f in course %s", prereq.MinGrade, prereq.CourseID)
			return reason, true
		}
	case models.PrerequisiteMinGPA:
		if student.GPA < prereq.MinGPA {
			reason.Message = fmt.Sprintf("GPA below required %.2f", prereq.MinGPA)
			return reason, true
		}
	case models.PrerequisiteYearLevel:
		required, err := strconv.Atoi(prereq.Value)
		if err == nil && student.YearLevel < required {
			reason.Message = fmt.Sprintf("year level %d below required %d", student.YearLevel, required)
			return reason, true
		}
	case models.PrerequisiteMajor:
		if student.Major != prereq.Value {
			reason.Message = fmt.Sprintf("major %s required", prereq.Value)
			return reason, true
		}
	case models.PrerequisiteDepartment:
		if student.DepartmentID != prereq.Value {
			reason.Message = "student is outside the required department"
			return reason, true
		}
	case models.PrerequisiteInstitution:
		if student.InstitutionID != prereq.Value {
			reason.Message = "student is outside the required institution"
			return reason, true
		}
	case models.PrerequisiteCustom:
		if !student.HasFlag(prereq.Value) {
			reason.Message = fmt.Sprintf("requirement %s not met", prereq.Value)
			return reason, true
		}
	}
	return models.EligibilityReason{}, false
}

func (s *EligibilityService) checkRestriction(student models.StudentProfile, restriction models.EnrollmentRestriction) (models.EligibilityReason, bool) {
	reason := models.EligibilityReason{
		Type:        models.ReasonRestriction,
		SourceID:    restriction.ID,
		Overridable: restriction.Overridable,
	}
	if restriction.Overridable {
		reason.Severity = models.SeverityWarning
	} else {
		reason.Severity = models.SeverityError
	}

	failed := false
	switch restriction.Type {
	case models.PrerequisiteYearLevel:
		failed = strconv.Itoa(student.YearLevel) != restriction.Value
	case models.PrerequisiteMajor:
		failed = student.Major != restriction.Value
	case models.PrerequisiteDepartment:
		failed = student.DepartmentID != restriction.Value
	case models.PrerequisiteInstitution:
		failed = student.InstitutionID != restriction.Value
	case models.PrerequisiteCustom:
		failed = !student.HasFlag(restriction.Value)
	}
	if failed {
		reason.Message = fmt.Sprintf("restriction %s not satisfied", restriction.Type)
		return reason, true
	}
	return models.EligibilityReason{}, false
}

// applyOverrides downgrades matching overridable error reasons to info.
// Overrides never disappear silently: each applied one is echoed back so the
// orchestrator can attach it to the audit trail.
func (s *EligibilityService) applyOverrides(reasons []models.EligibilityReason, in EligibilityInput) []models.AppliedOverride {
	if len(in.Overrides) == 0 || !in.ActorCanOverride {
		return nil
	}
	var applied []models.AppliedOverride
	for _, override := range in.Overrides {
		for i := range reasons {
			if reasons[i].SourceID != override.SourceID {
				continue
			}
			if !reasons[i].Overridable || reasons[i].Severity != models.SeverityError {
				continue
			}
			reasons[i].Severity = models.SeverityInfo
			reasons[i].Overridden = true
			applied = append(applied, models.AppliedOverride{
				SourceID:      override.SourceID,
				Justification: override.Justification,
				ActorID:       in.ActorID,
				AppliedAt:     in.Now,
			})
		}
	}
	return applied
}
