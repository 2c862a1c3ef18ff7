package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

func activeStudent() models.StudentProfile {
	return models.StudentProfile{
		ID:            "student-1",
		Active:        true,
		YearLevel:     11,
		Major:         "science",
		DepartmentID:  "dept-1",
		InstitutionID: "inst-1",
		GPA:           3.4,
		CompletedCourses: []models.CompletedCourse{
			{CourseID: "math-101", Grade: 85},
		},
	}
}

func openClass() models.Class {
	return models.Class{
		ID:   "class-1",
		Code: "PHY-201",
		Name: "Physics II",
		Config: models.ClassEnrollmentConfig{
			Capacity:         30,
			WaitlistCapacity: 10,
			EnrollmentType:   models.EnrollmentTypeOpen,
		},
	}
}

func TestEvaluateEligibleStudent(t *testing.T) {
	svc := NewEligibilityService()
	result := svc.Evaluate(EligibilityInput{
		Student: activeStudent(),
		Class:   openClass(),
		Prerequisites: []models.ClassPrerequisite{
			{ID: "pr-1", Type: models.PrerequisiteCourseCompletion, CourseID: "math-101", Strict: true},
			{ID: "pr-2", Type: models.PrerequisiteMinGPA, MinGPA: 3.0, Strict: true},
		},
		Now: time.Now(),
	})

	assert.True(t, result.Eligible)
	assert.Empty(t, result.BlockingReasons())
}

func TestEvaluateStrictPrerequisiteBlocks(t *testing.T) {
	svc := NewEligibilityService()
	result := svc.Evaluate(EligibilityInput{
		Student: activeStudent(),
		Class:   openClass(),
		Prerequisites: []models.ClassPrerequisite{
			{ID: "pr-1", Type: models.PrerequisiteCourseCompletion, CourseID: "chem-101", Strict: true},
		},
		Now: time.Now(),
	})

	assert.False(t, result.Eligible)
	require.Len(t, result.BlockingReasons(), 1)
	reason := result.BlockingReasons()[0]
	assert.Equal(t, models.ReasonPrerequisite, reason.Type)
	assert.False(t, reason.Overridable)
}

func TestEvaluateNonStrictPrerequisiteWarnsOnly(t *testing.T) {
	svc := NewEligibilityService()
	result := svc.Evaluate(EligibilityInput{
		Student: activeStudent(),
		Class:   openClass(),
		Prerequisites: []models.ClassPrerequisite{
			{ID: "pr-1", Type: models.PrerequisiteMinGrade, CourseID: "math-101", MinGrade: 90, Strict: false},
		},
		Now: time.Now(),
	})

	assert.True(t, result.Eligible)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, models.SeverityWarning, result.Reasons[0].Severity)
}

func TestEvaluateYearLevelComparesNumerically(t *testing.T) {
	svc := NewEligibilityService()
	student := activeStudent()
	student.YearLevel = 10
	result := svc.Evaluate(EligibilityInput{
		Student: student,
		Class:   openClass(),
		Prerequisites: []models.ClassPrerequisite{
			{ID: "pr-1", Type: models.PrerequisiteYearLevel, Value: "9", Strict: true},
		},
		Now: time.Now(),
	})

	assert.True(t, result.Eligible)
}

func TestEvaluateDeadlinePassedIsNotOverridable(t *testing.T) {
	svc := NewEligibilityService()
	class := openClass()
	end := time.Now().Add(-time.Hour)
	class.Config.EnrollmentEnd = &end

	result := svc.Evaluate(EligibilityInput{
		Student:          activeStudent(),
		Class:            class,
		ActorCanOverride: true,
		Overrides:        []models.OverrideRequest{{SourceID: class.ID, Justification: "late add"}},
		Now:              time.Now(),
	})

	assert.False(t, result.Eligible)
	require.Len(t, result.BlockingReasons(), 1)
	assert.Equal(t, models.ReasonDeadline, result.BlockingReasons()[0].Type)
	assert.Empty(t, result.AppliedOverrides)
}

func TestEvaluateOverridableRestrictionWarnsOnly(t *testing.T) {
	svc := NewEligibilityService()
	student := activeStudent()
	student.Major = "arts"

	result := svc.Evaluate(EligibilityInput{
		Student: student,
		Class:   openClass(),
		Restrictions: []models.EnrollmentRestriction{
			{ID: "rs-1", Type: models.PrerequisiteMajor, Value: "science", Overridable: true},
		},
		Now: time.Now(),
	})

	assert.True(t, result.Eligible)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, models.ReasonRestriction, result.Reasons[0].Type)
	assert.Equal(t, models.SeverityWarning, result.Reasons[0].Severity)
	assert.True(t, result.Reasons[0].Overridable)
}

func TestEvaluateNonOverridableRestrictionBlocks(t *testing.T) {
	svc := NewEligibilityService()
	student := activeStudent()
	student.Major = "arts"

	result := svc.Evaluate(EligibilityInput{
		Student: student,
		Class:   openClass(),
		Restrictions: []models.EnrollmentRestriction{
			{ID: "rs-1", Type: models.PrerequisiteMajor, Value: "science", Overridable: false},
		},
		Now: time.Now(),
	})

	assert.False(t, result.Eligible)
	require.Len(t, result.BlockingReasons(), 1)
	reason := result.BlockingReasons()[0]
	assert.Equal(t, models.ReasonRestriction, reason.Type)
	assert.Equal(t, models.SeverityError, reason.Severity)
	assert.False(t, reason.Overridable)
}

func TestEvaluateOverrideDowngradesPermission(t *testing.T) {
	svc := NewEligibilityService()
	class := openClass()
	class.Config.EnrollmentType = models.EnrollmentTypeInvitationOnly

	blocked := svc.Evaluate(EligibilityInput{
		Student: activeStudent(),
		Class:   class,
		Now:     time.Now(),
	})
	assert.False(t, blocked.Eligible)

	overridden := svc.Evaluate(EligibilityInput{
		Student:          activeStudent(),
		Class:            class,
		Overrides:        []models.OverrideRequest{{SourceID: class.ID, Justification: "registrar exception"}},
		ActorID:          "registrar-1",
		ActorCanOverride: true,
		Now:              time.Now(),
	})
	assert.True(t, overridden.Eligible)
	require.Len(t, overridden.AppliedOverrides, 1)
	assert.Equal(t, class.ID, overridden.AppliedOverrides[0].SourceID)
	assert.Equal(t, "registrar-1", overridden.AppliedOverrides[0].ActorID)
	require.Len(t, overridden.Reasons, 1)
	assert.True(t, overridden.Reasons[0].Overridden)
	assert.Equal(t, models.SeverityInfo, overridden.Reasons[0].Severity)
}

func TestEvaluateOverrideIgnoredWithoutAuthority(t *testing.T) {
	svc := NewEligibilityService()
	class := openClass()
	class.Config.EnrollmentType = models.EnrollmentTypeInvitationOnly

	result := svc.Evaluate(EligibilityInput{
		Student:          activeStudent(),
		Class:            class,
		Overrides:        []models.OverrideRequest{{SourceID: class.ID, Justification: "please"}},
		ActorCanOverride: false,
		Now:              time.Now(),
	})

	assert.False(t, result.Eligible)
	assert.Empty(t, result.AppliedOverrides)
}

func TestEvaluateInvitationOnlyRequiresInvite(t *testing.T) {
	svc := NewEligibilityService()
	class := openClass()
	class.Config.EnrollmentType = models.EnrollmentTypeInvitationOnly

	denied := svc.Evaluate(EligibilityInput{Student: activeStudent(), Class: class, Now: time.Now()})
	assert.False(t, denied.Eligible)

	invited := activeStudent()
	invited.InvitedClassIDs = []string{class.ID}
	allowed := svc.Evaluate(EligibilityInput{Student: invited, Class: class, Now: time.Now()})
	assert.True(t, allowed.Eligible)
}

func TestEvaluateCapacityIsInformationalOnly(t *testing.T) {
	svc := NewEligibilityService()
	result := svc.Evaluate(EligibilityInput{
		Student:    activeStudent(),
		Class:      openClass(),
		AtCapacity: true,
		Now:        time.Now(),
	})

	assert.True(t, result.Eligible)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, models.ReasonCapacity, result.Reasons[0].Type)
	assert.Equal(t, models.SeverityWarning, result.Reasons[0].Severity)
}

func TestEvaluateInactiveStudentBlocked(t *testing.T) {
	svc := NewEligibilityService()
	student := activeStudent()
	student.Active = false

	result := svc.Evaluate(EligibilityInput{Student: student, Class: openClass(), Now: time.Now()})
	assert.False(t, result.Eligible)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	svc := NewEligibilityService()
	in := EligibilityInput{
		Student: activeStudent(),
		Class:   openClass(),
		Prerequisites: []models.ClassPrerequisite{
			{ID: "pr-1", Type: models.PrerequisiteMinGPA, MinGPA: 3.9, Strict: true},
		},
		Now: time.Unix(1700000000, 0),
	}

	first := svc.Evaluate(in)
	second := svc.Evaluate(in)
	assert.Equal(t, first, second)
}
