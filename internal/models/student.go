package models

import "time"

// CompletedCourse is one transcript line the evaluator checks
// course-completion and grade prerequisites against.
type CompletedCourse struct {
	CourseID    string    `db:"course_id" json:"course_id"`
	Grade       float64   `db:"grade" json:"grade"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at"`
}

// StudentProfile is everything the eligibility evaluator needs about a
// student. Assembled by the orchestrator before evaluation; the evaluator
// itself never touches storage.
type StudentProfile struct {
	ID               string            `db:"id" json:"id"`
	FullName         string            `db:"full_name" json:"full_name"`
	Active           bool              `db:"active" json:"active"`
	YearLevel        int               `db:"year_level" json:"year_level"`
	Major            string            `db:"major" json:"major"`
	DepartmentID     string            `db:"department_id" json:"department_id"`
	InstitutionID    string            `db:"institution_id" json:"institution_id"`
	GPA              float64           `db:"gpa" json:"gpa"`
	CompletedCourses []CompletedCourse `json:"completed_courses,omitempty"`
	InvitedClassIDs  []string          `json:"invited_class_ids,omitempty"`
	Flags            []string          `json:"flags,omitempty"`
}

// Completed returns the transcript line for a course, if any.
func (p StudentProfile) Completed(courseID string) (CompletedCourse, bool) {
	for _, c := range p.CompletedCourses {
		if c.CourseID == courseID {
			return c, true
		}
	}
	return CompletedCourse{}, false
}

// InvitedTo reports whether the student holds an invitation for the class.
func (p StudentProfile) InvitedTo(classID string) bool {
	for _, id := range p.InvitedClassIDs {
		if id == classID {
			return true
		}
	}
	return false
}

// HasFlag reports whether a custom eligibility flag is present.
func (p StudentProfile) HasFlag(flag string) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
