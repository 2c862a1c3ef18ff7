package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// StudentRepository assembles the profile the eligibility evaluator runs on.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Profile loads the student row together with transcript lines, class
// invitations and custom eligibility flags.
func (r *StudentRepository) Profile(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	const studentQuery = `SELECT id, full_name, active, year_level, major, department_id, institution_id, gpa
        FROM students WHERE id = $1`
	var profile models.StudentProfile
	if err := r.db.GetContext(ctx, &profile, studentQuery, studentID); err != nil {
		return nil, err
	}

	const coursesQuery = `SELECT course_id, grade, completed_at
        FROM completed_courses WHERE student_id = $1 ORDER BY completed_at`
	if err := r.db.SelectContext(ctx, &profile.CompletedCourses, coursesQuery, studentID); err != nil {
		return nil, fmt.Errorf("load completed courses: %w", err)
	}

	const invitationsQuery = `SELECT class_id FROM class_invitations WHERE student_id = $1`
	if err := r.db.SelectContext(ctx, &profile.InvitedClassIDs, invitationsQuery, studentID); err != nil {
		return nil, fmt.Errorf("load invitations: %w", err)
	}

	const flagsQuery = `SELECT flags FROM student_flags WHERE student_id = $1`
	var flags pq.StringArray
	if err := r.db.GetContext(ctx, &flags, flagsQuery, studentID); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("load student flags: %w", err)
		}
	} else {
		profile.Flags = []string(flags)
	}

	return &profile, nil
}
