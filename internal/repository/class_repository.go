package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// ClassRepository reads class rows and their enrollment configuration.
// The engine treats both as immutable snapshots per decision.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// FindByID returns the class with its enrollment config attached.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	const classQuery = `SELECT id, code, name, department_id, credits, created_at FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, classQuery, id); err != nil {
		return nil, err
	}

	const configQuery = `SELECT capacity, waitlist_capacity, enrollment_type, auto_approve,
        requires_justification, enrollment_start, enrollment_end, drop_deadline, withdraw_deadline
        FROM class_enrollment_configs WHERE class_id = $1`
	if err := r.db.GetContext(ctx, &class.Config, configQuery, id); err != nil {
		return nil, fmt.Errorf("load class config: %w", err)
	}
	return &class, nil
}

// ListPrerequisites returns the typed prerequisite predicates for a class.
func (r *ClassRepository) ListPrerequisites(ctx context.Context, classID string) ([]models.ClassPrerequisite, error) {
	const query = `SELECT id, class_id, type, course_id, min_grade, min_gpa, value, strict
        FROM class_prerequisites WHERE class_id = $1 ORDER BY id`
	var prerequisites []models.ClassPrerequisite
	if err := r.db.SelectContext(ctx, &prerequisites, query, classID); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return prerequisites, nil
}

// ListRestrictions returns the enrollment restrictions for a class.
func (r *ClassRepository) ListRestrictions(ctx context.Context, classID string) ([]models.EnrollmentRestriction, error) {
	const query = `SELECT id, class_id, type, value, overridable
        FROM enrollment_restrictions WHERE class_id = $1 ORDER BY id`
	var restrictions []models.EnrollmentRestriction
	if err := r.db.SelectContext(ctx, &restrictions, query, classID); err != nil {
		return nil, fmt.Errorf("list restrictions: %w", err)
	}
	return restrictions, nil
}
