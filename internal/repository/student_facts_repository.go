package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// StudentFactsRepository supplies the academic facts the rules engine
// evaluates. The facts are maintained by the student-records surface; this
// engine only reads them.
type StudentFactsRepository struct {
	db *sqlx.DB
}

// NewStudentFactsRepository constructs the repository.
func NewStudentFactsRepository(db *sqlx.DB) *StudentFactsRepository {
	return &StudentFactsRepository{db: db}
}

// GetFacts returns the academic facts for a student, including the course
// record used for course prerequisites.
func (r *StudentFactsRepository) GetFacts(ctx context.Context, studentID string) (*models.StudentFacts, error) {
	const query = `SELECT student_id, institution_id, major, department, year, gpa
        FROM student_academic_facts WHERE student_id = $1`
	var facts models.StudentFacts
	if err := r.db.GetContext(ctx, &facts, query, studentID); err != nil {
		return nil, err
	}

	const coursesQuery = `SELECT course_id, grade, completed FROM student_course_records WHERE student_id = $1`
	if err := r.db.SelectContext(ctx, &facts.Courses, coursesQuery, studentID); err != nil {
		return nil, fmt.Errorf("load course records: %w", err)
	}
	return &facts, nil
}
