// Package directory is the boundary to the student records kept by the rest
// of the campus system. The core only needs identity resolution and
// enrollment checks; everything else about students is out of scope here.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"campuscard/internal/dbx"
)

var ErrNotFound = errors.New("directory: not found")

// Student is the slice of the student record the card pipeline needs.
type Student struct {
	ID             string `json:"id"`
	RegisterNumber string `json:"register_number"`
	Name           string `json:"name"`
}

// Repository resolves students and enrollments with plain SQL.
type Repository struct {
	db dbx.DBTX
}

func NewRepository(db dbx.DBTX) *Repository {
	return &Repository{db: db}
}

// ByRegisterNumber resolves the badge payload to a student.
func (r *Repository) ByRegisterNumber(ctx context.Context, registerNumber string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, register_number, name
		FROM students WHERE register_number = $1
	`, registerNumber)
	var s Student
	if err := row.Scan(&s.ID, &s.RegisterNumber, &s.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: register number %s", ErrNotFound, registerNumber)
		}
		return nil, err
	}
	return &s, nil
}

// ByID loads a student by primary key.
func (r *Repository) ByID(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, register_number, name
		FROM students WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.RegisterNumber, &s.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: student %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &s, nil
}

// IsEnrolled reports whether the student is enrolled in the course.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2
		)
	`, studentID, courseID)
	var enrolled bool
	if err := row.Scan(&enrolled); err != nil {
		return false, err
	}
	return enrolled, nil
}

// EnrolledCount returns how many students a course has, for the session summary.
func (r *Repository) EnrolledCount(ctx context.Context, courseID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollments WHERE course_id = $1
	`, courseID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
