package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"campuscard/internal/dbx"
)

// Record is one persisted attendance row; the natural key is
// (student_id, course_id, attend_date).
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	CourseID    string    `json:"course_id"`
	LecturerID  string    `json:"lecturer_id"`
	Date        time.Time `json:"date"`
	CheckedInAt time.Time `json:"checked_in_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository persists attendance records in Postgres.
type Repository struct {
	db dbx.DBTX
}

func NewRepository(db dbx.DBTX) *Repository {
	return &Repository{db: db}
}

// Exists reports whether a record already exists for the natural key.
// NOTE: dedup is check-then-insert without a DB uniqueness constraint; two
// concurrent readers could both pass this check. Safe while a single bridge
// serialises taps, fragile beyond that.
func (r *Repository) Exists(ctx context.Context, studentID, courseID string, date time.Time) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE student_id = $1 AND course_id = $2 AND attend_date = $3
		)
	`, studentID, courseID, date.Format("2006-01-02"))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Insert writes a new record.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CheckedInAt.IsZero() {
		rec.CheckedInAt = time.Now().UTC()
	}
	if rec.Date.IsZero() {
		rec.Date = rec.CheckedInAt
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, course_id, lecturer_id, attend_date, checked_in_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.CourseID, rec.LecturerID, rec.Date.Format("2006-01-02"), rec.CheckedInAt)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListByCourseDate returns the records of one course on one day.
func (r *Repository) ListByCourseDate(ctx context.Context, courseID string, date time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, course_id, lecturer_id, attend_date, checked_in_at, created_at
		FROM attendance_records
		WHERE course_id = $1 AND attend_date = $2
		ORDER BY checked_in_at
	`, courseID, date.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.LecturerID, &rec.Date, &rec.CheckedInAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
