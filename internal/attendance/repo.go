package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"messgate/internal/meal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository persists meal records and attendance logs in Postgres and
// reads the student directory tables.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindMealRecord returns the record for (hostel, category, day).
func (r *Repository) FindMealRecord(ctx context.Context, hostelID int64, category meal.Category, day time.Time) (MealRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, hostel_id, category, day_bucket, created_at
		FROM meal_records
		WHERE hostel_id = $1 AND category = $2 AND day_bucket = $3
	`, hostelID, string(category), day)
	rec, err := scanMealRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MealRecord{}, ErrNotFound
	}
	return rec, err
}

// InsertMealRecordIfAbsent relies on UNIQUE (hostel_id, category, day_bucket).
// When another scan won the race the existing row is read back.
func (r *Repository) InsertMealRecordIfAbsent(ctx context.Context, rec MealRecord) (MealRecord, bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO meal_records (id, hostel_id, category, day_bucket, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hostel_id, category, day_bucket) DO NOTHING
		RETURNING id, hostel_id, category, day_bucket, created_at
	`, rec.ID, rec.HostelID, string(rec.Category), rec.DayBucket, rec.CreatedAt)
	created, err := scanMealRecord(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return MealRecord{}, false, mapPGError(err)
	}

	existing, err := r.FindMealRecord(ctx, rec.HostelID, rec.Category, rec.DayBucket)
	if err != nil {
		return MealRecord{}, false, fmt.Errorf("read back meal record: %w", err)
	}
	return existing, false, nil
}

// InsertLogIfAbsent relies on UNIQUE (meal_record_id, subject_id).
func (r *Repository) InsertLogIfAbsent(ctx context.Context, l Log) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_logs (id, meal_record_id, subject_id, hostel_id, confirmed_by, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (meal_record_id, subject_id) DO NOTHING
		RETURNING id
	`, l.ID, l.MealRecordID, l.SubjectID, l.HostelID, l.ConfirmedBy, l.LoggedAt).Scan(&id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, mapPGError(err)
	}
}

// CountLogs counts logs joined to the matching meal records.
func (r *Repository) CountLogs(ctx context.Context, day time.Time, category meal.Category, hostelID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(l.id)
		FROM attendance_logs l
		JOIN meal_records m ON m.id = l.meal_record_id
		WHERE m.day_bucket = $1 AND m.category = $2 AND ($3::bigint = 0 OR m.hostel_id = $3::bigint)
	`, day, string(category), hostelID).Scan(&n)
	return n, err
}

// SubjectByID reads a student's directory entry.
func (r *Repository) SubjectByID(ctx context.Context, subjectID string) (Subject, error) {
	return r.subject(ctx, `s.user_id = $1`, subjectID)
}

// SubjectByAdmission reads a student by the admission number printed on
// their ID card.
func (r *Repository) SubjectByAdmission(ctx context.Context, admissionNumber string) (Subject, error) {
	return r.subject(ctx, `s.admission_no = $1`, admissionNumber)
}

func (r *Repository) subject(ctx context.Context, where string, arg any) (Subject, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.user_id, s.hostel_id, u.name, s.admission_no
		FROM students s
		JOIN users u ON u.user_id = s.user_id
		WHERE `+where, arg)
	var s Subject
	if err := row.Scan(&s.SubjectID, &s.HostelID, &s.DisplayName, &s.AdmissionNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subject{}, ErrNotFound
		}
		return Subject{}, err
	}
	return s, nil
}

// Hostels lists hostels ordered by name.
func (r *Repository) Hostels(ctx context.Context) ([]Hostel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT hostel_id, hostel_name FROM hostels ORDER BY hostel_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Hostel{}
	for rows.Next() {
		var h Hostel
		if err := rows.Scan(&h.ID, &h.Name); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMealRecord(row rowScanner) (MealRecord, error) {
	var rec MealRecord
	var category string
	if err := row.Scan(&rec.ID, &rec.HostelID, &category, &rec.DayBucket, &rec.CreatedAt); err != nil {
		return MealRecord{}, err
	}
	rec.Category = meal.Category(category)
	return rec, nil
}

// mapPGError annotates constraint violations that ON CONFLICT does not
// absorb.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgForeignKeyViolation:
		return fmt.Errorf("referenced meal record does not exist (%s): %w", pgErr.ConstraintName, err)
	case pgUniqueViolation:
		return fmt.Errorf("unique constraint %s violated: %w", pgErr.ConstraintName, err)
	default:
		return err
	}
}
