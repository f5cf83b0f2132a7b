package attendance

import (
	"context"
	"time"

	"messgate/internal/meal"
)

// MealRecord is the single logical instance of a meal at a hostel on a day.
type MealRecord struct {
	ID        string
	HostelID  int64
	Category  meal.Category
	DayBucket time.Time
	CreatedAt time.Time
}

// Log records that a subject was served a meal record.
type Log struct {
	ID           string
	MealRecordID string
	SubjectID    string
	HostelID     int64
	ConfirmedBy  string
	LoggedAt     time.Time
}

// Subject is a student's directory entry.
type Subject struct {
	SubjectID       string
	HostelID        int64
	DisplayName     string
	AdmissionNumber string
}

// Hostel is a directory hostel entry.
type Hostel struct {
	ID   int64  `json:"hostel_id"`
	Name string `json:"hostel_name"`
}

// MealStore persists meal records.
type MealStore interface {
	// FindMealRecord returns ErrNotFound when no record exists for the key.
	FindMealRecord(ctx context.Context, hostelID int64, category meal.Category, day time.Time) (MealRecord, error)
	// InsertMealRecordIfAbsent atomically creates rec unless a record with
	// the same (hostel, category, day) exists, and returns the stored one.
	InsertMealRecordIfAbsent(ctx context.Context, rec MealRecord) (MealRecord, bool, error)
	// CountLogs counts logs of the records for day and category; hostelID 0
	// spans every hostel.
	CountLogs(ctx context.Context, day time.Time, category meal.Category, hostelID int64) (int64, error)
}

// LogStore persists attendance logs.
type LogStore interface {
	// InsertLogIfAbsent inserts l unless (meal record, subject) is already
	// logged; inserted is false in that case and nothing is written.
	InsertLogIfAbsent(ctx context.Context, l Log) (inserted bool, err error)
}

// Directory resolves students and hostels. It is owned by the account
// subsystem and read-only here.
type Directory interface {
	SubjectByID(ctx context.Context, subjectID string) (Subject, error)
	SubjectByAdmission(ctx context.Context, admissionNumber string) (Subject, error)
	Hostels(ctx context.Context) ([]Hostel, error)
}
