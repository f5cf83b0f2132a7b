package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logger writes at most one attendance log per subject per meal record.
type Logger struct {
	store   LogStore
	timeout time.Duration
	now     func() time.Time
}

// NewLogger builds a logger; the insert is bounded by timeout.
func NewLogger(store LogStore, timeout time.Duration) *Logger {
	return &Logger{store: store, timeout: timeout, now: time.Now}
}

// LogAttendance records that subjectID was served mealRecordID. A second
// call for the same pair fails with KindDuplicateMeal and writes nothing.
func (l *Logger) LogAttendance(ctx context.Context, mealRecordID, subjectID string, hostelID int64, confirmedBy string) (Log, error) {
	entry := Log{
		ID:           uuid.NewString(),
		MealRecordID: mealRecordID,
		SubjectID:    subjectID,
		HostelID:     hostelID,
		ConfirmedBy:  confirmedBy,
		LoggedAt:     l.now().UTC(),
	}

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	inserted, err := l.store.InsertLogIfAbsent(ctx, entry)
	if err != nil {
		return Log{}, persistence("logging meal", err)
	}
	if !inserted {
		return Log{}, newError(KindDuplicateMeal, "Student has already taken this meal", nil)
	}
	return entry, nil
}
