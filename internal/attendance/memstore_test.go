package attendance

import (
	"context"
	"sync"
	"time"

	"messgate/internal/meal"
)

type mealKey struct {
	hostel   int64
	category meal.Category
	day      int64
}

type logKey struct {
	meal    string
	subject string
}

// memStore mirrors the SQL schema's uniqueness constraints in memory.
type memStore struct {
	mu       sync.Mutex
	meals    map[mealKey]MealRecord
	logs     map[logKey]Log
	subjects map[string]Subject
	hostels  []Hostel

	calls       int
	writes      int
	delay       time.Duration
	findErr     error
	mealErr     error
	logErr      error
	subjectErr  error
	beforeWrite func(table string)
}

func newMemStore(subjects ...Subject) *memStore {
	m := &memStore{
		meals:    make(map[mealKey]MealRecord),
		logs:     make(map[logKey]Log),
		subjects: make(map[string]Subject),
	}
	for _, s := range subjects {
		m.subjects[s.SubjectID] = s
	}
	return m
}

func (m *memStore) enter(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	m.mu.Unlock()
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *memStore) FindMealRecord(ctx context.Context, hostelID int64, category meal.Category, day time.Time) (MealRecord, error) {
	if err := m.enter(ctx); err != nil {
		return MealRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return MealRecord{}, m.findErr
	}
	rec, ok := m.meals[mealKey{hostelID, category, day.Unix()}]
	if !ok {
		return MealRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) InsertMealRecordIfAbsent(ctx context.Context, rec MealRecord) (MealRecord, bool, error) {
	if m.beforeWrite != nil {
		m.beforeWrite("meal_records")
	}
	if err := m.enter(ctx); err != nil {
		return MealRecord{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mealErr != nil {
		return MealRecord{}, false, m.mealErr
	}
	key := mealKey{rec.HostelID, rec.Category, rec.DayBucket.Unix()}
	if existing, ok := m.meals[key]; ok {
		return existing, false, nil
	}
	m.writes++
	m.meals[key] = rec
	return rec, true, nil
}

func (m *memStore) InsertLogIfAbsent(ctx context.Context, l Log) (bool, error) {
	if m.beforeWrite != nil {
		m.beforeWrite("attendance_logs")
	}
	if err := m.enter(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logErr != nil {
		return false, m.logErr
	}
	key := logKey{l.MealRecordID, l.SubjectID}
	if _, ok := m.logs[key]; ok {
		return false, nil
	}
	m.writes++
	m.logs[key] = l
	return true, nil
}

func (m *memStore) CountLogs(ctx context.Context, day time.Time, category meal.Category, hostelID int64) (int64, error) {
	if err := m.enter(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range m.logs {
		for k, rec := range m.meals {
			if rec.ID != l.MealRecordID || k.day != day.Unix() || k.category != category {
				continue
			}
			if hostelID == 0 || k.hostel == hostelID {
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) SubjectByID(ctx context.Context, subjectID string) (Subject, error) {
	if err := m.enter(ctx); err != nil {
		return Subject{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subjectErr != nil {
		return Subject{}, m.subjectErr
	}
	s, ok := m.subjects[subjectID]
	if !ok {
		return Subject{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) SubjectByAdmission(ctx context.Context, admissionNumber string) (Subject, error) {
	if err := m.enter(ctx); err != nil {
		return Subject{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subjects {
		if s.AdmissionNumber == admissionNumber {
			return s, nil
		}
	}
	return Subject{}, ErrNotFound
}

func (m *memStore) Hostels(ctx context.Context) ([]Hostel, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Hostel(nil), m.hostels...), nil
}

func (m *memStore) counts() (calls, writes, meals, logs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, m.writes, len(m.meals), len(m.logs)
}

func (m *memStore) logsFor(subjectID string) []Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Log
	for k, l := range m.logs {
		if k.subject == subjectID {
			out = append(out, l)
		}
	}
	return out
}
