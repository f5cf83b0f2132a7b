package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"messgate/internal/meal"
)

// Resolver finds or lazily creates the meal record for a hostel, category
// and day.
type Resolver struct {
	store      MealStore
	classifier *meal.Classifier
	timeout    time.Duration
}

// NewResolver builds a resolver; every store call is bounded by timeout.
func NewResolver(store MealStore, classifier *meal.Classifier, timeout time.Duration) *Resolver {
	return &Resolver{store: store, classifier: classifier, timeout: timeout}
}

// Resolve returns the id of the meal record for (hostelID, category) on
// now's civil day. Concurrent first scans converge on one record through
// the store's uniqueness guarantee.
func (r *Resolver) Resolve(ctx context.Context, hostelID int64, category meal.Category, now time.Time) (string, error) {
	day := r.classifier.DayBucket(now)

	found, err := r.find(ctx, hostelID, category, day)
	if err == nil {
		return found.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", persistence("fetching meal", err)
	}

	rec, _, err := r.insert(ctx, MealRecord{
		ID:        uuid.NewString(),
		HostelID:  hostelID,
		Category:  category,
		DayBucket: day,
		CreatedAt: now,
	})
	if err != nil {
		return "", persistence("creating meal", err)
	}
	if rec.ID == "" {
		return "", newError(KindPersistence, "failed to get meal id", nil)
	}
	return rec.ID, nil
}

func (r *Resolver) find(ctx context.Context, hostelID int64, category meal.Category, day time.Time) (MealRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.FindMealRecord(ctx, hostelID, category, day)
}

func (r *Resolver) insert(ctx context.Context, rec MealRecord) (MealRecord, bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.InsertMealRecordIfAbsent(ctx, rec)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
