package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messgate/internal/credential"
	"messgate/internal/meal"
)

var ist = time.FixedZone("IST", 5*3600+1800)

var (
	asha = Subject{SubjectID: "stu-asha", HostelID: 3, DisplayName: "Asha Menon", AdmissionNumber: "123456"}
	ravi = Subject{SubjectID: "stu-ravi", HostelID: 3, DisplayName: "Ravi Kumar", AdmissionNumber: "123457"}
	noor = Subject{SubjectID: "stu-noor", HostelID: 4, DisplayName: "Noor Fathima", AdmissionNumber: "223344"}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	issued   int
}

func (r *fakeRecorder) RecordScan(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome]++
}

func (r *fakeRecorder) RecordCredentialIssued() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
}

type fixture struct {
	svc   *Service
	store *memStore
	codec *credential.Codec
	clock *testClock
	rec   *fakeRecorder
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 10, day, hour, minute, 0, 0, ist)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &testClock{t: at(16, 8, 0)}
	codec, err := credential.NewCodec("unit-test-secret-0123456789", 0, credential.WithClock(clock.Now))
	require.NoError(t, err)
	classifier, err := meal.NewClassifier(ist, meal.DefaultWindows())
	require.NoError(t, err)

	store := newMemStore(asha, ravi, noor)
	rec := &fakeRecorder{}
	all := append([]Option{WithClock(clock.Now), WithRecorder(rec), WithStoreTimeout(time.Second)}, opts...)
	return &fixture{
		svc:   NewService(store, store, codec, classifier, all...),
		store: store,
		codec: codec,
		clock: clock,
		rec:   rec,
	}
}

func (f *fixture) token(t *testing.T, s Subject) string {
	t.Helper()
	tok, err := f.codec.Encode(s.HostelID, s.SubjectID)
	require.NoError(t, err)
	return tok
}

func (f *fixture) scan(t *testing.T, s Subject, claimed int64) (ScanResult, error) {
	t.Helper()
	return f.svc.Scan(context.Background(), ScanRequest{
		Credential:      f.token(t, s),
		ClaimedHostelID: claimed,
		ConfirmedBy:     "staff-1",
	})
}

// barrier holds the first n writes to table until all n have arrived, so
// every participant has passed its reads before anyone writes.
func barrier(n int, table string) func(string) {
	var mu sync.Mutex
	arrived := 0
	release := make(chan struct{})
	return func(tb string) {
		if tb != table {
			return
		}
		mu.Lock()
		arrived++
		if arrived == n {
			close(release)
		}
		mu.Unlock()
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}
}

func TestScan_FirstScanSucceeds(t *testing.T) {
	f := newFixture(t)

	res, err := f.scan(t, asha, 3)
	require.NoError(t, err)
	assert.Equal(t, meal.Breakfast, res.Category)
	assert.Equal(t, int64(3), res.HostelID)
	assert.Equal(t, "Asha Menon", res.DisplayName)
	assert.Equal(t, "123456", res.AdmissionNumber)
	assert.NotEmpty(t, res.MealRecordID)
	assert.True(t, res.Day.Equal(at(16, 0, 0)))

	logs := f.store.logsFor(asha.SubjectID)
	require.Len(t, logs, 1)
	assert.Equal(t, "staff-1", logs[0].ConfirmedBy)
	assert.Equal(t, res.MealRecordID, logs[0].MealRecordID)
	assert.Equal(t, 1, f.rec.outcomes[OutcomeSuccess])
}

func TestScan_SecondScanSameMealIsDuplicate(t *testing.T) {
	f := newFixture(t)
	_, err := f.scan(t, asha, 3)
	require.NoError(t, err)

	f.clock.Set(at(16, 8, 5))
	_, err = f.scan(t, asha, 3)
	require.Error(t, err)
	assert.Equal(t, KindDuplicateMeal, KindOf(err))
	assert.Len(t, f.store.logsFor(asha.SubjectID), 1)

	// The next meal of the day is a fresh record.
	f.clock.Set(at(16, 12, 30))
	res, err := f.scan(t, asha, 3)
	require.NoError(t, err)
	assert.Equal(t, meal.Lunch, res.Category)
	assert.Len(t, f.store.logsFor(asha.SubjectID), 2)
}

func TestScan_OutsideMealWindowWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(at(16, 5, 0))

	_, err := f.scan(t, asha, 3)
	require.Error(t, err)
	assert.Equal(t, KindOutsideMealWindow, KindOf(err))
	assert.ErrorIs(t, err, meal.ErrOutsideWindow)

	calls, writes, meals, logs := f.store.counts()
	assert.Zero(t, calls)
	assert.Zero(t, writes)
	assert.Zero(t, meals)
	assert.Zero(t, logs)
}

func TestScan_HostelMismatchTouchesNoStorage(t *testing.T) {
	f := newFixture(t)

	_, err := f.scan(t, asha, 4)
	require.Error(t, err)
	assert.Equal(t, KindHostelMismatch, KindOf(err))

	calls, writes, _, _ := f.store.counts()
	assert.Zero(t, calls)
	assert.Zero(t, writes)
}

func TestScan_DirectoryAffiliationIsAuthoritative(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, asha)

	moved := asha
	moved.HostelID = 7
	f.store.mu.Lock()
	f.store.subjects[asha.SubjectID] = moved
	f.store.mu.Unlock()

	_, err := f.svc.Scan(context.Background(), ScanRequest{Credential: tok, ClaimedHostelID: 3, ConfirmedBy: "staff-1"})
	require.Error(t, err)
	assert.Equal(t, KindHostelMismatch, KindOf(err))
	_, writes, _, _ := f.store.counts()
	assert.Zero(t, writes)
}

func TestScan_InvalidCredential(t *testing.T) {
	f := newFixture(t)
	for _, tok := range []string{"garbage", "U2FsdGVkX1+xyz", "STBT1123456"} {
		_, err := f.svc.Scan(context.Background(), ScanRequest{Credential: tok, ClaimedHostelID: 3, ConfirmedBy: "staff-1"})
		require.Error(t, err, tok)
		assert.Equal(t, KindInvalidCredential, KindOf(err), tok)
		assert.ErrorIs(t, err, credential.ErrInvalid)
	}
	assert.Equal(t, 3, f.rec.outcomes[string(KindInvalidCredential)])
}

func TestScan_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, asha)
	for name, req := range map[string]ScanRequest{
		"no_credential": {ClaimedHostelID: 3, ConfirmedBy: "staff-1"},
		"blank":         {Credential: "   ", ClaimedHostelID: 3, ConfirmedBy: "staff-1"},
		"no_hostel":     {Credential: tok, ConfirmedBy: "staff-1"},
		"neg_hostel":    {Credential: tok, ClaimedHostelID: -3, ConfirmedBy: "staff-1"},
		"no_staff":      {Credential: tok, ClaimedHostelID: 3},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Scan(context.Background(), req)
			assert.Equal(t, KindInvalidRequest, KindOf(err))
		})
	}
}

func TestScan_SubjectNotFoundWritesNothing(t *testing.T) {
	f := newFixture(t)
	ghost := Subject{SubjectID: "stu-ghost", HostelID: 3}

	_, err := f.scan(t, ghost, 3)
	require.Error(t, err)
	assert.Equal(t, KindSubjectNotFound, KindOf(err))
	_, writes, _, _ := f.store.counts()
	assert.Zero(t, writes)
}

func TestScan_PrintedBarcode(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Scan(context.Background(), ScanRequest{Credential: "STBT2123456", ClaimedHostelID: 3, ConfirmedBy: "staff-1"})
	require.NoError(t, err)
	assert.Equal(t, asha.SubjectID, res.SubjectID)
	assert.Equal(t, "Asha Menon", res.DisplayName)

	_, err = f.svc.Scan(context.Background(), ScanRequest{Credential: "STBT2999999", ClaimedHostelID: 3, ConfirmedBy: "staff-1"})
	assert.Equal(t, KindSubjectNotFound, KindOf(err))

	_, err = f.svc.Scan(context.Background(), ScanRequest{Credential: "STMT2223344", ClaimedHostelID: 3, ConfirmedBy: "staff-1"})
	assert.Equal(t, KindHostelMismatch, KindOf(err))
}

func TestScan_PersistenceFailureIsExplicit(t *testing.T) {
	f := newFixture(t)
	f.store.logErr = errors.New("connection reset by peer")

	_, err := f.scan(t, asha, 3)
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))

	// The meal record created before the failed log survives and is reused.
	_, _, meals, logs := f.store.counts()
	assert.Equal(t, 1, meals)
	assert.Zero(t, logs)

	f.store.mu.Lock()
	f.store.logErr = nil
	f.store.mu.Unlock()
	_, err = f.scan(t, asha, 3)
	require.NoError(t, err)
	_, _, meals, logs = f.store.counts()
	assert.Equal(t, 1, meals)
	assert.Equal(t, 1, logs)
}

func TestScan_MealLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.store.findErr = errors.New("relation meal_records does not exist")

	_, err := f.scan(t, asha, 3)
	assert.Equal(t, KindPersistence, KindOf(err))
	_, writes, _, _ := f.store.counts()
	assert.Zero(t, writes)
}

func TestScan_SlowStoreTimesOut(t *testing.T) {
	f := newFixture(t, WithStoreTimeout(20*time.Millisecond))
	f.store.delay = 500 * time.Millisecond

	started := time.Now()
	_, err := f.scan(t, asha, 3)
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(started), 400*time.Millisecond)
}

// Two different students scanned concurrently as the day's first lunch:
// both must be logged, against a single shared meal record.
func TestScan_ConcurrentFirstScansShareMealRecord(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(at(16, 12, 0))
	f.store.beforeWrite = barrier(2, "meal_records")

	tokens := map[string]string{asha.SubjectID: f.token(t, asha), ravi.SubjectID: f.token(t, ravi)}
	results := make(chan ScanResult, 2)
	var wg sync.WaitGroup
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			res, err := f.svc.Scan(context.Background(), ScanRequest{Credential: tok, ClaimedHostelID: 3, ConfirmedBy: "staff-1"})
			assert.NoError(t, err)
			results <- res
		}(tok)
	}
	wg.Wait()
	close(results)

	ids := map[string]bool{}
	for res := range results {
		assert.Equal(t, meal.Lunch, res.Category)
		ids[res.MealRecordID] = true
	}
	assert.Len(t, ids, 1)

	_, _, meals, logs := f.store.counts()
	assert.Equal(t, 1, meals)
	assert.Equal(t, 2, logs)
	for id := range tokens {
		assert.Len(t, f.store.logsFor(id), 1)
	}
}

// Concurrent scans of the same student for the same meal: every scan passes
// its reads before any writes, yet exactly one log may exist.
func TestScan_ConcurrentSameSubjectLogsOnce(t *testing.T) {
	const n = 8
	f := newFixture(t)
	f.clock.Set(at(16, 19, 0))
	f.store.beforeWrite = barrier(n, "attendance_logs")

	tok := f.token(t, asha)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Scan(context.Background(), ScanRequest{Credential: tok, ClaimedHostelID: 3, ConfirmedBy: "staff-1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case IsKind(err, KindDuplicateMeal):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, dupes)
	assert.Len(t, f.store.logsFor(asha.SubjectID), 1)
}

func TestResolver_SameDayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.resolver.Resolve(ctx, 3, meal.Dinner, at(16, 19, 0))
	require.NoError(t, err)
	second, err := f.svc.resolver.Resolve(ctx, 3, meal.Dinner, at(16, 21, 30))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	otherHostel, err := f.svc.resolver.Resolve(ctx, 4, meal.Dinner, at(16, 19, 0))
	require.NoError(t, err)
	assert.NotEqual(t, first, otherHostel)

	nextDay, err := f.svc.resolver.Resolve(ctx, 3, meal.Dinner, at(17, 19, 0))
	require.NoError(t, err)
	assert.NotEqual(t, first, nextDay)
}

func TestLogger_SecondCallIsDuplicateAndWritesNothing(t *testing.T) {
	store := newMemStore()
	l := NewLogger(store, time.Second)
	ctx := context.Background()

	_, err := l.LogAttendance(ctx, "meal-1", "stu-asha", 3, "staff-1")
	require.NoError(t, err)
	_, writesBefore, _, _ := store.counts()

	_, err = l.LogAttendance(ctx, "meal-1", "stu-asha", 3, "staff-2")
	assert.Equal(t, KindDuplicateMeal, KindOf(err))
	_, writesAfter, _, logs := store.counts()
	assert.Equal(t, writesBefore, writesAfter)
	assert.Equal(t, 1, logs)
}

func TestIssueCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.IssueCredential(ctx, asha.SubjectID, 3)
	require.NoError(t, err)
	assert.Nil(t, issued.ExpiresAt)

	cred, err := f.codec.Decode(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cred.HostelID)
	assert.Equal(t, asha.SubjectID, cred.SubjectID)
	assert.Equal(t, 1, f.rec.issued)

	_, err = f.svc.IssueCredential(ctx, asha.SubjectID, 4)
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = f.svc.IssueCredential(ctx, "stu-ghost", 3)
	assert.Equal(t, KindSubjectNotFound, KindOf(err))

	_, err = f.svc.IssueCredential(ctx, asha.SubjectID, 0)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestIssueCredential_ReportsExpiry(t *testing.T) {
	f := newFixture(t)
	codec, err := credential.NewCodec("unit-test-secret-0123456789", 30*time.Minute, credential.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.svc.codec = codec

	issued, err := f.svc.IssueCredential(context.Background(), asha.SubjectID, 3)
	require.NoError(t, err)
	require.NotNil(t, issued.ExpiresAt)
	assert.Equal(t, 30*time.Minute, issued.ExpiresAt.Sub(issued.IssuedAt))
}

func TestMealAttendanceCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scan(t, asha, 3)
	require.NoError(t, err)
	_, err = f.scan(t, ravi, 3)
	require.NoError(t, err)
	_, err = f.scan(t, noor, 4)
	require.NoError(t, err)

	day := time.Date(2026, 10, 16, 0, 0, 0, 0, ist)
	n, err := f.svc.MealAttendanceCount(ctx, CountQuery{Day: day, Category: "breakfast"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = f.svc.MealAttendanceCount(ctx, CountQuery{Day: day, Category: "Breakfast", HostelID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.svc.MealAttendanceCount(ctx, CountQuery{Day: day, Category: "Lunch"})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.MealAttendanceCount(ctx, CountQuery{Day: day, Category: "Brunch"})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	_, err = f.svc.MealAttendanceCount(ctx, CountQuery{Category: "Lunch"})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindPersistence, KindOf(errors.New("boom")))
	assert.Equal(t, KindDuplicateMeal, KindOf(newError(KindDuplicateMeal, "dup", nil)))
	assert.False(t, IsKind(nil, KindPersistence))
	assert.Equal(t, 409, KindDuplicateMeal.HTTPStatus())
	assert.Equal(t, 422, KindOutsideMealWindow.HTTPStatus())
	assert.Equal(t, 500, KindPersistence.HTTPStatus())
}
