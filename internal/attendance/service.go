package attendance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"messgate/internal/credential"
	"messgate/internal/meal"
)

// TokenCodec issues and verifies scan credentials.
type TokenCodec interface {
	EncodeAt(hostelID int64, subjectID string, issuedAt time.Time) (string, error)
	Decode(token string) (credential.Credential, error)
	MaxAge() time.Duration
}

// Store is the persistence the service owns.
type Store interface {
	MealStore
	LogStore
}

// Recorder receives scan outcomes for metrics.
type Recorder interface {
	RecordScan(outcome string, elapsed time.Duration)
	RecordCredentialIssued()
}

type nopRecorder struct{}

func (nopRecorder) RecordScan(string, time.Duration) {}
func (nopRecorder) RecordCredentialIssued()          {}

// ScanRequest is a staff device submission.
type ScanRequest struct {
	Credential      string
	ClaimedHostelID int64
	ConfirmedBy     string
}

// ScanResult is returned for a successfully logged scan.
type ScanResult struct {
	HostelID        int64
	SubjectID       string
	DisplayName     string
	AdmissionNumber string
	Category        meal.Category
	MealRecordID    string
	LoggedAt        time.Time
	Day             time.Time
}

// IssuedCredential is a freshly encoded token.
type IssuedCredential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt *time.Time
}

// CountQuery selects the meal whose attendance is counted.
type CountQuery struct {
	Day      time.Time
	Category string
	HostelID int64
}

// OutcomeSuccess labels successful scans for the Recorder.
const OutcomeSuccess = "OK"

// Service verifies scans and records attendance. It holds no mutable state;
// all coordination between concurrent scans happens in the store.
type Service struct {
	codec      TokenCodec
	classifier *meal.Classifier
	directory  Directory
	store      Store
	resolver   *Resolver
	logger     *Logger
	timeout    time.Duration
	now        func() time.Time
	metrics    Recorder
	log        *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithStoreTimeout bounds each individual storage call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService wires the scan pipeline.
func NewService(store Store, directory Directory, codec TokenCodec, classifier *meal.Classifier, opts ...Option) *Service {
	s := &Service{
		codec:      codec,
		classifier: classifier,
		directory:  directory,
		store:      store,
		timeout:    3 * time.Second,
		now:        time.Now,
		metrics:    nopRecorder{},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(store, classifier, s.timeout)
	s.logger = NewLogger(store, s.timeout)
	s.logger.now = s.now
	return s
}

// Scan runs decode, hostel check, classification, meal resolution and
// logging in order. Any failure ends the scan; a meal record created before
// a failed log is kept for the next scan.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (res ScanResult, err error) {
	started := time.Now()
	defer func() {
		outcome := OutcomeSuccess
		if err != nil {
			outcome = string(KindOf(err))
			if KindOf(err) == KindPersistence {
				s.log.Error("scan failed",
					slog.String("kind", outcome),
					slog.Int64("hostel_id", req.ClaimedHostelID),
					slog.String("confirmed_by", req.ConfirmedBy),
					slog.Any("error", err),
				)
			}
		}
		s.metrics.RecordScan(outcome, time.Since(started))
	}()

	token := strings.TrimSpace(req.Credential)
	if token == "" || req.ClaimedHostelID == 0 {
		return ScanResult{}, newError(KindInvalidRequest, "QR code and hostel ID are required", nil)
	}
	if req.ClaimedHostelID < 0 {
		return ScanResult{}, newError(KindInvalidRequest, "Invalid hostel ID format", nil)
	}
	if req.ConfirmedBy == "" {
		return ScanResult{}, newError(KindInvalidRequest, "scanning staff is not identified", nil)
	}

	hostelID, subjectID, subject, err := s.decode(ctx, token)
	if err != nil {
		return ScanResult{}, err
	}
	if hostelID != req.ClaimedHostelID {
		return ScanResult{}, newError(KindHostelMismatch, "QR code belongs to a different hostel", nil)
	}

	now := s.now()
	category, err := s.classifier.Classify(now)
	if err != nil {
		return ScanResult{}, newError(KindOutsideMealWindow, "Out of meal time", err)
	}

	if subject == nil {
		found, err := s.lookupSubject(ctx, subjectID)
		if err != nil {
			return ScanResult{}, err
		}
		subject = &found
	}
	if subject.HostelID != hostelID {
		return ScanResult{}, newError(KindHostelMismatch, "student is no longer registered in this hostel", nil)
	}

	mealID, err := s.resolver.Resolve(ctx, hostelID, category, now)
	if err != nil {
		return ScanResult{}, err
	}

	entry, err := s.logger.LogAttendance(ctx, mealID, subjectID, hostelID, req.ConfirmedBy)
	if err != nil {
		return ScanResult{}, err
	}

	return ScanResult{
		HostelID:        hostelID,
		SubjectID:       subjectID,
		DisplayName:     subject.DisplayName,
		AdmissionNumber: subject.AdmissionNumber,
		Category:        category,
		MealRecordID:    mealID,
		LoggedAt:        entry.LoggedAt,
		Day:             s.classifier.DayBucket(now),
	}, nil
}

// decode accepts an encrypted token or a printed ID barcode. Barcodes are
// resolved through the directory, so their subject is returned as well.
func (s *Service) decode(ctx context.Context, token string) (int64, string, *Subject, error) {
	if admission, ok := credential.ParseBarcode(token); ok {
		subject, err := s.withDirectory(ctx, "fetching the student details", func(ctx context.Context) (Subject, error) {
			return s.directory.SubjectByAdmission(ctx, admission)
		})
		if err != nil {
			return 0, "", nil, err
		}
		return subject.HostelID, subject.SubjectID, &subject, nil
	}

	cred, err := s.codec.Decode(token)
	if err != nil {
		return 0, "", nil, newError(KindInvalidCredential, "Invalid or corrupted QR code", err)
	}
	return cred.HostelID, cred.SubjectID, nil, nil
}

func (s *Service) lookupSubject(ctx context.Context, subjectID string) (Subject, error) {
	return s.withDirectory(ctx, "fetching the student details", func(ctx context.Context) (Subject, error) {
		return s.directory.SubjectByID(ctx, subjectID)
	})
}

func (s *Service) withDirectory(ctx context.Context, op string, fn func(context.Context) (Subject, error)) (Subject, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	subject, err := fn(ctx)
	switch {
	case err == nil:
		return subject, nil
	case errors.Is(err, ErrNotFound):
		return Subject{}, newError(KindSubjectNotFound, "user not found", err)
	default:
		return Subject{}, persistence(op, err)
	}
}

// IssueCredential encodes a token for subjectID, who must be registered in
// hostelID.
func (s *Service) IssueCredential(ctx context.Context, subjectID string, hostelID int64) (IssuedCredential, error) {
	if subjectID == "" {
		return IssuedCredential{}, newError(KindInvalidRequest, "user is not identified", nil)
	}
	if hostelID <= 0 {
		return IssuedCredential{}, newError(KindInvalidRequest, "Invalid hostel ID format", nil)
	}

	subject, err := s.lookupSubject(ctx, subjectID)
	if err != nil {
		return IssuedCredential{}, err
	}
	if subject.HostelID != hostelID {
		return IssuedCredential{}, newError(KindForbidden, "User doesn't belong to this hostel", nil)
	}

	issuedAt := s.now().UTC().Truncate(time.Second)
	token, err := s.codec.EncodeAt(hostelID, subjectID, issuedAt)
	if err != nil {
		return IssuedCredential{}, newError(KindInvalidRequest, "Error generating QR code", err)
	}
	s.metrics.RecordCredentialIssued()

	out := IssuedCredential{Token: token, IssuedAt: issuedAt}
	if maxAge := s.codec.MaxAge(); maxAge > 0 {
		exp := issuedAt.Add(maxAge)
		out.ExpiresAt = &exp
	}
	return out, nil
}

// MealAttendanceCount counts logs for the meal served on q.Day.
func (s *Service) MealAttendanceCount(ctx context.Context, q CountQuery) (int64, error) {
	category, err := meal.ParseCategory(q.Category)
	if err != nil {
		return 0, newError(KindInvalidRequest, "unknown meal type", err)
	}
	if q.Day.IsZero() {
		return 0, newError(KindInvalidRequest, "date is required", nil)
	}
	if q.HostelID < 0 {
		return 0, newError(KindInvalidRequest, "Invalid hostel ID format", nil)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.store.CountLogs(ctx, s.classifier.DayBucket(q.Day), category, q.HostelID)
	if err != nil {
		return 0, persistence("counting meal logs", err)
	}
	return n, nil
}

// Hostels lists hostels from the directory.
func (s *Service) Hostels(ctx context.Context) ([]Hostel, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	hostels, err := s.directory.Hostels(ctx)
	if err != nil {
		return nil, persistence("fetching hostels", err)
	}
	return hostels, nil
}

// Today returns the current day bucket.
func (s *Service) Today() time.Time {
	return s.classifier.DayBucket(s.now())
}
