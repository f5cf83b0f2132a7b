package attendance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies scan failures for callers and transports.
type Kind string

const (
	KindInvalidCredential Kind = "INVALID_CREDENTIAL"
	KindHostelMismatch    Kind = "HOSTEL_MISMATCH"
	KindOutsideMealWindow Kind = "OUTSIDE_MEAL_WINDOW"
	KindDuplicateMeal     Kind = "DUPLICATE_MEAL"
	KindSubjectNotFound   Kind = "SUBJECT_NOT_FOUND"
	KindPersistence       Kind = "PERSISTENCE_ERROR"
	KindInvalidRequest    Kind = "INVALID_REQUEST"
	KindForbidden         Kind = "FORBIDDEN"
)

// HTTPStatus maps a kind to the status code the API responds with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidCredential, KindHostelMismatch, KindInvalidRequest:
		return http.StatusBadRequest
	case KindOutsideMealWindow:
		return http.StatusUnprocessableEntity
	case KindDuplicateMeal:
		return http.StatusConflict
	case KindSubjectNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ErrNotFound is returned by stores and directories for missing rows.
var ErrNotFound = errors.New("not found")

// Error is the structured failure returned by every Service operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// persistence wraps a storage failure, noting timeouts explicitly.
func persistence(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindPersistence, "storage timeout while "+op, err)
	}
	return newError(KindPersistence, "database error while "+op, err)
}

// KindOf extracts the kind of err. Errors not produced by this package are
// treated as persistence failures so they are never mistaken for success.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
