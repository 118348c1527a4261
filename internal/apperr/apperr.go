package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures so the request layer can pick a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnsupportedCurrency
	KindConflict
	KindInsufficientFunds
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnsupportedCurrency:
		return "unsupported_currency"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Error is a classified application error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors of the same kind and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

var (
	ErrNotFound             = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrConflict             = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrInsufficientFunds    = &Error{Kind: KindInsufficientFunds, Msg: "insufficient earnings"}
	ErrDuplicateTransaction = &Error{Kind: KindValidation, Msg: "transaction id already exists"}
	ErrReferralCycle        = &Error{Kind: KindValidation, Msg: "referral would create a cycle"}
)

// Validation builds a validation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for the named entity.
func NotFound(entity string) error {
	return &Error{Kind: KindNotFound, Msg: entity + " not found", Err: ErrNotFound}
}

// Conflict builds a conflict error.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...), Err: ErrConflict}
}

// UnsupportedCurrency reports a currency outside the supported set.
func UnsupportedCurrency(code string) error {
	return &Error{Kind: KindUnsupportedCurrency, Msg: fmt.Sprintf("unsupported currency %q, must be USD or PKR", code)}
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Msg: op, Err: err}
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindUnsupportedCurrency, KindInsufficientFunds:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show to API callers.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindPersistence && ae.Kind != KindInternal {
		return ae.Msg
	}
	return http.StatusText(http.StatusInternalServerError)
}
