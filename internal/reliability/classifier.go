package reliability

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the failure class of a client operation.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindServer       Kind = "server_error"
	KindNetwork      Kind = "network_error"
	KindEmptyPayload Kind = "empty_payload"
	KindUnexpected   Kind = "unexpected"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrServer       = errors.New("server error")
	ErrNetwork      = errors.New("network error")
	ErrEmptyPayload = errors.New("empty payload")
	ErrUnexpected   = errors.New("unexpected error")
)

var sentinels = map[Kind]error{
	KindValidation:   ErrValidation,
	KindUnauthorized: ErrUnauthorized,
	KindRateLimited:  ErrRateLimited,
	KindNotFound:     ErrNotFound,
	KindForbidden:    ErrForbidden,
	KindServer:       ErrServer,
	KindNetwork:      ErrNetwork,
	KindEmptyPayload: ErrEmptyPayload,
	KindUnexpected:   ErrUnexpected,
}

// Error is a classified failure. It matches its Kind's sentinel via errors.Is.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (http %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New builds a classified error.
func New(kind Kind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Message: strings.TrimSpace(message), Err: cause}
}

// Validation reports bad local input that never reaches the network.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, 0, fmt.Sprintf(format, args...), nil)
}

// ClassifyStatus maps a non-2xx HTTP status code to a failure class.
func ClassifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusForbidden:
		return KindForbidden
	case code == http.StatusNotFound:
		return KindNotFound
	case code >= 400 && code <= 599:
		return KindServer
	default:
		return KindUnexpected
	}
}

// KindOf extracts the failure class from any error. Unclassified errors are
// reported as unexpected.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUnexpected
}
