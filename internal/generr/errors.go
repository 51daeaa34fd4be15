package generr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure so callers can switch on it instead of on message text.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindRateLimit      Kind = "rate_limit"
	KindAuthentication Kind = "authentication"
	KindNetwork        Kind = "network"
	KindParse          Kind = "parse"
	KindCircuitOpen    Kind = "circuit_open"
	KindCancelled      Kind = "cancelled"
	KindUnknown        Kind = "unknown"
)

// Error is the tagged error shared by the queue, the resilience layer and the
// completion clients.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Details    []string
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Err != nil {
		if e.Message != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Err.Error())
	}
	if len(e.Details) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(e.Details, "; "))
		sb.WriteString(")")
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a tagged error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind, keeping it reachable through errors.Is/As.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation builds a validation error carrying every problem found.
func Validation(msg string, details []string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

// KindOf reports the kind of err. Context errors map to KindCancelled and
// anything untagged is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStatus maps an HTTP-style status code from a remote API to a tagged error.
func FromStatus(code int, msg string) *Error {
	kind := KindUnknown
	switch {
	case code == http.StatusTooManyRequests:
		kind = KindRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = KindAuthentication
	case code == http.StatusRequestTimeout || code >= 500:
		kind = KindNetwork
	}
	return &Error{Kind: kind, StatusCode: code, Message: msg}
}

// retryableHints are matched against untagged error text only.
var retryableHints = []string{"rate limit", "network", "timeout", "connection"}

// LooksTransient applies the message heuristic used for errors raised by code
// that does not tag its failures.
func LooksTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range retryableHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// Classify tags an error coming from an uncontrolled source. Tagged errors are
// returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindCancelled, err, "")
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return Wrap(KindRateLimit, err, "")
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key") || strings.Contains(msg, "401"):
		return Wrap(KindAuthentication, err, "")
	}
	return err
}
