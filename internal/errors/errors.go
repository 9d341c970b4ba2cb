package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrorCode is the closed set of failure kinds a lookup can end in.
// Callers switch on it exhaustively.
type ErrorCode string

const (
	// NotFound indicates the source has no record for the plate (HTTP 404)
	NotFound ErrorCode = "NOT_FOUND"
	// NetworkFailure indicates a transport failure before any HTTP status was available
	NetworkFailure ErrorCode = "NETWORK_FAILURE"
	// MalformedResponse indicates the source answered with data that cannot be interpreted
	MalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	// Unauthorized indicates the source rejected our credentials (HTTP 401/403)
	Unauthorized ErrorCode = "UNAUTHORIZED"
	// InvalidArgument indicates a caller supplied an unusable value (empty plate, bad category)
	InvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// Timeout indicates the per-source deadline elapsed
	Timeout ErrorCode = "TIMEOUT"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Class is the caller-facing classification of an aggregate failure.
type Class string

const (
	// ClassNoResults means every source reported the plate as absent; callers may offer "did you mean"
	ClassNoResults Class = "no-results"
	// ClassNetwork means at least one source could not be reached
	ClassNetwork Class = "network"
	// ClassMalformed means the sources answered with unusable data
	ClassMalformed Class = "malformed"
	// ClassUnauthorized means credentials were rejected
	ClassUnauthorized Class = "unauthorized"
	// ClassUnknown covers everything else
	ClassUnknown Class = "unknown"
)

// Drilldown represents a suggested follow-up query
type Drilldown struct {
	Label string `json:"label"`
	Query string `json:"query"`
}

// LookupError is the structured error carried through the engine.
type LookupError struct {
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Source     string      `json:"source,omitempty"`
	Status     int         `json:"status,omitempty"`
	Details    interface{} `json:"details,omitempty"`
	Drilldowns []Drilldown `json:"drilldowns,omitempty"`
	cause      error       // Underlying error (not exported to JSON)
}

// NewLookupError creates a new LookupError
func NewLookupError(code ErrorCode, message string, cause error) *LookupError {
	return &LookupError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// NewNotFound reports that source has no record for key.
func NewNotFound(source, key string) *LookupError {
	return &LookupError{
		Code:    NotFound,
		Message: fmt.Sprintf("no record for %q", key),
		Source:  source,
		Status:  404,
	}
}

// NewNetworkFailure wraps a transport error from source.
func NewNetworkFailure(source string, cause error) *LookupError {
	return &LookupError{
		Code:    NetworkFailure,
		Message: "source unreachable",
		Source:  source,
		cause:   cause,
	}
}

// NewMalformed reports an undecodable payload from source.
func NewMalformed(source string, cause error) *LookupError {
	return &LookupError{
		Code:    MalformedResponse,
		Message: "response could not be interpreted",
		Source:  source,
		cause:   cause,
	}
}

// NewUnauthorized reports a credential rejection from source.
func NewUnauthorized(source string, status int) *LookupError {
	return &LookupError{
		Code:    Unauthorized,
		Message: "credentials rejected",
		Source:  source,
		Status:  status,
	}
}

// Error implements the error interface
func (e *LookupError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Source != "" {
		prefix = fmt.Sprintf("[%s %s]", e.Code, e.Source)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *LookupError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *LookupError) WithDetails(details interface{}) *LookupError {
	e.Details = details
	return e
}

// WithDrilldowns attaches follow-up suggestions
func (e *LookupError) WithDrilldowns(drilldowns ...Drilldown) *LookupError {
	e.Drilldowns = append(e.Drilldowns, drilldowns...)
	return e
}

// CodeOf extracts the ErrorCode of err. Context deadline errors map to
// Timeout, cancellation and any other unknown error to InternalError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var le *LookupError
	if stderrors.As(err, &le) {
		return le.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return InternalError
}

// Is reports whether err carries code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ClassOf maps an error to its caller-facing class.
func ClassOf(err error) Class {
	switch CodeOf(err) {
	case NotFound:
		return ClassNoResults
	case NetworkFailure, Timeout:
		return ClassNetwork
	case MalformedResponse:
		return ClassMalformed
	case Unauthorized:
		return ClassUnauthorized
	case InvalidArgument, InternalError:
		return ClassUnknown
	default:
		return ClassUnknown
	}
}

// informativeness ranks codes for MostInformative; higher wins.
func informativeness(code ErrorCode) int {
	switch code {
	case Unauthorized:
		return 6
	case NetworkFailure:
		return 5
	case Timeout:
		return 4
	case MalformedResponse:
		return 3
	case InternalError, InvalidArgument:
		return 2
	case NotFound:
		return 1
	default:
		return 0
	}
}

// MostInformative picks the error that tells a caller the most about why
// both sources failed. A plain not-found only wins when the other side is
// also a not-found (or nil). Ties go to a.
func MostInformative(a, b error) error {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if informativeness(CodeOf(b)) > informativeness(CodeOf(a)) {
		return b
	}
	return a
}

// Combine joins source errors for diagnostics, dropping nils.
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}

// Causes splits an error produced by Combine.
func Causes(err error) []error {
	return multierr.Errors(err)
}

// hints maps error codes to a short suggested action for API and CLI output
var hints = map[ErrorCode]string{
	NotFound:          "Check the plate for typos and search again",
	NetworkFailure:    "Check connectivity and pull to refresh",
	MalformedResponse: "The source returned unexpected data; try again later",
	Unauthorized:      "Sign in again",
	Timeout:           "The source is slow; pull to refresh",
}

// Hint returns the suggested action for an error code, if any
func Hint(code ErrorCode) string {
	return hints[code]
}

// AsLookupError returns the LookupError in err's chain, if any.
func AsLookupError(err error) (*LookupError, bool) {
	var le *LookupError
	if stderrors.As(err, &le) {
		return le, true
	}
	return nil, false
}
