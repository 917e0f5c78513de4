// Package apierrors provides an RFC 7807 Problem Details style error
// envelope narrowed to the error kinds the matching core distinguishes
// (REJECTED_VALIDATION, REJECTED_FOK, NOT_FOUND, QUEUE_FULL,
// SNAPSHOT_IO, SNAPSHOT_CORRUPT), per spec §7.
package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions, re-exported for callers that want to
// errors.As/Is through a wrapped *Error the way they would through any
// other error.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// Kind enumerates the error kinds spec §7 distinguishes. Kind is a
// closed set: every value the engine returns is one of these.
type Kind string

const (
	KindRejectedValidation Kind = "REJECTED_VALIDATION"
	KindRejectedFOK        Kind = "REJECTED_FOK"
	KindNotFound           Kind = "NOT_FOUND"
	KindQueueFull          Kind = "QUEUE_FULL"
	KindSnapshotIO         Kind = "SNAPSHOT_IO"
	KindSnapshotCorrupt    Kind = "SNAPSHOT_CORRUPT"
)

// httpStatus maps each Kind to the status a transport adapter would
// use if it were fronting this core with HTTP; the core itself never
// serves HTTP, but the mapping keeps the Problem Details shape
// meaningful for any adapter that does.
var httpStatus = map[Kind]int{
	KindRejectedValidation: http.StatusBadRequest,
	KindRejectedFOK:        http.StatusUnprocessableEntity,
	KindNotFound:           http.StatusNotFound,
	KindQueueFull:          http.StatusServiceUnavailable,
	KindSnapshotIO:         http.StatusInternalServerError,
	KindSnapshotCorrupt:    http.StatusInternalServerError,
}

// Error is a Problem Details style error: a Kind, a human-readable
// message, and an optional wrapped cause.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind around a cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports kind equality, so errors.Is(err, apierrors.New(KindNotFound, ""))
// matches any NOT_FOUND error regardless of message.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// Status returns the HTTP status a transport adapter would report for
// this error's kind.
func (e *Error) Status() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ProblemDetails is the RFC 7807 wire shape for e, suitable for a
// transport adapter to serialize directly as the body of an error
// frame or response.
type ProblemDetails struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Status  int    `json:"status"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Problem renders e as a ProblemDetails, stamping traceID if non-empty.
func (e *Error) Problem(traceID string) *ProblemDetails {
	return &ProblemDetails{
		Type:    "https://matchcore.dev/problems/" + string(e.Kind),
		Title:   string(e.Kind),
		Status:  e.Status(),
		Detail:  e.Message,
		TraceID: traceID,
	}
}

// MarshalJSON renders the ProblemDetails with trace_id omitted when empty.
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	type alias ProblemDetails
	return json.Marshal((*alias)(p))
}
