package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyFrontier is returned by Take once no entries remain and nothing is in flight.
	ErrEmptyFrontier = errors.New("frontier exhausted")
	// ErrSinkClosed is returned when recording into a closed metadata sink.
	ErrSinkClosed = errors.New("metadata sink closed")
	// ErrNoSeeds is returned when no seed URL survives validation.
	ErrNoSeeds = errors.New("no valid seed urls")
	// ErrStageClosed is returned when submitting to a download stage that stopped accepting work.
	ErrStageClosed = errors.New("download stage closed")
)

// FailureReason classifies why a task failed.
type FailureReason string

// Failure reasons. ParseError and SinkError are log or fatal classes and never
// appear in a metadata row.
const (
	ReasonNone              FailureReason = ""
	ReasonTransientNetwork  FailureReason = "TransientNetworkError"
	ReasonPermanentFetch    FailureReason = "PermanentFetchError"
	ReasonParse             FailureReason = "ParseError"
	ReasonWrite             FailureReason = "WriteError"
	ReasonSink              FailureReason = "SinkError"
	ReasonSizeLimitExceeded FailureReason = "SizeLimitExceeded"
	ReasonEmptyDocument     FailureReason = "EmptyDocument"
	ReasonCanceled          FailureReason = "Canceled"
)

// TaskError attaches a failure reason to an underlying error.
type TaskError struct {
	Reason     FailureReason
	StatusCode int
	URL        string
	Err        error
}

func (e *TaskError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err == nil:
		return fmt.Sprintf("%s: %s: status %d", e.Reason, e.URL, e.StatusCode)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Reason, e.URL)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.URL, e.Err)
	}
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError wraps err with reason.
func NewTaskError(reason FailureReason, rawURL string, err error) *TaskError {
	return &TaskError{Reason: reason, URL: rawURL, Err: err}
}

// StatusError maps a non-2xx HTTP status: 5xx is transient, anything else permanent.
func StatusError(rawURL string, code int) *TaskError {
	reason := ReasonPermanentFetch
	if code >= http.StatusInternalServerError {
		reason = ReasonTransientNetwork
	}
	return &TaskError{Reason: reason, StatusCode: code, URL: rawURL}
}

// NetworkError classifies a transport failure. Cancellation of the caller's
// context is reported as Canceled rather than a network fault.
func NetworkError(ctx context.Context, rawURL string, err error) *TaskError {
	if errors.Is(err, context.Canceled) || (ctx != nil && ctx.Err() != nil) {
		return &TaskError{Reason: ReasonCanceled, URL: rawURL, Err: err}
	}
	return &TaskError{Reason: ReasonTransientNetwork, URL: rawURL, Err: err}
}

// ReasonOf extracts the failure reason carried by err.
func ReasonOf(err error) FailureReason {
	if err == nil {
		return ReasonNone
	}
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Reason
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonCanceled
	}
	if errors.Is(err, ErrStageClosed) {
		return ReasonCanceled
	}
	return ReasonTransientNetwork
}

// IsSuccessStatus reports whether code is 2xx.
func IsSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}
