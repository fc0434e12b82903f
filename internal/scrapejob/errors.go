package scrapejob

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ─── Sentinel errors ─────────────────────────────────────────────────────────

// ErrNotFound is returned when a request is missing or does not belong to the user.
var ErrNotFound = errors.New("scrape job not found")

// ErrConflict is returned when a transition's expected source status no
// longer matches the stored row.
var ErrConflict = errors.New("scrape job status changed concurrently")

// ErrAborted is returned when a forward transition is refused because an
// abort has been requested.
var ErrAborted = errors.New("scrape job abort requested")

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// AdapterError lets an adapter attach a message that is safe to show users.
type AdapterError struct {
	Msg string
	Err error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Stage names used in failure messages and logs.
const (
	stageScrape = "scrape"
	stageFilter = "filter"
	stageEnrich = "enrich"
)

var stageFailures = map[string]string{
	stageScrape: "We couldn't fetch jobs for this search. Please try again.",
	stageFilter: "We couldn't filter the jobs we found. Please try again.",
	stageEnrich: "We couldn't look up contacts for the jobs we found. Please try again.",
}

// failureMessage converts an adapter error into the errorMessage stored on
// a failed request. Raw adapter errors are never stored.
func failureMessage(stage string, err error, timeout time.Duration) string {
	var ae *AdapterError
	if errors.As(err, &ae) && ae.Msg != "" {
		return ae.Msg
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("The %s step timed out after %s. Please try again.", stage, timeout)
	}
	if msg, ok := stageFailures[stage]; ok {
		return msg
	}
	return "Something went wrong while running this search."
}
