// Package scrapejob defines the lifecycle of a job-scrape request.
//
// Valid status graph:
//
//	pending ──► processing ──► filtering ──► enriching ──► completed
//	   │             │              │             │
//	   └─────────────┴──────────────┴─────────────┴──► failed | cancelled
//
// completed, failed and cancelled are terminal states.
package scrapejob

import "fmt"

// Status values mirror the scrape_job_status column.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFiltering  Status = "filtering"
	StatusEnriching  Status = "enriching"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusFiltering, StatusFailed, StatusCancelled},
	StatusFiltering:  {StatusEnriching, StatusFailed, StatusCancelled},
	StatusEnriching:  {StatusCompleted, StatusFailed, StatusCancelled},
	// completed, failed and cancelled are terminal: no outgoing transitions
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusProcessing, StatusFiltering, StatusEnriching,
		StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown scrape job status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsAbortExit reports whether s is a state the chain may still reach after
// an abort was requested.
func (s Status) IsAbortExit() bool {
	return s == StatusFailed || s == StatusCancelled
}

// rank orders the happy path; terminal side exits share the highest rank so
// an observer never sees progress move backwards.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusFiltering:
		return 2
	case StatusEnriching:
		return 3
	default:
		return 4
	}
}

// Precedes reports whether a snapshot in status s can be followed by one in
// status next for the same request.
func (s Status) Precedes(next Status) bool {
	if s.IsTerminal() {
		return next == s
	}
	return next.rank() >= s.rank()
}
