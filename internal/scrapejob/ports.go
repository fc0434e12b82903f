package scrapejob

import (
	"context"
	"time"
)

// ScrapeResult is what a finished provider run produced. ReportedTotal is
// zero when the provider does not know how many jobs matched in total.
type ScrapeResult struct {
	Listings      []Listing
	ReportedTotal int
}

// Scraper is the scrape provider adapter. Start launches a run and returns
// an opaque handle; Wait blocks until that run finishes; Abort is best effort.
type Scraper interface {
	Start(ctx context.Context, params SearchParams) (handle string, err error)
	Wait(ctx context.Context, handle string) (ScrapeResult, error)
	Abort(ctx context.Context, handle string) error
}

// Enricher is the enrichment adapter. Each stage may fail independently.
type Enricher interface {
	Filter(ctx context.Context, listings []Listing, params SearchParams) ([]Listing, error)
	Enrich(ctx context.Context, listings []Listing, resumeText string) ([]EnrichedJob, error)
}

// Store persists JobRequests. Every write is a single-row atomic update.
type Store interface {
	Create(ctx context.Context, req *JobRequest) error

	// Get returns ErrNotFound when no row has this id.
	Get(ctx context.Context, id string) (*JobRequest, error)

	// Advance moves a row from → to, writing u in the same statement.
	// It returns ErrConflict when the row is no longer in from, and
	// ErrAborted when abort was requested and to is not an abort exit.
	Advance(ctx context.Context, id string, from, to Status, u Update) (*JobRequest, error)

	// RequestAbort sets abortRequested on a non-terminal row and returns
	// the row as stored afterwards. Terminal rows are returned unchanged.
	RequestAbort(ctx context.Context, id string) (*JobRequest, error)

	// ListStale returns non-terminal rows last updated before the cutoff.
	ListStale(ctx context.Context, before time.Time) ([]JobRequest, error)
}

// Publisher receives a StatusEvent after every transition. Failures are
// logged by the caller and never affect the request.
type Publisher interface {
	Publish(ctx context.Context, ev StatusEvent) error
}

// Subscriber streams StatusEvents for a single request.
type Subscriber interface {
	Subscribe(requestID string) (events <-chan StatusEvent, cancel func())
}
