package scrapejob_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"jobmate/scrape-service/internal/enrich"
	"jobmate/scrape-service/internal/scrapejob"
	"jobmate/scrape-service/internal/store"
)

// gate blocks until ch is closed or ctx is done. A nil gate only checks ctx.
func gate(ctx context.Context, ch chan struct{}) error {
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fakeScraper is a scripted scrape provider.
type fakeScraper struct {
	startGate, waitGate chan struct{}
	startErr, waitErr   error
	result              scrapejob.ScrapeResult

	mu      sync.Mutex
	starts  int
	aborted []string
}

func (f *fakeScraper) Start(ctx context.Context, p scrapejob.SearchParams) (string, error) {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	if err := gate(ctx, f.startGate); err != nil {
		return "", err
	}
	if f.startErr != nil {
		return "", f.startErr
	}
	return "run-" + p.Keyword, nil
}

func (f *fakeScraper) Wait(ctx context.Context, _ string) (scrapejob.ScrapeResult, error) {
	if err := gate(ctx, f.waitGate); err != nil {
		return scrapejob.ScrapeResult{}, err
	}
	if f.waitErr != nil {
		return scrapejob.ScrapeResult{}, f.waitErr
	}
	return f.result, nil
}

func (f *fakeScraper) Abort(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, handle)
	return nil
}

func (f *fakeScraper) abortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.aborted)
}

// gatedEnricher runs the real enricher behind optional gates and errors.
type gatedEnricher struct {
	filterGate, enrichGate chan struct{}
	filterErr, enrichErr   error
	real                   *enrich.Enricher
}

func newGatedEnricher() *gatedEnricher {
	return &gatedEnricher{real: enrich.New(nil)}
}

func (g *gatedEnricher) Filter(ctx context.Context, l []scrapejob.Listing, p scrapejob.SearchParams) ([]scrapejob.Listing, error) {
	if err := gate(ctx, g.filterGate); err != nil {
		return nil, err
	}
	if g.filterErr != nil {
		return nil, g.filterErr
	}
	return g.real.Filter(ctx, l, p)
}

func (g *gatedEnricher) Enrich(ctx context.Context, l []scrapejob.Listing, resume string) ([]scrapejob.EnrichedJob, error) {
	if err := gate(ctx, g.enrichGate); err != nil {
		return nil, err
	}
	if g.enrichErr != nil {
		return nil, g.enrichErr
	}
	return g.real.Enrich(ctx, l, resume)
}

// recorder captures published events in order.
type recorder struct {
	mu     sync.Mutex
	events []scrapejob.StatusEvent
}

func (r *recorder) Publish(_ context.Context, ev scrapejob.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) transitions(requestID string) []scrapejob.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []scrapejob.Status
	for _, ev := range r.events {
		if ev.RequestID == requestID {
			out = append(out, ev.To)
		}
	}
	return out
}

func sampleListings(n int) []scrapejob.Listing {
	out := make([]scrapejob.Listing, n)
	for i := range out {
		out[i] = scrapejob.Listing{
			ExternalID:  string(rune('a' + i)),
			Title:       "Software Engineer",
			Company:     "Acme",
			Location:    "Remote",
			URL:         "https://www.linkedin.com/jobs/view/" + string(rune('a'+i)),
			Description: "Write to talent@acme.io",
		}
	}
	return out
}

type harness struct {
	svc      *scrapejob.Service
	store    *store.Memory
	scraper  *fakeScraper
	enricher *gatedEnricher
	events   *recorder
}

func newHarness(t *testing.T, sc *fakeScraper, en *gatedEnricher, opts ...scrapejob.Option) *harness {
	t.Helper()
	if sc == nil {
		sc = &fakeScraper{result: scrapejob.ScrapeResult{Listings: sampleListings(3)}}
	}
	if en == nil {
		en = newGatedEnricher()
	}
	h := &harness{store: store.NewMemory(), scraper: sc, enricher: en, events: &recorder{}}

	opts = append([]scrapejob.Option{scrapejob.WithPublisher(h.events)}, opts...)
	svc, err := scrapejob.NewService(h.store, sc, en, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return h
}

func validInput() scrapejob.StartInput {
	n := 100
	return scrapejob.StartInput{Keyword: "Software Engineer", Location: "Remote", WorkType: "remote", JobCount: &n}
}

func (h *harness) start(t *testing.T, userID string) string {
	t.Helper()
	req, err := h.svc.Start(context.Background(), userID, validInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return req.ID
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitStatus(t *testing.T, userID, id string, want scrapejob.Status) *scrapejob.JobRequest {
	t.Helper()
	var last *scrapejob.JobRequest
	waitFor(t, "status "+string(want), func() bool {
		req, err := h.svc.Get(context.Background(), userID, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		last = req
		return req.Status == want
	})
	return last
}

func (h *harness) waitTerminal(t *testing.T, userID, id string) *scrapejob.JobRequest {
	t.Helper()
	var last *scrapejob.JobRequest
	waitFor(t, "terminal status", func() bool {
		req, err := h.svc.Get(context.Background(), userID, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		last = req
		return req.Status.IsTerminal()
	})
	return last
}
