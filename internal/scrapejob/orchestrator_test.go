package scrapejob_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"jobmate/scrape-service/internal/scrapejob"
)

func TestNewService_RequiresDependencies(t *testing.T) {
	sc := &fakeScraper{}
	en := newGatedEnricher()
	h := newHarness(t, nil, nil)
	cases := []struct {
		name string
		fn   func() (*scrapejob.Service, error)
	}{
		{"store", func() (*scrapejob.Service, error) { return scrapejob.NewService(nil, sc, en) }},
		{"scraper", func() (*scrapejob.Service, error) { return scrapejob.NewService(h.store, nil, en) }},
		{"enricher", func() (*scrapejob.Service, error) { return scrapejob.NewService(h.store, sc, nil) }},
	}
	for _, tc := range cases {
		if _, err := tc.fn(); err == nil {
			t.Errorf("NewService without %s returned nil error", tc.name)
		}
	}
}

// The happy path walks every status in order.
func TestStart_CompletesInOrder(t *testing.T) {
	h := newHarness(t, nil, nil)

	req, err := h.svc.Start(context.Background(), "u1", validInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if req.Status != scrapejob.StatusPending {
		t.Errorf("Start returned status %q, want pending", req.Status)
	}

	final := h.waitTerminal(t, "u1", req.ID)
	if final.Status != scrapejob.StatusCompleted {
		t.Fatalf("final status = %q, want completed (err=%v)", final.Status, final.ErrorMessage)
	}
	want := []scrapejob.Status{
		scrapejob.StatusProcessing,
		scrapejob.StatusFiltering,
		scrapejob.StatusEnriching,
		scrapejob.StatusCompleted,
	}
	if got := h.events.transitions(req.ID); !reflect.DeepEqual(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	if final.ErrorMessage != nil {
		t.Errorf("completed request has errorMessage %q", *final.ErrorMessage)
	}
	er := final.EnrichedResults
	if er == nil || er.Jobs == nil {
		t.Fatalf("completed request has no enriched jobs: %+v", er)
	}
	if len(er.Jobs) != 3 || er.TotalJobsFound <= 0 {
		t.Errorf("enriched = %d jobs, total %d", len(er.Jobs), er.TotalJobsFound)
	}
	if er.ContactsFound != 3 {
		t.Errorf("ContactsFound = %d, want 3", er.ContactsFound)
	}
	if len(final.RawResults) != 3 || len(final.FilteredResults) != 3 {
		t.Errorf("raw=%d filtered=%d, want 3/3", len(final.RawResults), len(final.FilteredResults))
	}
	if final.ProviderHandle != "" {
		t.Errorf("ProviderHandle = %q after completion, want cleared", final.ProviderHandle)
	}
}

func TestStart_UniqueIDs(t *testing.T) {
	h := newHarness(t, nil, nil)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := h.start(t, "u1")
		if seen[id] {
			t.Fatalf("duplicate request id %s", id)
		}
		seen[id] = true
	}
}

func TestStart_ValidationCreatesNothing(t *testing.T) {
	h := newHarness(t, nil, nil)

	for _, in := range []scrapejob.StartInput{
		{Location: "Paris"},
		{Keyword: "go", Location: "Paris", WorkType: "office"},
	} {
		_, err := h.svc.Start(context.Background(), "u1", in)
		var ve *scrapejob.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Start(%+v) error = %v, want ValidationError", in, err)
		}
	}
	if _, err := h.svc.Start(context.Background(), "", validInput()); err == nil {
		t.Error("Start without user returned nil error")
	}

	stale, err := h.store.ListStale(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("rejected starts created %d rows", len(stale))
	}
	if h.scraper.starts != 0 {
		t.Errorf("scraper started %d times for rejected input", h.scraper.starts)
	}
}

func TestStart_EmptyScrapeCompletes(t *testing.T) {
	h := newHarness(t, &fakeScraper{}, nil)
	id := h.start(t, "u1")

	final := h.waitTerminal(t, "u1", id)
	if final.Status != scrapejob.StatusCompleted {
		t.Fatalf("status = %q, want completed", final.Status)
	}
	if final.EnrichedResults == nil || final.EnrichedResults.Jobs == nil || len(final.EnrichedResults.Jobs) != 0 {
		t.Errorf("enriched = %+v, want empty job list", final.EnrichedResults)
	}
	if final.EnrichedResults.TotalJobsFound != 0 {
		t.Errorf("TotalJobsFound = %d, want 0", final.EnrichedResults.TotalJobsFound)
	}
	if final.RawResults == nil {
		t.Error("RawResults is nil, want empty list")
	}
}

func TestStart_FreeVisibleJobs(t *testing.T) {
	sc := &fakeScraper{result: scrapejob.ScrapeResult{Listings: sampleListings(5), ReportedTotal: 120}}
	h := newHarness(t, sc, nil, scrapejob.WithFreeVisibleJobs(2))
	final := h.waitTerminal(t, "u1", h.start(t, "u1"))

	er := final.EnrichedResults
	if er == nil {
		t.Fatal("no enriched results")
	}
	if er.TotalJobsFound != 120 || er.LockedJobs != 118 {
		t.Errorf("total=%d locked=%d, want 120/118", er.TotalJobsFound, er.LockedJobs)
	}
	if er.Jobs[1].Locked || !er.Jobs[2].Locked || len(er.Jobs[2].Emails) != 0 {
		t.Errorf("locking = %+v", er.Jobs)
	}
}

// Aborting right after start never completes.
func TestAbort_ImmediatelyAfterStart(t *testing.T) {
	sc := &fakeScraper{waitGate: make(chan struct{}), result: scrapejob.ScrapeResult{Listings: sampleListings(2)}}
	h := newHarness(t, sc, nil)
	id := h.start(t, "u1")

	if _, err := h.svc.Abort(context.Background(), "u1", id); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	final := h.waitTerminal(t, "u1", id)
	if final.Status != scrapejob.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
	if !final.AbortRequested {
		t.Error("abortRequested = false on cancelled request")
	}
	if final.ErrorMessage != nil || final.EnrichedResults != nil {
		t.Errorf("cancelled request carries error %v / results %v", final.ErrorMessage, final.EnrichedResults)
	}
	for _, st := range h.events.transitions(id) {
		if st == scrapejob.StatusCompleted {
			t.Fatal("aborted request published completed")
		}
	}
}

func TestAbort_DuringProcessingAbortsProvider(t *testing.T) {
	sc := &fakeScraper{waitGate: make(chan struct{})}
	h := newHarness(t, sc, nil)
	id := h.start(t, "u1")
	h.waitStatus(t, "u1", id, scrapejob.StatusProcessing)

	if _, err := h.svc.Abort(context.Background(), "u1", id); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if final := h.waitTerminal(t, "u1", id); final.Status != scrapejob.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
	// The chain sends the provider abort before it records cancelled.
	if n := sc.abortCount(); n != 1 {
		t.Fatalf("provider abort sent %d times, want 1", n)
	}
	sc.mu.Lock()
	handle := sc.aborted[0]
	sc.mu.Unlock()
	if handle != "run-Software Engineer" {
		t.Errorf("aborted handle = %q", handle)
	}
}

// An abort received by an instance that is not running the chain stops the
// provider from there; the owning chain sees the flag when its stage returns.
func TestAbort_FromAnotherInstance(t *testing.T) {
	owner := newHarness(t, &fakeScraper{waitGate: make(chan struct{})}, nil,
		scrapejob.WithStageTimeout(300*time.Millisecond))
	id := owner.start(t, "u1")
	owner.waitStatus(t, "u1", id, scrapejob.StatusProcessing)

	otherScraper := &fakeScraper{}
	other, err := scrapejob.NewService(owner.store, otherScraper, newGatedEnricher())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := other.Abort(context.Background(), "u1", id); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	waitFor(t, "remote provider abort", func() bool { return otherScraper.abortCount() == 1 })

	if final := owner.waitTerminal(t, "u1", id); final.Status != scrapejob.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := other.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAbort_AfterCloseSkipsProviderCall(t *testing.T) {
	owner := newHarness(t, &fakeScraper{waitGate: make(chan struct{})}, nil,
		scrapejob.WithStageTimeout(300*time.Millisecond))
	id := owner.start(t, "u1")
	owner.waitStatus(t, "u1", id, scrapejob.StatusProcessing)

	otherScraper := &fakeScraper{}
	other, err := scrapejob.NewService(owner.store, otherScraper, newGatedEnricher())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := other.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	req, err := other.Abort(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("Abort after Close: %v", err)
	}
	if !req.AbortRequested {
		t.Error("abort flag not recorded")
	}
	if n := otherScraper.abortCount(); n != 0 {
		t.Errorf("closed service sent %d provider aborts", n)
	}
	if final := owner.waitTerminal(t, "u1", id); final.Status != scrapejob.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
}

func TestAbort_DuringEnrichingStillCancels(t *testing.T) {
	en := newGatedEnricher()
	en.enrichGate = make(chan struct{})
	h := newHarness(t, nil, en)
	id := h.start(t, "u1")
	h.waitStatus(t, "u1", id, scrapejob.StatusEnriching)

	if _, err := h.svc.Abort(context.Background(), "u1", id); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	final := h.waitTerminal(t, "u1", id)
	if final.Status != scrapejob.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
	if len(final.FilteredResults) == 0 {
		t.Error("results of finished stages were discarded")
	}
	if final.ProviderHandle != "" {
		t.Errorf("ProviderHandle = %q after the scrape finished, want cleared", final.ProviderHandle)
	}
}

func TestAbort_Idempotent(t *testing.T) {
	sc := &fakeScraper{waitGate: make(chan struct{})}
	h := newHarness(t, sc, nil)
	id := h.start(t, "u1")

	for i := 0; i < 3; i++ {
		if _, err := h.svc.Abort(context.Background(), "u1", id); err != nil {
			t.Fatalf("Abort #%d: %v", i+1, err)
		}
	}
	final := h.waitTerminal(t, "u1", id)

	again, err := h.svc.Abort(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("Abort on terminal request: %v", err)
	}
	if again.Status != final.Status || !again.UpdatedAt.Equal(final.UpdatedAt) {
		t.Errorf("Abort changed a terminal request: %+v, then %+v", final, again)
	}

	cancelled := 0
	for _, st := range h.events.transitions(id) {
		if st == scrapejob.StatusCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Errorf("published cancelled %d times, want 1", cancelled)
	}
}

func TestAbort_CompletedIsNoop(t *testing.T) {
	h := newHarness(t, nil, nil)
	id := h.start(t, "u1")
	done := h.waitTerminal(t, "u1", id)

	got, err := h.svc.Abort(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if got.Status != scrapejob.StatusCompleted || got.AbortRequested {
		t.Errorf("Abort on completed = %+v", got)
	}
	if h.scraper.abortCount() != 0 {
		t.Error("provider abort sent for a completed request")
	}
	after, _ := h.svc.Get(context.Background(), "u1", id)
	if !reflect.DeepEqual(after, done) {
		t.Error("completed request changed after abort")
	}
}

func TestOwnership(t *testing.T) {
	sc := &fakeScraper{waitGate: make(chan struct{})}
	h := newHarness(t, sc, nil)
	id := h.start(t, "owner")

	if _, err := h.svc.Get(context.Background(), "intruder", id); !errors.Is(err, scrapejob.ErrNotFound) {
		t.Errorf("foreign Get error = %v, want ErrNotFound", err)
	}
	if _, err := h.svc.Get(context.Background(), "owner", "no-such-id"); !errors.Is(err, scrapejob.ErrNotFound) {
		t.Errorf("missing Get error = %v, want ErrNotFound", err)
	}
	if _, err := h.svc.Abort(context.Background(), "intruder", id); !errors.Is(err, scrapejob.ErrNotFound) {
		t.Errorf("foreign Abort error = %v, want ErrNotFound", err)
	}

	req, err := h.svc.Get(context.Background(), "owner", id)
	if err != nil {
		t.Fatalf("owner Get: %v", err)
	}
	if req.AbortRequested {
		t.Error("foreign abort set abortRequested")
	}
}

// Adapter failures end in failed with a sanitized message.
func TestStageFailures(t *testing.T) {
	cases := []struct {
		name    string
		scraper *fakeScraper
		enrich  func(*gatedEnricher)
		wantMsg string
	}{
		{
			name:    "start fails",
			scraper: &fakeScraper{startErr: errors.New("HTTP 401 token=secret")},
			wantMsg: "couldn't fetch jobs",
		},
		{
			name:    "wait fails",
			scraper: &fakeScraper{waitErr: errors.New("connection reset")},
			wantMsg: "couldn't fetch jobs",
		},
		{
			name: "adapter message",
			scraper: &fakeScraper{waitErr: &scrapejob.AdapterError{
				Msg: "The job scraper could not complete this search.",
				Err: errors.New("actor run failed"),
			}},
			wantMsg: "could not complete this search",
		},
		{
			name:    "filter fails",
			enrich:  func(g *gatedEnricher) { g.filterErr = errors.New("boom") },
			wantMsg: "couldn't filter",
		},
		{
			name:    "enrich fails",
			enrich:  func(g *gatedEnricher) { g.enrichErr = errors.New("boom") },
			wantMsg: "couldn't look up contacts",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc := tc.scraper
			if sc == nil {
				sc = &fakeScraper{result: scrapejob.ScrapeResult{Listings: sampleListings(2)}}
			}
			en := newGatedEnricher()
			if tc.enrich != nil {
				tc.enrich(en)
			}
			h := newHarness(t, sc, en)
			final := h.waitTerminal(t, "u1", h.start(t, "u1"))

			if final.Status != scrapejob.StatusFailed {
				t.Fatalf("status = %q, want failed", final.Status)
			}
			if final.ErrorMessage == nil {
				t.Fatal("failed request has no errorMessage")
			}
			if !strings.Contains(*final.ErrorMessage, tc.wantMsg) {
				t.Errorf("errorMessage = %q, want it to contain %q", *final.ErrorMessage, tc.wantMsg)
			}
			if strings.Contains(*final.ErrorMessage, "secret") {
				t.Errorf("errorMessage leaks adapter detail: %q", *final.ErrorMessage)
			}
			if final.EnrichedResults != nil {
				t.Errorf("failed request has enriched results")
			}
		})
	}
}

func TestStageTimeout(t *testing.T) {
	sc := &fakeScraper{waitGate: make(chan struct{})}
	h := newHarness(t, sc, nil, scrapejob.WithStageTimeout(30*time.Millisecond))
	final := h.waitTerminal(t, "u1", h.start(t, "u1"))

	if final.Status != scrapejob.StatusFailed {
		t.Fatalf("status = %q, want failed", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "timed out") {
		t.Errorf("errorMessage = %v, want a timeout message", final.ErrorMessage)
	}
}

func TestExpireStale(t *testing.T) {
	sc := &fakeScraper{waitGate: make(chan struct{})}
	h := newHarness(t, sc, nil)
	running := h.start(t, "u1")
	h.waitStatus(t, "u1", running, scrapejob.StatusProcessing)

	n, err := h.svc.ExpireStale(context.Background(), time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("ExpireStale(past) = %d, %v; want 0", n, err)
	}

	n, err = h.svc.ExpireStale(context.Background(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	final := h.waitTerminal(t, "u1", running)
	if final.Status != scrapejob.StatusFailed || final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "timed out") {
		t.Errorf("expired request = %s %v", final.Status, final.ErrorMessage)
	}
}

func TestClose_FailsInFlight(t *testing.T) {
	sc := &fakeScraper{waitGate: make(chan struct{})}
	h := newHarness(t, sc, nil)
	id := h.start(t, "u1")
	h.waitStatus(t, "u1", id, scrapejob.StatusProcessing)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.svc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	req, err := h.svc.Get(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if req.Status != scrapejob.StatusFailed || req.ErrorMessage == nil || !strings.Contains(*req.ErrorMessage, "interrupted") {
		t.Errorf("after Close = %s %v, want failed/interrupted", req.Status, req.ErrorMessage)
	}
	if _, err := h.svc.Start(context.Background(), "u1", validInput()); err == nil {
		t.Error("Start after Close returned nil error")
	}
}

// Terminal snapshots serialize identically on every read.
func TestTerminalReadsAreStable(t *testing.T) {
	h := newHarness(t, nil, nil)
	id := h.start(t, "u1")
	h.waitTerminal(t, "u1", id)

	var first []byte
	for i := 0; i < 5; i++ {
		req, err := h.svc.Get(context.Background(), "u1", id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		resp := scrapejob.NewStatusResponse(req)
		if resp.PollIntervalMs != 0 {
			t.Errorf("pollIntervalMs = %d on terminal request, want 0", resp.PollIntervalMs)
		}
		b, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if first == nil {
			first = b
			continue
		}
		if string(b) != string(first) {
			t.Fatalf("read %d differs:\n%s\n%s", i, first, b)
		}
	}
}

// Concurrent pollers observe the same monotonic sequence.
func TestConcurrentPollersAgree(t *testing.T) {
	sc := &fakeScraper{
		startGate: make(chan struct{}),
		waitGate:  make(chan struct{}),
		result:    scrapejob.ScrapeResult{Listings: sampleListings(2)},
	}
	en := newGatedEnricher()
	en.filterGate = make(chan struct{})
	en.enrichGate = make(chan struct{})
	h := newHarness(t, sc, en)
	id := h.start(t, "u1")

	type poller struct {
		mu   sync.Mutex
		seen []scrapejob.Status
	}
	last := func(p *poller) scrapejob.Status {
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.seen) == 0 {
			return ""
		}
		return p.seen[len(p.seen)-1]
	}

	pollers := []*poller{{}, {}}
	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func(p *poller) {
			defer wg.Done()
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				req, err := h.svc.Get(context.Background(), "u1", id)
				if err == nil {
					p.mu.Lock()
					if n := len(p.seen); n == 0 || p.seen[n-1] != req.Status {
						p.seen = append(p.seen, req.Status)
					}
					p.mu.Unlock()
					if req.Status.IsTerminal() {
						return
					}
				}
				time.Sleep(time.Millisecond)
			}
		}(p)
	}

	steps := []struct {
		status scrapejob.Status
		gate   chan struct{}
	}{
		{scrapejob.StatusPending, sc.startGate},
		{scrapejob.StatusProcessing, sc.waitGate},
		{scrapejob.StatusFiltering, en.filterGate},
		{scrapejob.StatusEnriching, en.enrichGate},
	}
	for _, s := range steps {
		waitFor(t, fmt.Sprintf("both pollers at %s", s.status), func() bool {
			return last(pollers[0]) == s.status && last(pollers[1]) == s.status
		})
		close(s.gate)
	}
	wg.Wait()

	want := []scrapejob.Status{
		scrapejob.StatusPending,
		scrapejob.StatusProcessing,
		scrapejob.StatusFiltering,
		scrapejob.StatusEnriching,
		scrapejob.StatusCompleted,
	}
	for i, p := range pollers {
		if !reflect.DeepEqual(p.seen, want) {
			t.Errorf("poller %d saw %v, want %v", i, p.seen, want)
		}
	}
}
