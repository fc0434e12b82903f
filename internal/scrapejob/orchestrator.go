package scrapejob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobmate/scrape-service/internal/logging"
)

const (
	defaultStageTimeout = 4 * time.Minute
	storeWriteTimeout   = 10 * time.Second
	providerAbortWait   = 15 * time.Second
)

// ─── Options ─────────────────────────────────────────────────────────────────

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the transition event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithStageTimeout bounds every adapter call.
func WithStageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stageTimeout = d
		}
	}
}

// WithLimits sets the default and maximum requested job count.
func WithLimits(l Limits) Option {
	return func(s *Service) { s.limits = l }
}

// WithFreeVisibleJobs sets how many enriched jobs are shown unlocked.
// Zero unlocks every job.
func WithFreeVisibleJobs(n int) Option {
	return func(s *Service) { s.freeVisible = n }
}

// WithIDGenerator replaces uuid v4 request ids.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service owns the lifecycle of JobRequests: it creates them, runs the
// scrape → filter → enrich chain for each one and applies aborts.
type Service struct {
	store    Store
	scraper  Scraper
	enricher Enricher
	pub      Publisher
	log      *logging.Logger

	stageTimeout time.Duration
	limits       Limits
	freeVisible  int
	newID        func() string

	ctx      context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewService returns a configured Service.
func NewService(store Store, scraper Scraper, enricher Enricher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("scrapejob.Service: store is required")
	}
	if scraper == nil {
		return nil, fmt.Errorf("scrapejob.Service: scraper is required")
	}
	if enricher == nil {
		return nil, fmt.Errorf("scrapejob.Service: enricher is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:        store,
		scraper:      scraper,
		enricher:     enricher,
		log:          logging.NewNop(),
		stageTimeout: defaultStageTimeout,
		limits:       DefaultLimits,
		newID:        uuid.NewString,
		ctx:          ctx,
		shutdown:     cancel,
		running:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "orchestrator")
	return s, nil
}

// Limits returns the job count bounds applied by Start.
func (s *Service) Limits() Limits { return s.limits }

// Start validates the input, creates a pending request and runs its step
// chain in the background. It returns as soon as the row exists.
func (s *Service) Start(ctx context.Context, userID string, in StartInput) (*JobRequest, error) {
	if userID == "" {
		return nil, &ValidationError{Msg: "missing user"}
	}
	params, err := Normalize(in, s.limits)
	if err != nil {
		return nil, err
	}
	if s.ctx.Err() != nil {
		return nil, fmt.Errorf("scrapejob.Service: shutting down")
	}

	req := &JobRequest{
		ID:           s.newID(),
		UserID:       userID,
		SearchParams: params,
		Status:       StatusPending,
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create scrape job: %w", err)
	}
	s.log.Info("scrape job created", "requestId", req.ID, "userId", userID,
		"keyword", params.Keyword, "location", params.Location, "workType", params.WorkType,
		"jobCount", params.JobCount)

	runCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		cancel()
		c := &chain{id: req.ID, userID: userID, status: StatusPending}
		s.fail(ctx, c, "This search was interrupted. Please try again.")
		return nil, fmt.Errorf("scrapejob.Service: shutting down")
	}
	s.running[req.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx, *req)

	return req, nil
}

// Get returns the current snapshot of a request owned by userID.
// Missing and foreign ids are indistinguishable.
func (s *Service) Get(ctx context.Context, userID, requestID string) (*JobRequest, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get scrape job: %w", err)
	}
	if req.UserID != userID {
		return nil, ErrNotFound
	}
	return req, nil
}

// Abort requests cancellation of a request owned by userID. Aborting a
// terminal request is a successful no-op. The final transition to cancelled
// happens on the request's own step chain.
func (s *Service) Abort(ctx context.Context, userID, requestID string) (*JobRequest, error) {
	req, err := s.Get(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return req, nil
	}

	req, err = s.store.RequestAbort(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("request abort: %w", err)
	}
	if req.Status.IsTerminal() {
		return req, nil
	}
	s.log.Info("scrape job abort requested", "requestId", requestID, "status", req.Status)

	// A local chain aborts the provider itself once its stage returns.
	// Otherwise the chain runs elsewhere and the provider is told here.
	s.mu.Lock()
	cancel, local := s.running[requestID]
	if local {
		cancel()
	}
	remote := !local && req.Status == StatusProcessing && req.ProviderHandle != "" && s.ctx.Err() == nil
	if remote {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if remote {
		go func(handle string) {
			defer s.wg.Done()
			s.abortProvider(requestID, handle)
		}(req.ProviderHandle)
	}
	return req, nil
}

// ExpireStale fails every non-terminal request not updated since before.
// It returns how many requests were expired.
func (s *Service) ExpireStale(ctx context.Context, before time.Time) (int, error) {
	stale, err := s.store.ListStale(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("list stale scrape jobs: %w", err)
	}

	expired := 0
	for _, req := range stale {
		msg := "This search timed out. Please try again."
		if _, err := s.store.Advance(ctx, req.ID, req.Status, StatusFailed, Update{ErrorMessage: &msg}); err != nil {
			if !errors.Is(err, ErrConflict) {
				s.log.Warn("expire stale scrape job failed", "requestId", req.ID, "err", err)
			}
			continue
		}
		expired++
		s.log.Warn("scrape job expired", "requestId", req.ID, "status", req.Status, "updatedAt", req.UpdatedAt)
		s.publish(req.ID, req.UserID, req.Status, StatusFailed)

		s.mu.Lock()
		if cancel, ok := s.running[req.ID]; ok {
			cancel()
		}
		s.mu.Unlock()
	}
	return expired, nil
}

// Close stops accepting requests, cancels in-flight step chains and waits
// for them to record a terminal state or for ctx to expire.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown()
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Step chain ──────────────────────────────────────────────────────────────

// chain tracks the state of one request while its stages run.
type chain struct {
	id     string
	userID string
	status Status
	handle string
}

func (s *Service) run(ctx context.Context, req JobRequest) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.running[req.ID]; ok {
			cancel()
			delete(s.running, req.ID)
		}
		s.mu.Unlock()
	}()

	c := &chain{id: req.ID, userID: req.UserID, status: StatusPending}
	params := req.SearchParams

	handle, err := s.startScrape(ctx, params)
	c.handle = handle
	if !s.advance(ctx, c, StatusProcessing, Update{ProviderHandle: &handle}, stageScrape, err) {
		return
	}

	result, err := s.waitScrape(ctx, handle)
	raw := nonNilListings(result.Listings)
	noHandle := ""
	if !s.advance(ctx, c, StatusFiltering, Update{RawResults: raw, ProviderHandle: &noHandle}, stageScrape, err) {
		return
	}
	c.handle = ""

	filtered, err := s.filter(ctx, raw, params)
	filtered = nonNilListings(filtered)
	if !s.advance(ctx, c, StatusEnriching, Update{FilteredResults: filtered}, stageFilter, err) {
		return
	}

	jobs, err := s.enrich(ctx, filtered, params.ResumeText)
	var u Update
	if err == nil {
		results := BuildResults(req.ID, jobs, result.ReportedTotal, s.freeVisible)
		u.EnrichedResults = &results
	}
	s.advance(ctx, c, StatusCompleted, u, stageEnrich, err)
}

// advance records the outcome of a stage. On success it moves the request
// to next; on abort it moves it to cancelled; on adapter failure to failed.
// It reports whether the chain should continue.
func (s *Service) advance(ctx context.Context, c *chain, next Status, u Update, stage string, stageErr error) bool {
	log := s.log.With("requestId", c.id, "stage", stage)

	if stageErr == nil {
		wctx, done := s.writeCtx(ctx)
		_, err := s.store.Advance(wctx, c.id, c.status, next, u)
		done()
		if err == nil {
			log.Info("scrape job advanced", "from", c.status, "to", next)
			s.publish(c.id, c.userID, c.status, next)
			c.status = next
			return true
		}
		switch {
		case errors.Is(err, ErrAborted):
			s.cancel(ctx, c, u)
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
			log.Warn("scrape job changed under the step chain; stopping", "from", c.status, "to", next, "err", err)
		default:
			log.Error("persist stage result failed", "from", c.status, "to", next, "err", err)
			s.fail(ctx, c, "We couldn't save the results of this search. Please try again.")
		}
		return false
	}

	if s.abortRequested(ctx, c.id) {
		log.Info("stage returned after abort", "err", stageErr)
		s.cancel(ctx, c, Update{})
		return false
	}
	if s.ctx.Err() != nil {
		log.Warn("stage interrupted by shutdown", "err", stageErr)
		s.fail(ctx, c, "This search was interrupted. Please try again.")
		return false
	}

	log.Warn("stage failed", "err", stageErr)
	s.fail(ctx, c, failureMessage(stage, stageErr, s.stageTimeout))
	return false
}

func (s *Service) cancel(ctx context.Context, c *chain, u Update) {
	if c.handle != "" {
		s.abortProvider(c.id, c.handle)
	}
	u.EnrichedResults = nil
	u.ErrorMessage = nil
	wctx, done := s.writeCtx(ctx)
	defer done()
	if _, err := s.store.Advance(wctx, c.id, c.status, StatusCancelled, u); err != nil {
		s.log.Warn("cancel scrape job failed", "requestId", c.id, "from", c.status, "err", err)
		return
	}
	s.log.Info("scrape job cancelled", "requestId", c.id, "from", c.status)
	s.publish(c.id, c.userID, c.status, StatusCancelled)
	c.status = StatusCancelled
}

func (s *Service) fail(ctx context.Context, c *chain, msg string) {
	wctx, done := s.writeCtx(ctx)
	defer done()
	if _, err := s.store.Advance(wctx, c.id, c.status, StatusFailed, Update{ErrorMessage: &msg}); err != nil {
		s.log.Warn("fail scrape job failed", "requestId", c.id, "from", c.status, "err", err)
		return
	}
	s.publish(c.id, c.userID, c.status, StatusFailed)
	c.status = StatusFailed
}

func (s *Service) abortRequested(ctx context.Context, id string) bool {
	wctx, done := s.writeCtx(ctx)
	defer done()
	req, err := s.store.Get(wctx, id)
	if err != nil {
		s.log.Warn("read abort flag failed", "requestId", id, "err", err)
		return false
	}
	return req.AbortRequested
}

func (s *Service) abortProvider(id, handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), providerAbortWait)
	defer cancel()
	if err := s.scraper.Abort(ctx, handle); err != nil {
		s.log.Warn("provider abort failed", "requestId", id, "handle", handle, "err", err)
		return
	}
	s.log.Info("provider abort sent", "requestId", id, "handle", handle)
}

// writeCtx detaches store writes from run cancellation so a cancelled or
// shut-down chain still records its terminal state.
func (s *Service) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
}

func (s *Service) publish(id, userID string, from, to Status) {
	if s.pub == nil {
		return
	}
	ev := StatusEvent{
		Type:      EventStatusChanged,
		RequestID: id,
		UserID:    userID,
		From:      from,
		To:        to,
		At:        time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("publish status event failed", "requestId", id, "err", err)
	}
}

// ─── Adapter calls ───────────────────────────────────────────────────────────

func (s *Service) startScrape(ctx context.Context, p SearchParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()
	return s.scraper.Start(ctx, p)
}

func (s *Service) waitScrape(ctx context.Context, handle string) (ScrapeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()
	res, err := s.scraper.Wait(ctx, handle)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return res, err
}

func (s *Service) filter(ctx context.Context, raw []Listing, p SearchParams) ([]Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()
	return s.enricher.Filter(ctx, raw, p)
}

func (s *Service) enrich(ctx context.Context, jobs []Listing, resume string) ([]EnrichedJob, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()
	return s.enricher.Enrich(ctx, jobs, resume)
}

func nonNilListings(l []Listing) []Listing {
	if l == nil {
		return []Listing{}
	}
	return l
}
