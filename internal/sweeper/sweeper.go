// Package sweeper wires up the cron job that expires scrape jobs whose step
// chain stopped making progress, e.g. after a process restart.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"jobmate/scrape-service/internal/logging"
)

// Expirer fails non-terminal requests last updated before a cutoff.
type Expirer interface {
	ExpireStale(ctx context.Context, before time.Time) (int, error)
}

// Sweeper wraps robfig/cron and runs the stale-job sweep.
type Sweeper struct {
	cron       *cron.Cron
	expirer    Expirer
	log        *logging.Logger
	spec       string // cron spec, e.g. "@every 1m"
	staleAfter time.Duration
	now        func() time.Time
}

// New creates a Sweeper that fires on spec and expires requests idle for
// longer than staleAfter.
func New(expirer Expirer, log *logging.Logger, spec string, staleAfter time.Duration) *Sweeper {
	if log == nil {
		log = logging.NewNop()
	}
	log = log.With("component", "sweeper")
	return &Sweeper{
		cron: cron.New(cron.WithLogger(cron.PrintfLogger(log)), cron.WithChain(
			cron.SkipIfStillRunning(cron.PrintfLogger(log)),
		)),
		expirer:    expirer,
		log:        log,
		spec:       spec,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Start registers the sweep and starts the scheduler. One sweep runs right
// away so requests orphaned by a restart are expired without waiting for the
// first tick.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Info("sweeper started", "spec", s.spec, "staleAfter", s.staleAfter)

	go s.Sweep(ctx)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("sweeper stopped")
}

// Sweep runs one expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.staleAfter)
	n, err := s.expirer.ExpireStale(ctx, cutoff)
	if err != nil {
		s.log.Error("stale sweep failed", "err", err)
		return 0
	}
	if n > 0 {
		s.log.Warn("stale scrape jobs expired", "count", n, "cutoff", cutoff)
	}
	return n
}
