package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jobmate/scrape-service/internal/sweeper"
)

type fakeExpirer struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int
	err     error
}

func (f *fakeExpirer) ExpireStale(_ context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.n, f.err
}

func (f *fakeExpirer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestSweep_UsesCutoff(t *testing.T) {
	f := &fakeExpirer{n: 2}
	s := sweeper.New(f, nil, "@every 1h", 10*time.Minute)

	before := time.Now()
	if got := s.Sweep(context.Background()); got != 2 {
		t.Errorf("Sweep = %d, want 2", got)
	}
	cutoff := f.cutoffs[0]
	want := before.Add(-10 * time.Minute)
	if cutoff.Before(want.Add(-time.Second)) || cutoff.After(want.Add(time.Second)) {
		t.Errorf("cutoff = %v, want about %v", cutoff, want)
	}
}

func TestSweep_Error(t *testing.T) {
	f := &fakeExpirer{n: 3, err: errors.New("db down")}
	s := sweeper.New(f, nil, "@every 1h", time.Minute)
	if got := s.Sweep(context.Background()); got != 0 {
		t.Errorf("Sweep on error = %d, want 0", got)
	}
}

func TestStart_RunsImmediately(t *testing.T) {
	f := &fakeExpirer{}
	s := sweeper.New(f, nil, "@every 1h", time.Minute)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for f.calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no sweep ran after Start")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStart_BadSpec(t *testing.T) {
	s := sweeper.New(&fakeExpirer{}, nil, "every now and then", time.Minute)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start with invalid spec returned nil error")
	}
}
