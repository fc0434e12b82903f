// Package store provides scrapejob.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"jobmate/scrape-service/internal/scrapejob"
)

// Memory keeps requests in process memory. It is meant for tests and
// single-process development runs.
type Memory struct {
	mu    sync.RWMutex
	rows  map[string]scrapejob.JobRequest
	clock func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]scrapejob.JobRequest), clock: time.Now}
}

// WithClock replaces the timestamp source.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

func (m *Memory) Create(_ context.Context, req *scrapejob.JobRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[req.ID]; ok {
		return fmt.Errorf("scrape job %s already exists", req.ID)
	}
	now := m.clock().UTC()
	req.CreatedAt, req.UpdatedAt = now, now
	m.rows[req.ID] = clone(*req)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*scrapejob.JobRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, scrapejob.ErrNotFound
	}
	out := clone(row)
	return &out, nil
}

func (m *Memory) Advance(_ context.Context, id string, from, to scrapejob.Status, u scrapejob.Update) (*scrapejob.JobRequest, error) {
	if !scrapejob.IsTransitionAllowed(from, to) {
		return nil, fmt.Errorf("transition %s → %s is not allowed", from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	switch {
	case !ok:
		return nil, scrapejob.ErrNotFound
	case row.Status != from:
		return nil, scrapejob.ErrConflict
	case row.AbortRequested && !to.IsAbortExit():
		return nil, scrapejob.ErrAborted
	}

	row.Status = to
	if u.RawResults != nil {
		row.RawResults = u.RawResults
	}
	if u.FilteredResults != nil {
		row.FilteredResults = u.FilteredResults
	}
	if u.EnrichedResults != nil {
		row.EnrichedResults = u.EnrichedResults
	}
	if u.ErrorMessage != nil {
		row.ErrorMessage = u.ErrorMessage
	}
	if u.ProviderHandle != nil {
		row.ProviderHandle = *u.ProviderHandle
	}
	row.UpdatedAt = m.clock().UTC()
	m.rows[id] = clone(row)

	out := clone(row)
	return &out, nil
}

func (m *Memory) RequestAbort(_ context.Context, id string) (*scrapejob.JobRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, scrapejob.ErrNotFound
	}
	if !row.Status.IsTerminal() && !row.AbortRequested {
		row.AbortRequested = true
		m.rows[id] = row
	}
	out := clone(row)
	return &out, nil
}

func (m *Memory) ListStale(_ context.Context, before time.Time) ([]scrapejob.JobRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []scrapejob.JobRequest
	for _, row := range m.rows {
		if !row.Status.IsTerminal() && row.UpdatedAt.Before(before) {
			out = append(out, clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// clone copies the slices and pointers of a row so callers never share
// memory with the store.
func clone(r scrapejob.JobRequest) scrapejob.JobRequest {
	r.SearchParams.ExcludeTerms = cloneSlice(r.SearchParams.ExcludeTerms)
	r.RawResults = cloneSlice(r.RawResults)
	r.FilteredResults = cloneSlice(r.FilteredResults)
	if r.EnrichedResults != nil {
		er := *r.EnrichedResults
		er.Jobs = make([]scrapejob.EnrichedJob, len(r.EnrichedResults.Jobs))
		for i, j := range r.EnrichedResults.Jobs {
			j.Emails = cloneSlice(j.Emails)
			er.Jobs[i] = j
		}
		r.EnrichedResults = &er
	}
	if r.ErrorMessage != nil {
		msg := *r.ErrorMessage
		r.ErrorMessage = &msg
	}
	return r
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

var _ scrapejob.Store = (*Memory)(nil)
