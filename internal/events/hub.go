// Package events fans scrape-job status changes out to subscribers.
package events

import (
	"context"
	"sync"

	"jobmate/scrape-service/internal/scrapejob"
)

// Hub delivers events to in-process subscribers, keyed by request id.
// Slow subscribers drop events rather than block publishers.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[chan scrapejob.StatusEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[chan scrapejob.StatusEvent]struct{})}
}

// Subscribe registers a listener for one request. The returned cancel
// func unregisters it and closes the channel.
func (h *Hub) Subscribe(requestID string) (<-chan scrapejob.StatusEvent, func()) {
	ch := make(chan scrapejob.StatusEvent, 10)
	h.mu.Lock()
	if h.clients[requestID] == nil {
		h.clients[requestID] = make(map[chan scrapejob.StatusEvent]struct{})
	}
	h.clients[requestID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients[requestID], ch)
			if len(h.clients[requestID]) == 0 {
				delete(h.clients, requestID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(_ context.Context, ev scrapejob.StatusEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients[ev.RequestID] {
		select {
		case ch <- ev:
		default:
			// drop if slow
		}
	}
	return nil
}

// Subscribers returns how many listeners are registered for a request.
func (h *Hub) Subscribers(requestID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[requestID])
}

var (
	_ scrapejob.Publisher  = (*Hub)(nil)
	_ scrapejob.Subscriber = (*Hub)(nil)
)
