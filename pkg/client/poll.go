package client

import (
	"context"
	"errors"
	"time"
)

// Poll fetches the request every interval until it is terminal, ctx is done
// or a permanent error occurs. Network failures and 5xx responses are
// retried on the next tick. onUpdate, when non-nil, sees every snapshot
// whose status or update time changed.
//
// A zero interval follows the server's pollIntervalMs, falling back to
// DefaultPollInterval.
func (c *Client) Poll(ctx context.Context, requestID string, interval time.Duration, onUpdate func(*Snapshot)) (*Snapshot, error) {
	var last *Snapshot
	wait := interval
	if wait <= 0 {
		wait = DefaultPollInterval
	}

	for {
		snap, err := c.Get(ctx, requestID)
		switch {
		case err == nil:
			if onUpdate != nil && changed(last, snap) {
				onUpdate(snap)
			}
			last = snap
			if snap.Terminal() {
				return snap, nil
			}
			if interval <= 0 && snap.PollIntervalMs > 0 {
				wait = time.Duration(snap.PollIntervalMs) * time.Millisecond
			}
		case ctx.Err() != nil:
			return last, ctx.Err()
		case !transient(err):
			return last, err
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return last, ctx.Err()
		case <-t.C:
		}
	}
}

// AbortTimeout bounds the abort call made by AbortAndWait.
const AbortTimeout = 10 * time.Second

// AbortAndWait requests cancellation and polls until the request is terminal
// or wait elapses. The abort call and the follow-up poll have separate
// deadlines; the server may hold a request in its current state while it
// stops the provider.
func (c *Client) AbortAndWait(ctx context.Context, requestID string, interval, wait time.Duration) (*Snapshot, error) {
	abortCtx, cancel := context.WithTimeout(ctx, AbortTimeout)
	err := c.Abort(abortCtx, requestID)
	cancel()
	if err != nil {
		return nil, err
	}

	pollCtx, cancelPoll := context.WithTimeout(ctx, wait)
	defer cancelPoll()
	return c.Poll(pollCtx, requestID, interval, nil)
}

func changed(prev, next *Snapshot) bool {
	return prev == nil || prev.Status != next.Status || !prev.UpdatedAt.Equal(next.UpdatedAt)
}

func transient(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Temporary()
	}
	return true
}
