// Package throttle serializes outbound ledger calls with a minimum
// spacing between dispatches. This is a rate-limit courtesy toward the
// remote node, not a correctness requirement; callers see added
// latency, never reordering.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Queue hands out dispatch slots in FIFO order, each at least the
// configured interval after the previous one.
type Queue struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewQueue creates a queue with the given minimum inter-request delay.
func NewQueue(interval time.Duration) *Queue {
	return &Queue{interval: interval}
}

// Wait blocks until the caller's slot arrives or the context is done.
// Slots are reserved in call order, so dispatch order is FIFO.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	now := time.Now()
	at := q.next
	if at.Before(now) {
		at = now
	}
	q.next = at.Add(q.interval)
	q.mu.Unlock()

	delay := time.Until(at)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
