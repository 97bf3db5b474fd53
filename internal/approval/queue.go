// Package approval holds destructive actions until a user confirms or
// rejects them.
package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkingovr/adminsync/internal/clock"
)

// Queue manages pending confirmation requests.
type Queue struct {
	mu       sync.RWMutex
	requests map[string]*Request
	timeout  time.Duration
	clock    clock.Clock

	// Subscribers for real-time updates
	subMu   sync.RWMutex
	subs    map[int]chan Request
	nextSub int
}

// NewQueue creates a queue whose requests are rejected after timeout.
func NewQueue(timeout time.Duration, c clock.Clock) *Queue {
	if c == nil {
		c = clock.Real()
	}
	return &Queue{
		requests: make(map[string]*Request),
		timeout:  timeout,
		clock:    c,
		subs:     make(map[int]chan Request),
	}
}

// Confirm creates a request and blocks until it is approved, denied,
// timed out, or ctx is cancelled. Only approval returns true.
func (q *Queue) Confirm(ctx context.Context, resource, targetID, message string) (bool, error) {
	req := q.enqueue(resource, targetID, message)
	q.notifySubscribers(req)

	expired := make(chan struct{})
	timer := q.clock.AfterFunc(q.timeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case <-req.Wait():
		q.mu.RLock()
		defer q.mu.RUnlock()
		return req.Status == StatusApproved, nil

	case <-expired:
		if q.finish(req, StatusTimedOut) {
			return false, nil
		}
		return q.approved(req), nil

	case <-ctx.Done():
		if q.finish(req, StatusCancelled) {
			return false, ctx.Err()
		}
		return q.approved(req), nil
	}
}

func (q *Queue) enqueue(resource, targetID, message string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	req := &Request{
		ID:        uuid.NewString(),
		CreatedAt: q.clock.Now(),
		Resource:  resource,
		TargetID:  targetID,
		Message:   message,
		Status:    StatusPending,
		done:      make(chan struct{}),
	}
	q.requests[req.ID] = req
	return req
}

// Approve confirms a request.
func (q *Queue) Approve(id string) error {
	return q.resolve(id, StatusApproved)
}

// Deny rejects a request.
func (q *Queue) Deny(id string) error {
	return q.resolve(id, StatusDenied)
}

func (q *Queue) resolve(id string, status Status) error {
	q.mu.Lock()
	req, ok := q.requests[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("confirmation %q not found", id)
	}
	if req.Status != StatusPending {
		q.mu.Unlock()
		return fmt.Errorf("confirmation %q already resolved: %s", id, req.Status)
	}
	q.markLocked(req, status)
	q.mu.Unlock()

	q.notifySubscribers(req)
	return nil
}

// finish resolves req unless someone else already did. It reports
// whether this call resolved it.
func (q *Queue) finish(req *Request, status Status) bool {
	q.mu.Lock()
	if req.Status != StatusPending {
		q.mu.Unlock()
		return false
	}
	q.markLocked(req, status)
	q.mu.Unlock()

	q.notifySubscribers(req)
	return true
}

func (q *Queue) markLocked(req *Request, status Status) {
	req.Status = status
	now := q.clock.Now()
	req.DecidedAt = &now
	close(req.done)
}

func (q *Queue) approved(req *Request) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return req.Status == StatusApproved
}

// Get returns a copy of one request.
func (q *Queue) Get(id string) (Request, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	req, ok := q.requests[id]
	if !ok {
		return Request{}, false
	}
	return copyRequest(req), true
}

// Pending returns the pending requests, oldest first.
func (q *Queue) Pending() []Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var pending []Request
	for _, req := range q.requests {
		if req.Status == StatusPending {
			pending = append(pending, copyRequest(req))
		}
	}
	sortByCreated(pending)
	return pending
}

// All returns every request, oldest first (for dashboard history).
func (q *Queue) All() []Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	all := make([]Request, 0, len(q.requests))
	for _, req := range q.requests {
		all = append(all, copyRequest(req))
	}
	sortByCreated(all)
	return all
}

func copyRequest(req *Request) Request {
	c := *req
	c.done = nil
	return c
}

func sortByCreated(reqs []Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

// Subscribe returns a channel that receives new and resolved requests.
func (q *Queue) Subscribe() (<-chan Request, func()) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	ch := make(chan Request, 50)
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			q.subMu.Lock()
			defer q.subMu.Unlock()
			delete(q.subs, id)
			close(ch)
		})
	}

	return ch, cancel
}

func (q *Queue) notifySubscribers(req *Request) {
	q.mu.RLock()
	snapshot := copyRequest(req)
	q.mu.RUnlock()

	q.subMu.RLock()
	defer q.subMu.RUnlock()

	for _, ch := range q.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
