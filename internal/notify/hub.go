// Package notify keeps transient, dismissible notifications and fans
// them out to the dashboard and terminal views.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/clock"
)

// DefaultCapacity is the number of recent notices kept when none is given.
const DefaultCapacity = 100

// Hub stores recent notices in a ring buffer and broadcasts new ones.
type Hub struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   clock.Clock
	recent  []api.Notice
	next    int
	full    bool
	dropped map[string]bool

	subMu   sync.RWMutex
	subs    map[int]chan api.Notice
	nextSub int
}

// NewHub creates a hub whose notices expire after ttl.
func NewHub(ttl time.Duration, capacity int, c clock.Clock) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if c == nil {
		c = clock.Real()
	}
	return &Hub{
		ttl:     ttl,
		clock:   c,
		recent:  make([]api.Notice, capacity),
		dropped: make(map[string]bool),
		subs:    make(map[int]chan api.Notice),
	}
}

// Report records a notice and broadcasts it.
func (h *Hub) Report(resource string, level api.NoticeLevel, message string) {
	h.Publish(resource, level, message)
}

// Publish is Report returning the created notice.
func (h *Hub) Publish(resource string, level api.NoticeLevel, message string) api.Notice {
	now := h.clock.Now()
	n := api.Notice{
		ID:        uuid.NewString(),
		Resource:  resource,
		Level:     level,
		Message:   message,
		At:        now,
		ExpiresAt: now.Add(h.ttl),
	}

	h.mu.Lock()
	if h.full {
		delete(h.dropped, h.recent[h.next].ID)
	}
	h.recent[h.next] = n
	h.next = (h.next + 1) % len(h.recent)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()

	h.broadcast(n)
	return n
}

// Dismiss hides a notice before it expires. It reports whether the
// notice was known.
func (h *Hub) Dismiss(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range h.snapshotLocked() {
		if n.ID == id {
			h.dropped[id] = true
			return true
		}
	}
	return false
}

// Active returns notices that are neither expired nor dismissed, oldest first.
func (h *Hub) Active() []api.Notice {
	now := h.clock.Now()
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []api.Notice
	for _, n := range h.snapshotLocked() {
		if h.dropped[n.ID] || !now.Before(n.ExpiresAt) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Recent returns up to limit of the newest notices regardless of expiry,
// newest first.
func (h *Hub) Recent(limit int) []api.Notice {
	h.mu.RLock()
	all := h.snapshotLocked()
	h.mu.RUnlock()

	out := make([]api.Notice, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// snapshotLocked returns the buffered notices oldest first.
func (h *Hub) snapshotLocked() []api.Notice {
	if !h.full {
		return append([]api.Notice(nil), h.recent[:h.next]...)
	}
	out := make([]api.Notice, 0, len(h.recent))
	out = append(out, h.recent[h.next:]...)
	return append(out, h.recent[:h.next]...)
}

// Subscribe returns a channel that receives every new notice.
func (h *Hub) Subscribe() (<-chan api.Notice, func()) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	ch := make(chan api.Notice, 50)
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.subMu.Lock()
			defer h.subMu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) broadcast(n api.Notice) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}
