// Package delta polls counter snapshots, compares each one with the
// previous poll, and raises time-bounded alerts on increases.
package delta

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/clock"
	"github.com/tkingovr/adminsync/internal/metrics"
)

// Source returns the current counter values. A nil snapshot with a nil
// error skips the cycle without touching the baseline.
type Source func(ctx context.Context) (api.CounterSnapshot, error)

// Options configures a Detector.
type Options struct {
	Resource string
	// Keys restricts the tracked counters. Empty tracks every key the
	// source returns.
	Keys     []string
	Interval time.Duration
	Dwell    time.Duration
	Source   Source
	Clock    clock.Clock
	Logger   *slog.Logger

	// SkipInitialPoll makes Start wait for the first tick instead of
	// polling immediately, for callers that seed the baseline themselves.
	SkipInitialPoll bool
}

type alert struct {
	active    bool
	expiresAt time.Time
	timer     *clock.Timer
	gen       uint64
	previous  int
	current   int
}

// Detector owns the comparison baseline and the alert state of one view.
type Detector struct {
	resource string
	keys     []string
	interval time.Duration
	dwell    time.Duration
	source   Source
	initial  bool
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	baseline api.CounterSnapshot
	seeded   bool
	lastSeq  uint64
	alerts   map[string]*alert
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
	trigger  chan struct{}

	subMu   sync.RWMutex
	subs    map[int]chan api.AlertEvent
	nextSub int
}

// New creates a Detector. Zero durations fall back to 15s polling and a
// 2s dwell.
func New(opts Options) *Detector {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Dwell <= 0 {
		opts.Dwell = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		resource: opts.Resource,
		keys:     append([]string(nil), opts.Keys...),
		interval: opts.Interval,
		dwell:    opts.Dwell,
		source:   opts.Source,
		initial:  !opts.SkipInitialPoll,
		clock:    opts.Clock,
		logger:   logger.With("resource", opts.Resource),
		alerts:   make(map[string]*alert),
		trigger:  make(chan struct{}, 1),
		subs:     make(map[int]chan api.AlertEvent),
	}
}

// Start polls once immediately (unless SkipInitialPoll is set), then on
// every interval tick and every Trigger, until ctx is cancelled or Close
// is called.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	if d.closed || d.done != nil {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	ticker := d.clock.NewTicker(d.interval)
	d.mu.Unlock()

	go d.run(ctx, ticker)
}

func (d *Detector) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(d.done)
	defer ticker.Stop()

	if d.initial {
		d.Poll(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Poll(ctx)
		case <-d.trigger:
			d.Poll(ctx)
		}
	}
}

// Trigger requests an immediate poll outside the interval schedule. The
// interval's timing is not reset. Triggers coalesce while one is pending.
func (d *Detector) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Poll runs one cycle: read the source and compare. A failed read keeps
// the previous baseline.
func (d *Detector) Poll(ctx context.Context) []api.AlertEvent {
	snap, err := d.source(ctx)
	if err != nil {
		if !api.IsCanceled(err) {
			d.logger.Debug("counter poll failed", "error", err)
		}
		return nil
	}
	if snap == nil {
		return nil
	}
	return d.Observe(snap)
}

// Observe compares snap with the baseline and then makes snap the new
// baseline. The first snapshot, and any snapshot whose counter set
// differs from the baseline, only seeds. A strictly increased counter
// activates its alert or restarts the dwell of an active one.
func (d *Detector) Observe(snap api.CounterSnapshot) []api.AlertEvent {
	return d.observe(0, snap)
}

// ObserveSeq is Observe for snapshots taken from sequenced list reads.
// A snapshot older than the last one observed is dropped, so a slow
// caller cannot move the baseline back.
func (d *Detector) ObserveSeq(seq uint64, snap api.CounterSnapshot) []api.AlertEvent {
	return d.observe(seq, snap)
}

func (d *Detector) observe(seq uint64, snap api.CounterSnapshot) []api.AlertEvent {
	snap = d.track(snap)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	if seq > 0 {
		if seq <= d.lastSeq {
			d.mu.Unlock()
			d.logger.Debug("dropping out-of-order counters", "seq", seq, "last_seq", d.lastSeq)
			return nil
		}
		d.lastSeq = seq
	}
	if !d.seeded || !d.baseline.Comparable(snap) {
		d.baseline = snap
		d.seeded = true
		d.mu.Unlock()
		return nil
	}

	now := d.clock.Now()
	var events []api.AlertEvent
	for _, key := range snap.Keys() {
		prev, cur := d.baseline[key], snap[key]
		if cur > prev {
			events = append(events, d.activateLocked(key, prev, cur, now))
		}
	}
	d.baseline = snap
	d.mu.Unlock()

	for _, ev := range events {
		metrics.IncAlert(d.resource, ev.Key)
		d.logger.Info("counter increased", "counter", ev.Key, "previous", ev.Previous, "current", ev.Current)
		d.notify(ev)
	}
	return events
}

func (d *Detector) track(snap api.CounterSnapshot) api.CounterSnapshot {
	if len(d.keys) == 0 {
		return maps.Clone(snap)
	}
	out := make(api.CounterSnapshot, len(d.keys))
	for _, key := range d.keys {
		if v, ok := snap[key]; ok {
			out[key] = v
		}
	}
	return out
}

func (d *Detector) activateLocked(key string, prev, cur int, now time.Time) api.AlertEvent {
	a := d.alerts[key]
	if a == nil {
		a = &alert{}
		d.alerts[key] = a
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.active = true
	a.expiresAt = now.Add(d.dwell)
	a.previous, a.current = prev, cur
	a.timer = d.clock.AfterFunc(d.dwell, func() { d.expire(key, gen) })

	return api.AlertEvent{
		Resource:  d.resource,
		Key:       key,
		Active:    true,
		Previous:  prev,
		Current:   cur,
		ExpiresAt: a.expiresAt,
		At:        now,
	}
}

func (d *Detector) expire(key string, gen uint64) {
	d.mu.Lock()
	a := d.alerts[key]
	if d.closed || a == nil || a.gen != gen || !a.active {
		d.mu.Unlock()
		return
	}
	a.active = false
	a.expiresAt = time.Time{}
	a.timer = nil
	ev := api.AlertEvent{
		Resource: d.resource,
		Key:      key,
		Previous: a.previous,
		Current:  a.current,
		At:       d.clock.Now(),
	}
	d.mu.Unlock()

	d.notify(ev)
}

// Reseed drops the baseline so the next snapshot seeds instead of
// comparing. Used when a filter change makes counters incomparable.
func (d *Detector) Reseed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseline = nil
	d.seeded = false
}

// Baseline returns a copy of the last successful snapshot.
func (d *Detector) Baseline() api.CounterSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.baseline)
}

// Alerts returns the current alert state.
func (d *Detector) Alerts() api.AlertState {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := make(api.AlertState, len(d.alerts))
	for key, a := range d.alerts {
		state[key] = api.Alert{Active: a.active, ExpiresAt: a.expiresAt}
	}
	return state
}

// Active reports whether the alert for key is active.
func (d *Detector) Active(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.alerts[key]
	return a != nil && a.active
}

// Close stops polling, cancels every dwell timer, and waits for the
// poll loop to exit. Alert state is frozen afterwards.
func (d *Detector) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, a := range d.alerts {
		if a.timer != nil {
			a.timer.Stop()
			a.timer = nil
		}
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	d.subMu.Lock()
	defer d.subMu.Unlock()
	for id, ch := range d.subs {
		delete(d.subs, id)
		close(ch)
	}
}

// Subscribe returns a channel that receives alert activations and
// expiries. The channel is closed by Close.
func (d *Detector) Subscribe() (<-chan api.AlertEvent, func()) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	ch := make(chan api.AlertEvent, 32)
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch

	cancel := func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()
		if _, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (d *Detector) notify(ev api.AlertEvent) {
	d.subMu.RLock()
	defer d.subMu.RUnlock()

	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
