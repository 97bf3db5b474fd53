// Package view assembles one live resource list: its query store,
// fetcher, counter detector, and mutation coordinator.
package view

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/backend"
	"github.com/tkingovr/adminsync/internal/clock"
	"github.com/tkingovr/adminsync/internal/config"
	"github.com/tkingovr/adminsync/internal/delta"
	"github.com/tkingovr/adminsync/internal/fetcher"
	"github.com/tkingovr/adminsync/internal/mutation"
	"github.com/tkingovr/adminsync/internal/policy"
	"github.com/tkingovr/adminsync/internal/query"
)

// Backend is everything a view needs from the REST client.
type Backend interface {
	fetcher.Lister
	mutation.Backend
	Summary(ctx context.Context, summaryPath string, keys []string) (api.CounterSnapshot, error)
}

// Deps are shared by every view.
type Deps struct {
	Backend   Backend
	Validator policy.Engine
	// Confirmer is used for resources with confirm_delete.
	Confirmer mutation.Confirmer
	Reporter  fetcher.Reporter
	History   mutation.Recorder
	Clock     clock.Clock
	Logger    *slog.Logger
}

// View is one independent resource list. Its state is never shared with
// other views.
type View struct {
	def      config.Resource
	store    *query.Store
	fetcher  *fetcher.Fetcher
	detector *delta.Detector
	coord    *mutation.Coordinator
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	opened bool
	closed bool
}

// New builds a view for def. Nothing is fetched until Open.
func New(def config.Resource, deps Deps) *View {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	clientPaging := def.Pagination == config.PaginationClient

	v := &View{def: def, logger: logger.With("view", def.Name)}
	v.store = query.New(query.Options{
		Resource:     def.Name,
		PageSize:     def.PageSize,
		ClientPaging: clientPaging,
		Clock:        clk,
	})
	v.fetcher = fetcher.New(fetcher.Options{
		Store:  v.store,
		Lister: deps.Backend,
		Request: backend.ListRequest{
			Path:          def.Path,
			PageSizeParam: def.PageSizeParam,
			ItemsKey:      def.ItemsKey,
			Counters:      def.Counters,
			All:           clientPaging,
		},
		Reporter: deps.Reporter,
		Logger:   logger,
	})

	if def.Watched() {
		source := v.listCounters
		if def.SummaryPath != "" {
			source = func(ctx context.Context) (api.CounterSnapshot, error) {
				return deps.Backend.Summary(ctx, def.SummaryPath, def.Counters)
			}
		}
		v.detector = delta.New(delta.Options{
			Resource:        def.Name,
			Keys:            def.Counters,
			Interval:        def.PollInterval,
			Dwell:           def.Dwell,
			Source:          source,
			Clock:           clk,
			Logger:          logger,
			SkipInitialPoll: def.SummaryPath == "",
		})
	}

	var confirmer mutation.Confirmer
	if def.ConfirmDelete {
		confirmer = deps.Confirmer
	}
	v.coord = mutation.New(mutation.Options{
		Resource:    def.Name,
		Title:       def.Title,
		Path:        def.Path,
		Backend:     deps.Backend,
		Store:       v.store,
		Refresher:   v,
		Invalidator: v,
		Validator:   deps.Validator,
		Confirmer:   confirmer,
		Reporter:    deps.Reporter,
		History:     deps.History,
		Clock:       clk,
		Logger:      logger,
	})
	return v
}

// listCounters polls by re-reading the current page. Fetch hands the
// counters to the detector with the read's sequence number, so nothing
// is returned for Poll to observe.
func (v *View) listCounters(ctx context.Context) (api.CounterSnapshot, error) {
	return nil, v.Fetch(ctx).Err
}

// Open performs the initial read and starts polling. The poll loop runs
// until ctx is cancelled or Close is called.
func (v *View) Open(ctx context.Context) fetcher.Outcome {
	v.mu.Lock()
	if v.opened || v.closed {
		v.mu.Unlock()
		return fetcher.Outcome{Stale: true}
	}
	v.opened = true
	ctx, v.cancel = context.WithCancel(ctx)
	v.mu.Unlock()

	out := v.Fetch(ctx)
	if v.detector != nil {
		v.detector.Start(ctx)
	}
	return out
}

// Fetch re-reads the current page. With list counters the result also
// feeds the detector.
func (v *View) Fetch(ctx context.Context) fetcher.Outcome {
	out := v.fetcher.Fetch(ctx)
	v.observe(out)
	return out
}

// observe feeds list counters of an applied read to the detector.
// Reads can finish observing in any order; the sequence number keeps
// the newest one as the baseline.
func (v *View) observe(out fetcher.Outcome) {
	if out.Applied && v.detector != nil && v.def.SummaryPath == "" && out.Counters != nil {
		v.detector.ObserveSeq(out.Seq, out.Counters)
	}
}

// SetFilter applies parameter patches and re-reads when they changed
// anything. List counters are reseeded since a filtered page reports
// different values.
func (v *View) SetFilter(ctx context.Context, patches ...query.Patch) (fetcher.Outcome, bool) {
	if !v.store.SetFilter(patches...) {
		return fetcher.Outcome{}, false
	}
	if v.detector != nil && v.def.SummaryPath == "" {
		v.detector.Reseed()
	}
	return v.Fetch(ctx), true
}

// Invalidate moves the list back to page 1 without a search term, as
// after a create. List counters are reseeded when the search changed.
func (v *View) Invalidate() bool {
	searched := v.store.Params().Search != ""
	if !v.store.Invalidate() {
		return false
	}
	if searched && v.detector != nil && v.def.SummaryPath == "" {
		v.detector.Reseed()
	}
	return true
}

// SetPage moves to page n. With client paging no request is made.
func (v *View) SetPage(ctx context.Context, n int) (fetcher.Outcome, bool) {
	if !v.store.SetPage(n) {
		return fetcher.Outcome{}, false
	}
	if v.store.LocalPaging() {
		return fetcher.Outcome{}, true
	}
	return v.Fetch(ctx), true
}

// Refresh re-reads immediately without resetting the poll interval.
func (v *View) Refresh(ctx context.Context) fetcher.Outcome {
	out := v.Fetch(ctx)
	if v.detector != nil && v.def.SummaryPath != "" {
		v.detector.Trigger()
	}
	return out
}

// Close stops polling, cancels every dwell timer and in-flight request.
// Late responses are discarded.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	cancel := v.cancel
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if v.detector != nil {
		v.detector.Close()
	}
	v.fetcher.Close()
	v.logger.Debug("view closed")
}

func (v *View) Name() string { return v.def.Name }
func (v *View) Def() config.Resource { return v.def }
func (v *View) Store() *query.Store { return v.store }
func (v *View) Fetcher() *fetcher.Fetcher { return v.fetcher }
func (v *View) Coordinator() *mutation.Coordinator { return v.coord }

// Detector returns the counter detector, or nil when the resource has
// no counters.
func (v *View) Detector() *delta.Detector { return v.detector }

// Snapshot is a consistent read of the view for rendering.
type Snapshot struct {
	Resource string              `json:"resource"`
	Title    string              `json:"title"`
	Params   api.QueryParams     `json:"params"`
	Page     api.ResourcePage    `json:"page"`
	Loading  bool                `json:"loading"`
	Error    string              `json:"error,omitempty"`
	Counters api.CounterSnapshot `json:"counters,omitempty"`
	Alerts   api.AlertState      `json:"alerts,omitempty"`
}

// Snapshot returns the current state.
func (v *View) Snapshot() Snapshot {
	s := Snapshot{
		Resource: v.def.Name,
		Title:    v.def.Title,
		Params:   v.store.Params(),
		Page:     v.store.Page(),
		Loading:  v.fetcher.Loading(),
	}
	if err := v.fetcher.Err(); err != nil && !api.IsCanceled(err) {
		s.Error = api.UserMessage(err)
	}
	if v.detector != nil {
		s.Counters = v.detector.Baseline()
		s.Alerts = v.detector.Alerts()
	}
	return s
}
