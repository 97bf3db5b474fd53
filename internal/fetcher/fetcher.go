// Package fetcher turns the current query parameters into one
// authenticated list read and applies only the newest response.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/backend"
	"github.com/tkingovr/adminsync/internal/metrics"
	"github.com/tkingovr/adminsync/internal/query"
)

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("fetcher closed")

// Lister performs list reads.
type Lister interface {
	List(ctx context.Context, req backend.ListRequest) (*backend.ListResult, error)
}

// Reporter surfaces transient notifications.
type Reporter interface {
	Report(resource string, level api.NoticeLevel, message string)
}

// Options configures a Fetcher.
type Options struct {
	Store  *query.Store
	Lister Lister
	// Request carries the endpoint settings; its Params are replaced by
	// the store's parameters on every fetch.
	Request  backend.ListRequest
	Reporter Reporter
	Logger   *slog.Logger
}

// Outcome describes what happened to one Fetch call.
type Outcome struct {
	Seq uint64
	// Applied is set when the response replaced the store's page.
	Applied bool
	// Stale is set when a newer request or Close superseded this one.
	Stale bool
	Err   error
	// Counters holds counter values found in the applied response.
	Counters api.CounterSnapshot
}

// Fetcher issues list reads for one store. Each call gets a sequence
// number; a response is applied only if no newer call has been issued
// since. Issuing a call cancels every older in-flight call.
type Fetcher struct {
	store    *query.Store
	lister   Lister
	request  backend.ListRequest
	reporter Reporter
	logger   *slog.Logger

	mu      sync.Mutex
	seq     uint64
	cancels map[uint64]context.CancelFunc
	loading bool
	lastErr error
	closed  bool
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		store:    opts.Store,
		lister:   opts.Lister,
		request:  opts.Request,
		reporter: opts.Reporter,
		logger:   logger.With("resource", opts.Store.Resource()),
		cancels:  make(map[uint64]context.CancelFunc),
	}
}

// Fetch reads the page described by the store's current parameters. On
// success the page is applied; if the store clamps its page as a result,
// the clamped page is fetched in turn. Failures are recorded and
// reported but leave the current page untouched.
func (f *Fetcher) Fetch(ctx context.Context) Outcome {
	for {
		out, clamped := f.fetchOnce(ctx)
		if !clamped {
			return out
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context) (Outcome, bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Outcome{Stale: true, Err: ErrClosed}, false
	}
	f.seq++
	seq := f.seq
	for old, cancel := range f.cancels {
		cancel()
		delete(f.cancels, old)
	}
	reqCtx, cancel := context.WithCancel(ctx)
	f.cancels[seq] = cancel
	f.loading = true
	req := f.request
	req.Params = f.store.Params()
	f.mu.Unlock()

	f.logger.Debug("fetch issued", "seq", seq, "page", req.Params.Page, "search", req.Params.Search)
	res, err := f.lister.List(reqCtx, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	cancel()
	delete(f.cancels, seq)

	if seq != f.seq || f.closed {
		metrics.IncStaleResponse(f.store.Resource())
		f.logger.Debug("stale response discarded", "seq", seq, "latest", f.seq)
		return Outcome{Seq: seq, Stale: true}, false
	}
	f.loading = false

	if err != nil {
		f.lastErr = err
		if api.IsCanceled(err) {
			return Outcome{Seq: seq, Err: err}, false
		}
		f.logger.Warn("fetch failed", "seq", seq, "error", err)
		if f.reporter != nil {
			f.reporter.Report(f.store.Resource(), api.NoticeError, api.UserMessage(err))
		}
		return Outcome{Seq: seq, Err: err}, false
	}

	f.lastErr = nil
	clamped := f.store.ApplyPage(query.PageData{
		Page:  req.Params.Page,
		Items: res.Items,
		Total: res.Total,
		Pages: res.Pages,
	})
	if clamped {
		f.logger.Debug("page clamped after fetch", "seq", seq, "page", f.store.Params().Page)
	}
	return Outcome{Seq: seq, Applied: true, Counters: res.Counters}, clamped
}

// Loading reports whether the newest request is still in flight.
func (f *Fetcher) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Err returns the error of the newest completed request, if it failed.
func (f *Fetcher) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Close cancels every in-flight request. Responses arriving afterwards
// are discarded and further Fetch calls fail with ErrClosed.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.loading = false
	for seq, cancel := range f.cancels {
		cancel()
		delete(f.cancels, seq)
	}
}
