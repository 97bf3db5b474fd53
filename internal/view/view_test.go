package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/backend"
	"github.com/tkingovr/adminsync/internal/clock"
	"github.com/tkingovr/adminsync/internal/config"
	"github.com/tkingovr/adminsync/internal/fetcher"
	"github.com/tkingovr/adminsync/internal/query"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu       sync.Mutex
	items    []api.Resource
	counters api.CounterSnapshot
	summary  api.CounterSnapshot
	lists    []backend.ListRequest
	listed   chan backend.ListRequest
	polled   chan struct{}
	creates  int
}

func newFakeBackend(n int) *fakeBackend {
	b := &fakeBackend{
		listed: make(chan backend.ListRequest, 32),
		polled: make(chan struct{}, 32),
	}
	for i := range n {
		id := fmt.Sprintf("v%d", i+1)
		b.items = append(b.items, api.Resource{ID: id, Fields: map[string]any{"id": id}})
	}
	return b
}

func (b *fakeBackend) setCounters(c api.CounterSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters = c
}

func (b *fakeBackend) listCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lists)
}

func (b *fakeBackend) List(_ context.Context, req backend.ListRequest) (*backend.ListResult, error) {
	b.mu.Lock()
	b.lists = append(b.lists, req)
	items := b.items
	if !req.All {
		ps := req.Params.PageSize
		start := min((req.Params.Page-1)*ps, len(items))
		items = items[start:min(start+ps, len(items))]
	}
	res := &backend.ListResult{Items: items, Total: len(b.items)}
	if b.counters != nil {
		res.Counters = b.counters
	}
	b.mu.Unlock()

	b.listed <- req
	return res, nil
}

func (b *fakeBackend) Summary(_ context.Context, _ string, _ []string) (api.CounterSnapshot, error) {
	b.mu.Lock()
	snap := b.summary
	b.mu.Unlock()
	b.polled <- struct{}{}
	return snap, nil
}

func (b *fakeBackend) Create(_ context.Context, _ string, payload map[string]any) (*backend.MutationResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	id := fmt.Sprintf("v%d", len(b.items)+1)
	b.items = append([]api.Resource{{ID: id, Fields: payload}}, b.items...)
	return &backend.MutationResult{Message: "Vendor created"}, nil
}

func (b *fakeBackend) Update(context.Context, string, string, map[string]any) (*backend.MutationResult, error) {
	return &backend.MutationResult{}, nil
}

func (b *fakeBackend) Delete(context.Context, string, string) (*backend.MutationResult, error) {
	return &backend.MutationResult{}, nil
}

func (b *fakeBackend) Upload(context.Context, []backend.UploadFile) ([]string, error) {
	return nil, errors.New("not supported")
}

func vendorsDef() config.Resource {
	return config.Resource{
		Name:         "vendors",
		Title:        "Vendor",
		Path:         "/vendors",
		PageSize:     10,
		ItemsKey:     "data",
		PollInterval: 15 * time.Second,
		Dwell:        2 * time.Second,
		Counters:     []string{"pending"},
		Pagination:   config.PaginationServer,
	}
}

func testDeps(b *fakeBackend, c clock.Clock) Deps {
	return Deps{
		Backend: b,
		Clock:   c,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func drain(ch chan backend.ListRequest) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestOpen_SeedsAndAlertsOnRefresh(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(3)
	b.setCounters(api.CounterSnapshot{"pending": 1})

	v := New(vendorsDef(), testDeps(b, c))
	defer v.Close()

	out := v.Open(context.Background())
	if !out.Applied {
		t.Fatalf("expected initial page applied, got %+v", out)
	}
	if got := v.Store().Page(); len(got.Items) != 3 || got.TotalCount != 3 {
		t.Fatalf("unexpected page %+v", got)
	}
	if v.Detector().Active("pending") {
		t.Fatal("first read must only seed")
	}

	b.setCounters(api.CounterSnapshot{"pending": 2})
	v.Refresh(context.Background())
	if !v.Detector().Active("pending") {
		t.Fatal("expected pending alert after increase")
	}
	snap := v.Snapshot()
	if snap.Counters["pending"] != 2 || !snap.Alerts["pending"].Active {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	c.Advance(2 * time.Second)
	if v.Detector().Active("pending") {
		t.Error("alert should clear after dwell")
	}
}

func TestPollLoopReadsOnInterval(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(1)
	b.setCounters(api.CounterSnapshot{"pending": 4})

	v := New(vendorsDef(), testDeps(b, c))
	defer v.Close()
	v.Open(context.Background())
	<-b.listed
	c.WaitForTimers(1)

	events, cancel := v.Detector().Subscribe()
	defer cancel()

	b.setCounters(api.CounterSnapshot{"pending": 7})
	c.Advance(15 * time.Second)

	select {
	case <-b.listed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a list read on the poll interval")
	}
	select {
	case ev := <-events:
		if ev.Key != "pending" || ev.Previous != 4 || ev.Current != 7 {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected alert event")
	}
}

func TestSetFilter_ResetsPageAndReseeds(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(35)
	b.setCounters(api.CounterSnapshot{"pending": 1})

	v := New(vendorsDef(), testDeps(b, c))
	defer v.Close()
	v.Open(context.Background())

	if _, ok := v.SetPage(context.Background(), 3); !ok {
		t.Fatal("expected page 3 to exist")
	}
	if got := v.Store().Page().Items[0].ID; got != "v21" {
		t.Fatalf("expected page 3 to start at v21, got %s", got)
	}

	b.setCounters(api.CounterSnapshot{"pending": 9})
	out, ok := v.SetFilter(context.Background(), query.Search("acme"))
	if !ok || !out.Applied {
		t.Fatalf("expected filter change to re-read, got %+v", out)
	}
	if p := v.Store().Params(); p.Page != 1 || p.Search != "acme" {
		t.Errorf("expected page 1 with search, got %+v", p)
	}
	if v.Detector().Active("pending") {
		t.Error("counters read under a new filter must reseed, not alert")
	}

	calls := b.listCalls()
	if _, ok := v.SetFilter(context.Background(), query.Search("acme")); ok {
		t.Error("unchanged filter should be a no-op")
	}
	if b.listCalls() != calls {
		t.Error("no-op filter must not read")
	}
}

func TestClientPagingServesPagesLocally(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(5)
	def := vendorsDef()
	def.Counters = nil
	def.PageSize = 2
	def.Pagination = config.PaginationClient

	v := New(def, testDeps(b, c))
	defer v.Close()
	v.Open(context.Background())

	if v.Detector() != nil {
		t.Fatal("resource without counters must not poll")
	}
	page := v.Store().Page()
	if page.TotalCount != 5 || page.TotalPages != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}

	if _, ok := v.SetPage(context.Background(), 3); !ok {
		t.Fatal("expected page 3")
	}
	if b.listCalls() != 1 {
		t.Errorf("client paging must not re-read, got %d reads", b.listCalls())
	}
	if got := v.Store().Page().Items; len(got) != 1 || got[0].ID != "v5" {
		t.Errorf("unexpected last page %+v", got)
	}
	if !b.lists[0].All {
		t.Error("client paging must request the full list")
	}
}

func TestSummaryCounters(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(1)
	b.summary = api.CounterSnapshot{"newOrders": 3}
	def := vendorsDef()
	def.Name = "orders"
	def.Counters = []string{"newOrders"}
	def.SummaryPath = "/dashboard/summary"

	v := New(def, testDeps(b, c))
	defer v.Close()
	v.Open(context.Background())

	select {
	case <-b.polled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected summary poll on open")
	}
	c.WaitForTimers(1)

	events, cancel := v.Detector().Subscribe()
	defer cancel()

	b.mu.Lock()
	b.summary = api.CounterSnapshot{"newOrders": 6}
	b.mu.Unlock()
	v.Refresh(context.Background())

	select {
	case ev := <-events:
		if ev.Key != "newOrders" || ev.Current != 6 {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected newOrders alert after refresh")
	}
}

func TestCreateReReadsThroughView(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(2)
	b.setCounters(api.CounterSnapshot{"pending": 0})

	v := New(vendorsDef(), testDeps(b, c))
	defer v.Close()
	v.Open(context.Background())
	drain(b.listed)

	b.setCounters(api.CounterSnapshot{"pending": 1})
	res, err := v.Coordinator().Create(context.Background(), map[string]any{"name": "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Refresh.Applied {
		t.Fatalf("expected re-read after create, got %+v", res.Refresh)
	}
	if got := v.Store().Page().Items; len(got) != 3 || got[0].ID != "v3" {
		t.Errorf("expected server list with new vendor first, got %+v", got)
	}
	if !v.Detector().Active("pending") {
		t.Error("expected the re-read counters to reach the detector")
	}
}

func TestCreateUnderSearchReseedsCounters(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(2)
	b.setCounters(api.CounterSnapshot{"pending": 1})

	v := New(vendorsDef(), testDeps(b, c))
	defer v.Close()
	v.Open(context.Background())
	v.SetFilter(context.Background(), query.Search("acme"))

	// Counters read without the search are not comparable with the
	// filtered baseline.
	b.setCounters(api.CounterSnapshot{"pending": 5})
	if _, err := v.Coordinator().Create(context.Background(), map[string]any{"name": "Acme"}); err != nil {
		t.Fatal(err)
	}
	if p := v.Store().Params(); p.Page != 1 || p.Search != "" {
		t.Errorf("expected search cleared on page 1, got %+v", p)
	}
	if v.Detector().Active("pending") {
		t.Error("create that cleared the search must reseed, not alert")
	}
	if got := v.Detector().Baseline()["pending"]; got != 5 {
		t.Errorf("baseline = %d, want 5", got)
	}
}

func TestLateObservationKeepsNewestBaseline(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(1)
	b.setCounters(api.CounterSnapshot{"pending": 3})

	v := New(vendorsDef(), testDeps(b, c))
	defer v.Close()
	v.Open(context.Background())
	drain(b.listed)

	// Two reads apply in order, but the older one reaches the detector
	// last, as when a refresh and a poll overlap.
	older := v.Fetcher().Fetch(context.Background())
	b.setCounters(api.CounterSnapshot{"pending": 6})
	newer := v.Fetcher().Fetch(context.Background())
	if !older.Applied || !newer.Applied || newer.Seq <= older.Seq {
		t.Fatalf("expected two applied reads in order, got %+v and %+v", older, newer)
	}

	v.observe(newer)
	if !v.Detector().Active("pending") {
		t.Fatal("expected alert for 3 -> 6")
	}
	v.observe(older)
	if got := v.Detector().Baseline()["pending"]; got != 6 {
		t.Fatalf("baseline moved back to %d", got)
	}

	c.Advance(2 * time.Second)
	v.Refresh(context.Background())
	if v.Detector().Active("pending") {
		t.Error("unchanged counter raised a second alert")
	}
}

func TestCloseDiscardsFurtherReads(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(1)
	v := New(vendorsDef(), testDeps(b, c))
	v.Open(context.Background())
	v.Close()
	v.Close()

	out := v.Fetch(context.Background())
	if !out.Stale || !errors.Is(out.Err, fetcher.ErrClosed) {
		t.Errorf("expected closed outcome, got %+v", out)
	}
	if out := v.Open(context.Background()); !out.Stale {
		t.Error("reopening a closed view must do nothing")
	}
}

func TestRegistry(t *testing.T) {
	c := clock.Fake(epoch)
	b := newFakeBackend(1)
	a, z := vendorsDef(), vendorsDef()
	a.Name, z.Name = "banners", "coupons"
	a.Counters, z.Counters = nil, nil

	r, err := NewRegistry([]config.Resource{z, a}, testDeps(b, c))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	all := r.All()
	if len(all) != 2 || all[0].Name() != "coupons" || all[1].Name() != "banners" {
		t.Fatalf("expected config order, got %v", all)
	}
	if err := r.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, v := range all {
		if !v.Store().Loaded() {
			t.Errorf("view %s not loaded", v.Name())
		}
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("expected unknown view to be absent")
	}

	if _, err := NewRegistry([]config.Resource{a, a}, testDeps(b, c)); err == nil {
		t.Error("expected duplicate resource error")
	}
}
