package query

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/clock"
)

func items(prefix string, n int) []api.Resource {
	out := make([]api.Resource, n)
	for i := range out {
		id := fmt.Sprintf("%s%d", prefix, i+1)
		out[i] = api.Resource{ID: id, Fields: map[string]any{"_id": id}}
	}
	return out
}

func newStore(pageSize int) *Store {
	return New(Options{
		Resource: "orders",
		PageSize: pageSize,
		Clock:    clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
}

func TestNewStoreDefaults(t *testing.T) {
	s := newStore(10)
	p := s.Params()
	if p.Page != 1 || p.PageSize != 10 || p.Status != api.StatusAll {
		t.Errorf("unexpected params %+v", p)
	}
	if s.Page().TotalPages != 1 {
		t.Errorf("expected 1 total page before any fetch")
	}
	if s.Loaded() {
		t.Error("store should not be loaded before ApplyPage")
	}
}

func TestPaginationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		pageSize := rng.Intn(25) + 1
		s := newStore(pageSize)
		for j := 0; j < 10; j++ {
			switch rng.Intn(2) {
			case 0:
				total := rng.Intn(200)
				s.ApplyPage(PageData{Page: s.Params().Page, Items: items("r", min(total, pageSize)), Total: total})
			case 1:
				s.SetPage(rng.Intn(12) - 1)
			}
			page, params := s.Page(), s.Params()
			want := api.PageCount(page.TotalCount, pageSize)
			if page.TotalPages != want {
				t.Fatalf("totalPages = %d, want %d (total %d, size %d)", page.TotalPages, want, page.TotalCount, pageSize)
			}
			if params.Page < 1 || params.Page > page.TotalPages {
				t.Fatalf("page %d outside [1, %d]", params.Page, page.TotalPages)
			}
		}
	}
}

func TestFilterResetsPage(t *testing.T) {
	patches := map[string]Patch{
		"search":    Search("foo"),
		"status":    Status("pending"),
		"filter":    Filter("vendor_type", "lab"),
		"page size": PageSize(25),
		"sort":      Sort("created_at", "desc"),
	}
	for name, patch := range patches {
		t.Run(name, func(t *testing.T) {
			s := newStore(10)
			s.ApplyPage(PageData{Page: 1, Items: items("o", 10), Total: 50})
			if !s.SetPage(3) {
				t.Fatal("SetPage(3) should succeed")
			}
			if !s.SetFilter(patch) {
				t.Fatal("expected change")
			}
			if got := s.Params().Page; got != 1 {
				t.Errorf("page = %d, want 1", got)
			}
		})
	}
}

func TestSearchScenario(t *testing.T) {
	s := newStore(10)
	s.ApplyPage(PageData{Page: 1, Items: items("o", 10), Total: 40})
	s.SetPage(3)

	s.SetFilter(Search("foo"))
	p := s.Params()
	if p.Page != 1 || p.Search != "foo" {
		t.Errorf("expected page 1 search foo, got %+v", p)
	}
}

func TestSetFilterUnchangedKeepsPage(t *testing.T) {
	s := newStore(10)
	s.ApplyPage(PageData{Page: 1, Items: items("o", 10), Total: 40})
	s.SetPage(2)
	s.SetFilter(Search("x"))
	s.SetPage(2)

	if s.SetFilter(Search("x")) {
		t.Error("identical search should not be a change")
	}
	if s.SetFilter(Status(""), Filter("vendor_type", "")) {
		t.Error("All status and empty filter are the current values")
	}
	if got := s.Params().Page; got != 2 {
		t.Errorf("page = %d, want 2", got)
	}
}

func TestSetPageOutOfRangeIsNoop(t *testing.T) {
	s := newStore(10)
	s.ApplyPage(PageData{Page: 1, Items: items("o", 10), Total: 30})

	for _, n := range []int{0, -1, 4, 100} {
		if s.SetPage(n) {
			t.Errorf("SetPage(%d) should be a no-op", n)
		}
	}
	if s.Params().Page != 1 {
		t.Errorf("page moved to %d", s.Params().Page)
	}
	if !s.SetPage(3) {
		t.Error("SetPage(3) should succeed")
	}
}

func TestDeleteLastItemClampsPage(t *testing.T) {
	s := newStore(10)
	s.ApplyPage(PageData{Page: 1, Items: items("o", 10), Total: 31})
	s.SetPage(4)
	s.ApplyPage(PageData{Page: 4, Items: items("o", 1), Total: 31})

	// The only item on page 4 is deleted; the re-fetch of page 4 is empty.
	clamped := s.ApplyPage(PageData{Page: 4, Items: nil, Total: 30})
	if !clamped {
		t.Fatal("expected clamp")
	}
	page, params := s.Page(), s.Params()
	if page.TotalPages != 3 || params.Page != 3 {
		t.Errorf("expected page 3 of 3, got %d of %d", params.Page, page.TotalPages)
	}
}

func TestResolveTotal(t *testing.T) {
	tests := []struct {
		name string
		data PageData
		want int
	}{
		{"explicit total", PageData{Page: 2, Items: items("a", 3), Total: 13, Pages: 9}, 13},
		{"last page from pages", PageData{Page: 3, Items: items("a", 4), Total: -1, Pages: 3}, 24},
		{"middle page from pages", PageData{Page: 1, Items: items("a", 10), Total: -1, Pages: 3}, 30},
		{"empty last page", PageData{Page: 4, Items: nil, Total: -1, Pages: 3}, 30},
		{"from position", PageData{Page: 2, Items: items("a", 7), Total: -1}, 17},
		{"empty beyond end", PageData{Page: 4, Items: nil, Total: -1}, 30},
		{"full page without totals", PageData{Page: 2, Items: items("a", 10), Total: -1}, 21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveTotal(tt.data, 10); got != tt.want {
				t.Errorf("resolveTotal = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPagingForwardWithoutTotals(t *testing.T) {
	s := newStore(10)
	s.ApplyPage(PageData{Page: 1, Items: items("a", 10), Total: -1})
	if got := s.Page().TotalPages; got != 2 {
		t.Fatalf("TotalPages = %d, want 2", got)
	}
	if !s.SetPage(2) {
		t.Fatal("SetPage(2) should move past a full first page")
	}

	// A short page ends the list.
	s.ApplyPage(PageData{Page: 2, Items: items("b", 4), Total: -1})
	page := s.Page()
	if page.TotalCount != 14 || page.TotalPages != 2 {
		t.Errorf("expected 14 items on 2 pages, got %d on %d", page.TotalCount, page.TotalPages)
	}

	// An empty page past the end clamps back.
	if !s.ApplyPage(PageData{Page: 2, Items: nil, Total: -1}) {
		t.Error("expected clamp for an empty page past the end")
	}
	if s.Params().Page != 1 {
		t.Errorf("page = %d, want 1", s.Params().Page)
	}
}

func TestInvalidate(t *testing.T) {
	s := newStore(10)
	s.ApplyPage(PageData{Page: 1, Items: items("o", 10), Total: 50})
	s.SetFilter(Search("abc"), Status("pending"))
	s.SetPage(2)

	if !s.Invalidate() {
		t.Fatal("expected change")
	}
	p := s.Params()
	if p.Page != 1 || p.Search != "" || p.Status != "pending" {
		t.Errorf("unexpected params after invalidate %+v", p)
	}
	if s.Invalidate() {
		t.Error("second invalidate should be a no-op")
	}
}

func TestApplyPageKeepsServerOrder(t *testing.T) {
	s := newStore(10)
	in := []api.Resource{{ID: "c"}, {ID: "a"}, {ID: "b"}}
	s.ApplyPage(PageData{Page: 1, Items: in, Total: 3})
	in[0].ID = "mutated"

	got := s.Page().Items
	if got[0].ID != "c" || got[1].ID != "a" || got[2].ID != "b" {
		t.Errorf("order or isolation broken: %+v", got)
	}
}

func TestClientPaging(t *testing.T) {
	s := New(Options{Resource: "banners", PageSize: 4, ClientPaging: true, Clock: clock.Fake(time.Unix(0, 0))})
	if s.ApplyPage(PageData{Page: 1, Items: items("b", 10), Total: -1}) {
		t.Error("client paging should never ask for a re-fetch")
	}
	page := s.Page()
	if page.TotalCount != 10 || page.TotalPages != 3 || len(page.Items) != 4 {
		t.Fatalf("unexpected page %+v", page)
	}

	if !s.SetPage(3) {
		t.Fatal("SetPage(3) should succeed")
	}
	page = s.Page()
	if len(page.Items) != 2 || page.Items[0].ID != "b9" {
		t.Errorf("unexpected last page %+v", page.Items)
	}

	// The list shrinks below page 3: served locally from page 2.
	s.ApplyPage(PageData{Page: 3, Items: items("b", 6), Total: -1})
	if s.Params().Page != 2 || len(s.Page().Items) != 2 {
		t.Errorf("expected clamp to page 2, got page %d with %d items", s.Params().Page, len(s.Page().Items))
	}
}

func TestSubscribeContentChanged(t *testing.T) {
	s := newStore(10)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.ApplyPage(PageData{Page: 1, Items: items("o", 3), Total: 3})
	first := <-ch
	if !first.PageApplied || !first.ContentChanged {
		t.Errorf("first apply should change content: %+v", first)
	}

	s.ApplyPage(PageData{Page: 1, Items: items("o", 3), Total: 3})
	second := <-ch
	if !second.PageApplied || second.ContentChanged {
		t.Errorf("identical page should not change content: %+v", second)
	}

	s.SetFilter(Search("x"))
	third := <-ch
	if !third.ParamsChanged || third.PageApplied {
		t.Errorf("filter change event wrong: %+v", third)
	}
}

func TestFetchedAtUsesClock(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s := New(Options{Resource: "orders", PageSize: 10, Clock: fake})
	fake.Advance(time.Minute)
	s.ApplyPage(PageData{Page: 1, Total: 0})
	if got := s.Page().FetchedAt; !got.Equal(time.Date(2026, 5, 1, 9, 1, 0, 0, time.UTC)) {
		t.Errorf("FetchedAt = %v", got)
	}
}
