// Package query holds the view parameters and the last good page of one
// resource list.
package query

import (
	"encoding/json"
	"maps"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/clock"
)

// Options configures a Store.
type Options struct {
	Resource string
	PageSize int
	// ClientPaging keeps the full list and slices pages locally.
	ClientPaging bool
	Clock        clock.Clock
}

// Change is delivered to subscribers after every state change.
type Change struct {
	Resource string
	Params   api.QueryParams
	Page     api.ResourcePage
	// ParamsChanged is set when QueryParams changed.
	ParamsChanged bool
	// PageApplied is set when a fetched page replaced the current one.
	PageApplied bool
	// ContentChanged is set when the visible items or totals differ from
	// the previous page.
	ContentChanged bool
}

// Store is the single source of truth for one resource kind's view.
// All methods are safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	resource     string
	clientPaging bool
	clock        clock.Clock
	params       api.QueryParams
	page         api.ResourcePage
	all          []api.Resource
	fingerprint  [32]byte
	loaded       bool

	subMu   sync.RWMutex
	subs    map[int]chan Change
	nextSub int
}

// New creates a store at page 1 with an empty page.
func New(opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Store{
		resource:     opts.Resource,
		clientPaging: opts.ClientPaging,
		clock:        opts.Clock,
		params:       api.QueryParams{Page: 1, PageSize: opts.PageSize, Status: api.StatusAll},
		page:         api.ResourcePage{Items: []api.Resource{}, TotalPages: 1},
		subs:         make(map[int]chan Change),
	}
}

// Resource returns the resource kind name.
func (s *Store) Resource() string { return s.resource }

// LocalPaging reports whether page changes can be served without a fetch.
func (s *Store) LocalPaging() bool { return s.clientPaging }

// Params returns a copy of the current parameters.
func (s *Store) Params() api.QueryParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.Clone()
}

// Page returns a copy of the current page.
func (s *Store) Page() api.ResourcePage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page.Clone()
}

// Loaded reports whether any page has been applied yet.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Patch edits a copy of the parameters. Changes to Page are ignored.
type Patch func(*api.QueryParams)

// Search sets the free-text search term.
func Search(term string) Patch {
	return func(p *api.QueryParams) { p.Search = term }
}

// Status sets the status filter. "" means api.StatusAll.
func Status(status string) Patch {
	return func(p *api.QueryParams) {
		if status == "" {
			status = api.StatusAll
		}
		p.Status = status
	}
}

// Filter sets one kind-specific filter. An empty value removes it.
func Filter(key, value string) Patch {
	return func(p *api.QueryParams) {
		if value == "" || value == api.StatusAll {
			delete(p.Filters, key)
			return
		}
		if p.Filters == nil {
			p.Filters = make(map[string]string)
		}
		p.Filters[key] = value
	}
}

// PageSize sets the page size. Non-positive values are ignored.
func PageSize(n int) Patch {
	return func(p *api.QueryParams) {
		if n > 0 {
			p.PageSize = n
		}
	}
}

// Sort sets the sort field and direction.
func Sort(by, dir string) Patch {
	return func(p *api.QueryParams) {
		p.SortBy = by
		p.SortDir = dir
	}
}

// SetFilter merges patches into the parameters. If any field other than
// Page differs afterwards, Page is reset to 1 and subscribers are
// notified. It reports whether anything changed.
func (s *Store) SetFilter(patches ...Patch) bool {
	s.mu.Lock()
	next := s.params.Clone()
	for _, patch := range patches {
		patch(&next)
	}
	next.Page = s.params.Page
	if sameFilters(s.params, next) {
		s.mu.Unlock()
		return false
	}
	next.Page = 1
	s.params = next
	if s.clientPaging {
		s.sliceLocked()
	}
	change := s.changeLocked()
	s.mu.Unlock()

	change.ParamsChanged = true
	s.notify(change)
	return true
}

// SetPage moves to page n. It is a no-op returning false when n is
// outside [1, TotalPages] or already current.
func (s *Store) SetPage(n int) bool {
	s.mu.Lock()
	if n < 1 || n > s.page.TotalPages || n == s.params.Page {
		s.mu.Unlock()
		return false
	}
	s.params.Page = n
	contentChanged := false
	if s.clientPaging {
		contentChanged = s.sliceLocked()
	}
	change := s.changeLocked()
	s.mu.Unlock()

	change.ParamsChanged = true
	change.ContentChanged = contentChanged
	s.notify(change)
	return true
}

// Invalidate resets the view after a successful create: page 1 and no
// search term. It reports whether the parameters changed.
func (s *Store) Invalidate() bool {
	s.mu.Lock()
	changed := s.params.Page != 1 || s.params.Search != ""
	s.params.Page = 1
	s.params.Search = ""
	if changed && s.clientPaging {
		s.sliceLocked()
	}
	change := s.changeLocked()
	s.mu.Unlock()

	if changed {
		change.ParamsChanged = true
		s.notify(change)
	}
	return changed
}

// PageData is one complete list response.
type PageData struct {
	// Page is the page number the response was requested for.
	Page  int
	Items []api.Resource
	// Total is the server's item count, or -1 when not reported.
	Total int
	// Pages is the server's page count, or 0 when not reported.
	Pages int
}

// ApplyPage replaces the current page with a complete response. The
// caller is expected to have checked the request is still current. If
// the current page no longer exists (for example after deleting the
// last item of the last page) Page is clamped into [1, TotalPages] and
// clamped is true: the caller should fetch the clamped page. With client
// paging the clamped page is served locally and clamped is always false.
func (s *Store) ApplyPage(d PageData) (clamped bool) {
	s.mu.Lock()
	var contentChanged, paramsChanged bool
	if s.clientPaging {
		before := s.params.Page
		s.all = append([]api.Resource(nil), d.Items...)
		contentChanged = s.sliceLocked()
		paramsChanged = s.params.Page != before
	} else {
		total := resolveTotal(d, s.params.PageSize)
		items := append([]api.Resource{}, d.Items...)
		s.page.Items = items
		s.page.TotalCount = total
		s.page.TotalPages = api.PageCount(total, s.params.PageSize)
		clamped = s.clampLocked()
		paramsChanged = clamped
		contentChanged = s.refingerprintLocked()
	}
	s.page.FetchedAt = s.clock.Now()
	s.loaded = true
	change := s.changeLocked()
	s.mu.Unlock()

	change.PageApplied = true
	change.ParamsChanged = paramsChanged
	change.ContentChanged = contentChanged
	s.notify(change)
	return clamped
}

// resolveTotal picks the item count for a server-paginated response. A
// reported total wins; otherwise it is derived from the page count or,
// failing that, from the page position and item count. Without either, a
// full page counts one extra item so the next page stays reachable.
func resolveTotal(d PageData, pageSize int) int {
	if d.Total >= 0 {
		return d.Total
	}
	if d.Pages > 0 {
		if d.Page == d.Pages && len(d.Items) > 0 {
			return (d.Pages-1)*pageSize + len(d.Items)
		}
		return d.Pages * pageSize
	}
	seen := max(d.Page-1, 0)*pageSize + len(d.Items)
	if pageSize > 0 && len(d.Items) >= pageSize {
		return seen + 1
	}
	return seen
}

func (s *Store) clampLocked() bool {
	p := min(max(s.params.Page, 1), s.page.TotalPages)
	if p == s.params.Page {
		return false
	}
	s.params.Page = p
	return true
}

// sliceLocked recomputes the visible page from the full list.
func (s *Store) sliceLocked() bool {
	s.page.TotalCount = len(s.all)
	s.page.TotalPages = api.PageCount(len(s.all), s.params.PageSize)
	s.clampLocked()
	start := min((s.params.Page-1)*s.params.PageSize, len(s.all))
	end := min(start+s.params.PageSize, len(s.all))
	s.page.Items = append([]api.Resource{}, s.all[start:end]...)
	return s.refingerprintLocked()
}

func (s *Store) refingerprintLocked() bool {
	data, err := json.Marshal(struct {
		Items []api.Resource
		Total int
	}{s.page.Items, s.page.TotalCount})
	if err != nil {
		return true
	}
	sum := blake3.Sum256(data)
	changed := sum != s.fingerprint
	s.fingerprint = sum
	return changed
}

func (s *Store) changeLocked() Change {
	return Change{
		Resource: s.resource,
		Params:   s.params.Clone(),
		Page:     s.page.Clone(),
	}
}

func sameFilters(a, b api.QueryParams) bool {
	return a.PageSize == b.PageSize &&
		a.Search == b.Search &&
		a.Status == b.Status &&
		a.SortBy == b.SortBy &&
		a.SortDir == b.SortDir &&
		maps.Equal(a.Filters, b.Filters)
}

// Subscribe returns a channel that receives every change. Slow
// subscribers miss changes rather than block the store.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch := make(chan Change, 32)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) notify(c Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
