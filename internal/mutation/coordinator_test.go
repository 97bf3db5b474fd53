package mutation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/backend"
	"github.com/tkingovr/adminsync/internal/fetcher"
	"github.com/tkingovr/adminsync/internal/policy"
	"github.com/tkingovr/adminsync/internal/query"
)

type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	createErr error
	updateErr error
	deleteErr error
	uploadErr error
	created   *api.Resource
	paths     []string
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *fakeBackend) Create(_ context.Context, _ string, _ map[string]any) (*backend.MutationResult, error) {
	b.record("create")
	if b.createErr != nil {
		return nil, b.createErr
	}
	return &backend.MutationResult{Message: "Created", Item: b.created}, nil
}

func (b *fakeBackend) Update(_ context.Context, _, id string, _ map[string]any) (*backend.MutationResult, error) {
	b.record("update " + id)
	if b.updateErr != nil {
		return nil, b.updateErr
	}
	return &backend.MutationResult{}, nil
}

func (b *fakeBackend) Delete(_ context.Context, _, id string) (*backend.MutationResult, error) {
	b.record("delete " + id)
	if b.deleteErr != nil {
		return nil, b.deleteErr
	}
	return &backend.MutationResult{Message: "Deleted"}, nil
}

func (b *fakeBackend) Upload(_ context.Context, _ []backend.UploadFile) ([]string, error) {
	b.record("upload")
	if b.uploadErr != nil {
		return nil, b.uploadErr
	}
	return b.paths, nil
}

// pageLister serves list pages from a function and counts calls.
type pageLister struct {
	mu    sync.Mutex
	pages []int
	serve func(page int) *backend.ListResult
}

func (l *pageLister) List(_ context.Context, req backend.ListRequest) (*backend.ListResult, error) {
	l.mu.Lock()
	l.pages = append(l.pages, req.Params.Page)
	l.mu.Unlock()
	return l.serve(req.Params.Page), nil
}

func (l *pageLister) requested() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.pages...)
}

type notice struct {
	level   api.NoticeLevel
	message string
}

type noticeLog struct {
	mu      sync.Mutex
	notices []notice
}

func (n *noticeLog) Report(_ string, level api.NoticeLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{level, message})
}

func (n *noticeLog) all() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.notices...)
}

type historyLog struct {
	mu      sync.Mutex
	records []*api.MutationRecord
}

func (h *historyLog) Write(_ context.Context, r *api.MutationRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *historyLog) last() *api.MutationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return nil
	}
	return h.records[len(h.records)-1]
}

type confirmFunc func() (bool, error)

func (f confirmFunc) Confirm(context.Context, string, string, string) (bool, error) { return f() }

type harness struct {
	coord   *Coordinator
	store   *query.Store
	backend *fakeBackend
	lister  *pageLister
	notices *noticeLog
	history *historyLog
}

func items(ids ...string) []api.Resource {
	out := make([]api.Resource, len(ids))
	for i, id := range ids {
		out[i] = api.Resource{ID: id, Fields: map[string]any{"id": id}}
	}
	return out
}

func newHarness(t *testing.T, required []string, serve func(page int) *backend.ListResult) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var validator policy.Engine
	if len(required) > 0 {
		engine, err := policy.NewYAMLEngineFromPolicy(&policy.PolicyFile{Version: 1}, policy.RequiredRules("coupons", required)...)
		if err != nil {
			t.Fatal(err)
		}
		validator = engine
	}

	h := &harness{
		store:   query.New(query.Options{Resource: "coupons", PageSize: 10}),
		backend: &fakeBackend{},
		lister:  &pageLister{serve: serve},
		notices: &noticeLog{},
		history: &historyLog{},
	}
	f := fetcher.New(fetcher.Options{
		Store:    h.store,
		Lister:   h.lister,
		Request:  backend.ListRequest{Path: "/coupons"},
		Reporter: h.notices,
		Logger:   logger,
	})
	h.coord = New(Options{
		Resource:  "coupons",
		Title:     "Coupon",
		Path:      "/coupons",
		Backend:   h.backend,
		Store:     h.store,
		Refresher: f,
		Validator: validator,
		Reporter:  h.notices,
		History:   h.history,
		Logger:    logger,
	})
	return h
}

func TestCreate_IsPessimistic(t *testing.T) {
	stale := items("a", "b")
	h := newHarness(t, nil, func(int) *backend.ListResult {
		return &backend.ListResult{Items: stale, Total: 2}
	})
	h.backend.created = &api.Resource{ID: "new", Fields: map[string]any{"id": "new"}}

	h.store.ApplyPage(query.PageData{Page: 1, Items: items("x"), Total: 40})
	h.store.SetFilter(query.Search("sum"))
	h.store.SetPage(3)

	res, err := h.coord.Create(context.Background(), map[string]any{"code": "SUMMER"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != api.OutcomeSuccess || !res.Refresh.Applied {
		t.Fatalf("unexpected result %+v", res)
	}

	page := h.store.Page()
	if len(page.Items) != 2 || page.Items[0].ID != "a" || page.Items[1].ID != "b" {
		t.Fatalf("expected the stale server list, got %+v", page.Items)
	}
	params := h.store.Params()
	if params.Page != 1 || params.Search != "" {
		t.Errorf("expected page 1 without search, got %+v", params)
	}
	if got := h.lister.requested(); len(got) != 1 || got[0] != 1 {
		t.Errorf("expected one fetch of page 1, got %v", got)
	}
	if !h.coord.Draft().Empty() {
		t.Error("expected draft reset after create")
	}
	if n := h.notices.all(); len(n) != 1 || n[0].level != api.NoticeSuccess || n[0].message != "Created" {
		t.Errorf("unexpected notices %+v", n)
	}
	if rec := h.history.last(); rec == nil || rec.Outcome != api.OutcomeSuccess || rec.TargetID != "new" {
		t.Errorf("unexpected history %+v", rec)
	}
}

func TestCreate_MissingRequiredFieldMakesNoCalls(t *testing.T) {
	h := newHarness(t, []string{"code", "discount"}, func(int) *backend.ListResult {
		t.Error("unexpected list call")
		return &backend.ListResult{}
	})

	payload := map[string]any{"code": "SUMMER"}
	_, err := h.coord.Create(context.Background(), payload)
	if !api.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.backend.count() != 0 || len(h.lister.requested()) != 0 {
		t.Errorf("expected zero network calls, got %v / %v", h.backend.calls, h.lister.requested())
	}
	n := h.notices.all()
	if len(n) != 1 || n[0].level != api.NoticeError || n[0].message != "discount is required" {
		t.Errorf("expected one validation notice, got %+v", n)
	}
	if d := h.coord.Draft(); d.Values["code"] != "SUMMER" {
		t.Errorf("expected draft kept, got %+v", d)
	}
	rec := h.history.last()
	if rec == nil || rec.Outcome != api.OutcomeInvalid || rec.Rule != "coupons-create-requires-discount" {
		t.Errorf("unexpected history %+v", rec)
	}
}

func TestCreate_FailureKeepsDraft(t *testing.T) {
	h := newHarness(t, nil, func(int) *backend.ListResult { return &backend.ListResult{} })
	h.backend.createErr = &api.Error{Kind: api.KindTransport, Op: "create", Status: 409, Message: "Code already exists"}

	h.coord.Set("code", "DUP")
	_, err := h.coord.Submit(context.Background())
	if !api.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(h.lister.requested()) != 0 {
		t.Error("failed create must not re-fetch")
	}
	if d := h.coord.Draft(); d.Values["code"] != "DUP" {
		t.Errorf("expected draft kept, got %+v", d)
	}
	if n := h.notices.all(); len(n) != 1 || n[0].message != "Code already exists" {
		t.Errorf("unexpected notices %+v", n)
	}
}

func TestCreate_SemanticFailureUsesFallback(t *testing.T) {
	h := newHarness(t, nil, func(int) *backend.ListResult { return &backend.ListResult{} })
	h.backend.createErr = &api.Error{Kind: api.KindSemantic, Op: "create"}

	if _, err := h.coord.Create(context.Background(), map[string]any{"code": "X"}); err == nil {
		t.Fatal("expected error")
	}
	if n := h.notices.all(); len(n) != 1 || n[0].message != api.FallbackMessage {
		t.Errorf("unexpected notices %+v", n)
	}
}

func TestUnauthenticated(t *testing.T) {
	h := newHarness(t, nil, func(int) *backend.ListResult { return &backend.ListResult{} })
	h.backend.createErr = api.Unauthenticated("create")

	_, err := h.coord.Create(context.Background(), map[string]any{"code": "X"})
	if !api.IsUnauthenticated(err) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if n := h.notices.all(); len(n) != 1 || n[0].level != api.NoticeError {
		t.Errorf("expected one error notice, got %+v", n)
	}
	if rec := h.history.last(); rec.Outcome != api.OutcomeUnauthenticated {
		t.Errorf("unexpected outcome %s", rec.Outcome)
	}
}

func TestUpdate_RefetchesCurrentPage(t *testing.T) {
	h := newHarness(t, []string{"code"}, func(page int) *backend.ListResult {
		return &backend.ListResult{Items: items("c"), Total: 30}
	})
	h.store.ApplyPage(query.PageData{Page: 1, Items: items("a"), Total: 30})
	h.store.SetPage(2)

	h.coord.Edit("c", map[string]any{"code": "OLD"})
	h.coord.Set("code", "NEW")
	if _, err := h.coord.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := h.backend.calls; len(got) != 1 || got[0] != "update c" {
		t.Errorf("unexpected backend calls %v", got)
	}
	if got := h.lister.requested(); len(got) != 1 || got[0] != 2 {
		t.Errorf("expected re-fetch of page 2, got %v", got)
	}
	if h.store.Params().Page != 2 {
		t.Errorf("expected page preserved, got %d", h.store.Params().Page)
	}
	if n := h.notices.all(); len(n) != 1 || n[0].message != "Coupon updated" {
		t.Errorf("unexpected notices %+v", n)
	}
}

func TestRemove_LastItemClampsPage(t *testing.T) {
	h := newHarness(t, nil, func(page int) *backend.ListResult {
		if page == 4 {
			return &backend.ListResult{Items: nil, Total: 30}
		}
		return &backend.ListResult{Items: items("p3"), Total: 30}
	})
	h.store.ApplyPage(query.PageData{Page: 1, Items: items("a"), Total: 31})
	if !h.store.SetPage(4) {
		t.Fatal("expected page 4 to exist")
	}

	if _, err := h.coord.Remove(context.Background(), "last"); err != nil {
		t.Fatal(err)
	}

	if got := h.lister.requested(); len(got) != 2 || got[0] != 4 || got[1] != 3 {
		t.Errorf("expected fetch of page 4 then 3, got %v", got)
	}
	params := h.store.Params()
	page := h.store.Page()
	if params.Page != 3 || page.TotalPages != 3 {
		t.Errorf("expected clamp to page 3 of 3, got page %d of %d", params.Page, page.TotalPages)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "p3" {
		t.Errorf("unexpected items %+v", page.Items)
	}
}

func TestRemove_NotConfirmed(t *testing.T) {
	h := newHarness(t, nil, func(int) *backend.ListResult { return &backend.ListResult{} })
	h.coord.confirmer = confirmFunc(func() (bool, error) { return false, nil })

	_, err := h.coord.Remove(context.Background(), "v1")
	if !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if h.backend.count() != 0 {
		t.Errorf("expected no delete call, got %v", h.backend.calls)
	}
	if rec := h.history.last(); rec.Outcome != api.OutcomeCancelled {
		t.Errorf("unexpected outcome %s", rec.Outcome)
	}
	if n := h.notices.all(); len(n) != 0 {
		t.Errorf("expected no notices, got %+v", n)
	}
}

func TestRemove_Confirmed(t *testing.T) {
	h := newHarness(t, nil, func(int) *backend.ListResult { return &backend.ListResult{} })
	h.coord.confirmer = confirmFunc(func() (bool, error) { return true, nil })

	if _, err := h.coord.Remove(context.Background(), "v1"); err != nil {
		t.Fatal(err)
	}
	if got := h.backend.calls; len(got) != 1 || got[0] != "delete v1" {
		t.Errorf("unexpected calls %v", got)
	}
}

func TestAttach(t *testing.T) {
	h := newHarness(t, nil, func(int) *backend.ListResult { return &backend.ListResult{} })
	h.backend.paths = []string{"uploads/banner.png"}
	file := backend.UploadFile{Name: "banner.png", Content: strings.NewReader("png")}

	h.coord.Set("title", "Sale")
	if _, err := h.coord.Attach(context.Background(), "image", []backend.UploadFile{file}); err != nil {
		t.Fatal(err)
	}
	d := h.coord.Draft()
	if d.Values["image"] != "uploads/banner.png" || len(d.Attachments["image"]) != 1 {
		t.Fatalf("expected image path in draft, got %+v", d)
	}

	h.backend.uploadErr = &api.Error{Kind: api.KindTransport, Op: "upload", Message: "File too large"}
	if _, err := h.coord.Attach(context.Background(), "image", []backend.UploadFile{file}); err == nil {
		t.Fatal("expected upload error")
	}
	d = h.coord.Draft()
	if _, ok := d.Values["image"]; ok {
		t.Error("expected image unset after failed upload")
	}
	if d.Values["title"] != "Sale" {
		t.Error("expected other fields kept")
	}
	if d.Errors["image"] != "File too large" {
		t.Errorf("expected field error, got %+v", d.Errors)
	}
}

func TestApply_RejectsOtherResource(t *testing.T) {
	h := newHarness(t, nil, func(int) *backend.ListResult { return &backend.ListResult{} })
	if _, err := h.coord.Apply(context.Background(), api.MutationRequest{Resource: "vendors", Kind: api.MutationCreate}); err == nil {
		t.Fatal("expected error")
	}
	if h.backend.count() != 0 {
		t.Error("expected no calls")
	}
}
