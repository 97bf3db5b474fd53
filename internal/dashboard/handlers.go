package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/backend"
	"github.com/tkingovr/adminsync/internal/config"
	"github.com/tkingovr/adminsync/internal/export"
	"github.com/tkingovr/adminsync/internal/query"
	"github.com/tkingovr/adminsync/internal/view"
)

// maxUploadMemory bounds the part of a multipart form kept in memory.
const maxUploadMemory = 32 << 20

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	stats, err := s.history.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to get stats", http.StatusInternalServerError)
		return
	}

	var snaps []view.Snapshot
	for _, v := range s.views.All() {
		snaps = append(snaps, v.Snapshot())
	}
	data := map[string]any{
		"Page":    "overview",
		"Stats":   stats,
		"Views":   snaps,
		"Pending": len(s.pendingConfirmations()),
		"Notices": s.activeNotices(),
	}
	renderPage(w, "overview", data)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*view.View, bool) {
	v, ok := s.views.Get(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return nil, false
	}
	return v, true
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	def := v.Def()
	values := r.URL.Query()
	if patches := parseQuery(def, values); len(patches) > 0 {
		v.SetFilter(r.Context(), patches...)
	}
	if page, err := strconv.Atoi(values.Get("page")); err == nil {
		v.SetPage(r.Context(), page)
	}

	snap := v.Snapshot()
	var editing *api.Resource
	if id := values.Get("edit"); id != "" {
		for i := range snap.Page.Items {
			if snap.Page.Items[i].ID == id {
				editing = &snap.Page.Items[i]
				break
			}
		}
	}

	data := map[string]any{
		"Page":    "resource",
		"View":    snap,
		"Def":     def,
		"Columns": tableColumns(def, snap.Page.Items),
		"Fields":  formFields(def, snap.Page.Items),
		"Pages":   pageNumbers(snap.Page.TotalPages),
		"Editing": editing,
		"Draft":   v.Coordinator().Draft(),
		"Notices": s.activeNotices(),
	}
	renderPage(w, "resource", data)
}

// parseQuery turns list query parameters into store patches. Parameters
// that are absent leave the current value alone.
func parseQuery(def config.Resource, values url.Values) []query.Patch {
	var patches []query.Patch
	if values.Has("search") {
		patches = append(patches, query.Search(strings.TrimSpace(values.Get("search"))))
	}
	if values.Has("status") {
		patches = append(patches, query.Status(values.Get("status")))
	}
	for _, name := range def.Filters {
		if values.Has(name) {
			patches = append(patches, query.Filter(name, values.Get(name)))
		}
	}
	if values.Has("sort_by") {
		patches = append(patches, query.Sort(values.Get("sort_by"), values.Get("sort_dir")))
	}
	if n, err := strconv.Atoi(values.Get("page_size")); err == nil {
		patches = append(patches, query.PageSize(n))
	}
	return patches
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap := v.Snapshot()
	now := s.clock.Now()

	var buf bytes.Buffer
	err := export.WritePDF(&buf, export.Table{
		Title:       snap.Title,
		Columns:     v.Def().Columns,
		Params:      snap.Params,
		Page:        snap.Page,
		GeneratedAt: now,
	})
	if err != nil {
		s.logger.Error("export failed", "resource", snap.Resource, "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(snap.Resource, snap.Params.Page, now)))
	buf.WriteTo(w)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	v.Refresh(r.Context())
	redirectTo(w, r, "/resources/"+v.Name())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	payload, err := s.readForm(r, v)
	if err == nil {
		_, err = v.Coordinator().Create(r.Context(), payload)
	}
	if err != nil {
		s.logger.Debug("create rejected", "resource", v.Name(), "error", err)
	}
	redirectTo(w, r, "/resources/"+v.Name())
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	payload, err := s.readForm(r, v)
	if err == nil {
		_, err = v.Coordinator().Update(r.Context(), id, payload)
	}
	if err != nil {
		s.logger.Debug("update rejected", "resource", v.Name(), "id", id, "error", err)
		redirectTo(w, r, "/resources/"+v.Name()+"?edit="+url.QueryEscape(id))
		return
	}
	redirectTo(w, r, "/resources/"+v.Name())
}

// handleDelete removes an item. Resources that need confirmation are
// removed in the background so the user can answer on the confirmations
// page.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if v.Def().ConfirmDelete && s.confirms != nil {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := v.Coordinator().Remove(ctx, id); err != nil {
				s.logger.Debug("delete not applied", "resource", v.Name(), "id", id, "error", err)
			}
		}()
		redirectTo(w, r, "/confirmations")
		return
	}
	if _, err := v.Coordinator().Remove(r.Context(), id); err != nil {
		s.logger.Debug("delete failed", "resource", v.Name(), "id", id, "error", err)
	}
	redirectTo(w, r, "/resources/"+v.Name())
}

// readForm builds a mutation payload from a posted form. A file posted
// under the resource's attachment field is uploaded first and its
// stored path replaces the field.
func (s *Server) readForm(r *http.Request, v *view.View) (map[string]any, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, api.Validation("form", "invalid form")
	}
	payload := make(map[string]any)
	for key, vals := range r.PostForm {
		if strings.HasPrefix(key, "_") || len(vals) == 0 {
			continue
		}
		payload[key] = strings.TrimSpace(vals[0])
	}

	field := v.Def().AttachmentField
	if field == "" || r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return payload, nil
	}
	var files []backend.UploadFile
	for _, header := range r.MultipartForm.File[field] {
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("opening upload: %w", err)
		}
		defer f.Close()
		files = append(files, backend.UploadFile{Name: header.Filename, Content: f})
	}
	if _, err := v.Coordinator().Attach(r.Context(), field, files); err != nil {
		return nil, err
	}
	if value, ok := v.Coordinator().Draft().Values[field]; ok {
		payload[field] = value
	}
	return payload, nil
}

func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Page":    "confirmations",
		"Pending": s.pendingConfirmations(),
		"Notices": s.activeNotices(),
	}
	if s.confirms != nil {
		all := s.confirms.All()
		slices.Reverse(all)
		data["All"] = all
	}
	renderPage(w, "confirmations", data)
}

func (s *Server) handleConfirmApprove(w http.ResponseWriter, r *http.Request) {
	if s.confirms == nil {
		http.NotFound(w, r)
		return
	}
	if err := s.confirms.Approve(r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	redirectTo(w, r, "/confirmations")
}

func (s *Server) handleConfirmDeny(w http.ResponseWriter, r *http.Request) {
	if s.confirms == nil {
		http.NotFound(w, r)
		return
	}
	if err := s.confirms.Deny(r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	redirectTo(w, r, "/confirmations")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter := api.QueryFilter{
		Resource: r.URL.Query().Get("resource"),
		Outcome:  api.Outcome(r.URL.Query().Get("outcome")),
	}
	records, err := s.history.Query(r.Context(), filter)
	if err != nil {
		http.Error(w, "failed to query history", http.StatusInternalServerError)
		return
	}

	// Newest first, last 100.
	slices.Reverse(records)
	records = records[:min(len(records), 100)]

	data := map[string]any{
		"Page":    "history",
		"Records": records,
		"Filter":  filter,
	}
	renderPage(w, "history", data)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Page": "config"}
	if s.cfg != nil && s.cfg.File != nil {
		out, err := s.cfg.MarshalYAML()
		if err != nil {
			http.Error(w, "failed to render config", http.StatusInternalServerError)
			return
		}
		data["ConfigYAML"] = string(out)
		data["Resources"] = s.cfg.Resources
	}
	renderPage(w, "config", data)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if s.notices == nil || !s.notices.Dismiss(r.PathValue("id")) {
		http.NotFound(w, r)
		return
	}
	back := r.Referer()
	if back == "" {
		back = "/"
	}
	redirectTo(w, r, back)
}

func (s *Server) pendingConfirmations() []approvalView {
	if s.confirms == nil {
		return nil
	}
	var out []approvalView
	for _, req := range s.confirms.Pending() {
		out = append(out, approvalView{Request: req, Age: s.clock.Now().Sub(req.CreatedAt).Round(time.Second)})
	}
	return out
}

func (s *Server) activeNotices() []api.Notice {
	if s.notices == nil {
		return nil
	}
	return s.notices.Active()
}

// redirectTo answers form posts with 303 so a reload does not resubmit.
func redirectTo(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// tableColumns returns the configured columns, or the first item's
// fields in name order.
func tableColumns(def config.Resource, items []api.Resource) []string {
	if len(def.Columns) > 0 {
		return def.Columns
	}
	if len(items) == 0 {
		return nil
	}
	var cols []string
	for k := range items[0].Fields {
		if k != "id" && k != "_id" {
			cols = append(cols, k)
		}
	}
	slices.Sort(cols)
	return cols[:min(len(cols), 6)]
}

// formFields lists the editable fields: required ones first, then the
// table columns. The attachment field gets its own file input.
func formFields(def config.Resource, items []api.Resource) []string {
	var out []string
	for _, f := range append(slices.Clone(def.Required), tableColumns(def, items)...) {
		if f == def.AttachmentField || slices.Contains(out, f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func pageNumbers(total int) []int {
	out := make([]int, 0, max(total, 1))
	for i := range max(total, 1) {
		out = append(out, i+1)
	}
	return out
}

func renderHistoryRow(record *api.MutationRecord) string {
	return fmt.Sprintf(
		`<tr class="border-b border-gray-700 hover:bg-gray-800"><td class="px-4 py-2 text-gray-400 text-xs">%s</td><td class="px-4 py-2">%s</td><td class="px-4 py-2">%s</td><td class="px-4 py-2 font-mono text-sm">%s</td><td class="px-4 py-2"><span class="px-2 py-1 rounded text-xs font-bold %s">%s</span></td><td class="px-4 py-2 text-gray-400 text-xs">%s</td></tr>`,
		record.Timestamp.Format("15:04:05"),
		escapeHTML(record.Resource),
		escapeHTML(string(record.Kind)),
		escapeHTML(record.TargetID),
		outcomeColor(record.Outcome),
		strings.ToUpper(string(record.Outcome)),
		escapeHTML(truncate(record.Message, 80)),
	)
}

func outcomeColor(o api.Outcome) string {
	switch o {
	case api.OutcomeSuccess:
		return "bg-green-900 text-green-300"
	case api.OutcomeFailure, api.OutcomeUnauthenticated:
		return "bg-red-900 text-red-300"
	case api.OutcomeInvalid:
		return "bg-yellow-900 text-yellow-300"
	default:
		return "bg-gray-700 text-gray-300"
	}
}

func noticeColor(l api.NoticeLevel) string {
	switch l {
	case api.NoticeSuccess:
		return "border-green-700 text-green-300"
	case api.NoticeError:
		return "border-red-700 text-red-300"
	default:
		return "border-blue-700 text-blue-300"
	}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func escapeHTML(s string) string {
	return template.HTMLEscapeString(s)
}
