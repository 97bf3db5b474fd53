package twin

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tkingovr/adminsync/api"
)

// reserved query parameters that are not field filters.
var reserved = map[string]bool{
	"page": true, "page_size": true, "pageSize": true, "limit": true,
	"search": true, "sort_by": true, "sort_dir": true,
}

func (s *Server) handleList(rs *resourceState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters := make(map[string]string)
		for key, values := range q {
			if reserved[key] || key == rs.def.PageSizeParam || len(values) == 0 || values[0] == "" {
				continue
			}
			filters[key] = values[0]
		}

		items := rs.items.query(q.Get("search"), filters)
		if by := q.Get("sort_by"); by != "" {
			desc := strings.EqualFold(q.Get("sort_dir"), "desc")
			sort.SliceStable(items, func(i, j int) bool {
				a, b := fmt.Sprintf("%v", items[i][by]), fmt.Sprintf("%v", items[j][by])
				if desc {
					return a > b
				}
				return a < b
			})
		}

		total := len(items)
		body := map[string]any{
			"success": true,
			"total":   total,
			"counts":  rs.counterValues(),
		}

		size := atoiParam(q, rs.def.PageSizeParam, "page_size", "pageSize", "limit")
		if size > 0 {
			page := max(atoiParam(q, "page"), 1)
			start := min((page-1)*size, total)
			items = items[start:min(start+size, total)]
			body["page"] = page
			body["totalPages"] = api.PageCount(total, size)
		}
		body[itemsKey(rs)] = items
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) handleCreate(rs *resourceState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := decodePayload(w, r)
		if !ok {
			return
		}
		item := rs.items.create(payload)
		rs.bump()
		writeJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"message": title(rs) + " created successfully",
			"data":    item,
		})
	}
}

func (s *Server) handleUpdate(rs *resourceState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := decodePayload(w, r)
		if !ok {
			return
		}
		item, found := rs.items.update(chi.URLParam(r, "id"), payload)
		if !found {
			writeFailure(w, http.StatusNotFound, title(rs)+" not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": title(rs) + " updated successfully",
			"data":    item,
		})
	}
}

func (s *Server) handleDelete(rs *resourceState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rs.items.remove(chi.URLParam(r, "id")) {
			writeFailure(w, http.StatusNotFound, title(rs)+" not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": title(rs) + " deleted successfully",
		})
	}
}

func (s *Server) handleSummary(summaryPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := make(map[string]int)
		for _, name := range s.order {
			rs := s.resources[name]
			if rs.def.SummaryPath != summaryPath {
				continue
			}
			for k, v := range rs.counterValues() {
				data[k] = v
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeFailure(w, http.StatusBadRequest, "No files uploaded")
		return
	}

	names := make([]string, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "Invalid upload")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "Invalid upload")
			return
		}

		s.uploadMu.Lock()
		s.uploadN++
		name := fmt.Sprintf("%d-%s", s.uploadN, path.Base(fh.Filename))
		s.uploads[name] = data
		s.uploadMu.Unlock()
		names = append(names, name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "files": names})
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	s.uploadMu.Lock()
	data, ok := s.uploads[chi.URLParam(r, "name")]
	s.uploadMu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state := make(map[string]any, len(s.order))
	for _, name := range s.order {
		rs := s.resources[name]
		state[name] = map[string]any{
			"items":    rs.items.snapshot(),
			"counters": rs.counterValues(),
		}
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		TTL     string `json:"ttl"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}
	ttl := 24 * time.Hour
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			writeFailure(w, http.StatusBadRequest, "Invalid ttl")
			return
		}
		ttl = d
	}
	token, err := s.MintToken(cmp.Or(req.Subject, "admin"), ttl)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

func (s *Server) handleSetCounters(w http.ResponseWriter, r *http.Request) {
	var values map[string]int
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := s.SetCounters(chi.URLParam(r, "resource"), values); err != nil {
		writeFailure(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var items []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := s.Seed(chi.URLParam(r, "resource"), items...); err != nil {
		writeFailure(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "seeded": len(items)})
}

func (s *Server) handleListFaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.faults.All())
}

func (s *Server) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
		Fault
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeFailure(w, http.StatusBadRequest, "path is required")
		return
	}
	s.faults.Set(req.Path, req.Fault)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRemoveFault(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if !s.faults.Remove(p) {
		writeFailure(w, http.StatusNotFound, "no fault for "+p)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	return payload, true
}

func atoiParam(q map[string][]string, keys ...string) int {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if v := q[key]; len(v) > 0 {
			if n, err := strconv.Atoi(v[0]); err == nil {
				return n
			}
		}
	}
	return 0
}

func itemsKey(rs *resourceState) string {
	return cmp.Or(rs.def.ItemsKey, "data")
}

func title(rs *resourceState) string {
	return strings.TrimSuffix(cmp.Or(rs.def.Title, rs.def.Name), "s")
}
