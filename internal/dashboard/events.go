package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/approval"
	"github.com/tkingovr/adminsync/internal/query"
)

// event is one server-sent event.
type event struct {
	name string
	data any
}

// storeEvent is the payload of a "store" event.
type storeEvent struct {
	Resource       string          `json:"resource"`
	Params         api.QueryParams `json:"params"`
	TotalCount     int             `json:"total_count"`
	TotalPages     int             `json:"total_pages"`
	Items          int             `json:"items"`
	ContentChanged bool            `json:"content_changed"`
}

func newStoreEvent(c query.Change) storeEvent {
	return storeEvent{
		Resource:       c.Resource,
		Params:         c.Params,
		TotalCount:     c.Page.TotalCount,
		TotalPages:     c.Page.TotalPages,
		Items:          len(c.Page.Items),
		ContentChanged: c.ContentChanged,
	}
}

// forward copies every value from ch to out as a named event until ctx
// is done or ch is closed.
func forward[T any](ctx context.Context, wg *sync.WaitGroup, ch <-chan T, out chan<- event, name string, convert func(T) any) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case v, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- event{name: name, data: convert(v)}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func identity[T any](v T) any { return v }

// handleEvents streams store changes, alert transitions, notices, and
// confirmation updates as JSON server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	out := make(chan event, 64)
	for _, v := range s.views.All() {
		changes, unsub := v.Store().Subscribe()
		defer unsub()
		forward(ctx, &wg, changes, out, "store", func(c query.Change) any { return newStoreEvent(c) })
		if d := v.Detector(); d != nil {
			alerts, unsub := d.Subscribe()
			defer unsub()
			forward(ctx, &wg, alerts, out, "alert", identity[api.AlertEvent])
		}
	}
	if s.notices != nil {
		notices, unsub := s.notices.Subscribe()
		defer unsub()
		forward(ctx, &wg, notices, out, "notice", identity[api.Notice])
	}
	if s.confirms != nil {
		reqs, unsub := s.confirms.Subscribe()
		defer unsub()
		forward(ctx, &wg, reqs, out, "confirmation", identity[approval.Request])
	}

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	for {
		select {
		case ev := <-out:
			data, err := json.Marshal(ev.data)
			if err != nil {
				s.logger.Warn("encoding event", "event", ev.name, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// handleHistoryStream streams new history rows as HTML for the history
// page.
func (s *Server) handleHistoryStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel := s.history.Subscribe(r.Context())
	defer cancel()

	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: history\ndata: %s\n\n", renderHistoryRow(record))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
