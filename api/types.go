package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"time"
)

// StatusAll is the status filter value that disables status filtering.
const StatusAll = "All"

// QueryParams are the view parameters of one resource list.
type QueryParams struct {
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Search   string            `json:"search,omitempty"`
	Status   string            `json:"status,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
	SortBy   string            `json:"sort_by,omitempty"`
	SortDir  string            `json:"sort_dir,omitempty"`
}

// Clone returns a deep copy of the parameters.
func (q QueryParams) Clone() QueryParams {
	out := q
	if q.Filters != nil {
		out.Filters = maps.Clone(q.Filters)
	}
	return out
}

// StatusFilter returns the status to send to the backend, or "" when unfiltered.
func (q QueryParams) StatusFilter() string {
	if q.Status == StatusAll {
		return ""
	}
	return q.Status
}

// Resource is an opaque backend record keyed by a server-assigned identifier.
type Resource struct {
	ID     string
	Fields map[string]any
}

// UnmarshalJSON keeps every field and lifts "_id" or "id" into ID.
// Numbers stay json.Number so large ids round-trip exactly.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return err
	}
	r.Fields = fields
	r.ID = ""
	for _, key := range []string{"_id", "id"} {
		if v, ok := fields[key]; ok {
			r.ID = stringify(v)
			break
		}
	}
	return nil
}

// MarshalJSON writes the record back as the backend sent it.
func (r Resource) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return json.Marshal(map[string]any{"id": r.ID})
	}
	return json.Marshal(r.Fields)
}

// Field returns a display string for a field, "" when absent.
func (r Resource) Field(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// ResourcePage is one fetched page of a resource list. Items keep server order.
type ResourcePage struct {
	Items      []Resource `json:"items"`
	TotalCount int        `json:"total_count"`
	TotalPages int        `json:"total_pages"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// Clone returns a copy whose item slice can be mutated freely.
func (p ResourcePage) Clone() ResourcePage {
	out := p
	out.Items = append([]Resource(nil), p.Items...)
	return out
}

// PageCount returns max(1, ceil(total/pageSize)).
func PageCount(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	pages := (total + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}

// CounterSnapshot maps counter names to their values at one point in time.
type CounterSnapshot map[string]int

// Keys returns the counter names in sorted order.
func (s CounterSnapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Comparable reports whether both snapshots carry the same counter names.
func (s CounterSnapshot) Comparable(other CounterSnapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Alert is the state of one alert key.
type Alert struct {
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// AlertState maps alert keys to their state.
type AlertState map[string]Alert

// AlertEvent is emitted whenever an alert key activates, restarts, or expires.
type AlertEvent struct {
	Resource  string    `json:"resource"`
	Key       string    `json:"key"`
	Active    bool      `json:"active"`
	Previous  int       `json:"previous"`
	Current   int       `json:"current"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	At        time.Time `json:"at"`
}

// MutationKind identifies a write operation.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// MutationRequest is one write submitted by the UI. It is consumed once.
type MutationRequest struct {
	Resource string         `json:"resource"`
	Kind     MutationKind   `json:"kind"`
	TargetID string         `json:"target_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// NoticeLevel classifies a transient notification.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient, dismissible notification.
type Notice struct {
	ID        string      `json:"id"`
	Resource  string      `json:"resource,omitempty"`
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	At        time.Time   `json:"at"`
	ExpiresAt time.Time   `json:"expires_at"`
}
