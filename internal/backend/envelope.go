package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tkingovr/adminsync/api"
)

// envelope is a decoded JSON object response.
type envelope map[string]json.RawMessage

func decodeEnvelope(data []byte) (envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty response body")
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.New("response body is not a JSON object")
	}
	return env, nil
}

// succeeded reports whether the body carries a recognized success marker:
// "success": true, or "status": "success" | "ok".
func (e envelope) succeeded() bool {
	if raw, ok := e["success"]; ok {
		var b bool
		return json.Unmarshal(raw, &b) == nil && b
	}
	if raw, ok := e["status"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			switch strings.ToLower(s) {
			case "success", "ok":
				return true
			}
		}
	}
	return false
}

// message returns the server-provided message, if any.
func (e envelope) message() string {
	for _, key := range []string{"message", "error", "msg"} {
		raw, ok := e[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return ""
}

func (e envelope) object(key string) envelope {
	raw, ok := e[key]
	if !ok {
		return nil
	}
	var obj envelope
	if json.Unmarshal(raw, &obj) != nil {
		return nil
	}
	return obj
}

// scopes returns the objects searched for totals and counters, outermost
// first.
func (e envelope) scopes(itemsKey string) []envelope {
	out := []envelope{e}
	for _, key := range []string{itemsKey, "pagination", "meta", "counts", "summary"} {
		if obj := e.object(key); obj != nil {
			out = append(out, obj)
			if p := obj.object("pagination"); p != nil {
				out = append(out, p)
			}
		}
	}
	return out
}

func parseList(op string, env envelope, itemsKey string, counterKeys []string) (*ListResult, error) {
	raw, ok := env[itemsKey]
	if !ok {
		return nil, &api.Error{Kind: api.KindSemantic, Op: op, Message: env.message(), Err: errors.New("response has no " + itemsKey)}
	}

	var items []api.Resource
	if err := json.Unmarshal(raw, &items); err != nil {
		// Some endpoints nest the array: {"data": {"items": [...], "total": n}}.
		nested := env.object(itemsKey)
		found := false
		for _, key := range []string{"items", "rows", "docs", "results"} {
			if inner, ok := nested[key]; ok && json.Unmarshal(inner, &items) == nil {
				found = true
				break
			}
		}
		if !found {
			return nil, &api.Error{Kind: api.KindSemantic, Op: op, Err: errors.New("list items are not an array")}
		}
	}
	if items == nil {
		items = []api.Resource{}
	}

	scopes := env.scopes(itemsKey)
	res := &ListResult{
		Items: items,
		Total: -1,
	}
	if n, ok := findInt(scopes, "total", "totalCount", "total_count", "totalItems", "total_items"); ok && n >= 0 {
		res.Total = n
	}
	if n, ok := findInt(scopes, "totalPages", "total_pages", "pages"); ok && n > 0 {
		res.Pages = n
	}
	if len(counterKeys) > 0 {
		snap := make(api.CounterSnapshot, len(counterKeys))
		for _, key := range counterKeys {
			if n, ok := findInt(scopes, key); ok {
				snap[key] = n
			}
		}
		if len(snap) > 0 {
			res.Counters = snap
		}
	}
	return res, nil
}

func extractCounters(env envelope, keys []string) api.CounterSnapshot {
	scopes := env.scopes("data")
	snap := make(api.CounterSnapshot, len(keys))
	for _, key := range keys {
		if n, ok := findInt(scopes, key); ok {
			snap[key] = n
		}
	}
	return snap
}

// extractPaths reads stored file paths from an upload response. Entries
// may be strings or objects carrying a path, filename, or url.
func extractPaths(env envelope) []string {
	for _, key := range []string{"files", "data", "paths", "filenames"} {
		raw, ok := env[key]
		if !ok {
			continue
		}
		var entries []json.RawMessage
		if json.Unmarshal(raw, &entries) != nil {
			var single string
			if json.Unmarshal(raw, &single) == nil && single != "" {
				return []string{single}
			}
			continue
		}
		var out []string
		for _, entry := range entries {
			var s string
			if json.Unmarshal(entry, &s) == nil {
				if s != "" {
					out = append(out, s)
				}
				continue
			}
			var obj struct {
				Path     string `json:"path"`
				Filename string `json:"filename"`
				URL      string `json:"url"`
			}
			if json.Unmarshal(entry, &obj) == nil {
				if p := firstNonEmpty(obj.Path, obj.Filename, obj.URL); p != "" {
					out = append(out, p)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// maxExactInt bounds floats that convert to int without loss.
const maxExactInt = 1 << 53

// findInt returns the first integer-valued key found in scopes. Numeric
// strings and integral floats such as 3.0 are accepted; fractions and
// out-of-range numbers are skipped.
func findInt(scopes []envelope, keys ...string) (int, bool) {
	for _, scope := range scopes {
		for _, key := range keys {
			raw, ok := scope[key]
			if !ok {
				continue
			}
			var n int
			if json.Unmarshal(raw, &n) == nil {
				return n, true
			}
			var f float64
			if json.Unmarshal(raw, &f) == nil && f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
				return int(f), true
			}
			var s string
			if json.Unmarshal(raw, &s) == nil {
				if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
					return n, true
				}
			}
		}
	}
	return 0, false
}
