package twin

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// collection is an ordered in-memory set of records. Newest records are
// listed first, matching how admin lists present recent items.
type collection struct {
	mu      sync.RWMutex
	prefix  string
	items   map[string]map[string]any
	order   []string
	counter atomic.Uint64
}

func newCollection(prefix string) *collection {
	return &collection{prefix: prefix, items: make(map[string]map[string]any)}
}

// nextID returns ids of the form "{prefix}_{counter}", e.g. "ven_000001".
func (c *collection) nextID() string {
	n := c.counter.Add(1)
	return fmt.Sprintf("%s_%06d", c.prefix, n)
}

func (c *collection) create(fields map[string]any) map[string]any {
	id := c.nextID()
	item := maps.Clone(fields)
	if item == nil {
		item = make(map[string]any)
	}
	delete(item, "id")
	item["_id"] = id

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = item
	c.order = append([]string{id}, c.order...)
	return maps.Clone(item)
}

func (c *collection) update(id string, fields map[string]any) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return nil, false
	}
	for k, v := range fields {
		if k == "_id" || k == "id" {
			continue
		}
		item[k] = v
	}
	return maps.Clone(item), true
}

func (c *collection) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// query selects records matching search and filters, in list order.
// Search is a case-insensitive substring match on any string field;
// filters match field values exactly.
func (c *collection) query(search string, filters map[string]string) []map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]map[string]any, 0, len(c.order))
	for _, id := range c.order {
		item := c.items[id]
		if !matchesFilters(item, filters) || !matchesSearch(item, search) {
			continue
		}
		out = append(out, maps.Clone(item))
	}
	return out
}

func (c *collection) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *collection) snapshot() []map[string]any {
	return c.query("", nil)
}

func (c *collection) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]map[string]any)
	c.order = nil
	c.counter.Store(0)
}

func matchesFilters(item map[string]any, filters map[string]string) bool {
	for k, want := range filters {
		if fmt.Sprintf("%v", item[k]) != want {
			return false
		}
	}
	return true
}

func matchesSearch(item map[string]any, term string) bool {
	if term == "" {
		return true
	}
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := item[k].(string); ok && strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}
