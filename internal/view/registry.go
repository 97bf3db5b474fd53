package view

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tkingovr/adminsync/internal/config"
)

// Registry holds one view per configured resource kind, in config order.
type Registry struct {
	mu    sync.RWMutex
	views map[string]*View
	order []string
}

// NewRegistry builds a view for every resource.
func NewRegistry(resources []config.Resource, deps Deps) (*Registry, error) {
	r := &Registry{views: make(map[string]*View, len(resources))}
	for _, def := range resources {
		if _, dup := r.views[def.Name]; dup {
			return nil, fmt.Errorf("duplicate resource %q", def.Name)
		}
		r.views[def.Name] = New(def, deps)
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

// Open opens every view concurrently and waits for the initial reads.
// Read failures are reported per view and do not fail Open. The views
// keep polling until ctx is cancelled or Close is called.
func (r *Registry) Open(ctx context.Context) error {
	var g errgroup.Group
	for _, v := range r.All() {
		g.Go(func() error {
			v.Open(ctx)
			return ctx.Err()
		})
	}
	return g.Wait()
}

// Get returns the named view.
func (r *Registry) Get(name string) (*View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[name]
	return v, ok
}

// All returns the views in config order.
func (r *Registry) All() []*View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*View, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.views[name])
	}
	return out
}

// Close closes every view.
func (r *Registry) Close() {
	for _, v := range r.All() {
		v.Close()
	}
}
