// Package twin is an in-memory stand-in for the admin REST backend. It
// honours the same contract as the real service: API key and bearer
// token on every call, a success marker in every body, server-side
// pagination, server-assigned ids, uploads, and summary counters.
package twin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tkingovr/adminsync/internal/clock"
	"github.com/tkingovr/adminsync/internal/config"
)

// Options configures a Server.
type Options struct {
	// Prefix is the mount path of the API, e.g. "/api".
	Prefix       string
	APIKey       string
	APIKeyHeader string
	// Secret signs and verifies session tokens (HS256).
	Secret     []byte
	UploadPath string
	Resources  []config.Resource
	Clock      clock.Clock
	Logger     *slog.Logger
}

type resourceState struct {
	def   config.Resource
	items *collection

	mu       sync.Mutex
	counters map[string]int
}

func (rs *resourceState) bump() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, key := range rs.def.Counters {
		rs.counters[key]++
	}
}

func (rs *resourceState) counterValues() map[string]int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]int, len(rs.def.Counters))
	for _, key := range rs.def.Counters {
		out[key] = rs.counters[key]
	}
	return out
}

// Server is the twin HTTP server.
type Server struct {
	opts      Options
	router    *chi.Mux
	logger    *slog.Logger
	clock     clock.Clock
	resources map[string]*resourceState
	order     []string
	faults    *FaultRegistry

	uploadMu sync.Mutex
	uploads  map[string][]byte
	uploadN  int
}

// New creates a twin serving every resource in opts.
func New(opts Options) *Server {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = config.DefaultAPIKeyHeader
	}
	if opts.UploadPath == "" {
		opts.UploadPath = config.DefaultUploadPath
	}
	if opts.Prefix != "" {
		opts.Prefix = "/" + strings.Trim(opts.Prefix, "/")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}

	s := &Server{
		opts:      opts,
		router:    chi.NewRouter(),
		logger:    logger,
		clock:     c,
		resources: make(map[string]*resourceState),
		faults:    NewFaultRegistry(),
		uploads:   make(map[string][]byte),
	}
	for _, def := range opts.Resources {
		s.resources[def.Name] = &resourceState{
			def:      def,
			items:    newCollection(idPrefix(def.Name)),
			counters: make(map[string]int),
		}
		s.order = append(s.order, def.Name)
	}
	s.registerRoutes()
	return s
}

func idPrefix(name string) string {
	if len(name) > 3 {
		return name[:3]
	}
	return name
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLog)

	api := chi.NewRouter()
	api.Use(s.authenticate)
	api.Use(s.faults.middleware)
	summaries := make(map[string]bool)
	for _, name := range s.order {
		rs := s.resources[name]
		p := "/" + strings.Trim(rs.def.Path, "/")
		api.Get(p, s.handleList(rs))
		api.Post(p, s.handleCreate(rs))
		api.Put(p+"/{id}", s.handleUpdate(rs))
		api.Delete(p+"/{id}", s.handleDelete(rs))
		if sp := rs.def.SummaryPath; sp != "" && !summaries[sp] {
			summaries[sp] = true
			api.Get("/"+strings.Trim(sp, "/"), s.handleSummary(sp))
		}
	}
	api.Post("/"+strings.Trim(s.opts.UploadPath, "/"), s.handleUpload)

	if s.opts.Prefix == "" {
		r.Mount("/", api)
	} else {
		r.Mount(s.opts.Prefix, api)
	}
	r.Get("/uploads/{name}", s.handleAsset)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)
		r.Post("/reset", s.handleReset)
		r.Post("/token", s.handleToken)
		r.Post("/counters/{resource}", s.handleSetCounters)
		r.Post("/seed/{resource}", s.handleSeed)
		r.Get("/faults", s.handleListFaults)
		r.Post("/faults", s.handleInjectFault)
		r.Delete("/faults", s.handleRemoveFault)
	})
}

// ServeHTTP implements http.Handler so the twin can back httptest servers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Faults returns the fault registry.
func (s *Server) Faults() *FaultRegistry { return s.faults }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting backend twin", "addr", addr, "prefix", s.opts.Prefix)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Seed inserts items into a resource. Counters are not bumped.
func (s *Server) Seed(resource string, items ...map[string]any) error {
	rs, ok := s.resources[resource]
	if !ok {
		return fmt.Errorf("unknown resource %q", resource)
	}
	for _, item := range items {
		rs.items.create(item)
	}
	return nil
}

// SeedDemo fills every resource with n generated items whose fields are
// the resource's columns and required fields.
func (s *Server) SeedDemo(n int) {
	for _, name := range s.order {
		rs := s.resources[name]
		fields := append(append([]string(nil), rs.def.Columns...), rs.def.Required...)
		for i := 1; i <= n; i++ {
			item := make(map[string]any, len(fields))
			for _, f := range fields {
				item[f] = fmt.Sprintf("%s %d", f, i)
			}
			if _, ok := item["status"]; ok {
				item["status"] = []string{"active", "pending", "inactive"}[i%3]
			}
			rs.items.create(item)
		}
	}
}

// SetCounters overrides counter values of a resource.
func (s *Server) SetCounters(resource string, values map[string]int) error {
	rs, ok := s.resources[resource]
	if !ok {
		return fmt.Errorf("unknown resource %q", resource)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for k, v := range values {
		rs.counters[k] = v
	}
	return nil
}

// Reset clears every resource, counter, upload, and fault.
func (s *Server) Reset() {
	for _, rs := range s.resources {
		rs.items.reset()
		rs.mu.Lock()
		rs.counters = make(map[string]int)
		rs.mu.Unlock()
	}
	s.uploadMu.Lock()
	s.uploads = make(map[string][]byte)
	s.uploadN = 0
	s.uploadMu.Unlock()
	s.faults.Reset()
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("twin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", s.clock.Now().Sub(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
