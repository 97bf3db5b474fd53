package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tkingovr/adminsync/internal/approval"
	"github.com/tkingovr/adminsync/internal/audit"
	"github.com/tkingovr/adminsync/internal/clock"
	"github.com/tkingovr/adminsync/internal/config"
	"github.com/tkingovr/adminsync/internal/notify"
	"github.com/tkingovr/adminsync/internal/policy"
	"github.com/tkingovr/adminsync/internal/view"
)

// Options configures the dashboard server.
type Options struct {
	Addr    string
	Views   *view.Registry
	History audit.Store
	// Confirmations holds pending delete confirmations; nil hides the page.
	Confirmations *approval.Queue
	Notices       *notify.Hub
	Validator     policy.Engine
	// Config is shown on the config page with secrets removed.
	Config *config.Config
	Clock  clock.Clock
	Logger *slog.Logger
}

// Server is the web dashboard HTTP server.
type Server struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	clock     clock.Clock
	views     *view.Registry
	history   audit.Store
	confirms  *approval.Queue
	notices   *notify.Hub
	validator policy.Engine
	cfg       *config.Config
	addr      string
}

// NewServer creates a new dashboard server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "dashboard"),
		clock:     c,
		views:     opts.Views,
		history:   opts.History,
		confirms:  opts.Confirmations,
		notices:   opts.Notices,
		validator: opts.Validator,
		cfg:       opts.Config,
		addr:      opts.Addr,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /", s.handleOverview)
	s.mux.HandleFunc("GET /resources/{name}", s.handleResource)
	s.mux.HandleFunc("GET /resources/{name}/export.pdf", s.handleExport)
	s.mux.HandleFunc("POST /resources/{name}/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /resources/{name}/create", s.handleCreate)
	s.mux.HandleFunc("POST /resources/{name}/{id}/update", s.handleUpdate)
	s.mux.HandleFunc("POST /resources/{name}/{id}/delete", s.handleDelete)
	s.mux.HandleFunc("GET /confirmations", s.handleConfirmations)
	s.mux.HandleFunc("POST /confirmations/{id}/approve", s.handleConfirmApprove)
	s.mux.HandleFunc("POST /confirmations/{id}/deny", s.handleConfirmDeny)
	s.mux.HandleFunc("GET /history", s.handleHistory)
	s.mux.HandleFunc("GET /history/stream", s.handleHistoryStream)
	s.mux.HandleFunc("GET /config", s.handleConfig)
	s.mux.HandleFunc("POST /notices/{id}/dismiss", s.handleDismiss)
	s.mux.HandleFunc("GET /events", s.handleEvents)

	s.mux.HandleFunc("GET /api/v1/stats", s.handleAPIStats)
	s.mux.HandleFunc("GET /api/v1/resources", s.handleAPIResources)
	s.mux.HandleFunc("GET /api/v1/resources/{name}", s.handleAPIResource)
	s.mux.HandleFunc("POST /api/v1/resources/{name}/mutations", s.handleAPIMutation)
	s.mux.HandleFunc("GET /api/v1/history", s.handleAPIHistory)
	s.mux.HandleFunc("GET /api/v1/notices", s.handleAPINotices)
	s.mux.HandleFunc("POST /api/v1/check", s.handleAPICheck)
}

// ListenAndServe starts the dashboard HTTP server and stops it when ctx
// is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Info("starting dashboard", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
