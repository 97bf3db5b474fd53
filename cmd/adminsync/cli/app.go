package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tkingovr/adminsync/internal/audit"
	"github.com/tkingovr/adminsync/internal/backend"
	"github.com/tkingovr/adminsync/internal/clock"
	"github.com/tkingovr/adminsync/internal/config"
	"github.com/tkingovr/adminsync/internal/mutation"
	"github.com/tkingovr/adminsync/internal/notify"
	"github.com/tkingovr/adminsync/internal/policy"
	"github.com/tkingovr/adminsync/internal/session"
	"github.com/tkingovr/adminsync/internal/view"
)

// noticeCapacity is the number of recent notices kept for display.
const noticeCapacity = 100

// app is the wiring shared by every command that talks to the backend.
type app struct {
	cfg       *config.Config
	client    *backend.Client
	validator policy.Engine
	history   *audit.JSONLStore
	notices   *notify.Hub
	views     *view.Registry
}

func newApp(cfg *config.Config, confirmer mutation.Confirmer) (*app, error) {
	validator, err := cfg.Validator()
	if err != nil {
		return nil, fmt.Errorf("creating validator: %w", err)
	}

	history, err := audit.NewJSONLStore(cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("creating history store: %w", err)
	}

	clk := clock.Real()
	notices := notify.NewHub(cfg.NoticeTTL, noticeCapacity, clk)
	client := backend.New(backend.Options{
		BaseURL:      cfg.Backend.BaseURL,
		APIKey:       cfg.Backend.APIKey,
		APIKeyHeader: cfg.Backend.APIKeyHeader,
		Timeout:      cfg.Backend.Timeout,
		UploadPath:   cfg.Backend.UploadPath,
		AssetBaseURL: cfg.Backend.AssetBaseURL,
		Session: session.New(session.Options{
			Token:     cfg.Session.Token,
			TokenEnv:  cfg.Session.TokenEnv,
			TokenFile: cfg.Session.TokenFile,
		}),
		Logger: logger,
	})

	views, err := view.NewRegistry(cfg.Resources, view.Deps{
		Backend:   client,
		Validator: validator,
		Confirmer: confirmer,
		Reporter:  notices,
		History:   history,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		history.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		client:    client,
		validator: validator,
		history:   history,
		notices:   notices,
		views:     views,
	}, nil
}

// view returns the named resource view.
func (a *app) view(name string) (*view.View, error) {
	v, ok := a.views.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", name)
	}
	return v, nil
}

func (a *app) Close() {
	a.views.Close()
	if err := a.history.Close(); err != nil {
		logger.Warn("closing history store", "error", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
