package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tkingovr/adminsync/internal/approval"
	"github.com/tkingovr/adminsync/internal/clock"
	"github.com/tkingovr/adminsync/internal/dashboard"
	"github.com/tkingovr/adminsync/internal/metrics"
)

var (
	serveAddr        string
	serveMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web dashboard with live resource lists",
	Long: `Open every configured resource list, start polling its counters,
and serve the web dashboard. Deletes of resources with confirm_delete
wait on the dashboard's confirmations page.`,
	Example: `  adminsync serve -c adminsync.yaml
  adminsync serve -c adminsync.yaml -l :8080 --metrics-listen :9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "listen", "l", "", "dashboard listen address (overrides settings.dashboard_addr)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-listen", "", "metrics listen address (overrides settings.metrics_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.DashboardAddr = serveAddr
	}
	if serveMetricsAddr != "" {
		cfg.MetricsAddr = serveMetricsAddr
	}
	if len(cfg.Resources) == 0 {
		logger.Warn("no resources configured")
	}

	clk := clock.Real()
	confirms := approval.NewQueue(cfg.ConfirmTimeout, clk)
	a, err := newApp(cfg, confirms)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	dash := dashboard.NewServer(dashboard.Options{
		Addr:          cfg.DashboardAddr,
		Views:         a.views,
		History:       a.history,
		Confirmations: confirms,
		Notices:       a.notices,
		Validator:     a.validator,
		Config:        cfg,
		Clock:         clk,
		Logger:        logger,
	})

	logger.Info("starting serve mode",
		slog.String("dashboard", cfg.DashboardAddr),
		slog.String("backend", cfg.Backend.BaseURL),
		slog.Int("resources", len(cfg.Resources)),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.views.Open(ctx)
	})
	g.Go(func() error {
		return dash.ListenAndServe(ctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
