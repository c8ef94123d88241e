package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warp/decision-engine/api"
	"github.com/warp/decision-engine/observability"
	"github.com/warp/decision-engine/optimization"
)

func newServeCmd(v *viper.Viper, load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			metricsHandler, shutdownMetrics, err := observability.InitMetrics()
			if err != nil {
				return err
			}
			runMetrics, err := observability.NewRunMetrics(nil)
			if err != nil {
				return fmt.Errorf("register run metrics: %w", err)
			}

			ctx := context.Background()
			a, err := newApp(ctx, cfg, runMetrics)
			if err != nil {
				return err
			}
			a.closers = append([]func(context.Context) error{shutdownMetrics}, a.closers...)
			defer a.Close(context.Background())

			handler := api.NewHandler(a.store, a.engine, optimization.FeatureFlags(cfg.Flags()), a.log)
			router := api.NewRouter(handler, api.RouterOptions{
				CORSOrigins: cfg.HTTP.CORSOrigins,
				Metrics:     metricsHandler,
				Limiter:     api.NewTenantLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
				Logger:      a.log,
			})

			scheduler := api.NewPriorityRefreshScheduler(a.engine, a.store, a.log)
			scheduler.Enabled = cfg.Scheduler.Enabled
			scheduler.Interval = cfg.Scheduler.Interval
			scheduler.StaleAfter = cfg.Scheduler.StaleAfter
			for _, t := range cfg.Scheduler.Tenants {
				scheduler.Tenants = append(scheduler.Tenants, optimization.TenantID(t))
			}
			scheduler.Start()

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			// Start server in goroutine
			serveErr := make(chan error, 1)
			go func() {
				a.log.Info("server starting", "port", cfg.HTTP.Port, "db", cfg.Database.Path,
					"engine_enabled", cfg.Engine.Enabled, "simulated", cfg.Engine.Simulated)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			// Wait for interrupt signal
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case <-quit:
			case err := <-serveErr:
				scheduler.Stop()
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			}

			a.log.Info("shutting down server")
			scheduler.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			a.log.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().Int("port", 0, "HTTP server port (default 8080)")
	bindFlag(v, cmd, "http.port", "port")
	return cmd
}
