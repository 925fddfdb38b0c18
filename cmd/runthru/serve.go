package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"runthru/internal/logging"
	"runthru/internal/retention"
	httpapi "runthru/internal/server/http"
)

func newServeCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	_ = c.v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (c *cli) serve(parent context.Context) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if addr := c.v.GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	logger := a.logger
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Warn("shutdown: %v", err)
		}
		_ = logging.Close()
	}()

	if n, err := a.service.RecoverInterrupted(ctx); err != nil {
		logger.Warn("recover interrupted recordings: %v", err)
	} else if n > 0 {
		logger.Info("Marked %d interrupted recordings as failed", n)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	var metrics http.Handler
	if cfg.Observability.MetricsEnabled {
		metrics = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	}
	router := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins: allowedOrigins(cfg.Server.AllowedOrigins),
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		SSEHeartbeat:   cfg.Server.SSEHeartbeat,
	}, httpapi.Deps{
		Recordings: a.service,
		Strategy:   a.strategy,
		Layout:     a.layout,
		Blobs:      a.blobs,
		Metrics:    metrics,
		Logger:     logging.NewComponentLogger("HTTP"),
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Retention.Enabled {
		sweeper, err := retention.New(retention.Config{
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge,
		}, a.service, logging.NewComponentLogger("Retention"))
		if err != nil {
			return err
		}
		sweeper.Start(gctx)
		defer sweeper.Stop()
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// allowedOrigins treats a lone "*" as allow-all.
func allowedOrigins(origins []string) []string {
	if len(origins) == 1 && origins[0] == "*" {
		return nil
	}
	return origins
}
