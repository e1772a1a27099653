package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/config"
	"github.com/GoPolymarket/polyaudit/internal/handler"
	"github.com/GoPolymarket/polyaudit/internal/middleware"
	"github.com/GoPolymarket/polyaudit/internal/pkg/logger"
	"github.com/GoPolymarket/polyaudit/internal/repository"
	"github.com/GoPolymarket/polyaudit/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	// 0. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 1. Initialize Logger
	logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Persistence (Postgres > Redis > Memory)
	sink := repository.OpenSink(ctx, cfg, logger.Component("storage"))
	defer sink.Close()
	logger.Info("audit sink selected", "kind", sink.Kind)
	if sink.Kind == "memory" {
		logger.Warn("memory audit sink loses records on restart")
	}
	repo := sink.Store

	// 3. Audit pipeline
	opts := service.Options{ApplicationName: cfg.Audit.ApplicationName}
	queue := service.NewAuditQueue(cfg.Audit.QueueCapacity, logger.Component("audit_queue"))
	dispatcher := service.NewDispatcher(queue, service.StaticSink(repo), service.DispatcherConfig{
		Options:        opts,
		FailureBackoff: cfg.Audit.FailureBackoff,
		StorageTimeout: cfg.Audit.StorageTimeout,
		Logger:         logger.Component("audit_dispatcher"),
	})
	interceptor := service.NewInterceptor(queue)
	auditSvc := service.NewAuditService(opts, repo, logger.Component("audit"))

	// 4. Setup Router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global Middleware; the audit interceptor must stay outermost
	r.Use(middleware.AuditMiddleware(queue, cfg.Audit))
	r.Use(middleware.IdentityMiddleware(cfg.Auth.UserHeader))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "polyaudit",
			"application": auditSvc.ApplicationName(),
			"queued":      queue.Len(),
			"dropped":     queue.Dropped(),
		})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	if cfg.Auth.AdminKey == "" {
		logger.Warn("auth.admin_key is empty, audit query API is unauthenticated")
	}
	var limiter *rate.Limiter
	if cfg.Query.RateQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Query.RateQPS), cfg.Query.RateBurst)
	}
	v1 := r.Group("/v1/audit")
	v1.Use(middleware.AdminMiddleware(cfg.Auth.AdminKey))
	v1.Use(middleware.RateLimitMiddleware(limiter))
	handler.NewAuditHandler(auditSvc).Register(v1)

	// 5. Start Server, dispatcher and janitor with graceful shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	if sink.Retainer != nil {
		janitor, err := service.NewJanitor(sink.Retainer, cfg.Database.Retention(), cfg.Database.CleanupInterval(),
			interceptor, logger.Component("retention"))
		if err != nil {
			log.Fatalf("Failed to build retention janitor: %v", err)
		}
		g.Go(func() error {
			return janitor.Run(gctx)
		})
	}
	g.Go(func() error {
		logger.Info("polyaudit started", "port", cfg.Server.Port, "application", auditSvc.ApplicationName())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exiting", "unsent_records", queue.Len())
}
