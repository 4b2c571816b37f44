package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"routepay/internal/auth"
	"routepay/internal/domain/audit"
	"routepay/internal/domain/payroll"
	"routepay/internal/platform/config"
	"routepay/internal/platform/db"
	"routepay/internal/platform/events"
	"routepay/internal/platform/jobs"
	"routepay/internal/platform/lock"
	"routepay/internal/platform/logger"
	"routepay/internal/platform/metrics"
	"routepay/internal/transport/http/api"
	payrollhandler "routepay/internal/transport/http/handlers/payroll"
	"routepay/internal/transport/http/middleware"
)

const (
	idempotencyTTL  = 24 * time.Hour
	shutdownTimeout = 15 * time.Second
)

// Deps are the collaborators the HTTP router is built from.
type Deps struct {
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Collector
	Payroll *payrollhandler.Handler
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(deps.Log))
	router.Use(middleware.Recoverer(deps.Log))
	if deps.Metrics != nil {
		router.Use(middleware.Metrics(deps.Metrics))
	}
	router.Use(middleware.SecureHeaders(cfg.IsProduction()))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.Fail(w, http.StatusNotFound, "not_found", "route not found", middleware.GetRequestID(r.Context()))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.Fail(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", middleware.GetRequestID(r.Context()))
	})

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				deps.Log.Warn("readiness check failed", zap.Error(err))
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if deps.Metrics != nil && cfg.MetricsEnabled {
		router.Handle("/metrics", deps.Metrics.Handler())
	}

	window := time.Minute
	rateOpts := []middleware.RateLimitOption{middleware.WithRateLimitLogger(deps.Log)}
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMinute, window, rateOpts...))
		r.Use(middleware.ComputeRateLimit(cfg.RateLimitPerMinute, window, rateOpts...))
		if deps.Payroll != nil {
			deps.Payroll.RegisterRoutes(r)
		}
	})
	return router
}

// Run wires the process from the environment and serves until SIGINT or
// SIGTERM.
func Run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations applied", zap.String("dir", cfg.MigrationsDir))
	}

	collector := metrics.New()
	opts := []payroll.Option{
		payroll.WithRecorder(collector),
		payroll.WithBatchWorkers(cfg.BatchConcurrency),
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		opts = append(opts, payroll.WithLocker(lock.NewRedisLocker(rdb, cfg.LockTTL, log)))
		log.Info("pay run locking enabled", zap.String("redis", cfg.RedisAddr))
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaPayRunTopic)
		defer func() { _ = publisher.Close() }()
		opts = append(opts, payroll.WithPublisher(publisher))
		log.Info("pay run events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaPayRunTopic))
	}

	service := payroll.NewService(payroll.NewStore(pool), log, opts...)

	jobService := jobs.New(pool, cfg.JobQueueSize, log)
	jobService.Start(ctx)

	handler := payrollhandler.NewHandler(service, jobService, auth.StaticPermissions{}, log)
	handler.Audit = audit.New(pool)
	if rdb != nil {
		handler.Idempotency = middleware.Idempotency(rdb, idempotencyTTL, log)
	}

	router := NewRouter(Deps{
		Config:  cfg,
		Log:     log,
		Metrics: collector,
		Payroll: handler,
		Ready: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if rdb != nil {
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("routepay server listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
