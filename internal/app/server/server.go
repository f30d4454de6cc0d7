package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"perfhub/internal/domain/approvals"
	"perfhub/internal/domain/auth"
	"perfhub/internal/domain/org"
	"perfhub/internal/platform/config"
	"perfhub/internal/platform/db"
	"perfhub/internal/platform/jobs"
	"perfhub/internal/platform/metrics"
	"perfhub/internal/platform/ratelimit"
	"perfhub/internal/transport/http/api"
	approvalshandler "perfhub/internal/transport/http/handlers/approvals"
	"perfhub/internal/transport/http/middleware"
)

type App struct {
	Config  config.Config
	Log     *zap.Logger
	DB      *pgxpool.Pool
	Metrics *metrics.Collector
	Jobs    *jobs.Service
	Router  http.Handler

	redis   *ratelimit.Redis
	service *approvals.Service
	tenants approvals.TenantLister
}

// Deps is everything the router needs that touches the outside world.
type Deps struct {
	Service     *approvals.Service
	Permissions middleware.PermissionStore
	Idempotency middleware.IdempotencyBackend
	Limiter     ratelimit.Store
	Metrics     *metrics.Collector
	Ready       func(ctx context.Context) error
}

// New connects to Postgres (and Redis when configured), applies migrations
// and builds the router.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolOptions)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, cfg.MigrationsDir, log); err != nil {
			pool.Close()
			return nil, err
		}
	}

	app := &App{Config: cfg, Log: log, DB: pool, Metrics: metrics.New(), Jobs: jobs.New(log.Named("jobs"), jobs.DefaultQueueSize)}

	var limiter ratelimit.Store = ratelimit.NewMemory()
	if cfg.RedisURL != "" {
		redisLimiter, err := ratelimit.NewRedisFromURL(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := redisLimiter.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process rate limits", zap.Error(err))
			_ = redisLimiter.Close()
		} else {
			app.redis = redisLimiter
			limiter = redisLimiter
		}
	}

	store := approvals.NewStore(pool)
	service := approvals.NewService(store, org.NewDirectory(pool), log.Named("approvals"), app.Metrics)
	app.service = service
	app.tenants = store
	app.Router = NewRouter(cfg, log, Deps{
		Service:     service,
		Permissions: auth.NewStaticPermissions(auth.RolePermissions),
		Idempotency: middleware.NewIdempotencyStore(pool),
		Limiter:     limiter,
		Metrics:     app.Metrics,
		Ready: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	})
	return app, nil
}

// StartJobs runs the background worker and the periodic conflict scan
// until ctx is cancelled.
func (a *App) StartJobs(ctx context.Context) {
	a.Jobs.Start(ctx)
	scheduleConflictScans(ctx, a.Jobs, a.tenants, a.service, a.Config.ConflictScanInterval, a.Log.Named("conflicts"))
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func NewRouter(cfg config.Config, log *zap.Logger, deps Deps) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewMemory()
	}
	limitOpts := []middleware.RateLimitOption{
		middleware.WithStore(deps.Limiter),
		middleware.WithLogger(log),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log.Named("http"), deps.Metrics))
	router.Use(middleware.Recoverer(log))
	router.Use(middleware.SecureHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				log.Warn("readiness check failed", zap.Error(err))
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, deps.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, log))
		r.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute, limitOpts...))
		r.Use(middleware.MutationRateLimit(cfg.RateLimitPerMinute, time.Minute, limitOpts...))

		approvalsHandler := approvalshandler.NewHandler(deps.Service, deps.Permissions, deps.Idempotency, log.Named("approvals"))
		approvalsHandler.RegisterRoutes(r)
	})

	return router
}

// Serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests for up to cfg.ShutdownTimeout.
func Serve(ctx context.Context, cfg config.Config, log *zap.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Environment))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run is the server entrypoint: load config, build the app, serve until ctx ends.
func Run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	app, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	jobsCtx, cancelJobs := context.WithCancel(ctx)
	app.StartJobs(jobsCtx)
	err = Serve(ctx, cfg, log, app.Router)
	cancelJobs()
	app.Jobs.Wait()
	return err
}
