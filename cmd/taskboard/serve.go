package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/taskboard/pkg/accounts"
	"github.com/platinummonkey/taskboard/pkg/api"
	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/jobs"
	"github.com/platinummonkey/taskboard/pkg/mail"
	"github.com/platinummonkey/taskboard/pkg/middleware"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/blob"
	"github.com/platinummonkey/taskboard/pkg/storage/cache"
	"github.com/platinummonkey/taskboard/pkg/storage/postgres"
	"github.com/platinummonkey/taskboard/pkg/storage/redisclient"
)

const (
	replicaCheckInterval = 30 * time.Second
	poolStatsInterval    = 30 * time.Second
)

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	migrateOnly := fs.Bool("migrate-only", false, "Apply database migrations and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cm, pg, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if *migrateOnly {
		logger.Info("Migrations applied")
		return pg.Close()
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	telemetry, err := observability.InitTelemetry(ctx, cfg.OTel(version), logger)
	if err != nil {
		pg.Close()
		return fmt.Errorf("initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var store storage.Store = pg
	deps := []observability.Dependency{{Name: api.DependencyDatabase, Required: true, Ping: pg.Ping}}
	apiLimit, authLimit, emailLimit := cfg.Limits()
	limiters := api.Limiters{
		API:   middleware.NewMemoryLimiter(apiLimit, middleware.DefaultLimiterKeys),
		Auth:  middleware.NewMemoryLimiter(authLimit, middleware.DefaultLimiterKeys),
		Email: middleware.NewMemoryLimiter(emailLimit, middleware.DefaultLimiterKeys),
	}

	var rdb *redisclient.Client
	if cfg.RedisEnabled() {
		rdb, err = redisclient.New(ctx, cfg.RedisClient())
		if err != nil {
			pg.Close()
			return fmt.Errorf("connect to redis: %w", err)
		}
		store = cache.New(pg, rdb, cache.DefaultTTLs(), logger).WithMetrics(metrics)
		deps = append(deps, observability.Dependency{Name: api.DependencyRedis, Ping: rdb.Ping})
		limiters = api.Limiters{
			API:   middleware.NewRedisLimiter(rdb, apiLimit),
			Auth:  middleware.NewRedisLimiter(rdb, authLimit),
			Email: middleware.NewRedisLimiter(rdb, emailLimit),
		}
	} else {
		logger.Warn("Redis is not configured; rate limits are per instance and lookups are uncached")
	}

	avatars, err := blob.NewS3Store(ctx, cfg.Blob())
	if err != nil {
		store.Close()
		return fmt.Errorf("initialize object storage: %w", err)
	}
	deps = append(deps, observability.Dependency{Name: "object_storage", Ping: avatars.HealthCheck})

	smtp, err := mail.NewSMTPSender(cfg.SMTP())
	if err != nil {
		store.Close()
		return fmt.Errorf("initialize mail: %w", err)
	}
	mailer := mail.NewRetryingSender(smtp, cfg.MailRetry(), logger)

	tokens, err := auth.NewTokenService(cfg.TokenSettings())
	if err != nil {
		store.Close()
		return err
	}
	acc := accounts.NewService(store, tokens, mailer, avatars,
		accounts.Config{PublicURL: cfg.Server.PublicURL},
		accounts.WithMetrics(metrics),
		accounts.WithLogger(logger),
	)

	auditor, err := newAuditor(cfg.Observability.AuditLogFile, logger)
	if err != nil {
		store.Close()
		return err
	}

	proxies, err := cfg.Server.Proxies()
	if err != nil {
		store.Close()
		return err
	}

	cookies := middleware.Cookies{Secure: cfg.Server.CookieSecure, MaxAge: cfg.Tokens.RefreshExpiry}
	checker := observability.NewHealthChecker(version, 0, deps...)
	server := api.NewServer(api.Config{
		Services:    api.NewServices(store, nil, acc, logger),
		Session:     middleware.NewSessionMiddleware(tokens, store, acc, cookies, metrics),
		Cookies:     cookies,
		Limiters:    limiters,
		Health:      checker,
		Metrics:     metrics,
		Logger:      logger,
		Audit:       auditor,
		CORSOrigins: cfg.Server.CORSOrigins,

		TrustedProxies: proxies,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(server, "taskboard"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, checker)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}
	opsServer := &http.Server{
		Addr:              cfg.Server.OpsAddr(),
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	janitor, err := jobs.NewJanitor(store, cfg.Jobs.PurgeSchedule, jobs.WithMetrics(metrics), jobs.WithLogger(logger))
	if err != nil {
		store.Close()
		return err
	}
	janitor.Start()

	// hooks run in registration order: stop intake first, stores last
	shutdown.Register("api server", apiServer.Shutdown)
	shutdown.Register("ops server", opsServer.Shutdown)
	shutdown.Register("token janitor", janitor.Stop)
	shutdown.Register("audit log", func(context.Context) error { return auditor.Close() })
	if rdb != nil {
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	}
	shutdown.Register("database", func(context.Context) error { return pg.Close() })
	shutdown.Register("opentelemetry", telemetry.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("Starting API server")
		return listen(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", opsServer.Addr).Info("Starting ops server")
		return listen(opsServer)
	})
	g.Go(func() error {
		cm.StartHealthCheckRoutine(gctx, replicaCheckInterval)
		collectPoolStats(gctx, cm, rdb, metrics)
		return nil
	})
	g.Go(func() error {
		return shutdown.Wait(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// newAuditor writes audit events to the application log and, when path is
// set, to a dedicated JSON lines file
func newAuditor(path string, logger *observability.Logger) (audit.Logger, error) {
	loggers := []audit.Logger{audit.NewLogLogger(logger)}
	if path != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{Path: path})
		if err != nil {
			return nil, err
		}
		loggers = append(loggers, fileLogger)
	}
	return audit.NewMultiLogger(loggers...), nil
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

// collectPoolStats exports connection pool gauges until ctx is done
func collectPoolStats(ctx context.Context, cm *postgres.ConnectionManager, rdb *redisclient.Client, metrics *observability.Metrics) {
	if metrics == nil {
		return
	}
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := cm.Stats().Primary
			metrics.UpdateDBStats(observability.DBStats{
				Open:      s.OpenConnections,
				InUse:     s.InUse,
				Idle:      s.Idle,
				WaitCount: s.WaitCount,
			})
			if rdb != nil {
				ps := rdb.PoolStats()
				metrics.UpdateRedisPool(ps.TotalConns, ps.IdleConns)
			}
		}
	}
}
