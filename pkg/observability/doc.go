// Package observability provides structured logging, Prometheus metrics, health
// checks, OpenTelemetry setup and ordered graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("user registered")
//
// Request handlers use FromContext, which adds the request id, the
// authenticated user id and, inside a sampled span, the trace and span ids.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordTokenRotation("silent", "rotated")
//
// Record methods accept a nil *Metrics so services can run without metrics in tests.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version, 2*time.Second,
//		observability.Dependency{Name: "database", Required: true, Ping: store.Ping},
//		observability.Dependency{Name: "redis", Ping: redis.Ping},
//	)
//
// A probe that does not answer within the timeout counts as down.
//
// # Tracing
//
//	telemetry, err := observability.InitTelemetry(ctx, cfg, logger)
//	sm.Register("opentelemetry", telemetry.Shutdown)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.Register("api", server.Shutdown)
//	sm.Register("database", func(context.Context) error { return store.Close() })
//	err := sm.Wait(signalCtx)
package observability
