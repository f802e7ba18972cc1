// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry setup and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLevel(cfg.LogLevel), os.Stdout)
//	logger.WithTenant("prod").WithError(err).Warn("pool build failed")
//
// Request-scoped loggers travel on the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("handled")
//
// # Prometheus Metrics
//
// Metrics implements the pool cache and access resolver observers, so one
// instance is passed to both:
//
//	metrics := observability.NewMetrics(registry)
//	cache, _ := poolcache.New(settingsStore, poolcache.Options{Observer: metrics, ...})
//	resolver := access.NewResolver(sessions, users, instances, metrics)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(appPool, redisClient, cache, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// Readiness fails only when the control-plane database is down. Redis and a
// full pool cache report degraded.
package observability
