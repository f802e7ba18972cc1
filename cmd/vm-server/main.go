package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/versionmanager/pkg/access"
	"github.com/platinummonkey/versionmanager/pkg/api"
	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/config"
	"github.com/platinummonkey/versionmanager/pkg/instances"
	"github.com/platinummonkey/versionmanager/pkg/invites"
	"github.com/platinummonkey/versionmanager/pkg/middleware"
	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/poolcache"
	"github.com/platinummonkey/versionmanager/pkg/sessions"
	"github.com/platinummonkey/versionmanager/pkg/settings"
	"github.com/platinummonkey/versionmanager/pkg/storage/postgres"
	"github.com/platinummonkey/versionmanager/pkg/users"
	"github.com/platinummonkey/versionmanager/pkg/versions"
)

var version = "dev"

const dbStatsInterval = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelCfg := cfg.Observability.OTel()
	if otelCfg.ServiceVersion == "" {
		otelCfg.ServiceVersion = version
	}
	otelProviders, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return err
	}

	appDB, err := postgres.NewAppPool(ctx, cfg.Database.URL, cfg.Database.Connection(), nil)
	if err != nil {
		return err
	}
	logger.WithField("database", appDB.Key()).Info("Connected to application database")

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(ctx, appDB.DB()); err != nil {
			return err
		}
		logger.Info("Database migrations applied")
	}

	cipher, err := settings.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}
	if !cipher.Enabled() {
		logger.Warn("ENCRYPTION_KEY is not set; tenant passwords are stored unencrypted")
	}

	userStore := users.NewPostgresStore(appDB)
	instanceService := instances.NewPostgresService(appDB)
	settingsStore := settings.NewPostgresStore(appDB, cipher)
	inviteStore := invites.NewPostgresStore(appDB, cfg.Sessions.InviteTTL)
	auditLog := audit.NewDBLogger(appDB, logger)

	if _, err := instanceService.EnsureDefault(ctx); err != nil {
		return err
	}

	var (
		redisClient  *redis.Client
		sessionStore interface {
			access.SessionStore
			api.SessionStore
		}
		authLimiter middleware.Limiter
	)
	if cfg.Sessions.RedisURL != "" {
		redisClient, err = sessions.NewRedisClient(ctx, cfg.Sessions.RedisURL)
		if err != nil {
			return err
		}
		sessionStore = sessions.NewRedisStore(redisClient, cfg.Sessions.TTL)
		authLimiter = middleware.NewDistributedRateLimiter(redisClient, middleware.AuthRateLimitConfig(), "")
		logger.Info("Sessions stored in Redis")
	} else {
		sessionStore = sessions.NewMemoryStore(cfg.Sessions.MemoryCapacity, cfg.Sessions.TTL)
		limiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
		limiter.StartCleanup(ctx)
		authLimiter = limiter
		logger.Warn("VM_REDIS_URL is not set; sessions are kept in memory and lost on restart")
	}

	var (
		metrics      *observability.Metrics
		accessObs    access.Observer
		poolObserver poolcache.Observer
	)
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
		accessObs = metrics
		poolObserver = metrics
	}

	resolver := access.NewResolver(sessionStore, userStore, instanceService, accessObs)

	pools, err := poolcache.New(settingsStore, poolcache.Options{
		MaxPools: cfg.Pools.MaxPools,
		Opener:   poolcache.PostgresOpener(cfg.Pools.Connection()),
		Observer: poolObserver,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	versionService := versions.NewService(pools, versions.NewMetadataStore(appDB))

	retention := audit.NewRetention(logger)
	auditMaxAge := time.Duration(cfg.Retention.AuditDays) * 24 * time.Hour
	if err := retention.Register(cfg.Retention.Schedule, "audit", auditLog.PruneJob(auditMaxAge, time.Now)); err != nil {
		return err
	}
	if err := retention.Register(cfg.Retention.Schedule, "invites", inviteStore.DeleteExpired); err != nil {
		return err
	}
	retention.Start()

	router := api.NewRouter(api.Deps{
		Resolver:    resolver,
		Users:       userStore,
		Instances:   instanceService,
		Settings:    settingsStore,
		Invites:     inviteStore,
		Sessions:    sessionStore,
		Pools:       pools,
		Versions:    versionService,
		Groups:      versions.NewGroupStore(appDB),
		Audit:       auditLog,
		Cookies:     middleware.CookieWriter{Secure: cfg.Server.CookieSecure, TTL: cfg.Sessions.TTL},
		AuthLimiter: authLimiter,
		Logger:      logger,
		Metrics:     metrics,
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "versionmanager"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(appDB, redisClient, pools, version))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, prometheus.DefaultGatherer)
		go reportDBStats(ctx, metrics, appDB)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var watcher *config.Watcher
	if path := os.Getenv(config.FileEnv); path != "" {
		watcher, err = config.NewWatcher(path, func(ctx context.Context, next *config.Config) {
			swapped, err := appDB.Connect(ctx, next.Database.URL)
			if err != nil {
				logger.WithError(err).Error("Failed to reconnect application database")
				return
			}
			if swapped {
				logger.WithField("database", appDB.Key()).Info("Application database reconnected")
			}
		}, logger)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)
	shutdown.Register("retention", retention.Stop)
	shutdown.Register("tenant pools", func(context.Context) error {
		pools.CloseAll()
		return nil
	})
	shutdown.Register("application database", func(context.Context) error {
		return appDB.Close()
	})
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	if watcher != nil {
		shutdown.Register("config watcher", func(context.Context) error {
			return watcher.Close()
		})
	}
	shutdown.Register("opentelemetry", otelProviders.Shutdown)

	serverErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}(srv)
	}

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case err := <-serverErr:
			logger.WithError(err).Error("HTTP server failed")
			stop()
		case <-waitCtx.Done():
		}
	}()

	err = shutdown.WaitForShutdown(waitCtx)
	cancel()
	return err
}

func reportDBStats(ctx context.Context, metrics *observability.Metrics, db *postgres.AppPool) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBStats(db.Stats())
		}
	}
}
