package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/sxrx-edge/internal/api/router"
	"github.com/wolfman30/sxrx-edge/internal/cache"
	"github.com/wolfman30/sxrx-edge/internal/clinical"
	appconfig "github.com/wolfman30/sxrx-edge/internal/config"
	"github.com/wolfman30/sxrx-edge/internal/credentials"
	"github.com/wolfman30/sxrx-edge/internal/edge"
	"github.com/wolfman30/sxrx-edge/internal/http/handlers"
	"github.com/wolfman30/sxrx-edge/internal/listing"
	"github.com/wolfman30/sxrx-edge/internal/notifications"
	"github.com/wolfman30/sxrx-edge/internal/observability/metrics"
	"github.com/wolfman30/sxrx-edge/internal/questionnaire"
	"github.com/wolfman30/sxrx-edge/internal/storage"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// App holds every wired component of the edge process.
type App struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Registry *prometheus.Registry

	Redis *redis.Client
	DB    *pgxpool.Pool

	CacheStorage cache.Storage
	Router       *cache.Router
	Lifecycle    *cache.Lifecycle
	Messenger    *cache.Messenger
	Edge         *edge.Handler

	SessionStore    storage.Store
	PersistentStore storage.Store
	Credentials     *credentials.Resolver
	Clinical        *clinical.Client
	Preferences     *listing.Preferences
	Feed            *notifications.Feed
	Gate            *questionnaire.Gate

	Handler http.Handler
}

// Build constructs the application in a fixed order: metrics, backing
// stores, the cache router and its lifecycle, the edge handler, the
// account services and finally the HTTP router. Redis and Postgres are
// optional; without them the in-memory stores are used.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cacheMetrics := metrics.NewCacheMetrics(app.Registry)

	app.Redis = BuildRedisClient(ctx, cfg, logger, true)
	app.DB = ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)

	cacheStorage, err := buildCacheStorage(cfg, app.Redis)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.CacheStorage = cacheStorage

	fetcher := edge.NewHTTPFetcher(cfg.UpstreamTimeout, int64(cfg.MaxCacheableBodyBytes))
	classifier, err := cache.NewClassifier(cache.ClassifierConfig{
		AssetRoots:    cfg.AssetRoots,
		APIPatterns:   cfg.APICachePatterns,
		BackendOrigin: cfg.BackendOrigin,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	app.Router, err = cache.NewRouter(cacheStorage, fetcher, cache.RouterConfig{
		Namespaces:              cache.Namespaces{Prefix: cfg.CachePrefix, Version: cfg.CacheVersion},
		Classifier:              classifier,
		StaticMaxAge:            cfg.StaticMaxAge,
		ImageMaxAge:             cfg.ImageMaxAge,
		APIDefaultMaxAge:        cfg.APIDefaultMaxAge,
		APITimeout:              cfg.APITimeout,
		ServeStaleOnServerError: cfg.ServeStaleOnServerError,
	}, cacheMetrics, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	app.Lifecycle = cache.NewLifecycle(app.Router, cacheMetrics, logger)
	app.Messenger = cache.NewMessenger(app.Router, cacheMetrics)

	app.Edge, err = edge.NewHandler(edge.HandlerConfig{
		StorefrontOrigin:  cfg.StorefrontOrigin,
		BackendOrigin:     cfg.BackendOrigin,
		BackendPathPrefix: cfg.BackendPathPrefix,
		ScriptPath:        cfg.EdgeScriptPath,
		RequestedScope:    cfg.EdgeScope,
		AllowedScope:      cfg.EdgeScopeAllowed,
	}, app.Router, fetcher, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	app.SessionStore, app.PersistentStore = buildStores(cfg, app.Redis, app.DB, logger)
	app.Credentials = credentials.NewResolver(cfg.BackendAPIToken, app.SessionStore, app.PersistentStore, logger)
	if cfg.BackendOrigin != "" {
		app.Clinical = clinical.NewClient(cfg.BackendOrigin, app.Credentials, logger,
			clinical.WithTransport(edge.NewTransport(app.Router, http.DefaultTransport)),
			clinical.WithTimeout(cfg.UpstreamTimeout),
		)
	} else {
		logger.Warn("BACKEND_ORIGIN not set; account listings and questionnaire forwarding disabled")
	}

	app.Preferences = listing.NewPreferences(app.PersistentStore, app.SessionStore, logger)
	app.Feed = notifications.NewFeed(app.PersistentStore, logger)

	var backend questionnaire.Backend
	if app.Clinical != nil {
		backend = app.Clinical
	}
	app.Gate = questionnaire.NewGate(questionnaire.GateConfig{
		QuizURL:       cfg.QuizURL,
		SchedulingURL: cfg.SchedulingURL,
		CheckoutURL:   cfg.CheckoutURL,
		GatedTags:     cfg.GatedProductTags,
		ConsultTags:   cfg.ConsultTags,
		MinDwell:      cfg.QuizMinDwell,
		PollInterval:  cfg.QuizPollInterval,
	}, app.SessionStore, backend, logger)

	routerCfg := &router.Config{
		Logger:             logger,
		Edge:               app.Edge,
		Health:             handlers.NewHealthHandler(app.healthChecks(), app.Router.Active, logger),
		CacheMessages:      handlers.NewCacheMessagesHandler(app.Messenger, logger),
		Notifications:      handlers.NewNotificationsHandler(app.Feed, logger),
		Questionnaire:      handlers.NewQuestionnaireHandler(app.Gate, logger),
		MetricsHandler:     promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		SecureCookies:      cfg.Env == "production",
	}
	if app.Clinical != nil {
		routerCfg.Listings = handlers.NewListingsHandler(app.Clinical, app.Preferences, logger)
		routerCfg.Account = handlers.NewAccountHandler(app.Clinical, app.SessionStore, app.PersistentStore, logger)
	}
	app.Handler = router.New(routerCfg)

	scope, registered := app.Edge.Scope()
	logger.Info("edge wired",
		"cache_store", cfg.CacheStore,
		"redis", app.Redis != nil,
		"postgres", app.DB != nil,
		"registered", registered,
		"scope", scope.Path,
	)
	return app, nil
}

// Start precaches the manifest for the current version and then activates
// it, after which the router controls traffic. Precache failures are
// logged and do not block activation.
func (a *App) Start(ctx context.Context) error {
	manifest, err := ResolveManifest(a.Config.StorefrontOrigin, a.Config.PrecacheManifest)
	if err != nil {
		return fmt.Errorf("bootstrap: start: %w", err)
	}
	report := a.Lifecycle.Install(ctx, manifest)
	for u, reason := range report.Failed {
		a.Logger.Warn("precache failed", "url", u, "error", reason)
	}
	if _, err := a.Lifecycle.Activate(ctx); err != nil {
		return fmt.Errorf("bootstrap: start: %w", err)
	}
	return nil
}

// Close releases the backing connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func (a *App) healthChecks() map[string]handlers.Check {
	checks := map[string]handlers.Check{}
	if a.Redis != nil {
		client := a.Redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	if a.DB != nil {
		pool := a.DB
		checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}
	return checks
}

// ResolveManifest turns storefront-relative manifest paths into absolute
// URLs. Absolute entries are kept as given.
func ResolveManifest(origin string, paths []string) ([]string, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		ref, err := url.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parse manifest entry %q: %w", p, err)
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	return out, nil
}

func buildCacheStorage(cfg *appconfig.Config, client *redis.Client) (cache.Storage, error) {
	switch cfg.CacheStore {
	case "", "memory":
		return cache.NewMemoryStorage(), nil
	case "redis":
		if client == nil {
			return nil, errors.New("bootstrap: CACHE_STORE=redis requires a reachable REDIS_ADDR")
		}
		return cache.NewRedisStorage(client, cfg.CachePrefix), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown CACHE_STORE %q", cfg.CacheStore)
	}
}

// buildStores picks the session and persistent stores. Sessions live in
// Redis with an idle TTL; preferences live in Postgres. Either falls back
// to process memory.
func buildStores(cfg *appconfig.Config, client *redis.Client, pool *pgxpool.Pool, logger *logging.Logger) (session, persistent storage.Store) {
	session = storage.NewMemoryStore()
	if client != nil {
		session = storage.NewRedisStore(client, cfg.SessionTTL)
	}
	persistent = storage.NewMemoryStore()
	if pool != nil {
		persistent = storage.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set; preferences and notifications kept in memory")
	}
	return session, persistent
}
