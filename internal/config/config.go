package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Upstreams
	StorefrontOrigin  string
	BackendOrigin     string
	BackendPathPrefix string
	UpstreamTimeout   time.Duration
	APITimeout        time.Duration

	// Cache router
	CachePrefix             string
	CacheVersion            string
	CacheStore              string
	PrecacheManifest        []string
	AssetRoots              []string
	APICachePatterns        []string
	APIDefaultMaxAge        time.Duration
	ImageMaxAge             time.Duration
	StaticMaxAge            time.Duration
	ServeStaleOnServerError bool
	EdgeScriptPath          string
	EdgeScope               string
	EdgeScopeAllowed        string
	MaxCacheableBodyBytes   int

	// Storage
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	DatabaseURL   string
	SessionTTL    time.Duration

	// HTTP surface
	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Clinical backend
	BackendAPIToken string

	// Questionnaire gating
	QuizURL          string
	SchedulingURL    string
	CheckoutURL      string
	GatedProductTags []string
	ConsultTags      []string
	QuizMinDwell     time.Duration
	QuizPollInterval time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StorefrontOrigin:  strings.TrimRight(getEnv("STOREFRONT_ORIGIN", "https://sxrx.myshopify.com"), "/"),
		BackendOrigin:     strings.TrimRight(getEnv("BACKEND_ORIGIN", ""), "/"),
		BackendPathPrefix: getEnv("BACKEND_PATH_PREFIX", "/clinical"),
		UpstreamTimeout:   getEnvAsDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		APITimeout:        getEnvAsDuration("API_TIMEOUT", 8*time.Second),

		CachePrefix:             getEnv("CACHE_PREFIX", "sxrx"),
		CacheVersion:            getEnv("CACHE_VERSION", "v1"),
		CacheStore:              strings.ToLower(strings.TrimSpace(getEnv("CACHE_STORE", "memory"))),
		PrecacheManifest:        getEnvAsList("PRECACHE_MANIFEST", nil),
		AssetRoots:              getEnvAsList("ASSET_ROOTS", []string{"/assets/", "/cdn/shop/"}),
		APICachePatterns:        getEnvAsList("API_CACHE_PATTERNS", nil),
		APIDefaultMaxAge:        getEnvAsDuration("API_DEFAULT_MAX_AGE", 300*time.Second),
		ImageMaxAge:             getEnvAsDuration("IMAGE_MAX_AGE", 7*24*time.Hour),
		StaticMaxAge:            getEnvAsDuration("STATIC_MAX_AGE", 0),
		ServeStaleOnServerError: getEnvAsBool("SERVE_STALE_ON_SERVER_ERROR", false),
		EdgeScriptPath:          getEnv("EDGE_SCRIPT_PATH", "/service-worker.js"),
		EdgeScope:               getEnv("EDGE_SCOPE", ""),
		EdgeScopeAllowed:        getEnv("EDGE_SCOPE_ALLOWED", ""),
		MaxCacheableBodyBytes:   getEnvAsInt("MAX_CACHEABLE_BODY_BYTES", 10<<20),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 12*time.Hour),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),

		BackendAPIToken: getEnv("BACKEND_API_TOKEN", ""),

		QuizURL:          getEnv("QUIZ_URL", "/pages/questionnaire"),
		SchedulingURL:    getEnv("SCHEDULING_URL", "/pages/appointment-booking"),
		CheckoutURL:      getEnv("CHECKOUT_URL", "/checkout"),
		GatedProductTags: getEnvAsList("GATED_PRODUCT_TAGS", []string{"requires-questionnaire"}),
		ConsultTags:      getEnvAsList("CONSULT_PRODUCT_TAGS", []string{"requires-consult"}),
		QuizMinDwell:     getEnvAsDuration("QUIZ_MIN_DWELL", 3*time.Second),
		QuizPollInterval: getEnvAsDuration("QUIZ_POLL_INTERVAL", time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
