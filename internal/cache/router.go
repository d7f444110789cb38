package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/sxrx-edge/internal/observability/metrics"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

var routerTracer = otel.Tracer("sxrx.internal.cache.router")

// Fetcher performs the network leg of a request. It returns an error only
// when the upstream could not be reached; HTTP error statuses come back as
// entries.
type Fetcher interface {
	Fetch(req *http.Request) (*Entry, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(req *http.Request) (*Entry, error)

func (f FetcherFunc) Fetch(req *http.Request) (*Entry, error) { return f(req) }

// RouterConfig configures the per-category strategies.
type RouterConfig struct {
	Namespaces Namespaces
	Classifier *Classifier
	// StaticMaxAge of zero keeps static entries until the next version bump.
	StaticMaxAge     time.Duration
	ImageMaxAge      time.Duration
	APIDefaultMaxAge time.Duration
	// APITimeout bounds the network leg of the api strategy.
	APITimeout time.Duration
	// ServeStaleOnServerError lets the api strategy answer upstream 5xx
	// responses with a cached entry. Transport failures always fall back.
	ServeStaleOnServerError bool
	Now                     func() time.Time
}

// Router answers GET requests from the cache namespaces, the network, or a
// blend of both depending on the request category.
type Router struct {
	storage Storage
	fetcher Fetcher
	cfg     RouterConfig
	metrics *metrics.CacheMetrics
	logger  *logging.Logger
	flight  singleflight.Group
	active  atomic.Bool
}

// NewRouter wires a router over storage and fetcher.
func NewRouter(storage Storage, fetcher Fetcher, cfg RouterConfig, m *metrics.CacheMetrics, logger *logging.Logger) (*Router, error) {
	if storage == nil || fetcher == nil {
		return nil, errors.New("cache: storage and fetcher are required")
	}
	if cfg.Classifier == nil {
		c, err := NewClassifier(ClassifierConfig{})
		if err != nil {
			return nil, err
		}
		cfg.Classifier = c
	}
	if cfg.ImageMaxAge <= 0 {
		cfg.ImageMaxAge = 7 * 24 * time.Hour
	}
	if cfg.APIDefaultMaxAge <= 0 {
		cfg.APIDefaultMaxAge = 300 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{
		storage: storage,
		fetcher: fetcher,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("cache.router"),
	}, nil
}

// Activate lets the router start answering requests. Until then callers
// should go straight to the network.
func (r *Router) Activate() { r.active.Store(true) }

// Active reports whether the router controls traffic.
func (r *Router) Active() bool { return r.active.Load() }

// Namespaces returns the live namespace names.
func (r *Router) Namespaces() Namespaces { return r.cfg.Namespaces }

// Classify exposes the router's classification of a request URL.
func (r *Router) Classify(req *http.Request) Category {
	return r.cfg.Classifier.Classify(req.URL)
}

// Handle resolves req. req.URL must be the absolute upstream URL. It never
// returns nil: unreachable upstreams with nothing cached yield a synthetic
// 503.
func (r *Router) Handle(ctx context.Context, req *http.Request) *Entry {
	category := r.cfg.Classifier.Classify(req.URL)
	if req.Method != http.MethodGet {
		r.metrics.ObserveRequest(string(category), "bypass")
		resp, err := r.fetch(ctx, req, category, "", 0)
		if err != nil {
			return r.offline(category)
		}
		return resp
	}

	key := r.key(ctx, category, req)
	switch category {
	case CategoryStatic:
		return r.cacheFirst(ctx, req, category, r.cfg.Namespaces.Static(), key, r.cfg.StaticMaxAge)
	case CategoryImage:
		return r.cacheFirst(ctx, req, category, r.cfg.Namespaces.Images(), key, r.cfg.ImageMaxAge)
	case CategoryAPI:
		return r.networkFirstAPI(ctx, req, key)
	default:
		return r.networkFirstOther(ctx, req, key)
	}
}

func (r *Router) key(ctx context.Context, category Category, req *http.Request) string {
	key := NormalizeKey(req.URL)
	if category == CategoryAPI {
		if p := PartitionFromContext(ctx); p != "" {
			return p + "|" + key
		}
	}
	return key
}

func (r *Router) cacheFirst(ctx context.Context, req *http.Request, category Category, namespace, key string, maxAge time.Duration) *Entry {
	cached := r.match(ctx, namespace, key)
	if cached != nil {
		if f := Evaluate(cached, r.cfg.Now()); f != Expired {
			r.metrics.ObserveRequest(string(category), "hit")
			return cached.servedFromCache(f)
		}
	}

	resp, err := r.fetch(ctx, req, category, key, 0)
	if err != nil {
		if cached != nil {
			r.metrics.ObserveRequest(string(category), "stale")
			return cached.servedFromCache(Expired)
		}
		r.metrics.ObserveRequest(string(category), "offline")
		return r.offline(category)
	}
	if resp.OK() {
		r.store(ctx, namespace, key, resp, maxAge)
	}
	r.metrics.ObserveRequest(string(category), "network")
	return resp
}

func (r *Router) networkFirstAPI(ctx context.Context, req *http.Request, key string) *Entry {
	namespace := r.cfg.Namespaces.API()
	cacheable := r.cfg.Classifier.Cacheable(req.URL)

	var cached *Entry
	if cacheable {
		cached = r.match(ctx, namespace, key)
		if cached != nil && Evaluate(cached, r.cfg.Now()) == Fresh {
			r.metrics.ObserveRequest(string(CategoryAPI), "hit")
			return cached.servedFromCache(Fresh)
		}
	}

	resp, err := r.fetch(ctx, req, CategoryAPI, key, r.cfg.APITimeout)
	if err != nil {
		// Offline: any entry beats no data, including ones whose freshness
		// cannot be determined.
		if cached != nil {
			r.metrics.ObserveRequest(string(CategoryAPI), "stale")
			return cached.servedFromCache(Evaluate(cached, r.cfg.Now()))
		}
		r.metrics.ObserveRequest(string(CategoryAPI), "offline")
		return OfflineAPIResponse()
	}
	if resp.OK() && cacheable {
		r.store(ctx, namespace, key, resp, ParseMaxAge(resp.Header, r.cfg.APIDefaultMaxAge))
	}
	if resp.Status >= http.StatusInternalServerError && r.cfg.ServeStaleOnServerError && cached != nil {
		r.metrics.ObserveRequest(string(CategoryAPI), "stale")
		return cached.servedFromCache(Evaluate(cached, r.cfg.Now()))
	}
	r.metrics.ObserveRequest(string(CategoryAPI), "network")
	return resp
}

func (r *Router) networkFirstOther(ctx context.Context, req *http.Request, key string) *Entry {
	// No dedupe here: navigation responses are per-shopper.
	resp, err := r.fetch(ctx, req, CategoryOther, "", 0)
	if err == nil {
		r.metrics.ObserveRequest(string(CategoryOther), "network")
		return resp
	}
	if cached := r.matchAny(ctx, key, PartitionFromContext(ctx)); cached != nil {
		r.metrics.ObserveRequest(string(CategoryOther), "stale")
		return cached.servedFromCache(Evaluate(cached, r.cfg.Now()))
	}
	r.metrics.ObserveRequest(string(CategoryOther), "offline")
	return r.offline(CategoryOther)
}

// fetch runs the network leg. A non-empty flightKey collapses concurrent
// identical fetches into one upstream call.
func (r *Router) fetch(ctx context.Context, req *http.Request, category Category, flightKey string, timeout time.Duration) (*Entry, error) {
	run := func(ctx context.Context) (*Entry, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		ctx, span := routerTracer.Start(ctx, "cache.fetch",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("cache.category", string(category)),
				attribute.String("http.method", req.Method),
				attribute.String("http.url", req.URL.String()),
			))
		defer span.End()

		start := time.Now()
		resp, err := r.fetcher.Fetch(req.WithContext(ctx))
		r.metrics.ObserveUpstream(string(category), err != nil, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upstream unreachable")
			r.logger.Warn("upstream fetch failed", "category", category, "url", req.URL.String(), "error", err)
			return nil, err
		}
		span.SetAttributes(attribute.Int("http.status_code", resp.Status))
		return resp, nil
	}

	if flightKey == "" {
		return run(ctx)
	}

	ch := r.flight.DoChan(flightKey, func() (any, error) {
		// Detached so one caller hanging up does not fail the others.
		return run(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry).Clone(), nil
	}
}

func (r *Router) match(ctx context.Context, namespace, key string) *Entry {
	// Reads never create a namespace.
	has, err := r.storage.Has(ctx, namespace)
	if err != nil {
		r.storageError("has", namespace, err)
		return nil
	}
	if !has {
		return nil
	}
	c, err := r.storage.Open(ctx, namespace)
	if err != nil {
		r.storageError("open", namespace, err)
		return nil
	}
	e, err := c.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.storageError("match", namespace, err)
		}
		return nil
	}
	return e
}

func (r *Router) matchAny(ctx context.Context, key, partition string) *Entry {
	names, err := r.storage.Keys(ctx)
	if err != nil {
		r.storageError("keys", "", err)
		return nil
	}
	candidates := []string{key}
	if partition != "" {
		candidates = append(candidates, partition+"|"+key)
	}
	for _, name := range names {
		if !r.cfg.Namespaces.Owns(name) {
			continue
		}
		for _, k := range candidates {
			if e := r.match(ctx, name, k); e != nil {
				return e
			}
		}
	}
	return nil
}

// store writes a copy of resp. Failures are logged and swallowed.
// Entries bound for the shared namespaces lose their cookies.
func (r *Router) store(ctx context.Context, namespace, key string, resp *Entry, maxAge time.Duration) {
	entry := resp.Clone()
	if namespace != r.cfg.Namespaces.API() {
		entry.stripCookies()
	}
	if maxAge > 0 {
		entry.Meta = &Meta{CachedAt: r.cfg.Now(), MaxAge: maxAge}
	}
	c, err := r.storage.Open(ctx, namespace)
	if err != nil {
		r.storageError("open", namespace, err)
		return
	}
	if err := c.Put(ctx, key, entry); err != nil {
		r.storageError("put", namespace, err)
	}
}

func (r *Router) storageError(op, namespace string, err error) {
	r.metrics.ObserveStorageError(op)
	r.logger.Warn("cache storage failure treated as miss", "op", op, "namespace", namespace, "error", err)
}

func (r *Router) offline(category Category) *Entry {
	if category == CategoryAPI {
		return OfflineAPIResponse()
	}
	return &Entry{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:   []byte("Service Unavailable: offline and no cached copy\n"),
	}
}

type offlineBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Offline bool   `json:"offline"`
}

// OfflineAPIResponse is the structured 503 callers use to tell "offline, no
// data" apart from a server error.
func OfflineAPIResponse() *Entry {
	body, err := json.Marshal(offlineBody{
		Error:   "offline",
		Message: "You appear to be offline and no cached data is available.",
		Offline: true,
	})
	if err != nil {
		body = []byte(fmt.Sprintf(`{"error":"offline","message":%q,"offline":true}`, err.Error()))
	}
	return &Entry{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	}
}
