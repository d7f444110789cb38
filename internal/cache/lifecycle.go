package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/sxrx-edge/internal/observability/metrics"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

const precacheConcurrency = 4

// InstallReport lists the outcome of precaching the manifest.
type InstallReport struct {
	Cached []string
	Failed map[string]string
}

// Lifecycle runs the install and activate steps for a cache version.
type Lifecycle struct {
	router  *Router
	metrics *metrics.CacheMetrics
	logger  *logging.Logger
}

// NewLifecycle creates the lifecycle controller for router.
func NewLifecycle(router *Router, m *metrics.CacheMetrics, logger *logging.Logger) *Lifecycle {
	return &Lifecycle{router: router, metrics: m, logger: logger.With("cache.lifecycle")}
}

// Install eagerly populates the static namespace with the manifest URLs.
// Individual failures are recorded and never abort the install.
func (l *Lifecycle) Install(ctx context.Context, manifest []string) InstallReport {
	report := InstallReport{Failed: map[string]string{}}
	namespace := l.router.cfg.Namespaces.Static()

	var mu sync.Mutex
	record := func(rawURL string, err error) {
		mu.Lock()
		defer mu.Unlock()
		l.metrics.ObservePrecache(err == nil)
		if err != nil {
			report.Failed[rawURL] = err.Error()
			l.logger.Warn("precache failed", "url", rawURL, "error", err)
			return
		}
		report.Cached = append(report.Cached, rawURL)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for _, rawURL := range manifest {
		g.Go(func() error {
			record(rawURL, l.precache(gctx, namespace, rawURL))
			return nil
		})
	}
	_ = g.Wait()

	l.logger.Info("install complete", "namespace", namespace, "cached", len(report.Cached), "failed", len(report.Failed))
	return report
}

func (l *Lifecycle) precache(ctx context.Context, namespace, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := l.router.fetcher.Fetch(req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("unexpected status %d", resp.Status)
	}
	c, err := l.router.storage.Open(ctx, namespace)
	if err != nil {
		return err
	}
	entry := resp.Clone()
	entry.stripCookies()
	if l.router.cfg.StaticMaxAge > 0 {
		entry.Meta = &Meta{CachedAt: l.router.cfg.Now(), MaxAge: l.router.cfg.StaticMaxAge}
	}
	return c.Put(ctx, NormalizeKey(req.URL), entry)
}

// Activate deletes every product namespace that is not one of the current
// version's three, leaves foreign caches alone, and hands traffic to the
// router. It returns the deleted names.
func (l *Lifecycle) Activate(ctx context.Context) ([]string, error) {
	defer l.router.Activate()

	ns := l.router.cfg.Namespaces
	names, err := l.router.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: activate: list namespaces: %w", err)
	}

	var deleted []string
	var errs []error
	for _, name := range names {
		if !ns.Owns(name) || ns.IsCurrent(name) {
			continue
		}
		ok, err := l.router.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	l.metrics.ObserveNamespacesDeleted(len(deleted))
	l.logger.Info("activated cache version", "version", ns.Version, "deleted", deleted)
	if len(errs) > 0 {
		return deleted, fmt.Errorf("cache: activate: %w", errors.Join(errs...))
	}
	return deleted, nil
}
