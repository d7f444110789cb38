package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("dial tcp: network is unreachable")

// fakeUpstream answers fetches from a table and can be switched offline.
type fakeUpstream struct {
	mu        sync.Mutex
	responses map[string]*Entry
	offline   bool
	calls     atomic.Int32
	gate      chan struct{}
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{responses: map[string]*Entry{}}
}

func (f *fakeUpstream) set(rawURL string, status int, body string, header http.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if header == nil {
		header = http.Header{}
	}
	f.responses[rawURL] = &Entry{URL: rawURL, Status: status, Header: header, Body: []byte(body)}
}

func (f *fakeUpstream) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeUpstream) Fetch(req *http.Request) (*Entry, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errOffline
	}
	resp, ok := f.responses[req.URL.String()]
	if !ok {
		return &Entry{URL: req.URL.String(), Status: http.StatusNotFound, Header: http.Header{}}, nil
	}
	return resp.Clone(), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type routerFixture struct {
	router   *Router
	storage  Storage
	upstream *fakeUpstream
	clock    *fakeClock
}

func newRouterFixture(t *testing.T, mutate func(*RouterConfig)) *routerFixture {
	t.Helper()
	return newRouterFixtureWithStorage(t, NewMemoryStorage(), mutate)
}

func newRouterFixtureWithStorage(t *testing.T, storage Storage, mutate func(*RouterConfig)) *routerFixture {
	t.Helper()
	classifier, err := NewClassifier(ClassifierConfig{
		AssetRoots:    []string{"/assets/"},
		BackendOrigin: "https://api.sxrx.test",
	})
	require.NoError(t, err)

	clock := newFakeClock()
	upstream := newFakeUpstream()
	cfg := RouterConfig{
		Namespaces: Namespaces{Prefix: "sxrx", Version: "v1"},
		Classifier: classifier,
		APITimeout: time.Second,
		Now:        clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	router, err := NewRouter(storage, upstream, cfg, nil, nil)
	require.NoError(t, err)
	router.Activate()
	return &routerFixture{router: router, storage: storage, upstream: upstream, clock: clock}
}

func (f *routerFixture) get(t *testing.T, rawURL string) *Entry {
	t.Helper()
	return f.getCtx(t, context.Background(), rawURL)
}

func (f *routerFixture) getCtx(t *testing.T, ctx context.Context, rawURL string) *Entry {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	resp := f.router.Handle(ctx, req)
	require.NotNil(t, resp)
	return resp
}

func (f *routerFixture) count(t *testing.T, namespace string) int {
	t.Helper()
	ctx := context.Background()
	has, err := f.storage.Has(ctx, namespace)
	require.NoError(t, err)
	if !has {
		return 0
	}
	c, err := f.storage.Open(ctx, namespace)
	require.NoError(t, err)
	n, err := c.Len(ctx)
	require.NoError(t, err)
	return n
}
