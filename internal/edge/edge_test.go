package edge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sxrx-edge/internal/cache"
	"github.com/wolfman30/sxrx-edge/internal/clinical"
	"github.com/wolfman30/sxrx-edge/internal/credentials"
	"github.com/wolfman30/sxrx-edge/internal/storage"
)

func TestRegisterScope(t *testing.T) {
	tests := []struct {
		name      string
		script    string
		requested string
		allowed   string
		want      string
		err       error
	}{
		{name: "root script", script: "/service-worker.js", want: "/"},
		{name: "nested script defaults to its dir", script: "/assets/sw.js", want: "/assets/"},
		{name: "narrower scope", script: "/assets/sw.js", requested: "/assets/app", want: "/assets/app/"},
		{name: "wider scope rejected", script: "/assets/sw.js", requested: "/", err: ErrScopeViolation},
		{name: "wider scope allowed by header", script: "/assets/sw.js", requested: "/", allowed: "/", want: "/"},
		{name: "sibling rejected", script: "/assets/sw.js", requested: "/account/", allowed: "/assets/", err: ErrScopeViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Register(tt.script, tt.requested, tt.allowed)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Path)
		})
	}

	_, err := Register("service-worker.js", "", "")
	assert.Error(t, err)
}

func TestScopeContains(t *testing.T) {
	s := Scope{Path: "/account/"}
	assert.True(t, s.Contains("/account/appointments"))
	assert.True(t, s.Contains("/account"))
	assert.False(t, s.Contains("/accounts"))
	assert.False(t, s.Contains("/"))
	assert.True(t, Scope{Path: "/"}.Contains("/anything"))
	assert.False(t, Scope{}.Contains("/"))
}

type upstream struct {
	server  *httptest.Server
	calls   atomic.Int32
	offline atomic.Bool
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(u.server.Close)
	return u
}

// offlineFetcher fails every request while offline is set.
type offlineFetcher struct {
	inner   cache.Fetcher
	offline *atomic.Bool
}

func (f offlineFetcher) Fetch(req *http.Request) (*cache.Entry, error) {
	if f.offline.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	return f.inner.Fetch(req)
}

type fixture struct {
	handler    *Handler
	router     *cache.Router
	storefront *upstream
	backend    *upstream
	offline    *atomic.Bool
}

func newFixture(t *testing.T, scriptPath string) *fixture {
	t.Helper()
	storefront := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".css"):
			w.Header().Set("Content-Type", "text/css")
			fmt.Fprint(w, "body{}")
		default:
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, "<h1>%s</h1>", r.URL.Path)
		}
	})
	backend := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=120")
		fmt.Fprintf(w, `{"path":%q,"auth":%q}`, r.URL.Path, r.Header.Get("Authorization"))
	})

	offline := &atomic.Bool{}
	fetcher := offlineFetcher{inner: NewHTTPFetcher(5*time.Second, 1<<20), offline: offline}
	classifier, err := cache.NewClassifier(cache.ClassifierConfig{
		AssetRoots:    []string{"/assets/"},
		BackendOrigin: backend.server.URL,
	})
	require.NoError(t, err)
	router, err := cache.NewRouter(cache.NewMemoryStorage(), fetcher, cache.RouterConfig{
		Namespaces: cache.Namespaces{Prefix: "sxrx", Version: "v1"},
		Classifier: classifier,
		APITimeout: time.Second,
	}, nil, nil)
	require.NoError(t, err)

	h, err := NewHandler(HandlerConfig{
		StorefrontOrigin:  storefront.server.URL,
		BackendOrigin:     backend.server.URL,
		BackendPathPrefix: "/clinical",
		ScriptPath:        scriptPath,
	}, router, fetcher, nil)
	require.NoError(t, err)
	return &fixture{handler: h, router: router, storefront: storefront, backend: backend, offline: offline}
}

func (f *fixture) get(t *testing.T, path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPassesThroughUntilActive(t *testing.T) {
	f := newFixture(t, "/service-worker.js")

	rec := f.get(t, "/assets/app.css")
	require.Equal(t, http.StatusOK, rec.Code)
	f.offline.Store(true)
	rec = f.get(t, "/assets/app.css")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandlerServesStaticFromCacheWhenActive(t *testing.T) {
	f := newFixture(t, "/service-worker.js")
	f.router.Activate()

	rec := f.get(t, "/assets/app.css")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Empty(t, rec.Header().Get(cache.HeaderServedFromCache))

	rec = f.get(t, "/assets/app.css")
	assert.Equal(t, "true", rec.Header().Get(cache.HeaderServedFromCache))
	assert.Equal(t, int32(1), f.storefront.calls.Load())
}

func TestHandlerRoutesBackendPrefix(t *testing.T) {
	f := newFixture(t, "/service-worker.js")
	f.router.Activate()

	rec := f.get(t, "/clinical/api/availability/CA?date=2026-02-03")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"path":"/api/availability/CA","auth":""}`, rec.Body.String())
	assert.Equal(t, int32(1), f.backend.calls.Load())
	assert.Zero(t, f.storefront.calls.Load())

	f.offline.Store(true)
	rec = f.get(t, "/clinical/api/availability/CA?date=2026-02-03")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(cache.HeaderServedFromCache))
}

func TestHandlerOfflineAPIWithoutCache(t *testing.T) {
	f := newFixture(t, "/service-worker.js")
	f.router.Activate()
	f.offline.Store(true)

	rec := f.get(t, "/clinical/api/patient/chart")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"offline","message":"You appear to be offline and no cached data is available.","offline":true}`, rec.Body.String())
}

func TestHandlerPartitionsAPIByCredential(t *testing.T) {
	f := newFixture(t, "/service-worker.js")
	f.router.Activate()
	withAuth := func(token string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	}

	rec := f.get(t, "/clinical/api/appointments", withAuth("alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice")

	rec = f.get(t, "/clinical/api/appointments", withAuth("bob"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bob")
	assert.Empty(t, rec.Header().Get(cache.HeaderServedFromCache))
	assert.Equal(t, int32(2), f.backend.calls.Load())

	rec = f.get(t, "/clinical/api/appointments", withAuth("alice"))
	assert.Contains(t, rec.Body.String(), "alice")
	assert.Equal(t, "true", rec.Header().Get(cache.HeaderServedFromCache))
}

func TestHandlerPartitionsByVisitor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, partitionFor(req))

	req = req.WithContext(storage.WithSession(context.Background(), "s1", "v1"))
	assert.Equal(t, "visitor:v1", partitionFor(req))

	req.Header.Set("Authorization", "Bearer x")
	assert.True(t, strings.HasPrefix(partitionFor(req), "visitor:v1|auth:"))

	sessionOnly := httptest.NewRequest(http.MethodGet, "/", nil)
	sessionOnly = sessionOnly.WithContext(storage.WithSession(context.Background(), "s2", ""))
	assert.Equal(t, "session:s2", partitionFor(sessionOnly))

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	bare.Header.Set("Authorization", "Bearer x")
	assert.True(t, strings.HasPrefix(partitionFor(bare), "auth:"))
}

func TestHandlerNeverRoutesScriptItself(t *testing.T) {
	f := newFixture(t, "/service-worker.js")
	f.router.Activate()
	assert.False(t, f.handler.Controls("/service-worker.js"))
	assert.True(t, f.handler.Controls("/products/x"))
}

func TestHandlerDegradesOnScopeViolation(t *testing.T) {
	storefront := newUpstream(t, func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "ok") })
	router, err := cache.NewRouter(cache.NewMemoryStorage(), NewHTTPFetcher(time.Second, 0), cache.RouterConfig{
		Namespaces: cache.Namespaces{Prefix: "sxrx", Version: "v1"},
	}, nil, nil)
	require.NoError(t, err)
	router.Activate()

	h, err := NewHandler(HandlerConfig{
		StorefrontOrigin: storefront.server.URL,
		ScriptPath:       "/assets/sw.js",
		RequestedScope:   "/",
	}, router, NewHTTPFetcher(time.Second, 0), nil)
	require.NoError(t, err)

	_, registered := h.Scope()
	assert.False(t, registered)
	assert.False(t, h.Controls("/assets/app.css"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHTTPFetcherStripsHopHeadersAndLimitsBody(t *testing.T) {
	var (
		mu   sync.Mutex
		seen http.Header
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = r.Header.Clone()
		mu.Unlock()
		if r.URL.Path == "/big" {
			_, _ = io.WriteString(w, strings.Repeat("x", 64))
			return
		}
		w.Header().Set("X-Upstream", "1")
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(time.Second, 32)
	req := httptest.NewRequest(http.MethodGet, ts.URL+"/go", nil)
	req.RequestURI = ""
	req.Header.Set("Connection", "X-Secret")
	req.Header.Set("X-Secret", "hop")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Cookie", "cart=1")

	e, err := f.Fetch(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, e.Status)
	assert.Equal(t, "/elsewhere", e.Header.Get("Location"))
	mu.Lock()
	assert.Empty(t, seen.Get("X-Secret"))
	assert.Empty(t, seen.Get("Proxy-Authorization"))
	assert.Equal(t, "cart=1", seen.Get("Cookie"))
	mu.Unlock()

	big := httptest.NewRequest(http.MethodGet, ts.URL+"/big", nil)
	big.RequestURI = ""
	_, err = f.Fetch(big)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestTransportUsesRouterOnceActive(t *testing.T) {
	f := newFixture(t, "/service-worker.js")
	client := &http.Client{Transport: NewTransport(f.router, nil)}
	target := f.backend.server.URL + "/api/providers"

	get := func() *http.Response {
		req, err := http.NewRequest(http.MethodGet, target, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer svc")
		resp, err := client.Do(req)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp
	}

	get()
	get()
	assert.Equal(t, int32(2), f.backend.calls.Load())

	f.router.Activate()
	get()
	resp := get()
	assert.Equal(t, int32(3), f.backend.calls.Load())
	assert.Equal(t, "true", resp.Header.Get(cache.HeaderServedFromCache))

	f.offline.Store(true)
	resp = get()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransportKeepsShoppersApart(t *testing.T) {
	var calls atomic.Int32
	backend := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=300")
		fmt.Fprintf(w, `{"appointments":[{"id":"call-%d","patient_name":%q}]}`, n, r.Header.Get("Authorization"))
	})
	router, err := cache.NewRouter(cache.NewMemoryStorage(), NewHTTPFetcher(time.Second, 1<<20), cache.RouterConfig{
		Namespaces: cache.Namespaces{Prefix: "sxrx", Version: "v1"},
		APITimeout: time.Second,
	}, nil, nil)
	require.NoError(t, err)
	router.Activate()

	ctx := context.Background()
	session := storage.NewMemoryStore()
	require.NoError(t, session.Set(ctx, "sA", storage.KeyAuthToken, "tokA"))
	require.NoError(t, session.Set(ctx, "sB", storage.KeyAuthToken, "tokB"))
	resolver := credentials.NewResolver("svc", session, storage.NewMemoryStore(), nil)
	client := clinical.NewClient(backend.server.URL, resolver, nil, clinical.WithTransport(NewTransport(router, nil)))

	list := func(sid, vid string) clinical.Appointment {
		appts, err := client.ListAppointments(storage.WithSession(ctx, sid, vid))
		require.NoError(t, err)
		require.Len(t, appts, 1)
		return appts[0]
	}

	a := list("sA", "vA")
	b := list("sB", "vB")
	assert.Equal(t, "Bearer tokA", a.PatientName)
	assert.Equal(t, "Bearer tokB", b.PatientName)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, int32(2), calls.Load())

	again := list("sA", "vA")
	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, int32(2), calls.Load())

	anon := list("sC", "vC")
	assert.Equal(t, "Bearer svc", anon.PatientName)
	assert.Equal(t, int32(3), calls.Load())
}
