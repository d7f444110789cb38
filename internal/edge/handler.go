package edge

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wolfman30/sxrx-edge/internal/cache"
	"github.com/wolfman30/sxrx-edge/internal/storage"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// HandlerConfig describes the upstreams and the controlled scope.
type HandlerConfig struct {
	StorefrontOrigin  string
	BackendOrigin     string
	BackendPathPrefix string
	ScriptPath        string
	RequestedScope    string
	AllowedScope      string
}

// Handler is the edge's http.Handler.
type Handler struct {
	storefront    *url.URL
	backend       *url.URL
	backendPrefix string
	scriptPath    string
	scope         Scope
	registered    bool
	router        *cache.Router
	fetcher       cache.Fetcher
	logger        *logging.Logger
}

// NewHandler builds the edge handler. A failed scope registration is not
// fatal: the handler degrades to plain pass-through and logs a warning.
func NewHandler(cfg HandlerConfig, router *cache.Router, fetcher cache.Fetcher, logger *logging.Logger) (*Handler, error) {
	if fetcher == nil {
		return nil, errors.New("edge: fetcher is required")
	}
	storefront, err := parseOrigin(cfg.StorefrontOrigin)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		storefront:    storefront,
		backendPrefix: strings.TrimRight(cfg.BackendPathPrefix, "/"),
		scriptPath:    cfg.ScriptPath,
		router:        router,
		fetcher:       fetcher,
		logger:        logger.With("edge"),
	}
	if cfg.BackendOrigin != "" {
		if h.backend, err = parseOrigin(cfg.BackendOrigin); err != nil {
			return nil, err
		}
	}

	if router != nil {
		scope, err := Register(cfg.ScriptPath, cfg.RequestedScope, cfg.AllowedScope)
		if err != nil {
			h.logger.Warn("edge registration failed; serving without offline support", "error", err)
		} else {
			h.scope = scope
			h.registered = true
			h.logger.Info("edge registered", "scope", scope.Path)
		}
	}
	return h, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("edge: invalid origin " + strconv.Quote(raw))
	}
	return u, nil
}

// Scope returns the registered scope and whether registration succeeded.
func (h *Handler) Scope() (Scope, bool) { return h.scope, h.registered }

// Controls reports whether the router answers requests for urlPath.
func (h *Handler) Controls(urlPath string) bool {
	return h.registered && h.router.Active() && urlPath != h.scriptPath && h.scope.Contains(urlPath)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upstream := h.upstreamRequest(r)

	var entry *cache.Entry
	if h.Controls(r.URL.Path) {
		ctx := cache.WithPartition(upstream.Context(), partitionFor(r))
		entry = h.router.Handle(ctx, upstream.WithContext(ctx))
	} else {
		var err error
		entry, err = h.fetcher.Fetch(upstream)
		if err != nil {
			h.logger.Warn("pass-through fetch failed", "path", r.URL.Path, "error", err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
	}
	writeEntry(w, r, entry)
}

// upstreamRequest rewrites r to its absolute upstream URL: paths under the
// backend prefix go to the backend with the prefix removed, the rest to
// the storefront.
func (h *Handler) upstreamRequest(r *http.Request) *http.Request {
	target := *h.storefront
	p := r.URL.Path
	if h.backend != nil && h.backendPrefix != "" && (p == h.backendPrefix || strings.HasPrefix(p, h.backendPrefix+"/")) {
		target = *h.backend
		p = strings.TrimPrefix(p, h.backendPrefix)
		if p == "" {
			p = "/"
		}
	}
	target.Path = strings.TrimRight(target.Path, "/") + p
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery

	out := r.Clone(r.Context())
	out.URL = &target
	out.Host = target.Host
	out.RequestURI = ""
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if r.Host != "" {
		out.Header.Set("X-Forwarded-Host", r.Host)
	}
	return out
}

// partitionFor keys api cache entries by shopper (visitor, else session)
// and by credential. A shared credential alone never merges two shoppers.
func partitionFor(r *http.Request) string {
	var parts []string
	if v := storage.VisitorFromContext(r.Context()); v != "" {
		parts = append(parts, "visitor:"+v)
	} else if s := storage.SessionFromContext(r.Context()); s != "" {
		parts = append(parts, "session:"+s)
	}
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		sum := sha256.Sum256([]byte(auth))
		parts = append(parts, "auth:"+hex.EncodeToString(sum[:12]))
	}
	return strings.Join(parts, "|")
}

func writeEntry(w http.ResponseWriter, r *http.Request, e *cache.Entry) {
	h := w.Header()
	for k, vs := range e.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	stripHopHeaders(h)
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	w.WriteHeader(e.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(e.Body)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
