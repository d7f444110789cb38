// Package credentials resolves the shopper's backend auth token from a fixed
// precedence of sources: an explicit per-request value, then the session
// store, then the persistent store. A configured service token is used only
// when the shopper has none.
package credentials

import (
	"context"
	"net/http"
	"strings"

	"github.com/wolfman30/sxrx-edge/internal/storage"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// Source yields a token or reports that it has none.
type Source interface {
	Name() string
	Token(ctx context.Context) (string, bool)
}

type explicitKey struct{}

// WithToken attaches an explicit token to ctx; it wins over every store.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, explicitKey{}, token)
}

type explicitSource struct{}

// Explicit reads the token set with WithToken.
func Explicit() Source { return explicitSource{} }

func (explicitSource) Name() string { return "explicit" }

func (explicitSource) Token(ctx context.Context) (string, bool) {
	if v, _ := ctx.Value(explicitKey{}).(string); strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

type serviceSource struct {
	token string
}

// Service yields a static service token for requests with no shopper
// credential.
func Service(token string) Source {
	return serviceSource{token: strings.TrimSpace(token)}
}

func (serviceSource) Name() string { return "service" }

func (s serviceSource) Token(context.Context) (string, bool) {
	return s.token, s.token != ""
}

type storeSource struct {
	name  string
	store storage.Store
	owner func(context.Context) string
}

// SessionStore reads the token from the session-scoped store.
func SessionStore(s storage.Store) Source {
	return storeSource{name: "session", store: s, owner: storage.SessionFromContext}
}

// PersistentStore reads the token from the persistent per-visitor store.
func PersistentStore(s storage.Store) Source {
	return storeSource{name: "persistent", store: s, owner: storage.VisitorFromContext}
}

func (s storeSource) Name() string { return s.name }

func (s storeSource) Token(ctx context.Context) (string, bool) {
	if s.store == nil {
		return "", false
	}
	owner := s.owner(ctx)
	if owner == "" {
		return "", false
	}
	v, ok, err := s.store.Get(ctx, owner, storage.KeyAuthToken)
	if err != nil || !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Resolver walks its sources in order; the first token found wins.
type Resolver struct {
	sources []Source
	logger  *logging.Logger
}

// NewResolver builds a resolver with the standard precedence: explicit,
// session, persistent, then the service token.
func NewResolver(serviceToken string, session, persistent storage.Store, logger *logging.Logger) *Resolver {
	return NewResolverWithSources(logger, Explicit(), SessionStore(session), PersistentStore(persistent), Service(serviceToken))
}

// NewResolverWithSources builds a resolver over a custom precedence list.
func NewResolverWithSources(logger *logging.Logger, sources ...Source) *Resolver {
	return &Resolver{sources: sources, logger: logger.With("credentials")}
}

// Resolve returns the current token and the source that provided it.
func (r *Resolver) Resolve(ctx context.Context) (token, source string, ok bool) {
	for _, s := range r.sources {
		if t, found := s.Token(ctx); found {
			return t, s.Name(), true
		}
	}
	return "", "", false
}

// Apply sets the bearer header on req when a token resolves.
func (r *Resolver) Apply(req *http.Request) bool {
	token, source, ok := r.Resolve(req.Context())
	if !ok {
		r.logger.Debug("no credential available", "path", req.URL.Path)
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	r.logger.Debug("credential applied", "source", source)
	return true
}
