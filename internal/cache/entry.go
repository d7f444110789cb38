// Package cache implements the edge cache router: request classification,
// per-category retrieval strategies, freshness evaluation, versioned cache
// namespaces and the cache control message protocol.
package cache

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// HeaderServedFromCache marks responses answered from a cache namespace.
	HeaderServedFromCache = "X-Served-From-Cache"
	// HeaderCacheFreshness reports the freshness of a cache-served response.
	HeaderCacheFreshness = "X-Cache-Freshness"
)

// Meta is the freshness metadata the router writes at store time. It is
// never derived from headers that happen to survive on the stored response.
type Meta struct {
	CachedAt time.Time     `json:"cached_at"`
	MaxAge   time.Duration `json:"max_age"`
}

// Entry is a buffered HTTP response, either fresh off the network or read
// back from a cache namespace.
type Entry struct {
	URL    string      `json:"url"`
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
	// Meta is nil for entries stored without a TTL (precached static assets).
	Meta *Meta `json:"meta,omitempty"`
}

// OK reports whether the response carries a 2xx status.
func (e *Entry) OK() bool {
	return e != nil && e.Status >= 200 && e.Status < 300
}

// Clone returns a deep copy so callers can mutate headers freely.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := &Entry{
		URL:    e.URL,
		Status: e.Status,
		Header: e.Header.Clone(),
		Body:   append([]byte(nil), e.Body...),
	}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if e.Meta != nil {
		m := *e.Meta
		out.Meta = &m
	}
	return out
}

// stripCookies drops per-shopper state before an entry is shared.
func (e *Entry) stripCookies() {
	e.Header.Del("Set-Cookie")
	e.Header.Del("Set-Cookie2")
}

func (e *Entry) servedFromCache(f Freshness) *Entry {
	out := e.Clone()
	out.Header.Set(HeaderServedFromCache, "true")
	out.Header.Set(HeaderCacheFreshness, f.String())
	return out
}

// NormalizeKey turns a request URL into its cache key: lowercase scheme and
// host, default ports dropped, no fragment or userinfo, sorted query.
func NormalizeKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	c.Fragment = ""
	c.RawFragment = ""
	c.Scheme = strings.ToLower(c.Scheme)
	host := strings.ToLower(c.Host)
	switch {
	case c.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case c.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	c.Host = host
	if c.Path == "" && c.Opaque == "" {
		c.Path = "/"
	}
	if c.RawQuery != "" {
		c.RawQuery = c.Query().Encode()
	}
	c.ForceQuery = false
	return c.String()
}
