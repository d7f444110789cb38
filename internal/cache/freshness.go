package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Freshness is the verdict of Evaluate.
type Freshness int

const (
	// Unknown means the entry carries no metadata; it stays valid until its
	// namespace is superseded by a version bump.
	Unknown Freshness = iota
	Fresh
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Evaluate decides whether e is fresh at now.
func Evaluate(e *Entry, now time.Time) Freshness {
	if e == nil || e.Meta == nil || e.Meta.CachedAt.IsZero() {
		return Unknown
	}
	if now.Sub(e.Meta.CachedAt) < e.Meta.MaxAge {
		return Fresh
	}
	return Expired
}

// ParseMaxAge reads max-age from a Cache-Control header, falling back to def
// when the directive is missing or unparsable.
func ParseMaxAge(h http.Header, def time.Duration) time.Duration {
	for _, value := range h.Values("Cache-Control") {
		for _, directive := range strings.Split(value, ",") {
			name, arg, found := strings.Cut(strings.TrimSpace(directive), "=")
			if !found || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
				continue
			}
			secs, err := strconv.Atoi(strings.Trim(strings.TrimSpace(arg), `"`))
			if err != nil || secs < 0 {
				return def
			}
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
