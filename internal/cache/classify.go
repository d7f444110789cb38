package cache

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Category selects the retrieval strategy for a request.
type Category string

const (
	CategoryStatic Category = "static-asset"
	CategoryImage  Category = "image"
	CategoryAPI    Category = "api"
	CategoryOther  Category = "other"
)

// DefaultAPIPatterns lists the read-only backend endpoints whose responses
// may be cached.
var DefaultAPIPatterns = []string{
	`^/api/availability(/|$)`,
	`^/api/appointments/?$`,
	`^/api/patient/chart(/|$)`,
	`^/api/providers(/|$)`,
	`^/api/services(/|$)`,
}

var (
	staticExtensions = map[string]struct{}{
		".css": {}, ".js": {}, ".mjs": {}, ".map": {},
		".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	}
	imageExtensions = map[string]struct{}{
		".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
		".avif": {}, ".svg": {}, ".ico": {}, ".bmp": {},
	}
)

// ClassifierConfig configures request classification.
type ClassifierConfig struct {
	// AssetRoots are path prefixes served as static assets.
	AssetRoots []string
	// APIPatterns are regular expressions over the URL path identifying
	// cacheable backend reads. Defaults to DefaultAPIPatterns.
	APIPatterns []string
	// BackendOrigin marks every request to that origin as api.
	BackendOrigin string
}

// Classifier assigns each request URL exactly one Category.
type Classifier struct {
	assetRoots []string
	api        []*regexp.Regexp
	backend    string
}

// NewClassifier compiles the API allow-list.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	patterns := cfg.APIPatterns
	if len(patterns) == 0 {
		patterns = DefaultAPIPatterns
	}
	c := &Classifier{assetRoots: cfg.AssetRoots}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("cache: compile api pattern %q: %w", p, err)
		}
		c.api = append(c.api, re)
	}
	if cfg.BackendOrigin != "" {
		u, err := url.Parse(cfg.BackendOrigin)
		if err != nil {
			return nil, fmt.Errorf("cache: parse backend origin: %w", err)
		}
		c.backend = origin(u)
	}
	return c, nil
}

// Classify is a pure function of the URL.
func (c *Classifier) Classify(u *url.URL) Category {
	if u == nil {
		return CategoryOther
	}
	if c.Cacheable(u) || (c.backend != "" && origin(u) == c.backend) {
		return CategoryAPI
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := imageExtensions[ext]; ok || hasSegment(u.Path, "images") {
		return CategoryImage
	}
	if _, ok := staticExtensions[ext]; ok {
		return CategoryStatic
	}
	for _, root := range c.assetRoots {
		if root != "" && strings.HasPrefix(u.Path, root) {
			return CategoryStatic
		}
	}
	return CategoryOther
}

// Cacheable reports whether the URL path matches the API allow-list.
func (c *Classifier) Cacheable(u *url.URL) bool {
	if u == nil {
		return false
	}
	for _, re := range c.api {
		if re.MatchString(u.Path) {
			return true
		}
	}
	return false
}

func origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func hasSegment(p, segment string) bool {
	for _, part := range strings.Split(p, "/") {
		if strings.EqualFold(part, segment) {
			return true
		}
	}
	return false
}
