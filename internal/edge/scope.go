// Package edge puts the cache router in front of the storefront and the
// clinical backend: it decides which requests the router controls, builds
// the upstream request and writes the buffered answer back.
package edge

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrScopeViolation is returned when the requested scope reaches above the
// script's directory and no allowed-scope override covers it.
var ErrScopeViolation = errors.New("edge: scope exceeds the maximum allowed scope")

// Scope is the path prefix under which the edge controls requests.
type Scope struct {
	Path string
}

// Contains reports whether urlPath is under the scope.
func (s Scope) Contains(urlPath string) bool {
	if s.Path == "" {
		return false
	}
	if s.Path == "/" {
		return true
	}
	return strings.HasPrefix(urlPath, s.Path) || urlPath+"/" == s.Path
}

// Register computes the controlled scope for a script. An empty requested
// scope means the script's own directory. The scope may only reach above
// that directory when allowed (the Service-Worker-Allowed value) covers it.
func Register(scriptPath, requested, allowed string) (Scope, error) {
	scriptPath = strings.TrimSpace(scriptPath)
	if scriptPath == "" || !strings.HasPrefix(scriptPath, "/") {
		return Scope{}, fmt.Errorf("edge: script path %q must be absolute", scriptPath)
	}
	maxScope := dirOf(scriptPath)
	if a := strings.TrimSpace(allowed); a != "" {
		maxScope = asDir(a)
	}

	scope := dirOf(scriptPath)
	if r := strings.TrimSpace(requested); r != "" {
		scope = asDir(r)
	}
	if !strings.HasPrefix(scope, maxScope) {
		return Scope{}, fmt.Errorf("%w: %s is outside %s", ErrScopeViolation, scope, maxScope)
	}
	return Scope{Path: scope}, nil
}

func dirOf(p string) string {
	return asDir(path.Dir(p))
}

func asDir(p string) string {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	if p == "/" {
		return p
	}
	return p + "/"
}
