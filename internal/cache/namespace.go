package cache

import "strings"

// Namespaces names the versioned cache partitions, e.g. "sxrx-static-v3".
type Namespaces struct {
	Prefix  string
	Version string
}

func (n Namespaces) name(kind string) string {
	return n.Prefix + "-" + kind + "-" + n.Version
}

// Static is the current static-asset namespace.
func (n Namespaces) Static() string { return n.name("static") }

// API is the current api namespace.
func (n Namespaces) API() string { return n.name("api") }

// Images is the current image namespace.
func (n Namespaces) Images() string { return n.name("images") }

// Current lists the three live namespace names.
func (n Namespaces) Current() []string {
	return []string{n.Static(), n.API(), n.Images()}
}

// For returns the namespace serving a category. Other has none.
func (n Namespaces) For(c Category) (string, bool) {
	switch c {
	case CategoryStatic:
		return n.Static(), true
	case CategoryImage:
		return n.Images(), true
	case CategoryAPI:
		return n.API(), true
	default:
		return "", false
	}
}

// Owns reports whether name carries the product prefix.
func (n Namespaces) Owns(name string) bool {
	return n.Prefix != "" && strings.HasPrefix(name, n.Prefix+"-")
}

// IsCurrent reports whether name is one of the live namespaces.
func (n Namespaces) IsCurrent(name string) bool {
	for _, c := range n.Current() {
		if c == name {
			return true
		}
	}
	return false
}
