package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/sxrx-edge/internal/observability/metrics"
)

// MessageType names a cache control message.
type MessageType string

const (
	MessageClearCache   MessageType = "CLEAR_CACHE"
	MessageGetCacheSize MessageType = "GET_CACHE_SIZE"
)

// ErrUnknownMessage is returned for unsupported message types.
var ErrUnknownMessage = errors.New("cache: unknown message type")

// Message is a control request sent by a page.
type Message struct {
	Type MessageType `json:"type"`
}

// ClearCacheReply answers CLEAR_CACHE.
type ClearCacheReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CacheSize is the entry count of one namespace.
type CacheSize struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// CacheSizeReply answers GET_CACHE_SIZE.
type CacheSizeReply struct {
	Sizes []CacheSize `json:"sizes"`
}

// Messenger serves the cache control protocol.
type Messenger struct {
	storage    Storage
	namespaces Namespaces
	metrics    *metrics.CacheMetrics
}

// NewMessenger creates a messenger over the router's storage.
func NewMessenger(router *Router, m *metrics.CacheMetrics) *Messenger {
	return &Messenger{storage: router.storage, namespaces: router.cfg.Namespaces, metrics: m}
}

// Handle dispatches msg and returns the reply payload.
func (m *Messenger) Handle(ctx context.Context, msg Message) (any, error) {
	switch msg.Type {
	case MessageClearCache:
		if err := m.ClearAll(ctx); err != nil {
			return ClearCacheReply{Success: false, Error: err.Error()}, nil
		}
		return ClearCacheReply{Success: true}, nil
	case MessageGetCacheSize:
		sizes, err := m.Sizes(ctx)
		if err != nil {
			return nil, err
		}
		return CacheSizeReply{Sizes: sizes}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// ClearAll deletes every namespace under the product prefix.
func (m *Messenger) ClearAll(ctx context.Context) error {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	deleted := 0
	var errs []error
	for _, name := range names {
		if !m.namespaces.Owns(name) {
			continue
		}
		ok, err := m.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			deleted++
		}
	}
	m.metrics.ObserveNamespacesDeleted(deleted)
	if len(errs) > 0 {
		return fmt.Errorf("cache: clear: %w", errors.Join(errs...))
	}
	return nil
}

// Sizes reports the entry count of every live product namespace.
func (m *Messenger) Sizes(ctx context.Context) ([]CacheSize, error) {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: sizes: %w", err)
	}
	sizes := make([]CacheSize, 0, len(names))
	for _, name := range names {
		if !m.namespaces.Owns(name) {
			continue
		}
		c, err := m.storage.Open(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("cache: sizes: open %s: %w", name, err)
		}
		n, err := c.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("cache: sizes: %w", err)
		}
		sizes = append(sizes, CacheSize{Name: name, Size: n})
	}
	return sizes, nil
}
