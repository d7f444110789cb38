// Package notifications keeps a visitor's in-app notification feed: newest
// first, capped, stored as one value in the persistent store.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/sxrx-edge/internal/storage"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// MaxEntries caps the feed; older entries fall off.
const MaxEntries = 50

var (
	// ErrNoVisitor is returned when the request carries no visitor id.
	ErrNoVisitor = errors.New("notifications: no visitor")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("notifications: invalid notification")
)

// Kind styles a notification.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notification is one feed entry.
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Feed reads and writes feeds keyed by the visitor in ctx.
type Feed struct {
	mu     sync.Mutex
	store  storage.Store
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

func NewFeed(store storage.Store, logger *logging.Logger) *Feed {
	return &Feed{
		store:  store,
		logger: logger.With("notifications"),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Add prepends a notification and trims the feed to MaxEntries.
func (f *Feed) Add(ctx context.Context, n Notification) (Notification, error) {
	if strings.TrimSpace(n.Message) == "" {
		return Notification{}, fmt.Errorf("%w: message is required", ErrInvalid)
	}
	switch n.Kind {
	case KindInfo, KindSuccess, KindWarning, KindError:
	case "":
		n.Kind = KindInfo
	default:
		return Notification{}, fmt.Errorf("%w: unknown type %q", ErrInvalid, n.Kind)
	}
	n.ID = f.newID()
	n.Read = false
	n.CreatedAt = f.now().UTC()

	f.mu.Lock()
	defer f.mu.Unlock()
	owner, items, err := f.load(ctx)
	if err != nil {
		return Notification{}, err
	}
	items = append([]Notification{n}, items...)
	if len(items) > MaxEntries {
		items = items[:MaxEntries]
	}
	if err := f.save(ctx, owner, items); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// List returns the feed newest first and the unread count.
func (f *Feed) List(ctx context.Context) ([]Notification, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, items, err := f.load(ctx)
	if err != nil {
		return nil, 0, err
	}
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	return items, unread, nil
}

// MarkRead marks the given ids read; no ids marks everything read.
func (f *Feed) MarkRead(ctx context.Context, ids ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, items, err := f.load(ctx)
	if err != nil {
		return 0, err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	changed := 0
	for i := range items {
		if items[i].Read || (len(want) > 0 && !want[items[i].ID]) {
			continue
		}
		items[i].Read = true
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, f.save(ctx, owner, items)
}

// Clear empties the feed.
func (f *Feed) Clear(ctx context.Context) error {
	owner := storage.VisitorFromContext(ctx)
	if owner == "" {
		return ErrNoVisitor
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.store.Delete(ctx, owner, storage.KeyNotifications); err != nil {
		return fmt.Errorf("notifications: clear: %w", err)
	}
	return nil
}

func (f *Feed) load(ctx context.Context) (string, []Notification, error) {
	owner := storage.VisitorFromContext(ctx)
	if owner == "" {
		return "", nil, ErrNoVisitor
	}
	raw, ok, err := f.store.Get(ctx, owner, storage.KeyNotifications)
	if err != nil {
		return "", nil, fmt.Errorf("notifications: load: %w", err)
	}
	if !ok || raw == "" {
		return owner, nil, nil
	}
	var items []Notification
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		f.logger.Warn("discarding malformed notification feed", "error", err)
		return owner, nil, nil
	}
	return owner, items, nil
}

func (f *Feed) save(ctx context.Context, owner string, items []Notification) error {
	buf, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("notifications: marshal: %w", err)
	}
	if err := f.store.Set(ctx, owner, storage.KeyNotifications, string(buf)); err != nil {
		return fmt.Errorf("notifications: save: %w", err)
	}
	return nil
}
