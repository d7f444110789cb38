package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/sxrx-edge/internal/storage"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// Preferences persists view state. Only the sort survives across visits
// (persistent store); search and filter live in the session store.
type Preferences struct {
	persistent storage.Store
	session    storage.Store
	logger     *logging.Logger
}

func NewPreferences(persistent, session storage.Store, logger *logging.Logger) *Preferences {
	return &Preferences{persistent: persistent, session: session, logger: logger.With("listing")}
}

type sortPref struct {
	Key string    `json:"key"`
	Dir Direction `json:"dir"`
}

type viewPref struct {
	SearchTerm    string `json:"search"`
	SectionFilter string `json:"filter"`
}

// Load rebuilds a listing's state. Storage failures fall back to defaults.
func (p *Preferences) Load(ctx context.Context, listing string) State {
	st := DefaultState(listing)

	if owner := storage.VisitorFromContext(ctx); owner != "" && p.persistent != nil {
		var sp sortPref
		if p.read(ctx, p.persistent, owner, storage.SortKey(listing), &sp) && sp.Key != "" {
			st.SortKey = sp.Key
			if dir, err := ParseDirection(string(sp.Dir)); err == nil {
				st.SortDir = dir
			}
		}
	}
	if owner := storage.SessionFromContext(ctx); owner != "" && p.session != nil {
		var vp viewPref
		if p.read(ctx, p.session, owner, storage.ViewStateKey(listing), &vp) {
			st.SearchTerm = vp.SearchTerm
			if vp.SectionFilter != "" {
				st.SectionFilter = vp.SectionFilter
			}
		}
	}
	return st
}

// SaveSort persists only the sort portion of st.
func (p *Preferences) SaveSort(ctx context.Context, listing string, st State) error {
	owner := storage.VisitorFromContext(ctx)
	if owner == "" || p.persistent == nil {
		return nil
	}
	return p.write(ctx, p.persistent, owner, storage.SortKey(listing), sortPref{Key: st.SortKey, Dir: st.SortDir})
}

// SaveView keeps search and filter for the rest of the session.
func (p *Preferences) SaveView(ctx context.Context, listing string, st State) error {
	owner := storage.SessionFromContext(ctx)
	if owner == "" || p.session == nil {
		return nil
	}
	return p.write(ctx, p.session, owner, storage.ViewStateKey(listing), viewPref{
		SearchTerm:    strings.TrimSpace(st.SearchTerm),
		SectionFilter: st.SectionFilter,
	})
}

func (p *Preferences) read(ctx context.Context, s storage.Store, owner, key string, out any) bool {
	raw, ok, err := s.Get(ctx, owner, key)
	if err != nil {
		p.logger.Warn("preference read failed", "key", key, "error", err)
		return false
	}
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		p.logger.Warn("discarding malformed preference", "key", key, "error", err)
		return false
	}
	return true
}

func (p *Preferences) write(ctx context.Context, s storage.Store, owner, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("listing: marshal %s: %w", key, err)
	}
	if err := s.Set(ctx, owner, key, string(buf)); err != nil {
		return fmt.Errorf("listing: save %s: %w", key, err)
	}
	return nil
}
