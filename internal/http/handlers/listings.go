package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/sxrx-edge/internal/clinical"
	"github.com/wolfman30/sxrx-edge/internal/listing"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// ListingSource is the slice of the clinical client the listings need.
type ListingSource interface {
	ListAppointments(ctx context.Context) ([]clinical.Appointment, error)
	GetChart(ctx context.Context) (*clinical.Chart, error)
}

// ListingsHandler renders the account listings with the shopper's sort,
// search and filter applied.
type ListingsHandler struct {
	source ListingSource
	prefs  *listing.Preferences
	logger *logging.Logger
}

func NewListingsHandler(source ListingSource, prefs *listing.Preferences, logger *logging.Logger) *ListingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ListingsHandler{source: source, prefs: prefs, logger: logger}
}

// ListingResponse is one rendered listing.
type ListingResponse struct {
	Listing    string        `json:"listing"`
	State      listing.State `json:"state"`
	Rows       []listing.Row `json:"rows"`
	Total      int           `json:"total"`
	Categories []string      `json:"categories"`
}

// Get renders a listing.
// GET /account/{listing}?sort=&dir=&q=&filter=
func (h *ListingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "listing")
	if !listing.Known(name) {
		jsonError(w, "unknown listing", http.StatusNotFound)
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	state := h.prefs.Load(ctx, name)
	sortChanged := false
	if v := strings.TrimSpace(q.Get("sort")); v != "" {
		state.SortKey = v
		sortChanged = true
	}
	if q.Has("dir") {
		dir, err := listing.ParseDirection(q.Get("dir"))
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		state.SortDir = dir
		sortChanged = true
	}
	viewChanged := false
	if q.Has("q") {
		state.SearchTerm = q.Get("q")
		viewChanged = true
	}
	if q.Has("filter") {
		state.SectionFilter = strings.TrimSpace(q.Get("filter"))
		viewChanged = true
	}

	rows, err := h.rows(ctx, name)
	if err != nil {
		h.logger.Warn("listing fetch failed", "listing", name, "error", err)
		writeBackendError(w, err)
		return
	}

	if sortChanged {
		if err := h.prefs.SaveSort(ctx, name, state); err != nil {
			h.logger.Warn("sort preference not saved", "listing", name, "error", err)
		}
	}
	if viewChanged {
		if err := h.prefs.SaveView(ctx, name, state); err != nil {
			h.logger.Warn("view state not saved", "listing", name, "error", err)
		}
	}

	visible := listing.Visible(rows, state)
	writeJSON(w, http.StatusOK, ListingResponse{
		Listing:    name,
		State:      state,
		Rows:       visible,
		Total:      len(rows),
		Categories: categories(rows),
	})
}

func (h *ListingsHandler) rows(ctx context.Context, name string) ([]listing.Row, error) {
	switch name {
	case listing.Appointments:
		appts, err := h.source.ListAppointments(ctx)
		if err != nil {
			return nil, err
		}
		return listing.FromAppointments(appts), nil
	default:
		chart, err := h.source.GetChart(ctx)
		if err != nil {
			return nil, err
		}
		if name == listing.Documents {
			return listing.FromDocuments(chart.Documents), nil
		}
		return listing.FromPrescriptions(chart.Prescriptions), nil
	}
}

func categories(rows []listing.Row) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, r := range rows {
		if r.Category == "" {
			continue
		}
		if _, ok := seen[r.Category]; !ok {
			seen[r.Category] = struct{}{}
			out = append(out, r.Category)
		}
	}
	sort.Strings(out)
	return out
}
