// Package listing derives the rendered order of an account listing
// (appointments, chart documents, prescriptions) from fetched rows plus the
// shopper's sort, search and section filter state.
package listing

import (
	"fmt"
	"strings"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// FilterAll disables the section filter.
const FilterAll = "all"

// ParseDirection accepts "asc" or "desc" in any case; empty means Asc.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return "", fmt.Errorf("listing: invalid sort direction %q", s)
	}
}

// Toggle flips the direction.
func (d Direction) Toggle() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// Row is one record of a listing. Searchable is the lowercased
// concatenation of the row's display fields.
type Row struct {
	ID         string            `json:"id"`
	Category   string            `json:"category"`
	Values     map[string]string `json:"values"`
	Searchable string            `json:"-"`
}

// NewRow builds a row and precomputes its searchable string from the given
// display fields.
func NewRow(id, category string, values map[string]string, display ...string) Row {
	parts := make([]string, 0, len(display))
	for _, d := range display {
		if d = strings.TrimSpace(d); d != "" {
			parts = append(parts, d)
		}
	}
	return Row{
		ID:         id,
		Category:   category,
		Values:     values,
		Searchable: strings.ToLower(strings.Join(parts, " ")),
	}
}

// State is the per-listing view state.
type State struct {
	SortKey       string    `json:"sort_key"`
	SortDir       Direction `json:"sort_dir"`
	SearchTerm    string    `json:"search_term,omitempty"`
	SectionFilter string    `json:"section_filter,omitempty"`
}

// Matches reports whether a row passes the search AND the section filter.
func (s State) Matches(r Row) bool {
	if f := strings.TrimSpace(s.SectionFilter); f != "" && f != FilterAll && r.Category != f {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(s.SearchTerm))
	return term == "" || strings.Contains(r.Searchable, term)
}

// Visible filters rows by state and sorts the survivors. The input slice
// is not modified.
func Visible(rows []Row, s State) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if s.Matches(r) {
			out = append(out, r)
		}
	}
	if s.SortKey != "" {
		Sort(out, s.SortKey, s.SortDir)
	}
	return out
}
