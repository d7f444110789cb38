package listing

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type kind int

const (
	kindMissing kind = iota
	kindText
	kindNumber
	kindTime
)

// dateKeys hold timestamps; any other value under them is unparseable and
// sorts with the missing ones.
var dateKeys = map[string]bool{KeyStart: true, KeyDate: true}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(v string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseNumber(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// sortValue is one row's value for the active key.
type sortValue struct {
	kind kind
	num  float64
	text string
}

func extract(r Row, key string) sortValue {
	v := strings.TrimSpace(r.Values[key])
	if v == "" {
		return sortValue{kind: kindMissing}
	}
	if f, ok := parseNumber(v); ok {
		return sortValue{kind: kindNumber, num: f, text: v}
	}
	if t, ok := parseTime(v); ok {
		return sortValue{kind: kindTime, num: float64(t.UnixNano()), text: v}
	}
	if dateKeys[key] {
		return sortValue{kind: kindMissing}
	}
	return sortValue{kind: kindText, text: v}
}

// compare orders two present values: numerically when both are numbers or
// both are timestamps, by collated text otherwise.
func compare(col *collate.Collator, a, b sortValue) int {
	if a.kind == b.kind && a.kind != kindText {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	}
	return col.CompareString(a.text, b.text)
}

// Sort orders rows in place by key. The sort is stable, and rows whose
// value is missing (or not a timestamp under a date key) always sort last,
// whichever the direction.
func Sort(rows []Row, key string, dir Direction) {
	vals := make([]sortValue, len(rows))
	for i, r := range rows {
		vals[i] = extract(r, key)
	}
	col := collate.New(language.English, collate.IgnoreCase, collate.Loose)

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := vals[idx[a]], vals[idx[b]]
		if va.kind == kindMissing || vb.kind == kindMissing {
			return va.kind != kindMissing && vb.kind == kindMissing
		}
		c := compare(col, va, vb)
		if dir == Desc {
			return c > 0
		}
		return c < 0
	})

	sorted := make([]Row, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}
