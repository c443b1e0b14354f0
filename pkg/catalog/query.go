package catalog

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Field names used in fingerprints and on the wire.
const (
	FieldCategory   = "category"
	FieldMenu       = "menu"
	FieldSubmenu    = "submenu"
	FieldPage       = "page"
	FieldPageSize   = "page_size"
	FieldSort       = "sort"
	FieldPriceFloor = "price_floor"
	FieldWindow     = "window"
)

// FilterQuery describes one catalog listing request.
//
// String fields are unset when empty and integer fields are unset when zero.
// PriceFloor is optional because a floor of 0 is a meaningful filter.
type FilterQuery struct {
	Category   string
	Menu       string
	Submenu    string
	Page       int
	PageSize   int
	Sort       string
	PriceFloor *float64
	// Window is the number of products loaded lazily below the fold.
	Window int
}

// Option sets one field of a FilterQuery.
type Option func(*FilterQuery)

// NewFilterQuery builds a query from options. The order of options does not
// matter; a later option for the same field wins.
func NewFilterQuery(opts ...Option) FilterQuery {
	var q FilterQuery
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// WithCategory sets the category code.
func WithCategory(code string) Option { return func(q *FilterQuery) { q.Category = code } }

// WithMenu sets the menu identifier.
func WithMenu(id string) Option { return func(q *FilterQuery) { q.Menu = id } }

// WithSubmenu sets the submenu identifier.
func WithSubmenu(id string) Option { return func(q *FilterQuery) { q.Submenu = id } }

// WithPage sets the page number and page size.
func WithPage(page, size int) Option {
	return func(q *FilterQuery) {
		q.Page = page
		q.PageSize = size
	}
}

// WithSort sets the sort order.
func WithSort(sort string) Option { return func(q *FilterQuery) { q.Sort = sort } }

// WithPriceFloor sets the minimum price.
func WithPriceFloor(floor float64) Option {
	return func(q *FilterQuery) { q.PriceFloor = &floor }
}

// WithWindow sets the lazy-load window.
func WithWindow(n int) Option { return func(q *FilterQuery) { q.Window = n } }

// Fields returns the set fields of q as name/value strings.
func (q FilterQuery) Fields() map[string]string {
	fields := make(map[string]string, 8)
	if q.Category != "" {
		fields[FieldCategory] = q.Category
	}
	if q.Menu != "" {
		fields[FieldMenu] = q.Menu
	}
	if q.Submenu != "" {
		fields[FieldSubmenu] = q.Submenu
	}
	if q.Page != 0 {
		fields[FieldPage] = strconv.Itoa(q.Page)
	}
	if q.PageSize != 0 {
		fields[FieldPageSize] = strconv.Itoa(q.PageSize)
	}
	if q.Sort != "" {
		fields[FieldSort] = q.Sort
	}
	if q.PriceFloor != nil {
		floor := *q.PriceFloor
		if floor == 0 {
			floor = 0 // -0 formats as "-0"
		}
		fields[FieldPriceFloor] = strconv.FormatFloat(floor, 'f', -1, 64)
	}
	if q.Window != 0 {
		fields[FieldWindow] = strconv.Itoa(q.Window)
	}
	return fields
}

var fingerprintEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`, `:`, `\:`)

// Fingerprint returns the deterministic cache key for q.
// Format: name:value pairs sorted by name and joined with "|".
//
// Example:
//
//	category:AV|menu:Televisores|page:1
func (q FilterQuery) Fingerprint() string {
	fields := q.Fields()

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(fingerprintEscaper.Replace(fields[name]))
	}
	return b.String()
}

// String implements fmt.Stringer.
func (q FilterQuery) String() string {
	return q.Fingerprint()
}

// Values encodes q as URL query parameters.
func (q FilterQuery) Values() url.Values {
	v := url.Values{}
	for name, value := range q.Fields() {
		v.Set(name, value)
	}
	return v
}

// ParseFilterQuery decodes URL query parameters into a FilterQuery.
// Unknown parameters are ignored.
func ParseFilterQuery(v url.Values) (FilterQuery, error) {
	q := FilterQuery{
		Category: v.Get(FieldCategory),
		Menu:     v.Get(FieldMenu),
		Submenu:  v.Get(FieldSubmenu),
		Sort:     v.Get(FieldSort),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{FieldPage, &q.Page},
		{FieldPageSize, &q.PageSize},
		{FieldWindow, &q.Window},
	}
	for _, f := range ints {
		raw := v.Get(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return FilterQuery{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = n
	}

	if raw := v.Get(FieldPriceFloor); raw != "" {
		floor, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return FilterQuery{}, fmt.Errorf("parse %s: %w", FieldPriceFloor, err)
		}
		q.PriceFloor = &floor
	}

	return q, nil
}
