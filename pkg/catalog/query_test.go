package catalog

import (
	"math"
	"net/url"
	"testing"
)

func TestFilterQuery_Fingerprint(t *testing.T) {
	zero := 0.0

	tests := []struct {
		name  string
		query FilterQuery
		want  string
	}{
		{
			name:  "empty query",
			query: FilterQuery{},
			want:  "",
		},
		{
			name:  "category only",
			query: FilterQuery{Category: "AV"},
			want:  "category:AV",
		},
		{
			name:  "category and menu (sorted)",
			query: FilterQuery{Menu: "Televisores", Category: "AV"},
			want:  "category:AV|menu:Televisores",
		},
		{
			name: "all fields",
			query: FilterQuery{
				Category: "AV", Menu: "TV", Submenu: "OLED",
				Page: 2, PageSize: 24, Sort: "price_asc", Window: 12,
				PriceFloor: ptr(199.5),
			},
			want: "category:AV|menu:TV|page:2|page_size:24|price_floor:199.5|sort:price_asc|submenu:OLED|window:12",
		},
		{
			name:  "zero price floor is set",
			query: FilterQuery{Category: "AV", PriceFloor: &zero},
			want:  "category:AV|price_floor:0",
		},
		{
			name:  "separators are escaped",
			query: FilterQuery{Category: "a|menu:b"},
			want:  `category:a\|menu\:b`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.Fingerprint(); got != tt.want {
				t.Errorf("Fingerprint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterQuery_FingerprintNegativeZeroFloor(t *testing.T) {
	tests := []struct {
		name  string
		floor float64
	}{
		{"positive zero", 0},
		{"negative zero", math.Copysign(0, -1)},
	}

	want := "category:AV|price_floor:0"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewFilterQuery(WithCategory("AV"), WithPriceFloor(tt.floor))
			if got := q.Fingerprint(); got != want {
				t.Errorf("Fingerprint() = %q, want %q", got, want)
			}
		})
	}
}

func TestFilterQuery_FingerprintOrderIndependent(t *testing.T) {
	q1 := NewFilterQuery(
		WithCategory("AV"),
		WithMenu("Televisores"),
		WithPage(1, 24),
		WithSort("relevance"),
		WithPriceFloor(100),
		WithWindow(8),
	)
	q2 := NewFilterQuery(
		WithWindow(8),
		WithPriceFloor(100),
		WithSort("relevance"),
		WithPage(1, 24),
		WithMenu("Televisores"),
		WithCategory("AV"),
	)

	if q1.Fingerprint() != q2.Fingerprint() {
		t.Errorf("fingerprints differ: %q vs %q", q1.Fingerprint(), q2.Fingerprint())
	}
}

func TestFilterQuery_FingerprintDistinguishesFields(t *testing.T) {
	queries := []FilterQuery{
		{},
		{Category: "AV"},
		{Category: "AV", Menu: "Televisores"},
		{Category: "AV", Menu: "Televisores", Submenu: "OLED"},
		{Category: "AV", Page: 1},
		{Category: "AV", PriceFloor: ptr(0)},
		{Category: "AV", PriceFloor: ptr(1)},
		{Category: "AV|menu:Televisores"},
		{Menu: "AV"},
	}

	seen := make(map[string]int)
	for i, q := range queries {
		fp := q.Fingerprint()
		if j, ok := seen[fp]; ok {
			t.Errorf("queries %d and %d share fingerprint %q", j, i, fp)
		}
		seen[fp] = i
	}
}

func TestParseFilterQuery_RoundTrip(t *testing.T) {
	q := FilterQuery{Category: "AV", Menu: "TV", Page: 3, PriceFloor: ptr(0)}

	parsed, err := ParseFilterQuery(q.Values())
	if err != nil {
		t.Fatalf("ParseFilterQuery() error = %v", err)
	}
	if parsed.Fingerprint() != q.Fingerprint() {
		t.Errorf("parsed fingerprint = %q, want %q", parsed.Fingerprint(), q.Fingerprint())
	}
}

func TestParseFilterQuery_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
	}{
		{"bad page", url.Values{FieldPage: []string{"x"}}},
		{"bad window", url.Values{FieldWindow: []string{"1.5"}}},
		{"bad price floor", url.Values{FieldPriceFloor: []string{"cheap"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFilterQuery(tt.values); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func ptr(f float64) *float64 { return &f }
