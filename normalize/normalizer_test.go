package normalize

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tcg_scrooper/config"
	"tcg_scrooper/models"
)

func loadFixture(t *testing.T, name string) []models.RawListing {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	var raws []models.RawListing
	if err := json.Unmarshal(data, &raws); err != nil {
		t.Fatalf("failed to decode fixture %s: %v", name, err)
	}
	return raws
}

func TestNormalize_AuctionFixture(t *testing.T) {
	n := New(nil)
	listings := n.NormalizeAll(loadFixture(t, "auction_items.json"), "Fanatics")
	if len(listings) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(listings))
	}

	live := listings[0]
	if live.SourceID != "fanatics:fc-1001" {
		t.Fatalf("expected source id fanatics:fc-1001, got %s", live.SourceID)
	}
	if live.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", live.Status)
	}
	if live.PriceMinorUnits == nil || *live.PriceMinorUnits != 45000 {
		t.Fatalf("expected price 45000, got %v", live.PriceMinorUnits)
	}
	if live.Currency != "USD" {
		t.Fatalf("expected USD, got %s", live.Currency)
	}
	if live.SoldPriceMinorUnits != nil || live.SoldAt != nil {
		t.Fatalf("expected no sold data on an active listing")
	}

	sold := listings[1]
	if sold.Status != models.StatusSold {
		t.Fatalf("expected sold, got %s", sold.Status)
	}
	if sold.SoldPriceMinorUnits == nil || *sold.SoldPriceMinorUnits != 12500 {
		t.Fatalf("expected sold price 12500, got %v", sold.SoldPriceMinorUnits)
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if sold.SoldAt == nil || !sold.SoldAt.Equal(want) {
		t.Fatalf("expected sold at %v, got %v", want, sold.SoldAt)
	}

	ended := listings[2]
	if ended.Status != models.StatusEnded {
		t.Fatalf("expected ended, got %s", ended.Status)
	}
	if ended.ExternalID != "" || len(ended.SourceID) != len("fanatics:")+32 {
		t.Fatalf("expected hashed source id, got %s", ended.SourceID)
	}
	if ended.PriceMinorUnits == nil || *ended.PriceMinorUnits != 30000 {
		t.Fatalf("expected starting price fallback 30000, got %v", ended.PriceMinorUnits)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := New(nil)
	for _, raw := range loadFixture(t, "auction_items.json") {
		a := n.Normalize(raw, "fanatics")
		b := n.Normalize(raw, "fanatics")
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("normalize not idempotent (-first +second):\n%s", diff)
		}
	}
}

func TestNormalize_MajorUnitPriceStrings(t *testing.T) {
	n := New(nil)
	n.Register("cardshop", NewFieldMap(&config.SourceConfig{ID: "cardshop", PriceUnit: "major"}))

	cases := []struct {
		price    any
		want     int64
		currency string
	}{
		{"$1,234.56", 123456, "USD"},
		{"1.234,56 €", 123456, "EUR"},
		{"£12", 1200, "GBP"},
		{19.99, 1999, "USD"},
		{"45 CAD", 4500, "CAD"},
	}
	for _, tc := range cases {
		l := n.Normalize(models.RawListing{"id": "x", "title": "Mew", "price": tc.price}, "cardshop")
		if l.PriceMinorUnits == nil || *l.PriceMinorUnits != tc.want {
			t.Errorf("price %v: got %v, want %d", tc.price, l.PriceMinorUnits, tc.want)
		}
		if l.Currency != tc.currency {
			t.Errorf("price %v: currency got %s, want %s", tc.price, l.Currency, tc.currency)
		}
	}
}

func TestNormalize_RejectsBadPrices(t *testing.T) {
	n := New(nil)
	for _, price := range []any{-500, "free", "", nil} {
		l := n.Normalize(models.RawListing{"id": "x", "title": "Mew", "price": price}, "shop")
		if l.PriceMinorUnits != nil {
			t.Errorf("price %v: expected nil, got %d", price, *l.PriceMinorUnits)
		}
	}
}

func TestNormalize_MissingEverything(t *testing.T) {
	n := New(nil)
	l := n.Normalize(models.RawListing{}, "shop")
	if l.Status != models.StatusUnknown {
		t.Fatalf("expected unknown status, got %s", l.Status)
	}
	if l.Currency != "USD" {
		t.Fatalf("expected default currency USD, got %s", l.Currency)
	}
	if l.Normalized.Name != unknownCardName {
		t.Fatalf("expected %q, got %q", unknownCardName, l.Normalized.Name)
	}
	if l.PriceMinorUnits != nil {
		t.Fatalf("expected nil price")
	}
}

func TestNormalize_SoldPriceAndEpoch(t *testing.T) {
	n := New(nil)
	raw := models.RawListing{
		"id":         "s1",
		"title":      "Umbreon",
		"status":     "sold",
		"priceCents": 9000,
		"soldPrice":  map[string]any{"amountInCents": 8800.0},
		"soldAt":     1709294400000.0,
	}
	l := n.Normalize(raw, "shop")
	if l.SoldPriceMinorUnits == nil || *l.SoldPriceMinorUnits != 8800 {
		t.Fatalf("expected sold price 8800, got %v", l.SoldPriceMinorUnits)
	}
	if l.SoldAt == nil || l.SoldAt.Unix() != 1709294400 {
		t.Fatalf("expected epoch millis to parse, got %v", l.SoldAt)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[string]models.Status{
		"LIVE":      models.StatusActive,
		"for sale":  models.StatusActive,
		"Completed": models.StatusSold,
		"SOLD":      models.StatusSold,
		"ENDED":     models.StatusEnded,
		"unsold":    models.StatusEnded,
		"":          models.StatusUnknown,
		"pending":   models.StatusUnknown,
	}
	for in, want := range cases {
		if got := ClassifyStatus(in); got != want {
			t.Errorf("ClassifyStatus(%q): got %s, want %s", in, got, want)
		}
	}
}

func TestLookup_ArrayIndex(t *testing.T) {
	raw := map[string]any{"bids": []any{map[string]any{"amount": 10.0}}}
	v, ok := Lookup(raw, "bids.0.amount")
	if !ok || v.(float64) != 10 {
		t.Fatalf("expected 10, got %v", v)
	}
	if _, ok := Lookup(raw, "bids.3.amount"); ok {
		t.Fatalf("expected out of range index to miss")
	}
}

func TestNormalize_HostileInputNeverPanics(t *testing.T) {
	n := New(nil)
	major := DefaultFieldMap
	major.PriceUnit = "major"
	n.Register("majors", major)

	tests := []struct {
		name   string
		source string
		raw    models.RawListing
	}{
		{name: "huge float", source: "shop", raw: models.RawListing{"id": "1", "title": "x", "price": 1e30}},
		{name: "max int64 float", source: "shop", raw: models.RawListing{"id": "2", "title": "x", "price": float64(math.MaxInt64)}},
		{name: "huge after scaling", source: "majors", raw: models.RawListing{"id": "3", "title": "x", "price": 9.3e16}},
		{name: "float64 nan", source: "shop", raw: models.RawListing{"id": "4", "title": "x", "price": math.NaN()}},
		{name: "float32 nan", source: "shop", raw: models.RawListing{"id": "5", "title": "x", "price": float32(math.NaN())}},
		{name: "float32 inf", source: "shop", raw: models.RawListing{"id": "6", "title": "x", "price": float32(math.Inf(1))}},
		{name: "json number overflow", source: "shop", raw: models.RawListing{"id": "7", "title": "x", "price": json.Number("1e400")}},
		{name: "huge price string", source: "majors", raw: models.RawListing{"id": "8", "title": "x", "price": "$99,999,999,999,999,999,999.00"}},
		{name: "sold with huge sold price", source: "shop", raw: models.RawListing{"id": "9", "title": "x", "status": "sold", "soldPrice": 1e300}},
		{name: "invalid utf8 title", source: "shop", raw: models.RawListing{"id": "10", "title": "\xff\xffEnglish Mew", "price": 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Normalize panicked: %v", r)
				}
			}()
			l := n.Normalize(tt.raw, tt.source)
			if l.PriceMinorUnits != nil && *l.PriceMinorUnits < 0 {
				t.Errorf("negative price %d", *l.PriceMinorUnits)
			}
			if l.SoldPriceMinorUnits != nil && *l.SoldPriceMinorUnits < 0 {
				t.Errorf("negative sold price %d", *l.SoldPriceMinorUnits)
			}
		})
	}

	l := n.Normalize(models.RawListing{"id": "1", "title": "x", "price": 1e30}, "shop")
	if l.PriceMinorUnits != nil {
		t.Fatalf("expected out-of-range price to be dropped, got %d", *l.PriceMinorUnits)
	}
}

func TestParseAmountString_SymbolOrderIsStable(t *testing.T) {
	for i := 0; i < 50; i++ {
		_, hint, ok := parseAmountString("$12.00 (€11,00)")
		if !ok || hint != "USD" {
			t.Fatalf("call %d: got hint %q ok=%v", i, hint, ok)
		}
	}
}
