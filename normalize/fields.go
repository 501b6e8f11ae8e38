package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tcg_scrooper/config"
	"tcg_scrooper/models"
)

// FieldMap tells the normalizer where a source keeps each canonical field.
type FieldMap struct {
	ID              []string
	Title           []string
	URL             []string
	Price           []string
	Currency        []string
	Status          []string
	SoldPrice       []string
	SoldAt          []string
	PriceUnit       string // minor or major
	DefaultCurrency string
}

// DefaultFieldMap covers the shapes seen across the marketplace dumps we ingest.
var DefaultFieldMap = FieldMap{
	ID:              []string{"id", "itemId", "listingId", "listing_id", "externalId", "external_id"},
	Title:           []string{"title", "name"},
	URL:             []string{"url", "link", "href", "permalink"},
	Price:           []string{"priceCents", "currentBid.amountInCents", "startingPrice.amountInCents", "price"},
	Currency:        []string{"currency", "currentBid.currency", "startingPrice.currency"},
	Status:          []string{"status", "state", "listingStatus"},
	SoldPrice:       []string{"soldPriceCents", "soldPrice.amountInCents", "soldPrice"},
	SoldAt:          []string{"soldAt", "sold_at", "auction.endsAt", "endsAt"},
	PriceUnit:       "minor",
	DefaultCurrency: "USD",
}

// NewFieldMap overlays a source's configured paths on DefaultFieldMap.
func NewFieldMap(src *config.SourceConfig) FieldMap {
	fm := DefaultFieldMap
	if src == nil {
		return fm
	}
	f := src.Fields
	override := func(dst *[]string, v []string) {
		if len(v) > 0 {
			*dst = v
		}
	}
	override(&fm.ID, f.ID)
	override(&fm.Title, f.Title)
	override(&fm.URL, f.URL)
	override(&fm.Price, f.Price)
	override(&fm.Currency, f.Currency)
	override(&fm.Status, f.Status)
	override(&fm.SoldPrice, f.SoldPrice)
	override(&fm.SoldAt, f.SoldAt)
	if src.PriceUnit != "" {
		fm.PriceUnit = src.PriceUnit
	}
	if src.Currency != "" {
		fm.DefaultCurrency = strings.ToUpper(src.Currency)
	}
	return fm
}

var (
	currencyCodeRegex = regexp.MustCompile(`\b[A-Z]{3}\b`)
	amountRegex       = regexp.MustCompile(`-?[\d.,]+`)
	// Checked in order; the first symbol present wins.
	currencySymbols = []struct{ symbol, code string }{
		{"$", "USD"}, {"€", "EUR"}, {"£", "GBP"}, {"¥", "JPY"},
	}
)

// Lookup walks a dotted path through nested maps and slices.
func Lookup(raw map[string]any, path string) (any, bool) {
	var cur any = raw
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case models.RawListing:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// firstString returns the first candidate path that resolves to a non-empty scalar.
func firstString(raw map[string]any, paths []string) string {
	for _, p := range paths {
		v, ok := Lookup(raw, p)
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

// firstAmount returns the first candidate path that parses as an amount.
func firstAmount(raw map[string]any, paths []string) (float64, string, bool) {
	for _, p := range paths {
		v, ok := Lookup(raw, p)
		if !ok {
			continue
		}
		if amt, cur, ok := parseAmount(v); ok {
			return amt, cur, true
		}
	}
	return 0, "", false
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// parseAmount accepts numbers and price strings like "$1,234.56" or "1.234,56 EUR".
// The second return is a currency hint found in the string, if any.
func parseAmount(v any) (float64, string, bool) {
	switch t := v.(type) {
	case float64:
		return t, "", isFinite(t)
	case float32:
		return float64(t), "", isFinite(float64(t))
	case int:
		return float64(t), "", true
	case int64:
		return float64(t), "", true
	case json.Number:
		f, err := t.Float64()
		return f, "", err == nil && isFinite(f)
	case string:
		return parseAmountString(t)
	}
	return 0, "", false
}

func parseAmountString(s string) (float64, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", false
	}

	hint := ""
	for _, cs := range currencySymbols {
		if strings.Contains(s, cs.symbol) {
			hint = cs.code
			break
		}
	}
	if hint == "" {
		hint = currencyCodeRegex.FindString(s)
	}

	num := amountRegex.FindString(s)
	if num == "" || num == "-" {
		return 0, hint, false
	}

	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastComma >= 0:
		if len(num)-lastComma-1 == 2 && strings.Count(num, ",") == 1 {
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil || !isFinite(f) {
		return 0, hint, false
	}
	return f, hint, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// toMinorUnits converts an amount in the given unit. Negative, non-finite and
// out-of-range amounts are rejected.
func toMinorUnits(amount float64, unit string) *int64 {
	if !isFinite(amount) || amount < 0 {
		return nil
	}
	if unit == "major" {
		amount *= 100
	}
	amount = math.Round(amount)
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if amount >= math.MaxInt64 {
		return nil
	}
	v := int64(amount)
	return &v
}

var statusTable = map[string]models.Status{
	"active":    models.StatusActive,
	"live":      models.StatusActive,
	"open":      models.StatusActive,
	"bidding":   models.StatusActive,
	"available": models.StatusActive,
	"for_sale":  models.StatusActive,
	"listed":    models.StatusActive,
	"sold":      models.StatusSold,
	"completed": models.StatusSold,
	"purchased": models.StatusSold,
	"ended":     models.StatusEnded,
	"closed":    models.StatusEnded,
	"expired":   models.StatusEnded,
	"unsold":    models.StatusEnded,
	"cancelled": models.StatusEnded,
	"canceled":  models.StatusEnded,
	"withdrawn": models.StatusEnded,
}

// ClassifyStatus maps a free-form source status string to a coarse lifecycle state.
func ClassifyStatus(s string) models.Status {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if st, ok := statusTable[key]; ok {
		return st
	}
	return models.StatusUnknown
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts RFC3339-ish strings and epoch seconds or milliseconds.
func parseTime(v any) *time.Time {
	if f, _, ok := parseAmount(v); ok {
		if _, isString := v.(string); !isString || isDigits(v.(string)) {
			return epochTime(f)
		}
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func epochTime(f float64) *time.Time {
	if f <= 0 {
		return nil
	}
	var t time.Time
	if f > 1e12 {
		t = time.UnixMilli(int64(f)).UTC()
	} else {
		t = time.Unix(int64(f), 0).UTC()
	}
	return &t
}

func isDigits(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func firstTime(raw map[string]any, paths []string) *time.Time {
	for _, p := range paths {
		v, ok := Lookup(raw, p)
		if !ok {
			continue
		}
		if t := parseTime(v); t != nil {
			return t
		}
	}
	return nil
}
