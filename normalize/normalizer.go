package normalize

import (
	"strings"
	"sync"

	"tcg_scrooper/identity"
	"tcg_scrooper/models"
)

// Normalizer turns raw source records into canonical listings.
// Normalize is pure; Register is the only mutation and is safe to call concurrently.
type Normalizer struct {
	rules *Rules

	mu     sync.RWMutex
	fields map[string]FieldMap
}

func New(rules *Rules) *Normalizer {
	if rules == nil {
		rules = MustDefaultRules()
	}
	return &Normalizer{
		rules:  rules,
		fields: make(map[string]FieldMap),
	}
}

// Register sets the field map used for a source. Unregistered sources use DefaultFieldMap.
func (n *Normalizer) Register(source string, fm FieldMap) {
	n.mu.Lock()
	n.fields[identity.SourceKey(source)] = fm
	n.mu.Unlock()
}

func (n *Normalizer) fieldMap(source string) FieldMap {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if fm, ok := n.fields[identity.SourceKey(source)]; ok {
		return fm
	}
	return DefaultFieldMap
}

// Rules returns the compiled rule table in use.
func (n *Normalizer) Rules() *Rules { return n.rules }

// Normalize maps one raw record into a Listing. It never fails: anything it cannot
// find or parse is left nil.
func (n *Normalizer) Normalize(raw models.RawListing, source string) models.Listing {
	fm := n.fieldMap(source)
	m := map[string]any(raw)

	title := firstString(m, fm.Title)
	externalID := firstString(m, fm.ID)
	url := firstString(m, fm.URL)

	var price *int64
	currency := ""
	if amt, hint, ok := firstAmount(m, fm.Price); ok {
		price = toMinorUnits(amt, fm.PriceUnit)
		currency = hint
	}
	if c := firstString(m, fm.Currency); c != "" {
		currency = c
	}
	if currency == "" {
		currency = fm.DefaultCurrency
	}
	if currency == "" {
		currency = "USD"
	}

	l := models.Listing{
		SourceID:        identity.SourceID(source, externalID, title, url, price),
		Source:          identity.SourceKey(source),
		ExternalID:      externalID,
		Title:           title,
		URL:             url,
		PriceMinorUnits: price,
		Currency:        strings.ToUpper(currency),
		Status:          ClassifyStatus(firstString(m, fm.Status)),
		Normalized:      n.rules.ParseTitle(title),
	}

	if l.Status == models.StatusSold {
		if amt, _, ok := firstAmount(m, fm.SoldPrice); ok {
			l.SoldPriceMinorUnits = toMinorUnits(amt, fm.PriceUnit)
		}
		// A completed auction's final bid is its realized price.
		if l.SoldPriceMinorUnits == nil && price != nil {
			v := *price
			l.SoldPriceMinorUnits = &v
		}
		l.SoldAt = firstTime(m, fm.SoldAt)
	}

	return l
}

// NormalizeAll normalizes a batch from one source, preserving order.
func (n *Normalizer) NormalizeAll(raws []models.RawListing, source string) []models.Listing {
	out := make([]models.Listing, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.Normalize(raw, source))
	}
	return out
}
