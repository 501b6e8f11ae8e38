package models

import "time"

// RawListing is whatever mapping a source handed us, already decoded from its wire format.
type RawListing map[string]any

type Status string

const (
	StatusActive  Status = "active"
	StatusSold    Status = "sold"
	StatusEnded   Status = "ended"
	StatusUnknown Status = "unknown"
)

// Attributes are the structured fields pulled out of a listing title.
// Everything except Name and Language is nil when not detected.
type Attributes struct {
	Name           string  `json:"name"`
	Set            *string `json:"set"`
	Number         *string `json:"number"`
	Grade          *string `json:"grade"`
	GradingService *string `json:"grading_service"`
	Condition      *string `json:"condition"`
	Language       string  `json:"language"`
	Edition        *string `json:"edition"`
	Year           *int    `json:"year"`
	Foil           bool    `json:"foil"`
}

// Listing is the canonical, normalized form of one marketplace item.
type Listing struct {
	SourceID            string     `json:"source_id" db:"source_id"` // <source>:<external id>
	Source              string     `json:"source" db:"source"`
	ExternalID          string     `json:"external_id" db:"external_id"`
	Title               string     `json:"title" db:"title"`
	URL                 string     `json:"url,omitempty" db:"url"`
	PriceMinorUnits     *int64     `json:"price_minor_units" db:"price_minor_units"`
	Currency            string     `json:"currency" db:"currency"`
	Status              Status     `json:"status" db:"status"`
	SoldPriceMinorUnits *int64     `json:"sold_price_minor_units" db:"sold_price_minor_units"`
	SoldAt              *time.Time `json:"sold_at" db:"sold_at"`
	Normalized          Attributes `json:"normalized" db:"normalized"`
}

// HasPrice reports whether the current price is known.
func (l *Listing) HasPrice() bool {
	return l.PriceMinorUnits != nil
}

// HasSoldPrice reports whether the listing sold and the realized price is known.
func (l *Listing) HasSoldPrice() bool {
	return l.Status == StatusSold && l.SoldPriceMinorUnits != nil
}
