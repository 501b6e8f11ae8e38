package models

type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendUnknown Trend = "unknown"
)

// Summary is the folded view of one run's deduplicated listings.
type Summary struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`

	PriceCount int      `json:"price_count"`
	PriceSum   int64    `json:"price_sum"`
	ActiveMean *float64 `json:"active_mean"`

	SoldCount int      `json:"sold_count"`
	SoldSum   int64    `json:"sold_sum"`
	SoldMean  *float64 `json:"sold_mean"`

	TopByPrice []Listing `json:"top_by_price"`

	Trend      Trend    `json:"trend"`
	TrendDelta *float64 `json:"trend_delta"`

	BySource         map[string]int `json:"by_source"`
	ByGradingService map[string]int `json:"by_grading_service"`
	BySet            map[string]int `json:"by_set"`
	ByLanguage       map[string]int `json:"by_language"`
}
