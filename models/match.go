package models

import (
	"encoding/json"
	"time"
)

// ListingMatch links two listings from different sources that look like the same card
type ListingMatch struct {
	ID           int64           `json:"id" db:"id"`
	LeftID       string          `json:"left_id" db:"left_id"`
	RightID      string          `json:"right_id" db:"right_id"`
	Confidence   float32         `json:"confidence" db:"confidence"`
	MatchReasons json.RawMessage `json:"match_reasons" db:"match_reasons"`
	Status       string          `json:"status" db:"status"` // pending, confirmed, rejected
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
