package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tcg_scrooper/config"
	"tcg_scrooper/models"
)

// SupabaseStore mirrors listings into a Supabase table through PostgREST.
type SupabaseStore struct {
	table  string
	client *resty.Client
}

type supabaseListing struct {
	SourceID            string          `json:"source_id"`
	Source              string          `json:"source"`
	ExternalID          string          `json:"external_id"`
	Title               string          `json:"title"`
	URL                 string          `json:"url"`
	PriceMinorUnits     *int64          `json:"price_minor_units"`
	Currency            string          `json:"currency"`
	Status              models.Status   `json:"status"`
	SoldPriceMinorUnits *int64          `json:"sold_price_minor_units"`
	SoldAt              *time.Time      `json:"sold_at"`
	Normalized          json.RawMessage `json:"normalized"`
	LastRunUUID         string          `json:"last_run_uuid"`
	LastSyncedAt        time.Time       `json:"last_synced_at"`
}

type supabaseState struct {
	PriceMinorUnits *int64        `json:"price_minor_units"`
	Status          models.Status `json:"status"`
}

// NewSupabaseStore builds the mirror on base, or a fresh client when base is nil.
func NewSupabaseStore(cfg *config.SupabaseConfig, base *http.Client) *SupabaseStore {
	table := cfg.Table
	if table == "" {
		table = "listings"
	}
	client := resty.New()
	if base != nil {
		client = resty.NewWithClient(base)
	}
	client.SetBaseURL(cfg.URL).
		SetTimeout(30*time.Second).
		SetHeader("apikey", cfg.ServiceKey).
		SetAuthToken(cfg.ServiceKey).
		SetHeader("Content-Type", "application/json")

	return &SupabaseStore{table: table, client: client}
}

func (s *SupabaseStore) Name() string { return "supabase" }

func (s *SupabaseStore) UpsertListing(ctx context.Context, l *models.Listing, runUUID string) (*UpsertResult, error) {
	prev, err := s.getState(ctx, l.SourceID)
	if err != nil {
		return nil, err
	}

	normalized, err := json.Marshal(l.Normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized: %w", err)
	}

	row := supabaseListing{
		SourceID:            l.SourceID,
		Source:              l.Source,
		ExternalID:          l.ExternalID,
		Title:               l.Title,
		URL:                 l.URL,
		PriceMinorUnits:     l.PriceMinorUnits,
		Currency:            l.Currency,
		Status:              l.Status,
		SoldPriceMinorUnits: l.SoldPriceMinorUnits,
		SoldAt:              l.SoldAt,
		Normalized:          normalized,
		LastRunUUID:         runUUID,
		LastSyncedAt:        time.Now().UTC(),
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates").
		SetQueryParam("on_conflict", "source_id").
		SetBody([]supabaseListing{row}).
		Post("/rest/v1/" + s.table)
	if err != nil {
		return nil, fmt.Errorf("supabase upsert: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("supabase error %d: %s", resp.StatusCode(), resp.String())
	}

	if prev == nil {
		return &UpsertResult{IsNew: true}, nil
	}
	return &UpsertResult{
		PriceChanged:  !sameInt64(prev.PriceMinorUnits, l.PriceMinorUnits),
		StatusChanged: prev.Status != l.Status,
		PreviousPrice: prev.PriceMinorUnits,
	}, nil
}

func (s *SupabaseStore) getState(ctx context.Context, sourceID string) (*supabaseState, error) {
	var rows []supabaseState
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select":    "price_minor_units,status",
			"source_id": "eq." + sourceID,
		}).
		SetResult(&rows).
		Get("/rest/v1/" + s.table)
	if err != nil {
		return nil, fmt.Errorf("supabase lookup: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("supabase error %d: %s", resp.StatusCode(), resp.String())
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
