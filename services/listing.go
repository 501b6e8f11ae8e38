package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"tcg_scrooper/models"
	"tcg_scrooper/storage"
)

// ListingService handles the fan-out of canonical listings to every configured sink.
// The first sink is primary: its answer decides new vs updated, and its errors fail
// the listing. Errors from the rest are logged and counted.
type ListingService struct {
	sinks []storage.ListingSink
}

// NewListingService creates a new ListingService
func NewListingService(primary storage.ListingSink, secondary ...storage.ListingSink) *ListingService {
	sinks := []storage.ListingSink{primary}
	for _, s := range secondary {
		if s != nil {
			sinks = append(sinks, s)
		}
	}
	return &ListingService{sinks: sinks}
}

// Sinks returns the configured sink names in fan-out order.
func (s *ListingService) Sinks() []string {
	names := make([]string, len(s.sinks))
	for i, sink := range s.sinks {
		names[i] = sink.Name()
	}
	return names
}

// ProcessResult contains the outcome of processing a listing
type ProcessResult struct {
	SourceID      string
	IsNewListing  bool
	PriceChanged  bool
	StatusChanged bool
	SinkErrors    int
}

// ProcessListing writes one listing to all sinks. Safe to call repeatedly for the same listing.
func (s *ListingService) ProcessListing(ctx context.Context, l *models.Listing, runUUID string) (*ProcessResult, error) {
	result := &ProcessResult{SourceID: l.SourceID}

	for i, sink := range s.sinks {
		res, err := sink.UpsertListing(ctx, l, runUUID)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("%s upsert %s: %w", sink.Name(), l.SourceID, err)
			}
			log.Printf("Warning: %s upsert %s failed: %v", sink.Name(), l.SourceID, err)
			result.SinkErrors++
			continue
		}
		if i == 0 {
			result.IsNewListing = res.IsNew
			result.PriceChanged = res.PriceChanged
			result.StatusChanged = res.StatusChanged
		}
	}

	return result, nil
}

// ProcessAll writes a batch and aggregates the outcome. A failing listing is counted
// and skipped; only context cancellation stops the batch early.
func (s *ListingService) ProcessAll(ctx context.Context, listings []models.Listing, runUUID string) (*ProcessStats, error) {
	stats := &ProcessStats{}
	for i := range listings {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		res, err := s.ProcessListing(ctx, &listings[i], runUUID)
		if err != nil {
			log.Printf("Warning: %v", err)
			stats.Errors++
			continue
		}
		stats.Aggregate(res)
	}
	return stats, nil
}

// ProcessStats tracks aggregate statistics for a scrape run
type ProcessStats struct {
	ListingsProcessed int
	ListingsNew       int
	ListingsUpdated   int
	PriceChanges      int
	StatusChanges     int
	SinkErrors        int
	Errors            int
}

// Aggregate adds a ProcessResult to the stats
func (s *ProcessStats) Aggregate(r *ProcessResult) {
	s.ListingsProcessed++
	if r.IsNewListing {
		s.ListingsNew++
	} else {
		s.ListingsUpdated++
	}
	if r.PriceChanged {
		s.PriceChanges++
	}
	if r.StatusChanged {
		s.StatusChanges++
	}
	s.SinkErrors += r.SinkErrors
}

// Merge folds another run's stats into s.
func (s *ProcessStats) Merge(o *ProcessStats) {
	if o == nil {
		return
	}
	s.ListingsProcessed += o.ListingsProcessed
	s.ListingsNew += o.ListingsNew
	s.ListingsUpdated += o.ListingsUpdated
	s.PriceChanges += o.PriceChanges
	s.StatusChanges += o.StatusChanges
	s.SinkErrors += o.SinkErrors
	s.Errors += o.Errors
}

// ToJSON returns JSON-serializable metadata
func (s *ProcessStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(map[string]int{
		"listings_processed": s.ListingsProcessed,
		"listings_new":       s.ListingsNew,
		"listings_updated":   s.ListingsUpdated,
		"price_changes":      s.PriceChanges,
		"status_changes":     s.StatusChanges,
		"sink_errors":        s.SinkErrors,
		"errors":             s.Errors,
	})
	return data
}
