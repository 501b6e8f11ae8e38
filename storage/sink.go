package storage

import (
	"context"

	"tcg_scrooper/models"
)

// UpsertResult reports what a sink did with one listing.
type UpsertResult struct {
	IsNew         bool
	PriceChanged  bool
	StatusChanged bool
	PreviousPrice *int64
}

// ListingSink is anywhere canonical listings are persisted.
type ListingSink interface {
	Name() string
	UpsertListing(ctx context.Context, l *models.Listing, runUUID string) (*UpsertResult, error)
}

func sameInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
