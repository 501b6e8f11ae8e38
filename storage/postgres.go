package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tcg_scrooper/identity"
	"tcg_scrooper/models"
)

// PostgresStore is the shared, long-lived listing sink. Unlike SQLite it keeps a
// price history row every time a listing's price moves.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id UUID PRIMARY KEY,
			source_id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			external_id TEXT,
			title TEXT,
			url TEXT,
			price_minor_units BIGINT,
			currency TEXT,
			status TEXT,
			sold_price_minor_units BIGINT,
			sold_at TIMESTAMPTZ,
			normalized JSONB,
			card_key TEXT,
			last_run_uuid TEXT,
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS price_points (
			id BIGSERIAL PRIMARY KEY,
			listing_id UUID NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
			price_type TEXT NOT NULL,
			amount_minor_units BIGINT NOT NULL,
			currency TEXT,
			effective_at TIMESTAMPTZ NOT NULL,
			run_uuid TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_card_key ON listings(card_key);
		CREATE INDEX IF NOT EXISTS idx_price_points_listing ON price_points(listing_id, effective_at);
	`)
	return err
}

// =============================================================================
// Listings
// =============================================================================

type pgListingState struct {
	id     uuid.UUID
	price  *int64
	status string
}

func (s *PostgresStore) getListingState(ctx context.Context, tx pgx.Tx, sourceID string) (*pgListingState, error) {
	var st pgListingState
	err := tx.QueryRow(ctx,
		`SELECT id, price_minor_units, status FROM listings WHERE source_id = $1 FOR UPDATE`, sourceID,
	).Scan(&st.id, &st.price, &st.status)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpsertListing writes the listing and appends price_points rows for new or changed prices.
func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing, runUUID string) (*UpsertResult, error) {
	normalized, err := json.Marshal(l.Normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	prev, err := s.getListingState(ctx, tx, l.SourceID)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}

	result := &UpsertResult{IsNew: prev == nil}
	id := uuid.New()
	if prev != nil {
		id = prev.id
		result.PreviousPrice = prev.price
		result.PriceChanged = !sameInt64(prev.price, l.PriceMinorUnits)
		result.StatusChanged = prev.status != string(l.Status)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO listings (
			id, source_id, source, external_id, title, url, price_minor_units, currency, status,
			sold_price_minor_units, sold_at, normalized, card_key, last_run_uuid
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (source_id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			price_minor_units = EXCLUDED.price_minor_units,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			sold_price_minor_units = COALESCE(EXCLUDED.sold_price_minor_units, listings.sold_price_minor_units),
			sold_at = COALESCE(EXCLUDED.sold_at, listings.sold_at),
			normalized = EXCLUDED.normalized,
			card_key = EXCLUDED.card_key,
			last_run_uuid = EXCLUDED.last_run_uuid,
			last_seen_at = NOW()`,
		id, l.SourceID, l.Source, l.ExternalID, l.Title, l.URL, l.PriceMinorUnits, l.Currency, string(l.Status),
		l.SoldPriceMinorUnits, l.SoldAt, normalized, identity.CardKey(l.Normalized), runUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert listing: %w", err)
	}

	now := time.Now()
	if l.PriceMinorUnits != nil && (result.IsNew || result.PriceChanged) {
		if err := s.insertPricePoint(ctx, tx, id, "asking", *l.PriceMinorUnits, l.Currency, now, runUUID); err != nil {
			return nil, err
		}
	}
	if l.HasSoldPrice() && (result.IsNew || result.StatusChanged) {
		effective := now
		if l.SoldAt != nil {
			effective = *l.SoldAt
		}
		if err := s.insertPricePoint(ctx, tx, id, "sold", *l.SoldPriceMinorUnits, l.Currency, effective, runUUID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) insertPricePoint(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, priceType string, amount int64, currency string, at time.Time, runUUID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO price_points (listing_id, price_type, amount_minor_units, currency, effective_at, run_uuid)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		listingID, priceType, amount, currency, at, runUUID)
	if err != nil {
		return fmt.Errorf("insert %s price point: %w", priceType, err)
	}
	return nil
}

// PricePoint is one observed price for a listing.
type PricePoint struct {
	PriceType   string
	Amount      int64
	Currency    string
	EffectiveAt time.Time
}

// PriceHistory returns the recorded prices for a listing, oldest first.
func (s *PostgresStore) PriceHistory(ctx context.Context, sourceID string) ([]PricePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pp.price_type, pp.amount_minor_units, COALESCE(pp.currency, ''), pp.effective_at
		FROM price_points pp
		JOIN listings l ON l.id = pp.listing_id
		WHERE l.source_id = $1
		ORDER BY pp.effective_at, pp.id`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.PriceType, &p.Amount, &p.Currency, &p.EffectiveAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
