package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tcg_scrooper/identity"
	"tcg_scrooper/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		source_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		external_id TEXT,
		title TEXT,
		url TEXT,
		price_minor_units INTEGER,
		currency TEXT,
		status TEXT,
		sold_price_minor_units INTEGER,
		sold_at DATETIME,
		normalized JSON,
		card_key TEXT,
		first_seen_at DATETIME,
		last_seen_at DATETIME,
		times_seen INTEGER DEFAULT 1,
		last_run_uuid TEXT
	);

	CREATE TABLE IF NOT EXISTS seen_ids (
		source_id TEXT PRIMARY KEY,
		first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		run_uuid TEXT,
		source_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_found INTEGER,
		listings_new INTEGER,
		listings_updated INTEGER,
		duplicates INTEGER,
		errors_count INTEGER
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source_id TEXT
	);

	CREATE TABLE IF NOT EXISTS listing_matches (
		id INTEGER PRIMARY KEY,
		left_id TEXT NOT NULL,
		right_id TEXT NOT NULL,
		confidence REAL,
		match_reasons JSON,
		status TEXT DEFAULT 'pending',
		reviewed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(left_id, right_id)
	);

	CREATE TABLE IF NOT EXISTS source_stats (
		source_id TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		total_listings INTEGER,
		success_rate REAL,
		avg_run_duration_sec INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_listings_source ON listings(source, last_seen_at);
	CREATE INDEX IF NOT EXISTS idx_listings_card_key ON listings(card_key);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_matches_status ON listing_matches(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Listings
// =============================================================================

// UpsertListing stores the latest view of a listing and reports how it changed.
func (s *SQLiteStore) UpsertListing(ctx context.Context, l *models.Listing, runUUID string) (*UpsertResult, error) {
	now := time.Now()
	result := &UpsertResult{}

	var prevPrice sql.NullInt64
	var prevStatus string
	err := s.db.QueryRowContext(ctx,
		`SELECT price_minor_units, status FROM listings WHERE source_id = ?`, l.SourceID,
	).Scan(&prevPrice, &prevStatus)
	switch {
	case err == sql.ErrNoRows:
		result.IsNew = true
	case err != nil:
		return nil, fmt.Errorf("get listing: %w", err)
	default:
		if prevPrice.Valid {
			p := prevPrice.Int64
			result.PreviousPrice = &p
		}
		result.PriceChanged = !sameInt64(result.PreviousPrice, l.PriceMinorUnits)
		result.StatusChanged = prevStatus != string(l.Status)
	}

	normalized, err := json.Marshal(l.Normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listings (source_id, source, external_id, title, url, price_minor_units, currency, status,
			sold_price_minor_units, sold_at, normalized, card_key, first_seen_at, last_seen_at, times_seen, last_run_uuid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			price_minor_units = excluded.price_minor_units,
			currency = excluded.currency,
			status = excluded.status,
			sold_price_minor_units = COALESCE(excluded.sold_price_minor_units, sold_price_minor_units),
			sold_at = COALESCE(excluded.sold_at, sold_at),
			normalized = excluded.normalized,
			card_key = excluded.card_key,
			last_seen_at = excluded.last_seen_at,
			times_seen = times_seen + 1,
			last_run_uuid = excluded.last_run_uuid`,
		l.SourceID, l.Source, l.ExternalID, l.Title, l.URL, l.PriceMinorUnits, l.Currency, l.Status,
		l.SoldPriceMinorUnits, l.SoldAt, string(normalized), identity.CardKey(l.Normalized), now, now, runUUID)
	if err != nil {
		return nil, fmt.Errorf("upsert listing: %w", err)
	}
	return result, nil
}

const listingColumns = `source_id, source, external_id, title, url, price_minor_units, currency, status,
	sold_price_minor_units, sold_at, normalized`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var externalID, url, normalized sql.NullString
	var price, soldPrice sql.NullInt64
	var soldAt sql.NullTime
	if err := row.Scan(&l.SourceID, &l.Source, &externalID, &l.Title, &url, &price, &l.Currency, &l.Status,
		&soldPrice, &soldAt, &normalized); err != nil {
		return nil, err
	}
	l.ExternalID = externalID.String
	l.URL = url.String
	if price.Valid {
		p := price.Int64
		l.PriceMinorUnits = &p
	}
	if soldPrice.Valid {
		p := soldPrice.Int64
		l.SoldPriceMinorUnits = &p
	}
	if soldAt.Valid {
		t := soldAt.Time.UTC()
		l.SoldAt = &t
	}
	if normalized.Valid && normalized.String != "" {
		if err := json.Unmarshal([]byte(normalized.String), &l.Normalized); err != nil {
			return nil, fmt.Errorf("decode attributes for %s: %w", l.SourceID, err)
		}
	}
	return &l, nil
}

func (s *SQLiteStore) GetListing(sourceID string) (*models.Listing, error) {
	row := s.db.QueryRow(`SELECT `+listingColumns+` FROM listings WHERE source_id = ?`, sourceID)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// AllListings returns every stored listing, optionally limited to one source.
func (s *SQLiteStore) AllListings(source string) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY first_seen_at, source_id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// ListingsByCardKey returns stored listings that look like the same card.
func (s *SQLiteStore) ListingsByCardKey(cardKey string) ([]models.Listing, error) {
	rows, err := s.db.Query(`SELECT `+listingColumns+` FROM listings WHERE card_key = ? ORDER BY source_id`, cardKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// =============================================================================
// Seen ids
// =============================================================================

func (s *SQLiteStore) MarkSeen(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO seen_ids (source_id, first_seen_at) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, id := range ids {
		if _, err := stmt.Exec(id, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("mark seen %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SeenIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT source_id FROM seen_ids ORDER BY first_seen_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// Runs, logs and stats
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (run_uuid, source_id, started_at, status, listings_found, listings_new,
			listings_updated, duplicates, errors_count)
		VALUES (?, ?, ?, ?, 0, 0, 0, 0, 0)`,
		run.RunUUID, run.SourceID, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET finished_at = ?, status = ?, listings_found = ?,
			listings_new = ?, listings_updated = ?, duplicates = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsFound, run.ListingsNew,
		run.ListingsUpdated, run.Duplicates, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) GetRun(id int64) (*models.ScrapeRun, error) {
	var run models.ScrapeRun
	var runUUID sql.NullString
	var finished sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, run_uuid, source_id, started_at, finished_at, status, listings_found, listings_new,
			listings_updated, duplicates, errors_count
		FROM scrape_runs WHERE id = ?`, id).Scan(
		&run.ID, &runUUID, &run.SourceID, &run.StartedAt, &finished, &run.Status, &run.ListingsFound,
		&run.ListingsNew, &run.ListingsUpdated, &run.Duplicates, &run.ErrorsCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.RunUUID = runUUID.String
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, sourceID string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, source_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, sourceID)
	return err
}

// RunLogs returns the journal for one run, oldest first.
func (s *SQLiteStore) RunLogs(runID int64) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, source_id
		FROM scrape_logs WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var run sql.NullInt64
		if err := rows.Scan(&l.ID, &run, &l.Timestamp, &l.Level, &l.Message, &l.SourceID); err != nil {
			return nil, err
		}
		if run.Valid {
			l.RunID = &run.Int64
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) UpdateSourceStats(sourceID string) error {
	_, err := s.db.Exec(`
		INSERT INTO source_stats (source_id, last_run_at, last_run_status, total_listings,
			success_rate, avg_run_duration_sec)
		SELECT
			?,
			(SELECT started_at FROM scrape_runs WHERE source_id = ? ORDER BY started_at DESC LIMIT 1),
			(SELECT status FROM scrape_runs WHERE source_id = ? ORDER BY started_at DESC LIMIT 1),
			(SELECT COUNT(*) FROM listings WHERE source = ?),
			(SELECT CAST(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS REAL) /
				NULLIF(COUNT(*), 0) FROM scrape_runs WHERE source_id = ?),
			(SELECT AVG(CAST((julianday(finished_at) - julianday(started_at)) * 86400 AS INTEGER))
				FROM scrape_runs WHERE source_id = ? AND finished_at IS NOT NULL)
		ON CONFLICT(source_id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			total_listings = excluded.total_listings,
			success_rate = excluded.success_rate,
			avg_run_duration_sec = excluded.avg_run_duration_sec`,
		sourceID, sourceID, sourceID, sourceID, sourceID, sourceID)
	return err
}

func (s *SQLiteStore) GetSourceStats(sourceID string) (*models.SourceStats, error) {
	var st models.SourceStats
	var lastRun sql.NullTime
	var status sql.NullString
	var total, avg sql.NullInt64
	var rate sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT source_id, last_run_at, last_run_status, total_listings, success_rate, avg_run_duration_sec
		FROM source_stats WHERE source_id = ?`, sourceID).Scan(
		&st.SourceID, &lastRun, &status, &total, &rate, &avg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		st.LastRunAt = &lastRun.Time
	}
	st.LastRunStatus = status.String
	st.TotalListings = int(total.Int64)
	st.SuccessRate = rate.Float64
	st.AvgRunDurationSec = int(avg.Int64)
	return &st, nil
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw any
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return 0, err
		}
		raw = string(data)
	}
	result, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`, cmd, raw, time.Now())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// =============================================================================
// Matches
// =============================================================================

// InsertListingMatch stores a candidate pair once; it reports whether a row was added.
func (s *SQLiteStore) InsertListingMatch(ctx context.Context, m *models.ListingMatch) (bool, error) {
	left, right := m.LeftID, m.RightID
	if right < left {
		left, right = right, left
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO listing_matches (left_id, right_id, confidence, match_reasons, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		left, right, m.Confidence, string(m.MatchReasons), m.Status, m.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) ListingMatches(status string) ([]models.ListingMatch, error) {
	query := `SELECT id, left_id, right_id, confidence, match_reasons, status, created_at FROM listing_matches`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY confidence DESC, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.ListingMatch
	for rows.Next() {
		var m models.ListingMatch
		var reasons sql.NullString
		if err := rows.Scan(&m.ID, &m.LeftID, &m.RightID, &m.Confidence, &reasons, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		if reasons.Valid {
			m.MatchReasons = json.RawMessage(reasons.String)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ResetAllData clears all SQLite operational tables
func (s *SQLiteStore) ResetAllData() error {
	tables := []string{
		"scrape_logs",
		"scrape_runs",
		"listing_matches",
		"listings",
		"seen_ids",
		"source_stats",
		"commands",
	}

	for _, table := range tables {
		_, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	return nil
}
