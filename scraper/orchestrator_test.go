package scraper

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tcg_scrooper/config"
	"tcg_scrooper/httputil"
	"tcg_scrooper/models"
	"tcg_scrooper/storage"
)

type memUploader struct {
	mu   sync.Mutex
	keys []string
}

func (u *memUploader) Upload(_ context.Context, key string, data io.Reader, _ string) error {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return err
	}
	u.mu.Lock()
	u.keys = append(u.keys, key)
	u.mu.Unlock()
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Scraper:     config.ScraperConfig{Concurrency: 2, TopN: 3},
		Dedup:       config.DedupConfig{Policy: "first_wins"},
		SnapshotDir: t.TempDir(),
		Sources: map[string]*config.SourceConfig{
			"alpha": {
				ID:        "alpha",
				Name:      "Alpha Auctions",
				Handler:   "file",
				ItemsPath: "data.results",
				PriceUnit: "minor",
				Targets:   map[string]config.Target{"all": {Path: "testdata/alpha/*.json"}},
			},
			"beta": {
				ID:        "beta",
				Name:      "Beta Market",
				Handler:   "file",
				PriceUnit: "major",
				Targets:   map[string]config.Target{"dump": {Path: "testdata/beta/*.json"}},
			},
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "scraper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	o, err := NewOrchestrator(cfg, store, httputil.NewClients(nil))
	require.NoError(t, err)
	return o, store
}

func TestOrchestrator_RunAll(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t, testConfig(t))
	up := &memUploader{}
	o.SetUploader(up)

	res, err := o.RunAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, res.Sources)
	require.Equal(t, 6, res.Found)
	require.Equal(t, 1, res.Duplicates)
	require.Len(t, res.Listings, 5)
	require.Equal(t, 0, res.Errors)
	require.Equal(t, 5, res.Stats.ListingsNew)
	require.Equal(t, 1, res.Matches)

	// first_wins keeps the earlier price for the duplicated id
	a1, err := store.GetListing("alpha:a-1")
	require.NoError(t, err)
	require.Equal(t, int64(250000), *a1.PriceMinorUnits)

	b77, err := store.GetListing("beta:b-77")
	require.NoError(t, err)
	require.Equal(t, int64(240000), *b77.PriceMinorUnits)
	require.Equal(t, "USD", b77.Currency)
	require.Equal(t, models.StatusActive, b77.Status)

	require.Equal(t, 5, res.Summary.Total)
	require.Equal(t, 2, res.Summary.ByStatus[models.StatusSold])
	require.Len(t, res.Summary.TopByPrice, 3)
	require.Equal(t, "alpha:a-1", res.Summary.TopByPrice[0].SourceID)

	snap, err := storage.LoadSnapshot(res.SnapshotPath)
	require.NoError(t, err)
	require.Len(t, snap.Listings, 5)
	require.Equal(t, res.RunUUID, snap.RunID)
	require.Equal(t, []string{filepath.Base(res.SnapshotPath)}, up.keys)

	matches, err := store.ListingMatches("pending")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "alpha:a-1", matches[0].LeftID)
	require.Equal(t, "beta:b-77", matches[0].RightID)

	run, err := store.GetRun(1)
	require.NoError(t, err)
	require.Equal(t, "alpha", run.SourceID)
	require.Equal(t, models.RunStatusCompleted, run.Status)
	require.Equal(t, 4, run.ListingsFound)
	require.Equal(t, 1, run.Duplicates)
	require.Equal(t, 3, run.ListingsNew)

	logs, err := store.RunLogs(run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	require.Contains(t, logs[len(logs)-1].Message, "Completed (completed)")
	require.Equal(t, "alpha", logs[0].SourceID)
}

func TestOrchestrator_SecondRunUpdates(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, testConfig(t))

	_, err := o.RunAll(ctx)
	require.NoError(t, err)

	res, err := o.RunAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Stats.ListingsNew)
	require.Equal(t, 5, res.Stats.ListingsUpdated)
	require.Equal(t, 0, res.Stats.PriceChanges)
}

func TestOrchestrator_PersistedDedupAcrossRuns(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Dedup.Persist = true
	o, _ := newTestOrchestrator(t, cfg)

	first, err := o.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, first.Listings, 5)

	second, err := o.RunAll(ctx)
	require.NoError(t, err)
	require.Empty(t, second.Listings)
	require.Equal(t, 6, second.Duplicates)
}

func TestOrchestrator_LastWinsWithPreload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Dedup.Policy = "last_wins"
	o, store := newTestOrchestrator(t, cfg)
	o.Preload([]string{"alpha:a-3"})

	res, err := o.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, res.Listings, 5)

	a1, err := store.GetListing("alpha:a-1")
	require.NoError(t, err)
	require.Equal(t, int64(260000), *a1.PriceMinorUnits)
}

func TestOrchestrator_RunSource(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))

	res, err := o.RunSource(context.Background(), "beta")
	require.NoError(t, err)
	require.Equal(t, []string{"beta"}, res.Sources)
	require.Len(t, res.Listings, 2)
	require.Equal(t, 0, res.Matches)

	_, err = o.RunSource(context.Background(), "gamma")
	require.Error(t, err)
}

func TestOrchestrator_FailedTargetMarksRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources["beta"].Targets["missing"] = config.Target{}
	o, store := newTestOrchestrator(t, cfg)

	res, err := o.RunSource(context.Background(), "beta")
	require.NoError(t, err)
	require.Equal(t, 1, res.Errors)
	require.Len(t, res.Listings, 2)

	run, err := store.GetRun(1)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusPartial, run.Status)
	require.Equal(t, 1, run.ErrorsCount)
}

func TestOrchestrator_Commands(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, testConfig(t))

	require.NoError(t, o.HandleCommand(ctx, &models.Command{Command: models.CmdPause}))
	require.True(t, o.IsPaused())

	res, err := o.RunAll(ctx)
	require.NoError(t, err)
	require.Nil(t, res)

	require.NoError(t, o.HandleCommand(ctx, &models.Command{Command: models.CmdResume}))
	require.False(t, o.IsPaused())

	require.Error(t, o.HandleCommand(ctx, &models.Command{Command: models.CmdExport}))
	exported := false
	o.SetExportTrigger(func() { exported = true })
	require.NoError(t, o.HandleCommand(ctx, &models.Command{Command: models.CmdExport}))
	require.True(t, exported)

	require.NoError(t, o.HandleCommand(ctx, &models.Command{
		Command: models.CmdScrapeSource,
		Params:  []byte(`{"source":"beta"}`),
	}))
	require.Error(t, o.HandleCommand(ctx, &models.Command{Command: "reboot"}))

	status, err := o.MarshalStatus()
	require.NoError(t, err)
	require.JSONEq(t, `{"paused":false,"sources":["alpha","beta"]}`, string(status))
}

func TestOrchestrator_MixedCaseSourceIDPersists(t *testing.T) {
	cfg := testConfig(t)
	beta := cfg.Sources["beta"]
	beta.ID = "Beta"
	delete(cfg.Sources, "beta")
	cfg.Sources["Beta"] = beta
	o, store := newTestOrchestrator(t, cfg)

	res, err := o.RunSource(context.Background(), "Beta")
	require.NoError(t, err)
	require.Len(t, res.Listings, 2)
	require.Equal(t, 2, res.Stats.ListingsNew)

	b77, err := store.GetListing("beta:b-77")
	require.NoError(t, err)
	require.Equal(t, "beta", b77.Source)

	run, err := store.GetRun(1)
	require.NoError(t, err)
	require.Equal(t, 2, run.ListingsNew)
}
