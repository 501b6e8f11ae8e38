package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tcg_scrooper/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(s string) *string { return &s }

func TestSQLiteStore_UpsertListing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	l := &models.Listing{
		SourceID:        "fanatics:1",
		Source:          "fanatics",
		ExternalID:      "1",
		Title:           "Charizard PSA 10",
		PriceMinorUnits: int64Ptr(1000),
		Currency:        "USD",
		Status:          models.StatusActive,
		Normalized: models.Attributes{
			Name:           "Charizard",
			Grade:          strPtr("10"),
			GradingService: strPtr("PSA"),
			Language:       "English",
		},
	}

	res, err := store.UpsertListing(ctx, l, "run-1")
	require.NoError(t, err)
	require.True(t, res.IsNew)

	res, err = store.UpsertListing(ctx, l, "run-2")
	require.NoError(t, err)
	require.False(t, res.IsNew)
	require.False(t, res.PriceChanged)

	soldAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.PriceMinorUnits = int64Ptr(1200)
	l.Status = models.StatusSold
	l.SoldPriceMinorUnits = int64Ptr(1200)
	l.SoldAt = &soldAt
	res, err = store.UpsertListing(ctx, l, "run-3")
	require.NoError(t, err)
	require.True(t, res.PriceChanged)
	require.True(t, res.StatusChanged)
	require.Equal(t, int64(1000), *res.PreviousPrice)

	got, err := store.GetListing("fanatics:1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Charizard", got.Normalized.Name)
	require.Equal(t, "10", *got.Normalized.Grade)
	require.Equal(t, models.StatusSold, got.Status)
	require.Equal(t, int64(1200), *got.SoldPriceMinorUnits)
	require.True(t, got.SoldAt.Equal(soldAt))

	missing, err := store.GetListing("nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	all, err := store.AllListings("fanatics")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSQLiteStore_SeenIDs(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.MarkSeen([]string{"a:1", "a:2"}))
	require.NoError(t, store.MarkSeen([]string{"a:2", "b:1"}))

	ids, err := store.SeenIDs()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a:1", "a:2", "b:1"}, ids)
}

func TestSQLiteStore_RunsAndStats(t *testing.T) {
	store := newTestStore(t)

	run := &models.ScrapeRun{RunUUID: "u-1", SourceID: "fanatics", StartedAt: time.Now().Add(-time.Minute), Status: models.RunStatusRunning}
	id, err := store.CreateRun(run)
	require.NoError(t, err)

	finished := time.Now()
	run.ID = id
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.ListingsFound = 10
	run.ListingsNew = 7
	run.Duplicates = 3
	require.NoError(t, store.UpdateRun(run))

	got, err := store.GetRun(id)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusCompleted, got.Status)
	require.Equal(t, 3, got.Duplicates)

	require.NoError(t, store.Log(&id, models.LogLevelInfo, "done", "fanatics"))
	require.NoError(t, store.UpdateSourceStats("fanatics"))

	stats, err := store.GetSourceStats("fanatics")
	require.NoError(t, err)
	require.Equal(t, "completed", stats.LastRunStatus)
	require.Equal(t, 1.0, stats.SuccessRate)
}

func TestSQLiteStore_Commands(t *testing.T) {
	store := newTestStore(t)

	_, err := store.EnqueueCommand(models.CmdScrapeSource, &models.CommandParams{Source: "fanatics"})
	require.NoError(t, err)
	_, err = store.EnqueueCommand(models.CmdPause, nil)
	require.NoError(t, err)

	cmds, err := store.GetPendingCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, models.CmdScrapeSource, cmds[0].Command)

	params, err := ParseCommandParams(&cmds[0])
	require.NoError(t, err)
	require.Equal(t, "fanatics", params.Source)

	empty, err := ParseCommandParams(&cmds[1])
	require.NoError(t, err)
	require.Empty(t, empty.Source)

	require.NoError(t, store.MarkCommandProcessed(cmds[0].ID))
	cmds, err = store.GetPendingCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 1)
}

func TestSQLiteStore_InsertListingMatchIsSymmetric(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	reasons, _ := json.Marshal([]string{"same_number"})
	m := &models.ListingMatch{LeftID: "b:1", RightID: "a:1", Confidence: 0.8, MatchReasons: reasons, Status: "pending", CreatedAt: time.Now()}
	added, err := store.InsertListingMatch(ctx, m)
	require.NoError(t, err)
	require.True(t, added)

	m2 := &models.ListingMatch{LeftID: "a:1", RightID: "b:1", Confidence: 0.8, MatchReasons: reasons, Status: "pending", CreatedAt: time.Now()}
	added, err = store.InsertListingMatch(ctx, m2)
	require.NoError(t, err)
	require.False(t, added)

	matches, err := store.ListingMatches("pending")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "a:1", matches[0].LeftID)
}
