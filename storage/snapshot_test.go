package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"tcg_scrooper/models"
)

func TestWriteAndLoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := &models.Snapshot{
		GeneratedAt: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
		RunID:       "run-1",
		Sources:     []string{"fanatics"},
		Listings: []models.Listing{
			{SourceID: "fanatics:1", Source: "fanatics", Title: "Mew", Currency: "USD", Status: models.StatusActive, PriceMinorUnits: int64Ptr(500)},
		},
	}

	path, err := WriteSnapshot(dir, snap)
	require.NoError(t, err)
	require.Equal(t, "listings-20240501T103000Z.json", filepath.Base(path))

	got, err := LoadSnapshot(path)
	require.NoError(t, err)
	if diff := cmp.Diff(snap.Listings, got.Listings); diff != "" {
		t.Fatalf("listings mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"fanatics:1"}, got.SourceIDs())

	latest, err := LatestSnapshot(dir)
	require.NoError(t, err)
	require.Equal(t, path, latest)
}

func TestLoadSnapshot_BareArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"source_id":"a:1","title":"x","status":"sold"}]`), 0644))

	snap, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.Len(t, snap.Listings, 1)
	require.Equal(t, models.StatusSold, snap.Listings[0].Status)
}

func TestLatestSnapshot_Empty(t *testing.T) {
	latest, err := LatestSnapshot(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, latest)
}

func TestObjectKeyAndPublicURL(t *testing.T) {
	require.Equal(t, "snapshots/a.json", ObjectKey("/snapshots/", "a.json"))
	require.Equal(t, "a.json", ObjectKey("", "/a.json"))

	cfg := S3Config{Bucket: "cards", Region: "us-east-1"}
	require.Equal(t, "https://cards.s3.us-east-1.amazonaws.com/snapshots/a.json", PublicURL(cfg, "snapshots/a.json"))

	cfg.Endpoint = "http://localhost:9000/"
	require.Equal(t, "http://localhost:9000/cards/a.json", PublicURL(cfg, "a.json"))
}
