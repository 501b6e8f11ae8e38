package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tcg_scrooper/config"
	"tcg_scrooper/models"
)

// fakePostgREST keeps rows keyed by source_id and honours the two calls the store makes.
type fakePostgREST struct {
	mu   sync.Mutex
	rows map[string]map[string]any
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("apikey") != "secret" || r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		id := r.URL.Query().Get("source_id")[len("eq."):]
		out := []map[string]any{}
		if row, ok := f.rows[id]; ok {
			out = append(out, map[string]any{"price_minor_units": row["price_minor_units"], "status": row["status"]})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	case http.MethodPost:
		if r.URL.Query().Get("on_conflict") != "source_id" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var rows []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, row := range rows {
			f.rows[row["source_id"].(string)] = row
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func TestSupabaseStore_UpsertListing(t *testing.T) {
	fake := &fakePostgREST{rows: map[string]map[string]any{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store := NewSupabaseStore(&config.SupabaseConfig{URL: srv.URL, ServiceKey: "secret"}, srv.Client())
	require.Equal(t, "supabase", store.Name())

	l := &models.Listing{
		SourceID:        "shop:1",
		Source:          "shop",
		ExternalID:      "1",
		Title:           "Pikachu",
		PriceMinorUnits: int64Ptr(500),
		Currency:        "USD",
		Status:          models.StatusActive,
	}

	res, err := store.UpsertListing(context.Background(), l, "run-1")
	require.NoError(t, err)
	require.True(t, res.IsNew)

	l.PriceMinorUnits = int64Ptr(650)
	res, err = store.UpsertListing(context.Background(), l, "run-2")
	require.NoError(t, err)
	require.False(t, res.IsNew)
	require.True(t, res.PriceChanged)
	require.False(t, res.StatusChanged)
	require.Equal(t, int64(500), *res.PreviousPrice)

	require.Equal(t, "run-2", fake.rows["shop:1"]["last_run_uuid"])
}

func TestSupabaseStore_ErrorStatus(t *testing.T) {
	fake := &fakePostgREST{rows: map[string]map[string]any{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store := NewSupabaseStore(&config.SupabaseConfig{URL: srv.URL, ServiceKey: "wrong"}, nil)
	_, err := store.UpsertListing(context.Background(), &models.Listing{SourceID: "shop:1"}, "run-1")
	require.Error(t, err)
}
