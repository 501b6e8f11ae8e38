package services

import (
	"fmt"
	"sync"
	"testing"

	"tcg_scrooper/models"
)

func int64Ptr(v int64) *int64 { return &v }

func listing(id string, price int64) models.Listing {
	return models.Listing{SourceID: id, Source: "test", Title: id, PriceMinorUnits: int64Ptr(price), Status: models.StatusActive}
}

func TestDedupe_FirstWins(t *testing.T) {
	out := Dedupe([]models.Listing{listing("a", 100), listing("b", 50), listing("a", 200)})
	if len(out) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(out))
	}
	if out[0].SourceID != "a" || *out[0].PriceMinorUnits != 100 {
		t.Fatalf("expected first-encountered a@100, got %s@%d", out[0].SourceID, *out[0].PriceMinorUnits)
	}
	if out[1].SourceID != "b" {
		t.Fatalf("expected b second, got %s", out[1].SourceID)
	}
}

func TestDedupeWithPolicy_LastWinsKeepsPosition(t *testing.T) {
	out := DedupeWithPolicy([]models.Listing{listing("a", 100), listing("b", 50), listing("a", 200)}, LastWins)
	if len(out) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(out))
	}
	if out[0].SourceID != "a" || *out[0].PriceMinorUnits != 200 {
		t.Fatalf("expected a@200 at position 0, got %s@%d", out[0].SourceID, *out[0].PriceMinorUnits)
	}
}

func TestDedupStore_AddIfNew(t *testing.T) {
	d := NewDedupStore(FirstWins)
	if !d.AddIfNew(listing("x", 1)) {
		t.Fatalf("expected first add to succeed")
	}
	if d.AddIfNew(listing("x", 2)) {
		t.Fatalf("expected second add to be rejected")
	}
	if d.Len() != 1 || d.Duplicates() != 1 {
		t.Fatalf("expected len 1 and 1 duplicate, got %d and %d", d.Len(), d.Duplicates())
	}
	if !d.Seen("x") || d.Seen("y") {
		t.Fatalf("unexpected Seen results")
	}
}

func TestDedupStore_Preload(t *testing.T) {
	first := NewDedupStore(FirstWins)
	first.Preload([]string{"old"})
	if first.Put(listing("old", 1)) {
		t.Fatalf("expected preloaded id to be rejected under first_wins")
	}
	if first.Len() != 0 {
		t.Fatalf("expected nothing kept, got %d", first.Len())
	}

	last := NewDedupStore(LastWins)
	last.Preload([]string{"old"})
	if last.Put(listing("old", 1)) {
		t.Fatalf("expected preloaded id to count as an update, not new")
	}
	if last.Len() != 1 {
		t.Fatalf("expected update to be kept under last_wins, got %d", last.Len())
	}
}

func TestDedupStore_ConcurrentProducers(t *testing.T) {
	d := NewDedupStore(FirstWins)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if d.AddIfNew(listing(fmt.Sprintf("id-%d", i), int64(i))) {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if accepted != 100 || d.Len() != 100 {
		t.Fatalf("expected 100 accepted, got %d (len %d)", accepted, d.Len())
	}
	if d.Duplicates() != 700 {
		t.Fatalf("expected 700 duplicates, got %d", d.Duplicates())
	}
}

func TestParseDedupPolicy(t *testing.T) {
	if ParseDedupPolicy("LAST_WINS") != LastWins {
		t.Fatalf("expected last_wins")
	}
	if ParseDedupPolicy("bogus") != FirstWins {
		t.Fatalf("expected unknown policy to fall back to first_wins")
	}
}
