package services

import (
	"strings"
	"sync"

	"tcg_scrooper/models"
)

// DedupPolicy decides what happens when a source_id shows up twice in one run.
type DedupPolicy string

const (
	// FirstWins keeps the first record and discards later ones.
	FirstWins DedupPolicy = "first_wins"
	// LastWins replaces the stored record in place, so re-scraped prices win.
	LastWins DedupPolicy = "last_wins"
)

// ParseDedupPolicy falls back to FirstWins for anything it does not recognize.
func ParseDedupPolicy(s string) DedupPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(LastWins), "last", "latest":
		return LastWins
	}
	return FirstWins
}

// DedupStore holds the seen source_ids for one run. It is the only shared mutable
// state in the pipeline, so every method takes the lock.
type DedupStore struct {
	mu         sync.Mutex
	policy     DedupPolicy
	index      map[string]int // source_id -> position in listings
	preloaded  map[string]bool
	listings   []models.Listing
	duplicates int
}

func NewDedupStore(policy DedupPolicy) *DedupStore {
	if policy == "" {
		policy = FirstWins
	}
	return &DedupStore{
		policy:    policy,
		index:     make(map[string]int),
		preloaded: make(map[string]bool),
	}
}

func (d *DedupStore) Policy() DedupPolicy { return d.policy }

// Preload marks ids from an earlier run as already seen.
func (d *DedupStore) Preload(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			d.preloaded[id] = true
		}
	}
}

// AddIfNew records the listing the first time its source_id is seen and reports
// whether it did. Later occurrences are discarded regardless of policy.
func (d *DedupStore) AddIfNew(l models.Listing) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seenLocked(l.SourceID) {
		d.duplicates++
		return false
	}
	d.index[l.SourceID] = len(d.listings)
	d.listings = append(d.listings, l)
	return true
}

// Put applies the store's policy. It returns true only when the id was never seen
// before, in this run or in preloaded ids.
func (d *DedupStore) Put(l models.Listing) bool {
	if d.policy != LastWins {
		return d.AddIfNew(l)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.index[l.SourceID]; ok {
		d.listings[i] = l
		d.duplicates++
		return false
	}
	d.index[l.SourceID] = len(d.listings)
	d.listings = append(d.listings, l)
	return !d.preloaded[l.SourceID]
}

func (d *DedupStore) seenLocked(id string) bool {
	if _, ok := d.index[id]; ok {
		return true
	}
	return d.preloaded[id]
}

// Seen reports whether id was recorded or preloaded.
func (d *DedupStore) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seenLocked(id)
}

// Listings returns the kept records in order of first appearance.
func (d *DedupStore) Listings() []models.Listing {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Listing, len(d.listings))
	copy(out, d.listings)
	return out
}

// IDs returns the kept source_ids in order of first appearance.
func (d *DedupStore) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, len(d.listings))
	for i, l := range d.listings {
		ids[i] = l.SourceID
	}
	return ids
}

func (d *DedupStore) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listings)
}

// Duplicates counts records that collided with an already seen id.
func (d *DedupStore) Duplicates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duplicates
}

// Dedupe keeps the first record for each source_id.
func Dedupe(records []models.Listing) []models.Listing {
	return DedupeWithPolicy(records, FirstWins)
}

// DedupeWithPolicy keeps one record per source_id, positioned at its first appearance.
func DedupeWithPolicy(records []models.Listing, policy DedupPolicy) []models.Listing {
	store := NewDedupStore(policy)
	for _, r := range records {
		store.Put(r)
	}
	return store.Listings()
}
