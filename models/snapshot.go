package models

import "time"

// Snapshot is the on-disk document written after a run and optionally re-loaded
// to seed cross-run deduplication.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	RunID       string    `json:"run_id,omitempty"`
	Sources     []string  `json:"sources,omitempty"`
	Listings    []Listing `json:"listings"`
	Summary     *Summary  `json:"summary,omitempty"`
}

// SourceIDs returns the dedup keys of every listing in the snapshot.
func (s *Snapshot) SourceIDs() []string {
	ids := make([]string, 0, len(s.Listings))
	for _, l := range s.Listings {
		ids = append(ids, l.SourceID)
	}
	return ids
}
