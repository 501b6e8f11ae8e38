package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"tcg_scrooper/identity"
	"tcg_scrooper/models"
)

// MinNameSimilarity is the Jaro-Winkler floor for two card names to be compared at all.
const MinNameSimilarity = 0.88

// MatchStore persists candidate pairs.
type MatchStore interface {
	InsertListingMatch(ctx context.Context, m *models.ListingMatch) (bool, error)
}

// MatchService pairs listings from different sources that look like the same card.
type MatchService struct {
	store MatchStore
}

// NewMatchService creates a MatchService. store may be nil when only FindMatches is used.
func NewMatchService(store MatchStore) *MatchService {
	return &MatchService{store: store}
}

// FindMatches scores every cross-source pair that shares a blocking key.
// Output order is deterministic: by confidence, then by ids.
func (s *MatchService) FindMatches(listings []models.Listing) []models.ListingMatch {
	buckets := make(map[string][]int)
	for i, l := range listings {
		key := blockingKey(l.Normalized)
		buckets[key] = append(buckets[key], i)
	}

	now := time.Now()
	var matches []models.ListingMatch
	for _, idx := range buckets {
		for i := 0; i < len(idx); i++ {
			for j := i + 1; j < len(idx); j++ {
				a, b := &listings[idx[i]], &listings[idx[j]]
				confidence, reasons, ok := scorePotentialMatch(a, b)
				if !ok {
					continue
				}
				left, right := a.SourceID, b.SourceID
				if right < left {
					left, right = right, left
				}
				reasonsJSON, _ := json.Marshal(reasons)
				matches = append(matches, models.ListingMatch{
					LeftID:       left,
					RightID:      right,
					Confidence:   float32(confidence),
					MatchReasons: reasonsJSON,
					Status:       "pending",
					CreatedAt:    now,
				})
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		if matches[i].LeftID != matches[j].LeftID {
			return matches[i].LeftID < matches[j].LeftID
		}
		return matches[i].RightID < matches[j].RightID
	})
	return matches
}

// InsertPotentialMatches finds and stores candidate pairs, returning how many were new.
func (s *MatchService) InsertPotentialMatches(ctx context.Context, listings []models.Listing) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	inserted := 0
	for _, m := range s.FindMatches(listings) {
		added, err := s.store.InsertListingMatch(ctx, &m)
		if err != nil {
			return inserted, fmt.Errorf("insert match %s/%s: %w", m.LeftID, m.RightID, err)
		}
		if added {
			inserted++
		}
	}
	return inserted, nil
}

// blockingKey limits comparisons to listings with the same card number, or the same
// set when the number is missing.
func blockingKey(a models.Attributes) string {
	if a.Number != nil {
		return "n:" + strings.ToLower(strings.TrimLeft(*a.Number, "0"))
	}
	if a.Set != nil {
		return "s:" + strings.ToLower(*a.Set)
	}
	return "name:" + firstToken(identity.NormalizeName(a.Name))
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}

// scorePotentialMatch calculates a confidence score for a potential match
func scorePotentialMatch(a, b *models.Listing) (float64, []string, bool) {
	if a.Source == b.Source || a.SourceID == b.SourceID {
		return 0, nil, false
	}

	na, nb := a.Normalized, b.Normalized
	if na.Name == "Unknown Card" || nb.Name == "Unknown Card" {
		return 0, nil, false
	}

	reasons := []string{}

	left, right := identity.NormalizeName(na.Name), identity.NormalizeName(nb.Name)
	similarity := matchr.JaroWinkler(left, right, false)
	if similarity < MinNameSimilarity {
		return 0, nil, false
	}
	if left == right {
		reasons = append(reasons, "same_name")
	} else {
		reasons = append(reasons, "similar_name")
	}

	// Conflicting identifying attributes rule a pair out.
	if conflicts(na.Number, nb.Number, func(s string) string { return strings.TrimLeft(s, "0") }) ||
		conflicts(na.GradingService, nb.GradingService, strings.ToUpper) ||
		conflicts(na.Grade, nb.Grade, nil) ||
		conflicts(na.Set, nb.Set, strings.ToLower) ||
		conflicts(na.Edition, nb.Edition, strings.ToLower) ||
		!strings.EqualFold(na.Language, nb.Language) {
		return 0, nil, false
	}
	if (na.Grade == nil) != (nb.Grade == nil) {
		return 0, nil, false
	}
	if na.Year != nil && nb.Year != nil && *na.Year != *nb.Year {
		return 0, nil, false
	}

	sameNumber := na.Number != nil && nb.Number != nil
	if sameNumber {
		reasons = append(reasons, "same_number")
	}
	sameGrade := na.Grade != nil && nb.Grade != nil
	if sameGrade {
		reasons = append(reasons, "same_grade")
	}
	sameSet := na.Set != nil && nb.Set != nil
	if sameSet {
		reasons = append(reasons, "same_set")
	}
	sameYear := na.Year != nil && nb.Year != nil
	if sameYear {
		reasons = append(reasons, "same_year")
	}
	if na.Edition != nil && nb.Edition != nil {
		reasons = append(reasons, "same_edition")
	}
	if na.Foil == nb.Foil {
		reasons = append(reasons, "same_foil")
	}

	if !sameNumber && !sameSet {
		return 0, nil, false
	}

	confidence := 0.6
	if sameNumber {
		confidence += 0.12
	}
	if sameGrade {
		confidence += 0.08
	}
	if sameSet {
		confidence += 0.06
	}
	if sameYear {
		confidence += 0.03
	}
	if left == right {
		confidence += 0.05
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return confidence, reasons, true
}

// conflicts reports whether both values are present and differ after norm.
func conflicts(a, b *string, norm func(string) string) bool {
	if a == nil || b == nil {
		return false
	}
	x, y := *a, *b
	if norm != nil {
		x, y = norm(x), norm(y)
	}
	return x != y
}
