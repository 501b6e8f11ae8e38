package services

import (
	"sort"

	"tcg_scrooper/models"
)

// DefaultTopN is used when Summarize is asked for a non-positive top-N.
const DefaultTopN = 5

// Summarize folds deduplicated listings into run statistics. It has no side effects
// and an empty input yields zero counts with nil means.
func Summarize(records []models.Listing, topN int) models.Summary {
	if topN <= 0 {
		topN = DefaultTopN
	}

	s := models.Summary{
		Total:            len(records),
		ByStatus:         make(map[models.Status]int),
		BySource:         make(map[string]int),
		ByGradingService: make(map[string]int),
		BySet:            make(map[string]int),
		ByLanguage:       make(map[string]int),
		Trend:            models.TrendUnknown,
	}

	priced := make([]models.Listing, 0, len(records))
	for _, l := range records {
		s.ByStatus[l.Status]++
		if l.Source != "" {
			s.BySource[l.Source]++
		}
		if l.Normalized.GradingService != nil {
			s.ByGradingService[*l.Normalized.GradingService]++
		}
		if l.Normalized.Set != nil {
			s.BySet[*l.Normalized.Set]++
		}
		if l.Normalized.Language != "" {
			s.ByLanguage[l.Normalized.Language]++
		}

		if l.HasPrice() {
			s.PriceCount++
			s.PriceSum += *l.PriceMinorUnits
			priced = append(priced, l)
		}
		if l.HasSoldPrice() {
			s.SoldCount++
			s.SoldSum += *l.SoldPriceMinorUnits
		}
	}

	s.ActiveMean = mean(s.PriceSum, s.PriceCount)
	s.SoldMean = mean(s.SoldSum, s.SoldCount)

	sort.SliceStable(priced, func(i, j int) bool {
		return *priced[i].PriceMinorUnits > *priced[j].PriceMinorUnits
	})
	if len(priced) > topN {
		priced = priced[:topN]
	}
	s.TopByPrice = priced

	s.Trend, s.TrendDelta = trend(s.ActiveMean, s.SoldMean)
	return s
}

func mean(sum int64, count int) *float64 {
	if count == 0 {
		return nil
	}
	m := float64(sum) / float64(count)
	return &m
}

// trend compares asking prices against realized prices. Equal means carry no direction.
func trend(active, sold *float64) (models.Trend, *float64) {
	if active == nil || sold == nil || *sold <= 0 {
		return models.TrendUnknown, nil
	}
	delta := (*active - *sold) / *sold
	switch {
	case delta > 0:
		return models.TrendRising, &delta
	case delta < 0:
		return models.TrendFalling, &delta
	}
	return models.TrendUnknown, &delta
}
