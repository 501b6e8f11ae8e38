package services

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"tcg_scrooper/models"
)

// Reporter renders summaries as terminal tables.
type Reporter struct {
	out io.Writer
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

func (r *Reporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

// Render prints the overview, the top listings and the breakdowns.
func (r *Reporter) Render(s models.Summary) {
	overview := r.newTable("Overview")
	overview.AppendHeader(table.Row{"Metric", "Value"})
	overview.AppendRows([]table.Row{
		{"Listings", s.Total},
		{"Active", s.ByStatus[models.StatusActive]},
		{"Sold", s.ByStatus[models.StatusSold]},
		{"Ended", s.ByStatus[models.StatusEnded]},
		{"Unknown status", s.ByStatus[models.StatusUnknown]},
		{"Priced", s.PriceCount},
		{"Active mean", formatMean(s.ActiveMean)},
		{"Sold mean", formatMean(s.SoldMean)},
		{"Trend", formatTrend(s.Trend, s.TrendDelta)},
	})
	overview.Render()

	if len(s.TopByPrice) > 0 {
		top := r.newTable(fmt.Sprintf("Top %d by price", len(s.TopByPrice)))
		top.AppendHeader(table.Row{"#", "Title", "Source", "Grade", "Price"})
		for i, l := range s.TopByPrice {
			top.AppendRow(table.Row{i + 1, truncate(l.Title, 48), l.Source, formatGrade(l.Normalized), FormatMinor(*l.PriceMinorUnits, l.Currency)})
		}
		top.Render()
	}

	r.renderBreakdown("By source", s.BySource)
	r.renderBreakdown("By grading service", s.ByGradingService)
	r.renderBreakdown("By set", s.BySet)
	r.renderBreakdown("By language", s.ByLanguage)
}

func (r *Reporter) renderBreakdown(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	t := r.newTable(title)
	t.AppendHeader(table.Row{"Key", "Count"})
	for _, k := range keys {
		t.AppendRow(table.Row{k, counts[k]})
	}
	t.Render()
}

// FormatMinor renders minor units as a decimal amount with its currency code.
func FormatMinor(v int64, currency string) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, v/100, v%100, currency)
}

func formatMean(m *float64) string {
	if m == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *m/100)
}

func formatTrend(t models.Trend, delta *float64) string {
	if delta == nil {
		return string(t)
	}
	return fmt.Sprintf("%s (%+.1f%%)", t, *delta*100)
}

func formatGrade(a models.Attributes) string {
	if a.Grade == nil {
		return "raw"
	}
	if a.GradingService != nil {
		return *a.GradingService + " " + *a.Grade
	}
	return *a.Grade
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
