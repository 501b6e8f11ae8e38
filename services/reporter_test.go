package services

import (
	"bytes"
	"strings"
	"testing"

	"tcg_scrooper/models"
)

func TestReporter_Render(t *testing.T) {
	records := []models.Listing{
		{SourceID: "a", Source: "fanatics", Title: "Charizard PSA 10", Currency: "USD", Status: models.StatusActive, PriceMinorUnits: int64Ptr(123456),
			Normalized: models.Attributes{Grade: strPtr("10"), GradingService: strPtr("PSA"), Language: "English"}},
		{SourceID: "b", Source: "ebay", Title: "Pikachu", Currency: "USD", Status: models.StatusSold, SoldPriceMinorUnits: int64Ptr(500)},
	}

	var buf bytes.Buffer
	NewReporter(&buf).Render(Summarize(records, 5))
	out := buf.String()

	for _, want := range []string{"Charizard PSA 10", "1234.56 USD", "PSA 10", "fanatics", "ebay"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestFormatMinor(t *testing.T) {
	cases := map[int64]string{
		0:      "0.00 USD",
		5:      "0.05 USD",
		123456: "1234.56 USD",
		-250:   "-2.50 USD",
	}
	for in, want := range cases {
		if got := FormatMinor(in, "USD"); got != want {
			t.Errorf("FormatMinor(%d): got %q, want %q", in, got, want)
		}
	}
}
