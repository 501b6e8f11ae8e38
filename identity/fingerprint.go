package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"tcg_scrooper/models"
)

var (
	// Applied in order.
	nameReplacements = []struct{ full, abbrev string }{
		{"pokémon", "pokemon"},
		{"&", " and "},
		{"holographic", "holo"},
		{"reverse", "rev"},
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// SourceKey is the canonical form of a source name as stored on listings.
func SourceKey(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}

// SourceID builds the dedup key for a listing. When the source has no native id,
// a stable hash of title, url and price stands in for it.
func SourceID(source, externalID, title, url string, price *int64) string {
	source = SourceKey(source)
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		p := "nil"
		if price != nil {
			p = fmt.Sprintf("%d", *price)
		}
		externalID = stableHash(strings.TrimSpace(title), strings.TrimSpace(url), p)
	}
	return source + ":" + externalID
}

// CardKey groups listings of the same physical card across sources.
func CardKey(a models.Attributes) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		strings.ToLower(deref(a.Set)),
		strings.ToLower(strings.TrimLeft(deref(a.Number), "0")),
		strings.ToLower(deref(a.GradingService)),
		deref(a.Grade),
		strings.ToLower(a.Language),
		strings.ToLower(deref(a.Edition)),
	)
	return stableHash(input)
}

// NormalizeName lowercases a card name and strips punctuation for fuzzy comparison.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range nameReplacements {
		name = strings.ReplaceAll(name, r.full, r.abbrev)
	}
	name = nonAlnumRegex.ReplaceAllString(name, " ")
	name = multiSpaceRegex.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

func stableHash(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:16])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
