package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"tcg_scrooper/config"
)

// DefaultRules is the built-in rule table. Order within each list is precedence:
// the first listed entry that matches wins.
var DefaultRules = config.RulesConfig{
	Languages:       []string{"Japanese", "Korean", "Italian", "German", "French"},
	DefaultLanguage: "English",
	Editions: []config.PatternRule{
		{Name: "1st Edition", Pattern: `(?i)1st\s+edition`},
		{Name: "Unlimited", Pattern: `(?i)unlimited`},
	},
	FoilKeywords: []string{"holo", "foil", "full art"},
	NoiseWords:   []string{"Pokemon", "Pokémon"},
	Graders:      []string{"PSA", "CGC", "BGS"},
	Sets: []config.PatternRule{
		{Name: "Base Set", Pattern: `(?i)base set`},
		{Name: "XY Steam Siege", Pattern: `(?i)xy steam siege`},
		{Name: "Jungle", Pattern: `(?i)jungle`},
		{Name: "Fossil", Pattern: `(?i)fossil`},
		{Name: "Team Rocket", Pattern: `(?i)team rocket`},
		{Name: "Neo Genesis", Pattern: `(?i)neo genesis`},
		{Name: "Neo Discovery", Pattern: `(?i)neo discovery`},
		{Name: "Neo Revelation", Pattern: `(?i)neo revelation`},
		{Name: "Neo Destiny", Pattern: `(?i)neo destiny`},
		{Name: "Gym Heroes", Pattern: `(?i)gym heroes`},
		{Name: "Gym Challenge", Pattern: `(?i)gym challenge`},
		{Name: "Black & White", Pattern: `(?i)black\s*(&|and)\s*white`},
		{Name: "Diamond & Pearl", Pattern: `(?i)diamond\s*(&|and)\s*pearl`},
		{Name: "Sun & Moon", Pattern: `(?i)sun\s*(&|and)\s*moon`},
		{Name: "Sword & Shield", Pattern: `(?i)sword\s*(&|and)\s*shield`},
		{Name: "Scarlet & Violet", Pattern: `(?i)scarlet\s*(&|and)\s*violet`},
	},
}

const gradeDescriptors = `GEM[\s-]*MINT|GEM[\s-]*MT|NM[\s-]*MT|NRMT|MINT|NM|EX[\s-]*MT|EX|VG[\s-]*EX|VG|GOOD`

var (
	yearRegex   = regexp.MustCompile(`\d{4}`)
	numberRegex = regexp.MustCompile(`(?i)#(\d+[A-Z]?)`)
)

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// Rules is a compiled rule table. It is immutable and safe for concurrent use.
type Rules struct {
	languages       []namedPattern
	defaultLanguage string
	defaultLangRe   *regexp.Regexp
	editions        []namedPattern
	foil            []string
	noise           []*regexp.Regexp
	grade           *regexp.Regexp
	sets            []namedPattern
}

// NewRules compiles a rule table. Empty sections fall back to DefaultRules.
func NewRules(cfg *config.RulesConfig) (*Rules, error) {
	c := DefaultRules
	if cfg != nil {
		if len(cfg.Languages) > 0 {
			c.Languages = cfg.Languages
		}
		if cfg.DefaultLanguage != "" {
			c.DefaultLanguage = cfg.DefaultLanguage
		}
		if len(cfg.Editions) > 0 {
			c.Editions = cfg.Editions
		}
		if len(cfg.FoilKeywords) > 0 {
			c.FoilKeywords = cfg.FoilKeywords
		}
		if len(cfg.NoiseWords) > 0 {
			c.NoiseWords = cfg.NoiseWords
		}
		if len(cfg.Graders) > 0 {
			c.Graders = cfg.Graders
		}
		if len(cfg.Sets) > 0 {
			c.Sets = cfg.Sets
		}
	}

	r := &Rules{defaultLanguage: c.DefaultLanguage}
	if c.DefaultLanguage != "" {
		r.defaultLangRe = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(c.DefaultLanguage))
	}

	for _, lang := range c.Languages {
		r.languages = append(r.languages, namedPattern{
			name: lang,
			re:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(lang)),
		})
	}
	for _, kw := range c.FoilKeywords {
		r.foil = append(r.foil, strings.ToLower(kw))
	}
	for _, w := range c.NoiseWords {
		r.noise = append(r.noise, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}

	var err error
	if r.editions, err = compilePatterns("edition", c.Editions); err != nil {
		return nil, err
	}
	if r.sets, err = compilePatterns("set", c.Sets); err != nil {
		return nil, err
	}

	graders := make([]string, 0, len(c.Graders))
	for _, g := range c.Graders {
		graders = append(graders, regexp.QuoteMeta(g))
	}
	r.grade, err = regexp.Compile(`(?i)\b(` + strings.Join(graders, "|") + `)\s*(\d+(?:\.\d+)?)(?:\s*(` + gradeDescriptors + `))?\b`)
	if err != nil {
		return nil, fmt.Errorf("compile grade pattern: %w", err)
	}

	return r, nil
}

// MustDefaultRules compiles DefaultRules and panics on error; the built-in table always compiles.
func MustDefaultRules() *Rules {
	r, err := NewRules(nil)
	if err != nil {
		panic(err)
	}
	return r
}

func compilePatterns(kind string, rules []config.PatternRule) ([]namedPattern, error) {
	out := make([]namedPattern, 0, len(rules))
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern %q: %w", kind, rule.Name, err)
		}
		name := rule.Name
		if name == "" {
			name = rule.Pattern
		}
		out = append(out, namedPattern{name: name, re: re})
	}
	return out, nil
}

// conditionFor maps a grading descriptor or, failing that, the numeric grade band to a condition.
func conditionFor(grade, descriptor string) *string {
	d := strings.ToUpper(strings.Join(strings.Fields(strings.ReplaceAll(descriptor, "-", " ")), " "))
	switch {
	case strings.HasPrefix(d, "GEM"):
		return strPtr("Gem Mint")
	case d == "MINT":
		return strPtr("Mint")
	case strings.HasPrefix(d, "NM"), d == "NRMT":
		return strPtr("Near Mint")
	case strings.HasPrefix(d, "EX"):
		return strPtr("Excellent")
	case strings.HasPrefix(d, "VG"):
		return strPtr("Very Good")
	case d == "GOOD":
		return strPtr("Good")
	}

	g, err := strconv.ParseFloat(grade, 64)
	if err != nil {
		return nil
	}
	switch {
	case g >= 10:
		return strPtr("Gem Mint")
	case g >= 9:
		return strPtr("Mint")
	case g >= 8:
		return strPtr("Near Mint")
	case g >= 7:
		return strPtr("Excellent")
	case g >= 6:
		return strPtr("Very Good")
	}
	return nil
}

func strPtr(s string) *string { return &s }
