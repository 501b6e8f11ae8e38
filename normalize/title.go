package normalize

import (
	"sort"
	"strconv"
	"strings"

	"tcg_scrooper/models"
)

const unknownCardName = "Unknown Card"

type span struct{ start, end int }

// ParseTitle extracts structured card attributes from a free-text listing title.
// Every extraction is optional; nothing here fails.
func (r *Rules) ParseTitle(title string) models.Attributes {
	attrs := models.Attributes{Language: r.defaultLanguage}
	// Every span below indexes this exact string.
	title = strings.ToValidUTF8(title, "")
	var cut []span

	if loc := yearRegex.FindStringIndex(title); loc != nil {
		if y, err := strconv.Atoi(title[loc[0]:loc[1]]); err == nil {
			attrs.Year = &y
			cut = append(cut, span{loc[0], loc[1]})
		}
	}

	for _, re := range r.noise {
		if loc := re.FindStringIndex(title); loc != nil {
			cut = append(cut, span{loc[0], loc[1]})
		}
	}

	for _, lang := range r.languages {
		if loc := lang.re.FindStringIndex(title); loc != nil {
			attrs.Language = lang.name
			cut = append(cut, span{loc[0], loc[1]})
			break
		}
	}
	// A spelled-out default language is still noise in the name.
	if attrs.Language == r.defaultLanguage && r.defaultLangRe != nil {
		if loc := r.defaultLangRe.FindStringIndex(title); loc != nil {
			cut = append(cut, span{loc[0], loc[1]})
		}
	}

	for _, ed := range r.editions {
		if loc := ed.re.FindStringIndex(title); loc != nil {
			attrs.Edition = strPtr(ed.name)
			cut = append(cut, span{loc[0], loc[1]})
			break
		}
	}

	lower := strings.ToLower(title)
	for _, kw := range r.foil {
		if strings.Contains(lower, kw) {
			attrs.Foil = true
			break
		}
	}

	if m := numberRegex.FindStringSubmatchIndex(title); m != nil {
		attrs.Number = strPtr(title[m[2]:m[3]])
		cut = append(cut, span{m[0], m[1]})
	}

	if m := r.grade.FindStringSubmatchIndex(title); m != nil {
		service := strings.ToUpper(title[m[2]:m[3]])
		grade := title[m[4]:m[5]]
		descriptor := ""
		if m[6] >= 0 {
			descriptor = title[m[6]:m[7]]
		}
		attrs.GradingService = &service
		attrs.Grade = &grade
		attrs.Condition = conditionFor(grade, descriptor)
		cut = append(cut, span{m[0], m[1]})
	}

	for _, set := range r.sets {
		if loc := set.re.FindStringIndex(title); loc != nil {
			attrs.Set = strPtr(set.name)
			cut = append(cut, span{loc[0], loc[1]})
			break
		}
	}

	attrs.Name = residualName(title, cut)
	return attrs
}

// residualName blanks out every matched span and tidies what is left.
func residualName(title string, cut []span) string {
	sort.Slice(cut, func(i, j int) bool { return cut[i].start < cut[j].start })

	var b strings.Builder
	pos := 0
	for _, s := range cut {
		if s.start > pos {
			b.WriteString(title[pos:s.start])
		}
		b.WriteByte(' ')
		if s.end > pos {
			pos = s.end
		}
	}
	if pos < len(title) {
		b.WriteString(title[pos:])
	}

	name := strings.Join(strings.Fields(b.String()), " ")
	name = strings.Trim(name, " -|,/:;")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return unknownCardName
	}
	return name
}
