package validation

import (
	"regexp"
	"strings"

	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
)

const (
	MaxMicroheadingWords = 6
	LeadMarkerOpen       = `<span class="box-lead">`
)

var (
	forbiddenHeadingPunct = strings.NewReplacer(":", " ", ";", " ", "?", " ", "!", " ")
	leadMarkerRe          = regexp.MustCompile(`^\s*<span\s+class\s*=\s*["']box-lead["']\s*>`)
)

// NormalizeMicroheadingTitle removes : ; ? ! and keeps at most six words.
// A title left empty falls back to a neutral heading for the language.
func NormalizeMicroheadingTitle(title, language string) string {
	words := strings.Fields(forbiddenHeadingPunct.Replace(title))
	if len(words) > MaxMicroheadingWords {
		words = words[:MaxMicroheadingWords]
	}
	if len(words) == 0 {
		if strings.EqualFold(language, "en") {
			return "Overview"
		}
		return "Toelichting"
	}
	return strings.Join(words, " ")
}

func defaultLead(field skeleton.BoxField, language string) string {
	en := strings.EqualFold(language, "en")
	switch {
	case field == skeleton.BoxVerdieping && en:
		return "Going deeper"
	case field == skeleton.BoxVerdieping:
		return "Verdieping"
	case en:
		return "In practice"
	default:
		return "In de praktijk"
	}
}

// EnsureLeadMarker prefixes a box with the lead-phrase span when it does
// not already start with one.
func EnsureLeadMarker(html string, field skeleton.BoxField, language string) string {
	html = strings.TrimSpace(html)
	if html == "" || leadMarkerRe.MatchString(html) {
		return html
	}
	return LeadMarkerOpen + defaultLead(field, language) + "</span> " + html
}

// Normalize applies the deterministic in-place fixes that never count as
// failures: microheading punctuation and length, box lead markers, and, when
// box targets are set, removal of boxes outside their targets. It returns the
// number of edits.
func Normalize(d *skeleton.Draft, e Expectation) int {
	edits := 0
	for _, parent := range skeleton.TopLevelSubparagraphs(d.Blocks) {
		for _, mh := range skeleton.TopLevelSubparagraphs(parent.Blocks) {
			if t := NormalizeMicroheadingTitle(mh.Title, e.Language); t != mh.Title {
				mh.Title = t
				edits++
			}
		}
	}

	for _, p := range skeleton.Paragraphs(d.Blocks) {
		for _, f := range []skeleton.BoxField{skeleton.BoxPraktijk, skeleton.BoxVerdieping} {
			if cur := p.Box(f); cur != "" {
				if next := EnsureLeadMarker(cur, f, e.Language); next != cur {
					p.SetBox(f, next)
					edits++
				}
			}
		}
	}

	if e.hasBoxTargets() {
		edits += enforceBoxTargets(d.Blocks, e)
	}
	return edits
}

func enforceBoxTargets(blocks skeleton.Blocks, e Expectation) int {
	allowed := func(targets []string, title string) bool {
		for _, t := range targets {
			if skeleton.NormalizeTitle(t) == skeleton.NormalizeTitle(title) {
				return true
			}
		}
		return false
	}
	edits := 0
	strip := func(paras []*skeleton.Paragraph, keepPraktijk, keepVerdieping bool) {
		for _, p := range paras {
			if !keepPraktijk && p.PraktijkHTML != "" {
				p.PraktijkHTML = ""
				edits++
			}
			if !keepVerdieping && p.VerdiepingHTML != "" {
				p.VerdiepingHTML = ""
				edits++
			}
		}
	}
	for _, b := range blocks {
		switch v := b.(type) {
		case *skeleton.Subparagraph:
			strip(skeleton.Paragraphs(v.Blocks), allowed(e.PraktijkTargets, v.Title), allowed(e.VerdiepingTargets, v.Title))
		case *skeleton.Paragraph:
			strip([]*skeleton.Paragraph{v}, false, false)
		}
	}
	return edits
}
