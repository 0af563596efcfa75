package skeleton

import (
	"regexp"
	"strings"
)

var (
	numberedTitleRe = regexp.MustCompile(`^\s*\d+(\.\d+){2,}(\s|$)`)
	numericPrefixRe = regexp.MustCompile(`^\s*\d+(\.\d+)*\.?(\s+|$)`)
)

// IsNumberedTitle reports whether title starts with a dotted number of at
// least three parts, e.g. "3.4.1 Wondgenezing".
func IsNumberedTitle(title string) bool {
	return numberedTitleRe.MatchString(title)
}

// StripNumericPrefix drops a leading "3.4" / "3.4.1." style number.
func StripNumericPrefix(title string) string {
	return strings.TrimSpace(numericPrefixRe.ReplaceAllString(title, ""))
}

// NormalizeTitle collapses whitespace; titles are otherwise compared exactly.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// Outline is the structural contract for one section.
type Outline struct {
	// Titles are the required top-level subparagraph titles in order. For an
	// unlocked outline they are topic hints only.
	Titles []string
	Locked bool
}

func (o Outline) Wide(min int) bool { return min > 0 && len(o.Titles) >= min }

// ResolveOutline derives the outline for a section. Explicit titles take
// precedence; otherwise the section's existing top-level blocks are used when
// they are all numbered subparagraphs.
func ResolveOutline(sec *Section, explicit []string, lockedMax int) Outline {
	titles := make([]string, 0, len(explicit))
	for _, t := range explicit {
		if t = NormalizeTitle(t); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) > 0 {
		return Outline{Titles: titles, Locked: len(titles) <= lockedMax}
	}
	if sec == nil || len(sec.Blocks) == 0 {
		return Outline{}
	}

	allNumbered := true
	for _, b := range sec.Blocks {
		sp, ok := b.(*Subparagraph)
		if !ok {
			allNumbered = false
			continue
		}
		if !IsNumberedTitle(sp.Title) {
			allNumbered = false
		}
		titles = append(titles, NormalizeTitle(sp.Title))
	}
	return Outline{Titles: titles, Locked: allNumbered && len(titles) > 0 && len(titles) <= lockedMax}
}
