package skeleton

import (
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// MinMeaningfulChars is the stripped length at which a paragraph counts.
const MinMeaningfulChars = 20

// StripHTML returns the visible text of an inline HTML fragment with
// whitespace collapsed.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapse(fragment)
	}
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way keep what was read.
			return collapse(sb.String())
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "br" || string(name) == "p" || string(name) == "li" {
				sb.WriteByte(' ')
			}
		}
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\u00a0", " ")), " ")
}

// TextLen is the rune length of the stripped text.
func TextLen(fragment string) int {
	return utf8.RuneCountInString(StripHTML(fragment))
}

// IsMeaningful reports whether a fragment carries enough text to count toward
// density.
func IsMeaningful(fragment string) bool {
	return TextLen(fragment) >= MinMeaningfulChars
}

// WordCount counts whitespace separated words of plain text.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// EmphasizedTerms extracts <strong>/<b> spans from a fragment, lower-cased
// and whitespace collapsed, in order of first appearance.
func EmphasizedTerms(fragment string) []string {
	if !strings.Contains(fragment, "<") {
		return nil
	}
	var (
		out   []string
		seen  = map[string]bool{}
		depth int
		cur   strings.Builder
	)
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		switch tt {
		case html.StartTagToken:
			if isEmphasisTag(z) {
				depth++
			}
		case html.EndTagToken:
			if isEmphasisTag(z) && depth > 0 {
				depth--
				if depth == 0 {
					term := strings.ToLower(collapse(cur.String()))
					cur.Reset()
					if term != "" && !seen[term] {
						seen[term] = true
						out = append(out, term)
					}
				}
			}
		case html.TextToken:
			if depth > 0 {
				cur.Write(z.Text())
			}
		}
	}
}

func isEmphasisTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	return string(name) == "strong" || string(name) == "b"
}

// SectionTerms collects the unique emphasized terms of every paragraph and
// box under blocks, sorted.
func SectionTerms(blocks Blocks) []string {
	seen := map[string]bool{}
	for _, p := range Paragraphs(blocks) {
		for _, frag := range []string{p.BasisHTML, p.PraktijkHTML, p.VerdiepingHTML} {
			for _, t := range EmphasizedTerms(frag) {
				seen[t] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
