package validation

import (
	"fmt"
	"strings"

	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/draftcfg"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
)

// Expectation is everything a draft is checked against.
type Expectation struct {
	// Title is the expected section title; empty skips the title rule.
	Title   string
	Outline skeleton.Outline
	Density draftcfg.DensityRule
	// SkipTotal disables the section-wide paragraph minimum (node checks).
	SkipTotal         bool
	EmphasisFloor     int
	PraktijkTargets   []string
	VerdiepingTargets []string
	RequireImages     bool
	Language          string
	Policy            draftcfg.FailurePolicy
}

func (e Expectation) hasBoxTargets() bool {
	return len(e.PraktijkTargets)+len(e.VerdiepingTargets) > 0
}

type rule func(d skeleton.Draft, e Expectation) []Failure

var orderedRules = []rule{
	checkTitle,
	checkOutline,
	checkDensity,
	checkEmphasis,
	checkMicroheadings,
	checkBoxes,
	checkImages,
}

// Validate runs the rules in order. Under FailFirst it returns at most the
// first failure; under FailAll every failure is returned in rule order.
func Validate(d skeleton.Draft, e Expectation) []Failure {
	var out []Failure
	for _, r := range orderedRules {
		fs := r(d, e)
		if len(fs) == 0 {
			continue
		}
		if e.Policy != draftcfg.FailAll {
			return fs[:1]
		}
		out = append(out, fs...)
	}
	return out
}

func checkTitle(d skeleton.Draft, e Expectation) []Failure {
	if strings.TrimSpace(e.Title) == "" {
		return nil
	}
	got := skeleton.StripNumericPrefix(skeleton.NormalizeTitle(d.Title))
	want := skeleton.StripNumericPrefix(skeleton.NormalizeTitle(e.Title))
	if strings.EqualFold(got, want) {
		return nil
	}
	return []Failure{{
		Rule:    RuleTitle,
		Message: fmt.Sprintf("title mismatch: got=%q expected=%q", d.Title, e.Title),
	}}
}

func checkOutline(d skeleton.Draft, e Expectation) []Failure {
	if !e.Outline.Locked {
		return nil
	}
	want := e.Outline.Titles
	if len(d.Blocks) != len(want) {
		return []Failure{{
			Rule:     RuleOutline,
			Message:  fmt.Sprintf("outline mismatch: got=%d, expected=%d", len(d.Blocks), len(want)),
			Got:      len(d.Blocks),
			Expected: len(want),
		}}
	}
	var out []Failure
	for i, b := range d.Blocks {
		sp, ok := b.(*skeleton.Subparagraph)
		if !ok {
			out = append(out, Failure{
				Rule:    RuleOutline,
				Locus:   want[i],
				Message: fmt.Sprintf("outline mismatch at index %d: got %s block, expected subparagraph %q", i, b.Kind(), want[i]),
			})
			continue
		}
		if skeleton.NormalizeTitle(sp.Title) != want[i] {
			out = append(out, Failure{
				Rule:    RuleOutline,
				Locus:   want[i],
				Message: fmt.Sprintf("outline mismatch at index %d: got=%q expected=%q", i, sp.Title, want[i]),
			})
		}
	}
	return out
}

// CountMeaningful counts paragraphs under blocks (recursively) whose basis
// text is long enough to count.
func CountMeaningful(blocks skeleton.Blocks) int {
	n := 0
	for _, p := range skeleton.Paragraphs(blocks) {
		if skeleton.IsMeaningful(p.BasisHTML) {
			n++
		}
	}
	return n
}

func checkDensity(d skeleton.Draft, e Expectation) []Failure {
	units := skeleton.TopLevelSubparagraphs(d.Blocks)
	var out []Failure
	for _, sp := range units {
		got := CountMeaningful(sp.Blocks)
		if got < e.Density.MinPerSubparagraph {
			out = append(out, Failure{
				Rule:     RuleDensity,
				Locus:    sp.Title,
				Message:  fmt.Sprintf("too few paragraphs: got=%d, expected>=%d", got, e.Density.MinPerSubparagraph),
				Got:      got,
				Expected: e.Density.MinPerSubparagraph,
				Repair:   RepairSparse,
			})
		}
	}
	if len(out) > 0 || e.SkipTotal {
		return out
	}

	total := CountMeaningful(d.Blocks)
	want := e.Density.Total(len(units))
	if total >= want {
		return nil
	}
	f := Failure{
		Rule:     RuleDensity,
		Message:  fmt.Sprintf("section too sparse: got=%d paragraphs, expected>=%d", total, want),
		Got:      total,
		Expected: want,
	}
	// The thinnest subparagraph receives the extra paragraphs.
	if len(units) > 0 {
		thinnest := units[0]
		for _, sp := range units[1:] {
			if CountMeaningful(sp.Blocks) < CountMeaningful(thinnest.Blocks) {
				thinnest = sp
			}
		}
		f.Locus = thinnest.Title
		f.Repair = RepairSparse
	}
	return []Failure{f}
}

// checkEmphasis treats the floor as inclusive, like the density minimums.
func checkEmphasis(d skeleton.Draft, e Expectation) []Failure {
	if e.EmphasisFloor <= 0 {
		return nil
	}
	got := len(skeleton.SectionTerms(d.Blocks))
	if got >= e.EmphasisFloor {
		return nil
	}
	return []Failure{{
		Rule:     RuleEmphasis,
		Message:  fmt.Sprintf("too few emphasized terms: got=%d, expected>=%d", got, e.EmphasisFloor),
		Got:      got,
		Expected: e.EmphasisFloor,
	}}
}

func checkMicroheadings(d skeleton.Draft, e Expectation) []Failure {
	var out []Failure
	for _, parent := range skeleton.TopLevelSubparagraphs(d.Blocks) {
		for _, mh := range skeleton.TopLevelSubparagraphs(parent.Blocks) {
			if nested := skeleton.TopLevelSubparagraphs(mh.Blocks); len(nested) > 0 {
				out = append(out, Failure{
					Rule:    RuleMicroheading,
					Locus:   mh.Title,
					Parent:  parent.Title,
					Message: fmt.Sprintf("microheading nests subparagraph %q", nested[0].Title),
				})
				continue
			}
			if n := skeleton.WordCount(mh.Title); n < 1 || n > MaxMicroheadingWords {
				out = append(out, Failure{
					Rule:    RuleMicroheading,
					Locus:   mh.Title,
					Parent:  parent.Title,
					Message: fmt.Sprintf("microheading has %d words, expected 1-%d", n, MaxMicroheadingWords),
				})
				continue
			}
			if !hasContent(mh.Blocks) {
				out = append(out, Failure{
					Rule:     RuleMicroheading,
					Locus:    mh.Title,
					Parent:   parent.Title,
					Message:  "microheading has no meaningful content",
					Expected: 1,
					Repair:   RepairMicroheading,
				})
			}
		}
	}
	return out
}

func hasContent(blocks skeleton.Blocks) bool {
	for _, b := range blocks {
		switch v := b.(type) {
		case *skeleton.Paragraph:
			if skeleton.IsMeaningful(v.BasisHTML) {
				return true
			}
		case *skeleton.List:
			if nonEmptyItems(v.Items) {
				return true
			}
		case *skeleton.Steps:
			if nonEmptyItems(v.Items) {
				return true
			}
		}
	}
	return false
}

func nonEmptyItems(items []string) bool {
	for _, it := range items {
		if skeleton.StripHTML(it) != "" {
			return true
		}
	}
	return false
}

func checkBoxes(d skeleton.Draft, e Expectation) []Failure {
	var out []Failure
	check := func(targets []string, field skeleton.BoxField) {
		for _, title := range targets {
			sp := skeleton.FindSubparagraph(d.Blocks, skeleton.NormalizeTitle(title))
			if sp == nil {
				out = append(out, Failure{
					Rule:    RuleBox,
					Locus:   title,
					Field:   field,
					Message: fmt.Sprintf("box target %q not found", title),
				})
				continue
			}
			if HasBox(sp.Blocks, field) {
				continue
			}
			out = append(out, Failure{
				Rule:     RuleBox,
				Locus:    sp.Title,
				Field:    field,
				Message:  fmt.Sprintf("no paragraph carries %s", field),
				Expected: 1,
				Repair:   RepairBox,
			})
		}
	}
	check(e.PraktijkTargets, skeleton.BoxPraktijk)
	check(e.VerdiepingTargets, skeleton.BoxVerdieping)
	return out
}

// HasBox reports whether any paragraph under blocks has the box field.
func HasBox(blocks skeleton.Blocks, field skeleton.BoxField) bool {
	for _, p := range skeleton.Paragraphs(blocks) {
		if skeleton.StripHTML(p.Box(field)) != "" {
			return true
		}
	}
	return false
}

func checkImages(d skeleton.Draft, e Expectation) []Failure {
	if !e.RequireImages || HasImageSuggestion(d.Blocks) {
		return nil
	}
	return []Failure{{
		Rule:     RuleImages,
		Message:  "no image suggestion with a prompt",
		Expected: 1,
	}}
}

func HasImageSuggestion(blocks skeleton.Blocks) bool {
	for _, img := range skeleton.Images(blocks) {
		if strings.TrimSpace(img.SuggestedPrompt) != "" {
			return true
		}
	}
	return false
}
