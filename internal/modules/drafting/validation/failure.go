package validation

import (
	"fmt"

	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/attempt"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
)

type Rule string

const (
	RuleShape        Rule = "draft_shape"
	RuleTitle        Rule = "title_match"
	RuleOutline      Rule = "outline"
	RuleDensity      Rule = "density"
	RuleEmphasis     Rule = "emphasis"
	RuleMicroheading Rule = "microheading"
	RuleBox          Rule = "box_placement"
	RuleImages       Rule = "images"
)

// RepairKind says which targeted repair can address a failure.
type RepairKind string

const (
	RepairNone         RepairKind = ""
	RepairSparse       RepairKind = "sparse"
	RepairBox          RepairKind = "box"
	RepairMicroheading RepairKind = "microheading"
)

// Failure is one violated rule with its locus.
type Failure struct {
	Rule Rule
	// Locus is the top-level subparagraph (or microheading) title, "" for
	// section-wide failures.
	Locus string
	// Parent is set for microheading failures: the enclosing subparagraph.
	Parent   string
	Field    skeleton.BoxField
	Message  string
	Got      int
	Expected int
	Repair   RepairKind
}

func (f Failure) Error() string {
	if f.Locus == "" {
		return fmt.Sprintf("%s: %s", f.Rule, f.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", f.Rule, f.Locus, f.Message)
}

func (f Failure) Repairable() bool { return f.Repair != RepairNone }

// Deficit is how many items are missing for count based failures.
func (f Failure) Deficit() int {
	if d := f.Expected - f.Got; d > 0 {
		return d
	}
	return 0
}

func (f Failure) Hint() attempt.Hint {
	return attempt.Hint{Rule: string(f.Rule), Title: f.Locus, Field: string(f.Field), Message: f.Message}
}

func Hints(fs []Failure) []attempt.Hint {
	out := make([]attempt.Hint, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Hint())
	}
	return out
}

// FirstRepairable returns the first failure a targeted repair can address.
func FirstRepairable(fs []Failure) (Failure, bool) {
	for _, f := range fs {
		if f.Repairable() {
			return f, true
		}
	}
	return Failure{}, false
}
