package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/attempt"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/draftcfg"
	"github.com/yungbote/bookdraft-backend/internal/platform/promptstyle"
)

type PromptName string

const (
	PromptSectionDraft       PromptName = "section_draft"
	PromptSectionNode        PromptName = "section_node"
	PromptRepairSparse       PromptName = "repair_sparse"
	PromptRepairBox          PromptName = "repair_box"
	PromptRepairMicroheading PromptName = "repair_microheading"
)

const promptVersion = 1

// Prompt is a rendered system/user pair plus the schema for tool-call
// backends.
type Prompt struct {
	Name       PromptName
	Version    int
	System     string
	User       string
	SchemaName string
	Schema     map[string]any
}

func (p Prompt) Fingerprint() string {
	h := sha256.Sum256([]byte(
		string(p.Name) + "|" +
			strconv.Itoa(p.Version) + "|" +
			strings.TrimSpace(p.System) + "|" +
			strings.TrimSpace(p.User),
	))
	return hex.EncodeToString(h[:])
}

// Options is the per-section input shared by every prompt.
type Options struct {
	SectionTitle      string
	SectionID         string
	ChapterTitle      string
	Topic             string
	RequiredTitles    []string
	TopicHints        []string
	PraktijkTargets   []string
	VerdiepingTargets []string
	Language          string
	Audience          string
	Density           string
	HeadingDensity    string
	RequireImages     bool
	UserInstructions  string
	MustFix           []attempt.Hint
	Locked            bool
}

func (o Options) english() bool { return strings.EqualFold(o.Language, "en") }

func (o Options) languageName() string {
	if o.english() {
		return "English"
	}
	return "Dutch (Nederlands)"
}

// Guidance is the numeric shape the model is asked to produce.
type Guidance struct {
	Wide                bool
	ParagraphsPerSub    int
	MinParagraphsPerSub int
	SectionTotal        int
	EmphasisFloor       int
	MicroheadingsMin    int
	MicroheadingsMax    int
}

// NewGuidance derives the numbers from the density and heading tables.
func NewGuidance(rule draftcfg.DensityRule, heading draftcfg.HeadingRule, wide bool, subparagraphs int) Guidance {
	target := rule.TargetParagraphs
	if target < rule.MinPerSubparagraph {
		target = rule.MinPerSubparagraph
	}
	return Guidance{
		Wide:                wide,
		ParagraphsPerSub:    target,
		MinParagraphsPerSub: rule.MinPerSubparagraph,
		SectionTotal:        rule.Total(subparagraphs),
		EmphasisFloor:       rule.EmphasisFloor,
		MicroheadingsMin:    heading.MinMicroheadings,
		MicroheadingsMax:    heading.MaxMicroheadings,
	}
}

func finish(name PromptName, system, user, schemaName string, schema map[string]any) Prompt {
	return Prompt{
		Name:       name,
		Version:    promptVersion,
		System:     strings.TrimSpace(promptstyle.ApplySystem(system, "json")),
		User:       strings.TrimSpace(user),
		SchemaName: schemaName,
		Schema:     schema,
	}
}
