package prompts

import (
	"strings"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/attempt"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/draftcfg"
)

func lockedOptions() Options {
	return Options{
		SectionTitle:    "3.1 Hygiëne",
		SectionID:       "s-3-1",
		ChapterTitle:    "Zorg",
		Topic:           "Handhygiëne in de zorg",
		RequiredTitles:  []string{"3.1.1 Handen wassen", "3.1.2 Desinfecteren"},
		PraktijkTargets: []string{"3.1.2 Desinfecteren"},
		Language:        "nl",
		Audience:        "foundation",
		Density:         "dense",
		HeadingDensity:  "medium",
		Locked:          true,
	}
}

func testGuidance() Guidance {
	cfg := draftcfg.Defaults()
	return NewGuidance(cfg.Density("dense", false), cfg.Heading("medium"), false, 2)
}

func TestBuildSectionIsDeterministic(t *testing.T) {
	o := lockedOptions()
	a := BuildSection(o, testGuidance())
	b := BuildSection(o, testGuidance())
	assert.Equal(t, a, b)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Contains(t, a.System, "Dutch")
	assert.Contains(t, a.User, `"3.1.1 Handen wassen"`)
	assert.Contains(t, a.User, "exactly these 2 subparagraphs")
	assert.Contains(t, a.User, `Under "3.1.2 Desinfecteren", at least one paragraph carries praktijkHtml.`)
}

func TestMustFixOnlyAppends(t *testing.T) {
	o := lockedOptions()
	base := BuildUser(o, testGuidance())

	o.MustFix = []attempt.Hint{{Rule: "outline", Message: "outline mismatch: got=1, expected=2"}}
	retry := BuildUser(o, testGuidance())

	require.True(t, strings.HasPrefix(retry, base))
	assert.Contains(t, retry[len(base):], "MUST FIX")
	assert.Contains(t, retry[len(base):], "got=1, expected=2")

	sys := BuildSystem(o)
	o.MustFix = nil
	assert.Equal(t, sys, BuildSystem(o))
}

func TestBuildSystemRendersAudienceAndLanguage(t *testing.T) {
	o := lockedOptions()
	sys := BuildSystem(o)
	assert.Contains(t, sys, "MBO level 2-3")
	assert.Contains(t, sys, "Write in Dutch (Nederlands).")
	assert.NotContains(t, sys, "<no value>")

	o.Audience = "advanced"
	o.Language = "en"
	sys = BuildSystem(o)
	assert.Contains(t, sys, "MBO level 4")
	assert.Contains(t, sys, "Write in English.")
}

func TestMustRenderPanicsOnExecuteError(t *testing.T) {
	broken := template.Must(template.New("broken").Parse(`{{.Missing.Field}}`))
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		mustRender(broken, "x")
	}()
	err, ok := recovered.(error)
	require.True(t, ok, "panic value should be an error")
	assert.True(t, strings.HasPrefix(err.Error(), "render broken prompt: "), err.Error())
	assert.NotPanics(t, func() { mustRender(systemTemplate, systemData{Level: "a", Language: "b"}) })
}

func TestGuidanceFollowsDensityTable(t *testing.T) {
	cfg := draftcfg.Defaults()
	g := NewGuidance(cfg.Density("dense", false), cfg.Heading("high"), false, 3)
	rule := cfg.Density("dense", false)
	assert.Equal(t, rule.MinPerSubparagraph, g.MinParagraphsPerSub)
	assert.Equal(t, rule.Total(3), g.SectionTotal)
	assert.Equal(t, rule.EmphasisFloor, g.EmphasisFloor)
	assert.Equal(t, cfg.Heading("high").MaxMicroheadings, g.MicroheadingsMax)

	user := BuildUser(lockedOptions(), g)
	assert.Contains(t, user, "at least 2 paragraphs")
}

func TestLockedTemplateListsTitles(t *testing.T) {
	tpl := LockedTemplate("3.1 Hygiëne", []string{"3.1.1 A", "3.1.2 B"})
	assert.Contains(t, tpl, `"title": "3.1.1 A"`)
	assert.Contains(t, tpl, `"title": "3.1.2 B"`)
	assert.Equal(t, 2, strings.Count(tpl, `"subparagraph"`))
}

func TestSectionSchemaPinsBlockCount(t *testing.T) {
	s := SectionSchema("3.1 Hygiëne", []string{"3.1.1 A", "3.1.2 B"})
	blocks := s["properties"].(map[string]any)["blocks"].(map[string]any)
	assert.Equal(t, 2, blocks["minItems"])
	assert.Equal(t, 2, blocks["maxItems"])
	items := blocks["items"].(map[string]any)
	title := items["properties"].(map[string]any)["title"].(map[string]any)
	assert.Equal(t, []any{"3.1.1 A", "3.1.2 B"}, title["enum"])

	open := SectionSchema("", nil)
	ob := open["properties"].(map[string]any)["blocks"].(map[string]any)
	assert.NotContains(t, ob, "maxItems")
}

func TestNodePromptCarriesContext(t *testing.T) {
	o := lockedOptions()
	p := BuildNode(o, testGuidance(), NodeInput{
		Title:      "3.1.2 Desinfecteren",
		Index:      1,
		Total:      2,
		Introduced: []string{"handalcohol"},
		Praktijk:   true,
	})
	assert.Equal(t, PromptSectionNode, p.Name)
	assert.Contains(t, p.User, "subparagraph 2 of 2")
	assert.Contains(t, p.User, "handalcohol")
	assert.Contains(t, p.User, "praktijkHtml box")
	title := p.Schema["properties"].(map[string]any)["title"].(map[string]any)
	assert.Equal(t, []any{"3.1.2 Desinfecteren"}, title["enum"])
}

func TestRepairPrompts(t *testing.T) {
	o := lockedOptions()
	long := strings.Repeat("woord ", 600)

	sp := BuildRepairSparse(o, RepairInput{Title: "3.1.1 Handen wassen", Count: 2, Context: long})
	assert.Contains(t, sp.User, "needs 2 more paragraph(s)")
	assert.Less(t, len(sp.User), len(long))
	assert.Equal(t, 2, sp.Schema["properties"].(map[string]any)["paragraphs"].(map[string]any)["minItems"])

	box := BuildRepairBox(o, RepairInput{Title: "3.1.2 Desinfecteren", BoxField: "verdiepingHtml"})
	assert.Contains(t, box.User, "verdieping box")
	assert.Contains(t, box.User, "introHtml")

	mh := BuildRepairMicroheading(o, RepairInput{Title: "Stappen", Parent: "3.1.1 Handen wassen"})
	assert.Contains(t, mh.User, `Microheading "Stappen" under "3.1.1 Handen wassen"`)
}
