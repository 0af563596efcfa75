package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

var systemTemplate = template.Must(template.New("system").Option("missingkey=zero").Parse(`
You are an experienced author of {{.Level}} textbooks for vocational students.
Write in {{.Language}}. Use a calm, direct, explanatory voice addressed to the student.
Each paragraph explains one idea in 3 to 6 full sentences. Avoid bullet-style fragments inside paragraphs.
Mark key terms with <strong> the first time they are explained. Allowed inline HTML: <strong>, <em>, <sub>, <sup>, <br/>.
Box fields (praktijkHtml, verdiepingHtml) start with a short lead phrase wrapped in <span class="box-lead">...</span>.
praktijkHtml links the paragraph to a realistic workplace situation. verdiepingHtml goes one level deeper for strong students.
Microheadings are subparagraph blocks inside a numbered subparagraph. Their titles have at most 6 words and no ":", ";", "?" or "!".
Never nest a subparagraph inside a microheading.
Block types: "paragraph" {basisHtml, praktijkHtml?, verdiepingHtml?, images?}, "subparagraph" {title, blocks}, "list" {ordered?, items}, "steps" {items}.
Images are suggestions only: {alt, caption, suggestedPrompt}. Never invent file names.
`))

type systemData struct {
	Level    string
	Language string
}

// BuildSystem renders the constant system prompt for a run.
func BuildSystem(o Options) string {
	level := "MBO level 2-3"
	if strings.EqualFold(o.Audience, "advanced") {
		level = "MBO level 4"
	}
	return mustRender(systemTemplate, systemData{Level: level, Language: o.languageName()})
}

// mustRender panics like template.Must: the templates are package constants, so
// an execution error is a programming error.
func mustRender(t *template.Template, data any) string {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		panic(fmt.Errorf("render %s prompt: %w", t.Name(), err))
	}
	return strings.TrimSpace(b.String())
}

// BuildUser renders the whole-section request.
func BuildUser(o Options, g Guidance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write section %q", o.SectionTitle)
	if o.ChapterTitle != "" {
		fmt.Fprintf(&b, " of chapter %q", o.ChapterTitle)
	}
	fmt.Fprintf(&b, ".\nTopic: %s\n", strings.TrimSpace(o.Topic))
	writeHints(&b, o.TopicHints)

	b.WriteString("\nOUTPUT\n")
	fmt.Fprintf(&b, "Return {\"title\": %q, \"blocks\": [...]}.\n", o.SectionTitle)

	b.WriteString("\nOUTLINE\n")
	if o.Locked {
		fmt.Fprintf(&b, "The top level of blocks must be exactly these %d subparagraphs, in this order, with these exact titles (keep the numbers):\n", len(o.RequiredTitles))
		for i, t := range o.RequiredTitles {
			fmt.Fprintf(&b, "%d. %s\n", i+1, t)
		}
		b.WriteString("Do not add, drop, merge or rename any of them. Put no other block at the top level.\n")
	} else if len(o.RequiredTitles) > 0 {
		b.WriteString("Use these subparagraphs as the top level, in order:\n")
		for _, t := range o.RequiredTitles {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	} else {
		b.WriteString("Choose 2 to 5 numbered subparagraphs for the top level.\n")
	}

	b.WriteString("\nSHAPE\n")
	writeGuidance(&b, g)
	writeBoxes(&b, o)
	if o.RequireImages {
		b.WriteString("Include at least one image suggestion with a non-empty suggestedPrompt.\n")
	}

	if o.Locked && len(o.RequiredTitles) > 0 {
		b.WriteString("\nTEMPLATE (fill in, keep the structure)\n")
		b.WriteString(LockedTemplate(o.SectionTitle, o.RequiredTitles))
		b.WriteString("\n")
	}

	writeInstructions(&b, o)
	writeMustFix(&b, o)
	return b.String()
}

// LockedTemplate is the literal JSON skeleton the model fills in.
func LockedTemplate(sectionTitle string, titles []string) string {
	type para struct {
		Type      string `json:"type"`
		BasisHTML string `json:"basisHtml"`
	}
	type sub struct {
		Type   string `json:"type"`
		Title  string `json:"title"`
		Blocks []para `json:"blocks"`
	}
	doc := struct {
		Title  string `json:"title"`
		Blocks []sub  `json:"blocks"`
	}{Title: sectionTitle}
	for _, t := range titles {
		doc.Blocks = append(doc.Blocks, sub{
			Type:   "subparagraph",
			Title:  t,
			Blocks: []para{{Type: "paragraph", BasisHTML: "..."}},
		})
	}
	raw, _ := json.MarshalIndent(doc, "", "  ")
	return string(raw)
}

// NodeInput is the split-mode request for one top-level subparagraph.
type NodeInput struct {
	Title string
	Index int
	Total int
	// Introduced are emphasized terms already used in earlier nodes.
	Introduced []string
	// Previous is a short plain-text digest of the preceding node.
	Previous     string
	Praktijk     bool
	Verdieping   bool
	WantImage    bool
	EmphasisGoal int
}

// BuildNodeUser renders the split-mode request for a single subparagraph.
func BuildNodeUser(o Options, g Guidance, n NodeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write subparagraph %d of %d of section %q.\n", n.Index+1, n.Total, o.SectionTitle)
	fmt.Fprintf(&b, "Topic: %s\n", strings.TrimSpace(o.Topic))
	writeHints(&b, o.TopicHints)

	b.WriteString("\nOUTPUT\n")
	fmt.Fprintf(&b, "Return {\"type\": \"subparagraph\", \"title\": %q, \"blocks\": [...]}. Use that exact title.\n", n.Title)

	b.WriteString("\nSHAPE\n")
	fmt.Fprintf(&b, "At least %d paragraphs (aim for %d), each 3 to 6 sentences.\n", g.MinParagraphsPerSub, g.ParagraphsPerSub)
	if g.MicroheadingsMax > 0 {
		fmt.Fprintf(&b, "Use %d to %d microheadings (subparagraph blocks) inside it.\n", g.MicroheadingsMin, g.MicroheadingsMax)
	} else {
		b.WriteString("Do not use microheadings.\n")
	}
	if n.EmphasisGoal > 0 {
		fmt.Fprintf(&b, "Mark at least %d new key terms with <strong>.\n", n.EmphasisGoal)
	}
	if len(n.Introduced) > 0 {
		fmt.Fprintf(&b, "Already introduced (do not re-explain): %s\n", strings.Join(n.Introduced, ", "))
	}
	if n.Praktijk {
		b.WriteString("At least one paragraph carries a praktijkHtml box.\n")
	}
	if n.Verdieping {
		b.WriteString("At least one paragraph carries a verdiepingHtml box.\n")
	}
	if !n.Praktijk && !n.Verdieping {
		b.WriteString("Do not add praktijkHtml or verdiepingHtml boxes.\n")
	}
	if n.WantImage {
		b.WriteString("Include one image suggestion with a non-empty suggestedPrompt.\n")
	}
	if strings.TrimSpace(n.Previous) != "" {
		fmt.Fprintf(&b, "\nPREVIOUS SUBPARAGRAPH (for continuity)\n%s\n", n.Previous)
	}

	writeInstructions(&b, o)
	writeMustFix(&b, o)
	return b.String()
}

// BuildSection assembles the whole-section prompt.
func BuildSection(o Options, g Guidance) Prompt {
	return finish(PromptSectionDraft, BuildSystem(o), BuildUser(o, g), "section_draft", SectionSchema(o.SectionTitle, lockedTitles(o)))
}

// BuildNode assembles the split-mode prompt for one subparagraph.
func BuildNode(o Options, g Guidance, n NodeInput) Prompt {
	return finish(PromptSectionNode, BuildSystem(o), BuildNodeUser(o, g, n), "section_node", NodeSchema(n.Title))
}

func lockedTitles(o Options) []string {
	if !o.Locked {
		return nil
	}
	return o.RequiredTitles
}

func writeHints(b *strings.Builder, hints []string) {
	if len(hints) == 0 {
		return
	}
	fmt.Fprintf(b, "Cover: %s\n", strings.Join(hints, "; "))
}

func writeGuidance(b *strings.Builder, g Guidance) {
	fmt.Fprintf(b, "Per numbered subparagraph: at least %d paragraphs, aim for %d.\n", g.MinParagraphsPerSub, g.ParagraphsPerSub)
	fmt.Fprintf(b, "Whole section: at least %d paragraphs.\n", g.SectionTotal)
	if g.MicroheadingsMax > 0 {
		fmt.Fprintf(b, "Per numbered subparagraph: %d to %d microheadings.\n", g.MicroheadingsMin, g.MicroheadingsMax)
	} else {
		b.WriteString("Do not use microheadings.\n")
	}
	if g.EmphasisFloor > 0 {
		fmt.Fprintf(b, "Mark at least %d distinct key terms with <strong> across the section.\n", g.EmphasisFloor)
	}
	if g.Wide {
		b.WriteString("The outline is wide: keep each subparagraph focused and compact.\n")
	}
}

func writeBoxes(b *strings.Builder, o Options) {
	if len(o.PraktijkTargets)+len(o.VerdiepingTargets) == 0 {
		return
	}
	for _, t := range o.PraktijkTargets {
		fmt.Fprintf(b, "Under %q, at least one paragraph carries praktijkHtml.\n", t)
	}
	for _, t := range o.VerdiepingTargets {
		fmt.Fprintf(b, "Under %q, at least one paragraph carries verdiepingHtml.\n", t)
	}
	b.WriteString("No other subparagraph carries boxes.\n")
}

func writeInstructions(b *strings.Builder, o Options) {
	if s := strings.TrimSpace(o.UserInstructions); s != "" {
		fmt.Fprintf(b, "\nAUTHOR INSTRUCTIONS\n%s\n", s)
	}
}

// writeMustFix appends the failures of the previous attempt. Retries only
// ever add this block, the rest of the prompt is unchanged.
func writeMustFix(b *strings.Builder, o Options) {
	if len(o.MustFix) == 0 {
		return
	}
	b.WriteString("\nMUST FIX (the previous attempt failed these checks)\n")
	for _, h := range o.MustFix {
		switch {
		case h.Title != "" && h.Field != "":
			fmt.Fprintf(b, "- [%s] %s (%s): %s\n", h.Rule, h.Title, h.Field, h.Message)
		case h.Title != "":
			fmt.Fprintf(b, "- [%s] %s: %s\n", h.Rule, h.Title, h.Message)
		default:
			fmt.Fprintf(b, "- [%s] %s\n", h.Rule, h.Message)
		}
	}
}
