package prompts

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxContextRunes bounds the sibling text quoted in repair prompts.
const maxContextRunes = 1500

// RepairInput carries the locus of a targeted repair.
type RepairInput struct {
	Title    string
	Parent   string
	Context  string
	Count    int
	BoxField string
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxContextRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxContextRunes]) + "..."
}

func writeContext(b *strings.Builder, ctx string) {
	if c := clip(ctx); c != "" {
		fmt.Fprintf(b, "\nEXISTING TEXT (do not repeat it)\n%s\n", c)
	}
}

// BuildRepairSparse asks for additional paragraphs under one subparagraph.
func BuildRepairSparse(o Options, in RepairInput) Prompt {
	n := in.Count
	if n < 1 {
		n = 1
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Subparagraph %q of section %q needs %d more paragraph(s).\n", in.Title, o.SectionTitle, n)
	fmt.Fprintf(&b, "Topic: %s\n", strings.TrimSpace(o.Topic))
	b.WriteString("Each paragraph is 3 to 6 sentences of inline HTML and adds something new.\n")
	writeContext(&b, in.Context)
	b.WriteString("\nReturn {\"paragraphs\": [\"<html>\", ...]}.\n")
	return finish(PromptRepairSparse, BuildSystem(o), b.String(), "repair_sparse", repairSparseSchema(n))
}

// BuildRepairBox asks for one paragraph plus its box.
func BuildRepairBox(o Options, in RepairInput) Prompt {
	var b strings.Builder
	kind := "a praktijk box linking the topic to a realistic workplace situation"
	if in.BoxField == "verdiepingHtml" {
		kind = "a verdieping box that goes one level deeper"
	}
	fmt.Fprintf(&b, "Subparagraph %q of section %q is missing %s.\n", in.Title, o.SectionTitle, kind)
	fmt.Fprintf(&b, "Topic: %s\n", strings.TrimSpace(o.Topic))
	b.WriteString("introHtml is a short paragraph (2 to 4 sentences) that leads into the box.\n")
	b.WriteString("boxHtml starts with a lead phrase wrapped in <span class=\"box-lead\">...</span>.\n")
	writeContext(&b, in.Context)
	b.WriteString("\nReturn {\"introHtml\": \"...\", \"boxHtml\": \"...\"}.\n")
	return finish(PromptRepairBox, BuildSystem(o), b.String(), "repair_box", repairBoxSchema())
}

// BuildRepairMicroheading asks for the body of an empty microheading.
func BuildRepairMicroheading(o Options, in RepairInput) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Microheading %q under %q in section %q has no content.\n", in.Title, in.Parent, o.SectionTitle)
	fmt.Fprintf(&b, "Topic: %s\n", strings.TrimSpace(o.Topic))
	b.WriteString("Write one paragraph (3 to 6 sentences) that fits the microheading.\n")
	writeContext(&b, in.Context)
	b.WriteString("\nReturn {\"basisHtml\": \"...\"}.\n")
	return finish(PromptRepairMicroheading, BuildSystem(o), b.String(), "repair_microheading", repairMicroheadingSchema())
}
