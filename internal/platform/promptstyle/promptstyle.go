package promptstyle

import "strings"

const marker = "BOOKDRAFT_PROMPT_STYLE_V1"

// ApplySystem prepends the shared authoring guidance to a system prompt.
// Applying it twice is a no-op.
func ApplySystem(system string, mode string) string {
	base := strings.TrimSpace(system)
	if base == "" || strings.Contains(base, marker) {
		return base
	}

	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\nYou draft textbook material for vocational education.")
	b.WriteString("\nFollow the system and user instructions precisely.")
	b.WriteString("\nDo not add analysis, apologies or commentary about the task.")
	b.WriteString("\nUse the provided outline and context as grounding; do not invent sources or citations.")
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "json":
		b.WriteString("\nReturn exactly one JSON object. No markdown fences, no text before or after it.")
	case "tool":
		b.WriteString("\nReturn the result only through the provided tool call.")
	}
	b.WriteString("\n---\n")
	b.WriteString(base)
	return b.String()
}
