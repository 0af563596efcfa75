package prompts

func stringSchema() map[string]any { return map[string]any{"type": "string"} }

func boolSchema() map[string]any { return map[string]any{"type": "boolean"} }

func stringArraySchema() map[string]any {
	return map[string]any{"type": "array", "items": stringSchema()}
}

func enumSchema(values ...string) map[string]any {
	arr := make([]any, 0, len(values))
	for _, v := range values {
		arr = append(arr, v)
	}
	return map[string]any{"type": "string", "enum": arr}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	req := make([]any, 0, len(required))
	for _, r := range required {
		req = append(req, r)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             req,
		"additionalProperties": false,
	}
}

func imageSchema() map[string]any {
	return objectSchema(map[string]any{
		"alt":             stringSchema(),
		"caption":         stringSchema(),
		"suggestedPrompt": stringSchema(),
		"layout":          enumSchema("full", "half", "inline"),
	}, "suggestedPrompt")
}

// leafSchema covers paragraph, list and steps blocks.
func leafSchema() map[string]any {
	return objectSchema(map[string]any{
		"type":           enumSchema("paragraph", "list", "steps"),
		"basisHtml":      stringSchema(),
		"praktijkHtml":   stringSchema(),
		"verdiepingHtml": stringSchema(),
		"ordered":        boolSchema(),
		"items":          stringArraySchema(),
		"images":         map[string]any{"type": "array", "items": imageSchema()},
	}, "type")
}

// childSchema is a block inside a numbered subparagraph: a leaf or a
// microheading holding leaves.
func childSchema() map[string]any {
	props := map[string]any{
		"type":           enumSchema("paragraph", "list", "steps", "subparagraph"),
		"title":          stringSchema(),
		"basisHtml":      stringSchema(),
		"praktijkHtml":   stringSchema(),
		"verdiepingHtml": stringSchema(),
		"ordered":        boolSchema(),
		"items":          stringArraySchema(),
		"images":         map[string]any{"type": "array", "items": imageSchema()},
		"blocks":         map[string]any{"type": "array", "items": leafSchema()},
	}
	return objectSchema(props, "type")
}

func subparagraphSchema(titles ...string) map[string]any {
	title := stringSchema()
	if len(titles) > 0 {
		title = enumSchema(titles...)
	}
	return objectSchema(map[string]any{
		"type":   enumSchema("subparagraph"),
		"title":  title,
		"blocks": map[string]any{"type": "array", "items": childSchema(), "minItems": 1},
	}, "type", "title", "blocks")
}

// SectionSchema describes a whole-section draft. With required titles the
// top level is pinned to exactly that many subparagraphs.
func SectionSchema(sectionTitle string, required []string) map[string]any {
	blocks := map[string]any{"type": "array", "items": subparagraphSchema(required...)}
	if len(required) > 0 {
		blocks["minItems"] = len(required)
		blocks["maxItems"] = len(required)
	} else {
		blocks["minItems"] = 1
	}
	title := stringSchema()
	if sectionTitle != "" {
		title = enumSchema(sectionTitle)
	}
	return objectSchema(map[string]any{
		"title":  title,
		"blocks": blocks,
	}, "title", "blocks")
}

// NodeSchema describes one split-mode subparagraph with a fixed title.
func NodeSchema(title string) map[string]any {
	return subparagraphSchema(title)
}

func repairSparseSchema(n int) map[string]any {
	arr := stringArraySchema()
	arr["minItems"] = n
	return objectSchema(map[string]any{"paragraphs": arr}, "paragraphs")
}

func repairBoxSchema() map[string]any {
	return objectSchema(map[string]any{
		"introHtml": stringSchema(),
		"boxHtml":   stringSchema(),
	}, "introHtml", "boxHtml")
}

func repairMicroheadingSchema() map[string]any {
	return objectSchema(map[string]any{"basisHtml": stringSchema()}, "basisHtml")
}
