package skeleton

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Draft is a model-produced section (or, in split mode, a single
// subparagraph): a title plus blocks.
type Draft struct {
	Title  string `json:"title"`
	Blocks Blocks `json:"blocks"`
}

func (d Draft) Clone() Draft {
	return Draft{Title: d.Title, Blocks: d.Blocks.Clone()}
}

// DecodeDraft turns a parsed model object into a Draft. Blocks missing a
// "type" get one inferred from their fields.
func DecodeDraft(obj map[string]any) (Draft, error) {
	if obj == nil {
		return Draft{}, fmt.Errorf("draft is empty")
	}
	if inner, ok := obj["section"].(map[string]any); ok && obj["blocks"] == nil {
		obj = inner
	}
	inferTypes(obj["blocks"])
	raw, err := json.Marshal(obj)
	if err != nil {
		return Draft{}, err
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return Draft{}, fmt.Errorf("decode draft: %w", err)
	}
	d.Title = NormalizeTitle(d.Title)
	return d, nil
}

func inferTypes(v any) {
	list, ok := v.([]any)
	if !ok {
		return
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); strings.TrimSpace(t) == "" {
			switch {
			case m["blocks"] != nil:
				m["type"] = string(KindSubparagraph)
			case m["basisHtml"] != nil:
				m["type"] = string(KindParagraph)
			case m["items"] != nil:
				m["type"] = string(KindList)
			}
		} else {
			m["type"] = strings.ToLower(strings.TrimSpace(t))
		}
		inferTypes(m["blocks"])
	}
}
