package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response carries no decodable JSON object.
var ErrNoJSON = errors.New("model output contains no JSON object")

// ParseModelOutput normalizes both response envelopes into one object.
// Tool-call arguments win over text. Text may be wrapped in markdown fences
// or surrounded by prose; the first balanced top-level object is used.
func ParseModelOutput(out Output) (map[string]any, error) {
	for _, args := range out.ToolArguments {
		if obj, err := decodeObject(args); err == nil {
			return unwrapEnvelope(obj), nil
		}
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return nil, ErrNoJSON
	}
	if obj, err := decodeObject(stripFences(text)); err == nil {
		return unwrapEnvelope(obj), nil
	}
	candidate, ok := firstObject(text)
	if !ok {
		return nil, fmt.Errorf("%w (stop_reason=%s)", ErrNoJSON, out.StopReason)
	}
	obj, err := decodeObject(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: decode model JSON: %v", ErrNoJSON, err)
	}
	return unwrapEnvelope(obj), nil
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrNoJSON
	}
	return obj, nil
}

// Some tool-call responses come back as {"input": {...}} or {"arguments": "..."}.
func unwrapEnvelope(obj map[string]any) map[string]any {
	if len(obj) != 1 {
		return obj
	}
	for _, key := range []string{"input", "arguments"} {
		switch inner := obj[key].(type) {
		case map[string]any:
			return inner
		case string:
			if m, err := decodeObject(inner); err == nil {
				return m
			}
		}
	}
	return obj
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// firstObject scans for the first balanced {...} while respecting JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
