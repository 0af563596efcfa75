package attempt

import (
	"encoding/json"
	"strings"
)

// Payload keys for the resumable state. They live next to the request fields
// in the job payload and are merged back in by the job system on requeue.
const (
	KeyTimeoutAttempts = "llm_timeout_attempts"
	KeyDraftAttempts   = "draft_attempts"
	KeyMaxTokens       = "max_tokens"
	KeyLastFailure     = "last_failure"
	KeyMustFix         = "must_fix"
	KeyForceSplit      = "force_split"
	KeyNextTitle       = "next_title"
	KeyFinalAttempts   = "final_attempts"
)

// Hint is a must-fix instruction carried into the next attempt's prompt.
type Hint struct {
	Rule    string `json:"rule"`
	Title   string `json:"title,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Context is the immutable retry state handed to a tick. Every transition
// returns a new value.
type Context struct {
	TimeoutAttempts int
	DraftAttempts   int
	MaxTokens       int
	LastFailure     string
	MustFix         []Hint
	ForceSplit      bool
	NextTitle       string
	// FinalAttempts counts failed whole-section checks after split drafting.
	// Unlike DraftAttempts it survives node completion.
	FinalAttempts int
}

// FromPayload reads the state fields; anything missing is zero.
func FromPayload(p map[string]any) Context {
	c := Context{
		TimeoutAttempts: intField(p[KeyTimeoutAttempts]),
		DraftAttempts:   intField(p[KeyDraftAttempts]),
		MaxTokens:       intField(p[KeyMaxTokens]),
		LastFailure:     strField(p[KeyLastFailure]),
		ForceSplit:      boolField(p[KeyForceSplit]),
		NextTitle:       strField(p[KeyNextTitle]),
		FinalAttempts:   intField(p[KeyFinalAttempts]),
	}
	if raw, ok := p[KeyMustFix]; ok && raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			var hints []Hint
			if json.Unmarshal(b, &hints) == nil {
				c.MustFix = hints
			}
		}
	}
	return c
}

// Patch is the full set of state fields, suitable for merging into the payload.
func (c Context) Patch() map[string]any {
	hints := make([]any, 0, len(c.MustFix))
	for _, h := range c.MustFix {
		hints = append(hints, map[string]any{"rule": h.Rule, "title": h.Title, "field": h.Field, "message": h.Message})
	}
	return map[string]any{
		KeyTimeoutAttempts: c.TimeoutAttempts,
		KeyDraftAttempts:   c.DraftAttempts,
		KeyMaxTokens:       c.MaxTokens,
		KeyLastFailure:     c.LastFailure,
		KeyMustFix:         hints,
		KeyForceSplit:      c.ForceSplit,
		KeyNextTitle:       c.NextTitle,
		KeyFinalAttempts:   c.FinalAttempts,
	}
}

func (c Context) withHints(h []Hint) Context {
	c.MustFix = append([]Hint(nil), h...)
	return c
}

func intField(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func strField(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func boolField(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}
