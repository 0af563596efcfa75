package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKVsRedactsCredentialsAndPrompts(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"openai_api_key", "sk-live",
		"system_prompt", "You are ...",
		"section_id", "3.4",
		"organization_id", "org-1",
	})

	assert.Equal(t, "[REDACTED]", out[1])
	assert.Equal(t, "[REDACTED]", out[3])
	assert.Equal(t, "3.4", out[5])
	hashed, _ := out[7].(string)
	assert.True(t, strings.HasPrefix(hashed, "hash:"), "got %q", hashed)
}

func TestSanitizeKVsKeepsDanglingKey(t *testing.T) {
	out := sanitizeKVs([]interface{}{"stage", "draft", "orphan"})
	assert.Equal(t, []interface{}{"stage", "draft", "orphan"}, out)
}

func TestNamedAndWithDoNotPanicOnNop(t *testing.T) {
	l := NewNop().Named("drafting").With("book_id", "b1")
	l.Info("tick", "section_id", "1.1")
	l.Sync()
}
