package promptstyle

import (
	"strings"
	"testing"
)

func TestApplySystemIsIdempotent(t *testing.T) {
	once := ApplySystem("Write section 3.4.", "json")
	twice := ApplySystem(once, "json")
	if once != twice {
		t.Fatalf("want idempotent output")
	}
	if !strings.HasPrefix(once, marker) {
		t.Fatalf("want marker prefix, got %q", once[:20])
	}
	if !strings.Contains(once, "exactly one JSON object") {
		t.Fatalf("json mode guidance missing")
	}
}

func TestApplySystemEmpty(t *testing.T) {
	if got := ApplySystem("   ", "json"); got != "" {
		t.Fatalf("want empty got=%q", got)
	}
}
