package envutil

import (
	"testing"
	"time"
)

func TestIntRangeClamps(t *testing.T) {
	t.Setenv("X_INT", "99")
	if got := IntRange("X_INT", 5, 1, 10); got != 10 {
		t.Fatalf("want=10 got=%d", got)
	}
	t.Setenv("X_INT", "-3")
	if got := IntRange("X_INT", 5, 1, 10); got != 1 {
		t.Fatalf("want=1 got=%d", got)
	}
	t.Setenv("X_INT", "nope")
	if got := IntRange("X_INT", 5, 1, 10); got != 5 {
		t.Fatalf("want=5 got=%d", got)
	}
}

func TestBoolAndDurations(t *testing.T) {
	t.Setenv("X_BOOL", "off")
	if Bool("X_BOOL", true) {
		t.Fatalf("want=false")
	}
	t.Setenv("X_SECS", "45")
	if got := Seconds("X_SECS", time.Second); got != 45*time.Second {
		t.Fatalf("want=45s got=%s", got)
	}
	t.Setenv("X_DUR", "2m")
	if got := Duration("X_DUR", time.Second); got != 2*time.Minute {
		t.Fatalf("want=2m got=%s", got)
	}
	if got := String("X_UNSET_FOR_TEST", "def"); got != "def" {
		t.Fatalf("want=def got=%q", got)
	}
}
