package logger

import (
	"testing"
	"time"
)

func TestSanitizeLimit(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"plain", "hello", 10, "hello"},
		{"truncated", "hello world", 5, "hello"},
		{"control chars", "a\nb\tc", 10, "a b c"},
		{"trimmed", "  padded  ", 10, "padded"},
		{"zero limit keeps all", "unbounded", 0, "unbounded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeLimit(tc.in, tc.limit); got != tc.want {
				t.Fatalf("SanitizeLimit(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	if got := Status(nil); got != "ok" {
		t.Fatalf("Status(nil) = %q", got)
	}
	if got := Status(errTest); got != "error" {
		t.Fatalf("Status(err) = %q", got)
	}
}

var errTest = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "test" }

func TestRoundMS(t *testing.T) {
	if got := RoundMS(-time.Second); got != 0 {
		t.Fatalf("negative duration should round to 0, got %v", got)
	}
	if got := RoundMS(1500 * time.Microsecond); got != 2*time.Millisecond {
		t.Fatalf("expected 2ms, got %v", got)
	}
}

func TestNewRIDShortForm(t *testing.T) {
	rid := NewRID()
	if len(rid) != 8 {
		t.Fatalf("expected 8-char rid, got %q", rid)
	}
	if rid == NewRID() {
		t.Fatal("consecutive rids should differ")
	}
}

func TestRIDRoundTrip(t *testing.T) {
	ctx := WithRID(Background(), "rid-1")
	if got := RIDFrom(ctx); got != "rid-1" {
		t.Fatalf("RIDFrom = %q", got)
	}
	if got := RIDFrom(nil); got != "" {
		t.Fatalf("RIDFrom(nil) = %q", got)
	}
}
