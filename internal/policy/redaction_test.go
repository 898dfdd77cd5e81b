package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIProfiles(t *testing.T) {
	out, changed := RedactPII("See https://www.linkedin.com/in/jane-doe and github.com/janedoe for details")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if strings.Contains(out, "jane-doe") || strings.Contains(out, "janedoe") {
		t.Fatalf("profile handles leaked: %q", out)
	}
}

func TestRedactPIILeavesPlainAnswers(t *testing.T) {
	in := "I used an LRU cache with sharding across 16 nodes."
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v", in, out, changed)
	}
}

func TestLogPreview(t *testing.T) {
	got := LogPreview("  reach me at\nsam@example.com please  ", 0)
	if got != "reach me at [REDACTED_EMAIL] please" {
		t.Fatalf("LogPreview() = %q", got)
	}
	if got := LogPreview("abcdefgh", 3); got != "abc…" {
		t.Fatalf("LogPreview() clipped = %q", got)
	}
}
