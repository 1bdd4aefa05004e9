package orchestrator

import (
	"testing"

	"go.uber.org/zap"
)

func TestNormalize_PercentDecoding(t *testing.T) {
	n := NewNormalizer(zap.NewNop())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text unchanged", "kundeling archives", "kundeling archives"},
		{"encoded slash", "%2F10%2F9%2F4", "/10/9/4"},
		{"encoded hash path", "%23%2F10%2F9%2F4", "#/10/9/4"},
		{"encoded space", "hello%20world", "hello world"},
		{"identifier unchanged", "KCDC_A-005", "KCDC_A-005"},
		{"double encoded", "%2523", "#"},
		{"triple encoded", "%252523", "#"},
		{"encoded beyond pass budget keeps raw", "%25252523", "%25252523"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.input)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(zap.NewNop())

	inputs := []string{
		"kundeling archives",
		"%23%2F10%2F9%2F4",
		"#/10/9/4",
		"KCDC_A-005",
		"%2523",
		"%252523",
		"%25252523",
		"%2525252523",
		"100%25 complete",
		"",
	}

	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestNormalize_MalformedEscape(t *testing.T) {
	n := NewNormalizer(zap.NewNop())

	// A dangling or invalid escape must never error out; the raw string is
	// passed through for the classifier to handle.
	tests := []string{
		"100% wool",
		"50%",
		"%zz",
		"%2",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			got := n.Normalize(in)
			if got != in {
				t.Errorf("Normalize(%q) = %q, want input unchanged", in, got)
			}
		})
	}
}
