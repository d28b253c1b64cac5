package tools

import (
	"strings"
	"testing"
)

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("x", 100)

	tests := []struct {
		name     string
		input    string
		maxBytes int
		want     string
	}{
		{"short passthrough", "hello", 100, "hello"},
		{"exact fit", "hello", 5, "hello"},
		{"hard cut below notice size", long, 10, long[:10]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := TruncateOutput(tc.input, tc.maxBytes); got != tc.want {
				t.Errorf("TruncateOutput(%q, %d) = %q, want %q", tc.input, tc.maxBytes, got, tc.want)
			}
		})
	}
}

func TestTruncateOutputNotice(t *testing.T) {
	got := TruncateOutput(strings.Repeat("x", 100), 50)
	if len(got) != 50 {
		t.Errorf("len = %d, want 50", len(got))
	}
	if !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("missing truncation notice: %q", got)
	}
}
