package progress

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBarRender(t *testing.T) {
	tests := []struct {
		name    string
		message string
		max     int
		value   int
		prefix  string
		suffix  string
	}{
		{"empty", "", 0, 0, "  0% ▕", "0/0 values"},
		{"half", "conv1", 100, 50, "conv1  50% ▕", "50/100 values"},
		{"large", "fc9", 2_000_000, 500_000, "fc9  25% ▕", "500K/2.00M values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBar(tt.message, tt.max)
			b.Set(tt.message, tt.value)

			got := b.render(80)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("render() = %q, want prefix %q", got, tt.prefix)
			}

			if !strings.HasSuffix(got, tt.suffix) {
				t.Errorf("render() = %q, want suffix %q", got, tt.suffix)
			}

			if n := utf8.RuneCountInString(got); n != 80 {
				t.Errorf("render() is %d wide, want 80", n)
			}
		})
	}
}

func TestBarComplete(t *testing.T) {
	b := NewBar("conv1", 100)
	b.Set("conv9", 150)

	got := b.render(80)
	if !strings.HasPrefix(got, "conv9 100% ▕"+strings.Repeat("█", 10)) {
		t.Errorf("render() = %q", got)
	}

	if !strings.Contains(got, "100/100 values [") {
		t.Errorf("render() = %q, want elapsed time", got)
	}
}

func TestBarNarrow(t *testing.T) {
	b := NewBar("conv1", 10)
	b.Set("conv1", 5)

	if got, want := b.render(10), "conv1  50% 5/10 values"; got != want {
		t.Errorf("render() = %q, want %q", got, want)
	}
}
