package darknet

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const tinyConfig = `[net]
# training parameters
batch=64
width=208
height=208
channels=3
momentum=0.9

[convolutional]
batch_normalize=1
filters=16
size=3
stride=1
pad=1
activation=leaky

[maxpool]
size=2
stride=2

[convolutional]
filters=125
size=1
stride=1
pad=1
activation=linear

[region]
anchors = 1.08,1.19,  3.42,4.41
classes=20
`

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig(strings.NewReader(tinyConfig))
	if err != nil {
		t.Fatal(err)
	}

	var kinds []string
	for i, s := range c.Sections {
		if s.Index != i {
			t.Errorf("section %d has index %d", i, s.Index)
		}
		kinds = append(kinds, s.Kind)
	}

	if diff := cmp.Diff([]string{"net", "convolutional", "maxpool", "convolutional", "region"}, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"batch", "width", "height", "channels", "momentum"}, c.Sections[0].Keys()); diff != "" {
		t.Errorf("key order mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(map[string]any{
		"batch_normalize": 1,
		"filters":         16,
		"size":            3,
		"stride":          1,
		"pad":             1,
		"activation":      "leaky",
	}, c.Sections[1].Map()); diff != "" {
		t.Errorf("convolutional attrs mismatch (-want +got):\n%s", diff)
	}

	anchors, ok := c.Lookup(KindRegion, "anchors")
	if !ok {
		t.Fatal("expected anchors")
	}

	if diff := cmp.Diff([]any{1.08, 1.19, 3.42, 4.41}, anchors); diff != "" {
		t.Errorf("anchors mismatch (-want +got):\n%s", diff)
	}

	if n := c.Count(KindConvolutional); n != 2 {
		t.Errorf("expected 2 convolutional sections, got %d", n)
	}
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{"3", 3},
		{" -1 ", -1},
		{"0.5", 0.5},
		{"1e-3", 0.001},
		{"leaky", "leaky"},
		{"-1,-4", []any{-1, -4}},
		{"1, 2.5, x", []any{1, 2.5, "x"}},
		{"1,", []any{1}},
	}

	for _, tt := range cases {
		t.Run(tt.raw, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseValue(tt.raw)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSectionKind(t *testing.T) {
	cases := map[string]string{
		"net":             "net",
		"convolutional_3": "convolutional",
		"Maxpool":         "maxpool",
	}

	for name, want := range cases {
		if got := NewSection(name, 0).Kind; got != want {
			t.Errorf("NewSection(%q).Kind = %q, want %q", name, got, want)
		}
	}
}

func TestParseConfigMalformed(t *testing.T) {
	cases := map[string]string{
		"key outside section": "width=3\n[net]\nheight=3\n",
		"missing delimiter":   "[net]\nwidth\n",
	}

	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(cfg))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestReadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tiny-yolo-voc.2.0.cfg")
	if err := os.WriteFile(p, []byte(tinyConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := ReadConfig(p)
	if err != nil {
		t.Fatal(err)
	}

	if c.Name != "tiny-yolo-voc" {
		t.Errorf("expected name tiny-yolo-voc, got %q", c.Name)
	}

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.cfg"))
	var cerr *ConfigError
	if !errors.As(err, &cerr) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ConfigError wrapping ErrNotExist, got %v", err)
	}
}
