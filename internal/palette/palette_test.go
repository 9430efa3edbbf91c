package palette

import (
	"errors"
	"image/color"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
	}{
		{"red", color.NRGBA{255, 0, 0, 255}},
		{"LimeGreen", color.NRGBA{50, 205, 50, 255}},
		{"#00f", color.NRGBA{0, 0, 255, 255}},
		{"#336699", color.NRGBA{0x33, 0x66, 0x99, 255}},
		{"#33669980", color.NRGBA{0x33, 0x66, 0x99, 0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.in, err)
			}
			got := color.NRGBAModel.Convert(c).(color.NRGBA)
			if got != tt.want {
				t.Fatalf("parse %q = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseUnknown(t *testing.T) {
	for _, in := range []string{"", "notacolor", "#12", "#zzzzzz"} {
		if _, err := Parse(in); !errors.Is(err, ErrUnknownColor) {
			t.Fatalf("parse %q: expected ErrUnknownColor, got %v", in, err)
		}
	}
}

func TestDefaultPalette(t *testing.T) {
	p := Default()
	if len(p) != 6 {
		t.Fatalf("expected 6 colors, got %d", len(p))
	}
	if Hex(p[0]) != "#ff0000" || Hex(p[5]) != "#00ff00" {
		t.Fatalf("unexpected ends: %s %s", Hex(p[0]), Hex(p[5]))
	}
}

func TestIndex(t *testing.T) {
	p := Default()
	tests := []struct {
		norm float64
		want int
	}{
		{0, 0},
		{-0.2, 0},
		{0.16, 0},
		{0.17, 1},
		{0.5, 3},
		{0.99, 5},
		{1, 5},
		{1.5, 5},
	}
	for _, tt := range tests {
		if got := p.Index(tt.norm); got != tt.want {
			t.Fatalf("Index(%v) = %d, want %d", tt.norm, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize([]float64{0, 50, 100})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := []float64{0, 0.5, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("normalize[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNormalizeDegenerate(t *testing.T) {
	got, err := Normalize([]float64{7, 7, 7})
	if !errors.Is(err, ErrDegenerateRange) {
		t.Fatalf("expected ErrDegenerateRange, got %v", err)
	}
	for i, v := range got {
		if v != 0 {
			t.Fatalf("normalize[%d] = %v, want 0", i, v)
		}
	}
}
