// Package palette parses line colors and buckets normalized category values
// into a fixed, ordered list of colors.
package palette

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/colornames"
)

var (
	ErrUnknownColor    = errors.New("unknown color")
	ErrDegenerateRange = errors.New("degenerate category range")
)

// DefaultNames is the palette used when category coloring is requested
// without an explicit list: low values red, high values lime.
var DefaultNames = []string{"red", "orange", "gold", "yellow", "limegreen", "lime"}

type Palette []color.Color

// Default returns a fresh copy of the default six color palette.
func Default() Palette {
	p, _ := ParseAll(DefaultNames)
	return p
}

// Parse accepts an SVG/CSS color name ("limegreen") or a hex value
// ("#f00", "#ff0000", "#ff000080").
func Parse(s string) (color.Color, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnknownColor)
	}
	if strings.HasPrefix(v, "#") {
		return parseHex(v)
	}
	if c, ok := colornames.Map[v]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownColor, s)
}

func ParseAll(names []string) (Palette, error) {
	p := make(Palette, 0, len(names))
	for _, n := range names {
		c, err := Parse(n)
		if err != nil {
			return nil, err
		}
		p = append(p, c)
	}
	return p, nil
}

func parseHex(s string) (color.Color, error) {
	var r, g, b uint8
	a := uint8(255)
	var err error
	switch len(s) {
	case 4:
		_, err = fmt.Sscanf(s, "#%1x%1x%1x", &r, &g, &b)
		r, g, b = r*17, g*17, b*17
	case 7:
		_, err = fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b)
	case 9:
		_, err = fmt.Sscanf(s, "#%02x%02x%02x%02x", &r, &g, &b, &a)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownColor, s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColor, s)
	}
	return color.NRGBA{R: r, G: g, B: b, A: a}, nil
}

// Index maps norm in [0,1] to floor(norm*len(p)), clamped to the valid range.
func (p Palette) Index(norm float64) int {
	if len(p) == 0 {
		return 0
	}
	if math.IsNaN(norm) || norm <= 0 {
		return 0
	}
	i := int(math.Floor(norm * float64(len(p))))
	if i >= len(p) {
		i = len(p) - 1
	}
	return i
}

func (p Palette) At(norm float64) color.Color {
	return p[p.Index(norm)]
}

// Normalize min-max scales values into [0,1]. On a zero range it returns a
// slice of zeros together with ErrDegenerateRange so callers can choose to
// accept the flat mapping.
func Normalize(values []float64) ([]float64, error) {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out, nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		return out, fmt.Errorf("%w: min == max == %g", ErrDegenerateRange, lo)
	}
	span := hi - lo
	for i, v := range values {
		out[i] = (v - lo) / span
	}
	return out, nil
}

// Hex formats c as #rrggbb, used for SVG stroke attributes.
func Hex(c color.Color) string {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return fmt.Sprintf("#%02x%02x%02x", n.R, n.G, n.B)
}

// Opacity returns the alpha channel of c in [0,1].
func Opacity(c color.Color) float64 {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return float64(n.A) / 255
}
