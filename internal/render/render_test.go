package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"geomixtrail/internal/basemap"
	"geomixtrail/internal/palette"
	"geomixtrail/internal/track"

	"github.com/paulmach/orb"
)

var blue = color.RGBA{B: 255, A: 255}

// twoRoutes is R1 (3 points going north) and R2 (2 points further east).
const twoRoutes = `Coderoute,Latitude,Longitude,Date,Speed
R1,48.00,2.00,d1,0
R1,48.01,2.00,d2,50
R1,48.02,2.00,d3,100
R2,48.00,2.05,d4,10
R2,48.02,2.05,d5,20
`

func loadSet(t *testing.T, data string) *track.Set {
	t.Helper()
	opts := track.DefaultOptions()
	opts.MinPointDistanceMeters = 0
	s, err := track.ReadCSV(strings.NewReader(data), opts)
	if err != nil {
		t.Fatalf("read set: %v", err)
	}
	return s
}

func blankOptions() Options {
	opts := DefaultOptions()
	opts.Width = 300
	opts.Height = 200
	opts.BgMap = false
	opts.NewEncoder = nil
	return opts
}

func newRenderer(t *testing.T, s *track.Set, opts Options) *Renderer {
	t.Helper()
	r, err := New(s, opts)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return r
}

// pixelAt samples img at the projected position of lat/lon.
func pixelAt(img image.Image, r *Renderer, lat, lon float64) color.RGBA {
	bd := basemap.Blank(r.ComputeBoundingBox(), r.opts.MapConfig)
	v := newView(bd, r.opts.Width, r.opts.Height)
	x, y := v.project(orb.Point{lon, lat})
	return color.RGBAModel.Convert(img.At(int(x), int(y))).(color.RGBA)
}

func isBlue(c color.RGBA) bool  { return c.B > 150 && c.R < 100 && c.G < 100 }
func isWhite(c color.RGBA) bool { return c.R > 240 && c.G > 240 && c.B > 240 }

func TestComputeBoundingBoxCoversRawSamples(t *testing.T) {
	opts := track.DefaultOptions()
	opts.MinPointDistanceMeters = 1e7
	s, err := track.ReadCSV(strings.NewReader(twoRoutes), opts)
	if err != nil {
		t.Fatal(err)
	}
	r := newRenderer(t, s, blankOptions())
	b := r.ComputeBoundingBox()
	if b.Min.Lat() != 48.0 || b.Max.Lat() != 48.02 || b.Min.Lon() != 2.0 || b.Max.Lon() != 2.05 {
		t.Fatalf("unexpected bound %v", b)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	s := loadSet(t, twoRoutes)
	tests := []struct {
		name string
		mod  func(*Options)
	}{
		{"zero width", func(o *Options) { o.Width = 0 }},
		{"transparency", func(o *Options) { o.MapTransparency = 1.5 }},
		{"map without source", func(o *Options) { o.BgMap = true; o.Backdrop = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := blankOptions()
			tt.mod(&opts)
			if _, err := New(s, opts); !errors.Is(err, track.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if _, err := New(nil, blankOptions()); !errors.Is(err, track.ErrInvalidInput) {
		t.Fatalf("nil set should be rejected")
	}
}

func TestRenderStaticImageTwoRoutes(t *testing.T) {
	s := loadSet(t, twoRoutes)
	s.SetColor(blue)
	r := newRenderer(t, s, blankOptions())
	out := filepath.Join(t.TempDir(), "out.png")
	if err := r.RenderStaticImage(context.Background(), out, 4); err != nil {
		t.Fatalf("render: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 200 {
		t.Fatalf("size = %v", img.Bounds())
	}
	if c := pixelAt(img, r, 48.005, 2.0); !isBlue(c) {
		t.Fatalf("R1 segment not drawn: %v", c)
	}
	if c := pixelAt(img, r, 48.01, 2.05); !isBlue(c) {
		t.Fatalf("R2 segment not drawn: %v", c)
	}
	// R1's last point and R2's first point are never joined.
	if c := pixelAt(img, r, 48.01, 2.025); !isWhite(c) {
		t.Fatalf("routes connected: %v", c)
	}
	entries, _ := os.ReadDir(filepath.Dir(out))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestRenderStaticImageCategoryColors(t *testing.T) {
	s := loadSet(t, twoRoutes)
	pal := palette.Default()
	if err := s.SetColorsByCategory("Speed", pal); err != nil {
		t.Fatal(err)
	}
	r := newRenderer(t, s, blankOptions())
	out := filepath.Join(t.TempDir(), "out.png")
	if err := r.RenderStaticImage(context.Background(), out, 4); err != nil {
		t.Fatalf("render: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// First R1 segment starts at the minimum speed: palette[0] is red.
	c := pixelAt(img, r, 48.005, 2.0)
	if c.R < 200 || c.G > 60 || c.B > 60 {
		t.Fatalf("expected red first segment, got %v", c)
	}
	// Second R1 segment starts at the midpoint: palette[3] is yellow.
	c = pixelAt(img, r, 48.015, 2.0)
	if c.R < 200 || c.G < 200 || c.B > 60 {
		t.Fatalf("expected yellow second segment, got %v", c)
	}
}

func TestRenderStaticImageJPEG(t *testing.T) {
	s := loadSet(t, twoRoutes)
	r := newRenderer(t, s, blankOptions())
	out := filepath.Join(t.TempDir(), "out.jpeg")
	if err := r.RenderStaticImage(context.Background(), out, 4); err != nil {
		t.Fatalf("render: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 200 {
		t.Fatalf("size = %v", img.Bounds())
	}
}

func TestRenderStaticImageSVG(t *testing.T) {
	s := loadSet(t, twoRoutes)
	s.SetColor(blue)
	r := newRenderer(t, s, blankOptions())
	out := filepath.Join(t.TempDir(), "out.svg")
	if err := r.RenderStaticImage(context.Background(), out, 3); err != nil {
		t.Fatalf("render: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	doc := string(b)
	for _, want := range []string{"<svg", `id="route-R1"`, `id="route-R2"`, "<polyline", "stroke:#0000ff", "data:image/png;base64,"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("svg missing %q", want)
		}
	}
	if n := strings.Count(doc, "<polyline"); n != 2 {
		t.Fatalf("expected 2 polylines, got %d", n)
	}
}

func TestRenderStaticImageErrors(t *testing.T) {
	s := loadSet(t, twoRoutes)
	r := newRenderer(t, s, blankOptions())
	dir := t.TempDir()
	if err := r.RenderStaticImage(context.Background(), filepath.Join(dir, "out.bmp"), 4); !errors.Is(err, track.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := r.RenderStaticImage(context.Background(), filepath.Join(dir, "out.png"), 0); !errors.Is(err, track.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero line width, got %v", err)
	}
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.RenderStaticImage(context.Background(), filepath.Join(blocker, "out.png"), 4); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

type failingSource struct{ calls int }

func (f *failingSource) Fetch(context.Context, orb.Bound) (*basemap.Backdrop, error) {
	f.calls++
	return nil, errors.New("tile server down")
}

type solidSource struct{ c color.Color }

func (s solidSource) Fetch(_ context.Context, b orb.Bound) (*basemap.Backdrop, error) {
	bd := basemap.Blank(b, basemap.DefaultConfig())
	for y := 0; y < bd.Image.Bounds().Dy(); y++ {
		for x := 0; x < bd.Image.Bounds().Dx(); x++ {
			bd.Image.Set(x, y, s.c)
		}
	}
	return bd, nil
}

func TestBackdropFailure(t *testing.T) {
	s := loadSet(t, twoRoutes)
	src := &failingSource{}
	opts := blankOptions()
	opts.BgMap = true
	opts.Backdrop = src
	r := newRenderer(t, s, opts)
	out := filepath.Join(t.TempDir(), "out.png")
	err := r.RenderStaticImage(context.Background(), out, 4)
	if !errors.Is(err, basemap.ErrBackdropUnavailable) {
		t.Fatalf("expected ErrBackdropUnavailable, got %v", err)
	}
	if _, statErr := os.Stat(out); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("output should not exist")
	}
}

func TestMapTransparencyBlendsBackdrop(t *testing.T) {
	s := loadSet(t, twoRoutes)
	opts := blankOptions()
	opts.BgMap = true
	opts.MapTransparency = 0.5
	opts.Backdrop = solidSource{c: color.Black}
	r := newRenderer(t, s, opts)
	out := filepath.Join(t.TempDir(), "out.png")
	if err := r.RenderStaticImage(context.Background(), out, 1); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	c := pixelAt(img, r, 48.01, 2.025)
	if c.R < 110 || c.R > 145 {
		t.Fatalf("expected half-blended gray, got %v", c)
	}
}

func TestNoMapSkipsFetch(t *testing.T) {
	s := loadSet(t, twoRoutes)
	src := &failingSource{}
	opts := blankOptions()
	opts.Backdrop = src
	r := newRenderer(t, s, opts)
	if err := r.RenderStaticImage(context.Background(), filepath.Join(t.TempDir(), "o.png"), 2); err != nil {
		t.Fatal(err)
	}
	if src.calls != 0 {
		t.Fatalf("backdrop fetched although map is disabled")
	}
}

type recordingMetrics struct {
	frames int
	kinds  []string
}

func (m *recordingMetrics) FramesAdd(n int) { m.frames += n }
func (m *recordingMetrics) RenderObserve(kind string, _ time.Duration) {
	m.kinds = append(m.kinds, kind)
}

func TestRenderReportsMetrics(t *testing.T) {
	s := loadSet(t, twoRoutes)
	m := &recordingMetrics{}
	opts := blankOptions()
	opts.Metrics = m
	enc := &fakeEncoder{}
	opts.NewEncoder = enc.factory
	r := newRenderer(t, s, opts)
	if err := r.RenderStaticImage(context.Background(), filepath.Join(t.TempDir(), "o.png"), 2); err != nil {
		t.Fatal(err)
	}
	if err := r.RenderVideo(context.Background(), filepath.Join(t.TempDir(), "o.mp4"), 2, 30, 0); err != nil {
		t.Fatal(err)
	}
	if m.frames != 3 || fmt.Sprint(m.kinds) != "[image video]" {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}
