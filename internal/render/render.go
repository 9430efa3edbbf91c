// Package render draws a track set over a map backdrop, either as one static
// image or as a video with one new segment per frame.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"geomixtrail/internal/basemap"
	"geomixtrail/internal/track"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
)

var (
	ErrRender   = errors.New("render error")
	ErrEncoding = errors.New("encoding error")
	ErrIO       = errors.New("io error")
)

// BackdropSource produces the map raster for a geographic bound.
type BackdropSource interface {
	Fetch(ctx context.Context, bound orb.Bound) (*basemap.Backdrop, error)
}

type Metrics interface {
	FramesAdd(n int)
	RenderObserve(kind string, d time.Duration)
}

type Options struct {
	Width  int
	Height int

	// BgMap composites the fetched map. When false the backdrop is blank
	// white and nothing is fetched.
	BgMap           bool
	MapTransparency float64
	Backdrop        BackdropSource
	// MapConfig sets the tile-box geometry of blank backdrops.
	MapConfig basemap.Config

	NewEncoder EncoderFactory
	Progress   Progress
	Metrics    Metrics
	Logger     *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		Width:           1200,
		Height:          800,
		BgMap:           true,
		MapTransparency: 0.7,
		MapConfig:       basemap.DefaultConfig(),
		NewEncoder:      FFmpeg("ffmpeg"),
	}
}

// Renderer is single-use per call and not safe for concurrent use.
type Renderer struct {
	set  *track.Set
	opts Options
	log  *zap.Logger
}

func New(set *track.Set, opts Options) (*Renderer, error) {
	if set == nil || set.Len() == 0 {
		return nil, fmt.Errorf("%w: empty track set", track.ErrInvalidInput)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", track.ErrInvalidInput, opts.Width, opts.Height)
	}
	if opts.MapTransparency < 0 || opts.MapTransparency > 1 || math.IsNaN(opts.MapTransparency) {
		return nil, fmt.Errorf("%w: map transparency %v outside [0,1]", track.ErrInvalidInput, opts.MapTransparency)
	}
	if opts.BgMap && opts.Backdrop == nil {
		return nil, fmt.Errorf("%w: map enabled without a backdrop source", track.ErrInvalidInput)
	}
	if opts.Progress == nil {
		opts.Progress = NopProgress{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Renderer{set: set, opts: opts, log: opts.Logger}, nil
}

// ComputeBoundingBox covers every raw sample, not only the retained points.
func (r *Renderer) ComputeBoundingBox() orb.Bound { return r.set.Bounds() }

func (r *Renderer) backdrop(ctx context.Context) (*basemap.Backdrop, error) {
	bound := r.ComputeBoundingBox()
	if !r.opts.BgMap {
		return basemap.Blank(bound, r.opts.MapConfig), nil
	}
	bd, err := r.opts.Backdrop.Fetch(ctx, bound)
	if err != nil {
		if errors.Is(err, basemap.ErrBackdropUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", basemap.ErrBackdropUnavailable, err)
	}
	if bd == nil || bd.Image == nil {
		return nil, fmt.Errorf("%w: empty raster", basemap.ErrBackdropUnavailable)
	}
	return bd, nil
}

func (r *Renderer) observe(kind string, start time.Time) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.RenderObserve(kind, time.Since(start))
	}
}

// view maps the padded bound of a backdrop onto a w×h canvas, keeping the
// aspect ratio and centering it.
type view struct {
	bd     *basemap.Backdrop
	src    image.Rectangle
	scale  float64
	dx, dy float64
}

func newView(bd *basemap.Backdrop, w, h int) view {
	x0, y0 := bd.ToPixels(bd.Bound.Max.Lat(), bd.Bound.Min.Lon())
	x1, y1 := bd.ToPixels(bd.Bound.Min.Lat(), bd.Bound.Max.Lon())
	src := image.Rect(int(math.Floor(x0)), int(math.Floor(y0)), int(math.Ceil(x1)), int(math.Ceil(y1))).Intersect(bd.Image.Bounds())
	if src.Dx() < 2 || src.Dy() < 2 {
		src = bd.Image.Bounds()
	}
	s := math.Min(float64(w)/float64(src.Dx()), float64(h)/float64(src.Dy()))
	return view{
		bd:    bd,
		src:   src,
		scale: s,
		dx:    (float64(w) - float64(src.Dx())*s) / 2,
		dy:    (float64(h) - float64(src.Dy())*s) / 2,
	}
}

func (v view) project(p orb.Point) (x, y float64) {
	px, py := v.bd.ToPixels(p.Lat(), p.Lon())
	return (px-float64(v.src.Min.X))*v.scale + v.dx, (py-float64(v.src.Min.Y))*v.scale + v.dy
}

func (v view) dst() image.Rectangle {
	return image.Rect(
		int(math.Round(v.dx)),
		int(math.Round(v.dy)),
		int(math.Round(v.dx+float64(v.src.Dx())*v.scale)),
		int(math.Round(v.dy+float64(v.src.Dy())*v.scale)),
	)
}

// paint fills canvas white and composites the scaled backdrop at alpha.
func (v view) paint(canvas *image.RGBA, alpha float64) {
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	dr := v.dst()
	if dr.Empty() || alpha <= 0 {
		return
	}
	scaled := image.NewRGBA(dr)
	xdraw.CatmullRom.Scale(scaled, dr, v.bd.Image, v.src, xdraw.Src, nil)
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(alpha * 255))})
	draw.DrawMask(canvas, dr, scaled, dr.Min, mask, image.Point{}, draw.Over)
}
