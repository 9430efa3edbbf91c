// Package basemap builds the raster backdrop tracks are drawn over: it picks a
// zoom and tile box for a bounding box, fetches and stitches slippy-map tiles
// and projects lat/lon into the stitched raster.
package basemap

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const TileSize = 256

// Web Mercator latitude limit.
const maxLat = 85.0511

var ErrBackdropUnavailable = errors.New("backdrop unavailable")

type Config struct {
	TileURL      string
	UserAgent    string
	Margin       float64 // fraction of the bound span added on each side
	MaxZoom      int
	MaxTiles     int
	Concurrency  int
	Timeout      time.Duration
	MaxRetries   int
	RetryInitial time.Duration
}

func DefaultConfig() Config {
	return Config{
		TileURL:      "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		UserAgent:    "geomixtrail/0.1",
		Margin:       0.05,
		MaxZoom:      18,
		MaxTiles:     16,
		Concurrency:  4,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryInitial: 500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TileURL == "" {
		c.TileURL = d.TileURL
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.Margin < 0 {
		c.Margin = 0
	}
	if c.MaxZoom <= 0 || c.MaxZoom > 22 {
		c.MaxZoom = d.MaxZoom
	}
	if c.MaxTiles <= 0 {
		c.MaxTiles = d.MaxTiles
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = d.RetryInitial
	}
	return c
}

// Box is the rectangle of tiles covering a bound at one zoom level. Max is
// inclusive.
type Box struct {
	Zoom       maptile.Zoom
	MinX, MinY uint32
	MaxX, MaxY uint32
}

func (b Box) Cols() int  { return int(b.MaxX-b.MinX) + 1 }
func (b Box) Rows() int  { return int(b.MaxY-b.MinY) + 1 }
func (b Box) Count() int { return b.Cols() * b.Rows() }

// Size is the stitched raster size in pixels.
func (b Box) Size() (w, h int) { return b.Cols() * TileSize, b.Rows() * TileSize }

// Tiles lists the box row by row.
func (b Box) Tiles() maptile.Tiles {
	ts := make(maptile.Tiles, 0, b.Count())
	for y := b.MinY; y <= b.MaxY; y++ {
		for x := b.MinX; x <= b.MaxX; x++ {
			ts = append(ts, maptile.New(x, y, b.Zoom))
		}
	}
	return ts
}

// Offset of tile t inside the stitched raster.
func (b Box) Offset(t maptile.Tile) image.Point {
	return image.Pt(int(t.X-b.MinX)*TileSize, int(t.Y-b.MinY)*TileSize)
}

// Pad grows the bound by margin times its span on every side and clamps it to
// the mercator world.
func Pad(bound orb.Bound, margin float64) orb.Bound {
	dLon := (bound.Max.Lon() - bound.Min.Lon()) * margin
	dLat := (bound.Max.Lat() - bound.Min.Lat()) * margin
	return orb.Bound{
		Min: orb.Point{clamp(bound.Min.Lon()-dLon, -180, 180), clamp(bound.Min.Lat()-dLat, -maxLat, maxLat)},
		Max: orb.Point{clamp(bound.Max.Lon()+dLon, -180, 180), clamp(bound.Max.Lat()+dLat, -maxLat, maxLat)},
	}
}

// TileBox pads bound by cfg.Margin and returns the box at the highest zoom
// (starting from cfg.MaxZoom) that needs at most cfg.MaxTiles tiles.
func TileBox(bound orb.Bound, cfg Config) Box {
	cfg = cfg.withDefaults()
	padded := Pad(bound, cfg.Margin)
	var box Box
	for z := cfg.MaxZoom; z >= 0; z-- {
		box = boxAt(padded, maptile.Zoom(z))
		if box.Count() <= cfg.MaxTiles {
			break
		}
	}
	return box
}

func boxAt(b orb.Bound, z maptile.Zoom) Box {
	nw := maptile.Fraction(orb.Point{b.Min.Lon(), b.Max.Lat()}, z)
	se := maptile.Fraction(orb.Point{b.Max.Lon(), b.Min.Lat()}, z)
	last := float64(uint32(1)<<z) - 1
	return Box{
		Zoom: z,
		MinX: uint32(clamp(math.Floor(nw[0]), 0, last)),
		MinY: uint32(clamp(math.Floor(nw[1]), 0, last)),
		MaxX: uint32(clamp(math.Floor(se[0]), 0, last)),
		MaxY: uint32(clamp(math.Floor(se[1]), 0, last)),
	}
}

// Backdrop is a stitched raster and the projection into it.
type Backdrop struct {
	Image *image.RGBA
	Box   Box
	// Bound is the padded geographic extent the box was chosen for.
	Bound orb.Bound
}

// ToPixels projects a position into Image coordinates.
func (b *Backdrop) ToPixels(lat, lon float64) (x, y float64) {
	f := maptile.Fraction(orb.Point{lon, clamp(lat, -maxLat, maxLat)}, b.Box.Zoom)
	return (f[0] - float64(b.Box.MinX)) * TileSize, (f[1] - float64(b.Box.MinY)) * TileSize
}

// Blank returns a white backdrop with the same geometry a fetch would use.
func Blank(bound orb.Bound, cfg Config) *Backdrop {
	cfg = cfg.withDefaults()
	box := TileBox(bound, cfg)
	w, h := box.Size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return &Backdrop{Image: img, Box: box, Bound: Pad(bound, cfg.Margin)}
}

// BlankSource serves blank backdrops, used when the map is disabled.
type BlankSource struct {
	Config Config
}

func (s BlankSource) Fetch(_ context.Context, bound orb.Bound) (*Backdrop, error) {
	return Blank(bound, s.Config), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
