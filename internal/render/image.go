package render

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"geomixtrail/internal/basemap"
	"geomixtrail/internal/palette"
	"geomixtrail/internal/track"

	svg "github.com/ajstarks/svgo"
	"github.com/fogleman/gg"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
)

// Static images are drawn at this multiple of the output size and scaled
// down on save.
const supersample = 2

// RenderStaticImage draws every route over the backdrop and writes one file.
// The format follows the extension: .png, .jpg, .jpeg or .svg.
func (r *Renderer) RenderStaticImage(ctx context.Context, outputPath string, lineWidth float64) error {
	start := time.Now()
	ext := strings.ToLower(filepath.Ext(outputPath))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".svg":
	default:
		return fmt.Errorf("%w: unsupported image format %q", track.ErrInvalidInput, ext)
	}
	if lineWidth <= 0 || math.IsNaN(lineWidth) {
		return fmt.Errorf("%w: line width must be > 0", track.ErrInvalidInput)
	}
	bd, err := r.backdrop(ctx)
	if err != nil {
		return err
	}

	var encode func(io.Writer) error
	if ext == ".svg" {
		encode = func(w io.Writer) error { return r.writeSVG(w, bd, lineWidth) }
	} else {
		img := r.rasterize(bd, lineWidth)
		encode = func(w io.Writer) error {
			if ext == ".png" {
				return png.Encode(w, img)
			}
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
		}
	}
	if err := writeFileAtomic(outputPath, encode); err != nil {
		return err
	}
	r.observe("image", start)
	r.log.Info("image written",
		zap.String("path", outputPath),
		zap.Int("routes", r.set.Len()),
		zap.Int("points", r.set.TotalPoints()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// rasterize draws at supersample scale and returns the resized image.
func (r *Renderer) rasterize(bd *basemap.Backdrop, lineWidth float64) *image.RGBA {
	w, h := r.opts.Width*supersample, r.opts.Height*supersample
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	v := newView(bd, w, h)
	v.paint(canvas, r.opts.MapTransparency)

	dc := gg.NewContextForRGBA(canvas)
	dc.SetLineWidth(lineWidth * supersample)
	dc.SetLineCapRound()
	dc.SetLineJoinRound()
	uniform, isUniform := r.set.Uniform()
	for ri, rt := range r.set.Routes() {
		if len(rt.Points) < 2 {
			continue
		}
		if isUniform {
			dc.SetColor(uniform)
			for i, p := range rt.Points {
				x, y := v.project(p)
				if i == 0 {
					dc.MoveTo(x, y)
				} else {
					dc.LineTo(x, y)
				}
			}
			dc.Stroke()
			continue
		}
		for i := 0; i+1 < len(rt.Points); i++ {
			x1, y1 := v.project(rt.Points[i])
			x2, y2 := v.project(rt.Points[i+1])
			dc.SetColor(r.set.ColorAt(ri, i))
			dc.DrawLine(x1, y1, x2, y2)
			dc.Stroke()
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, r.opts.Width, r.opts.Height))
	xdraw.CatmullRom.Scale(out, out.Bounds(), canvas, canvas.Bounds(), xdraw.Src, nil)
	return out
}

// writeSVG embeds the scaled backdrop as a PNG data URI and draws routes as
// vector lines at output size. svgo drops write errors; the caller's buffered
// writer reports them on flush.
func (r *Renderer) writeSVG(w io.Writer, bd *basemap.Backdrop, lineWidth float64) error {
	width, height := r.opts.Width, r.opts.Height
	v := newView(bd, width, height)

	canvas := svg.New(w)
	canvas.Start(width, height)
	canvas.Rect(0, 0, width, height, "fill:white")
	if dr := v.dst(); !dr.Empty() && r.opts.MapTransparency > 0 {
		scaled := image.NewRGBA(image.Rect(0, 0, dr.Dx(), dr.Dy()))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), bd.Image, v.src, xdraw.Src, nil)
		var buf bytes.Buffer
		if err := png.Encode(&buf, scaled); err != nil {
			return fmt.Errorf("%w: encode backdrop: %v", ErrRender, err)
		}
		canvas.Image(dr.Min.X, dr.Min.Y, dr.Dx(), dr.Dy(),
			"data:image/png;base64,"+base64.StdEncoding.EncodeToString(buf.Bytes()),
			fmt.Sprintf(`opacity="%.2f"`, r.opts.MapTransparency))
	}

	uniform, isUniform := r.set.Uniform()
	for ri, rt := range r.set.Routes() {
		if len(rt.Points) < 2 {
			continue
		}
		canvas.Gid("route-" + rt.ID)
		if isUniform {
			xs := make([]int, len(rt.Points))
			ys := make([]int, len(rt.Points))
			for i, p := range rt.Points {
				x, y := v.project(p)
				xs[i], ys[i] = int(math.Round(x)), int(math.Round(y))
			}
			canvas.Polyline(xs, ys, strokeStyle(uniform, lineWidth))
		} else {
			for i := 0; i+1 < len(rt.Points); i++ {
				x1, y1 := v.project(rt.Points[i])
				x2, y2 := v.project(rt.Points[i+1])
				canvas.Line(int(math.Round(x1)), int(math.Round(y1)), int(math.Round(x2)), int(math.Round(y2)),
					strokeStyle(r.set.ColorAt(ri, i), lineWidth))
			}
		}
		canvas.Gend()
	}
	canvas.End()
	return nil
}

func strokeStyle(c color.Color, width float64) string {
	return fmt.Sprintf("fill:none;stroke:%s;stroke-opacity:%.3f;stroke-width:%g;stroke-linecap:round;stroke-linejoin:round",
		palette.Hex(c), palette.Opacity(c), width)
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place. Nothing is left behind on failure.
func writeFileAtomic(path string, encode func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	name := tmp.Name()
	bw := bufio.NewWriter(tmp)
	if err := encode(bw); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("%w: encode %s: %v", ErrRender, filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}
