package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"geomixtrail/internal/track"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
)

// framePlan maps a frame number to one segment of one route. starts[i] is the
// first frame of route i and starts[len(routes)] the frame count.
type framePlan struct {
	routes []*track.Route
	starts []int
}

// planFrames gives every route len(Points)-1 frames, one per segment, and a
// single-point route one degenerate frame. No frame spans two routes.
func planFrames(routes []*track.Route) framePlan {
	starts := make([]int, len(routes)+1)
	for i, r := range routes {
		n := len(r.Points) - 1
		if n < 1 {
			n = 1
		}
		starts[i+1] = starts[i] + n
	}
	return framePlan{routes: routes, starts: starts}
}

func (p framePlan) Len() int { return p.starts[len(p.starts)-1] }

// segment returns the route index and the point indices the frame connects.
// from == to for the degenerate frame.
func (p framePlan) segment(frame int) (route, from, to int) {
	route = sort.Search(len(p.routes), func(i int) bool { return p.starts[i+1] > frame })
	if len(p.routes[route].Points) < 2 {
		return route, 0, 0
	}
	from = frame - p.starts[route]
	return route, from, from + 1
}

// ResolveFPS returns points/duration when duration is positive, fps otherwise.
// points is the number of retained points across all routes, not the frame
// count, so the video runs close to duration seconds.
func ResolveFPS(points int, fps, duration float64) (float64, error) {
	if duration > 0 {
		fps = float64(points) / duration
	}
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0, fmt.Errorf("%w: frame rate must be > 0, got %v", track.ErrInvalidInput, fps)
	}
	return fps, nil
}

// RenderVideo encodes one frame per segment, each frame adding its segment to
// the ones drawn before. With duration > 0 the frame rate is the total retained
// point count divided by duration.
func (r *Renderer) RenderVideo(ctx context.Context, outputPath string, lineWidth, fps, duration float64) (err error) {
	start := time.Now()
	if lineWidth <= 0 || math.IsNaN(lineWidth) {
		return fmt.Errorf("%w: line width must be > 0", track.ErrInvalidInput)
	}
	if r.opts.NewEncoder == nil {
		return fmt.Errorf("%w: no encoder configured", ErrEncoding)
	}
	plan := planFrames(r.set.Routes())
	frames := plan.Len()
	fps, err = ResolveFPS(r.set.TotalPoints(), fps, duration)
	if err != nil {
		return err
	}

	bd, err := r.backdrop(ctx)
	if err != nil {
		return err
	}
	w, h := r.opts.Width, r.opts.Height
	v := newView(bd, w, h)
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	v.paint(canvas, r.opts.MapTransparency)
	dc := gg.NewContextForRGBA(canvas)
	dc.SetLineWidth(lineWidth)
	dc.SetLineCapRound()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	enc, err := r.opts.NewEncoder(ctx, outputPath, w, h, fps)
	if err != nil {
		if !errors.Is(err, ErrEncoding) {
			err = fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		return err
	}
	defer func() {
		if err != nil {
			enc.Abort()
			if rmErr := os.Remove(outputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				r.log.Warn("could not remove partial video", zap.String("path", outputPath), zap.Error(rmErr))
			}
		}
	}()

	r.log.Info("rendering video",
		zap.String("path", outputPath),
		zap.Int("frames", frames),
		zap.Float64("fps", fps),
		zap.Int("routes", r.set.Len()))
	r.opts.Progress.Start(frames, "rendering video")
	defer r.opts.Progress.Finish()

	for f := 0; f < frames; f++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		ri, from, to := plan.segment(f)
		pts := r.set.Routes()[ri].Points
		x1, y1 := v.project(pts[from])
		x2, y2 := v.project(pts[to])
		dc.SetColor(r.set.ColorAt(ri, from))
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
		if err := enc.WriteFrame(canvas); err != nil {
			if !errors.Is(err, ErrEncoding) {
				err = fmt.Errorf("%w: %v", ErrEncoding, err)
			}
			return err
		}
		r.opts.Progress.Add(1)
	}
	if err := enc.Close(); err != nil {
		if !errors.Is(err, ErrEncoding) {
			err = fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		return err
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.FramesAdd(frames)
	}
	r.observe("video", start)
	r.log.Info("video written",
		zap.String("path", outputPath),
		zap.Int("frames", frames),
		zap.Duration("took", time.Since(start)))
	return nil
}
