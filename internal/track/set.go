// Package track loads GPS samples, groups them into routes and reduces each
// route to a sparser polyline with a minimum-displacement filter.
package track

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strings"

	"geomixtrail/internal/palette"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"go.uber.org/zap"
)

// Set is a loaded, decimated collection of routes. It is not safe for
// concurrent use.
type Set struct {
	routes  []*Route
	byID    map[string]int
	bound   orb.Bound
	samples int

	minDistance float64
	logger      *zap.Logger

	color    color.Color
	perPoint map[string][]color.Color
	category string
}

// FromSamples groups samples by route (first-seen order) and decimates each
// route. Every source format ends up here.
func FromSamples(samples []Sample, opts Options) (*Set, error) {
	opts = opts.withDefaults()
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidInput)
	}
	if opts.MinPointDistanceMeters < 0 || math.IsNaN(opts.MinPointDistanceMeters) {
		return nil, fmt.Errorf("%w: point distance must be >= 0, got %v", ErrInvalidInput, opts.MinPointDistanceMeters)
	}

	s := &Set{
		byID:        make(map[string]int),
		minDistance: opts.MinPointDistanceMeters,
		logger:      opts.Logger,
		color:       opts.DefaultColor,
		samples:     len(samples),
	}
	s.bound = orb.Bound{Min: samples[0].Point(), Max: samples[0].Point()}
	for _, smp := range samples {
		s.bound = s.bound.Extend(smp.Point())
		i, ok := s.byID[smp.Route]
		if !ok {
			i = len(s.routes)
			s.byID[smp.Route] = i
			s.routes = append(s.routes, &Route{ID: smp.Route})
		}
		s.routes[i].Samples = append(s.routes[i].Samples, smp)
	}
	for _, r := range s.routes {
		r.Kept = Decimate(r.Samples, s.minDistance)
		r.Points = make([]orb.Point, len(r.Kept))
		for i, k := range r.Kept {
			r.Points[i] = r.Samples[k].Point()
		}
	}
	s.logger.Debug("track set built",
		zap.Int("samples", s.samples),
		zap.Int("routes", len(s.routes)),
		zap.Int("points", s.TotalPoints()),
		zap.Float64("min_distance_m", s.minDistance))
	return s, nil
}

// Decimate returns the indices of the samples to keep: the first one always,
// then every sample at least minMeters away from the last kept sample. One
// forward pass, skipped samples are never reconsidered.
func Decimate(samples []Sample, minMeters float64) []int {
	if len(samples) == 0 {
		return nil
	}
	kept := make([]int, 1, len(samples))
	last := samples[0].Point()
	for i := 1; i < len(samples); i++ {
		p := samples[i].Point()
		if distance(last, p) >= minMeters {
			kept = append(kept, i)
			last = p
		}
	}
	return kept
}

// distance is the great-circle distance in meters.
func distance(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

func (s *Set) Routes() []*Route { return s.routes }

func (s *Set) Len() int { return len(s.routes) }

func (s *Set) Route(id string) (*Route, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.routes[i], true
}

// Bounds covers every raw sample, including the ones dropped by decimation.
func (s *Set) Bounds() orb.Bound { return s.bound }

func (s *Set) SampleCount() int { return s.samples }

func (s *Set) MinPointDistance() float64 { return s.minDistance }

func (s *Set) TotalPoints() int {
	n := 0
	for _, r := range s.routes {
		n += len(r.Points)
	}
	return n
}

// SetColor switches back to a single color for every segment.
func (s *Set) SetColor(c color.Color) {
	s.color = c
	s.perPoint = nil
	s.category = ""
}

// Category returns the column driving per-point colors, or "".
func (s *Set) Category() string { return s.category }

// Uniform reports the single color in use, if any.
func (s *Set) Uniform() (color.Color, bool) {
	if s.perPoint != nil {
		return nil, false
	}
	return s.color, true
}

// ColorAt is the color of the segment starting at point i of route r.
func (s *Set) ColorAt(r, i int) color.Color {
	if s.perPoint == nil {
		return s.color
	}
	cs := s.perPoint[s.routes[r].ID]
	if i < 0 || i >= len(cs) {
		return s.color
	}
	return cs[i]
}

// SetColorsByCategory colors every retained point from the numeric column
// value at that point, min-max normalized per route and bucketed into pal.
// A route whose values are all equal maps entirely to pal[0].
func (s *Set) SetColorsByCategory(column string, pal palette.Palette) error {
	if len(pal) == 0 {
		return fmt.Errorf("%w: empty palette", ErrInvalidInput)
	}
	column = strings.TrimSpace(column)
	if column == "" {
		return fmt.Errorf("%w: empty category column", ErrInvalidInput)
	}
	colors := make(map[string][]color.Color, len(s.routes))
	for _, r := range s.routes {
		values := make([]float64, len(r.Kept))
		for i, k := range r.Kept {
			smp := r.Samples[k]
			raw, ok := lookupField(smp.Fields, column)
			if !ok {
				return fmt.Errorf("%w: column %q not found (route %s)", ErrInvalidInput, column, r.ID)
			}
			v, err := ParseNumber(raw, smp.Line, column)
			if err != nil {
				return err
			}
			values[i] = v
		}
		norm, err := palette.Normalize(values)
		if err != nil {
			if !errors.Is(err, palette.ErrDegenerateRange) {
				return err
			}
			s.logger.Warn("category range is flat, using first palette color",
				zap.String("route", r.ID),
				zap.String("column", column),
				zap.Error(err))
		}
		cs := make([]color.Color, len(norm))
		for i, n := range norm {
			cs[i] = pal.At(n)
		}
		colors[r.ID] = cs
	}
	s.perPoint = colors
	s.category = column
	return nil
}

func lookupField(fields map[string]string, column string) (string, bool) {
	if v, ok := fields[column]; ok {
		return v, true
	}
	for k, v := range fields {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return "", false
}
