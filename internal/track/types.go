package track

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// Column names of the tabular input. Matched case-insensitively.
const (
	ColumnRoute     = "Coderoute"
	ColumnLatitude  = "Latitude"
	ColumnLongitude = "Longitude"
	ColumnDate      = "Date"
)

const DefaultPointDistanceMeters = 100.0

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrParse        = errors.New("parse error")

	// Wrapped by ParseError for values that parse but cannot be used.
	ErrNotFinite  = errors.New("not a finite number")
	ErrOutOfRange = errors.New("out of range")
)

const (
	MaxLatitude  = 90.0
	MaxLongitude = 180.0
)

// ParseError reports a non-numeric, non-finite or out of range value in a
// numeric column.
type ParseError struct {
	Line   int // 1-based source line, 0 when unknown
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	reason := "not a number"
	if errors.Is(e.Err, ErrNotFinite) || errors.Is(e.Err, ErrOutOfRange) {
		reason = e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error: line %d column %s: %q is %s", e.Line, e.Column, e.Value, reason)
	}
	return fmt.Sprintf("parse error: column %s: %q is %s", e.Column, e.Value, reason)
}

// ParseNumber parses a numeric cell. NaN and infinities are rejected.
func ParseNumber(s string, line int, column string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &ParseError{Line: line, Column: column, Value: s, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Line: line, Column: column, Value: s, Err: ErrNotFinite}
	}
	return v, nil
}

// ParseCoordinate parses a latitude or longitude cell and checks it against
// [-limit, limit].
func ParseCoordinate(s string, line int, column string, limit float64) (float64, error) {
	v, err := ParseNumber(s, line, column)
	if err != nil {
		return 0, err
	}
	if err := checkCoordinate(v, line, column, limit); err != nil {
		return 0, err
	}
	return v, nil
}

func checkCoordinate(v float64, line int, column string, limit float64) error {
	value := strconv.FormatFloat(v, 'f', -1, 64)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ParseError{Line: line, Column: column, Value: value, Err: ErrNotFinite}
	}
	if v < -limit || v > limit {
		return &ParseError{Line: line, Column: column, Value: value, Err: ErrOutOfRange}
	}
	return nil
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// Sample is one input row. Fields holds every column of the row keyed by
// its header name so category columns can be looked up later.
type Sample struct {
	Route  string
	Lat    float64
	Lon    float64
	Date   string
	Fields map[string]string
	Line   int
}

func (s Sample) Point() orb.Point { return orb.Point{s.Lon, s.Lat} }

// Route is one trajectory. Kept indexes Samples; Points[i] is the position of
// Samples[Kept[i]]. Both are filled once by the decimation pass.
type Route struct {
	ID      string
	Samples []Sample
	Kept    []int
	Points  []orb.Point
}

func (r *Route) LineString() orb.LineString { return orb.LineString(r.Points) }

type Options struct {
	DefaultColor           color.Color
	MinPointDistanceMeters float64
	Logger                 *zap.Logger
}

// DefaultOptions returns a red line color and a 100 m decimation threshold.
// A zero MinPointDistanceMeters keeps every sample.
func DefaultOptions() Options {
	return Options{
		DefaultColor:           color.RGBA{R: 255, A: 255},
		MinPointDistanceMeters: DefaultPointDistanceMeters,
	}
}

func (o Options) withDefaults() Options {
	if o.DefaultColor == nil {
		o.DefaultColor = color.RGBA{R: 255, A: 255}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
