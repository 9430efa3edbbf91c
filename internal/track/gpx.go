package track

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tkrajina/gpxgo/gpx"
)

// Extra columns exposed for GPX input so they can drive category coloring.
const (
	ColumnElevation = "Elevation"
	ColumnSpeed     = "Speed"
)

// ReadGPX maps every GPX track to one route. Tracks without a name are
// called track-1, track-2, ... in document order. All segments of a track
// are concatenated.
func ReadGPX(r io.Reader, opts Options) (*Set, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read gpx: %v", ErrInvalidInput, err)
	}
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse gpx: %v", ErrInvalidInput, err)
	}

	var samples []Sample
	for ti, trk := range doc.Tracks {
		routeID := trk.Name
		if routeID == "" {
			routeID = "track-" + strconv.Itoa(ti+1)
		}
		for _, seg := range trk.Segments {
			for i, p := range seg.Points {
				if err := checkCoordinate(p.Latitude, 0, ColumnLatitude, MaxLatitude); err != nil {
					return nil, fmt.Errorf("track %s: %w", routeID, err)
				}
				if err := checkCoordinate(p.Longitude, 0, ColumnLongitude, MaxLongitude); err != nil {
					return nil, fmt.Errorf("track %s: %w", routeID, err)
				}
				fields := map[string]string{
					ColumnRoute:     routeID,
					ColumnLatitude:  strconv.FormatFloat(p.Latitude, 'f', -1, 64),
					ColumnLongitude: strconv.FormatFloat(p.Longitude, 'f', -1, 64),
				}
				date := ""
				if !p.Timestamp.IsZero() {
					date = p.Timestamp.UTC().Format(time.RFC3339)
				}
				fields[ColumnDate] = date
				if p.Elevation.NotNull() {
					fields[ColumnElevation] = strconv.FormatFloat(p.Elevation.Value(), 'f', -1, 64)
				}
				v := 0.0
				if i > 0 {
					v, _ = speed(seg.Points[i-1], p)
				}
				fields[ColumnSpeed] = strconv.FormatFloat(v, 'f', -1, 64)
				samples = append(samples, Sample{
					Route:  routeID,
					Lat:    p.Latitude,
					Lon:    p.Longitude,
					Date:   date,
					Fields: fields,
				})
			}
		}
	}
	return FromSamples(samples, opts)
}

// speed in m/s between two timestamped GPX points.
func speed(a, b gpx.GPXPoint) (float64, bool) {
	if a.Timestamp.IsZero() || b.Timestamp.IsZero() {
		return 0, false
	}
	dt := b.Timestamp.Sub(a.Timestamp).Seconds()
	if dt <= 0 {
		return 0, false
	}
	return distance(Sample{Lat: a.Latitude, Lon: a.Longitude}.Point(), Sample{Lat: b.Latitude, Lon: b.Longitude}.Point()) / dt, true
}
