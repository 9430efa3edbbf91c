package track

import (
	"errors"
	"strings"
	"testing"
)

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk>
    <name>morning ride</name>
    <trkseg>
      <trkpt lat="48.0000" lon="2.0000"><ele>35</ele><time>2024-05-01T08:00:00Z</time></trkpt>
      <trkpt lat="48.0010" lon="2.0000"><ele>36</ele><time>2024-05-01T08:00:10Z</time></trkpt>
    </trkseg>
    <trkseg>
      <trkpt lat="48.0020" lon="2.0000"><ele>37</ele><time>2024-05-01T08:00:20Z</time></trkpt>
    </trkseg>
  </trk>
  <trk>
    <trkseg>
      <trkpt lat="10.0" lon="1.0"></trkpt>
      <trkpt lat="10.1" lon="1.0"></trkpt>
    </trkseg>
  </trk>
</gpx>`

func TestReadGPX(t *testing.T) {
	opts := DefaultOptions()
	opts.MinPointDistanceMeters = 0
	s, err := ReadGPX(strings.NewReader(sampleGPX), opts)
	if err != nil {
		t.Fatalf("read gpx: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 routes, got %d", s.Len())
	}
	ride, ok := s.Route("morning ride")
	if !ok {
		t.Fatalf("named track missing")
	}
	if len(ride.Samples) != 3 {
		t.Fatalf("segments not concatenated: %d samples", len(ride.Samples))
	}
	if ride.Samples[0].Date != "2024-05-01T08:00:00Z" {
		t.Fatalf("date = %q", ride.Samples[0].Date)
	}
	if ride.Samples[1].Fields[ColumnElevation] != "36" {
		t.Fatalf("elevation = %q", ride.Samples[1].Fields[ColumnElevation])
	}
	if ride.Samples[0].Fields[ColumnSpeed] != "0" {
		t.Fatalf("first speed = %q", ride.Samples[0].Fields[ColumnSpeed])
	}
	if _, ok := s.Route("track-2"); !ok {
		t.Fatalf("unnamed track should be called track-2")
	}
}

func TestReadGPXInvalid(t *testing.T) {
	if _, err := ReadGPX(strings.NewReader("not xml at all"), DefaultOptions()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestReadGPXOutOfRange(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><name>bad</name><trkseg><trkpt lat="48.0" lon="250.0"></trkpt></trkseg></trk>
</gpx>`
	_, err := ReadGPX(strings.NewReader(doc), DefaultOptions())
	var pe *ParseError
	if !errors.As(err, &pe) || !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range ParseError, got %v", err)
	}
	if pe.Column != ColumnLongitude || pe.Value != "250" {
		t.Fatalf("unexpected parse error: %+v", pe)
	}
}
