package track

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Load reads a track file and builds a Set. The format is chosen by
// extension: .csv or .gpx.
func Load(path string, opts Options) (*Set, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv", ".gpx":
	default:
		return nil, fmt.Errorf("%w: %q is not a CSV or GPX file", ErrInvalidInput, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidInput, path, err)
	}
	defer f.Close()
	if ext == ".gpx" {
		return ReadGPX(f, opts)
	}
	return ReadCSV(f, opts)
}

// ReadCSV parses comma-delimited rows with a header containing at least
// Coderoute, Latitude, Longitude and Date.
func ReadCSV(r io.Reader, opts Options) (*Set, error) {
	samples, err := readCSVSamples(r)
	if err != nil {
		return nil, err
	}
	return FromSamples(samples, opts)
}

func readCSVSamples(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file, header row required", ErrInvalidInput)
		}
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidInput, err)
	}
	if len(head) > 0 {
		head[0] = strings.TrimPrefix(head[0], "\ufeff")
	}
	idx := func(col string) int {
		for i, h := range head {
			if strings.EqualFold(strings.TrimSpace(h), col) {
				return i
			}
		}
		return -1
	}
	rID, latIdx, lonIdx, dateIdx := idx(ColumnRoute), idx(ColumnLatitude), idx(ColumnLongitude), idx(ColumnDate)
	var missing []string
	for col, i := range map[string]int{ColumnRoute: rID, ColumnLatitude: latIdx, ColumnLongitude: lonIdx, ColumnDate: dateIdx} {
		if i < 0 {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: missing columns %s", ErrInvalidInput, strings.Join(missing, ", "))
	}

	var samples []Sample
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		line, _ := cr.FieldPos(0)
		lat, err := ParseCoordinate(row[latIdx], line, head[latIdx], MaxLatitude)
		if err != nil {
			return nil, err
		}
		lon, err := ParseCoordinate(row[lonIdx], line, head[lonIdx], MaxLongitude)
		if err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(head))
		for i, h := range head {
			fields[strings.TrimSpace(h)] = row[i]
		}
		samples = append(samples, Sample{
			Route:  row[rID],
			Lat:    lat,
			Lon:    lon,
			Date:   row[dateIdx],
			Fields: fields,
			Line:   line,
		})
	}
	return samples, nil
}
