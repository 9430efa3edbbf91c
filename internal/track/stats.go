package track

import "github.com/paulmach/orb/geo"

// RouteStats summarizes one route for reporting.
type RouteStats struct {
	ID      string
	Samples int
	Points  int
	LengthM float64
	FirstAt string
	LastAt  string
}

// Stats returns per-route figures in route order. LengthM is measured along
// the retained polyline.
func (s *Set) Stats() []RouteStats {
	out := make([]RouteStats, 0, len(s.routes))
	for _, r := range s.routes {
		st := RouteStats{
			ID:      r.ID,
			Samples: len(r.Samples),
			Points:  len(r.Points),
		}
		if len(r.Points) > 1 {
			st.LengthM = geo.LengthHaversine(r.LineString())
		}
		if len(r.Samples) > 0 {
			st.FirstAt = r.Samples[0].Date
			st.LastAt = r.Samples[len(r.Samples)-1].Date
		}
		out = append(out, st)
	}
	return out
}
