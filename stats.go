package tilereader

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/qri-io/tilereader/shaped"
)

// Summarize fills in s.BBox and s.Stats from the valid values of p. BBox is
// nil when the tile has no valid coordinates. Stats is always set; with no
// valid data values Min, Max and Mean are NaN.
func Summarize(s *Summary, p Payload) error {
	lat, lon, data := p.Coordinates()

	lats, err := validValues(lat)
	if err != nil {
		return err
	}
	lons, err := validValues(lon)
	if err != nil {
		return err
	}
	s.BBox = nil
	if len(lats) > 0 && len(lons) > 0 {
		s.BBox = &BBox{
			LatMin: floats.Min(lats),
			LatMax: floats.Max(lats),
			LonMin: floats.Min(lons),
			LonMax: floats.Max(lons),
		}
	}

	vals, err := validValues(data)
	if err != nil {
		return err
	}
	st := &DataStats{Min: math.NaN(), Max: math.NaN(), Mean: math.NaN(), Count: int64(len(vals))}
	if len(vals) > 0 {
		st.Min = floats.Min(vals)
		st.Max = floats.Max(vals)
		st.Mean = stat.Mean(vals, nil)
	}

	switch t := p.(type) {
	case *GridTile:
		if t.Time != nil {
			st.MinTime, st.MaxTime = *t.Time, *t.Time
		}
	case *TimeSeriesTile:
		if t.Time != nil {
			st.MinTime, st.MaxTime = *t.Time, *t.Time
		}
	case *SwathTile:
		if t.Time != nil {
			times, err := validValues(t.Time)
			if err != nil {
				return err
			}
			if len(times) > 0 {
				st.MinTime = int64(floats.Min(times))
				st.MaxTime = int64(floats.Max(times))
			}
		}
	}
	s.Stats = st
	return nil
}

func validValues(s *shaped.ShapedArray) ([]float64, error) {
	a, err := shaped.Decode(s)
	if err != nil {
		return nil, err
	}
	all := a.Float64s()
	out := all[:0]
	for _, v := range all {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out, nil
}
