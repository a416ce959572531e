// Package compare checks DBS winds reported by the instrument against VAD
// retrievals over several time-averaging windows.
package compare

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/lox/windcube/internal/models"
)

// ErrMissingPrerequisite means the inputs a comparison depends on have not
// been produced for the requested date.
var ErrMissingPrerequisite = errors.New("missing prerequisite data")

// DefaultWindows are the averaging windows compared.
var DefaultWindows = []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute, 5 * time.Minute}

// DefaultElevation is the VAD elevation label the DBS winds are compared to.
// The 45° scans share most of their sampling volume with the DBS beams.
const DefaultElevation = 45

const (
	FieldSpeed     = "speed"
	FieldDirection = "direction"
	FieldVertical  = "vertical"
)

var Fields = []string{FieldSpeed, FieldDirection, FieldVertical}

// Point is a horizontal/vertical wind estimate at one time and range.
type Point struct {
	Time      time.Time
	Range     float64
	Speed     float64
	Direction float64 // degrees, 0 = North
	Vertical  float64
}

func (p Point) field(name string) float64 {
	switch name {
	case FieldSpeed:
		return p.Speed
	case FieldDirection:
		return p.Direction
	default:
		return p.Vertical
	}
}

// FromDBS converts DBS wind components into speed and direction.
func FromDBS(samples []models.DBSSample) []Point {
	out := make([]Point, len(samples))
	for i, s := range samples {
		out[i] = Point{
			Time:      s.Time,
			Range:     s.Range,
			Speed:     math.Hypot(s.XWind, s.YWind),
			Direction: dbsDirection(s.XWind, s.YWind),
			Vertical:  s.ZWind,
		}
	}
	return out
}

// dbsDirection is the meteorological direction the wind blows from.
func dbsDirection(x, y float64) float64 {
	d := math.Atan2(x, y)*180/math.Pi + 180
	return wrapDegrees(d)
}

func wrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func FromVAD(records []models.WindRecord) []Point {
	out := make([]Point, len(records))
	for i, r := range records {
		out[i] = Point{Time: r.Time, Range: r.Range, Speed: r.Speed, Direction: r.Direction, Vertical: r.Vertical}
	}
	return out
}

type bucketKey struct {
	start int64
	rng   float64
}

// Average groups points into windows aligned to the Unix epoch and per range
// gate. Speed and vertical are arithmetic means and direction a circular mean,
// each over the finite values only. The result is ordered by (time, range).
func Average(points []Point, window time.Duration) []Point {
	if window <= 0 {
		return nil
	}
	type acc struct {
		speed, vertical, direction []float64
	}
	buckets := make(map[bucketKey]*acc)
	var keys []bucketKey
	for _, p := range points {
		k := bucketKey{start: p.Time.Truncate(window).UnixNano(), rng: p.Range}
		a, ok := buckets[k]
		if !ok {
			a = &acc{}
			buckets[k] = a
			keys = append(keys, k)
		}
		if isFinite(p.Speed) {
			a.speed = append(a.speed, p.Speed)
		}
		if isFinite(p.Vertical) {
			a.vertical = append(a.vertical, p.Vertical)
		}
		if isFinite(p.Direction) {
			a.direction = append(a.direction, p.Direction*math.Pi/180)
		}
	}
	slices.SortFunc(keys, func(a, b bucketKey) int {
		if c := cmp.Compare(a.start, b.start); c != 0 {
			return c
		}
		return cmp.Compare(a.rng, b.rng)
	})

	out := make([]Point, len(keys))
	for i, k := range keys {
		a := buckets[k]
		out[i] = Point{
			Time:      time.Unix(0, k.start).UTC(),
			Range:     k.rng,
			Speed:     mean(a.speed),
			Vertical:  mean(a.vertical),
			Direction: math.NaN(),
		}
		if len(a.direction) > 0 {
			out[i].Direction = wrapDegrees(stat.CircularMean(a.direction, nil) * 180 / math.Pi)
		}
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Pair is a matched (DBS, VAD) value of one field.
type Pair struct {
	Time  time.Time
	Range float64
	DBS   float64
	VAD   float64
}

// Match pairs averaged points sharing a window start and range gate where
// both values of field are finite.
func Match(dbs, vad []Point, field string) []Pair {
	index := make(map[bucketKey]Point, len(vad))
	for _, p := range vad {
		index[bucketKey{start: p.Time.UnixNano(), rng: p.Range}] = p
	}
	var pairs []Pair
	for _, d := range dbs {
		v, ok := index[bucketKey{start: d.Time.UnixNano(), rng: d.Range}]
		if !ok {
			continue
		}
		dv, vv := d.field(field), v.field(field)
		if !isFinite(dv) || !isFinite(vv) {
			continue
		}
		pairs = append(pairs, Pair{Time: d.Time, Range: d.Range, DBS: dv, VAD: vv})
	}
	return pairs
}

// Stats summarises the agreement of one field at one averaging window.
// Bias and RMSE are of VAD minus DBS; direction differences are wrapped
// into [-180, 180).
type Stats struct {
	Field       string
	Window      time.Duration
	Count       int
	Bias        float64
	RMSE        float64
	Correlation float64
}

func Summarise(field string, window time.Duration, pairs []Pair) Stats {
	s := Stats{Field: field, Window: window, Count: len(pairs), Bias: math.NaN(), RMSE: math.NaN(), Correlation: math.NaN()}
	if len(pairs) == 0 {
		return s
	}

	x := make([]float64, len(pairs))
	y := make([]float64, len(pairs))
	diff := make([]float64, len(pairs))
	var sq float64
	for i, p := range pairs {
		x[i], y[i] = p.DBS, p.VAD
		d := p.VAD - p.DBS
		if field == FieldDirection {
			d = wrapDegrees(d+180) - 180
		}
		diff[i] = d
		sq += d * d
	}
	s.Bias = stat.Mean(diff, nil)
	s.RMSE = math.Sqrt(sq / float64(len(pairs)))
	if len(pairs) > 1 {
		s.Correlation = stat.Correlation(x, y, nil)
	}
	return s
}

// Report is the outcome of comparing one day's DBS and VAD winds.
type Report struct {
	Elevation int
	Stats     []Stats
	// Pairs holds the matched speeds at the shortest window, for plotting.
	Pairs []Pair
}

// Run compares DBS samples against VAD records at every window. It returns
// ErrMissingPrerequisite when either input holds no usable values.
func Run(dbs []models.DBSSample, vad []models.WindRecord, elevation int, windows []time.Duration) (*Report, error) {
	if !slices.ContainsFunc(vad, models.WindRecord.Valid) {
		return nil, fmt.Errorf("%w: no valid VAD records at elevation %d", ErrMissingPrerequisite, elevation)
	}
	if len(dbs) == 0 {
		return nil, fmt.Errorf("%w: no DBS samples", ErrMissingPrerequisite)
	}
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	windows = slices.Clone(windows)
	slices.Sort(windows)

	dbsPoints := FromDBS(dbs)
	vadPoints := FromVAD(vad)

	report := &Report{Elevation: elevation}
	for i, w := range windows {
		d := Average(dbsPoints, w)
		v := Average(vadPoints, w)
		for _, field := range Fields {
			pairs := Match(d, v, field)
			report.Stats = append(report.Stats, Summarise(field, w, pairs))
			if i == 0 && field == FieldSpeed {
				report.Pairs = pairs
			}
		}
	}
	return report, nil
}
