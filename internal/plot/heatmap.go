// Package plot renders retrieved winds as time-height heat maps and DBS/VAD
// comparisons as scatter plots.
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/lox/windcube/internal/models"
)

var ErrTooFewScans = errors.New("too few scans to plot")

// ConfidenceThreshold masks cells whose mean confidence index is below it.
const ConfidenceThreshold = 50

const (
	width  = 14 * vg.Inch
	height = 6 * vg.Inch
)

// Field is a plottable wind quantity with fixed colour limits.
type Field struct {
	Name    string
	Label   string
	Units   string
	Min     float64
	Max     float64
	Palette palette.Palette
	value   func(models.WindRecord) float64
}

var Fields = []Field{
	{
		Name: "speed", Label: "Horizontal wind speed", Units: "m/s", Min: 0, Max: 25,
		Palette: palette.Heat(24, 1),
		value:   func(r models.WindRecord) float64 { return r.Speed },
	},
	{
		Name: "vertical", Label: "Vertical wind speed", Units: "m/s", Min: -2, Max: 2,
		Palette: divergingPalette(-2, 2, 32),
		value:   func(r models.WindRecord) float64 { return r.Vertical },
	},
	{
		Name: "direction", Label: "Wind direction", Units: "deg", Min: 0, Max: 360,
		Palette: palette.Rainbow(36, 0, 1, 1, 1, 1),
		value:   func(r models.WindRecord) float64 { return r.Direction },
	},
}

func divergingPalette(lo, hi float64, n int) palette.Palette {
	cm := moreland.SmoothBlueRed()
	cm.SetMin(lo)
	cm.SetMax(hi)
	return cm.Palette(n)
}

func FieldByName(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Grid lays wind records out as scan start time (columns) by range gate
// altitude (rows). It implements plotter.GridXYZ.
type Grid struct {
	times     []time.Time
	altitudes []float64
	z         [][]float64 // [row][col]
}

// NewGrid builds the grid of f from records. Cells with no record, a NaN
// value or confidence below ConfidenceThreshold are NaN.
func NewGrid(records []models.WindRecord, f Field) (*Grid, error) {
	var times []time.Time
	var ranges []float64
	for _, r := range records {
		times = append(times, r.Time)
		ranges = append(ranges, r.Range)
	}
	slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	times = slices.CompactFunc(times, func(a, b time.Time) bool { return a.Equal(b) })
	slices.Sort(ranges)
	ranges = slices.Compact(ranges)

	if len(times) < 2 || len(ranges) < 2 {
		return nil, fmt.Errorf("%w: %d scans, %d range gates", ErrTooFewScans, len(times), len(ranges))
	}

	g := &Grid{times: times, altitudes: make([]float64, len(ranges)), z: make([][]float64, len(ranges))}
	for i := range g.z {
		g.z[i] = make([]float64, len(times))
		for j := range g.z[i] {
			g.z[i][j] = math.NaN()
		}
	}

	elevation := records[0].Elevation
	for i, rng := range ranges {
		g.altitudes[i] = models.WindRecord{Range: rng, Elevation: elevation}.Altitude()
	}

	for _, r := range records {
		col, _ := slices.BinarySearchFunc(times, r.Time, func(a, b time.Time) int { return a.Compare(b) })
		row, _ := slices.BinarySearch(ranges, r.Range)
		if r.ConfidenceIndex < ConfidenceThreshold || math.IsNaN(r.ConfidenceIndex) {
			continue
		}
		g.z[row][col] = f.value(r)
	}
	return g, nil
}

func (g *Grid) Dims() (c, r int) { return len(g.times), len(g.altitudes) }
func (g *Grid) Z(c, r int) float64 { return g.z[r][c] }
func (g *Grid) X(c int) float64    { return float64(g.times[c].Unix()) }
func (g *Grid) Y(r int) float64    { return g.altitudes[r] }

func (g *Grid) Time(c int) time.Time { return g.times[c] }

// Masked counts NaN cells.
func (g *Grid) Masked() int {
	n := 0
	for _, row := range g.z {
		for _, v := range row {
			if math.IsNaN(v) {
				n++
			}
		}
	}
	return n
}

// TimeHeight plots f of one elevation series for a day as a heat map.
func TimeHeight(series models.ElevationSeries, f Field, date time.Time) (*plot.Plot, error) {
	grid, err := NewGrid(series.Records, f)
	if err != nil {
		return nil, err
	}

	colors := f.Palette.Colors()
	hm := plotter.NewHeatMap(grid, f.Palette)
	hm.Min, hm.Max = f.Min, f.Max
	hm.Underflow = colors[0]
	hm.Overflow = colors[len(colors)-1]
	hm.NaN = color.Transparent

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s [%s], %d° VAD, %s (%g to %g)",
		f.Label, f.Units, series.Label, date.Format("2006-01-02"), f.Min, f.Max)
	p.X.Label.Text = "Time (UTC)"
	p.Y.Label.Text = "Altitude (m)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04"}
	p.Add(hm)
	return p, nil
}

// FileName is the image name of a day's heat map of one field and elevation.
func FileName(date time.Time, label int, field string) string {
	return fmt.Sprintf("windcube_%s_vad%02d_%s.png", date.Format("20060102"), label, field)
}

// Save writes p to path, creating parent directories. The format follows
// the file extension.
func Save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}

// WritePNG renders p as PNG to w.
func WritePNG(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
