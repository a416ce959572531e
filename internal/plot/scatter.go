package plot

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/lox/windcube/internal/compare"
)

// Scatter plots matched DBS (x) against VAD (y) values with a 1:1 line.
func Scatter(pairs []compare.Pair, title, units string) (*plot.Plot, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("scatter %q: no pairs", title)
	}

	pts := make(plotter.XYs, len(pairs))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, pr := range pairs {
		pts[i] = plotter.XY{X: pr.DBS, Y: pr.VAD}
		lo = math.Min(lo, math.Min(pr.DBS, pr.VAD))
		hi = math.Max(hi, math.Max(pr.DBS, pr.VAD))
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = fmt.Sprintf("DBS (%s)", units)
	p.Y.Label.Text = fmt.Sprintf("VAD (%s)", units)
	p.X.Min, p.X.Max = lo, hi
	p.Y.Min, p.Y.Max = lo, hi
	p.Add(plotter.NewGrid())

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("scatter points: %w", err)
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(2)
	sc.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 200}

	diag, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return nil, fmt.Errorf("1:1 line: %w", err)
	}
	diag.Width = vg.Points(1)
	diag.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	diag.Color = color.Gray{Y: 96}

	p.Add(sc, diag)
	p.Legend.Add("samples", sc)
	p.Legend.Add("1:1", diag)
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.XOffs = 10
	p.Legend.YOffs = -10
	return p, nil
}
