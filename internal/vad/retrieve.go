package vad

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/windcube/internal/models"
)

// Engine runs VAD wind retrievals with a fixed configuration. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("vad config: %w", err)
	}
	return &Engine{cfg: cfg.clone()}, nil
}

func (e *Engine) Config() Config { return e.cfg.clone() }

// Stats counts fit outcomes of a retrieval.
type Stats struct {
	Scans  int
	Passed int // fits that passed the quality gate
	Gated  int // fits below the R² gate
	Failed int // fits that did not converge or lacked data
}

func (s *Stats) add(o Stats) {
	s.Scans += o.Scans
	s.Passed += o.Passed
	s.Gated += o.Gated
	s.Failed += o.Failed
}

// Fits returns the total number of range-bin fits attempted.
func (s Stats) Fits() int { return s.Passed + s.Gated + s.Failed }

// Series is the retrieval for one VAD elevation together with its fit stats.
type Series struct {
	models.ElevationSeries
	Stats Stats
}

// Retrieve fits every scan and range bin of every configured VAD scan id in
// samples and returns one series per rounded elevation, ordered by
// elevation. The result does not depend on the order of samples with
// distinct (time, range) keys, nor on the number of workers.
func (e *Engine) Retrieve(samples []models.RadialSample) []Series {
	sorted := sortSamples(samples)

	byLabel := make(map[int]*Series)
	for _, id := range e.cfg.VAD.IDs {
		w := FilterClass(sorted, id)
		if len(w) == 0 {
			continue
		}
		grid := rangeGrid(w)
		label := int(math.Round(w[0].Elevation))

		series, ok := byLabel[label]
		if !ok {
			series = &Series{ElevationSeries: models.ElevationSeries{Label: label, Elevation: w[0].Elevation}}
			byLabel[label] = series
		}
		series.ScanIDs = append(series.ScanIDs, id)

		for scan := range Segment(w, e.cfg.VAD.Gap) {
			records, st := e.retrieveScan(scan, w[scan.Start:scan.End], grid)
			series.Records = append(series.Records, records...)
			series.Scans++
			series.Stats.add(st)
		}
	}

	labels := make([]int, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	out := make([]Series, 0, len(labels))
	for _, label := range labels {
		s := byLabel[label]
		slices.SortStableFunc(s.Records, func(a, b models.WindRecord) int {
			if c := a.Time.Compare(b.Time); c != 0 {
				return c
			}
			return cmp.Compare(a.Range, b.Range)
		})
		out = append(out, *s)
	}
	return out
}

// retrieveScan fits each range bin of the grid independently. Each task reads
// only its own bin and writes only its own slot, so results are identical
// for any worker count.
func (e *Engine) retrieveScan(scan Scan, samples []models.RadialSample, grid []float64) ([]models.WindRecord, Stats) {
	bins := make(map[float64][]models.RadialSample, len(grid))
	for _, s := range samples {
		bins[s.Range] = append(bins[s.Range], s)
	}

	records := make([]models.WindRecord, len(grid))
	fits := make([]FitResult, len(grid))

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, rng := range grid {
		g.Go(func() error {
			records[i], fits[i] = e.fitBin(scan, rng, bins[rng])
			return nil
		})
	}
	_ = g.Wait()

	st := Stats{Scans: 1}
	for i, fit := range fits {
		switch {
		case !fit.OK():
			st.Failed++
		case records[i].Valid():
			st.Passed++
		default:
			st.Gated++
		}
	}
	return records, st
}

func (e *Engine) fitBin(scan Scan, rng float64, bin []models.RadialSample) (models.WindRecord, FitResult) {
	azimuth := make([]float64, len(bin))
	velocity := make([]float64, len(bin))
	confidence := make([]float64, len(bin))
	for i, s := range bin {
		azimuth[i] = s.NormalizedAzimuth()
		velocity[i] = s.RadialVelocity
		confidence[i] = s.ConfidenceIndex
	}

	theta, v := PrepareBin(azimuth, velocity, e.cfg.OutlierMargin)
	fit := FitSinusoid(theta, v, e.cfg.MaxIterations)
	wind := DeriveWind(fit, scan.Elevation*math.Pi/180, e.cfg.MinRSquared)

	meanConf := math.NaN()
	if len(confidence) > 0 {
		meanConf = stat.Mean(confidence, nil)
	}

	return models.WindRecord{
		Time:            scan.StartTime,
		Range:           rng,
		Elevation:       scan.Elevation,
		Speed:           wind.Speed,
		Vertical:        wind.Vertical,
		Direction:       wind.Direction,
		RSquared:        fit.ReportedRSquared(),
		ConfidenceIndex: meanConf,
		FunctionCalls:   fit.ReportedFunctionCalls(),
	}, fit
}

// ScanInfo describes one detected scan of a scan class.
type ScanInfo struct {
	Class   string
	Scan    Scan
	Samples int
	Ranges  int
}

// Scans segments samples for every scan id of class.
func (e *Engine) Scans(class ScanClass, samples []models.RadialSample) []ScanInfo {
	sorted := sortSamples(samples)
	var out []ScanInfo
	for _, id := range class.IDs {
		w := FilterClass(sorted, id)
		if len(w) == 0 {
			continue
		}
		ranges := len(rangeGrid(w))
		for scan := range Segment(w, class.Gap) {
			out = append(out, ScanInfo{Class: class.Name, Scan: scan, Samples: scan.Len(), Ranges: ranges})
		}
	}
	slices.SortStableFunc(out, func(a, b ScanInfo) int {
		return a.Scan.StartTime.Compare(b.Scan.StartTime)
	})
	return out
}

// rangeGrid returns the range gates recorded at the first timestamp of a
// class-filtered series. Every scan of the class shares this grid.
func rangeGrid(samples []models.RadialSample) []float64 {
	first := samples[0].Time
	var grid []float64
	for _, s := range samples {
		if !s.Time.Equal(first) {
			break
		}
		grid = append(grid, s.Range)
	}
	return grid
}

func sortSamples(samples []models.RadialSample) []models.RadialSample {
	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b models.RadialSample) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.Range, b.Range)
	})
	return sorted
}
