package ingest

import (
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lox/windcube/internal/compare"
	"github.com/lox/windcube/internal/export"
	"github.com/lox/windcube/internal/metrics"
	"github.com/lox/windcube/internal/models"
	"github.com/lox/windcube/internal/plot"
	"github.com/lox/windcube/internal/store"
	"github.com/lox/windcube/internal/vad"
)

var ErrNoSamples = errors.New("no samples")

// DailyJobs turns a day of stored samples into wind products: records in the
// store, Parquet files and heat maps under the output directory.
type DailyJobs struct {
	store  *store.Store
	engine *vad.Engine
	outDir string

	// CompareElevation is the VAD elevation label DBS winds are checked against.
	CompareElevation int
	Windows          []time.Duration
	// Tables receives the DBS comparison table; nil discards it.
	Tables io.Writer
}

func NewDailyJobs(store *store.Store, engine *vad.Engine, outDir string) *DailyJobs {
	return &DailyJobs{
		store:            store,
		engine:           engine,
		outDir:           outDir,
		CompareElevation: compare.DefaultElevation,
		Windows:          compare.DefaultWindows,
	}
}

// DayResult lists what a day run produced.
type DayResult struct {
	Series []vad.Series
	Report *compare.Report
	Files  []string
}

// RunAll runs every property for date. A failing property is logged and does
// not stop the others; the wind retrieval runs first because the DBS
// comparison reads its records.
func (d *DailyJobs) RunAll(forDate time.Time) error {
	log.Printf("daily: running jobs for %s", forDate.Format("2006-01-02"))

	var errs []error
	for _, p := range []models.Property{models.PropertyWind, models.PropertyDBS} {
		if _, err := d.RunDay(forDate, p); err != nil {
			log.Printf("daily: %s %s: %v", p, forDate.Format("2006-01-02"), err)
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// RunDay processes one (date, property) unit.
func (d *DailyJobs) RunDay(date time.Time, p models.Property) (*DayResult, error) {
	switch p {
	case models.PropertyWind:
		return d.retrieveWind(date)
	case models.PropertyDBS:
		return d.compareDBS(date)
	default:
		return nil, fmt.Errorf("unknown property %q", p)
	}
}

func (d *DailyJobs) dayDir(date time.Time) string {
	return filepath.Join(d.outDir, date.Format("2006"))
}

func (d *DailyJobs) retrieveWind(date time.Time) (*DayResult, error) {
	start, end := d.store.DayBounds(date)
	dateStr := start.Format("2006-01-02")

	samples, err := d.store.GetSamples(start, end)
	if err != nil {
		return nil, fmt.Errorf("get samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: radial wind on %s", ErrNoSamples, dateStr)
	}

	res := &DayResult{}
	samplesPath := filepath.Join(d.dayDir(start), export.SamplesFileName(start, models.PropertyWind))
	if err := export.WriteSamplesParquet(samples, export.Attributes{"title": "windcube radial wind speed", "date": dateStr}, samplesPath); err != nil {
		return nil, fmt.Errorf("export samples: %w", err)
	}
	res.Files = append(res.Files, samplesPath)

	began := time.Now()
	res.Series = d.engine.Retrieve(samples)
	elapsed := time.Since(began)
	metrics.RetrievalDuration.Observe(elapsed.Seconds())

	if len(res.Series) == 0 {
		log.Printf("daily: no VAD scans in %d samples on %s", len(samples), dateStr)
		return res, nil
	}

	for _, s := range res.Series {
		label := strconv.Itoa(s.Label)
		metrics.ScansSegmented.WithLabelValues(label).Add(float64(s.Stats.Scans))
		metrics.FitsTotal.WithLabelValues(label, "ok").Add(float64(s.Stats.Passed))
		metrics.FitsTotal.WithLabelValues(label, "gated").Add(float64(s.Stats.Gated))
		metrics.FitsTotal.WithLabelValues(label, "failed").Add(float64(s.Stats.Failed))

		if err := d.store.ReplaceWindRecords(s.ElevationSeries, start, end); err != nil {
			return res, fmt.Errorf("store %d° records: %w", s.Label, err)
		}
		if err := d.store.UpsertRetrievalRun(store.RetrievalRun{
			Date:           dateStr,
			ElevationLabel: s.Label,
			Scans:          s.Stats.Scans,
			Passed:         s.Stats.Passed,
			Gated:          s.Stats.Gated,
			Failed:         s.Stats.Failed,
			Duration:       elapsed,
			CompletedAt:    time.Now(),
		}); err != nil {
			log.Printf("daily: record retrieval run %d°: %v", s.Label, err)
		}

		windPath := filepath.Join(d.dayDir(start), export.WindFileName(start, s.Label))
		attrs := export.Attributes{"title": "windcube VAD wind retrieval", "date": dateStr}
		if err := export.WriteWindParquet(s.ElevationSeries, attrs, windPath); err != nil {
			return res, fmt.Errorf("export %d° winds: %w", s.Label, err)
		}
		res.Files = append(res.Files, windPath)

		for _, f := range plot.Fields {
			p, err := plot.TimeHeight(s.ElevationSeries, f, start)
			if errors.Is(err, plot.ErrTooFewScans) {
				log.Printf("daily: skip %s plot at %d°: %v", f.Name, s.Label, err)
				break
			}
			if err != nil {
				return res, err
			}
			path := filepath.Join(d.dayDir(start), plot.FileName(start, s.Label, f.Name))
			if err := plot.Save(p, path); err != nil {
				return res, err
			}
			res.Files = append(res.Files, path)
		}

		log.Printf("daily: %s %d°: %d scans, %d fits ok, %d gated, %d failed",
			dateStr, s.Label, s.Stats.Scans, s.Stats.Passed, s.Stats.Gated, s.Stats.Failed)
	}
	return res, nil
}

func (d *DailyJobs) compareDBS(date time.Time) (*DayResult, error) {
	start, end := d.store.DayBounds(date)
	dateStr := start.Format("2006-01-02")

	dbs, err := d.store.GetDBSSamples(start, end)
	if err != nil {
		return nil, fmt.Errorf("get dbs samples: %w", err)
	}
	records, err := d.store.GetWindRecords(d.CompareElevation, start, end)
	if err != nil {
		return nil, fmt.Errorf("get %d° records: %w", d.CompareElevation, err)
	}

	report, err := compare.Run(dbs, records, d.CompareElevation, d.Windows)
	if err != nil {
		return nil, fmt.Errorf("compare %s: %w", dateStr, err)
	}
	res := &DayResult{Report: report}

	if d.Tables != nil {
		fmt.Fprintf(d.Tables, "DBS vs %d° VAD, %s\n", d.CompareElevation, dateStr)
		if err := compare.WriteTable(d.Tables, report); err != nil {
			return res, fmt.Errorf("write comparison table: %w", err)
		}
	}

	if len(report.Pairs) > 0 {
		title := fmt.Sprintf("Horizontal wind speed, DBS vs %d° VAD, %s", d.CompareElevation, dateStr)
		p, err := plot.Scatter(report.Pairs, title, "m/s")
		if err != nil {
			return res, err
		}
		path := filepath.Join(d.dayDir(start), fmt.Sprintf("windcube_%s_dbs_vs_vad%02d.png", start.Format("20060102"), d.CompareElevation))
		if err := plot.Save(p, path); err != nil {
			return res, err
		}
		res.Files = append(res.Files, path)
	}

	first := report.Stats[0].Window
	for _, s := range report.Stats {
		if s.Window == first {
			log.Printf("daily: dbs %s %s: n=%d bias=%.2f rmse=%.2f r=%.2f", dateStr, s.Field, s.Count, s.Bias, s.RMSE, s.Correlation)
		}
	}
	return res, nil
}
