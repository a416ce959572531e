// Package export writes retrieved winds and raw lidar samples to Parquet
// files with per-column units and long names in the file metadata.
package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/lox/windcube/internal/models"
)

// WindRow is one retrieved (scan start, range gate) cell.
type WindRow struct {
	// Time is the start of the VAD scan
	Time time.Time `parquet:"time,snappy"`

	Range     float64 `parquet:"range,snappy"`
	Altitude  float64 `parquet:"altitude,snappy"`
	Elevation float64 `parquet:"elevation,snappy"`

	// Wind fields are null when the fit failed or did not pass the R² gate
	Speed     *float64 `parquet:"speed,optional,snappy"`
	Vertical  *float64 `parquet:"vertical,optional,snappy"`
	Direction *float64 `parquet:"direction,optional,snappy"`

	// RSquared and FunctionCalls are -999 for failed fits
	RSquared        float64  `parquet:"rsquared,snappy"`
	ConfidenceIndex *float64 `parquet:"confidence_index,optional,snappy"`
	FunctionCalls   int32    `parquet:"function_calls,snappy"`
}

// SampleRow is one radial wind sample as read from the instrument log.
type SampleRow struct {
	Time            time.Time `parquet:"time,snappy"`
	Range           float64   `parquet:"range,snappy"`
	ScanID          int32     `parquet:"scan_id,snappy"`
	LOSID           int32     `parquet:"los_id,snappy"`
	Azimuth         float64   `parquet:"azimuth,snappy"`
	Elevation       float64   `parquet:"elevation,snappy"`
	CNR             *float64  `parquet:"cnr,optional,snappy"`
	RadialVelocity  float64   `parquet:"radial_wind_speed,snappy"`
	ConfidenceIndex *float64  `parquet:"confidence_index,optional,snappy"`
}

// Variable describes a column for the file metadata.
type Variable struct {
	Units    string
	LongName string
}

var WindVariables = map[string]Variable{
	"time":             {"UTC", "start time of VAD scan"},
	"range":            {"m", "distance along the beam"},
	"altitude":         {"m", "height of range gate above instrument"},
	"elevation":        {"degrees", "beam elevation angle"},
	"speed":            {"m s-1", "horizontal wind speed"},
	"vertical":         {"m s-1", "vertical wind speed, positive upward"},
	"direction":        {"degrees", "wind direction, 0 = North"},
	"rsquared":         {"1", "coefficient of determination of the sinusoid fit"},
	"confidence_index": {"percent", "mean confidence index of the range bin"},
	"function_calls":   {"1", "model evaluations used by the fit"},
}

var SampleVariables = map[string]Variable{
	"time":              {"UTC", "time of measurement"},
	"range":             {"m", "distance along the beam"},
	"scan_id":           {"1", "scan schedule id"},
	"los_id":            {"1", "line of sight id"},
	"azimuth":           {"degrees", "beam azimuth angle"},
	"elevation":         {"degrees", "beam elevation angle"},
	"cnr":               {"dB", "carrier to noise ratio"},
	"radial_wind_speed": {"m s-1", "radial wind speed, positive towards the instrument"},
	"confidence_index":  {"percent", "confidence index"},
}

func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func WindRows(records []models.WindRecord) []WindRow {
	rows := make([]WindRow, len(records))
	for i, r := range records {
		rows[i] = WindRow{
			Time:            r.Time.UTC(),
			Range:           r.Range,
			Altitude:        r.Altitude(),
			Elevation:       r.Elevation,
			Speed:           optional(r.Speed),
			Vertical:        optional(r.Vertical),
			Direction:       optional(r.Direction),
			RSquared:        r.RSquared,
			ConfidenceIndex: optional(r.ConfidenceIndex),
			FunctionCalls:   int32(r.FunctionCalls),
		}
	}
	return rows
}

func SampleRows(samples []models.RadialSample) []SampleRow {
	rows := make([]SampleRow, len(samples))
	for i, s := range samples {
		rows[i] = SampleRow{
			Time:            s.Time.UTC(),
			Range:           s.Range,
			ScanID:          int32(s.ScanID),
			LOSID:           int32(s.LOSID),
			Azimuth:         s.Azimuth,
			Elevation:       s.Elevation,
			CNR:             optional(s.CNR),
			RadialVelocity:  s.RadialVelocity,
			ConfidenceIndex: optional(s.ConfidenceIndex),
		}
	}
	return rows
}

// Attributes are file-level key/value pairs such as title and date.
type Attributes map[string]string

// metadataOptions flattens global attributes and per-variable units and
// long names into sorted key/value metadata.
func metadataOptions(attrs Attributes, vars map[string]Variable) []parquet.WriterOption {
	kv := make(map[string]string, len(attrs)+2*len(vars))
	for k, v := range attrs {
		kv[k] = v
	}
	for name, v := range vars {
		kv[name+".units"] = v.Units
		kv[name+".long_name"] = v.LongName
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	opts := make([]parquet.WriterOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, parquet.KeyValueMetadata(k, kv[k]))
	}
	return opts
}

func writeParquet[T any](rows []T, opts []parquet.WriterOption, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[T](file, opts...)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write rows to %s: %w", outputPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return file.Close()
}

// WriteWindParquet writes one elevation series to outputPath.
func WriteWindParquet(series models.ElevationSeries, attrs Attributes, outputPath string) error {
	all := Attributes{
		"elevation":       fmt.Sprintf("%d", series.Label),
		"scans":           fmt.Sprintf("%d", series.Scans),
		"missing_value":   "-999",
		"retrieval_model": "v = a + b*cos(theta - phi)",
	}
	for k, v := range attrs {
		all[k] = v
	}
	return writeParquet(WindRows(series.Records), metadataOptions(all, WindVariables), outputPath)
}

// WriteSamplesParquet writes raw radial samples to outputPath.
func WriteSamplesParquet(samples []models.RadialSample, attrs Attributes, outputPath string) error {
	return writeParquet(SampleRows(samples), metadataOptions(attrs, SampleVariables), outputPath)
}

// WindFileName is the file name of a day's VAD export at one elevation.
func WindFileName(date time.Time, label int) string {
	return fmt.Sprintf("windcube_%s_vad%02d.parquet", date.Format("20060102"), label)
}

// SamplesFileName is the file name of a day's raw sample export.
func SamplesFileName(date time.Time, p models.Property) string {
	return fmt.Sprintf("windcube_%s_%s.parquet", date.Format("20060102"), p.LogSuffix())
}
