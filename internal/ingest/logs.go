package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lox/windcube/internal/models"
)

// TimeLayout is the timestamp format of the instrument's text logs.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Fractional seconds are optional when parsing.
const parseLayout = "2006-01-02 15:04:05"

var ErrNoLogFiles = errors.New("no log files")

var logColumns = map[models.Property][]string{
	models.PropertyWind: {"time", "range", "scan_id", "los_id", "azimuth", "elevation", "cnr", "radial_wind_speed", "confidence_index"},
	models.PropertyDBS:  {"time", "range", "scan_id", "x_wind", "y_wind", "z_wind", "confidence_index"},
}

// Columns returns the log column layout of a property.
func Columns(p models.Property) ([]string, error) {
	cols, ok := logColumns[p]
	if !ok {
		return nil, fmt.Errorf("unknown property %q", p)
	}
	return cols, nil
}

// FindLogs returns the day's log files for a property, sorted by name.
// Files live under <dataDir>/<yyyy>/<yyyymmdd>-*_<suffix>.txt.
func FindLogs(dataDir string, date time.Time, p models.Property) ([]string, error) {
	if _, err := Columns(p); err != nil {
		return nil, err
	}
	pattern := filepath.Join(dataDir, date.Format("2006"), date.Format("20060102")+"-*_"+p.LogSuffix()+".txt")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoLogFiles, pattern)
	}
	slices.Sort(matches)
	return matches, nil
}

// ParseResult holds the rows of one log file that parsed and validated.
type ParseResult struct {
	Radial     []models.RadialSample
	DBS        []models.DBSSample
	Rows       int
	Rejected   int
	FirstError string
}

// Accepted returns the number of samples that passed validation.
func (r *ParseResult) Accepted() int {
	return len(r.Radial) + len(r.DBS)
}

func (r *ParseResult) reject(line int, reason string) {
	r.Rejected++
	if r.FirstError == "" {
		r.FirstError = fmt.Sprintf("line %d: %s", line, reason)
	}
}

// ParseLog reads a tab-separated log of the given property. The first line
// is a header and is skipped. Rows that fail to parse or validate are
// counted in Rejected rather than failing the whole file. Timestamps are
// interpreted in loc.
func ParseLog(r io.Reader, p models.Property, loc *time.Location) (*ParseResult, error) {
	cols, err := Columns(p)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	res := &ParseResult{}
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Rows++
				res.reject(line, perr.Err.Error())
				continue
			}
			return nil, fmt.Errorf("read log: %w", err)
		}
		if line == 1 {
			continue
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		res.Rows++

		if len(rec) < len(cols) {
			res.reject(line, fmt.Sprintf("%d fields, want %d", len(rec), len(cols)))
			continue
		}

		switch p {
		case models.PropertyWind:
			s, err := parseRadial(rec, loc)
			if err != nil {
				res.reject(line, err.Error())
				continue
			}
			if flags := ValidateSample(&s); len(flags) > 0 {
				res.reject(line, QualityFlagsToJSON(flags))
				continue
			}
			res.Radial = append(res.Radial, s)
		case models.PropertyDBS:
			s, err := parseDBS(rec, loc)
			if err != nil {
				res.reject(line, err.Error())
				continue
			}
			if flags := ValidateDBSSample(&s); len(flags) > 0 {
				res.reject(line, QualityFlagsToJSON(flags))
				continue
			}
			res.DBS = append(res.DBS, s)
		}
	}
	return res, nil
}

func parseRadial(rec []string, loc *time.Location) (models.RadialSample, error) {
	var s models.RadialSample
	var err error
	if s.Time, err = parseTime(rec[0], loc); err != nil {
		return s, err
	}
	f := fieldParser{rec: rec}
	s.Range = f.float(1, "range")
	s.ScanID = f.int(2, "scan_id")
	s.LOSID = f.int(3, "los_id")
	s.Azimuth = f.float(4, "azimuth")
	s.Elevation = f.float(5, "elevation")
	s.CNR = f.float(6, "cnr")
	s.RadialVelocity = f.float(7, "radial_wind_speed")
	s.ConfidenceIndex = f.float(8, "confidence_index")
	return s, f.err
}

func parseDBS(rec []string, loc *time.Location) (models.DBSSample, error) {
	var s models.DBSSample
	var err error
	if s.Time, err = parseTime(rec[0], loc); err != nil {
		return s, err
	}
	f := fieldParser{rec: rec}
	s.Range = f.float(1, "range")
	s.ScanID = f.int(2, "scan_id")
	s.XWind = f.float(3, "x_wind")
	s.YWind = f.float(4, "y_wind")
	s.ZWind = f.float(5, "z_wind")
	s.ConfidenceIndex = f.float(6, "confidence_index")
	return s, f.err
}

func parseTime(v string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(parseLayout, strings.TrimSpace(v), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}

// fieldParser parses numeric columns and keeps the first error.
type fieldParser struct {
	rec []string
	err error
}

func (f *fieldParser) float(i int, name string) float64 {
	v := strings.TrimSpace(f.rec[i])
	if v == "" {
		return math.NaN()
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		if f.err == nil {
			f.err = fmt.Errorf("parse %s %q: %w", name, v, err)
		}
		return math.NaN()
	}
	return x
}

func (f *fieldParser) int(i int, name string) int {
	x := f.float(i, name)
	if math.IsNaN(x) {
		if f.err == nil {
			f.err = fmt.Errorf("missing %s", name)
		}
		return 0
	}
	return int(math.Round(x))
}
