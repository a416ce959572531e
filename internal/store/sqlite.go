package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/lox/windcube/internal/models"
)

// Store persists lidar samples and retrieved wind records in SQLite.
// Sample and record timestamps are stored as Unix nanoseconds so that
// sub-second log resolution survives the round trip.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(db *sql.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc}
}

// DayBounds returns the half-open interval [start, end) covering date in the
// store's location.
func (s *Store) DayBounds(date time.Time) (time.Time, time.Time) {
	d := date.In(s.loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}

func (s *Store) fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).In(s.loc)
}

// InsertSamples appends radial samples, skipping any (time, range) already
// stored. It returns the number of new rows.
func (s *Store) InsertSamples(samples []models.RadialSample) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO radial_samples (time_ns, range_m, scan_id, los_id, azimuth, elevation, cnr, radial_velocity, confidence_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(time_ns, range_m) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, smp := range samples {
		res, err := stmt.Exec(smp.Time.UnixNano(), smp.Range, smp.ScanID, smp.LOSID, smp.Azimuth,
			smp.Elevation, nullFloat(smp.CNR), smp.RadialVelocity, nullFloat(smp.ConfidenceIndex))
		if err != nil {
			return 0, fmt.Errorf("insert sample at %s: %w", smp.Time.Format(time.RFC3339Nano), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit samples: %w", err)
	}
	return inserted, nil
}

// GetSamples returns radial samples with start <= time < end ordered by
// (time, range).
func (s *Store) GetSamples(start, end time.Time) ([]models.RadialSample, error) {
	rows, err := s.db.Query(`
		SELECT time_ns, range_m, scan_id, los_id, azimuth, elevation, cnr, radial_velocity, confidence_index
		FROM radial_samples
		WHERE time_ns >= ? AND time_ns < ?
		ORDER BY time_ns, range_m
	`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.RadialSample
	for rows.Next() {
		var (
			smp     models.RadialSample
			ns      int64
			losID   sql.NullInt64
			cnr, ci sql.NullFloat64
		)
		if err := rows.Scan(&ns, &smp.Range, &smp.ScanID, &losID, &smp.Azimuth, &smp.Elevation, &cnr, &smp.RadialVelocity, &ci); err != nil {
			return nil, err
		}
		smp.Time = s.fromNanos(ns)
		smp.LOSID = int(losID.Int64)
		smp.CNR = floatOrNaN(cnr)
		smp.ConfidenceIndex = floatOrNaN(ci)
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// GetSampleDays lists the days in the store's location that hold radial
// samples, most recent first.
func (s *Store) GetSampleDays(limit int) ([]time.Time, error) {
	rows, err := s.db.Query(`SELECT DISTINCT time_ns / 3600000000000 FROM radial_samples ORDER BY 1 DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []time.Time
	seen := make(map[time.Time]bool)
	for rows.Next() {
		var hour int64
		if err := rows.Scan(&hour); err != nil {
			return nil, err
		}
		day, _ := s.DayBounds(s.fromNanos(hour * int64(time.Hour)))
		if seen[day] {
			continue
		}
		seen[day] = true
		days = append(days, day)
		if limit > 0 && len(days) == limit {
			break
		}
	}
	return days, rows.Err()
}

// InsertDBSSamples appends DBS samples, skipping duplicates on (time, range).
func (s *Store) InsertDBSSamples(samples []models.DBSSample) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO dbs_samples (time_ns, range_m, scan_id, x_wind, y_wind, z_wind, confidence_index)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(time_ns, range_m) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, smp := range samples {
		res, err := stmt.Exec(smp.Time.UnixNano(), smp.Range, smp.ScanID,
			nullFloat(smp.XWind), nullFloat(smp.YWind), nullFloat(smp.ZWind), nullFloat(smp.ConfidenceIndex))
		if err != nil {
			return 0, fmt.Errorf("insert dbs sample at %s: %w", smp.Time.Format(time.RFC3339Nano), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit dbs samples: %w", err)
	}
	return inserted, nil
}

func (s *Store) GetDBSSamples(start, end time.Time) ([]models.DBSSample, error) {
	rows, err := s.db.Query(`
		SELECT time_ns, range_m, scan_id, x_wind, y_wind, z_wind, confidence_index
		FROM dbs_samples
		WHERE time_ns >= ? AND time_ns < ?
		ORDER BY time_ns, range_m
	`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.DBSSample
	for rows.Next() {
		var (
			smp        models.DBSSample
			ns         int64
			x, y, z, c sql.NullFloat64
		)
		if err := rows.Scan(&ns, &smp.Range, &smp.ScanID, &x, &y, &z, &c); err != nil {
			return nil, err
		}
		smp.Time = s.fromNanos(ns)
		smp.XWind, smp.YWind, smp.ZWind = floatOrNaN(x), floatOrNaN(y), floatOrNaN(z)
		smp.ConfidenceIndex = floatOrNaN(c)
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// ReplaceWindRecords stores the records of one elevation series, replacing
// any records already held for that elevation within [start, end).
func (s *Store) ReplaceWindRecords(series models.ElevationSeries, start, end time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM wind_records WHERE elevation_label = ? AND time_ns >= ? AND time_ns < ?
	`, series.Label, start.UnixNano(), end.UnixNano()); err != nil {
		return fmt.Errorf("clear wind records: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO wind_records (elevation_label, time_ns, range_m, elevation, speed, vertical, direction, rsquared, confidence_index, function_calls)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(elevation_label, time_ns, range_m) DO UPDATE SET
			elevation = excluded.elevation,
			speed = excluded.speed,
			vertical = excluded.vertical,
			direction = excluded.direction,
			rsquared = excluded.rsquared,
			confidence_index = excluded.confidence_index,
			function_calls = excluded.function_calls
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range series.Records {
		if _, err := stmt.Exec(series.Label, r.Time.UnixNano(), r.Range, r.Elevation,
			nullFloat(r.Speed), nullFloat(r.Vertical), nullFloat(r.Direction),
			r.RSquared, nullFloat(r.ConfidenceIndex), r.FunctionCalls); err != nil {
			return fmt.Errorf("insert wind record at %s/%.0fm: %w", r.Time.Format(time.RFC3339), r.Range, err)
		}
	}

	return tx.Commit()
}

// GetWindRecords returns the records of one elevation label within
// [start, end) ordered by (time, range).
func (s *Store) GetWindRecords(label int, start, end time.Time) ([]models.WindRecord, error) {
	rows, err := s.db.Query(`
		SELECT time_ns, range_m, elevation, speed, vertical, direction, rsquared, confidence_index, function_calls
		FROM wind_records
		WHERE elevation_label = ? AND time_ns >= ? AND time_ns < ?
		ORDER BY time_ns, range_m
	`, label, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.WindRecord
	for rows.Next() {
		var (
			r                      models.WindRecord
			ns                     int64
			speed, vert, dir, conf sql.NullFloat64
		)
		if err := rows.Scan(&ns, &r.Range, &r.Elevation, &speed, &vert, &dir, &r.RSquared, &conf, &r.FunctionCalls); err != nil {
			return nil, err
		}
		r.Time = s.fromNanos(ns)
		r.Speed, r.Vertical, r.Direction = floatOrNaN(speed), floatOrNaN(vert), floatOrNaN(dir)
		r.ConfidenceIndex = floatOrNaN(conf)
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetElevations lists the elevation labels holding wind records within
// [start, end), ascending.
func (s *Store) GetElevations(start, end time.Time) ([]int, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT elevation_label FROM wind_records
		WHERE time_ns >= ? AND time_ns < ?
		ORDER BY elevation_label
	`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []int
	for rows.Next() {
		var label int
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// RetrievalRun summarises the fits of one elevation on one day.
type RetrievalRun struct {
	Date           string // YYYY-MM-DD
	ElevationLabel int
	Scans          int
	Passed         int
	Gated          int
	Failed         int
	Duration       time.Duration
	CompletedAt    time.Time
}

func (s *Store) UpsertRetrievalRun(run RetrievalRun) error {
	_, err := s.db.Exec(`
		INSERT INTO retrieval_runs (date, elevation_label, scans, passed, gated, failed, duration_ms, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, elevation_label) DO UPDATE SET
			scans = excluded.scans,
			passed = excluded.passed,
			gated = excluded.gated,
			failed = excluded.failed,
			duration_ms = excluded.duration_ms,
			completed_at = excluded.completed_at
	`, run.Date, run.ElevationLabel, run.Scans, run.Passed, run.Gated, run.Failed,
		run.Duration.Milliseconds(), run.CompletedAt.UTC())
	return err
}

func (s *Store) GetRetrievalRuns(date string) ([]RetrievalRun, error) {
	rows, err := s.db.Query(`
		SELECT date, elevation_label, scans, passed, gated, failed, duration_ms, completed_at
		FROM retrieval_runs
		WHERE date = ?
		ORDER BY elevation_label
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RetrievalRun
	for rows.Next() {
		var (
			r  RetrievalRun
			ms sql.NullInt64
		)
		if err := rows.Scan(&r.Date, &r.ElevationLabel, &r.Scans, &r.Passed, &r.Gated, &r.Failed, &ms, &r.CompletedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms.Int64) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
