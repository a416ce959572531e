package ingest

import (
	"bytes"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/lox/windcube/internal/metrics"
	"github.com/lox/windcube/internal/models"
	"github.com/lox/windcube/internal/store"
)

// Loader reads the instrument's daily text logs into the store.
type Loader struct {
	store   *store.Store
	dataDir string
	loc     *time.Location
}

func NewLoader(store *store.Store, dataDir string, loc *time.Location) *Loader {
	if loc == nil {
		loc = time.UTC
	}
	return &Loader{store: store, dataDir: dataDir, loc: loc}
}

// LoadStats summarises one or more loaded log files.
type LoadStats struct {
	Files    int
	Rows     int
	Stored   int
	Rejected int
}

func (s *LoadStats) add(o LoadStats) {
	s.Files += o.Files
	s.Rows += o.Rows
	s.Stored += o.Stored
	s.Rejected += o.Rejected
}

// LoadDay loads every log file of a property for date. Samples already in
// the store are skipped, so reloading a growing log only adds new rows.
func (l *Loader) LoadDay(date time.Time, p models.Property) (LoadStats, error) {
	files, err := FindLogs(l.dataDir, date, p)
	if err != nil {
		return LoadStats{}, err
	}

	var total LoadStats
	for _, path := range files {
		st, err := l.LoadFile(path, "local", p)
		if err != nil {
			return total, err
		}
		total.add(st)
	}
	log.Printf("ingest: %s %s: %d files, %d rows, %d new samples, %d rejected",
		p, date.Format("2006-01-02"), total.Files, total.Rows, total.Stored, total.Rejected)
	return total, nil
}

// LoadFile parses one log file, archives it and appends its samples. Every
// call is recorded as an ingest run.
func (l *Loader) LoadFile(path, source string, p models.Property) (LoadStats, error) {
	return l.audited(filepath.Base(path), source, p, func(run *store.IngestRun) (LoadStats, error) {
		payload, err := os.ReadFile(path)
		if err != nil {
			return LoadStats{}, fmt.Errorf("read log: %w", err)
		}
		if run != nil {
			run.SizeBytes = sql.NullInt64{Int64: int64(len(payload)), Valid: true}
		}
		l.archive(run, p, filepath.Base(path), payload)
		return l.loadPayload(payload, filepath.Base(path), p, run)
	})
}

// ReplayDay re-parses every archived version of a property's logs for date.
// It rebuilds the samples of a day whose local logs are gone.
func (l *Loader) ReplayDay(date time.Time, p models.Property) (LoadStats, error) {
	ids, err := l.store.GetRawLogIDsForDay(string(p), date)
	if err != nil {
		return LoadStats{}, fmt.Errorf("list archived logs: %w", err)
	}
	if len(ids) == 0 {
		return LoadStats{}, fmt.Errorf("%w: nothing archived for %s %s", ErrNoLogFiles, p, date.Format("2006-01-02"))
	}

	var total LoadStats
	for _, id := range ids {
		st, err := l.Replay(id)
		if err != nil {
			return total, err
		}
		total.add(st)
	}
	log.Printf("ingest: replayed %s %s: %d archived logs, %d rows, %d new samples",
		p, date.Format("2006-01-02"), total.Files, total.Rows, total.Stored)
	return total, nil
}

// Replay re-parses one archived log into the store.
func (l *Loader) Replay(id int64) (LoadStats, error) {
	raw, err := l.store.GetRawLog(id)
	if err != nil {
		return LoadStats{}, err
	}
	p := models.Property(raw.Property)
	return l.audited(raw.FileName, "archive", p, func(run *store.IngestRun) (LoadStats, error) {
		payload, err := raw.Payload()
		if err != nil {
			return LoadStats{}, err
		}
		if run != nil {
			run.SizeBytes = sql.NullInt64{Int64: int64(len(payload)), Valid: true}
		}
		return l.loadPayload(payload, raw.FileName, p, run)
	})
}

// audited runs load as an ingest run named after the log file.
func (l *Loader) audited(name, source string, p models.Property, load func(*store.IngestRun) (LoadStats, error)) (LoadStats, error) {
	run, err := l.store.StartIngestRun(source, string(p), &name)
	if err != nil {
		log.Printf("ingest: start run for %s: %v", name, err)
	}

	st, err := load(run)

	if run != nil {
		run.Success = err == nil
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if cerr := l.store.CompleteIngestRun(run); cerr != nil {
			log.Printf("ingest: complete run for %s: %v", name, cerr)
		}
	}
	if err != nil {
		return LoadStats{}, fmt.Errorf("load %s: %w", name, err)
	}
	return st, nil
}

func (l *Loader) archive(run *store.IngestRun, p models.Property, name string, payload []byte) {
	var runID *int64
	if run != nil {
		runID = &run.ID
	}
	if _, err := l.store.ArchiveRawLog(runID, string(p), name, payload); err != nil {
		log.Printf("ingest: archive %s: %v", name, err)
	}
}

func (l *Loader) loadPayload(payload []byte, name string, p models.Property, run *store.IngestRun) (LoadStats, error) {
	res, err := ParseLog(bytes.NewReader(payload), p, l.loc)
	if err != nil {
		return LoadStats{}, err
	}

	var stored int
	switch p {
	case models.PropertyWind:
		stored, err = l.store.InsertSamples(res.Radial)
	case models.PropertyDBS:
		stored, err = l.store.InsertDBSSamples(res.DBS)
	}
	if err != nil {
		return LoadStats{}, fmt.Errorf("store samples: %w", err)
	}

	if run != nil {
		run.RecordsParsed = sql.NullInt64{Int64: int64(res.Accepted()), Valid: true}
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		if res.Rejected > 0 {
			run.ParseErrors = sql.NullInt64{Int64: int64(res.Rejected), Valid: true}
			run.ErrorMessage = sql.NullString{String: res.FirstError, Valid: true}
		}
	}
	if res.Rejected > 0 {
		log.Printf("ingest: %s: %d rows rejected, first: %s", name, res.Rejected, res.FirstError)
	}

	metrics.SamplesIngested.WithLabelValues(string(p)).Add(float64(stored))
	metrics.SamplesRejected.WithLabelValues(string(p)).Add(float64(res.Rejected))

	return LoadStats{Files: 1, Rows: res.Rows, Stored: stored, Rejected: res.Rejected}, nil
}
