package store

import (
	"bytes"
	"database/sql"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/windcube/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	loc, err := time.LoadLocation("UTC")
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	store := New(db, loc)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

var day = time.Date(2015, 6, 21, 0, 0, 0, 0, time.UTC)

func testSamples() []models.RadialSample {
	ts := day.Add(6*time.Hour + 123456*time.Microsecond)
	return []models.RadialSample{
		{Time: ts, Range: 100, ScanID: 1, LOSID: 0, Azimuth: -30, Elevation: 75, CNR: -20.5, RadialVelocity: 1.25, ConfidenceIndex: 100},
		{Time: ts, Range: 150, ScanID: 1, LOSID: 0, Azimuth: -30, Elevation: 75, CNR: math.NaN(), RadialVelocity: -0.5, ConfidenceIndex: 50},
		{Time: ts.Add(10 * time.Second), Range: 100, ScanID: 1, LOSID: 1, Azimuth: 0, Elevation: 75, CNR: -21, RadialVelocity: 2, ConfidenceIndex: 99},
	}
}

func TestInsertAndGetSamples(t *testing.T) {
	store := setupTestStore(t)

	n, err := store.InsertSamples(testSamples())
	if err != nil {
		t.Fatalf("InsertSamples: %v", err)
	}
	if n != 3 {
		t.Errorf("inserted = %d, want 3", n)
	}

	start, end := store.DayBounds(day.Add(12 * time.Hour))
	got, err := store.GetSamples(start, end)
	if err != nil {
		t.Fatalf("GetSamples: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(got))
	}

	want := testSamples()
	if !got[0].Time.Equal(want[0].Time) {
		t.Errorf("Time = %v, want %v", got[0].Time, want[0].Time)
	}
	if got[0].Azimuth != -30 {
		t.Errorf("Azimuth = %v, want -30", got[0].Azimuth)
	}
	if got[0].CNR != -20.5 {
		t.Errorf("CNR = %v, want -20.5", got[0].CNR)
	}
	if !math.IsNaN(got[1].CNR) {
		t.Errorf("CNR = %v, want NaN for missing value", got[1].CNR)
	}
	if got[2].LOSID != 1 {
		t.Errorf("LOSID = %d, want 1", got[2].LOSID)
	}
}

func TestInsertSamples_AppendSkipsDuplicates(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.InsertSamples(testSamples()); err != nil {
		t.Fatal(err)
	}

	again := testSamples()
	again[0].RadialVelocity = 99
	extra := again[2]
	extra.Time = extra.Time.Add(10 * time.Second)
	again = append(again, extra)

	n, err := store.InsertSamples(again)
	if err != nil {
		t.Fatalf("InsertSamples: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1", n)
	}

	start, end := store.DayBounds(day)
	got, err := store.GetSamples(start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("len(samples) = %d, want 4", len(got))
	}
	if got[0].RadialVelocity != 1.25 {
		t.Errorf("RadialVelocity = %v, want original 1.25", got[0].RadialVelocity)
	}
}

func TestGetSamples_DayBounds(t *testing.T) {
	store := setupTestStore(t)

	samples := []models.RadialSample{
		{Time: day.Add(-time.Nanosecond), Range: 100, ScanID: 1},
		{Time: day, Range: 100, ScanID: 1},
		{Time: day.Add(24*time.Hour - time.Microsecond), Range: 100, ScanID: 1},
		{Time: day.Add(24 * time.Hour), Range: 100, ScanID: 1},
	}
	if _, err := store.InsertSamples(samples); err != nil {
		t.Fatal(err)
	}

	start, end := store.DayBounds(day)
	got, err := store.GetSamples(start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(got))
	}
	if !got[0].Time.Equal(day) {
		t.Errorf("first sample = %v, want %v", got[0].Time, day)
	}
}

func TestGetSampleDays(t *testing.T) {
	store := setupTestStore(t)

	samples := []models.RadialSample{
		{Time: day.Add(time.Hour), Range: 100},
		{Time: day.Add(2 * time.Hour), Range: 100},
		{Time: day.AddDate(0, 0, 2).Add(time.Hour), Range: 100},
	}
	if _, err := store.InsertSamples(samples); err != nil {
		t.Fatal(err)
	}

	days, err := store.GetSampleDays(0)
	if err != nil {
		t.Fatalf("GetSampleDays: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("len(days) = %d, want 2", len(days))
	}
	if !days[0].Equal(day.AddDate(0, 0, 2)) {
		t.Errorf("days[0] = %v, want most recent day first", days[0])
	}

	days, err = store.GetSampleDays(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 {
		t.Errorf("len(days) = %d, want 1 with limit", len(days))
	}
}

func TestInsertAndGetDBSSamples(t *testing.T) {
	store := setupTestStore(t)

	samples := []models.DBSSample{
		{Time: day.Add(time.Hour), Range: 100, ScanID: 6, XWind: 3, YWind: -4, ZWind: 0.1, ConfidenceIndex: 100},
		{Time: day.Add(time.Hour), Range: 150, ScanID: 6, XWind: math.NaN(), YWind: 1, ZWind: 0, ConfidenceIndex: 0},
	}
	n, err := store.InsertDBSSamples(samples)
	if err != nil {
		t.Fatalf("InsertDBSSamples: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
	if n, _ := store.InsertDBSSamples(samples); n != 0 {
		t.Errorf("re-insert stored %d rows, want 0", n)
	}

	start, end := store.DayBounds(day)
	got, err := store.GetDBSSamples(start, end)
	if err != nil {
		t.Fatalf("GetDBSSamples: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(got))
	}
	if got[0].XWind != 3 || got[0].YWind != -4 {
		t.Errorf("wind = (%v, %v), want (3, -4)", got[0].XWind, got[0].YWind)
	}
	if !math.IsNaN(got[1].XWind) {
		t.Errorf("XWind = %v, want NaN", got[1].XWind)
	}
}

func testSeries(label int, speed float64) models.ElevationSeries {
	scan := day.Add(6 * time.Hour)
	return models.ElevationSeries{
		Label:     label,
		Elevation: float64(label),
		ScanIDs:   []int{1},
		Scans:     1,
		Records: []models.WindRecord{
			{Time: scan, Range: 100, Elevation: float64(label), Speed: speed, Vertical: 0.2, Direction: 225, RSquared: 0.95, ConfidenceIndex: 88, FunctionCalls: 7},
			{Time: scan, Range: 150, Elevation: float64(label), Speed: math.NaN(), Vertical: math.NaN(), Direction: math.NaN(), RSquared: -999, ConfidenceIndex: math.NaN(), FunctionCalls: -999},
		},
	}
}

func TestReplaceAndGetWindRecords(t *testing.T) {
	store := setupTestStore(t)
	start, end := store.DayBounds(day)

	if err := store.ReplaceWindRecords(testSeries(75, 6.5), start, end); err != nil {
		t.Fatalf("ReplaceWindRecords: %v", err)
	}

	got, err := store.GetWindRecords(75, start, end)
	if err != nil {
		t.Fatalf("GetWindRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(got))
	}
	if got[0].Speed != 6.5 || got[0].Direction != 225 || got[0].FunctionCalls != 7 {
		t.Errorf("record[0] = %+v", got[0])
	}
	if got[1].Valid() {
		t.Error("failed record should round-trip as invalid")
	}
	if got[1].RSquared != -999 || got[1].FunctionCalls != -999 {
		t.Errorf("sentinels = (%v, %d), want -999", got[1].RSquared, got[1].FunctionCalls)
	}
	if !math.IsNaN(got[1].ConfidenceIndex) {
		t.Errorf("ConfidenceIndex = %v, want NaN", got[1].ConfidenceIndex)
	}
}

func TestReplaceWindRecords_Overwrites(t *testing.T) {
	store := setupTestStore(t)
	start, end := store.DayBounds(day)

	if err := store.ReplaceWindRecords(testSeries(75, 6.5), start, end); err != nil {
		t.Fatal(err)
	}
	series := testSeries(75, 8)
	series.Records = series.Records[:1]
	if err := store.ReplaceWindRecords(series, start, end); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetWindRecords(75, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len(records) = %d, want 1 after replace", len(got))
	}
	if got[0].Speed != 8 {
		t.Errorf("Speed = %v, want 8", got[0].Speed)
	}
}

func TestGetElevations(t *testing.T) {
	store := setupTestStore(t)
	start, end := store.DayBounds(day)

	for _, label := range []int{75, 45} {
		if err := store.ReplaceWindRecords(testSeries(label, 5), start, end); err != nil {
			t.Fatal(err)
		}
	}

	labels, err := store.GetElevations(start, end)
	if err != nil {
		t.Fatalf("GetElevations: %v", err)
	}
	if len(labels) != 2 || labels[0] != 45 || labels[1] != 75 {
		t.Errorf("labels = %v, want [45 75]", labels)
	}

	labels, err = store.GetElevations(end, end.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 0 {
		t.Errorf("labels = %v, want none on the next day", labels)
	}
}

func TestRetrievalRuns(t *testing.T) {
	store := setupTestStore(t)

	run := RetrievalRun{Date: "2015-06-21", ElevationLabel: 75, Scans: 10, Passed: 300, Gated: 20, Failed: 5,
		Duration: 1500 * time.Millisecond, CompletedAt: time.Now()}
	if err := store.UpsertRetrievalRun(run); err != nil {
		t.Fatalf("UpsertRetrievalRun: %v", err)
	}
	run.Passed = 310
	if err := store.UpsertRetrievalRun(run); err != nil {
		t.Fatal(err)
	}

	runs, err := store.GetRetrievalRuns("2015-06-21")
	if err != nil {
		t.Fatalf("GetRetrievalRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Passed != 310 {
		t.Errorf("Passed = %d, want 310", runs[0].Passed)
	}
	if runs[0].Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", runs[0].Duration)
	}
}

func TestIngestRun_StartAndComplete(t *testing.T) {
	store := setupTestStore(t)

	file := "20150621-000000_radial_wind_speed.txt"
	run, err := store.StartIngestRun("local", "wind", &file)
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	if run.ID == 0 {
		t.Error("run.ID should be set")
	}
	if run.Source != "local" {
		t.Errorf("run.Source = %q, want 'local'", run.Source)
	}

	run.SizeBytes = sql.NullInt64{Int64: 1024, Valid: true}
	run.RecordsParsed = sql.NullInt64{Int64: 10, Valid: true}
	run.RecordsStored = sql.NullInt64{Int64: 10, Valid: true}
	run.Success = true

	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	health, err := store.GetIngestHealth(1)
	if err != nil {
		t.Fatalf("GetIngestHealth: %v", err)
	}

	found := false
	for _, h := range health {
		if h.Source == "local" && h.Property == "wind" {
			found = true
			if h.SuccessRuns != 1 {
				t.Errorf("SuccessRuns = %d, want 1", h.SuccessRuns)
			}
			if h.TotalRecords != 10 {
				t.Errorf("TotalRecords = %d, want 10", h.TotalRecords)
			}
		}
	}
	if !found {
		t.Error("Expected health summary for local/wind")
	}
}

func TestIngestRun_GetRecentErrors(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartIngestRun("ftp", "dbs", nil)
	if err != nil {
		t.Fatal(err)
	}

	run.Success = false
	run.ErrorMessage = sql.NullString{String: "550 file unavailable", Valid: true}
	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatal(err)
	}

	errors, err := store.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(errors) != 1 {
		t.Fatalf("len(errors) = %d, want 1", len(errors))
	}
	if errors[0].ErrorMessage.String != "550 file unavailable" {
		t.Errorf("ErrorMessage = %q", errors[0].ErrorMessage.String)
	}
	if errors[0].Property != "dbs" {
		t.Errorf("Property = %q, want dbs", errors[0].Property)
	}
}

func TestArchiveRawLog_Dedupe(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte("Timestamp\tRange\n2015-06-21 00:00:01.000000\t100\n")

	id, err := store.ArchiveRawLog(nil, "wind", "a.txt", payload)
	if err != nil {
		t.Fatalf("ArchiveRawLog: %v", err)
	}
	if id == 0 {
		t.Fatal("first archive should return an id")
	}

	dup, err := store.ArchiveRawLog(nil, "wind", "b.txt", payload)
	if err != nil {
		t.Fatal(err)
	}
	if dup != 0 {
		t.Errorf("duplicate archive id = %d, want 0", dup)
	}

	l, err := store.GetRawLog(id)
	if err != nil {
		t.Fatalf("GetRawLog: %v", err)
	}
	if l.FileName != "a.txt" || l.Property != "wind" || l.PayloadHash != HashLog(payload) {
		t.Errorf("GetRawLog = %+v, want a.txt", l)
	}
	got, err := l.Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}

	if _, err := store.GetRawLog(id + 100); err == nil {
		t.Error("expected error for unknown raw log id")
	}

	stats, err := store.GetRawLogStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalCount != 1 || stats.CountByProperty["wind"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetRawLogIDsForDay(t *testing.T) {
	store := setupTestStore(t)

	archive := func(property, name, body string) int64 {
		t.Helper()
		id, err := store.ArchiveRawLog(nil, property, name, []byte(body))
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	v1 := archive("wind", "20150621-000000_radial_wind_speed.txt", "v1")
	v2 := archive("wind", "20150621-000000_radial_wind_speed.txt", "v2")
	archive("dbs", "20150621-000000_dbs_wind.txt", "dbs")
	archive("wind", "20150622-000000_radial_wind_speed.txt", "next day")

	ids, err := store.GetRawLogIDsForDay("wind", day)
	if err != nil {
		t.Fatalf("GetRawLogIDsForDay: %v", err)
	}
	if len(ids) != 2 || ids[0] != v1 || ids[1] != v2 {
		t.Errorf("ids = %v, want [%d %d]", ids, v1, v2)
	}

	ids, err = store.GetRawLogIDsForDay("wind", day.AddDate(0, 0, -1))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}
}

func TestCleanupOldRawLogs(t *testing.T) {
	store := setupTestStore(t)

	old, err := store.ArchiveRawLog(nil, "wind", "20150101-000000_radial_wind_speed.txt", []byte("old"))
	if err != nil {
		t.Fatal(err)
	}
	recent, err := store.ArchiveRawLog(nil, "wind", "20150621-000000_radial_wind_speed.txt", []byte("recent"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.Exec(`UPDATE raw_logs SET fetched_at = ? WHERE id = ?`,
		time.Now().UTC().AddDate(0, 0, -40), old); err != nil {
		t.Fatal(err)
	}

	n, err := store.CleanupOldRawLogs(30)
	if err != nil {
		t.Fatalf("CleanupOldRawLogs: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}

	if _, err := store.GetRawLog(old); err == nil {
		t.Error("old raw log should be gone")
	}
	if _, err := store.GetRawLog(recent); err != nil {
		t.Errorf("recent raw log: %v", err)
	}
}

func TestMigrationVersion(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("MigrationVersion = %d, want %d", version, len(migrations))
	}

	if err := store.Migrate(); err != nil {
		t.Errorf("second Migrate should be a no-op: %v", err)
	}
}
