package api_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lox/windcube/internal/api"
	"github.com/lox/windcube/internal/models"
	"github.com/lox/windcube/internal/store"
	"github.com/lox/windcube/internal/vad"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) (*store.Store, *time.Location) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	loc := time.UTC
	s := store.New(db, loc)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s, loc
}

func newTestServer(t *testing.T, s *store.Store, loc *time.Location) *api.Server {
	t.Helper()
	engine, err := vad.New(vad.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return api.NewServer(s, engine, "8080", loc)
}

var testDay = time.Date(2015, 6, 21, 0, 0, 0, 0, time.UTC)

// seedWind stores two scans of 75° records over three range gates. The
// 200 m gate of the second scan failed its fit.
func seedWind(t *testing.T, s *store.Store) {
	t.Helper()
	var records []models.WindRecord
	for i, ts := range []time.Time{testDay.Add(6 * time.Hour), testDay.Add(7 * time.Hour)} {
		for _, r := range []float64{100, 150, 200} {
			rec := models.WindRecord{
				Time: ts, Range: r, Elevation: 75,
				Speed: 5 + r/100, Vertical: 0.1, Direction: 225,
				RSquared: 0.9, ConfidenceIndex: 90, FunctionCalls: 12,
			}
			if i == 1 && r == 200 {
				rec.Speed, rec.Vertical, rec.Direction = math.NaN(), math.NaN(), math.NaN()
				rec.RSquared, rec.FunctionCalls = -999, -999
			}
			records = append(records, rec)
		}
	}
	start, end := s.DayBounds(testDay)
	series := models.ElevationSeries{Label: 75, Elevation: 75, Scans: 2, Records: records}
	if err := s.ReplaceWindRecords(series, start, end); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertRetrievalRun(store.RetrievalRun{
		Date: "2015-06-21", ElevationLabel: 75, Scans: 2, Passed: 5, Failed: 1,
		Duration: 1500 * time.Millisecond, CompletedAt: testDay.Add(8 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	srv := newTestServer(t, s, loc)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var health api.HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.MigrationVersion == 0 {
		t.Error("expected migration version")
	}
}

func TestHealthEndpoint_StaleSamples(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	if _, err := s.InsertSamples([]models.RadialSample{{
		Time: testDay.Add(6 * time.Hour), Range: 100, ScanID: 1, Azimuth: 0, Elevation: 75,
		CNR: -20, RadialVelocity: 1, ConfidenceIndex: 90,
	}}); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, s, loc)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	body := w.Body.String()
	if !strings.Contains(body, `"status":"degraded"`) {
		t.Errorf("expected degraded status, got %s", body)
	}
	if !strings.Contains(body, `"latest_sample_day":"2015-06-21"`) {
		t.Errorf("expected latest sample day, got %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	srv := newTestServer(t, s, loc)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "windcube_retrieval_duration_seconds") {
		t.Error("expected windcube metrics in output")
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected runtime metrics in output")
	}
}

func TestWindEndpoint(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	seedWind(t, s)
	srv := newTestServer(t, s, loc)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/wind?date=2015-06-21&elevation=75", nil))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.WindResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Date != "2015-06-21" || resp.Elevation != 75 {
		t.Errorf("date/elevation = %s/%d", resp.Date, resp.Elevation)
	}
	if len(resp.Records) != 6 {
		t.Fatalf("records = %d, want 6", len(resp.Records))
	}

	first := resp.Records[0]
	if first.Speed == nil || *first.Speed != 6 {
		t.Errorf("first speed = %v, want 6", first.Speed)
	}
	if math.Abs(first.Altitude-100*math.Sin(75*math.Pi/180)) > 1e-9 {
		t.Errorf("altitude = %v", first.Altitude)
	}

	failed := resp.Records[5]
	if failed.Speed != nil || failed.Direction != nil {
		t.Errorf("failed fit should have null winds, got %+v", failed)
	}
	if failed.RSquared != -999 || failed.FunctionCalls != -999 {
		t.Errorf("failed fit sentinels = %v/%d", failed.RSquared, failed.FunctionCalls)
	}
}

func TestWindEndpoint_BadParams(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	srv := newTestServer(t, s, loc)

	tests := []struct {
		name string
		url  string
	}{
		{"bad date", "/api/wind?date=21-06-2015"},
		{"bad elevation", "/api/wind?date=2015-06-21&elevation=high"},
		{"elevation above zenith", "/api/wind?date=2015-06-21&elevation=91"},
		{"bad elevations date", "/api/elevations?date=yesterday"},
		{"unknown scan class", "/api/scans?date=2015-06-21&class=RHI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", tt.url, nil))
			if w.Code != 400 {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), `"error"`) {
				t.Error("expected error field in JSON response")
			}
		})
	}
}

func TestElevationsEndpoint(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	seedWind(t, s)
	srv := newTestServer(t, s, loc)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/elevations?date=2015-06-21", nil))
	if !strings.Contains(w.Body.String(), `"elevations":[75]`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/elevations?date=2015-06-22", nil))
	if !strings.Contains(w.Body.String(), `"elevations":[]`) {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}
}

func TestRunsEndpoint(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	seedWind(t, s)
	srv := newTestServer(t, s, loc)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs?date=2015-06-21", nil))

	var resp struct {
		Runs []api.RetrievalRun `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(resp.Runs))
	}
	if resp.Runs[0].Failed != 1 || resp.Runs[0].DurationMS != 1500 {
		t.Errorf("run = %+v", resp.Runs[0])
	}
}

func TestScansEndpoint(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)

	var samples []models.RadialSample
	for _, start := range []time.Time{testDay.Add(6 * time.Hour), testDay.Add(6*time.Hour + 10*time.Minute)} {
		for step := 0; step < 4; step++ {
			for _, r := range []float64{100, 150} {
				samples = append(samples, models.RadialSample{
					Time: start.Add(time.Duration(step) * 10 * time.Second), Range: r, ScanID: 1,
					Azimuth: float64(step * 90), Elevation: 75, CNR: -20, RadialVelocity: 1, ConfidenceIndex: 90,
				})
			}
		}
	}
	if _, err := s.InsertSamples(samples); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, s, loc)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/scans?date=2015-06-21", nil))

	var resp struct {
		Class string         `json:"class"`
		Scans []api.ScanInfo `json:"scans"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Class != "VAD" || len(resp.Scans) != 2 {
		t.Fatalf("class %s, scans %d, want VAD with 2", resp.Class, len(resp.Scans))
	}
	if resp.Scans[0].Samples != 8 || resp.Scans[0].Ranges != 2 {
		t.Errorf("first scan = %+v", resp.Scans[0])
	}
}

func TestPlotEndpoint(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	seedWind(t, s)
	srv := newTestServer(t, s, loc)
	cache := api.NewPlotCache(t.TempDir(), time.Minute)
	srv.SetPlotCache(cache)

	for _, field := range []string{"speed", "vertical", "direction"} {
		t.Run(field, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/plot/"+field+".png?date=2015-06-21&elevation=75", nil))

			if w.Code != 200 {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "image/png" {
				t.Errorf("content-type = %s, want image/png", ct)
			}
			if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
				t.Error("expected PNG body")
			}
		})
	}

	if got := len(cache.List()); got != 3 {
		t.Errorf("cached plots = %d, want 3", got)
	}

	// Served from cache on the second request.
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/plot/speed.png?date=2015-06-21&elevation=75", nil))
	if w.Code != 200 {
		t.Errorf("cached plot: expected 200, got %d", w.Code)
	}
}

func TestPlotEndpoint_NotFound(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	seedWind(t, s)
	srv := newTestServer(t, s, loc)

	tests := []struct {
		name string
		url  string
	}{
		{"unknown field", "/plot/temperature.png?date=2015-06-21"},
		{"not png", "/plot/speed.svg?date=2015-06-21"},
		{"no records", "/plot/speed.png?date=2015-06-22"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", tt.url, nil))
			if w.Code != 404 {
				t.Errorf("expected 404, got %d", w.Code)
			}
		})
	}
}

func TestIndexPage(t *testing.T) {
	t.Parallel()
	s, loc := setupTestStore(t)
	srv := newTestServer(t, s, loc)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "No samples ingested yet.") {
		t.Error("expected empty notice")
	}

	if _, err := s.InsertSamples([]models.RadialSample{{
		Time: testDay.Add(6 * time.Hour), Range: 100, ScanID: 1, Elevation: 75,
		CNR: -20, RadialVelocity: 1, ConfidenceIndex: 90,
	}}); err != nil {
		t.Fatal(err)
	}
	seedWind(t, s)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	body := w.Body.String()
	if !strings.Contains(body, "<h2>2015-06-21</h2>") {
		t.Error("expected day heading")
	}
	if !strings.Contains(body, "/plot/speed.png?date=2015-06-21&amp;elevation=75") {
		t.Error("expected speed plot link")
	}
	if !strings.Contains(body, "1500 ms") {
		t.Error("expected retrieval run duration")
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))
	if w.Code != 404 {
		t.Errorf("expected 404 for unknown path, got %d", w.Code)
	}
}
