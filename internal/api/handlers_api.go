package api

import (
	"log"
	"math"
	"net/http"
	"time"

	"github.com/lox/windcube/internal/httputil"
	"github.com/lox/windcube/internal/models"
	"github.com/lox/windcube/internal/store"
)

// WindRecord is the JSON form of a wind record. Undefined values are null.
type WindRecord struct {
	Time            time.Time `json:"time"`
	Range           float64   `json:"range"`
	Altitude        float64   `json:"altitude"`
	Speed           *float64  `json:"speed"`
	Vertical        *float64  `json:"vertical"`
	Direction       *float64  `json:"direction"`
	RSquared        float64   `json:"rsquared"`
	ConfidenceIndex *float64  `json:"confidence_index"`
	FunctionCalls   int       `json:"function_calls"`
}

type WindResponse struct {
	Date      string       `json:"date"`
	Elevation int          `json:"elevation"`
	Records   []WindRecord `json:"records"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func windRecords(records []models.WindRecord) []WindRecord {
	out := make([]WindRecord, len(records))
	for i, r := range records {
		out[i] = WindRecord{
			Time:            r.Time,
			Range:           r.Range,
			Altitude:        r.Altitude(),
			Speed:           finite(r.Speed),
			Vertical:        finite(r.Vertical),
			Direction:       finite(r.Direction),
			RSquared:        r.RSquared,
			ConfidenceIndex: finite(r.ConfidenceIndex),
			FunctionCalls:   r.FunctionCalls,
		}
	}
	return out
}

func (s *Server) handleAPIWind(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	label, err := parseElevation(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	start, end := s.store.DayBounds(date)
	records, err := s.store.GetWindRecords(label, start, end)
	if err != nil {
		log.Printf("api: get wind records: %v", err)
		httputil.InternalServerError(w, "failed to load wind records")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, WindResponse{
		Date:      start.Format("2006-01-02"),
		Elevation: label,
		Records:   windRecords(records),
	})
}

func (s *Server) handleAPIElevations(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	start, end := s.store.DayBounds(date)
	labels, err := s.store.GetElevations(start, end)
	if err != nil {
		log.Printf("api: get elevations: %v", err)
		httputil.InternalServerError(w, "failed to load elevations")
		return
	}
	if labels == nil {
		labels = []int{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"date":       start.Format("2006-01-02"),
		"elevations": labels,
	})
}

type RetrievalRun struct {
	Elevation   int       `json:"elevation"`
	Scans       int       `json:"scans"`
	Passed      int       `json:"passed"`
	Gated       int       `json:"gated"`
	Failed      int       `json:"failed"`
	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

func retrievalRuns(runs []store.RetrievalRun) []RetrievalRun {
	out := make([]RetrievalRun, len(runs))
	for i, r := range runs {
		out[i] = RetrievalRun{
			Elevation:   r.ElevationLabel,
			Scans:       r.Scans,
			Passed:      r.Passed,
			Gated:       r.Gated,
			Failed:      r.Failed,
			DurationMS:  r.Duration.Milliseconds(),
			CompletedAt: r.CompletedAt,
		}
	}
	return out
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	key := date.Format("2006-01-02")
	runs, err := s.store.GetRetrievalRuns(key)
	if err != nil {
		log.Printf("api: get retrieval runs: %v", err)
		httputil.InternalServerError(w, "failed to load retrieval runs")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"date": key,
		"runs": retrievalRuns(runs),
	})
}

type ScanInfo struct {
	Class     string    `json:"class"`
	ScanID    int       `json:"scan_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Elevation float64   `json:"elevation"`
	Samples   int       `json:"samples"`
	Ranges    int       `json:"ranges"`
}

// handleAPIScans lists the day's scans of one scan class (?class=VAD).
func (s *Server) handleAPIScans(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	name := r.URL.Query().Get("class")
	if name == "" {
		name = "VAD"
	}
	class, ok := s.engine.Config().Class(name)
	if !ok {
		httputil.BadRequest(w, "unknown scan class "+name)
		return
	}

	start, end := s.store.DayBounds(date)
	samples, err := s.store.GetSamples(start, end)
	if err != nil {
		log.Printf("api: get samples: %v", err)
		httputil.InternalServerError(w, "failed to load samples")
		return
	}

	scans := []ScanInfo{}
	for _, info := range s.engine.Scans(class, samples) {
		scans = append(scans, ScanInfo{
			Class:     info.Class,
			ScanID:    info.Scan.ScanID,
			Start:     info.Scan.StartTime,
			End:       info.Scan.EndTime,
			Elevation: info.Scan.Elevation,
			Samples:   info.Samples,
			Ranges:    info.Ranges,
		})
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"date":  start.Format("2006-01-02"),
		"class": class.Name,
		"scans": scans,
	})
}
