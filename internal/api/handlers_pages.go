package api

import (
	"log"
	"net/http"
	"time"

	"github.com/lox/windcube/internal/httputil"
	"github.com/lox/windcube/internal/plot"
	"github.com/lox/windcube/internal/store"
)

// DaySummary is one row of the index page.
type DaySummary struct {
	Date       time.Time
	Elevations []int
	Runs       []store.RetrievalRun
}

type IndexData struct {
	Days   []DaySummary
	Fields []plot.Field
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	days, err := s.store.GetSampleDays(14)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := IndexData{Fields: plot.Fields}
	for _, day := range days {
		start, end := s.store.DayBounds(day)
		elevations, err := s.store.GetElevations(start, end)
		if err != nil {
			log.Printf("api: get elevations for %s: %v", start.Format("2006-01-02"), err)
		}
		runs, err := s.store.GetRetrievalRuns(start.Format("2006-01-02"))
		if err != nil {
			log.Printf("api: get retrieval runs for %s: %v", start.Format("2006-01-02"), err)
		}
		data.Days = append(data.Days, DaySummary{Date: start, Elevations: elevations, Runs: runs})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("template error: %v", err)
	}
}

type HealthStatus struct {
	Status           string                      `json:"status"`
	MigrationVersion int                         `json:"migration_version"`
	LatestSampleDay  string                      `json:"latest_sample_day,omitempty"`
	Ingest           []store.IngestHealthSummary `json:"ingest"`
	RawLogs          *store.RawLogStats          `json:"raw_logs,omitempty"`
	RecentErrors     []string                    `json:"recent_errors,omitempty"`
}

// staleAfter is how many days without samples mark the service degraded.
const staleAfter = 2

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.MigrationVersion()
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	health := HealthStatus{Status: "ok", MigrationVersion: version}

	days, err := s.store.GetSampleDays(1)
	if err != nil {
		health.Status = "error"
		health.RecentErrors = append(health.RecentErrors, "samples: "+err.Error())
	} else if len(days) > 0 {
		health.LatestSampleDay = days[0].Format("2006-01-02")
		today, _ := s.store.DayBounds(time.Now())
		if today.Sub(days[0]) >= staleAfter*24*time.Hour {
			health.Status = "degraded"
		}
	}

	if health.Ingest, err = s.store.GetIngestHealth(7); err != nil {
		log.Printf("health: ingest summary: %v", err)
	}
	if health.RawLogs, err = s.store.GetRawLogStats(); err != nil {
		log.Printf("health: raw log stats: %v", err)
	}

	failed, err := s.store.GetRecentIngestErrors(5)
	if err != nil {
		log.Printf("health: recent ingest errors: %v", err)
	}
	for _, run := range failed {
		msg := run.Property
		if run.FileName.Valid {
			msg += " " + run.FileName.String
		}
		if run.ErrorMessage.Valid {
			msg += ": " + run.ErrorMessage.String
		}
		health.RecentErrors = append(health.RecentErrors, msg)
	}

	status := http.StatusOK
	if health.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, health)
}
