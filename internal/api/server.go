package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/windcube/internal/store"
	"github.com/lox/windcube/internal/vad"
)

// Server serves stored winds as JSON and heat maps.
type Server struct {
	store  *store.Store
	engine *vad.Engine
	port   string
	loc    *time.Location
	tmpl   *template.Template
	cache  *PlotCache
}

func NewServer(store *store.Store, engine *vad.Engine, port string, loc *time.Location) *Server {
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		store:  store,
		engine: engine,
		port:   port,
		loc:    loc,
		tmpl:   newTemplates(),
	}
}

// SetPlotCache enables caching of rendered heat maps.
func (s *Server) SetPlotCache(cache *PlotCache) {
	s.cache = cache
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/wind", s.handleAPIWind)
	mux.HandleFunc("/api/elevations", s.handleAPIElevations)
	mux.HandleFunc("/api/runs", s.handleAPIRuns)
	mux.HandleFunc("/api/scans", s.handleAPIScans)
	mux.HandleFunc("/plot/", s.handlePlot)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// parseDate reads the date query parameter (YYYY-MM-DD), defaulting to
// today in the server's location.
func (s *Server) parseDate(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("date")
	if v == "" {
		now := time.Now().In(s.loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc), nil
	}
	d, err := time.ParseInLocation("2006-01-02", v, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
	}
	return d, nil
}

// defaultElevation is the VAD elevation served when none is requested.
const defaultElevation = 75

// parseElevation reads the elevation label, defaulting to defaultElevation.
func parseElevation(r *http.Request) (int, error) {
	v := r.URL.Query().Get("elevation")
	if v == "" {
		return defaultElevation, nil
	}
	label, err := strconv.Atoi(v)
	if err != nil || label < 0 || label > 90 {
		return 0, fmt.Errorf("invalid elevation %q", v)
	}
	return label, nil
}
