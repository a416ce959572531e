package api

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/lox/windcube/internal/httputil"
	"github.com/lox/windcube/internal/metrics"
	"github.com/lox/windcube/internal/models"
	"github.com/lox/windcube/internal/plot"
)

// handlePlot serves /plot/{field}.png?date=&elevation= as a time-height
// heat map rendered from the stored wind records.
func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/plot/"), ".png")
	if !ok {
		http.NotFound(w, r)
		return
	}
	field, ok := plot.FieldByName(name)
	if !ok {
		httputil.NotFound(w, "unknown field "+name)
		return
	}
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
	fileName := plot.FileName(start, label, field.Name)
	if s.cache != nil {
		if data, ok := s.cache.Get(fileName, start); ok {
			metrics.PlotRequests.WithLabelValues(field.Name, "cache").Inc()
			servePNG(w, data)
			return
		}
	}

	records, err := s.store.GetWindRecords(label, start, end)
	if err != nil {
		log.Printf("api: get wind records: %v", err)
		httputil.InternalServerError(w, "failed to load wind records")
		return
	}
	series := models.ElevationSeries{Label: label, Records: records}

	p, err := plot.TimeHeight(series, field, start)
	if errors.Is(err, plot.ErrTooFewScans) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		log.Printf("api: plot %s: %v", fileName, err)
		httputil.InternalServerError(w, "failed to build plot")
		return
	}

	var buf bytes.Buffer
	if err := plot.WritePNG(&buf, p); err != nil {
		log.Printf("api: render %s: %v", fileName, err)
		httputil.InternalServerError(w, "failed to render plot")
		return
	}

	metrics.PlotRequests.WithLabelValues(field.Name, "render").Inc()
	if s.cache != nil {
		if err := s.cache.Set(fileName, buf.Bytes()); err != nil {
			log.Printf("api: cache %s: %v", fileName, err)
		}
	}
	servePNG(w, buf.Bytes())
}

func servePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=600")
	w.Write(data)
}
