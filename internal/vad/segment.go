package vad

import (
	"iter"
	"time"

	"github.com/lox/windcube/internal/models"
)

// Scan is one conical sweep: samples[Start:End] of the class-filtered series.
type Scan struct {
	Start     int
	End       int
	StartTime time.Time
	EndTime   time.Time
	Elevation float64 // degrees, from the first sample
	ScanID    int
}

// Len returns the number of samples in the scan.
func (s Scan) Len() int { return s.End - s.Start }

// Segment splits a time-ordered sample series into scans, starting a new
// scan after every timestamp gap strictly larger than gap. The sequence is
// computed lazily in a single pass over samples.
func Segment(samples []models.RadialSample, gap time.Duration) iter.Seq[Scan] {
	return func(yield func(Scan) bool) {
		if len(samples) == 0 {
			return
		}
		start := 0
		for i := 1; i <= len(samples); i++ {
			if i < len(samples) && samples[i].Time.Sub(samples[i-1].Time) <= gap {
				continue
			}
			first := samples[start]
			scan := Scan{
				Start:     start,
				End:       i,
				StartTime: first.Time,
				EndTime:   samples[i-1].Time,
				Elevation: first.Elevation,
				ScanID:    first.ScanID,
			}
			if !yield(scan) {
				return
			}
			start = i
		}
	}
}

// FilterClass returns the samples whose scan id is id, preserving order.
func FilterClass(samples []models.RadialSample, id int) []models.RadialSample {
	var out []models.RadialSample
	for _, s := range samples {
		if s.ScanID == id {
			out = append(out, s)
		}
	}
	return out
}
