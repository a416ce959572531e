package models

import (
	"math"
	"time"
)

// Property names a lidar product as it appears in log file names.
type Property string

const (
	PropertyWind Property = "wind" // radial wind speed
	PropertyDBS  Property = "dbs"  // Doppler beam swinging wind components
)

// LogSuffix returns the file-name suffix of the daily text logs for p.
func (p Property) LogSuffix() string {
	switch p {
	case PropertyWind:
		return "radial_wind_speed"
	case PropertyDBS:
		return "dbs_wind"
	default:
		return string(p)
	}
}

type RadialSample struct {
	Time            time.Time
	Range           float64 // m along the beam
	ScanID          int
	LOSID           int
	Azimuth         float64 // degrees, native readings may be negative
	Elevation       float64 // degrees
	CNR             float64 // dB
	RadialVelocity  float64 // m/s, positive towards the instrument
	ConfidenceIndex float64 // 0-100
}

// NormalizedAzimuth returns the azimuth shifted into [0, 360).
func (s RadialSample) NormalizedAzimuth() float64 { return NormalizeAzimuth(s.Azimuth) }

// NormalizeAzimuth shifts a native reading in [-360, 0) into [0, 360).
func NormalizeAzimuth(az float64) float64 {
	if az < 0 {
		return az + 360
	}
	return az
}

type DBSSample struct {
	Time            time.Time
	Range           float64
	ScanID          int
	XWind           float64 // m/s, eastward
	YWind           float64 // m/s, northward
	ZWind           float64 // m/s, positive upward
	ConfidenceIndex float64
}

// WindRecord is one VAD retrieval for a (scan start time, range) cell.
// Speed, Vertical and Direction are NaN when the fit did not pass the
// quality gate.
type WindRecord struct {
	Time            time.Time
	Range           float64
	Elevation       float64
	Speed           float64 // m/s
	Vertical        float64 // m/s, positive = updraft
	Direction       float64 // degrees, 0/360 = North
	RSquared        float64
	ConfidenceIndex float64
	FunctionCalls   int
}

// Valid reports whether the derived wind fields are populated.
func (r WindRecord) Valid() bool {
	return !math.IsNaN(r.Speed) && !math.IsNaN(r.Vertical) && !math.IsNaN(r.Direction)
}

// Altitude returns the height of the range gate above the instrument.
func (r WindRecord) Altitude() float64 {
	return r.Range * math.Sin(r.Elevation*math.Pi/180)
}

// ElevationSeries is the wind time series retrieved at one VAD elevation.
type ElevationSeries struct {
	Label     int     // rounded elevation, used for naming
	Elevation float64 // elevation of the first scan, degrees
	ScanIDs   []int
	Scans     int
	Records   []WindRecord // ordered by (Time, Range)
}
