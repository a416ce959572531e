package ingest

import (
	"encoding/json"
	"math"

	"github.com/lox/windcube/internal/models"
)

const (
	FlagAzimuthOutOfRange    = "azimuth_out_of_range"
	FlagElevationOutOfRange  = "elevation_out_of_range"
	FlagConfidenceOutOfRange = "confidence_out_of_range"
	FlagVelocityNotFinite    = "velocity_not_finite"
	FlagRangeNegative        = "range_negative"
)

func ValidateSample(s *models.RadialSample) []string {
	var flags []string

	if s.Azimuth < -360 || s.Azimuth > 360 || math.IsNaN(s.Azimuth) {
		flags = append(flags, FlagAzimuthOutOfRange)
	}

	if s.Elevation < 0 || s.Elevation > 90 || math.IsNaN(s.Elevation) {
		flags = append(flags, FlagElevationOutOfRange)
	}

	// NaN means the instrument did not report one.
	if !math.IsNaN(s.ConfidenceIndex) && (s.ConfidenceIndex < 0 || s.ConfidenceIndex > 100) {
		flags = append(flags, FlagConfidenceOutOfRange)
	}

	if math.IsNaN(s.RadialVelocity) || math.IsInf(s.RadialVelocity, 0) {
		flags = append(flags, FlagVelocityNotFinite)
	}

	if s.Range < 0 || math.IsNaN(s.Range) {
		flags = append(flags, FlagRangeNegative)
	}

	return flags
}

func ValidateDBSSample(s *models.DBSSample) []string {
	var flags []string

	if !math.IsNaN(s.ConfidenceIndex) && (s.ConfidenceIndex < 0 || s.ConfidenceIndex > 100) {
		flags = append(flags, FlagConfidenceOutOfRange)
	}

	if math.IsInf(s.XWind, 0) || math.IsInf(s.YWind, 0) || math.IsInf(s.ZWind, 0) {
		flags = append(flags, FlagVelocityNotFinite)
	}

	if s.Range < 0 || math.IsNaN(s.Range) {
		flags = append(flags, FlagRangeNegative)
	}

	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
