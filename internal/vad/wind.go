package vad

import "math"

// Wind holds the physical quantities derived from one fit. All three fields
// are NaN when the fit failed the quality gate.
type Wind struct {
	Speed     float64
	Vertical  float64
	Direction float64
}

func undefinedWind() Wind {
	return Wind{Speed: math.NaN(), Vertical: math.NaN(), Direction: math.NaN()}
}

// DeriveWind converts fitted sinusoid parameters into horizontal speed,
// vertical velocity and meteorological direction for a scan at elevation
// (radians). Fits that failed or whose R² is below minRSquared yield NaN.
func DeriveWind(fit FitResult, elevation, minRSquared float64) Wind {
	if !fit.OK() || !(fit.RSquared >= minRSquared) {
		return undefinedWind()
	}
	dir := math.Mod(fit.Params.Phase*180/math.Pi, 360)
	if dir < 0 {
		dir += 360
	}
	return Wind{
		Speed:     fit.Params.Amplitude / math.Cos(elevation),
		Vertical:  -fit.Params.Offset / math.Sin(elevation),
		Direction: dir,
	}
}
