package vad

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/windcube/internal/models"
)

// FailedFitSentinel is written in place of R² and the function call count
// when a fit failed, so archives keep a numeric column.
const FailedFitSentinel = -999

const (
	numParams = 3

	// Tolerances follow MINPACK's lmdif defaults.
	costTol  = 1.49012e-8
	stepTol  = 1.49012e-8
	gradTol  = 1e-12
	lambda0  = 1e-3
	lambdaUp = 10.0
	// Beyond this damping no step shrinks the cost any further.
	maxLambda = 1e16
	minDiag   = 1e-12
)

// FitParams are the parameters of v(θ) = Offset + Amplitude·cos(θ − Phase).
// Phase is in radians.
type FitParams struct {
	Offset    float64
	Amplitude float64
	Phase     float64
}

// Eval returns the model velocity at azimuth theta (radians).
func (p FitParams) Eval(theta float64) float64 {
	return p.Offset + p.Amplitude*math.Cos(theta-p.Phase)
}

// FitFailure explains why a range bin could not be fitted.
type FitFailure struct {
	Reason string
}

func (f *FitFailure) Error() string { return "sinusoid fit: " + f.Reason }

// FitResult is the outcome of fitting one range bin of one scan. Exactly one
// of Params/RSquared (on success) or Failure is meaningful.
type FitResult struct {
	Params        FitParams
	RSquared      float64
	FunctionCalls int
	Samples       int
	Failure       *FitFailure
}

func (r FitResult) OK() bool { return r.Failure == nil }

// ReportedRSquared returns R², or FailedFitSentinel for failed fits.
func (r FitResult) ReportedRSquared() float64 {
	if !r.OK() {
		return FailedFitSentinel
	}
	return r.RSquared
}

// ReportedFunctionCalls returns the number of model evaluations, or
// FailedFitSentinel for failed fits.
func (r FitResult) ReportedFunctionCalls() int {
	if !r.OK() {
		return FailedFitSentinel
	}
	return r.FunctionCalls
}

func failed(n int, format string, args ...any) FitResult {
	return FitResult{Samples: n, Failure: &FitFailure{Reason: fmt.Sprintf(format, args...)}}
}

// PrepareBin turns the raw azimuth (degrees) and radial velocity readings of
// one range bin into fit input: azimuths are shifted into [0, 360) and
// converted to radians, samples at the largest azimuth are dropped (the
// sweep's wrap-around duplicate), outliers are masked and masked samples
// removed.
func PrepareBin(azimuth, velocity []float64, margin float64) (theta, v []float64) {
	if len(azimuth) == 0 || len(azimuth) != len(velocity) {
		return nil, nil
	}
	az := make([]float64, len(azimuth))
	for i, a := range azimuth {
		az[i] = models.NormalizeAzimuth(a)
	}
	maxAz := floats.Max(az)

	var keptAz, keptV []float64
	for i, a := range az {
		if a < maxAz {
			keptAz = append(keptAz, a)
			keptV = append(keptV, velocity[i])
		}
	}
	keptV = FilterOutliers(keptV, margin)

	for i, val := range keptV {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			continue
		}
		theta = append(theta, keptAz[i]*math.Pi/180)
		v = append(v, val)
	}
	return theta, v
}

// FitSinusoid fits v(θ) = a + b·cos(θ − θmax) by Levenberg-Marquardt least
// squares. The initial guess is a = median(v), b = 3·σ(v)/√2 and θmax at the
// largest observed velocity. Numerical trouble is reported through
// FitResult.Failure; FitSinusoid never panics on bad input.
func FitSinusoid(theta, v []float64, maxIterations int) FitResult {
	n := len(v)
	if len(theta) != n {
		return failed(n, "azimuth/velocity length mismatch (%d != %d)", len(theta), n)
	}
	if n < numParams {
		return failed(n, "need at least %d samples, have %d", numParams, n)
	}
	for i := range v {
		if !isFinite(v[i]) || !isFinite(theta[i]) {
			return failed(n, "non-finite input at sample %d", i)
		}
	}

	_, std := stat.PopMeanStdDev(v, nil)
	p := [numParams]float64{median(v), 3 * std / math.Sqrt2, theta[floats.MaxIdx(v)]}

	calls := 0
	res := make([]float64, n)
	trialRes := make([]float64, n)
	eval := func(p [numParams]float64, dst []float64) float64 {
		calls++
		var cost float64
		for i := range theta {
			r := p[0] + p[1]*math.Cos(theta[i]-p[2]) - v[i]
			dst[i] = r
			cost += r * r
		}
		return cost
	}

	cost := eval(p, res)
	if !isFinite(cost) {
		return failed(n, "non-finite initial cost")
	}

	jac := mat.NewDense(n, numParams, nil)
	grad := mat.NewVecDense(numParams, nil)
	step := mat.NewVecDense(numParams, nil)
	damped := mat.NewSymDense(numParams, nil)
	var jtj mat.SymDense
	var chol mat.Cholesky
	lambda := lambda0

iterations:
	for iter := 0; iter < maxIterations && cost > 0; iter++ {
		for i := range theta {
			s, c := math.Sincos(theta[i] - p[2])
			jac.Set(i, 0, 1)
			jac.Set(i, 1, c)
			jac.Set(i, 2, p[1]*s)
		}
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(n, res))
		if floats.Norm(grad.RawVector().Data, math.Inf(1)) <= gradTol {
			break
		}

		for {
			if lambda > maxLambda {
				// No damping produces a descent step: p is a minimum to
				// machine precision.
				break iterations
			}
			for i := 0; i < numParams; i++ {
				for j := i; j < numParams; j++ {
					damped.SetSym(i, j, jtj.At(i, j))
				}
				d := jtj.At(i, i)
				damped.SetSym(i, i, d+lambda*math.Max(d, minDiag))
			}
			if !chol.Factorize(damped) {
				lambda *= lambdaUp
				continue
			}
			if err := chol.SolveVecTo(step, grad); err != nil {
				lambda *= lambdaUp
				continue
			}

			var trial [numParams]float64
			for k := range trial {
				trial[k] = p[k] - step.AtVec(k)
			}
			trialCost := eval(trial, trialRes)
			if !isFinite(trialCost) || trialCost >= cost {
				lambda *= lambdaUp
				continue
			}

			reduction := (cost - trialCost) / cost
			stepNorm := floats.Norm(step.RawVector().Data, 2)
			paramNorm := floats.Norm(p[:], 2)

			p = trial
			cost = trialCost
			res, trialRes = trialRes, res
			lambda = math.Max(lambda/lambdaUp, minDiag)

			if reduction <= costTol || stepNorm <= stepTol*(paramNorm+stepTol) {
				break iterations
			}
			break
		}
	}

	for _, x := range p {
		if !isFinite(x) {
			return failed(n, "solver diverged")
		}
	}

	params := normalize(FitParams{Offset: p[0], Amplitude: p[1], Phase: p[2]})
	return FitResult{
		Params:        params,
		RSquared:      rSquared(v, cost),
		FunctionCalls: calls,
		Samples:       n,
	}
}

// rSquared returns 1 − SSres/SStot. Input without variance cannot be
// explained by the sinusoid and scores 0.
func rSquared(v []float64, ssRes float64) float64 {
	mean := stat.Mean(v, nil)
	var ssTot float64
	for _, x := range v {
		d := x - mean
		ssTot += d * d
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// normalize folds a negative amplitude into the phase and wraps the phase
// into [0, 2π).
func normalize(p FitParams) FitParams {
	if p.Amplitude < 0 {
		p.Amplitude = -p.Amplitude
		p.Phase += math.Pi
	}
	p.Phase = math.Mod(p.Phase, 2*math.Pi)
	if p.Phase < 0 {
		p.Phase += 2 * math.Pi
	}
	return p
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
