package automation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrRMS = errors.New("automation: rms aberration must be positive")

// MonteCarloConfig draws independent normal aberrations of the given rms,
// in nm, on every mode.
type MonteCarloConfig struct {
	RMS    float64
	Trials int
	Seed   uint64
}

type MonteCarloResult struct {
	RMS       float64
	Contrasts []float64
}

// RunMonteCarlo evaluates floor + aᵀMa for random aberration vectors a.
func RunMonteCarlo(ctx context.Context, m mat.Symmetric, floor float64, cfg MonteCarloConfig) (*MonteCarloResult, error) {
	if !(cfg.RMS > 0) {
		return nil, fmt.Errorf("%w: %g", ErrRMS, cfg.RMS)
	}
	if cfg.Trials <= 0 {
		return nil, fmt.Errorf("automation: trials must be positive, got %d", cfg.Trials)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	n := m.SymmetricDim()
	dist := distuv.Normal{Mu: 0, Sigma: cfg.RMS, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	a := mat.NewVecDense(n, nil)

	out := &MonteCarloResult{RMS: cfg.RMS, Contrasts: make([]float64, cfg.Trials)}
	for trial := range cfg.Trials {
		if trial%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for i := range n {
			a.SetVec(i, dist.Rand())
		}
		out.Contrasts[trial] = floor + mat.Inner(a, m, a)
	}
	return out, nil
}

type MonteCarloStats struct {
	Mean, Std     float64
	Min, Max      float64
	Median, P95   float64
	BelowTarget   int
	FractionBelow float64
}

// Stats summarizes the trial contrasts against a target contrast.
func (r *MonteCarloResult) Stats(target float64) MonteCarloStats {
	if len(r.Contrasts) == 0 {
		return MonteCarloStats{}
	}
	sorted := slices.Clone(r.Contrasts)
	slices.Sort(sorted)

	var s MonteCarloStats
	s.Mean, s.Std = stat.MeanStdDev(sorted, nil)
	s.Min, s.Max = sorted[0], sorted[len(sorted)-1]
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	for _, c := range sorted {
		if c <= target {
			s.BelowTarget++
		}
	}
	s.FractionBelow = float64(s.BelowTarget) / float64(len(sorted))
	return s
}

// SweepPoint is the contrast at one rms level. Mean is the analytic
// expectation floor + rms²·tr(M); MonteCarlo is set when trials ran.
type SweepPoint struct {
	RMS        float64
	Mean       float64
	MonteCarlo *MonteCarloStats
}

// Sweep evaluates the contrast over rms values, with trials Monte Carlo
// draws per point when trials > 0.
func Sweep(ctx context.Context, m mat.Symmetric, floor, target float64, rms []float64, trials int, seed uint64) ([]SweepPoint, error) {
	trace := 0.0
	for i := range m.SymmetricDim() {
		trace += m.At(i, i)
	}

	points := make([]SweepPoint, 0, len(rms))
	for i, r := range rms {
		if !(r > 0) {
			return nil, fmt.Errorf("%w: %g", ErrRMS, r)
		}
		p := SweepPoint{RMS: r, Mean: floor + r*r*trace}
		if trials > 0 {
			res, err := RunMonteCarlo(ctx, m, floor, MonteCarloConfig{RMS: r, Trials: trials, Seed: seed + uint64(i)})
			if err != nil {
				return nil, err
			}
			st := res.Stats(target)
			p.MonteCarlo = &st
		}
		points = append(points, p)
	}
	return points, nil
}

// LogSpace returns n values spaced evenly in log10 from lo to hi.
func LogSpace(lo, hi float64, n int) []float64 {
	if n <= 0 || !(lo > 0) || !(hi > 0) {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	return floats.LogSpan(make([]float64, n), lo, hi)
}
