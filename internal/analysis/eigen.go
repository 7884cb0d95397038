package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimension   = errors.New("analysis: aberration length does not match matrix")
	ErrTarget      = errors.New("analysis: target contrast must exceed the contrast floor")
	ErrFactorize   = errors.New("analysis: eigendecomposition failed")
	ErrEmptyMatrix = errors.New("analysis: empty matrix")
)

// Mode is one eigenmode of a PASTIS matrix.
type Mode struct {
	// Rank orders modes by decreasing eigenvalue, starting at 0.
	Rank       int
	Eigenvalue float64
	// Vector has unit norm, one coefficient per actuation mode.
	Vector []float64
}

// Eigenmodes returns the eigenmodes of m sorted by decreasing eigenvalue.
func Eigenmodes(m mat.Symmetric) ([]Mode, error) {
	n := m.SymmetricDim()
	if n == 0 {
		return nil, ErrEmptyMatrix
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(m, true); !ok {
		return nil, ErrFactorize
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	modes := make([]Mode, n)
	for rank, k := range order {
		v := make([]float64, n)
		mat.Col(v, k, &vecs)
		modes[rank] = Mode{Rank: rank, Eigenvalue: values[k], Vector: v}
	}
	return modes, nil
}

// Contrast evaluates floor + aᵀ m a.
func Contrast(m mat.Symmetric, a []float64, floor float64) (float64, error) {
	n := m.SymmetricDim()
	if len(a) != n {
		return 0, fmt.Errorf("%w: %d coefficients for %d modes", ErrDimension, len(a), n)
	}
	v := mat.NewVecDense(n, a)
	return floor + mat.Inner(v, m, v), nil
}

// ModeTolerances returns the aberration budget of every mode, in the order
// given, that keeps the total contrast at target.
func ModeTolerances(modes []Mode, target, floor float64) ([]float64, error) {
	if len(modes) == 0 {
		return nil, ErrEmptyMatrix
	}
	if !(target > floor) {
		return nil, fmt.Errorf("%w: target %g, floor %g", ErrTarget, target, floor)
	}
	share := (target - floor) / float64(len(modes))
	out := make([]float64, len(modes))
	for i, m := range modes {
		if m.Eigenvalue <= 0 {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = math.Sqrt(share / m.Eigenvalue)
	}
	return out, nil
}

// Project returns the coefficients of a in the eigenmode basis.
func Project(modes []Mode, a []float64) ([]float64, error) {
	out := make([]float64, len(modes))
	for i, m := range modes {
		if len(m.Vector) != len(a) {
			return nil, fmt.Errorf("%w: %d coefficients for %d modes", ErrDimension, len(a), len(m.Vector))
		}
		out[i] = mat.Dot(mat.NewVecDense(len(a), m.Vector), mat.NewVecDense(len(a), a))
	}
	return out, nil
}

// Compose builds the aberration with the given eigenmode coefficients.
func Compose(modes []Mode, coeffs []float64) ([]float64, error) {
	if len(coeffs) != len(modes) {
		return nil, fmt.Errorf("%w: %d coefficients for %d eigenmodes", ErrDimension, len(coeffs), len(modes))
	}
	if len(modes) == 0 {
		return nil, ErrEmptyMatrix
	}
	n := len(modes[0].Vector)
	out := make([]float64, n)
	for i, m := range modes {
		for j, v := range m.Vector {
			out[j] += coeffs[i] * v
		}
	}
	return out, nil
}

// Diagonal returns the self-sensitivity of every mode.
func Diagonal(m mat.Symmetric) []float64 {
	n := m.SymmetricDim()
	d := make([]float64, n)
	for i := range d {
		d[i] = m.At(i, i)
	}
	return d
}
