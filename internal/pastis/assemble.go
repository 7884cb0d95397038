package pastis

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/pastis/internal/field"
	"gonum.org/v1/gonum/mat"
)

// NanometersPerMeter converts a calibration amplitude applied in meters to
// the unit the matrix is normalized in.
const NanometersPerMeter = 1e9

// Assembler builds a PASTIS matrix from one focal-plane field per mode.
//
// The contrast of a simultaneous aberration on modes i and j expands into
// the two self terms and one cross term, and every term only needs the
// single-mode fields. N propagations therefore replace the N² of the
// pairwise method.
type Assembler struct {
	// Workers bounds the goroutines used for the pair loop.
	Workers int
	Logger  *slog.Logger
	// OnPair, if set, is called once per pair from the worker goroutines.
	OnPair func(i, j int, contrast float64)
}

// Assemble runs Assembler{}.Assemble.
func Assemble(fields []*field.Complex, ref *field.Complex, norm float64, mask *field.Mask, amplitude float64) (*mat.SymDense, error) {
	return Assembler{}.Assemble(fields, ref, norm, mask, amplitude)
}

// Assemble computes the half matrix, symmetrizes it and divides every entry
// by amplitude². amplitude must be in the unit the matrix is normalized in.
func (a Assembler) Assemble(fields []*field.Complex, ref *field.Complex, norm float64, mask *field.Mask, amplitude float64) (*mat.SymDense, error) {
	if !(amplitude > 0) || math.IsInf(amplitude, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidAmplitude, amplitude)
	}
	half, err := a.HalfMatrix(fields, ref, norm, mask)
	if err != nil {
		return nil, err
	}

	a.logger().Info("symmetrizing PASTIS matrix", "modes", len(fields))
	m := Symmetrize(half)
	Normalize(m, amplitude)
	return m, nil
}

// HalfMatrix fills entry (i, j) for every i <= j with the dark-hole mean of
// real((E_i - E_ref)·conj(E_j - E_ref)) / norm. Entries below the diagonal
// stay zero.
func (a Assembler) HalfMatrix(fields []*field.Complex, ref *field.Complex, norm float64, mask *field.Mask) (*mat.Dense, error) {
	idx, err := validateInputs(fields, ref, norm, mask)
	if err != nil {
		return nil, err
	}
	n := len(fields)

	diffs := make([][]complex128, n)
	ParallelFor(n, a.Workers, 1, func(start, end int) {
		for k := start; k < end; k++ {
			diffs[k] = maskedDiff(fields[k], ref, idx)
		}
	})

	half := mat.NewDense(n, n, nil)
	log := a.logger()
	// each row is written by exactly one goroutine
	ParallelFor(n, a.Workers, 1, func(start, end int) {
		for i := start; i < end; i++ {
			for j := i; j < n; j++ {
				c := field.CrossReal(diffs[i], diffs[j]) / norm
				half.Set(i, j, c)
				log.Debug("calculated contrast for pair", "i", i, "j", j, "contrast", c)
				if a.OnPair != nil {
					a.OnPair(i, j, c)
				}
			}
		}
	})
	return half, nil
}

// PairContrast computes a single half-matrix entry for fields a and b.
func PairContrast(a, b, ref *field.Complex, norm float64, mask *field.Mask) (float64, error) {
	idx, err := validateInputs([]*field.Complex{a, b}, ref, norm, mask)
	if err != nil {
		return 0, err
	}
	return field.CrossReal(maskedDiff(a, ref, idx), maskedDiff(b, ref, idx)) / norm, nil
}

// Symmetrize mirrors the upper triangle of half, diagonal included, into a
// symmetric matrix. The lower triangle of half is ignored.
func Symmetrize(half mat.Matrix) *mat.SymDense {
	n, _ := half.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, half.At(i, j))
		}
	}
	return sym
}

// Normalize divides every entry of m by amplitude² in place.
func Normalize(m *mat.SymDense, amplitude float64) {
	sq := amplitude * amplitude
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			m.SetSym(i, j, m.At(i, j)/sq)
		}
	}
}

func maskedDiff(f, ref *field.Complex, idx []int) []complex128 {
	out := field.Gather(f, idx)
	for k, i := range idx {
		out[k] -= ref.Data[i]
	}
	return out
}

func validateInputs(fields []*field.Complex, ref *field.Complex, norm float64, mask *field.Mask) ([]int, error) {
	if len(fields) == 0 {
		return nil, ErrNoModes
	}
	if !(norm > 0) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidNorm, norm)
	}
	if mask == nil {
		return nil, ErrInvalidMask
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: reference", ErrMissingField)
	}
	if !ref.SameShape(mask.Rows, mask.Cols) {
		return nil, fmt.Errorf("%w: reference %dx%d, mask %dx%d", ErrShapeMismatch, ref.Rows, ref.Cols, mask.Rows, mask.Cols)
	}
	for k, f := range fields {
		if f == nil {
			return nil, fmt.Errorf("%w: %d", ErrMissingField, k)
		}
		if !f.SameShape(mask.Rows, mask.Cols) {
			return nil, fmt.Errorf("%w: mode %d field %dx%d, mask %dx%d", ErrShapeMismatch, k, f.Rows, f.Cols, mask.Rows, mask.Cols)
		}
	}
	idx := mask.Indices()
	if len(idx) == 0 {
		return nil, ErrInvalidMask
	}
	return idx, nil
}

func (a Assembler) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
