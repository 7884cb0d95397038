package optics

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/san-kum/pastis/internal/field"
)

// Telescope propagates a segmented pupil through an ideal coronagraph to a
// focal plane sampled at Sampling pixels per λ/D.
type Telescope struct {
	Aperture   *Aperture
	Wavelength float64
	Sampling   int
}

func NewTelescope(ap *Aperture, wavelength float64, sampling int) (*Telescope, error) {
	if ap == nil {
		return nil, fmt.Errorf("%w: nil aperture", ErrBadGeometry)
	}
	if sampling < 1 {
		return nil, fmt.Errorf("%w: %d px per λ/D", ErrBadSampling, sampling)
	}
	if wavelength <= 0 || math.IsNaN(wavelength) || math.IsInf(wavelength, 0) {
		return nil, fmt.Errorf("%w: wavelength %g", ErrBadSampling, wavelength)
	}
	return &Telescope{Aperture: ap, Wavelength: wavelength, Sampling: sampling}, nil
}

// FocalPixels is the side of the square focal-plane grid.
func (t *Telescope) FocalPixels() int { return t.Aperture.Pixels * t.Sampling }

// LambdaOverD converts an angular separation in λ/D to focal-plane pixels.
func (t *Telescope) LambdaOverD() float64 { return float64(t.Sampling) }

// Propagate computes the coronagraphic focal plane for a mirror surface
// given in meters on the pupil grid. A nil surface is a flat mirror.
func (t *Telescope) Propagate(ctx context.Context, surface []float64, opts Options) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := t.Aperture.Pixels
	if surface != nil && len(surface) != n*n {
		return nil, fmt.Errorf("%w: want %d samples, got %d", ErrSurfaceShape, n*n, len(surface))
	}

	// reflection doubles the optical path
	k := 4 * math.Pi / t.Wavelength
	pupil := make([]complex128, n*n)
	var phase []float64
	if opts.ReturnIntermediate {
		phase = make([]float64, n*n)
	}
	var mean complex128
	for _, idx := range t.Aperture.Indices() {
		phi := 0.0
		if surface != nil {
			phi = k * surface[idx]
		}
		pupil[idx] = cmplx.Rect(1, phi)
		mean += pupil[idx]
		if phase != nil {
			phase[idx] = phi
		}
	}
	mean /= complex(float64(len(t.Aperture.Indices())), 0)

	coro := make([]complex128, n*n)
	for _, idx := range t.Aperture.Indices() {
		coro[idx] = pupil[idx] - mean
	}

	focal, err := t.toFocal(ctx, coro)
	if err != nil {
		return nil, err
	}
	if !focal.IsValid() {
		return nil, ErrNonFinite
	}

	out := &Output{Intensity: focal.Intensity(), PupilPhase: phase}
	if opts.ReturnField {
		out.Field = focal
	}
	if opts.Reference {
		direct, err := t.toFocal(ctx, pupil)
		if err != nil {
			return nil, err
		}
		out.Direct = direct.Intensity()
	}
	return out, nil
}

// toFocal zero-pads a pupil field, applies a 2D FFT and centers the result.
func (t *Telescope) toFocal(ctx context.Context, pupil []complex128) (*field.Complex, error) {
	n := t.Aperture.Pixels
	f := t.FocalPixels()
	off := (f - n) / 2

	grid := make([][]complex128, f)
	for r := range grid {
		grid[r] = make([]complex128, f)
	}
	for r := 0; r < n; r++ {
		copy(grid[r+off][off:off+n], pupil[r*n:(r+1)*n])
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec := fft.FFT2(grid)

	out, err := field.NewComplex(f, f)
	if err != nil {
		return nil, err
	}
	half := f / 2
	for r := 0; r < f; r++ {
		for c := 0; c < f; c++ {
			out.Set((r+half)%f, (c+half)%f, spec[r][c])
		}
	}
	return out, nil
}
