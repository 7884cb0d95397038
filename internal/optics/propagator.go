package optics

import (
	"context"

	"github.com/san-kum/pastis/internal/field"
)

type Propagator interface {
	Propagate(ctx context.Context, surface []float64, opts Options) (*Output, error)
}

type Options struct {
	// Reference also computes the direct, non-coronagraphic PSF.
	Reference bool
	// ReturnField keeps the complex focal-plane field in the output.
	ReturnField bool
	// ReturnIntermediate keeps the pupil phase in the output.
	ReturnIntermediate bool
}

type Output struct {
	Intensity  *field.Intensity
	Field      *field.Complex
	Direct     *field.Intensity
	PupilPhase []float64
}
