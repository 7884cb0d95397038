package optics

import "errors"

var (
	// ErrBadGeometry indicates an aperture that cannot be laid out.
	ErrBadGeometry = errors.New("optics: invalid aperture geometry")

	// ErrSurfaceShape indicates a surface map that does not match the pupil grid.
	ErrSurfaceShape = errors.New("optics: surface does not match pupil grid")

	// ErrBadSampling indicates a non-positive focal-plane sampling or wavelength.
	ErrBadSampling = errors.New("optics: invalid sampling")

	// ErrNonFinite indicates the propagation produced NaN or Inf samples.
	ErrNonFinite = errors.New("optics: non-finite field")
)
