// Package optics provides the field propagator used to build PASTIS matrices.
//
// The matrix pipeline only depends on the [Propagator] interface: given a
// mirror surface map it returns the focal-plane intensity and, on request,
// the complex field, the direct PSF and the pupil phase. [Telescope] is the
// bundled implementation, a Fraunhofer model of a hex-segmented aperture
// behind an ideal coronagraph:
//
//	ap, _ := optics.NewHexAperture(64, 2, 0.02, false)
//	tel, _ := optics.NewTelescope(ap, 500e-9, 4)
//	out, _ := tel.Propagate(ctx, surface, optics.Options{ReturnField: true})
//
// # Thread Safety
//
// Telescope is safe for concurrent use. Each call allocates its own buffers
// and only reads the aperture.
package optics
