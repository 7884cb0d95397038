// Package field provides sampled focal-plane and pupil-plane arrays.
//
// The package defines the value types shared by the optics model and the
// matrix pipeline:
//
//   - [Complex]: complex electric field over a detector grid
//   - [Intensity]: real intensity image over the same grid
//   - [Mask]: boolean selection of pixels (dark hole, aperture)
//
// All arrays are stored row-major with explicit Rows and Cols. Values are
// treated as immutable once handed to another component; operations return
// new arrays instead of modifying receivers.
//
// # Example
//
//	dh := field.Annulus(256, 256, 3.4*4, 12*4)
//	c, err := field.MaskedMean(img, dh)
package field
