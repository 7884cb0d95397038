package field

import "errors"

var (
	// ErrShapeMismatch indicates two arrays do not cover the same grid.
	ErrShapeMismatch = errors.New("field: shape mismatch")

	// ErrBadShape indicates a non-positive row or column count.
	ErrBadShape = errors.New("field: invalid shape")

	// ErrEmptyMask indicates a mask with no selected pixels.
	ErrEmptyMask = errors.New("field: mask selects no pixels")
)
