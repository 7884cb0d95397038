package mirror

import "errors"

var (
	ErrNoModes        = errors.New("mirror: no actuation modes")
	ErrModeOutOfRange = errors.New("mirror: mode index out of range")
	ErrBadAmplitude   = errors.New("mirror: amplitude is NaN or Inf")
	ErrOrientations   = errors.New("mirror: pad orientations do not match segments")
	ErrBadTable       = errors.New("mirror: malformed influence table")
)
