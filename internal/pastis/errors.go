package pastis

import (
	"errors"
	"fmt"
)

// Domain errors for matrix assembly.
var (
	// ErrInvalidMask indicates a dark-hole mask with no selected pixels.
	ErrInvalidMask = errors.New("pastis: dark-hole mask selects no pixels")

	// ErrShapeMismatch indicates fields and mask on different grids.
	ErrShapeMismatch = errors.New("pastis: field and mask shapes differ")

	// ErrNoModes indicates an empty field sequence or mode enumeration.
	ErrNoModes = errors.New("pastis: no aberration modes")

	// ErrInvalidNorm indicates a non-positive or non-finite normalization factor.
	ErrInvalidNorm = errors.New("pastis: normalization factor must be positive and finite")

	// ErrInvalidAmplitude indicates a non-positive calibration amplitude.
	ErrInvalidAmplitude = errors.New("pastis: calibration amplitude must be positive")

	// ErrMissingField indicates a nil entry in the per-mode field sequence.
	ErrMissingField = errors.New("pastis: missing field for mode")
)

// Stage names reported in StageError.
const (
	StageReference = "reference"
	StageMirror    = "mirror"
	StageBind      = "bind"
	StageFields    = "fields"
	StageAssemble  = "assemble"
)

// StageError reports which lifecycle stage aborted a run.
type StageError struct {
	Stage   string
	Wrapped error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Wrapped)
}

func (e *StageError) Unwrap() error { return e.Wrapped }

// ConfigurationError wraps missing or invalid instrument setup.
type ConfigurationError struct {
	Instrument string
	Wrapped    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration (%s): %v", e.Instrument, e.Wrapped)
}

func (e *ConfigurationError) Unwrap() error { return e.Wrapped }

// PropagationError reports a field propagator failure for one mode.
type PropagationError struct {
	Mode    int
	Wrapped error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("mode %d: propagation failed: %v", e.Mode, e.Wrapped)
}

func (e *PropagationError) Unwrap() error { return e.Wrapped }

// PersistenceError reports a failed artifact write. It is logged, not
// returned, for diagnostic artifacts.
type PersistenceError struct {
	Path    string
	Wrapped error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Wrapped)
}

func (e *PersistenceError) Unwrap() error { return e.Wrapped }
