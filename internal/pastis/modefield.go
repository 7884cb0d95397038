package pastis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/san-kum/pastis/internal/field"
	"github.com/san-kum/pastis/internal/mirror"
	"github.com/san-kum/pastis/internal/optics"
)

// ArtifactSink receives best-effort per-mode diagnostics.
type ArtifactSink interface {
	SaveField(mode int, f *field.Complex) error
	SavePhaseMap(mode int, phase []float64) error
}

// FieldCache returns fields persisted by an earlier, interrupted run.
type FieldCache interface {
	LoadField(mode int) (f *field.Complex, ok bool, err error)
}

// ModeContext carries everything needed to compute one mode's field.
// Amplitude is the full calibration amplitude in meters.
type ModeContext struct {
	Amplitude  float64
	Mirror     mirror.Mirror
	Propagator optics.Propagator
	Artifacts  ArtifactSink
	SaveFields bool
	SaveOPDs   bool
	Logger     *slog.Logger
}

// CalculateMode flattens the mirror, applies half the calibration amplitude
// to one mode and returns the propagated focal-plane field unmodified.
// mc.Mirror is mutated; callers running modes concurrently must give each
// call its own mirror.
func CalculateMode(ctx context.Context, mc ModeContext, mode int) (*field.Complex, error) {
	log := mc.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("calculating mode", "mode", mode)

	mc.Mirror.Flatten()
	if err := mc.Mirror.SetModeAmplitude(mode, mc.Amplitude/2); err != nil {
		return nil, &PropagationError{Mode: mode, Wrapped: err}
	}

	out, err := mc.Propagator.Propagate(ctx, mc.Mirror.Surface(), optics.Options{
		ReturnField:        true,
		ReturnIntermediate: mc.SaveOPDs,
	})
	if err != nil {
		return nil, &PropagationError{Mode: mode, Wrapped: err}
	}
	if out == nil || out.Field == nil {
		return nil, &PropagationError{Mode: mode, Wrapped: errors.New("propagator returned no field")}
	}

	if mc.Artifacts != nil {
		if mc.SaveFields {
			warnPersist(log, mode, mc.Artifacts.SaveField(mode, out.Field))
		}
		if mc.SaveOPDs && out.PupilPhase != nil {
			warnPersist(log, mode, mc.Artifacts.SavePhaseMap(mode, out.PupilPhase))
		}
	}
	return out.Field, nil
}

func warnPersist(log *slog.Logger, mode int, err error) {
	if err == nil {
		return
	}
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		pe = &PersistenceError{Path: fmt.Sprintf("mode %d", mode), Wrapped: err}
	}
	log.Warn("artifact not saved", "mode", mode, "path", pe.Path, "error", pe.Wrapped)
}
