package pastis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/san-kum/pastis/internal/field"
	"github.com/san-kum/pastis/internal/mirror"
	"github.com/san-kum/pastis/internal/optics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"
)

const tracerName = "github.com/san-kum/pastis/internal/pastis"

// Reference is the unaberrated state of an instrument.
type Reference struct {
	Field *field.Complex
	// Norm is the peak of the direct, non-coronagraphic PSF.
	Norm float64
	Mask *field.Mask
	// Coronagraph is the unaberrated coronagraphic intensity, optional.
	Coronagraph *field.Intensity
}

// Instrument supplies the per-instrument steps of a calculation.
type Instrument interface {
	Name() string
	Design() string
	CalculateReference(ctx context.Context) (*Reference, error)
	SetupActuationBasis(ctx context.Context) (mirror.Mirror, error)
	Propagator() optics.Propagator
}

// Sink persists a run. Prepare creates the output tree before any stage
// runs; SaveMatrix stores the finished matrix.
type Sink interface {
	ArtifactSink
	Prepare() error
	SaveMatrix(m *mat.SymDense) error
}

type Observer interface {
	OnStage(stage string)
	OnModeDone(mode, done, total int)
	OnPair(i, j int, contrast float64)
}

type Config struct {
	// Amplitude is the calibration aberration in meters.
	Amplitude   float64
	Workers     int
	ModeTimeout time.Duration
	SaveFields  bool
	SaveOPDs    bool
	// Resume loads fields already present in the sink instead of
	// recomputing them.
	Resume bool
}

type Result struct {
	Matrix        *mat.SymDense
	NumModes      int
	Norm          float64
	ContrastFloor float64
	Timings       map[string]time.Duration
	Runtime       time.Duration
}

// Calculation sequences reference, mirror setup, mode binding, per-mode
// fields and assembly. A Calculation runs once.
type Calculation struct {
	inst      Instrument
	cfg       Config
	sink      Sink
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []Observer

	ref    *Reference
	mirror mirror.Mirror
	mc     ModeContext
	fields []*field.Complex
	matrix *mat.SymDense
}

type Option func(*Calculation)

func WithLogger(l *slog.Logger) Option { return func(c *Calculation) { c.logger = l } }

func WithObserver(o Observer) Option {
	return func(c *Calculation) { c.observers = append(c.observers, o) }
}

func WithTracer(t trace.Tracer) Option { return func(c *Calculation) { c.tracer = t } }

func New(inst Instrument, cfg Config, sink Sink, opts ...Option) *Calculation {
	c := &Calculation{
		inst:   inst,
		cfg:    cfg,
		sink:   sink,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("instrument", inst.Name(), "design", inst.Design())
	return c
}

// Run executes the lifecycle in order. Any stage error aborts the run and
// is returned as a *StageError; no matrix is saved for a failed run.
func (c *Calculation) Run(ctx context.Context) (*Result, error) {
	if c.matrix != nil {
		return nil, errors.New("pastis: calculation already ran")
	}
	if !(c.cfg.Amplitude > 0) || math.IsInf(c.cfg.Amplitude, 0) {
		return nil, &StageError{Stage: StageReference, Wrapped: c.configErr(fmt.Errorf("%w: %g", ErrInvalidAmplitude, c.cfg.Amplitude))}
	}
	if c.sink == nil {
		return nil, &StageError{Stage: StageReference, Wrapped: c.configErr(errors.New("no output sink"))}
	}
	if err := c.sink.Prepare(); err != nil {
		return nil, &StageError{Stage: StageReference, Wrapped: c.configErr(err)}
	}

	ctx, span := c.tracer.Start(ctx, "pastis.Run", trace.WithAttributes(
		attribute.String("pastis.instrument", c.inst.Name()),
		attribute.String("pastis.design", c.inst.Design()),
	))
	defer span.End()

	start := time.Now()
	res := &Result{Timings: make(map[string]time.Duration)}

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageReference, c.calculateReference},
		{StageMirror, c.setupActuationBasis},
		{StageBind, c.bindModeFunction},
		{StageFields, c.computeAllFields},
		{StageAssemble, c.assembleMatrix},
	}
	for _, st := range stages {
		t0 := time.Now()
		if err := c.runStage(ctx, st.name, st.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, &StageError{Stage: st.name, Wrapped: err}
		}
		res.Timings[st.name] = time.Since(t0)
	}

	res.Matrix = c.matrix
	res.NumModes = len(c.fields)
	res.Norm = c.ref.Norm
	res.ContrastFloor = c.contrastFloor()
	res.Runtime = time.Since(start)

	c.logger.Info("PASTIS matrix calculation finished",
		"runtime", res.Runtime.Round(time.Millisecond),
		"minutes", res.Runtime.Minutes(),
		"modes", res.NumModes,
		"contrast_floor", res.ContrastFloor)
	return res, nil
}

func (c *Calculation) runStage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "pastis."+name)
	defer span.End()
	for _, o := range c.observers {
		o.OnStage(name)
	}
	c.logger.Debug("stage started", "stage", name)
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Calculation) calculateReference(ctx context.Context) error {
	ref, err := c.inst.CalculateReference(ctx)
	if err != nil {
		return c.configErr(err)
	}
	switch {
	case ref == nil || ref.Field == nil:
		return c.configErr(fmt.Errorf("%w: reference", ErrMissingField))
	case ref.Mask == nil:
		return c.configErr(ErrInvalidMask)
	case !(ref.Norm > 0) || math.IsInf(ref.Norm, 0):
		return c.configErr(fmt.Errorf("%w: %g", ErrInvalidNorm, ref.Norm))
	}
	c.ref = ref
	c.logger.Info("reference field ready",
		"grid", fmt.Sprintf("%dx%d", ref.Field.Rows, ref.Field.Cols),
		"norm", ref.Norm,
		"dark_hole_pixels", ref.Mask.Count())
	return nil
}

func (c *Calculation) setupActuationBasis(ctx context.Context) error {
	m, err := c.inst.SetupActuationBasis(ctx)
	if err != nil {
		return c.configErr(err)
	}
	if m == nil || m.NumModes() == 0 {
		return c.configErr(ErrNoModes)
	}
	c.mirror = m
	c.logger.Info("actuation basis ready", "mirror", m.Kind(), "modes", m.NumModes())
	return nil
}

func (c *Calculation) bindModeFunction(ctx context.Context) error {
	prop := c.inst.Propagator()
	if prop == nil {
		return c.configErr(errors.New("instrument has no propagator"))
	}
	c.mc = ModeContext{
		Amplitude:  c.cfg.Amplitude,
		Mirror:     c.mirror,
		Propagator: prop,
		Artifacts:  c.sink,
		SaveFields: c.cfg.SaveFields,
		SaveOPDs:   c.cfg.SaveOPDs,
		Logger:     c.logger,
	}
	return nil
}

func (c *Calculation) computeAllFields(ctx context.Context) error {
	n := c.mirror.NumModes()
	fields := make([]*field.Complex, n)
	var done atomic.Int64

	err := forEachMode(ctx, n, c.cfg.Workers, func(ctx context.Context, mode int) error {
		f, err := c.fieldFor(ctx, mode)
		if err != nil {
			return err
		}
		fields[mode] = f
		d := int(done.Add(1))
		for _, o := range c.observers {
			o.OnModeDone(mode, d, n)
		}
		return nil
	})
	if err != nil {
		var pe *PropagationError
		if errors.As(err, &pe) {
			c.logger.Error("mode failed, aborting run", "mode", pe.Mode, "error", pe.Wrapped)
		}
		return err
	}
	c.fields = fields
	return nil
}

// fieldFor returns the field of one mode, from the cache when resuming.
// With a mode timeout, expiry counts as a propagation failure even if the
// propagator ignores its context.
func (c *Calculation) fieldFor(ctx context.Context, mode int) (*field.Complex, error) {
	if c.cfg.Resume {
		if cache, ok := c.sink.(FieldCache); ok {
			f, found, err := cache.LoadField(mode)
			if err != nil {
				c.logger.Warn("cached field unreadable, recomputing", "mode", mode, "error", err)
			} else if found {
				c.logger.Info("loaded cached field", "mode", mode)
				return f, nil
			}
		}
	}

	mc := c.mc
	mc.Mirror = c.mc.Mirror.Clone()

	if c.cfg.ModeTimeout <= 0 {
		return CalculateMode(ctx, mc, mode)
	}

	mctx, cancel := context.WithTimeout(ctx, c.cfg.ModeTimeout)
	defer cancel()

	type result struct {
		f   *field.Complex
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := CalculateMode(mctx, mc, mode)
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		return r.f, r.err
	case <-mctx.Done():
		return nil, &PropagationError{Mode: mode, Wrapped: mctx.Err()}
	}
}

func (c *Calculation) assembleMatrix(ctx context.Context) error {
	asm := Assembler{
		Workers: c.cfg.Workers,
		Logger:  c.logger,
		OnPair: func(i, j int, contrast float64) {
			for _, o := range c.observers {
				o.OnPair(i, j, contrast)
			}
		},
	}
	m, err := asm.Assemble(c.fields, c.ref.Field, c.ref.Norm, c.ref.Mask, c.cfg.Amplitude*NanometersPerMeter)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.sink.SaveMatrix(m); err != nil {
		return fmt.Errorf("save matrix: %w", err)
	}
	c.matrix = m
	return nil
}

func (c *Calculation) contrastFloor() float64 {
	if c.ref.Coronagraph == nil {
		return 0
	}
	v, err := field.MaskedMean(c.ref.Coronagraph.Scale(1/c.ref.Norm), c.ref.Mask)
	if err != nil {
		return 0
	}
	return v
}

func (c *Calculation) configErr(err error) error {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return err
	}
	return &ConfigurationError{Instrument: c.inst.Name(), Wrapped: err}
}
