package pastis_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/pastis/internal/field"
	"github.com/san-kum/pastis/internal/mirror"
	"github.com/san-kum/pastis/internal/optics"
	"github.com/san-kum/pastis/internal/pastis"
)

type testInstrument struct {
	tel       *optics.Telescope
	prop      optics.Propagator
	refErr    error
	mirrorErr error
}

func newTestInstrument() *testInstrument {
	ap, err := optics.NewHexAperture(24, 1, 0, true)
	Expect(err).NotTo(HaveOccurred())
	tel, err := optics.NewTelescope(ap, 640e-9, 2)
	Expect(err).NotTo(HaveOccurred())
	return &testInstrument{tel: tel, prop: tel}
}

func (ti *testInstrument) Name() string   { return "test" }
func (ti *testInstrument) Design() string { return "small" }

func (ti *testInstrument) CalculateReference(ctx context.Context) (*pastis.Reference, error) {
	if ti.refErr != nil {
		return nil, ti.refErr
	}
	out, err := ti.tel.Propagate(ctx, nil, optics.Options{Reference: true, ReturnField: true})
	if err != nil {
		return nil, err
	}
	f := ti.tel.FocalPixels()
	return &pastis.Reference{
		Field:       out.Field,
		Norm:        out.Direct.Max(),
		Mask:        field.Annulus(f, f, 2*ti.tel.LambdaOverD(), 8*ti.tel.LambdaOverD()),
		Coronagraph: out.Intensity,
	}, nil
}

func (ti *testInstrument) SetupActuationBasis(context.Context) (mirror.Mirror, error) {
	if ti.mirrorErr != nil {
		return nil, ti.mirrorErr
	}
	return mirror.NewSegmented(ti.tel.Aperture, 1)
}

func (ti *testInstrument) Propagator() optics.Propagator { return ti.prop }

// failOnSegment fails whenever the given segment carries an aberration.
type failOnSegment struct {
	tel   *optics.Telescope
	pixel int
}

func (p failOnSegment) Propagate(ctx context.Context, surface []float64, opts optics.Options) (*optics.Output, error) {
	if surface != nil && surface[p.pixel] != 0 {
		return nil, errors.New("detector saturated")
	}
	return p.tel.Propagate(ctx, surface, opts)
}

// slowPropagator ignores its context and never returns in time.
type slowPropagator struct{ delay time.Duration }

func (p slowPropagator) Propagate(context.Context, []float64, optics.Options) (*optics.Output, error) {
	time.Sleep(p.delay)
	return nil, errors.New("too late")
}

type memorySink struct {
	mu       sync.Mutex
	prepared bool
	fields   map[int]*field.Complex
	phases   map[int][]float64
	matrices []*mat.SymDense
	saveErr  error
	fieldErr error
}

func newMemorySink() *memorySink {
	return &memorySink{fields: map[int]*field.Complex{}, phases: map[int][]float64{}}
}

func (s *memorySink) Prepare() error { s.prepared = true; return nil }

func (s *memorySink) SaveField(mode int, f *field.Complex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fieldErr != nil {
		return s.fieldErr
	}
	s.fields[mode] = f.Clone()
	return nil
}

func (s *memorySink) SavePhaseMap(mode int, phase []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[mode] = phase
	return nil
}

func (s *memorySink) SaveMatrix(m *mat.SymDense) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.matrices = append(s.matrices, m)
	return nil
}

type cachingSink struct {
	*memorySink
	loads int
}

func (s *cachingSink) LoadField(mode int) (*field.Complex, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[mode]
	if ok {
		s.loads++
	}
	return f, ok, nil
}

type recorder struct {
	mu     sync.Mutex
	stages []string
	done   []int
	pairs  int
}

func (r *recorder) OnStage(stage string) {
	r.mu.Lock()
	r.stages = append(r.stages, stage)
	r.mu.Unlock()
}

func (r *recorder) OnModeDone(_, done, _ int) {
	r.mu.Lock()
	r.done = append(r.done, done)
	r.mu.Unlock()
}

func (r *recorder) OnPair(int, int, float64) {
	r.mu.Lock()
	r.pairs++
	r.mu.Unlock()
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var _ = Describe("Calculation", func() {
	var (
		inst *testInstrument
		sink *memorySink
		cfg  pastis.Config
	)

	BeforeEach(func() {
		inst = newTestInstrument()
		sink = newMemorySink()
		cfg = pastis.Config{Amplitude: 1e-9, Workers: 3}
	})

	Context("with a healthy instrument", func() {
		It("produces a symmetric matrix with one row per mode", func() {
			rec := &recorder{}
			res, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet), pastis.WithObserver(rec)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(res.NumModes).To(Equal(7))
			Expect(res.Matrix.SymmetricDim()).To(Equal(7))
			Expect(sink.prepared).To(BeTrue())
			Expect(sink.matrices).To(HaveLen(1))

			Expect(rec.stages).To(Equal([]string{
				pastis.StageReference, pastis.StageMirror, pastis.StageBind,
				pastis.StageFields, pastis.StageAssemble,
			}))
			Expect(rec.done).To(HaveLen(7))
			Expect(rec.pairs).To(Equal(pastis.NumPairs(7)))
			Expect(res.Timings).To(HaveLen(5))
		})

		It("puts positive contrast on the diagonal", func() {
			res, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < res.NumModes; i++ {
				Expect(res.Matrix.At(i, i)).To(BeNumerically(">", 0))
			}
		})

		It("reports a dark contrast floor for an ideal coronagraph", func() {
			res, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ContrastFloor).To(BeNumerically("<", 1e-20))
			Expect(res.Norm).To(BeNumerically(">", 0))
		})

		It("does not depend on the worker count", func() {
			cfg.Workers = 1
			a, err := pastis.New(inst, cfg, newMemorySink(), pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			cfg.Workers = 8
			b, err := pastis.New(inst, cfg, newMemorySink(), pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(mat.Equal(a.Matrix, b.Matrix)).To(BeTrue())
		})

		It("keeps the matrix nearly unchanged when the amplitude halves", func() {
			a, err := pastis.New(inst, cfg, newMemorySink(), pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			cfg.Amplitude /= 2
			b, err := pastis.New(inst, cfg, newMemorySink(), pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			// small aberrations are in the linear regime
			for i := 0; i < a.NumModes; i++ {
				Expect(b.Matrix.At(i, i)).To(BeNumerically("~", a.Matrix.At(i, i), 1e-3*a.Matrix.At(i, i)))
			}
		})

		It("saves fields and phase maps when asked", func() {
			cfg.SaveFields = true
			cfg.SaveOPDs = true
			_, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(sink.fields).To(HaveLen(7))
			Expect(sink.phases).To(HaveLen(7))
		})

		It("keeps going when an artifact cannot be written", func() {
			cfg.SaveFields = true
			sink.fieldErr = errors.New("disk full")
			res, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Matrix).NotTo(BeNil())
		})

		It("reuses cached fields on resume", func() {
			cfg.SaveFields = true
			first, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			cs := &cachingSink{memorySink: sink}
			cfg.Resume = true
			second, err := pastis.New(inst, cfg, cs, pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(cs.loads).To(Equal(7))
			Expect(mat.Equal(first.Matrix, second.Matrix)).To(BeTrue())
		})

		It("refuses to run twice", func() {
			calc := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet))
			_, err := calc.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			_, err = calc.Run(context.Background())
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when a mode fails to propagate", func() {
		It("aborts with a PropagationError and saves no matrix", func() {
			pixel := inst.tel.Aperture.SegmentIndices(3)[0]
			inst.prop = failOnSegment{tel: inst.tel, pixel: pixel}

			_, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())
			Expect(err).To(HaveOccurred())

			var se *pastis.StageError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Stage).To(Equal(pastis.StageFields))

			var pe *pastis.PropagationError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Mode).To(Equal(3))
			Expect(sink.matrices).To(BeEmpty())
		})

		It("times out a stuck mode", func() {
			inst.prop = slowPropagator{delay: 2 * time.Second}
			cfg.ModeTimeout = 20 * time.Millisecond
			cfg.Workers = 7

			_, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())
			var pe *pastis.PropagationError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})
	})

	Context("with a broken setup", func() {
		It("wraps reference failures as configuration errors", func() {
			inst.refErr = errors.New("no coronagraph")
			_, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())

			var se *pastis.StageError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Stage).To(Equal(pastis.StageReference))
			var ce *pastis.ConfigurationError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.Instrument).To(Equal("test"))
		})

		It("wraps mirror failures as configuration errors", func() {
			inst.mirrorErr = fmt.Errorf("%w: empty basis", mirror.ErrNoModes)
			_, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())

			var se *pastis.StageError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Stage).To(Equal(pastis.StageMirror))
			Expect(errors.Is(err, mirror.ErrNoModes)).To(BeTrue())
		})

		It("rejects a non-positive amplitude before any stage", func() {
			cfg.Amplitude = 0
			_, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())
			Expect(errors.Is(err, pastis.ErrInvalidAmplitude)).To(BeTrue())
			Expect(sink.prepared).To(BeFalse())
		})

		It("fails the run when the matrix cannot be saved", func() {
			sink.saveErr = errors.New("read-only filesystem")
			_, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet)).Run(context.Background())

			var se *pastis.StageError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Stage).To(Equal(pastis.StageAssemble))
		})
	})

	Context("with tracing", func() {
		var (
			sr *tracetest.SpanRecorder
			tp *sdktrace.TracerProvider
		)

		BeforeEach(func() {
			sr = tracetest.NewSpanRecorder()
			tp = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
		})

		spanNames := func() []string {
			var names []string
			for _, s := range sr.Ended() {
				names = append(names, s.Name())
			}
			return names
		}

		It("records a span per stage under the run span", func() {
			_, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet), pastis.WithTracer(tp.Tracer("test"))).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(spanNames()).To(ConsistOf(
				"pastis.Run", "pastis.reference", "pastis.mirror",
				"pastis.bind", "pastis.fields", "pastis.assemble",
			))
		})

		It("marks the failing stage span as an error", func() {
			inst.mirrorErr = errors.New("no segments")
			_, err := pastis.New(inst, cfg, sink, pastis.WithLogger(quiet), pastis.WithTracer(tp.Tracer("test"))).Run(context.Background())
			Expect(err).To(HaveOccurred())

			Expect(spanNames()).To(ConsistOf("pastis.Run", "pastis.reference", "pastis.mirror"))
			for _, s := range sr.Ended() {
				if s.Name() == "pastis.mirror" {
					Expect(s.Status().Code).To(Equal(codes.Error))
				}
			}
		})
	})
})
