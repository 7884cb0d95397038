package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/pastis/internal/config"
	"github.com/san-kum/pastis/internal/field"
	"github.com/san-kum/pastis/internal/mirror"
	"github.com/san-kum/pastis/internal/optics"
	"github.com/san-kum/pastis/internal/pastis"
)

var ErrUnknownDesign = errors.New("unknown coronagraph design")

// Design holds the dark-hole working angles of a coronagraph, in λ/D.
type Design struct {
	IWA float64
	OWA float64
}

// Segmented is a hex-segmented telescope with an ideal coronagraph.
type Segmented struct {
	name   string
	design string
	cfg    *config.Config
	tel    *optics.Telescope
	dh     Design
	logger *slog.Logger
}

var _ pastis.Instrument = (*Segmented)(nil)

// NewSegmented resolves the design's working angles, applying any dark-hole
// override in cfg, and lays out the aperture.
func NewSegmented(name string, designs map[string]Design, cfg *config.Config, logger *slog.Logger) (*Segmented, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dh, ok := designs[cfg.Design]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownDesign, name, cfg.Design)
	}
	if cfg.DarkHole.IWA > 0 {
		dh.IWA = cfg.DarkHole.IWA
	}
	if cfg.DarkHole.OWA > 0 {
		dh.OWA = cfg.DarkHole.OWA
	}

	t := cfg.Telescope
	ap, err := optics.NewHexAperture(t.Pixels, t.Rings, t.Gap, t.CenterSegment)
	if err != nil {
		return nil, err
	}
	tel, err := optics.NewTelescope(ap, t.Wavelength, t.Sampling)
	if err != nil {
		return nil, err
	}

	// the dark hole must fit on the focal grid
	if half := float64(tel.FocalPixels()) / 2; dh.OWA*tel.LambdaOverD() > half {
		return nil, fmt.Errorf("%w: outer working angle %g λ/D exceeds the %g λ/D field of view",
			optics.ErrBadSampling, dh.OWA, half/tel.LambdaOverD())
	}

	return &Segmented{
		name:   name,
		design: cfg.Design,
		cfg:    cfg,
		tel:    tel,
		dh:     dh,
		logger: logger,
	}, nil
}

func (s *Segmented) Name() string   { return s.name }
func (s *Segmented) Design() string { return s.design }

func (s *Segmented) Telescope() *optics.Telescope { return s.tel }

func (s *Segmented) DarkHole() Design { return s.dh }

func (s *Segmented) Propagator() optics.Propagator { return s.tel }

// CalculateReference propagates a flat mirror, keeping the coronagraphic
// field and the direct PSF peak.
func (s *Segmented) CalculateReference(ctx context.Context) (*pastis.Reference, error) {
	out, err := s.tel.Propagate(ctx, nil, optics.Options{Reference: true, ReturnField: true})
	if err != nil {
		return nil, fmt.Errorf("reference propagation: %w", err)
	}
	norm := out.Direct.Max()

	f := s.tel.FocalPixels()
	px := s.tel.LambdaOverD()
	mask := field.Annulus(f, f, s.dh.IWA*px, s.dh.OWA*px)

	s.logger.Info("computed reference",
		"segments", s.tel.Aperture.NumSegments(),
		"iwa", s.dh.IWA, "owa", s.dh.OWA,
		"norm", norm)
	return &pastis.Reference{
		Field:       out.Field,
		Norm:        norm,
		Mask:        mask,
		Coronagraph: out.Intensity,
	}, nil
}

// SetupActuationBasis builds the configured mirror.
func (s *Segmented) SetupActuationBasis(ctx context.Context) (mirror.Mirror, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ap := s.tel.Aperture
	mc := s.cfg.Mirror

	switch mc.Kind {
	case config.MirrorSegmented:
		return mirror.NewSegmented(ap, mc.MaxLocalZernike)
	case config.MirrorZernike:
		return mirror.NewZernike(ap, mc.NumZernikes)
	case config.MirrorInfluence:
		table, err := mirror.LoadInfluenceTable(mc.InfluenceTable)
		if err != nil {
			return nil, fmt.Errorf("influence table: %w", err)
		}
		table = table.Filter(mc.ModeSets...)
		orient := degreesToRadians(mc.Orientations)
		s.logger.Info("loaded influence functions", "path", mc.InfluenceTable, "modes", len(table.Modes), "sets", mc.ModeSets)
		return mirror.NewInfluence(ap, table, orient)
	}
	return nil, fmt.Errorf("%w: mirror kind %q", config.ErrInvalid, mc.Kind)
}

func degreesToRadians(deg []float64) []float64 {
	if len(deg) == 0 {
		return nil
	}
	out := make([]float64, len(deg))
	for i, d := range deg {
		out[i] = d * math.Pi / 180
	}
	return out
}
