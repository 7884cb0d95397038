package instrument

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/pastis/internal/config"
	"github.com/san-kum/pastis/internal/mirror"
	"github.com/san-kum/pastis/internal/optics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func smallConfig() *config.Config {
	cfg := config.GetPreset("hex", "small")
	cfg.Telescope.Pixels = 32
	cfg.Telescope.Sampling = 2
	return cfg
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"hex", "luvoir"}, r.List())
	assert.Len(t, r.Designs("luvoir"), 3)

	inst, err := r.Get(smallConfig(), quiet)
	require.NoError(t, err)
	assert.Equal(t, "hex", inst.Name())
	assert.Equal(t, "small", inst.Design())

	cfg := smallConfig()
	cfg.Instrument = "hubble"
	_, err = r.Get(cfg, quiet)
	assert.Error(t, err)
}

func TestRegistry_BuildsEveryPreset(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(config.DefaultConfig(), quiet)
	require.NoError(t, err, "default config")

	for name, presets := range config.Presets {
		for preset := range presets {
			cfg := config.GetPreset(name, preset)
			require.NoError(t, cfg.Validate(), "%s/%s", name, preset)
			_, err := r.Get(cfg, quiet)
			assert.NoError(t, err, "%s/%s", name, preset)
		}
	}

	files, err := filepath.Glob(filepath.Join("..", "..", "configs", "*.yaml"))
	require.NoError(t, err)
	for _, path := range files {
		if strings.HasPrefix(filepath.Base(path), "scenario") {
			continue
		}
		cfg, err := config.Load(path)
		require.NoError(t, err, path)
		_, err = r.Get(cfg, quiet)
		assert.NoError(t, err, path)
	}
}

func TestNewSegmented_UnknownDesign(t *testing.T) {
	cfg := smallConfig()
	cfg.Design = "huge"
	_, err := NewSegmented("hex", HexDesigns, cfg, quiet)
	assert.ErrorIs(t, err, ErrUnknownDesign)
}

func TestNewSegmented_DarkHoleOutsideGrid(t *testing.T) {
	cfg := smallConfig()
	cfg.DarkHole.OWA = 40
	_, err := NewSegmented("hex", HexDesigns, cfg, quiet)
	assert.ErrorIs(t, err, optics.ErrBadSampling)
}

func TestNewSegmented_DarkHoleOverride(t *testing.T) {
	cfg := smallConfig()
	cfg.DarkHole = config.DarkHoleConfig{IWA: 2, OWA: 6}
	s, err := NewSegmented("hex", HexDesigns, cfg, quiet)
	require.NoError(t, err)
	assert.Equal(t, Design{IWA: 2, OWA: 6}, s.DarkHole())
}

func TestCalculateReference(t *testing.T) {
	s, err := NewSegmented("hex", HexDesigns, smallConfig(), quiet)
	require.NoError(t, err)

	ref, err := s.CalculateReference(context.Background())
	require.NoError(t, err)

	n := float64(len(s.Telescope().Aperture.Indices()))
	assert.InDelta(t, n*n, ref.Norm, 1e-6*n*n)
	assert.Positive(t, ref.Mask.Count())
	assert.Equal(t, s.Telescope().FocalPixels(), ref.Mask.Rows)
	assert.Equal(t, ref.Field.Rows, ref.Mask.Rows)
	assert.False(t, ref.Mask.At(ref.Mask.Rows/2, ref.Mask.Cols/2), "dark hole must exclude the core")
	assert.InDelta(t, 0, ref.Coronagraph.Max(), 1e-12)
}

func TestSetupActuationBasis(t *testing.T) {
	tests := []struct {
		name   string
		mirror config.MirrorConfig
		modes  int
		kind   string
	}{
		{"piston", config.MirrorConfig{Kind: config.MirrorSegmented, MaxLocalZernike: 1}, 7, mirror.KindSegmented},
		{"tip tilt", config.MirrorConfig{Kind: config.MirrorSegmented, MaxLocalZernike: 3}, 21, mirror.KindSegmented},
		{"global", config.MirrorConfig{Kind: config.MirrorZernike, NumZernikes: 6}, 6, mirror.KindZernike},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			cfg.Mirror = tt.mirror
			s, err := NewSegmented("hex", HexDesigns, cfg, quiet)
			require.NoError(t, err)

			m, err := s.SetupActuationBasis(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.modes, m.NumModes())
			assert.Equal(t, tt.kind, m.Kind())
		})
	}
}

func TestSetupActuationBasis_Influence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influence.csv")
	csv := "set,mode,noll,coefficient\n" +
		"thermal,bend,4,1.0\n" +
		"thermal,bend,11,0.2\n" +
		"mechanical,twist,5,1.0\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	cfg := smallConfig()
	cfg.Mirror = config.MirrorConfig{
		Kind:           config.MirrorInfluence,
		InfluenceTable: path,
		ModeSets:       []string{mirror.SetThermal},
		Orientations:   []float64{30},
	}
	s, err := NewSegmented("hex", HexDesigns, cfg, quiet)
	require.NoError(t, err)

	m, err := s.SetupActuationBasis(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, m.NumModes())
	assert.Equal(t, mirror.KindInfluence, m.Kind())

	cfg.Mirror.InfluenceTable = filepath.Join(t.TempDir(), "missing.csv")
	_, err = s.SetupActuationBasis(context.Background())
	assert.Error(t, err)
}
