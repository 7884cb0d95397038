package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultInstrument      = "luvoir"
	DefaultDesign          = "small"
	DefaultDataPath        = "data"
	DefaultPixels          = 128
	DefaultRings           = 3
	DefaultGap             = 0.02
	DefaultWavelength      = 500e-9
	DefaultSampling        = 4
	DefaultMaxLocalZernike = 1
	DefaultWFEAber         = 1e-9
)

const (
	MirrorSegmented = "segmented"
	MirrorZernike   = "zernike"
	MirrorInfluence = "influence"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Instrument  string            `yaml:"instrument"`
	Design      string            `yaml:"design"`
	DataPath    string            `yaml:"data_path" env:"PASTIS_DATA_PATH"`
	Workers     int               `yaml:"workers" env:"PASTIS_WORKERS"`
	Telescope   TelescopeConfig   `yaml:"telescope"`
	DarkHole    DarkHoleConfig    `yaml:"dark_hole"`
	Mirror      MirrorConfig      `yaml:"mirror"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Output      OutputConfig      `yaml:"output"`
}

type TelescopeConfig struct {
	Pixels        int     `yaml:"pixels"`
	Rings         int     `yaml:"rings"`
	Gap           float64 `yaml:"gap"`
	CenterSegment bool    `yaml:"center_segment"`
	Wavelength    float64 `yaml:"wavelength"`
	Sampling      int     `yaml:"sampling"`
}

// DarkHoleConfig overrides the design's working angles, in λ/D. Zero keeps
// the design value.
type DarkHoleConfig struct {
	IWA float64 `yaml:"iwa"`
	OWA float64 `yaml:"owa"`
}

type MirrorConfig struct {
	Kind            string    `yaml:"kind"`
	MaxLocalZernike int       `yaml:"max_local_zernike"`
	NumZernikes     int       `yaml:"num_zernikes"`
	InfluenceTable  string    `yaml:"influence_table" env:"PASTIS_INFLUENCE_TABLE"`
	ModeSets        []string  `yaml:"mode_sets"`
	Orientations    []float64 `yaml:"orientations"`
}

type CalibrationConfig struct {
	// WFEAber is the calibration aberration in meters.
	WFEAber     float64       `yaml:"wfe_aber"`
	ModeTimeout time.Duration `yaml:"mode_timeout"`
}

type OutputConfig struct {
	SaveFields bool `yaml:"save_efields"`
	SaveOPDs   bool `yaml:"save_opds"`
	Resume     bool `yaml:"resume"`
}

func DefaultConfig() *Config {
	return &Config{
		Instrument: DefaultInstrument,
		Design:     DefaultDesign,
		DataPath:   DefaultDataPath,
		Telescope: TelescopeConfig{
			Pixels:     DefaultPixels,
			Rings:      DefaultRings,
			Gap:        DefaultGap,
			Wavelength: DefaultWavelength,
			Sampling:   DefaultSampling,
		},
		Mirror: MirrorConfig{
			Kind:            MirrorSegmented,
			MaxLocalZernike: DefaultMaxLocalZernike,
		},
		Calibration: CalibrationConfig{WFEAber: DefaultWFEAber},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides fields that have a PASTIS_* variable set.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Clone returns a deep copy, so presets can be modified safely.
func (c *Config) Clone() *Config {
	out := *c
	out.Mirror.ModeSets = append([]string(nil), c.Mirror.ModeSets...)
	out.Mirror.Orientations = append([]float64(nil), c.Mirror.Orientations...)
	return &out
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Instrument != "", "instrument is empty")
	check(c.Design != "", "design is empty")
	check(c.DataPath != "", "data_path is empty")
	check(c.Workers >= 0, "workers %d", c.Workers)

	t := c.Telescope
	check(t.Pixels >= 8, "telescope.pixels %d", t.Pixels)
	check(t.Rings >= 0, "telescope.rings %d", t.Rings)
	check(t.Rings > 0 || t.CenterSegment, "telescope has no segments")
	check(t.Gap >= 0 && t.Gap < 1, "telescope.gap %g is not a fraction of the segment pitch", t.Gap)
	check(t.Wavelength > 0, "telescope.wavelength %g", t.Wavelength)
	check(t.Sampling >= 1, "telescope.sampling %d", t.Sampling)

	check(c.DarkHole.IWA >= 0 && c.DarkHole.OWA >= 0, "dark_hole angles must not be negative")
	if c.DarkHole.IWA > 0 && c.DarkHole.OWA > 0 {
		check(c.DarkHole.IWA < c.DarkHole.OWA, "dark_hole iwa %g >= owa %g", c.DarkHole.IWA, c.DarkHole.OWA)
	}

	switch c.Mirror.Kind {
	case MirrorSegmented:
		check(c.Mirror.MaxLocalZernike >= 1, "mirror.max_local_zernike %d", c.Mirror.MaxLocalZernike)
	case MirrorZernike:
		check(c.Mirror.NumZernikes >= 1, "mirror.num_zernikes %d", c.Mirror.NumZernikes)
	case MirrorInfluence:
		check(c.Mirror.InfluenceTable != "", "mirror.influence_table is empty")
	default:
		check(false, "unknown mirror kind %q", c.Mirror.Kind)
	}

	check(c.Calibration.WFEAber > 0, "calibration.wfe_aber %g", c.Calibration.WFEAber)
	check(c.Calibration.ModeTimeout >= 0, "calibration.mode_timeout %s", c.Calibration.ModeTimeout)

	return errors.Join(errs...)
}
