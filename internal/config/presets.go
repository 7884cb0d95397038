package config

import "sort"

func luvoir(design string, pixels, sampling int) *Config {
	cfg := DefaultConfig()
	cfg.Instrument = "luvoir"
	cfg.Design = design
	cfg.Telescope.Pixels = pixels
	cfg.Telescope.Sampling = sampling
	return cfg
}

var Presets = map[string]map[string]*Config{
	"luvoir": {
		"small":  luvoir("small", 128, 4),
		"medium": luvoir("medium", 128, 4),
		"large":  luvoir("large", 128, 4),
		"zernike": func() *Config {
			cfg := luvoir("small", 128, 4)
			cfg.Mirror = MirrorConfig{Kind: MirrorSegmented, MaxLocalZernike: 3}
			return cfg
		}(),
	},
	"hex": {
		"small": {
			Instrument: "hex", Design: "small", DataPath: DefaultDataPath,
			Telescope: TelescopeConfig{
				Pixels: 64, Rings: 1, Gap: 0.02, CenterSegment: true,
				Wavelength: 640e-9, Sampling: 4,
			},
			Mirror:      MirrorConfig{Kind: MirrorSegmented, MaxLocalZernike: 1},
			Calibration: CalibrationConfig{WFEAber: DefaultWFEAber},
		},
		"global": {
			Instrument: "hex", Design: "small", DataPath: DefaultDataPath,
			Telescope: TelescopeConfig{
				Pixels: 64, Rings: 1, Gap: 0.02, CenterSegment: true,
				Wavelength: 640e-9, Sampling: 4,
			},
			Mirror:      MirrorConfig{Kind: MirrorZernike, NumZernikes: 11},
			Calibration: CalibrationConfig{WFEAber: DefaultWFEAber},
		},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(instrument, preset string) *Config {
	instPresets, ok := Presets[instrument]
	if !ok {
		return nil
	}
	cfg, ok := instPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(instrument string) []string {
	instPresets, ok := Presets[instrument]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(instPresets))
	for name := range instPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
