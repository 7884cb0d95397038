// Package automation runs scenario batches of matrix calculations and
// Monte Carlo contrast studies on finished matrices.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/san-kum/pastis/internal/config"
	"gopkg.in/yaml.v3"
)

// Scenario is a batch of matrix calculations, e.g. one per coronagraph
// design or calibration amplitude.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Continue    bool           `yaml:"continue_on_error"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep selects a base configuration from a preset or a config file
// and overrides individual values. Zero values keep the base.
type ScenarioStep struct {
	Name       string  `yaml:"name"`
	Instrument string  `yaml:"instrument"`
	Preset     string  `yaml:"preset"`
	Config     string  `yaml:"config"`
	Design     string  `yaml:"design"`
	Mirror     string  `yaml:"mirror"`
	Zernikes   int     `yaml:"num_zernikes"`
	WFEAber    float64 `yaml:"wfe_aber"`
	Workers    int     `yaml:"workers"`
	SaveFields bool    `yaml:"save_efields"`
}

// StepRunner runs one resolved step and returns the id of the run it
// produced.
type StepRunner func(ctx context.Context, cfg *config.Config) (string, error)

type StepResult struct {
	Step  string
	RunID string
	Err   error
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", scenario.Name)
	}
	return &scenario, nil
}

// Resolve builds and validates the configuration of a step.
func (s ScenarioStep) Resolve() (*config.Config, error) {
	instrument := s.Instrument
	if instrument == "" {
		instrument = config.DefaultInstrument
	}

	var cfg *config.Config
	switch {
	case s.Config != "":
		loaded, err := config.Load(s.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case s.Preset != "":
		cfg = config.GetPreset(instrument, s.Preset)
		if cfg == nil {
			return nil, fmt.Errorf("%w: unknown preset %s/%s", config.ErrInvalid, instrument, s.Preset)
		}
	default:
		cfg = config.DefaultConfig()
		cfg.Instrument = instrument
	}

	if s.Design != "" {
		cfg.Design = s.Design
	}
	if s.Mirror != "" {
		cfg.Mirror.Kind = s.Mirror
	}
	if s.Zernikes != 0 {
		cfg.Mirror.NumZernikes = s.Zernikes
	}
	if s.WFEAber != 0 {
		cfg.Calibration.WFEAber = s.WFEAber
	}
	if s.Workers != 0 {
		cfg.Workers = s.Workers
	}
	if s.SaveFields {
		cfg.Output.SaveFields = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RunScenario executes the steps in order. Without continue_on_error the
// first failing step stops the batch.
func RunScenario(ctx context.Context, scenario *Scenario, base *config.Config, run StepRunner, logger *slog.Logger) ([]StepResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	results := make([]StepResult, 0, len(scenario.Steps))
	var errs []error

	for i, step := range scenario.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step %d", i+1)
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		logger.Info("scenario step", "scenario", scenario.Name, "step", name, "index", i+1, "of", len(scenario.Steps))

		cfg, err := step.Resolve()
		if err == nil {
			if base != nil && base.DataPath != "" {
				cfg.DataPath = base.DataPath
			}
			var id string
			id, err = run(ctx, cfg)
			results = append(results, StepResult{Step: name, RunID: id, Err: err})
		} else {
			results = append(results, StepResult{Step: name, Err: err})
		}

		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
			if !scenario.Continue {
				return results, err
			}
			logger.Warn("scenario step failed", "step", name, "error", err)
			errs = append(errs, err)
		}
	}

	return results, errors.Join(errs...)
}
