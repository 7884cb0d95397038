package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/pastis/internal/analysis"
	"github.com/san-kum/pastis/internal/config"
	"github.com/san-kum/pastis/internal/instrument"
	"github.com/san-kum/pastis/internal/pastis"
	"github.com/san-kum/pastis/internal/storage"
	"github.com/san-kum/pastis/internal/telemetry"
	"github.com/san-kum/pastis/internal/viz"
	"github.com/spf13/cobra"
)

const logFile = "pastis.log"

var errInterrupted = errors.New("calculation interrupted")

// resolveConfig merges, in increasing precedence: defaults or preset,
// config file, PASTIS_* environment, explicitly set flags.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		p := config.GetPreset(instrumentName, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset %q for instrument %s", preset, instrumentName)
		}
		cfg = p
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.DataPath = dataDir
	}
	if flags.Changed("instrument") {
		cfg.Instrument = instrumentName
	}
	if flags.Changed("design") {
		cfg.Design = design
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("wfe-aber") {
		cfg.Calibration.WFEAber = wfeAber
	}
	if flags.Changed("mirror") {
		cfg.Mirror.Kind = mirrorKind
	}
	if flags.Changed("mode-timeout") {
		cfg.Calibration.ModeTimeout = modeTimeout
	}
	if flags.Changed("save-efields") {
		cfg.Output.SaveFields = saveFields
	}
	if flags.Changed("save-opds") {
		cfg.Output.SaveOPDs = saveOPDs
	}
}

// openRun creates a new run, or reopens one for --resume. A resumed run
// keeps its stored configuration; only execution flags apply on top.
func openRun(cmd *cobra.Command, logger *slog.Logger) (*storage.Store, *storage.Run, *config.Config, error) {
	if resumeRun == "" {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, nil, nil, err
		}
		st := storage.New(cfg.DataPath, logger)
		run, err := st.CreateRun(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, run, cfg, nil
	}

	path, err := dataPath(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	st := storage.New(path, logger)
	run, err := st.Open(resumeRun)
	if err != nil {
		return nil, nil, nil, err
	}
	stored := run.Metadata().Config
	if stored == nil {
		return nil, nil, nil, fmt.Errorf("run %s has no stored configuration", resumeRun)
	}
	cfg := stored.Clone()
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if cmd.Flags().Changed("mode-timeout") {
		cfg.Calibration.ModeTimeout = modeTimeout
	}
	cfg.Output.SaveFields = true
	cfg.Output.Resume = true
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	return st, run, cfg, nil
}

func runCalculation(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		return err
	}

	shutdown := setupTracing(ctx, logger)
	defer shutdown()

	st, run, cfg, err := openRun(cmd, logger)
	if err != nil {
		return err
	}

	res, inst, err := execute(ctx, st, run, cfg, logger, !noProgress)
	if err != nil {
		return err
	}

	fmt.Println(viz.Summary(run.ID(), []viz.Field{
		{Label: "instrument", Value: inst.Name() + "/" + inst.Design()},
		{Label: "modes", Value: fmt.Sprint(res.NumModes)},
		{Label: "contrast floor", Value: fmt.Sprintf("%.3e", res.ContrastFloor)},
		{Label: "runtime", Value: res.Runtime.Round(time.Millisecond).String()},
		{Label: "matrix", Value: run.MatrixPath()},
	}, viz.Chart{Caption: "self contrast per mode (contrast/nm²)", Values: analysis.Diagonal(res.Matrix)}))
	return nil
}

func setupTracing(ctx context.Context, logger *slog.Logger) func() {
	shutdown, err := telemetry.Setup(ctx, telemetry.ServiceName)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}
}

// execute runs the calculation into run and records the outcome in the run
// metadata and the catalog.
func execute(ctx context.Context, st *storage.Store, run *storage.Run, cfg *config.Config, logger *slog.Logger, tui bool) (*pastis.Result, pastis.Instrument, error) {
	if tui {
		// The progress view owns the terminal, so logs go to the run directory.
		f, err := os.Create(filepath.Join(run.Dir(), logFile))
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: &logLevelVar}))
	}
	logger = logger.With("run", run.ID())

	cat, err := st.OpenCatalog()
	if err != nil {
		logger.Warn("run catalog unavailable", "error", err)
		cat = nil
	} else {
		defer cat.Close()
	}

	inst, err := instrument.NewRegistry().Get(cfg, logger)
	if err != nil {
		err = &pastis.StageError{
			Stage:   pastis.StageReference,
			Wrapped: &pastis.ConfigurationError{Instrument: cfg.Instrument, Wrapped: err},
		}
		return nil, nil, failRun(cat, run, logger, err)
	}

	pcfg := pastis.Config{
		Amplitude:   cfg.Calibration.WFEAber,
		Workers:     cfg.Workers,
		ModeTimeout: cfg.Calibration.ModeTimeout,
		SaveFields:  cfg.Output.SaveFields,
		SaveOPDs:    cfg.Output.SaveOPDs,
		Resume:      cfg.Output.Resume,
	}
	opts := []pastis.Option{pastis.WithLogger(logger)}

	recordRun(ctx, cat, run, logger)

	var res *pastis.Result
	if tui {
		res, err = runWithProgress(ctx, inst, pcfg, run, opts)
	} else {
		res, err = pastis.New(inst, pcfg, run, opts...).Run(ctx)
	}

	if err != nil {
		return nil, inst, failRun(cat, run, logger, err)
	}

	if err := run.Finish(res); err != nil {
		return nil, inst, err
	}
	recordRun(ctx, cat, run, logger)
	logger.Info("run saved", "path", run.Dir())
	return res, inst, nil
}

// failRun marks run failed in its metadata and the catalog.
func failRun(cat *storage.Catalog, run *storage.Run, logger *slog.Logger, err error) error {
	if ferr := run.Fail(err); ferr != nil {
		logger.Error("write failed run metadata", "error", ferr)
	}
	recordRun(context.Background(), cat, run, logger)
	return fmt.Errorf("run %s: %w", run.ID(), err)
}

// runWithProgress runs the calculation behind the bubbletea progress view.
// Quitting the view cancels the calculation.
func runWithProgress(ctx context.Context, inst pastis.Instrument, pcfg pastis.Config, run *storage.Run, opts []pastis.Option) (*pastis.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(viz.NewProgress(inst.Name()+" "+inst.Design()+" · "+run.ID()), tea.WithContext(ctx))
	calc := pastis.New(inst, pcfg, run, append(opts, pastis.WithObserver(viz.Observer{Program: p}))...)

	var (
		res    *pastis.Result
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		res, runErr = calc.Run(ctx)
		p.Send(viz.DoneMsg{Result: res, Err: runErr})
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-done
		return nil, err
	}
	if m, ok := final.(viz.Progress); ok && m.Quitting() {
		cancel()
	}
	<-done

	if runErr != nil && errors.Is(runErr, context.Canceled) {
		return nil, fmt.Errorf("%w: %w", errInterrupted, runErr)
	}
	return res, runErr
}
