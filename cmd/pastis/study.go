package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/san-kum/pastis/internal/automation"
	"github.com/san-kum/pastis/internal/config"
	"github.com/san-kum/pastis/internal/plot"
	"github.com/san-kum/pastis/internal/storage"
	"github.com/san-kum/pastis/internal/viz"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

var (
	mcRMS     float64
	mcTrials  int
	mcSeed    uint64
	sweepMin  float64
	sweepMax  float64
	sweepN    int
	sweepMC   int
	sweepSeed uint64
	studyPNG  string
	studyGoal float64
)

func addStudyCommands(root *cobra.Command) {
	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a batch of calculations from a yaml scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}

	mcCmd := &cobra.Command{
		Use:   "montecarlo [run_id]",
		Short: "contrast statistics for random aberrations",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonteCarlo,
	}
	mcCmd.Flags().Float64Var(&mcRMS, "rms", 0.1, "rms aberration per mode in nm")
	mcCmd.Flags().IntVar(&mcTrials, "trials", 1000, "number of random draws")
	mcCmd.Flags().Uint64Var(&mcSeed, "seed", 0, "random seed (0 = time based)")
	mcCmd.Flags().Float64Var(&studyGoal, "target", 1e-10, "target contrast")

	sweepCmd := &cobra.Command{
		Use:   "sweep [run_id]",
		Short: "contrast against rms aberration",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().Float64Var(&sweepMin, "min", 1e-3, "smallest rms in nm")
	sweepCmd.Flags().Float64Var(&sweepMax, "max", 10, "largest rms in nm")
	sweepCmd.Flags().IntVar(&sweepN, "points", 12, "number of rms values")
	sweepCmd.Flags().IntVar(&sweepMC, "trials", 0, "Monte Carlo draws per point (0 = analytic mean only)")
	sweepCmd.Flags().Uint64Var(&sweepSeed, "seed", 1, "random seed")
	sweepCmd.Flags().Float64Var(&studyGoal, "target", 1e-10, "target contrast")
	sweepCmd.Flags().StringVar(&studyPNG, "png", "", "write the curve to this PNG file")

	root.AddCommand(scenarioCmd, mcCmd, sweepCmd)
}

func runScenario(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		return err
	}
	shutdown := setupTracing(ctx, logger)
	defer shutdown()

	scenario, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	path, err := dataPath(cmd)
	if err != nil {
		return err
	}

	runner := func(ctx context.Context, cfg *config.Config) (string, error) {
		st := storage.New(cfg.DataPath, logger)
		run, err := st.CreateRun(cfg)
		if err != nil {
			return "", err
		}
		_, _, err = execute(ctx, st, run, cfg, logger, false)
		return run.ID(), err
	}

	results, err := automation.RunScenario(ctx, scenario, &config.Config{DataPath: path}, runner, logger)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tRUN\tRESULT")
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Step, r.RunID, status)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	return err
}

func loadCompleted(cmd *cobra.Command, runID string) (*storage.RunMetadata, *mat.SymDense, error) {
	st, err := openStore(cmd)
	if err != nil {
		return nil, nil, err
	}
	meta, err := st.Load(runID)
	if err != nil {
		return nil, nil, err
	}
	m, err := st.LoadMatrix(runID)
	if err != nil {
		return nil, nil, err
	}
	return meta, m, nil
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	meta, m, err := loadCompleted(cmd, args[0])
	if err != nil {
		return err
	}

	res, err := automation.RunMonteCarlo(cmd.Context(), m, meta.ContrastFloor, automation.MonteCarloConfig{
		RMS:    mcRMS,
		Trials: mcTrials,
		Seed:   mcSeed,
	})
	if err != nil {
		return err
	}
	st := res.Stats(studyGoal)

	fmt.Println(viz.Summary(fmt.Sprintf("%s · %g nm rms", meta.ID, mcRMS), []viz.Field{
		{Label: "trials", Value: fmt.Sprint(mcTrials)},
		{Label: "mean", Value: fmt.Sprintf("%.3e ± %.1e", st.Mean, st.Std)},
		{Label: "median", Value: fmt.Sprintf("%.3e", st.Median)},
		{Label: "95th pct", Value: fmt.Sprintf("%.3e", st.P95)},
		{Label: "range", Value: fmt.Sprintf("%.3e .. %.3e", st.Min, st.Max)},
		{Label: "below target", Value: fmt.Sprintf("%.1f%% (%.0e)", 100*st.FractionBelow, studyGoal)},
	}, viz.Chart{Caption: "contrast per trial", Values: res.Contrasts[:min(len(res.Contrasts), 200)]}))
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	meta, m, err := loadCompleted(cmd, args[0])
	if err != nil {
		return err
	}

	rms := automation.LogSpace(sweepMin, sweepMax, sweepN)
	if rms == nil {
		return fmt.Errorf("invalid rms range %g..%g with %d points", sweepMin, sweepMax, sweepN)
	}
	points, err := automation.Sweep(cmd.Context(), m, meta.ContrastFloor, studyGoal, rms, sweepMC, sweepSeed)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RMS (nm)\tMEAN\tMC MEAN\tMC P95\tBELOW TARGET")
	means := make([]float64, len(points))
	var p95 []float64
	for i, p := range points {
		means[i] = p.Mean
		if p.MonteCarlo == nil {
			fmt.Fprintf(w, "%.4g\t%.3e\t-\t-\t-\n", p.RMS, p.Mean)
			continue
		}
		p95 = append(p95, p.MonteCarlo.P95)
		fmt.Fprintf(w, "%.4g\t%.3e\t%.3e\t%.3e\t%.0f%%\n",
			p.RMS, p.Mean, p.MonteCarlo.Mean, p.MonteCarlo.P95, 100*p.MonteCarlo.FractionBelow)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if studyPNG != "" {
		series := []plot.Series{{Name: "mean", X: rms, Y: means}}
		if len(p95) == len(rms) {
			series = append(series, plot.Series{Name: "95th percentile", X: rms, Y: p95})
		}
		if err := plot.Curves(meta.ID+" contrast", "rms aberration (nm)", "contrast", studyPNG, series...); err != nil {
			return err
		}
		fmt.Printf("\ncurve written to %s\n", studyPNG)
	}
	return nil
}
