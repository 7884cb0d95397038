package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/san-kum/pastis/internal/analysis"
	"github.com/san-kum/pastis/internal/config"
	"github.com/san-kum/pastis/internal/instrument"
	"github.com/san-kum/pastis/internal/plot"
	"github.com/san-kum/pastis/internal/storage"
	"github.com/san-kum/pastis/internal/viz"
	"github.com/spf13/cobra"
)

var (
	dataDir  string
	logLevel string

	configFile     string
	preset         string
	instrumentName string
	design         string
	workers        int
	wfeAber        float64
	mirrorKind     string
	saveFields     bool
	saveOPDs       bool
	resumeRun      string
	modeTimeout    time.Duration
	noProgress     bool

	targetContrast float64
	uniformAber    float64
	spectrumPNG    string
	plotOut        string
	historyLimit   int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pastis",
		Short:         "semi-analytical contrast sensitivity matrices for segmented telescopes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataPath, "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "calculate a PASTIS matrix",
		Args:  cobra.NoArgs,
		RunE:  runCalculation,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	runCmd.Flags().StringVar(&instrumentName, "instrument", config.DefaultInstrument, "instrument")
	runCmd.Flags().StringVar(&design, "design", config.DefaultDesign, "coronagraph design")
	runCmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (0 = all CPUs)")
	runCmd.Flags().Float64Var(&wfeAber, "wfe-aber", config.DefaultWFEAber, "calibration aberration in meters")
	runCmd.Flags().StringVar(&mirrorKind, "mirror", config.MirrorSegmented, "mirror kind (segmented, zernike, influence)")
	runCmd.Flags().BoolVar(&saveFields, "save-efields", false, "save per-mode focal-plane fields")
	runCmd.Flags().BoolVar(&saveOPDs, "save-opds", false, "save per-mode pupil phase images")
	runCmd.Flags().StringVar(&resumeRun, "resume", "", "resume run_id from its saved fields")
	runCmd.Flags().DurationVar(&modeTimeout, "mode-timeout", 0, "time limit per mode (0 = none)")
	runCmd.Flags().BoolVar(&noProgress, "no-tui", false, "disable the progress view")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run metadata and matrix summary",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "eigenmode analysis and tolerance allocation",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().Float64Var(&targetContrast, "target", 1e-10, "target mean contrast")
	analyzeCmd.Flags().Float64Var(&uniformAber, "uniform", 0, "contrast for this aberration in nm on every mode")
	analyzeCmd.Flags().StringVar(&spectrumPNG, "png", "", "write the eigenvalue spectrum to this PNG file")

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "render the matrix heatmap",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&plotOut, "out", "", "output path (default: next to the matrix)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "write the matrix as CSV to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "write run metadata and matrix as JSON to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "show the run catalog, failed runs included",
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum rows (0 = all)")

	presetsCmd := &cobra.Command{
		Use:   "presets [instrument]",
		Short: "list instruments, designs and presets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	rootCmd.AddCommand(runCmd, listCmd, showCmd, analyzeCmd, plotCmd,
		exportCSVCmd, exportJSONCmd, historyCmd, presetsCmd)
	addStudyCommands(rootCmd)
	return rootCmd
}

// logLevelVar holds the --log-level parsed by newLogger, shared with the
// run log file handler.
var logLevelVar slog.LevelVar

func newLogger() (*slog.Logger, error) {
	if err := logLevelVar.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevelVar})), nil
}

// dataPath resolves the data directory: --data wins over PASTIS_DATA_PATH.
func dataPath(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("data") {
		return dataDir, nil
	}
	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return "", err
	}
	return cfg.DataPath, nil
}

func openStore(cmd *cobra.Command) (*storage.Store, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	path, err := dataPath(cmd)
	if err != nil {
		return nil, err
	}
	return storage.New(path, logger), nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tINSTRUMENT\tDESIGN\tMIRROR\tMODES\tSTATUS\tTIME")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			run.ID,
			run.Instrument,
			run.Design,
			run.MirrorKind,
			run.NumModes,
			run.Status,
			run.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	return w.Flush()
}

func showHistory(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	cat, err := st.OpenCatalog()
	if err != nil {
		return err
	}
	defer cat.Close()

	runs, err := cat.History(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("catalog is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tMODES\tFLOOR\tRUNTIME\tFAILED AT")
	for _, run := range runs {
		failed := run.FailedStage
		if run.FailedMode != nil {
			failed = fmt.Sprintf("%s (mode %d)", failed, *run.FailedMode)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.3e\t%.1fs\t%s\n",
			run.ID, run.Status, run.NumModes, run.ContrastFloor, run.RuntimeSeconds, failed)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	fields := []viz.Field{
		{Label: "instrument", Value: meta.Instrument + "/" + meta.Design},
		{Label: "mirror", Value: meta.MirrorKind},
		{Label: "status", Value: meta.Status},
		{Label: "started", Value: meta.Timestamp.Format(time.RFC3339)},
		{Label: "wfe aber", Value: fmt.Sprintf("%g m", meta.WFEAber)},
	}
	if meta.Status == storage.StatusFailed {
		fields = append(fields, viz.Field{Label: "failed stage", Value: meta.FailedStage})
		if meta.FailedMode != nil {
			fields = append(fields, viz.Field{Label: "failed mode", Value: fmt.Sprint(*meta.FailedMode)})
		}
		fields = append(fields, viz.Field{Label: "error", Value: meta.Error})
		fmt.Println(viz.Summary(meta.ID, fields))
		return nil
	}

	fields = append(fields,
		viz.Field{Label: "modes", Value: fmt.Sprint(meta.NumModes)},
		viz.Field{Label: "norm", Value: fmt.Sprintf("%.4g", meta.Norm)},
		viz.Field{Label: "contrast floor", Value: fmt.Sprintf("%.3e", meta.ContrastFloor)},
		viz.Field{Label: "runtime", Value: fmt.Sprintf("%.2fs", meta.RuntimeSeconds)},
	)

	var charts []viz.Chart
	if meta.Status == storage.StatusCompleted {
		m, err := st.LoadMatrix(meta.ID)
		if err != nil {
			return err
		}
		charts = append(charts, viz.Chart{Caption: "self contrast per mode (contrast/nm²)", Values: analysis.Diagonal(m)})
	}
	fmt.Println(viz.Summary(meta.ID, fields, charts...))
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	m, err := st.LoadMatrix(meta.ID)
	if err != nil {
		return err
	}

	modes, err := analysis.Eigenmodes(m)
	if err != nil {
		return err
	}
	eigenvalues := make([]float64, len(modes))
	for i, mode := range modes {
		eigenvalues[i] = mode.Eigenvalue
	}

	fields := []viz.Field{
		{Label: "modes", Value: fmt.Sprint(len(modes))},
		{Label: "contrast floor", Value: fmt.Sprintf("%.3e", meta.ContrastFloor)},
		{Label: "largest λ", Value: fmt.Sprintf("%.3e", eigenvalues[0])},
		{Label: "smallest λ", Value: fmt.Sprintf("%.3e", eigenvalues[len(eigenvalues)-1])},
	}
	if uniformAber > 0 {
		a := make([]float64, len(modes))
		for i := range a {
			a[i] = uniformAber
		}
		c, err := analysis.Contrast(m, a, meta.ContrastFloor)
		if err != nil {
			return err
		}
		fields = append(fields, viz.Field{Label: fmt.Sprintf("c(%g nm)", uniformAber), Value: fmt.Sprintf("%.3e", c)})

		coeffs, err := analysis.Project(modes, a)
		if err != nil {
			return err
		}
		top, share := 0, 0.0
		for i, mode := range modes {
			if s := coeffs[i] * coeffs[i] * mode.Eigenvalue; s > share {
				top, share = i, s
			}
		}
		if c > meta.ContrastFloor {
			share /= c - meta.ContrastFloor
		}
		fields = append(fields, viz.Field{Label: "dominant eigenmode", Value: fmt.Sprintf("%d (%.0f%%)", top, 100*share)})
	}
	fmt.Println(viz.Summary(meta.ID+" eigenmodes", fields,
		viz.Chart{Caption: "eigenvalues (contrast/nm²)", Values: eigenvalues}))

	tolerances, err := analysis.ModeTolerances(modes, targetContrast, meta.ContrastFloor)
	if err != nil {
		return err
	}
	fmt.Printf("\ntolerances for target contrast %.1e:\n", targetContrast)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tEIGENVALUE\tSIGMA (nm)")
	for i, mode := range modes {
		sigma := "unconstrained"
		if !math.IsInf(tolerances[i], 1) {
			sigma = fmt.Sprintf("%.4g", tolerances[i])
		}
		fmt.Fprintf(w, "%d\t%.4e\t%s\n", mode.Rank, mode.Eigenvalue, sigma)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// unconstrained modes contribute nothing
	coeffs := make([]float64, len(tolerances))
	for i, tol := range tolerances {
		if !math.IsInf(tol, 1) {
			coeffs[i] = tol
		}
	}
	budget, err := analysis.Compose(modes, coeffs)
	if err != nil {
		return err
	}
	c, err := analysis.Contrast(m, budget, meta.ContrastFloor)
	if err != nil {
		return err
	}
	fmt.Printf("contrast with every eigenmode at its tolerance: %.3e\n", c)

	if spectrumPNG != "" {
		if err := plot.Spectrum(eigenvalues, meta.ID+" eigenvalues", "contrast/nm²", spectrumPNG); err != nil {
			return err
		}
		fmt.Printf("\nspectrum written to %s\n", spectrumPNG)
	}
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	m, err := st.LoadMatrix(args[0])
	if err != nil {
		return err
	}
	out := plotOut
	if out == "" {
		out = strings.TrimSuffix(st.MatrixPath(args[0]), ".csv") + ".png"
	}
	if err := plot.Matrix(m, args[0], out); err != nil {
		return err
	}
	fmt.Printf("heatmap written to %s\n", out)
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	m, err := st.LoadMatrix(args[0])
	if err != nil {
		return err
	}
	return storage.WriteMatrix(os.Stdout, m)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	m, err := st.LoadMatrix(meta.ID)
	if err != nil {
		return err
	}
	return storage.ExportJSON(os.Stdout, *meta, m)
}

func listPresets(cmd *cobra.Command, args []string) error {
	registry := instrument.NewRegistry()
	names := registry.List()
	if len(args) == 1 {
		names = []string{args[0]}
	}

	for _, name := range names {
		designs := registry.Designs(name)
		if designs == nil {
			return fmt.Errorf("unknown instrument: %s", name)
		}
		fmt.Printf("%s:\n", name)
		for _, d := range slices.Sorted(maps.Keys(designs)) {
			fmt.Printf("  design %-8s iwa %.1f  owa %.1f λ/D\n", d, designs[d].IWA, designs[d].OWA)
		}
		for _, p := range config.ListPresets(name) {
			fmt.Printf("  preset %s\n", p)
		}
	}
	return nil
}

// recordRun stores the run in the catalog. The catalog is an index over
// the run directories, so failures here only warn.
func recordRun(ctx context.Context, cat *storage.Catalog, run *storage.Run, logger *slog.Logger) {
	if cat == nil {
		return
	}
	if err := cat.Record(ctx, run.Metadata()); err != nil {
		logger.Warn("catalog record failed", "run", run.ID(), "error", err)
	}
}
