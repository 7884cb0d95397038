package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/pastis/internal/config"
	"github.com/san-kum/pastis/internal/instrument"
	"github.com/san-kum/pastis/internal/pastis"
	"github.com/san-kum/pastis/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(os.Stderr)
	return root.Execute()
}

func TestResolveConfig_FlagsOverridePreset(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{
		"--instrument", "hex", "--preset", "global",
		"--workers", "3", "--wfe-aber", "2e-9", "--mode-timeout", "30s",
	}))

	cfg, err := resolveConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "hex", cfg.Instrument)
	assert.Equal(t, config.MirrorZernike, cfg.Mirror.Kind)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 2e-9, cfg.Calibration.WFEAber)
	assert.Equal(t, 30*time.Second, cfg.Calibration.ModeTimeout)
	assert.Equal(t, 64, cfg.Telescope.Pixels, "unchanged flags keep preset values")
}

func TestResolveConfig_EnvBelowFlags(t *testing.T) {
	t.Setenv("PASTIS_WORKERS", "5")
	t.Setenv("PASTIS_DATA_PATH", "/tmp/from-env")

	root := newRootCmd()
	cmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--data", "/tmp/from-flag"}))

	cfg, err := resolveConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, "/tmp/from-flag", cfg.DataPath)
}

func TestResolveConfig_UnknownPreset(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--preset", "huge"}))

	_, err = resolveConfig(cmd)
	assert.Error(t, err)
}

func TestResolveConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	cfg := config.GetPreset("hex", "small")
	cfg.Calibration.WFEAber = 5e-9
	require.NoError(t, config.Save(path, cfg))

	root := newRootCmd()
	cmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path}))

	got, err := resolveConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "hex", got.Instrument)
	assert.Equal(t, 5e-9, got.Calibration.WFEAber)
}

func TestCLI_RunAndInspect(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a full calculation")
	}
	dir := t.TempDir()

	require.NoError(t, runCLI(t, "run", "--data", dir, "--instrument", "hex", "--preset", "small",
		"--save-efields", "--no-tui", "--log-level", "warn"))

	st := storage.New(dir, nil)
	runs, err := st.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	id := runs[0].ID
	assert.Equal(t, storage.StatusCompleted, runs[0].Status)
	assert.Equal(t, 7, runs[0].NumModes)

	for _, args := range [][]string{
		{"list"},
		{"show", id},
		{"analyze", id, "--uniform", "1", "--png", filepath.Join(dir, "spectrum.png")},
		{"plot", id, "--out", filepath.Join(dir, "heat.png")},
		{"history"},
		{"presets"},
		{"montecarlo", id, "--trials", "50", "--seed", "3"},
		{"sweep", id, "--points", "4", "--trials", "20", "--png", filepath.Join(dir, "sweep.png")},
	} {
		require.NoError(t, runCLI(t, append(args, "--data", dir)...), "%v", args)
	}
	assert.FileExists(t, filepath.Join(dir, "spectrum.png"))
	assert.FileExists(t, filepath.Join(dir, "heat.png"))
	assert.FileExists(t, filepath.Join(dir, "sweep.png"))

	cat, err := st.OpenCatalog()
	require.NoError(t, err)
	defer cat.Close()
	meta, err := cat.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, meta.Status)

	// Resuming recomputes nothing and reproduces the matrix.
	before, err := st.LoadMatrix(id)
	require.NoError(t, err)
	require.NoError(t, runCLI(t, "run", "--data", dir, "--resume", id, "--no-tui", "--log-level", "warn"))
	after, err := st.LoadMatrix(id)
	require.NoError(t, err)
	assert.Equal(t, before.RawSymmetric().Data, after.RawSymmetric().Data)
}

func TestCLI_InstrumentFailureIsRecorded(t *testing.T) {
	dir := t.TempDir()
	err := runCLI(t, "run", "--data", dir, "--instrument", "hex", "--preset", "small",
		"--design", "huge", "--no-tui", "--log-level", "error")
	require.Error(t, err)
	assert.ErrorIs(t, err, instrument.ErrUnknownDesign)

	var se *pastis.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, pastis.StageReference, se.Stage)
	var ce *pastis.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "hex", ce.Instrument)

	st := storage.New(dir, nil)
	runs, err := st.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.StatusFailed, runs[0].Status)
	assert.Equal(t, pastis.StageReference, runs[0].FailedStage)

	cat, err := st.OpenCatalog()
	require.NoError(t, err)
	defer cat.Close()
	meta, err := cat.Get(t.Context(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, meta.Status)
	assert.Equal(t, pastis.StageReference, meta.FailedStage)
}

func TestCLI_Scenario(t *testing.T) {
	if testing.Short() {
		t.Skip("runs full calculations")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: amplitudes
steps:
  - instrument: hex
    preset: small
    wfe_aber: 1e-9
  - instrument: hex
    preset: small
    wfe_aber: 4e-9
`), 0644))

	require.NoError(t, runCLI(t, "scenario", path, "--data", dir, "--log-level", "warn"))

	runs, err := storage.New(dir, nil).List()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestCLI_MissingRun(t *testing.T) {
	dir := t.TempDir()
	for _, cmd := range []string{"show", "analyze", "plot", "export-csv", "export-json", "montecarlo", "sweep"} {
		assert.ErrorIs(t, runCLI(t, cmd, "nope", "--data", dir), storage.ErrRunNotFound, cmd)
	}
}

func TestCLI_BadLogLevel(t *testing.T) {
	assert.Error(t, runCLI(t, "list", "--data", t.TempDir(), "--log-level", "loud"))
}
