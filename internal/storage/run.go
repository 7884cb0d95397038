package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/san-kum/pastis/internal/field"
	"github.com/san-kum/pastis/internal/pastis"
	"github.com/san-kum/pastis/internal/plot"
	"gonum.org/v1/gonum/mat"
)

// Run is the output directory of one calculation. It is the pastis.Sink
// of the calculation and serves resumed runs as a pastis.FieldCache.
type Run struct {
	meta   RunMetadata
	dir    string
	logger *slog.Logger
}

var (
	_ pastis.Sink       = (*Run)(nil)
	_ pastis.FieldCache = (*Run)(nil)
)

func (r *Run) ID() string            { return r.meta.ID }
func (r *Run) Dir() string           { return r.dir }
func (r *Run) Metadata() RunMetadata { return r.meta }
func (r *Run) MatrixPath() string    { return filepath.Join(r.dir, matrixFile) }

func (r *Run) fieldPath(part string, mode int) string {
	return filepath.Join(r.dir, fieldsDir, fmt.Sprintf("efield_%s_mode%d.csv", part, mode))
}

// Prepare creates the run tree and writes the initial metadata.
func (r *Run) Prepare() error {
	for _, d := range []string{r.dir, filepath.Join(r.dir, fieldsDir), filepath.Join(r.dir, imagesDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return &pastis.PersistenceError{Path: d, Wrapped: err}
		}
	}
	return r.writeMetadata()
}

// SaveField writes the real and imaginary parts as two CSV rasters.
func (r *Run) SaveField(mode int, f *field.Complex) error {
	parts := []struct {
		name string
		data []float64
	}{
		{"real", f.Real()},
		{"imag", f.Imag()},
	}
	for _, p := range parts {
		path := r.fieldPath(p.name, mode)
		err := writeFile(path, func(w io.Writer) error {
			return WriteGrid(w, f.Rows, f.Cols, func(row, col int) float64 { return p.data[row*f.Cols+col] })
		})
		if err != nil {
			return &pastis.PersistenceError{Path: path, Wrapped: err}
		}
	}
	return nil
}

// LoadField reads a field saved by SaveField. A mode with no saved field
// reports ok == false without error.
func (r *Run) LoadField(mode int) (*field.Complex, bool, error) {
	var grids [2][]float64
	var rows, cols int
	for i, part := range []string{"real", "imag"} {
		path := r.fieldPath(part, mode)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		rr, cc, data, err := ReadGrid(f)
		f.Close()
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", path, err)
		}
		if i > 0 && (rr != rows || cc != cols) {
			return nil, false, fmt.Errorf("%w: mode %d real and imaginary grids differ", ErrMalformed, mode)
		}
		rows, cols, grids[i] = rr, cc, data
	}
	c, err := field.ComplexFrom(rows, cols, grids[0], grids[1])
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// SavePhaseMap renders a square pupil phase map to OTE_images.
func (r *Run) SavePhaseMap(mode int, phase []float64) error {
	path := filepath.Join(r.dir, imagesDir, fmt.Sprintf("opd_mode_%d.png", mode))
	pixels := int(math.Round(math.Sqrt(float64(len(phase)))))
	if err := plot.PhaseMap(phase, pixels, fmt.Sprintf("pupil phase, mode %d", mode), path); err != nil {
		return &pastis.PersistenceError{Path: path, Wrapped: err}
	}
	return nil
}

// SaveMatrix writes the matrix CSV. The heatmap next to it is best-effort.
func (r *Run) SaveMatrix(m *mat.SymDense) error {
	path := r.MatrixPath()
	if err := writeFile(path, func(w io.Writer) error { return WriteMatrix(w, m) }); err != nil {
		return &pastis.PersistenceError{Path: path, Wrapped: err}
	}
	r.logger.Info("saved PASTIS matrix", "path", path)

	png := filepath.Join(r.dir, matrixPlot)
	title := fmt.Sprintf("PASTIS matrix, %s %s", r.meta.Instrument, r.meta.Design)
	if err := plot.Matrix(m, title, png); err != nil {
		r.logger.Warn("matrix plot not saved", "path", png, "error", err)
	}
	return nil
}

// Finish records a completed calculation in the metadata.
func (r *Run) Finish(res *pastis.Result) error {
	r.meta.Status = StatusCompleted
	r.meta.NumModes = res.NumModes
	r.meta.Norm = res.Norm
	r.meta.ContrastFloor = res.ContrastFloor
	r.meta.RuntimeSeconds = res.Runtime.Seconds()
	r.meta.StageSeconds = make(map[string]float64, len(res.Timings))
	for stage, d := range res.Timings {
		r.meta.StageSeconds[stage] = d.Seconds()
	}
	r.meta.FailedStage, r.meta.FailedMode, r.meta.Error = "", nil, ""
	return r.writeMetadata()
}

// Fail records the failing stage and, for propagation failures, the mode.
func (r *Run) Fail(err error) error {
	r.meta.Status = StatusFailed
	r.meta.Error = err.Error()

	var se *pastis.StageError
	if errors.As(err, &se) {
		r.meta.FailedStage = se.Stage
	}
	var pe *pastis.PropagationError
	if errors.As(err, &pe) {
		mode := pe.Mode
		r.meta.FailedMode = &mode
	}
	return r.writeMetadata()
}

func (r *Run) writeMetadata() error {
	path := filepath.Join(r.dir, metadataFile)
	err := writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r.meta)
	})
	if err != nil {
		return &pastis.PersistenceError{Path: path, Wrapped: err}
	}
	return nil
}
