package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

var ErrMalformed = errors.New("storage: malformed data file")

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteGrid writes a row-major rows×cols array as CSV without a header.
// Values keep full precision so a reread array is bit-identical.
func WriteGrid(w io.Writer, rows, cols int, at func(r, c int) float64) error {
	cw := csv.NewWriter(w)
	rec := make([]string, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			rec[c] = formatFloat(at(r, c))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadGrid reads a headerless CSV grid. Every row must have the same length.
func ReadGrid(r io.Reader) (rows, cols int, data []float64, err error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(records) == 0 || len(records[0]) == 0 {
		return 0, 0, nil, fmt.Errorf("%w: empty grid", ErrMalformed)
	}
	rows, cols = len(records), len(records[0])
	data = make([]float64, 0, rows*cols)
	for i, rec := range records {
		for j, s := range rec {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0, 0, nil, fmt.Errorf("%w: row %d col %d: %q", ErrMalformed, i, j, s)
			}
			data = append(data, v)
		}
	}
	return rows, cols, data, nil
}

func WriteMatrix(w io.Writer, m mat.Matrix) error {
	r, c := m.Dims()
	return WriteGrid(w, r, c, m.At)
}

// ReadMatrix reads a square CSV matrix and checks that it is symmetric.
func ReadMatrix(r io.Reader) (*mat.SymDense, error) {
	rows, cols, data, err := ReadGrid(r)
	if err != nil {
		return nil, err
	}
	if rows != cols {
		return nil, fmt.Errorf("%w: matrix is %dx%d", ErrMalformed, rows, cols)
	}
	for i := 0; i < rows; i++ {
		for j := i + 1; j < cols; j++ {
			if data[i*cols+j] != data[j*cols+i] {
				return nil, fmt.Errorf("%w: entry (%d,%d) differs from (%d,%d)", ErrMalformed, i, j, j, i)
			}
		}
	}
	return mat.NewSymDense(rows, data), nil
}

// writeFile writes through a temporary file in the same directory and
// renames it into place, so path never holds a partial write.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return read(f)
}
