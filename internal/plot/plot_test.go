package plot

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(data) < 8 || string(data[1:4]) != "PNG" {
		t.Errorf("%s is not a PNG", path)
	}
}

func TestMatrix(t *testing.T) {
	m := mat.NewSymDense(3, []float64{
		1, 0.5, 0.1,
		0.5, 2, 0.3,
		0.1, 0.3, 3,
	})
	path := filepath.Join(t.TempDir(), "matrix.png")
	if err := Matrix(m, "PASTIS matrix", path); err != nil {
		t.Fatal(err)
	}
	assertPNG(t, path)
}

func TestMatrix_Constant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zero.png")
	if err := Matrix(mat.NewSymDense(2, nil), "zero", path); err != nil {
		t.Fatal(err)
	}
	assertPNG(t, path)
}

func TestPhaseMap(t *testing.T) {
	const n = 16
	phase := make([]float64, n*n)
	for i := range phase {
		phase[i] = math.Sin(float64(i))
	}
	path := filepath.Join(t.TempDir(), "opd.png")
	if err := PhaseMap(phase, n, "mode 0", path); err != nil {
		t.Fatal(err)
	}
	assertPNG(t, path)

	if err := PhaseMap(phase[:10], n, "bad", path); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestSpectrum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eig.png")
	if err := Spectrum([]float64{3, 2, 1, 0.5}, "eigenvalues", "contrast/nm²", path); err != nil {
		t.Fatal(err)
	}
	assertPNG(t, path)

	if err := Spectrum(nil, "", "", path); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestCurves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.png")
	rms := []float64{0.01, 0.1, 1, 10}
	mean := []float64{1e-12, 1e-10, 1e-8, 1e-6}
	p95 := []float64{2e-12, 0, 2e-8, 2e-6}
	if err := Curves("contrast", "rms (nm)", "contrast", path,
		Series{Name: "mean", X: rms, Y: mean},
		Series{Name: "p95", X: rms, Y: p95}); err != nil {
		t.Fatal(err)
	}
	assertPNG(t, path)

	err := Curves("empty", "x", "y", path, Series{Name: "zero", X: []float64{0}, Y: []float64{1}})
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}
