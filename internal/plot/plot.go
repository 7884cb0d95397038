// Package plot renders diagnostic PNGs of PASTIS matrices, pupil phase maps
// and eigenvalue spectra.
package plot

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	paletteSize = 255
	imageSize   = 6 * vg.Inch
)

var ErrEmpty = errors.New("plot: nothing to draw")

// grid adapts a row-major sample array to plotter.GridXYZ. Row 0 is drawn
// at the bottom.
type grid struct {
	rows, cols int
	at         func(r, c int) float64
}

func (g grid) Dims() (c, r int)   { return g.cols, g.rows }
func (g grid) Z(c, r int) float64 { return g.at(r, c) }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

func heatPalette(diverging bool) palette.Palette {
	var cm palette.ColorMap
	if diverging {
		cm = moreland.SmoothBlueRed()
	} else {
		cm = moreland.ExtendedBlackBody()
	}
	cm.SetMin(0)
	cm.SetMax(1)
	return cm.Palette(paletteSize)
}

func heatmap(g grid, title, xlabel, ylabel string, diverging bool, path string) error {
	if g.rows == 0 || g.cols == 0 {
		return ErrEmpty
	}
	p := gplot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel

	h := plotter.NewHeatMap(g, heatPalette(diverging))
	if h.Max == h.Min {
		h.Max = h.Min + 1
	}
	p.Add(h)

	if err := p.Save(imageSize, imageSize, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Matrix writes a heatmap of m, in contrast per nm², to path.
func Matrix(m mat.Matrix, title, path string) error {
	r, c := m.Dims()
	g := grid{rows: r, cols: c, at: m.At}
	return heatmap(g, title, "mode", "mode", false, path)
}

// PhaseMap writes a pupil phase map given row-major on a pixels×pixels
// grid, in radians.
func PhaseMap(phase []float64, pixels int, title, path string) error {
	if pixels <= 0 || len(phase) != pixels*pixels {
		return fmt.Errorf("%w: %d samples for a %d px grid", ErrEmpty, len(phase), pixels)
	}
	g := grid{rows: pixels, cols: pixels, at: func(r, c int) float64 {
		return phase[r*pixels+c]
	}}
	return heatmap(g, title, "x (px)", "y (px)", true, path)
}

// Spectrum writes the values as a line over their index, e.g. the
// eigenvalues of a matrix.
func Spectrum(values []float64, title, ylabel, path string) error {
	if len(values) == 0 {
		return ErrEmpty
	}
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}

	p := gplot.New()
	p.Title.Text = title
	p.X.Label.Text = "mode"
	p.Y.Label.Text = ylabel
	if err := plotutil.AddLinePoints(p, ylabel, pts); err != nil {
		return err
	}
	if err := p.Save(imageSize, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Series is one named curve of a Curves plot.
type Series struct {
	Name string
	X, Y []float64
}

// Curves draws the series on log-log axes, e.g. contrast against rms
// aberration. Non-positive points cannot be shown on a log axis and are
// dropped.
func Curves(title, xlabel, ylabel, path string, series ...Series) error {
	p := gplot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.X.Scale, p.Y.Scale = gplot.LogScale{}, gplot.LogScale{}
	p.X.Tick.Marker, p.Y.Tick.Marker = gplot.LogTicks{Prec: -1}, gplot.LogTicks{Prec: -1}

	var args []any
	for _, s := range series {
		pts := make(plotter.XYs, 0, len(s.X))
		for i := range min(len(s.X), len(s.Y)) {
			if s.X[i] > 0 && s.Y[i] > 0 {
				pts = append(pts, plotter.XY{X: s.X[i], Y: s.Y[i]})
			}
		}
		if len(pts) > 0 {
			args = append(args, s.Name, pts)
		}
	}
	if len(args) == 0 {
		return ErrEmpty
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return err
	}
	if err := p.Save(imageSize, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
