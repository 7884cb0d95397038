package field

import (
	"fmt"
	"math"
	"math/cmplx"
)

type Complex struct {
	Rows, Cols int
	Data       []complex128
}

func NewComplex(rows, cols int) (*Complex, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadShape, rows, cols)
	}
	return &Complex{Rows: rows, Cols: cols, Data: make([]complex128, rows*cols)}, nil
}

// ComplexFrom builds a field from separate real and imaginary rasters.
func ComplexFrom(rows, cols int, re, im []float64) (*Complex, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadShape, rows, cols)
	}
	if len(re) != rows*cols || len(im) != rows*cols {
		return nil, fmt.Errorf("%w: want %d samples, got %d/%d", ErrShapeMismatch, rows*cols, len(re), len(im))
	}
	c := &Complex{Rows: rows, Cols: cols, Data: make([]complex128, rows*cols)}
	for i := range c.Data {
		c.Data[i] = complex(re[i], im[i])
	}
	return c, nil
}

func (c *Complex) At(row, col int) complex128 { return c.Data[row*c.Cols+col] }

func (c *Complex) Set(row, col int, v complex128) { c.Data[row*c.Cols+col] = v }

func (c *Complex) Clone() *Complex {
	d := make([]complex128, len(c.Data))
	copy(d, c.Data)
	return &Complex{Rows: c.Rows, Cols: c.Cols, Data: d}
}

func (c *Complex) SameShape(rows, cols int) bool {
	return c.Rows == rows && c.Cols == cols
}

func (c *Complex) IsValid() bool {
	for _, v := range c.Data {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			return false
		}
	}
	return true
}

func (c *Complex) Real() []float64 {
	out := make([]float64, len(c.Data))
	for i, v := range c.Data {
		out[i] = real(v)
	}
	return out
}

func (c *Complex) Imag() []float64 {
	out := make([]float64, len(c.Data))
	for i, v := range c.Data {
		out[i] = imag(v)
	}
	return out
}

// Intensity returns |E|².
func (c *Complex) Intensity() *Intensity {
	out := make([]float64, len(c.Data))
	for i, v := range c.Data {
		out[i] = real(v)*real(v) + imag(v)*imag(v)
	}
	return &Intensity{Rows: c.Rows, Cols: c.Cols, Data: out}
}

type Intensity struct {
	Rows, Cols int
	Data       []float64
}

func (im *Intensity) At(row, col int) float64 { return im.Data[row*im.Cols+col] }

func (im *Intensity) Max() float64 {
	m := math.Inf(-1)
	for _, v := range im.Data {
		if v > m {
			m = v
		}
	}
	return m
}

func (im *Intensity) Scale(factor float64) *Intensity {
	out := make([]float64, len(im.Data))
	for i, v := range im.Data {
		out[i] = v * factor
	}
	return &Intensity{Rows: im.Rows, Cols: im.Cols, Data: out}
}

type Mask struct {
	Rows, Cols int
	Data       []bool
}

func NewMask(rows, cols int) (*Mask, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadShape, rows, cols)
	}
	return &Mask{Rows: rows, Cols: cols, Data: make([]bool, rows*cols)}, nil
}

func (m *Mask) At(row, col int) bool { return m.Data[row*m.Cols+col] }

func (m *Mask) Set(row, col int, v bool) { m.Data[row*m.Cols+col] = v }

// Count returns the number of selected pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Indices returns the flat indices of selected pixels in increasing order.
func (m *Mask) Indices() []int {
	idx := make([]int, 0, m.Count())
	for i, v := range m.Data {
		if v {
			idx = append(idx, i)
		}
	}
	return idx
}
