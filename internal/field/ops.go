package field

import (
	"fmt"
	"math"
)

// Annulus selects pixels whose distance from the grid center lies in
// [inner, outer), in pixels. The center is (rows/2, cols/2), matching a
// shifted FFT grid.
func Annulus(rows, cols int, inner, outer float64) *Mask {
	m := &Mask{Rows: rows, Cols: cols, Data: make([]bool, rows*cols)}
	cy, cx := float64(rows/2), float64(cols/2)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d := math.Hypot(float64(r)-cy, float64(c)-cx)
			m.Data[r*cols+c] = d >= inner && d < outer
		}
	}
	return m
}

// MaskedMean averages img over the selected pixels of mask.
func MaskedMean(img *Intensity, mask *Mask) (float64, error) {
	if img.Rows != mask.Rows || img.Cols != mask.Cols {
		return 0, fmt.Errorf("%w: image %dx%d, mask %dx%d", ErrShapeMismatch, img.Rows, img.Cols, mask.Rows, mask.Cols)
	}
	sum := 0.0
	n := 0
	for i, sel := range mask.Data {
		if sel {
			sum += img.Data[i]
			n++
		}
	}
	if n == 0 {
		return 0, ErrEmptyMask
	}
	return sum / float64(n), nil
}

// Gather returns the samples of c at the given flat indices.
func Gather(c *Complex, idx []int) []complex128 {
	out := make([]complex128, len(idx))
	for k, i := range idx {
		out[k] = c.Data[i]
	}
	return out
}

// CrossReal returns the mean of real(a·conj(b)) over all samples.
func CrossReal(a, b []complex128) float64 {
	if len(a) == 0 {
		return 0
	}
	sum := 0.0
	for k := range a {
		// real(a*conj(b)) = ar*br + ai*bi
		sum += real(a[k])*real(b[k]) + imag(a[k])*imag(b[k])
	}
	return sum / float64(len(a))
}
