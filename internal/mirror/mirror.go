package mirror

import (
	"fmt"
	"math"

	"github.com/san-kum/pastis/internal/optics"
)

const (
	KindSegmented = "segmented"
	KindZernike   = "zernike"
	KindInfluence = "influence"
)

// Mirror maps an ordered, fixed set of actuation modes to a surface map on
// the pupil grid. Implementations are not safe for concurrent mutation; use
// Clone to give each worker its own actuator state.
type Mirror interface {
	Kind() string
	NumModes() int
	Flatten()
	SetModeAmplitude(mode int, amplitude float64) error
	Actuators() []float64
	Surface() []float64
	Clone() Mirror
}

type basisMap struct {
	idx []int
	val []float64
}

// modal is a mirror whose surface is a linear combination of precomputed,
// read-only basis maps.
type modal struct {
	kind   string
	pixels int
	basis  []basisMap
	act    []float64
}

func newModal(kind string, pixels int, basis []basisMap) (*modal, error) {
	if len(basis) == 0 {
		return nil, fmt.Errorf("%w: %s mirror", ErrNoModes, kind)
	}
	return &modal{kind: kind, pixels: pixels, basis: basis, act: make([]float64, len(basis))}, nil
}

func (m *modal) Kind() string  { return m.kind }
func (m *modal) NumModes() int { return len(m.basis) }

func (m *modal) Flatten() {
	for i := range m.act {
		m.act[i] = 0
	}
}

func (m *modal) SetModeAmplitude(mode int, amplitude float64) error {
	if mode < 0 || mode >= len(m.act) {
		return fmt.Errorf("%w: mode %d of %d", ErrModeOutOfRange, mode, len(m.act))
	}
	if math.IsNaN(amplitude) || math.IsInf(amplitude, 0) {
		return fmt.Errorf("%w: mode %d", ErrBadAmplitude, mode)
	}
	m.act[mode] = amplitude
	return nil
}

func (m *modal) Actuators() []float64 {
	out := make([]float64, len(m.act))
	copy(out, m.act)
	return out
}

func (m *modal) Surface() []float64 {
	s := make([]float64, m.pixels*m.pixels)
	for k, a := range m.act {
		if a == 0 {
			continue
		}
		b := m.basis[k]
		for i, idx := range b.idx {
			s[idx] += a * b.val[i]
		}
	}
	return s
}

func (m *modal) Clone() Mirror {
	act := make([]float64, len(m.act))
	copy(act, m.act)
	return &modal{kind: m.kind, pixels: m.pixels, basis: m.basis, act: act}
}

// NewSegmented builds maxLocalZernike local Zernike modes on every segment.
// Mode index is segment*maxLocalZernike + (noll-1).
func NewSegmented(ap *optics.Aperture, maxLocalZernike int) (Mirror, error) {
	if maxLocalZernike < 1 {
		return nil, fmt.Errorf("%w: max local zernike %d", ErrNoModes, maxLocalZernike)
	}
	basis := make([]basisMap, 0, ap.NumSegments()*maxLocalZernike)
	for _, seg := range ap.Segments {
		idx := ap.SegmentIndices(seg.Index)
		for j := 1; j <= maxLocalZernike; j++ {
			basis = append(basis, localMap(ap, seg, idx, 0, func(rho, theta float64) float64 {
				return Zernike(j, rho, theta)
			}))
		}
	}
	return newModal(KindSegmented, ap.Pixels, basis)
}

// NewZernike builds numZernikes global Noll Zernikes over the whole pupil.
func NewZernike(ap *optics.Aperture, numZernikes int) (Mirror, error) {
	if numZernikes < 1 {
		return nil, fmt.Errorf("%w: %d global zernikes", ErrNoModes, numZernikes)
	}
	radius := ap.Radius()
	idx := ap.Indices()
	basis := make([]basisMap, numZernikes)
	for j := 1; j <= numZernikes; j++ {
		b := basisMap{idx: idx, val: make([]float64, len(idx))}
		for i, p := range idx {
			x, y := ap.Coords(p)
			b.val[i] = Zernike(j, math.Hypot(x, y)/radius, math.Atan2(y, x))
		}
		basis[j-1] = b
	}
	return newModal(KindZernike, ap.Pixels, basis)
}

// NewInfluence builds one mode per segment per influence function in table.
// orientations holds one rotation angle per segment, or a single angle
// applied to all segments.
func NewInfluence(ap *optics.Aperture, table *InfluenceTable, orientations []float64) (Mirror, error) {
	if table == nil || len(table.Modes) == 0 {
		return nil, fmt.Errorf("%w: empty influence table", ErrNoModes)
	}
	angles, err := expandOrientations(orientations, ap.NumSegments())
	if err != nil {
		return nil, err
	}
	basis := make([]basisMap, 0, ap.NumSegments()*len(table.Modes))
	for _, seg := range ap.Segments {
		idx := ap.SegmentIndices(seg.Index)
		for _, mode := range table.Modes {
			terms := mode.Terms
			basis = append(basis, localMap(ap, seg, idx, angles[seg.Index], func(rho, theta float64) float64 {
				v := 0.0
				for _, t := range terms {
					v += t.Coefficient * Zernike(t.Noll, rho, theta)
				}
				return v
			}))
		}
	}
	return newModal(KindInfluence, ap.Pixels, basis)
}

func expandOrientations(orientations []float64, segments int) ([]float64, error) {
	switch len(orientations) {
	case 0:
		return make([]float64, segments), nil
	case 1:
		out := make([]float64, segments)
		for i := range out {
			out[i] = orientations[0]
		}
		return out, nil
	case segments:
		return orientations, nil
	}
	return nil, fmt.Errorf("%w: %d orientations for %d segments", ErrOrientations, len(orientations), segments)
}

func localMap(ap *optics.Aperture, seg optics.Segment, idx []int, rot float64, fn func(rho, theta float64) float64) basisMap {
	b := basisMap{idx: idx, val: make([]float64, len(idx))}
	for i, p := range idx {
		x, y := ap.Coords(p)
		dx, dy := (x-seg.X)/seg.Circumradius, (y-seg.Y)/seg.Circumradius
		b.val[i] = fn(math.Hypot(dx, dy), math.Atan2(dy, dx)-rot)
	}
	return b
}
