package optics

import (
	"fmt"
	"math"
	"sort"
)

// Segment is one hexagonal mirror segment, in pupil pixel coordinates
// relative to the grid center.
type Segment struct {
	Index        int
	X, Y         float64
	Circumradius float64
	Ring         int
}

// Aperture is a square pupil grid covered by flat-top hexagonal segments.
type Aperture struct {
	Pixels    int
	Segments  []Segment
	mask      []bool
	segmentOf []int
	pixels    []int
}

// NewHexAperture lays out rings of hexagonal segments on a pixels×pixels
// grid. gap is the fraction of the segment pitch left empty between
// neighbors; centerSegment keeps the segment at ring 0.
func NewHexAperture(pixels, rings int, gap float64, centerSegment bool) (*Aperture, error) {
	if pixels < 8 {
		return nil, fmt.Errorf("%w: pupil needs at least 8 pixels, got %d", ErrBadGeometry, pixels)
	}
	if rings < 0 || (rings == 0 && !centerSegment) {
		return nil, fmt.Errorf("%w: no segments for %d rings", ErrBadGeometry, rings)
	}
	if gap < 0 || gap >= 1 {
		return nil, fmt.Errorf("%w: gap fraction %.3f outside [0, 1)", ErrBadGeometry, gap)
	}

	r := float64(rings)
	extent := math.Max(r+0.5, (1.5*r+1)/math.Sqrt(3))
	pitch := (float64(pixels)/2 - 1) / extent
	circ := pitch * (1 - gap) / math.Sqrt(3)
	a := pitch / math.Sqrt(3)

	type axial struct{ q, r, ring int }
	cells := make([]axial, 0)
	for q := -rings; q <= rings; q++ {
		for rr := -rings; rr <= rings; rr++ {
			ring := hexDistance(q, rr)
			if ring > rings || (ring == 0 && !centerSegment) {
				continue
			}
			cells = append(cells, axial{q, rr, ring})
		}
	}

	segs := make([]Segment, len(cells))
	for i, c := range cells {
		segs[i] = Segment{
			X:            1.5 * a * float64(c.q),
			Y:            pitch * (float64(c.r) + float64(c.q)/2),
			Circumradius: circ,
			Ring:         c.ring,
		}
	}
	// ring by ring, counter-clockwise from +x
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Ring != segs[j].Ring {
			return segs[i].Ring < segs[j].Ring
		}
		return angle(segs[i]) < angle(segs[j])
	})
	for i := range segs {
		segs[i].Index = i
	}

	ap := &Aperture{
		Pixels:    pixels,
		Segments:  segs,
		mask:      make([]bool, pixels*pixels),
		segmentOf: make([]int, pixels*pixels),
	}
	for idx := range ap.segmentOf {
		ap.segmentOf[idx] = -1
		x, y := ap.Coords(idx)
		for _, s := range segs {
			if insideHex(x-s.X, y-s.Y, s.Circumradius) {
				ap.segmentOf[idx] = s.Index
				ap.mask[idx] = true
				ap.pixels = append(ap.pixels, idx)
				break
			}
		}
	}
	if len(ap.pixels) == 0 {
		return nil, fmt.Errorf("%w: aperture covers no pixels", ErrBadGeometry)
	}
	return ap, nil
}

func (a *Aperture) NumSegments() int { return len(a.Segments) }

// Coords returns the pixel center of flat index idx relative to the grid
// center.
func (a *Aperture) Coords(idx int) (x, y float64) {
	c := float64(a.Pixels-1) / 2
	return float64(idx%a.Pixels) - c, float64(idx/a.Pixels) - c
}

// Radius is the pupil radius in pixels used to normalize global modes.
func (a *Aperture) Radius() float64 {
	rmax := 0.0
	for _, idx := range a.pixels {
		x, y := a.Coords(idx)
		rmax = math.Max(rmax, math.Hypot(x, y))
	}
	return rmax
}

func (a *Aperture) Contains(idx int) bool { return a.mask[idx] }

// SegmentOf returns the segment covering pixel idx, or -1.
func (a *Aperture) SegmentOf(idx int) int { return a.segmentOf[idx] }

// Indices returns the aperture pixels as flat indices in increasing order.
func (a *Aperture) Indices() []int { return a.pixels }

// SegmentIndices returns the flat indices covered by segment s.
func (a *Aperture) SegmentIndices(s int) []int {
	out := make([]int, 0)
	for _, idx := range a.pixels {
		if a.segmentOf[idx] == s {
			out = append(out, idx)
		}
	}
	return out
}

func hexDistance(q, r int) int {
	return max(abs(q), abs(r), abs(q+r))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func angle(s Segment) float64 {
	t := math.Atan2(s.Y, s.X)
	if t < 0 {
		t += 2 * math.Pi
	}
	return t
}

// insideHex tests a point against a flat-top hexagon of circumradius r.
func insideHex(dx, dy, r float64) bool {
	dx, dy = math.Abs(dx), math.Abs(dy)
	h := math.Sqrt(3) / 2 * r
	return dy <= h && math.Sqrt(3)*dx+dy <= math.Sqrt(3)*r
}
