package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testMatrix() *mat.SymDense {
	return mat.NewSymDense(3, []float64{
		4, 1, 0,
		1, 3, 0,
		0, 0, 1,
	})
}

func TestEigenmodes_SortedAndOrthonormal(t *testing.T) {
	modes, err := Eigenmodes(testMatrix())
	require.NoError(t, err)
	require.Len(t, modes, 3)

	for i := 1; i < len(modes); i++ {
		assert.GreaterOrEqual(t, modes[i-1].Eigenvalue, modes[i].Eigenvalue)
		assert.Equal(t, i, modes[i].Rank)
	}
	assert.InDelta(t, (7+math.Sqrt(5))/2, modes[0].Eigenvalue, 1e-12)
	assert.InDelta(t, 1.0, modes[2].Eigenvalue, 1e-12)

	for i := range modes {
		for j := range modes {
			dot := mat.Dot(mat.NewVecDense(3, modes[i].Vector), mat.NewVecDense(3, modes[j].Vector))
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, dot, 1e-12, "(%d,%d)", i, j)
		}
	}
}

func TestEigenmodes_Empty(t *testing.T) {
	_, err := Eigenmodes(&mat.SymDense{})
	assert.ErrorIs(t, err, ErrEmptyMatrix)
}

func TestContrast(t *testing.T) {
	m := testMatrix()

	c, err := Contrast(m, []float64{1, 0, 0}, 1e-10)
	require.NoError(t, err)
	assert.InDelta(t, 4+1e-10, c, 1e-15)

	// cross terms count twice
	c, err = Contrast(m, []float64{1, 1, 0}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, c, 1e-12)

	_, err = Contrast(m, []float64{1}, 0)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestContrast_EigenmodeMatchesEigenvalue(t *testing.T) {
	m := testMatrix()
	modes, err := Eigenmodes(m)
	require.NoError(t, err)
	for _, mode := range modes {
		c, err := Contrast(m, mode.Vector, 0)
		require.NoError(t, err)
		assert.InDelta(t, mode.Eigenvalue, c, 1e-12)
	}
}

func TestModeTolerances_MeetTarget(t *testing.T) {
	m := testMatrix()
	modes, err := Eigenmodes(m)
	require.NoError(t, err)

	const floor, target = 1e-11, 1e-10
	tol, err := ModeTolerances(modes, target, floor)
	require.NoError(t, err)

	// eigenmodes are orthogonal, so applying every budget at once lands
	// exactly on the target
	a, err := Compose(modes, tol)
	require.NoError(t, err)
	c, err := Contrast(m, a, floor)
	require.NoError(t, err)
	assert.InEpsilon(t, target, c, 1e-9)

	// more sensitive modes get tighter budgets
	for i := 1; i < len(tol); i++ {
		assert.LessOrEqual(t, tol[i-1], tol[i])
	}
}

func TestModeTolerances_Errors(t *testing.T) {
	modes := []Mode{{Eigenvalue: 1, Vector: []float64{1}}}
	_, err := ModeTolerances(modes, 1e-11, 1e-10)
	assert.ErrorIs(t, err, ErrTarget)
	_, err = ModeTolerances(nil, 1, 0)
	assert.ErrorIs(t, err, ErrEmptyMatrix)

	tol, err := ModeTolerances([]Mode{{Eigenvalue: 0}}, 1, 0)
	require.NoError(t, err)
	assert.True(t, math.IsInf(tol[0], 1))
}

func TestProjectCompose(t *testing.T) {
	modes, err := Eigenmodes(testMatrix())
	require.NoError(t, err)

	a := []float64{0.3, -1.2, 2}
	coeffs, err := Project(modes, a)
	require.NoError(t, err)
	back, err := Compose(modes, coeffs)
	require.NoError(t, err)
	assert.InDeltaSlice(t, a, back, 1e-12)

	_, err = Project(modes, []float64{1})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestDiagonal(t *testing.T) {
	assert.Equal(t, []float64{4, 3, 1}, Diagonal(testMatrix()))
}
