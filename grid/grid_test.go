package grid

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/gto"
)

func h2(t *testing.T) (*gto.Mole, *mat.Dense) {
	mol, err := gto.NewMole([]gto.Atom{{Symbol: "H"}, {Symbol: "H", Coord: [3]float64{0.1, 0, 1.4}}}, "sto-3g", gto.Bohr, 0)
	require.NoError(t, err)
	// The bonding orbital is exact in a minimal basis.
	c := 1 / math.Sqrt(2*(1+mol.Ovlp().At(0, 1)))
	dm := mat.NewDense(2, 2, []float64{2 * c * c, 2 * c * c, 2 * c * c, 2 * c * c})
	return mol, dm
}

func TestElectronCount(t *testing.T) {
	t.Parallel()
	mol, dm := h2(t)
	g, err := Build(mol, 60, 14)
	require.NoError(t, err)

	var n float64
	for b := range g.Batches(BlockSize(mol.NAO(), mol.NAtm(), 1, 0.05)) {
		h, err := NewHelper(mol, b, dm, 1)
		require.NoError(t, err)
		n += floats.Dot(h.Weights, h.Rho0)
	}
	require.InDelta(t, 2, n, 1e-4)
}

func TestAngularWeights(t *testing.T) {
	t.Parallel()
	for _, polar := range []int{2, 7, 14} {
		t.Run(fmt.Sprintf("%d", polar), func(t *testing.T) {
			t.Parallel()
			dirs, w := angularGrid(polar)
			require.InDelta(t, 4*math.Pi, floats.Sum(w), 1e-12)
			// The integral of z^2 over the sphere is 4 pi / 3.
			var z2 float64
			for i, d := range dirs {
				z2 += w[i] * d[2] * d[2]
			}
			require.InDelta(t, 4*math.Pi/3, z2, 1e-12)
		})
	}
}

func TestAtomicDerivatives(t *testing.T) {
	t.Parallel()
	mol, dm := h2(t)
	b := Batch{Coords: [][3]float64{{0.3, -0.2, 0.5}, {-0.4, 0.1, 1.9}}, Weights: []float64{1, 1}}
	h, err := NewHelper(mol, b, dm, 2)
	require.NoError(t, err)

	const step = 1e-5
	for A := range mol.NAtm() {
		for x := range 3 {
			hp, err := NewHelper(mol.Displace(A, x, step), b, dm, 1)
			require.NoError(t, err)
			hm, err := NewHelper(mol.Displace(A, x, -step), b, dm, 1)
			require.NoError(t, err)
			for g := range b.Weights {
				require.InDelta(t, (hp.Rho0[g]-hm.Rho0[g])/(2*step), h.ARho1[A][x][g], 1e-7)
				require.InDelta(t, (hp.Gamma[g]-hm.Gamma[g])/(2*step), h.AGamma1[A][x][g], 1e-7)
				for r := range 3 {
					require.InDelta(t, (hp.Rho1[r][g]-hm.Rho1[r][g])/(2*step), h.ARho2[A][x][r][g], 1e-7)
				}
			}
		}
	}

	// Moving every atom is moving the point the other way.
	for x := range 3 {
		for g := range b.Weights {
			var s float64
			for A := range mol.NAtm() {
				s += h.ARho1[A][x][g]
			}
			require.InDelta(t, -h.Rho1[x][g], s, 1e-12)
		}
	}
}

func TestBatches(t *testing.T) {
	t.Parallel()
	g := &Grids{Coords: make([][3]float64, 10), Weights: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	tests := []struct {
		blockSize int
		sizes     []int
	}{
		{blockSize: 4, sizes: []int{4, 4, 2}},
		{blockSize: 10, sizes: []int{10}},
		{blockSize: 0, sizes: []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d", test.blockSize), func(t *testing.T) {
			t.Parallel()
			sizes := make([]int, 0)
			var sum float64
			for b := range g.Batches(test.blockSize) {
				sizes = append(sizes, len(b.Weights))
				sum += floats.Sum(b.Weights)
			}
			require.Equal(t, test.sizes, sizes)
			require.Equal(t, 55.0, sum)
		})
	}
}

func TestAddWeighted(t *testing.T) {
	t.Parallel()
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewDense(2, 2, []float64{5, 6, 7, 8})
	dst := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	AddWeighted(dst, a, []float64{2, -1}, b)
	// a^T diag(2, -1) b + 1
	want := mat.NewDense(2, 2, []float64{1*2*5 - 3*7 + 1, 1*2*6 - 3*8 + 1, 2*2*5 - 4*7 + 1, 2*2*6 - 4*8 + 1})
	if !mat.EqualApprox(dst, want, 1e-12) {
		t.Fatalf("%v, expected %v", mat.Formatted(dst), mat.Formatted(want))
	}
}
