// Package grid builds atom centred molecular integration grids and evaluates densities on them.
//
// References:
//   - A multicenter numerical integration scheme for polyatomic molecules, A. D. Becke, J. Chem. Phys. 88, 2547 (1988)
package grid

import (
	"iter"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate/quad"

	"github.com/fumin/xdh/gto"
)

type Grids struct {
	Coords  [][3]float64
	Weights []float64
}

// Batch is a contiguous block of grid points.
type Batch struct {
	Coords  [][3]float64
	Weights []float64
}

// braggRadius in Angstrom. Becke uses the full value for hydrogen and half of it otherwise.
var braggRadius = map[int]float64{
	1: 0.35,
	2: 0.3,
}

// Build returns a Becke partitioned grid with radial shells of polar*2*polar angular points per atom.
func Build(mol *gto.Mole, radial, polar int) (*Grids, error) {
	if radial <= 0 || polar <= 0 {
		return nil, errors.Errorf("invalid grid size %d %d", radial, polar)
	}
	coords := mol.Coords()
	g := &Grids{}
	for A, z := range mol.Charges() {
		rm, ok := braggRadius[int(z)]
		if !ok {
			rm = 0.5
		}
		if z > 1 {
			rm /= 2
		}
		rm /= gto.BohrRadius

		rs, rw := radialGrid(radial, rm)
		dirs, aw := angularGrid(polar)
		for i, r := range rs {
			for j, d := range dirs {
				var p [3]float64
				for x := range 3 {
					p[x] = coords[A][x] + r*d[x]
				}
				w := rw[i] * aw[j] * beckeWeight(coords, A, p)
				if w == 0 {
					continue
				}
				g.Coords = append(g.Coords, p)
				g.Weights = append(g.Weights, w)
			}
		}
	}
	return g, nil
}

// radialGrid is the Gauss-Chebyshev quadrature of the second kind mapped by r = rm (1+x)/(1-x),
// with the r^2 volume element included in the weights.
func radialGrid(n int, rm float64) ([]float64, []float64) {
	rs, ws := make([]float64, n), make([]float64, n)
	for i := range n {
		theta := float64(i+1) * math.Pi / float64(n+1)
		x := math.Cos(theta)
		r := rm * (1 + x) / (1 - x)
		rs[i] = r
		ws[i] = math.Pi / float64(n+1) * math.Sin(theta) * r * r * 2 * rm / ((1 - x) * (1 - x))
	}
	return rs, ws
}

// angularGrid is a Gauss-Legendre product rule in cos(theta) times the trapezoidal rule in phi.
// The weights sum to 4 pi.
func angularGrid(polar int) ([][3]float64, []float64) {
	ct, ctw := make([]float64, polar), make([]float64, polar)
	quad.Legendre{}.FixedLocations(ct, ctw, -1, 1)

	nphi := 2 * polar
	dirs := make([][3]float64, 0, polar*nphi)
	ws := make([]float64, 0, polar*nphi)
	for i, c := range ct {
		s := math.Sqrt(1 - c*c)
		for k := range nphi {
			phi := 2 * math.Pi * (float64(k) + 0.5) / float64(nphi)
			dirs = append(dirs, [3]float64{s * math.Cos(phi), s * math.Sin(phi), c})
			ws = append(ws, ctw[i]*2*math.Pi/float64(nphi))
		}
	}
	return dirs, ws
}

// beckeWeight returns the fuzzy cell weight of atom A at point p.
func beckeWeight(coords [][3]float64, A int, p [3]float64) float64 {
	if len(coords) == 1 {
		return 1
	}
	dist := make([]float64, len(coords))
	for i, c := range coords {
		dist[i] = distance(p, c)
	}
	var total, own float64
	for i := range coords {
		cell := 1.0
		for j := range coords {
			if i == j {
				continue
			}
			mu := (dist[i] - dist[j]) / distance(coords[i], coords[j])
			cell *= cutoff(mu)
			if cell == 0 {
				break
			}
		}
		total += cell
		if i == A {
			own = cell
		}
	}
	if total == 0 {
		return 0
	}
	return own / total
}

// cutoff is Becke's step function s(mu) with three iterations, Eq. 19, 20.
func cutoff(mu float64) float64 {
	for range 3 {
		mu = 1.5*mu - 0.5*mu*mu*mu
	}
	return 0.5 * (1 - mu)
}

func distance(a, b [3]float64) float64 {
	var d float64
	for x := range 3 {
		d += (a[x] - b[x]) * (a[x] - b[x])
	}
	return math.Sqrt(d)
}

func (g *Grids) Len() int { return len(g.Weights) }

// Batches iterates over the grid in blocks of at most blockSize points.
func (g *Grids) Batches(blockSize int) iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		blockSize = max(blockSize, 1)
		for lo := 0; lo < len(g.Weights); lo += blockSize {
			hi := min(lo+blockSize, len(g.Weights))
			if !yield(Batch{Coords: g.Coords[lo:hi], Weights: g.Weights[lo:hi]}) {
				return
			}
		}
	}
}

// BlockSize returns the number of grid points whose intermediates fit in memMB megabytes,
// for a molecule of nao orbitals and natm atoms processing nset density matrices at once.
func BlockSize(nao, natm, nset int, memMB float64) int {
	perPoint := 13*nao + 3*natm*(5+4*nset) + 20*nset + 16
	n := int(memMB * 1e6 / float64(8*perPoint))
	return min(max(n, 1), 1<<20)
}
