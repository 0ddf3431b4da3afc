package grid

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/gto"
)

// Helper holds the density of a batch of grid points together with its derivatives.
// A in the names below denotes the derivative with respect to the coordinates of an atom,
// entering through the atomic orbitals centred on it with the density matrix held fixed.
type Helper struct {
	AO      *gto.AO
	Weights []float64

	// Rho0 is rho(g).
	Rho0 []float64
	// Rho1 is d rho / dr, indexed (r, g).
	Rho1 [3][]float64
	// Gamma is |grad rho|^2.
	Gamma []float64
	// ARho1 is d rho / dA_t, indexed (A, t, g).
	ARho1 [][3][]float64
	// ARho2 is d^2 rho / dA_t dr, indexed (A, t, r, g).
	ARho2 [][3][3][]float64
	// AGamma1 is d gamma / dA_t, indexed (A, t, g).
	AGamma1 [][3][]float64

	aoSlices [][2]int
}

// NewHelper evaluates the density dm on a batch.
// deriv 1 gives Rho0, Rho1 and Gamma, deriv 2 additionally the atomic derivatives.
func NewHelper(mol *gto.Mole, b Batch, dm mat.Matrix, deriv int) (*Helper, error) {
	if deriv < 1 || deriv > 2 {
		return nil, errors.Errorf("deriv %d not in [1, 2]", deriv)
	}
	ao, err := mol.EvalAO(b.Coords, deriv)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	h := &Helper{AO: ao, Weights: b.Weights, aoSlices: mol.AOSliceByAtom()}

	h.Rho0 = h.GetRho0(dm)
	h.Rho1 = h.GetRho1(dm)
	h.Gamma = make([]float64, len(h.Rho0))
	for g := range h.Gamma {
		for r := range 3 {
			h.Gamma[g] += h.Rho1[r][g] * h.Rho1[r][g]
		}
	}
	if deriv < 2 {
		return h, nil
	}

	h.ARho1 = h.GetARho1(dm)
	h.ARho2 = h.GetARho2(dm)
	h.AGamma1 = make([][3][]float64, len(h.aoSlices))
	for A := range h.aoSlices {
		for t := range 3 {
			ag := make([]float64, len(h.Rho0))
			for g := range ag {
				for r := range 3 {
					ag[g] += 2 * h.Rho1[r][g] * h.ARho2[A][t][r][g]
				}
			}
			h.AGamma1[A][t] = ag
		}
	}
	return h, nil
}

func (h *Helper) NPoints() int { return len(h.Weights) }

// contractRows returns, for every point g, sum_u a[g, u] b[g, u] over u in [lo, hi).
func contractRows(a, b *mat.Dense, lo, hi int) []float64 {
	n, _ := a.Dims()
	out := make([]float64, n)
	ar, br := a.RawMatrix(), b.RawMatrix()
	for g := range n {
		ra := ar.Data[g*ar.Stride+lo : g*ar.Stride+hi]
		rb := br.Data[g*br.Stride+lo : g*br.Stride+hi]
		var s float64
		for u, v := range ra {
			s += v * rb[u]
		}
		out[g] = s
	}
	return out
}

// dmAO returns ao . dm^T, so that element (g, u) is sum_v dm[u, v] ao[g, v].
func dmAO(ao *mat.Dense, dm mat.Matrix) *mat.Dense {
	var y mat.Dense
	y.Mul(ao, dm.T())
	return &y
}

// GetRho0 returns sum_uv dm[u, v] phi_u phi_v.
func (h *Helper) GetRho0(dm mat.Matrix) []float64 {
	_, nao := h.AO.Value.Dims()
	return contractRows(h.AO.Value, dmAO(h.AO.Value, dm), 0, nao)
}

// GetRho1 returns 2 sum_uv dm[u, v] d_r phi_u phi_v, indexed (r, g).
func (h *Helper) GetRho1(dm mat.Matrix) [3][]float64 {
	_, nao := h.AO.Value.Dims()
	y := dmAO(h.AO.Value, dm)
	var rho1 [3][]float64
	for r := range 3 {
		rho1[r] = contractRows(h.AO.Grad[r], y, 0, nao)
		floats.Scale(2, rho1[r])
	}
	return rho1
}

// GetARho1 returns -2 sum_(u in A) sum_v dm[u, v] d_t phi_u phi_v, indexed (A, t, g).
func (h *Helper) GetARho1(dm mat.Matrix) [][3][]float64 {
	y := dmAO(h.AO.Value, dm)
	out := make([][3][]float64, len(h.aoSlices))
	for A, sA := range h.aoSlices {
		for t := range 3 {
			out[A][t] = contractRows(h.AO.Grad[t], y, sA[0], sA[1])
			floats.Scale(-2, out[A][t])
		}
	}
	return out
}

// GetARho2 returns -2 sum_(u in A) sum_v dm[u, v] (d_t d_r phi_u phi_v + d_t phi_u d_r phi_v), indexed (A, t, r, g).
func (h *Helper) GetARho2(dm mat.Matrix) [][3][3][]float64 {
	y := dmAO(h.AO.Value, dm)
	var yr [3]*mat.Dense
	for r := range 3 {
		yr[r] = dmAO(h.AO.Grad[r], dm)
	}
	out := make([][3][3][]float64, len(h.aoSlices))
	for A, sA := range h.aoSlices {
		for t := range 3 {
			for r := range 3 {
				a := contractRows(h.AO.Hess[t][r], y, sA[0], sA[1])
				b := contractRows(h.AO.Grad[t], yr[r], sA[0], sA[1])
				for g := range a {
					a[g] = -2 * (a[g] + b[g])
				}
				out[A][t][r] = a
			}
		}
	}
	return out
}

// AddWeighted adds a^T diag(w) b to dst, where a and b are (g, nao) grid matrices.
func AddWeighted(dst *mat.Dense, a *mat.Dense, w []float64, b *mat.Dense) {
	var wb mat.Dense
	wb.Apply(func(g, _ int, v float64) float64 { return w[g] * v }, b)
	var p mat.Dense
	p.Mul(a.T(), &wb)
	dst.Add(dst, &p)
}
