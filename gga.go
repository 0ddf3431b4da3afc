package xdh

import (
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/gto"
	"github.com/fumin/xdh/xc"
)

// weights are the grid weights of a GGA potential matrix
//
//	sum_g m0 phi_u phi_v + m1[r] d_r phi_u phi_v,
//
// which is symmetrized by the caller.
type weights struct {
	m0 []float64
	m1 [3][]float64
}

func newWeights(n int) weights {
	w := weights{m0: make([]float64, n)}
	for r := range 3 {
		w.m1[r] = make([]float64, n)
	}
	return w
}

// dot3 returns a . b for every grid point.
func dot3(a, b [3][]float64) []float64 {
	out := make([]float64, len(a[0]))
	for r := range 3 {
		for g, v := range a[r] {
			out[g] += v * b[r][g]
		}
	}
	return out
}

// potentialWeights are the weights of the exchange-correlation potential.
func potentialWeights(k *xc.Kernel, rho1 [3][]float64) weights {
	w := newWeights(len(k.Fr))
	for g, fr := range k.Fr {
		w.m0[g] = fr / 2
		for r := range 3 {
			w.m1[r][g] = 2 * k.Fg[g] * rho1[r][g]
		}
	}
	return w
}

// potentialWeightsDeriv returns the change of potentialWeights when rho and its gradient change by
// drho and drho1.
func potentialWeightsDeriv(k *xc.Kernel, rho1 [3][]float64, drho []float64, drho1 [3][]float64) weights {
	w := newWeights(len(k.Fr))
	for g := range k.Fr {
		var dgamma float64
		for r := range 3 {
			dgamma += 2 * rho1[r][g] * drho1[r][g]
		}
		dfr := k.Frr[g]*drho[g] + k.Frg[g]*dgamma
		dfg := k.Frg[g]*drho[g] + k.Fgg[g]*dgamma
		w.m0[g] = dfr / 2
		for r := range 3 {
			w.m1[r][g] = 2*dfg*rho1[r][g] + 2*k.Fg[g]*drho1[r][g]
		}
	}
	return w
}

// fxcWeights are the weights of the exchange-correlation kernel acting on a trial density of value
// rhoX and gradient rhoX1.
func fxcWeights(k *xc.Kernel, rho1 [3][]float64, rhoX []float64, rhoX1 [3][]float64) weights {
	w := newWeights(len(k.Fr))
	s := dot3(rho1, rhoX1)
	for g := range k.Fr {
		w.m0[g] = k.Frr[g]*rhoX[g] + 2*k.Frg[g]*s[g]
		for r := range 3 {
			w.m1[r][g] = 4*k.Frg[g]*rhoX[g]*rho1[r][g] + 8*k.Fgg[g]*s[g]*rho1[r][g] + 4*k.Fg[g]*rhoX1[r][g]
		}
	}
	return w
}

// densityChange is a first order change of a density and its gradient on a batch.
type densityChange struct {
	rho  []float64
	rho1 [3][]float64
}

// fxcWeightsDeriv returns the change of fxcWeights when the ground state density changes by dg and
// the trial density by dx.
func fxcWeightsDeriv(k *xc.Kernel, rho1 [3][]float64, rhoX []float64, rhoX1 [3][]float64, dg, dx densityChange) weights {
	w := newWeights(len(k.Fr))
	s := dot3(rho1, rhoX1)
	ds1 := dot3(dg.rho1, rhoX1)
	ds2 := dot3(rho1, dx.rho1)
	for g := range k.Fr {
		var dgamma float64
		for r := range 3 {
			dgamma += 2 * rho1[r][g] * dg.rho1[r][g]
		}
		dfrr := k.Frrr[g]*dg.rho[g] + k.Frrg[g]*dgamma
		dfrg := k.Frrg[g]*dg.rho[g] + k.Frgg[g]*dgamma
		dfgg := k.Frgg[g]*dg.rho[g] + k.Fggg[g]*dgamma
		dfg := k.Frg[g]*dg.rho[g] + k.Fgg[g]*dgamma
		ds := ds1[g] + ds2[g]

		w.m0[g] = dfrr*rhoX[g] + k.Frr[g]*dx.rho[g] + 2*dfrg*s[g] + 2*k.Frg[g]*ds
		for r := range 3 {
			w.m1[r][g] = 4*dfrg*rhoX[g]*rho1[r][g] +
				4*k.Frg[g]*(dx.rho[g]*rho1[r][g]+rhoX[g]*dg.rho1[r][g]) +
				8*dfgg*s[g]*rho1[r][g] +
				8*k.Fgg[g]*(ds*rho1[r][g]+s[g]*dg.rho1[r][g]) +
				4*dfg*rhoX1[r][g] +
				4*k.Fg[g]*dx.rho1[r][g]
		}
	}
	return w
}

// addPotential adds the unsymmetrized potential matrix of w to dst.
func addPotential(dst *mat.Dense, ao *gto.AO, w weights) {
	grid.AddWeighted(dst, ao.Value, w.m0, ao.Value)
	for r := range 3 {
		grid.AddWeighted(dst, ao.Grad[r], w.m1[r], ao.Value)
	}
}

// aoMotion returns, for every direction t, the change of the unsymmetrized potential matrix of w
// when all orbitals move along t. Only the rows of the orbitals on the moving atom apply.
func aoMotion(ao *gto.AO, w weights) [3]*mat.Dense {
	_, nao := ao.Value.Dims()
	m0 := make([]float64, len(w.m0))
	for g, v := range w.m0 {
		m0[g] = -2 * v
	}
	var m1 [3][]float64
	for r := range 3 {
		m1[r] = make([]float64, len(w.m0))
		for g, v := range w.m1[r] {
			m1[r][g] = -v
		}
	}

	var out [3]*mat.Dense
	for t := range 3 {
		dst := mat.NewDense(nao, nao, nil)
		grid.AddWeighted(dst, ao.Grad[t], m0, ao.Value)
		for r := range 3 {
			grid.AddWeighted(dst, ao.Hess[t][r], m1[r], ao.Value)
			grid.AddWeighted(dst, ao.Grad[t], m1[r], ao.Grad[r])
		}
		out[t] = dst
	}
	return out
}

// addRows adds the rows [s[0], s[1]) of src to dst.
func addRows(dst, src *mat.Dense, s [2]int) {
	if s[0] == s[1] {
		return
	}
	_, n := dst.Dims()
	d := dst.Slice(s[0], s[1], 0, n).(*mat.Dense)
	d.Add(d, src.Slice(s[0], s[1], 0, n))
}
