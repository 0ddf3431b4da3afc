package gto

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// AO holds atomic orbital values on grid points, one row per point and one column per orbital.
type AO struct {
	Value *mat.Dense
	// Grad[r] is the derivative along r.
	Grad [3]*mat.Dense
	// Hess[r][w] is the second derivative along r and w. Hess[r][w] and Hess[w][r] are the same matrix.
	Hess [3][3]*mat.Dense
}

// EvalAO evaluates the atomic orbitals and their derivatives up to order deriv (at most 2) on coords.
func (m *Mole) EvalAO(coords [][3]float64, deriv int) (*AO, error) {
	if deriv < 0 || deriv > 2 {
		return nil, errors.Errorf("deriv %d not in [0, 2]", deriv)
	}
	ng, nao := len(coords), m.NAO()
	ao := &AO{Value: mat.NewDense(ng, nao, nil)}
	if deriv >= 1 {
		for r := range 3 {
			ao.Grad[r] = mat.NewDense(ng, nao, nil)
		}
	}
	if deriv >= 2 {
		for r := range 3 {
			for w := r; w < 3; w++ {
				ao.Hess[r][w] = mat.NewDense(ng, nao, nil)
				ao.Hess[w][r] = ao.Hess[r][w]
			}
		}
	}

	for g, c := range coords {
		for u, s := range m.shells {
			var d [3]float64
			for x := range 3 {
				d[x] = c[x] - s.center[x]
			}
			r2 := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]

			// e0 = sum c exp(-a r2), e1 = sum c a exp(-a r2), e2 = sum c a^2 exp(-a r2).
			var e0, e1, e2 float64
			for k, a := range s.exps {
				e := s.coefs[k] * math.Exp(-a*r2)
				e0 += e
				e1 += a * e
				e2 += a * a * e
			}
			ao.Value.Set(g, u, e0)
			if deriv < 1 {
				continue
			}
			for r := range 3 {
				ao.Grad[r].Set(g, u, -2*d[r]*e1)
			}
			if deriv < 2 {
				continue
			}
			for r := range 3 {
				for w := r; w < 3; w++ {
					v := 4 * d[r] * d[w] * e2
					if r == w {
						v -= 2 * e1
					}
					ao.Hess[r][w].Set(g, u, v)
				}
			}
		}
	}
	return ao, nil
}
