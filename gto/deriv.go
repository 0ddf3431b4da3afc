package gto

import (
	"math"

	"github.com/fumin/xdh/tensor"
)

// IPOvlp returns (d/dx i|j), shaped (3, nao, nao).
func (m *Mole) IPOvlp() *tensor.Dense {
	return m.ip1e(func(g gaussPair, x int) float64 {
		return 2 * g.mu * g.AB[x] * g.ovlp()
	})
}

// IPKin returns (d/dx i|T|j), shaped (3, nao, nao).
func (m *Mole) IPKin() *tensor.Dense {
	return m.ip1e(func(g gaussPair, x int) float64 {
		return 2 * g.mu * g.mu * g.AB[x] * (5 - 2*g.mu*g.rab2) * g.ovlp()
	})
}

// IPNuc returns (d/dx i|V|j) where V is the nuclear attraction of all atoms, shaped (3, nao, nao).
func (m *Mole) IPNuc() *tensor.Dense {
	return m.ip1e(func(g gaussPair, x int) float64 {
		var v float64
		for c, a := range m.Atoms {
			v -= m.charges[c] * g.iprinv(a.Coord, x)
		}
		return v
	})
}

// IPRinv returns (d/dx i|1/|r-R||j) with R the position of atom, shaped (3, nao, nao).
func (m *Mole) IPRinv(atom int) *tensor.Dense {
	C := m.Atoms[atom].Coord
	return m.ip1e(func(g gaussPair, x int) float64 {
		return g.iprinv(C, x)
	})
}

// iprinv is minus the derivative of rinv with respect to the bra centre, with C fixed.
func (g gaussPair) iprinv(C [3]float64, x int) float64 {
	t := g.p * dist2(g.P, C)
	return g.cc * 2 * math.Pi / g.p * (2*g.mu*g.AB[x]*boys(0, t) + 2*g.a*(g.P[x]-C[x])*boys(1, t))
}

func (m *Mole) ip1e(f func(gaussPair, int) float64) *tensor.Dense {
	nao := m.NAO()
	out := tensor.Zeros(3, nao, nao)
	for ij, pp := range m.pairs() {
		for _, g := range pp {
			for x := range 3 {
				out.Data()[x*nao*nao+ij] += f(g, x)
			}
		}
	}
	return out
}

// IP2e returns (d/dx i j|k l), shaped (3, nao, nao, nao, nao).
func (m *Mole) IP2e() *tensor.Dense {
	nao := m.NAO()
	out := tensor.Zeros(3, nao, nao, nao, nao)
	m.int2e(out, func(dst []float64, bra, ket gaussPair) {
		K, t := eriPrefactor(bra, ket)
		f0, f1 := boys(0, t), boys(1, t)
		alpha := bra.p * ket.p / (bra.p + ket.p)
		for x := range 3 {
			dst[x] += K * (2*bra.mu*bra.AB[x]*f0 + 2*alpha*bra.a/bra.p*(bra.P[x]-ket.P[x])*f1)
		}
	})
	return out
}
