package gto

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mathext"

	"github.com/fumin/xdh/tensor"
)

// gaussPair holds the Gaussian product of two primitives a and b centred at A and B.
type gaussPair struct {
	// a is the exponent of the bra primitive.
	a float64
	// p = a + b, mu = ab/p.
	p, mu float64
	P     [3]float64
	// AB = A - B.
	AB   [3]float64
	rab2 float64
	// cc is the product of contraction coefficients times exp(-mu rab2).
	cc float64
}

// pairs returns the primitive pairs of every shell pair, indexed by i*nao+j.
func (m *Mole) pairs() [][]gaussPair {
	nao := m.NAO()
	ps := make([][]gaussPair, nao*nao)
	for i, si := range m.shells {
		for j, sj := range m.shells {
			pp := make([]gaussPair, 0, len(si.exps)*len(sj.exps))
			for k, a := range si.exps {
				for l, b := range sj.exps {
					var g gaussPair
					g.a = a
					g.p = a + b
					g.mu = a * b / g.p
					for x := range 3 {
						g.P[x] = (a*si.center[x] + b*sj.center[x]) / g.p
						g.AB[x] = si.center[x] - sj.center[x]
					}
					g.rab2 = dist2(si.center, sj.center)
					g.cc = si.coefs[k] * sj.coefs[l] * math.Exp(-g.mu*g.rab2)
					pp = append(pp, g)
				}
			}
			ps[i*nao+j] = pp
		}
	}
	return ps
}

func (g gaussPair) ovlp() float64 {
	return g.cc * math.Pow(math.Pi/g.p, 1.5)
}

// Ovlp returns the overlap matrix.
func (m *Mole) Ovlp() *tensor.Dense {
	return m.int1e(func(g gaussPair) float64 { return g.ovlp() })
}

// Kin returns the kinetic energy matrix.
func (m *Mole) Kin() *tensor.Dense {
	return m.int1e(func(g gaussPair) float64 {
		return g.mu * (3 - 2*g.mu*g.rab2) * g.ovlp()
	})
}

// Nuc returns the nuclear attraction matrix.
func (m *Mole) Nuc() *tensor.Dense {
	return m.int1e(func(g gaussPair) float64 {
		var v float64
		for c, a := range m.Atoms {
			v -= m.charges[c] * g.rinv(a.Coord)
		}
		return v
	})
}

// Hcore returns the core Hamiltonian Kin + Nuc.
func (m *Mole) Hcore() *tensor.Dense {
	return m.Kin().Add(m.Nuc())
}

// rinv returns (a|1/|r-C||b).
func (g gaussPair) rinv(C [3]float64) float64 {
	return g.cc * 2 * math.Pi / g.p * boys(0, g.p*dist2(g.P, C))
}

func (m *Mole) int1e(f func(gaussPair) float64) *tensor.Dense {
	nao := m.NAO()
	out := tensor.Zeros(nao, nao)
	for ij, pp := range m.pairs() {
		for _, g := range pp {
			out.Data()[ij] += f(g)
		}
	}
	return out
}

// ERI returns the two-electron repulsion integrals (ij|kl) in chemists' notation, shaped (nao, nao, nao, nao).
func (m *Mole) ERI() *tensor.Dense {
	nao := m.NAO()
	out := tensor.Zeros(nao, nao, nao, nao)
	m.int2e(out, func(dst []float64, bra, ket gaussPair) {
		K, t := eriPrefactor(bra, ket)
		dst[0] += K * boys(0, t)
	})
	return out
}

// eriPrefactor returns the prefactor of a primitive ERI and the argument of its Boys functions.
func eriPrefactor(bra, ket gaussPair) (float64, float64) {
	pq := bra.p + ket.p
	K := 2 * math.Pow(math.Pi, 2.5) / (bra.p * ket.p * math.Sqrt(pq)) * bra.cc * ket.cc
	alpha := bra.p * ket.p / pq
	return K, alpha * dist2(bra.P, ket.P)
}

// int2e evaluates a primitive ERI kernel over all shell quartets.
// The kernel accumulates into dst, whose elements are strided by nao^4 for multi-component integrals.
func (m *Mole) int2e(out *tensor.Dense, f func(dst []float64, bra, ket gaussPair)) {
	nao := m.NAO()
	n4 := nao * nao * nao * nao
	ncomp := out.Size() / n4
	ps := m.pairs()

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range nao {
		g.Go(func() error {
			dst := make([]float64, ncomp)
			for j := range nao {
				for k := range nao {
					for l := range nao {
						clear(dst)
						for _, bra := range ps[i*nao+j] {
							for _, ket := range ps[k*nao+l] {
								f(dst, bra, ket)
							}
						}
						ijkl := ((i*nao+j)*nao+k)*nao + l
						for c, v := range dst {
							out.Data()[c*n4+ijkl] = v
						}
					}
				}
			}
			return nil
		})
	}
	g.Wait()
}

// boys returns the Boys function F_n(t).
func boys(n int, t float64) float64 {
	nh := float64(n) + 0.5
	if t < 1e-7 {
		return 1/(2*nh) - t/(2*nh+2)
	}
	return mathext.GammaIncReg(nh, t) * math.Gamma(nh) / (2 * math.Pow(t, nh))
}
