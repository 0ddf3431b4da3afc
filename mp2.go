package xdh

import (
	"github.com/pkg/errors"

	"github.com/fumin/xdh/tensor"
)

// MP2 holds the intermediates of the second order correlation energy
//
//	E_corr = sum_iajb T_iajb (ia|jb),  T_iajb = cc ((os + ss) t_iajb - ss t_ibja),
//
// and of its orbital relaxation. When nc is not nil, the Lagrangian also carries the response of the
// non-consistent functional of nc.
type MP2 struct {
	*Deriv
	nc *Deriv
}

func (m *MP2) key(name string) string {
	if m.nc != nil {
		return name + "_xdh"
	}
	return name
}

// ovov returns the (occupied, virtual, occupied, virtual) block of the electron repulsion integrals.
func (m *MP2) ovov() (*tensor.Dense, error) {
	return m.ints.get("eri0_mo_ovov", func() (*tensor.Dense, error) {
		eri, err := m.ERI0MO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		o, v := m.Occ(), m.Vir()
		return eri.Slice([][2]int{{o.Lo, o.Hi}, {v.Lo, v.Hi}, {o.Lo, o.Hi}, {v.Lo, v.Hi}}), nil
	})
}

// Amplitudes returns t_iajb = (ia|jb) / (e_i - e_a + e_j - e_b).
func (m *MP2) Amplitudes() (*tensor.Dense, error) {
	return m.resp.get("t_iajb", func() (*tensor.Dense, error) {
		g, err := m.ovov()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		no, nv := m.nocc, m.nmo-m.nocc
		eo, ev := m.e[:no], m.e[no:]
		t := g.Clone()
		td := t.Data()
		p := 0
		for i := range no {
			for a := range nv {
				for j := range no {
					for b := range nv {
						td[p] /= eo[i] - ev[a] + eo[j] - ev[b]
						p++
					}
				}
			}
		}
		return t, nil
	})
}

// ScaledAmplitudes returns T_iajb = cc ((os + ss) t_iajb - ss t_ibja).
func (m *MP2) ScaledAmplitudes() (*tensor.Dense, error) {
	return m.resp.get("T_iajb", func() (*tensor.Dense, error) {
		t, err := m.Amplitudes()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		cfg := m.cfg
		tt := t.Clone().Scale(cfg.OS + cfg.SS)
		tt.AddScaled(-cfg.SS, t.Transpose(0, 3, 2, 1))
		return tt.Scale(cfg.CC), nil
	})
}

// ECorr returns the correlation energy.
func (m *MP2) ECorr() (float64, error) {
	tt, err := m.ScaledAmplitudes()
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	g, err := m.ovov()
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return tt.Dot(g), nil
}

// Lagrangian returns the right hand side of the CPHF equations of the virtual-occupied block of the
// relaxed density, shaped (nvir, nocc).
func (m *MP2) Lagrangian() (*tensor.Dense, error) {
	return m.resp.get(m.key("L"), func() (*tensor.Dense, error) {
		tt, err := m.ScaledAmplitudes()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		dr, err := m.unrelaxedDensity()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		eri, err := m.ERI0MO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		o, v := m.Occ(), m.Vir()
		oovo := eri.Slice([][2]int{{o.Lo, o.Hi}, {o.Lo, o.Hi}, {v.Lo, v.Hi}, {o.Lo, o.Hi}})
		vvov := eri.Slice([][2]int{{v.Lo, v.Hi}, {v.Lo, v.Hi}, {o.Lo, o.Hi}, {v.Lo, v.Hi}})

		l, err := m.Ax0Core(v, o, m.All(), m.All())(dr)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		l.AddScaled(-4, tensor.Product(nil, tt, oovo, [][2]int{{0, 1}, {2, 3}, {3, 2}}))
		l.AddScaled(4, tensor.Product(nil, vvov, tt, [][2]int{{1, 1}, {2, 2}, {3, 3}}))

		if m.nc != nil {
			f, err := m.nc.F0MO()
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			l.AddScaled(4, f.Slice([][2]int{{v.Lo, v.Hi}, {o.Lo, o.Hi}}))
		}
		return l, nil
	})
}

// unrelaxedDensity returns the occupied-occupied and virtual-virtual blocks of the relaxed density.
func (m *MP2) unrelaxedDensity() (*tensor.Dense, error) {
	return m.resp.get("D_r_oovv", func() (*tensor.Dense, error) {
		tt, err := m.ScaledAmplitudes()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		t, err := m.Amplitudes()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		o, v := m.Occ(), m.Vir()
		dr := tensor.Zeros(m.nmo, m.nmo)
		dr.AddSlice([][2]int{{o.Lo, o.Hi}, {o.Lo, o.Hi}}, -2, tensor.Product(nil, tt, t, [][2]int{{1, 1}, {2, 2}, {3, 3}}))
		dr.AddSlice([][2]int{{v.Lo, v.Hi}, {v.Lo, v.Hi}}, 2, tensor.Product(nil, tt, t, [][2]int{{0, 0}, {2, 2}, {3, 3}}))
		return dr, nil
	})
}

// RelaxedDensity returns the relaxed density in the molecular orbital basis, shaped (nmo, nmo).
// Its occupied-virtual block is zero.
func (m *MP2) RelaxedDensity() (*tensor.Dense, error) {
	return m.resp.get(m.key("D_r"), func() (*tensor.Dense, error) {
		l, err := m.Lagrangian()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		dr, err := m.unrelaxedDensity()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		vo, err := m.SolveCPHF(l)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		o, v := m.Occ(), m.Vir()
		dr = dr.Clone()
		dr.AddSlice([][2]int{{v.Lo, v.Hi}, {o.Lo, o.Hi}}, 1, vo)
		return dr, nil
	})
}

// WeightedDensity returns the energy weighted density, shaped (nmo, nmo).
func (m *MP2) WeightedDensity() (*tensor.Dense, error) {
	return m.resp.get("W_I", func() (*tensor.Dense, error) {
		tt, err := m.ScaledAmplitudes()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		g, err := m.ovov()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		eri, err := m.ERI0MO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		o, v := m.Occ(), m.Vir()
		oovo := eri.Slice([][2]int{{o.Lo, o.Hi}, {o.Lo, o.Hi}, {v.Lo, v.Hi}, {o.Lo, o.Hi}})

		w := tensor.Zeros(m.nmo, m.nmo)
		w.AddSlice([][2]int{{o.Lo, o.Hi}, {o.Lo, o.Hi}}, -2, tensor.Product(nil, tt, g, [][2]int{{1, 1}, {2, 2}, {3, 3}}))
		w.AddSlice([][2]int{{v.Lo, v.Hi}, {v.Lo, v.Hi}}, -2, tensor.Product(nil, tt, g, [][2]int{{0, 0}, {2, 2}, {3, 3}}))
		w.AddSlice([][2]int{{v.Lo, v.Hi}, {o.Lo, o.Hi}}, -4, tensor.Product(nil, tt, oovo, [][2]int{{0, 1}, {2, 3}, {3, 2}}))
		return w, nil
	})
}

// MP2Correction returns the gradient of the correlation energy, including the orbital relaxation,
//
//	D_r . B_1 + W_I . S_1 + 2 T . (ia|jb)^A,
//
// shaped (natm, 3).
func MP2Correction(m *MP2) (*tensor.Dense, error) {
	dr, err := m.RelaxedDensity()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	w, err := m.WeightedDensity()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	tt, err := m.ScaledAmplitudes()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	b1, err := m.B1()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	s1, err := m.S1MO()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	eri1, err := m.ERI1MOOVOV()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	e1 := tensor.Product(nil, b1, dr, [][2]int{{1, 0}, {2, 1}})
	e1.Add(tensor.Product(nil, s1, w, [][2]int{{1, 0}, {2, 1}}))
	e1.AddScaled(2, tensor.Product(nil, eri1, tt, [][2]int{{1, 0}, {2, 1}, {3, 2}, {4, 3}}))
	return perAtom(e1), nil
}

// GradMP2 is the gradient of MP2, or of a doubly hybrid functional whose correlation is evaluated on
// its own self-consistent orbitals.
type GradMP2 struct {
	*MP2
}

func NewGradMP2(cfg Config) (*GradMP2, error) {
	d, err := NewDeriv(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &GradMP2{MP2: &MP2{Deriv: d}}, nil
}

func (g *GradMP2) E1() (*tensor.Dense, error) {
	e1, err := MP2Correction(g.MP2)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	base, err := BaseGradient(g.Deriv)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return e1.Add(base), nil
}

func (g *GradMP2) Eng() (float64, error) {
	ec, err := g.ECorr()
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return g.cfg.SCF.ETot + ec, nil
}
