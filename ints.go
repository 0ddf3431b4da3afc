package xdh

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/tensor"
	"github.com/fumin/xdh/xc"
)

// H1AO returns the derivative of the core Hamiltonian, shaped (natm*3, nao, nao).
func (d *Deriv) H1AO() (*tensor.Dense, error) {
	return d.ints.get("H_1_ao", func() (*tensor.Dense, error) {
		natm, nao := d.mol.NAtm(), d.nao
		h := d.mol.IPKin().Add(d.mol.IPNuc())
		charges := d.mol.Charges()
		out := tensor.Zeros(natm, 3, nao, nao)
		for A, sA := range d.aoSlices {
			// The operator -Z_A/|r-R_A| moves with the nucleus, the basis functions on A move with it.
			m := d.mol.IPRinv(A).Scale(-charges[A])
			rows := [][2]int{{0, 3}, sA}
			m.AddSlice(rows, -1, h.Slice(rows))
			out.Sub(A).Add(m).Add(m.T())
		}
		return out.Reshape(natm*3, nao, nao), nil
	})
}

// S1AO returns the derivative of the overlap matrix, shaped (natm*3, nao, nao).
func (d *Deriv) S1AO() (*tensor.Dense, error) {
	return d.ints.get("S_1_ao", func() (*tensor.Dense, error) {
		natm, nao := d.mol.NAtm(), d.nao
		ip := d.mol.IPOvlp()
		out := tensor.Zeros(natm, 3, nao, nao)
		for A, sA := range d.aoSlices {
			m := tensor.Zeros(3, nao, nao)
			rows := [][2]int{{0, 3}, sA}
			m.AddSlice(rows, -1, ip.Slice(rows))
			out.Sub(A).Add(m).Add(m.T())
		}
		return out.Reshape(natm*3, nao, nao), nil
	})
}

// S1MO returns S1AO in the molecular orbital basis.
func (d *Deriv) S1MO() (*tensor.Dense, error) {
	return d.ints.get("S_1_mo", func() (*tensor.Dense, error) {
		s1, err := d.S1AO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		c := d.coeff(d.All())
		return toMO(s1, c, c), nil
	})
}

// IP2e returns (d/dx i j|k l), shaped (3, nao, nao, nao, nao).
func (d *Deriv) IP2e() (*tensor.Dense, error) {
	return d.ints.get("int2e_ip1", func() (*tensor.Dense, error) {
		return d.mol.IP2e(), nil
	})
}

// ERI1AO returns the derivative of the electron repulsion integrals, shaped (natm*3, nao, nao, nao, nao).
// Each of the four basis functions may sit on the displaced atom.
func (d *Deriv) ERI1AO() (*tensor.Dense, error) {
	return d.ints.get("eri1_ao", func() (*tensor.Dense, error) {
		ip, err := d.IP2e()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		natm, nao := d.mol.NAtm(), d.nao
		out := tensor.Zeros(natm, 3, nao, nao, nao, nao)
		legs := [][]int{{0, 1, 2, 3, 4}, {0, 2, 1, 3, 4}, {0, 3, 4, 1, 2}, {0, 3, 4, 2, 1}}
		for A, sA := range d.aoSlices {
			e := tensor.Zeros(3, nao, nao, nao, nao)
			rows := [][2]int{{0, 3}, sA}
			e.AddSlice(rows, -1, ip.Slice(rows))
			outA := out.Sub(A)
			for _, axes := range legs {
				outA.Add(e.Transpose(axes...))
			}
		}
		return out.Reshape(natm*3, nao, nao, nao, nao), nil
	})
}

// ERI0MO returns the electron repulsion integrals in the molecular orbital basis.
func (d *Deriv) ERI0MO() (*tensor.Dense, error) {
	return d.ints.get("eri0_mo", func() (*tensor.Dense, error) {
		nao, nmo := d.nao, d.nmo
		c := d.coeff(d.All())
		eri := d.solver.ERI().Reshape(1, nao, nao, nao, nao)
		return eriToMO(eri, [4]*tensor.Dense{c, c, c, c}).Reshape(nmo, nmo, nmo, nmo), nil
	})
}

// ERI1MOOVOV returns the (occupied, virtual, occupied, virtual) block of the derivative of the
// electron repulsion integrals in the molecular orbital basis.
func (d *Deriv) ERI1MOOVOV() (*tensor.Dense, error) {
	return d.ints.get("eri1_mo_ovov", func() (*tensor.Dense, error) {
		eri1, err := d.ERI1AO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		co, cv := d.coeff(d.Occ()), d.coeff(d.Vir())
		return eriToMO(eri1, [4]*tensor.Dense{co, cv, co, cv}), nil
	})
}

// F1AO returns the derivative of the Fock matrix with the density matrix held fixed,
// shaped (natm*3, nao, nao).
func (d *Deriv) F1AO() (*tensor.Dense, error) {
	return d.resp.get("F_1_ao", func() (*tensor.Dense, error) {
		h1, err := d.H1AO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		eri1, err := d.ERI1AO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		dm := tensor.FromMat(d.d)
		cx := d.xc.HybridCoeff()
		j := tensor.Product(nil, eri1, dm, [][2]int{{3, 0}, {4, 1}})
		k := tensor.Product(nil, eri1, dm, [][2]int{{2, 0}, {4, 1}})
		f1 := h1.Clone().Add(j).AddScaled(-cx/2, k)

		if d.xc.Type() == xc.GGA {
			if err := d.addVxcSkeleton(f1); err != nil {
				return nil, errors.Wrap(err, "")
			}
		}
		return f1, nil
	})
}

// addVxcSkeleton adds the derivative of the exchange-correlation potential at fixed density.
func (d *Deriv) addVxcSkeleton(f1 *tensor.Dense) error {
	natm, nao := d.mol.NAtm(), d.nao
	acc := make([]*mat.Dense, natm*3)
	for i := range acc {
		acc[i] = mat.NewDense(nao, nao, nil)
	}
	for b := range d.grids.Batches(d.blockSize(1)) {
		h, err := grid.NewHelper(d.mol, b, d.d, 2)
		if err != nil {
			return errors.Wrap(err, "")
		}
		k := d.xc.Kernel(h.Rho0, h.Gamma, h.Weights)
		motion := aoMotion(h.AO, potentialWeights(k, h.Rho1))
		for A, sA := range d.aoSlices {
			for t := range 3 {
				a := acc[3*A+t]
				addPotential(a, h.AO, potentialWeightsDeriv(k, h.Rho1, h.ARho1[A][t], h.ARho2[A][t]))
				addRows(a, motion[t], sA)
			}
		}
		d.logger.Printf("F_1_ao grid batch of %d points", h.NPoints())
	}
	for i, a := range acc {
		a.Add(a, a.T())
		f1m := f1.Sub(i).Mat()
		f1m.Add(f1m, a)
	}
	return nil
}

// F1MO returns F1AO in the molecular orbital basis.
func (d *Deriv) F1MO() (*tensor.Dense, error) {
	return d.resp.get("F_1_mo", func() (*tensor.Dense, error) {
		f1, err := d.F1AO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		c := d.coeff(d.All())
		return toMO(f1, c, c), nil
	})
}
