package xdh

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/tensor"
	"github.com/fumin/xdh/xc"
)

// An Operator maps a batch of trial matrices to their responses.
// A nil trial gives the scalar zero.
type Operator func(x *tensor.Dense) (*tensor.Dense, error)

// Ax0Core returns the response of the Fock matrix to a change of the density,
//
//	2 J(X~) - cx K(X~) + f_xc(X~),  X~ = C_sk X C_sl^T + transpose,
//
// projected to C_si^T . C_sj. When sk and sl are omitted, X is already in the AO basis.
// When si and sj are omitted, the response is returned in the AO basis.
// X has shape (..., len(sk), len(sl)) and the response (..., len(si), len(sj)).
func (d *Deriv) Ax0Core(si, sj, sk, sl Span) Operator {
	return d.ax0Core(d.grids, si, sj, sk, sl)
}

func (d *Deriv) ax0Core(grids *grid.Grids, si, sj, sk, sl Span) Operator {
	return func(x *tensor.Dense) (*tensor.Dense, error) {
		if x == nil {
			return tensor.Scalar(0), nil
		}
		xs, lead, err := d.trialDensities(x, sk, sl)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}

		cx := d.xc.HybridCoeff()
		out := make([]*mat.Dense, len(xs))
		for i, xt := range xs {
			j, k := d.solver.JK(xt)
			var ax mat.Dense
			ax.Scale(2, j)
			if cx != 0 {
				k.Scale(cx, k)
				ax.Sub(&ax, k)
			}
			out[i] = &ax
		}
		if d.xc.Type() == xc.GGA {
			if err := d.addFxc(out, grids, xs); err != nil {
				return nil, errors.Wrap(err, "")
			}
		}

		res, err := d.project(stack(out, []int{len(out)}), si, sj)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		r := res.Shape()
		return res.Reshape(append(lead, r[1], r[2])...), nil
	}
}

// addFxc adds the exchange-correlation kernel acting on the trial densities xs.
func (d *Deriv) addFxc(out []*mat.Dense, grids *grid.Grids, xs []*mat.Dense) error {
	acc := make([]*mat.Dense, len(xs))
	for i := range acc {
		acc[i] = mat.NewDense(d.nao, d.nao, nil)
	}
	for b := range grids.Batches(d.blockSize(len(xs))) {
		h, err := grid.NewHelper(d.mol, b, d.d, 1)
		if err != nil {
			return errors.Wrap(err, "")
		}
		k := d.xc.Kernel(h.Rho0, h.Gamma, h.Weights)
		for i, x := range xs {
			addPotential(acc[i], h.AO, fxcWeights(k, h.Rho1, h.GetRho0(x), h.GetRho1(x)))
		}
	}
	for i, a := range acc {
		out[i].Add(out[i], a)
		out[i].Add(out[i], a.T())
	}
	return nil
}

// Ax1Core returns the derivative of the operator of Ax0Core with respect to the nuclear coordinates,
// holding the AO trial density fixed. It includes the change of the exchange-correlation kernel caused
// by the orbital response of the reference density.
// The response has shape (natm*3, ..., len(si), len(sj)).
func (d *Deriv) Ax1Core(si, sj, sk, sl Span) Operator {
	return func(x *tensor.Dense) (*tensor.Dense, error) {
		if x == nil {
			return tensor.Scalar(0), nil
		}
		xs, lead, err := d.trialDensities(x, sk, sl)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		natm, nao, nset := d.mol.NAtm(), d.nao, len(xs)

		eri1, err := d.ERI1AO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		dms := stack(xs, []int{nset})
		cx := d.xc.HybridCoeff()
		j1 := tensor.Product(nil, eri1, dms, [][2]int{{3, 1}, {4, 2}}).Transpose(0, 3, 1, 2)
		ax := j1.Scale(2)
		if cx != 0 {
			k1 := tensor.Product(nil, eri1, dms, [][2]int{{2, 1}, {4, 2}}).Transpose(0, 3, 1, 2)
			ax.AddScaled(-cx, k1)
		}

		if d.xc.Type() == xc.GGA {
			dmU, err := d.dmU()
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			if err := d.addFxcDeriv(ax, xs, unstack(dmU)); err != nil {
				return nil, errors.Wrap(err, "")
			}
		}

		res, err := d.project(ax.Reshape(natm*3*nset, nao, nao), si, sj)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		r := res.Shape()
		shape := append([]int{natm * 3}, lead...)
		return res.Reshape(append(shape, r[1], r[2])...), nil
	}
}

// addFxcDeriv adds the derivative of the exchange-correlation part of Ax0Core to ax, shaped
// (natm*3, nset, nao, nao). dmU is the derivative of the reference density due to the orbital response.
func (d *Deriv) addFxcDeriv(ax *tensor.Dense, xs, dmU []*mat.Dense) error {
	natm := d.mol.NAtm()
	acc := make([][]*mat.Dense, natm*3)
	for i := range acc {
		acc[i] = make([]*mat.Dense, len(xs))
		for j := range acc[i] {
			acc[i][j] = mat.NewDense(d.nao, d.nao, nil)
		}
	}

	for b := range d.grids.Batches(d.blockSize(len(xs) + natm*3)) {
		h, err := grid.NewHelper(d.mol, b, d.d, 2)
		if err != nil {
			return errors.Wrap(err, "")
		}
		k := d.xc.Kernel(h.Rho0, h.Gamma, h.Weights)

		// Change of the reference density through the orbitals and through the orbital response.
		dg := make([]densityChange, natm*3)
		for A := range natm {
			for t := range 3 {
				i := 3*A + t
				u0, u1 := h.GetRho0(dmU[i]), h.GetRho1(dmU[i])
				for g := range u0 {
					u0[g] += h.ARho1[A][t][g]
					for r := range 3 {
						u1[r][g] += h.ARho2[A][t][r][g]
					}
				}
				dg[i] = densityChange{rho: u0, rho1: u1}
			}
		}

		for B, x := range xs {
			rhoX, rhoX1 := h.GetRho0(x), h.GetRho1(x)
			aRhoX1, aRhoX2 := h.GetARho1(x), h.GetARho2(x)
			w := fxcWeights(k, h.Rho1, rhoX, rhoX1)
			motion := aoMotion(h.AO, w)
			for A, sA := range d.aoSlices {
				for t := range 3 {
					i := 3*A + t
					dx := densityChange{rho: aRhoX1[A][t], rho1: aRhoX2[A][t]}
					addPotential(acc[i][B], h.AO, fxcWeightsDeriv(k, h.Rho1, rhoX, rhoX1, dg[i], dx))
					addRows(acc[i][B], motion[t], sA)
				}
			}
		}
		d.logger.Printf("Ax1 grid batch of %d points", h.NPoints())
	}

	for i := range acc {
		for B, a := range acc[i] {
			m := ax.Sub(i).Sub(B).Mat()
			m.Add(m, a)
			m.Add(m, a.T())
		}
	}
	return nil
}

// dmU returns the derivative of the reference density due to the orbital response,
// 2 (C U_1[:, occ] C_occ^T + transpose), shaped (natm*3, nao, nao).
// The factor 2 is the occupation of D = 2 C_occ C_occ^T, the density whose change Ax0Core responds to.
func (d *Deriv) dmU() (*tensor.Dense, error) {
	return d.resp.get("dmU", func() (*tensor.Dense, error) {
		u1, err := d.U1()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		n3 := d.mol.NAtm() * 3
		uo := u1.Slice(bounds(n3, d.All(), d.Occ()))
		dm := toMO(uo, d.coeff(d.All()).T(), d.coeff(d.Occ()).T())
		return dm.Add(dm.T()).Scale(2), nil
	})
}

// trialDensities returns the symmetrized AO trial densities of x, and the leading shape of x.
func (d *Deriv) trialDensities(x *tensor.Dense, sk, sl Span) ([]*mat.Dense, []int, error) {
	shape := x.Shape()
	n := len(shape)
	if n < 2 {
		return nil, nil, errors.Wrap(ErrShape, fmt.Sprintf("trial of shape %v", shape))
	}
	nk, nl := shape[n-2], shape[n-1]
	lead := append([]int{}, shape[:n-2]...)

	var ao *tensor.Dense
	switch {
	case sk.omitted() && sl.omitted():
		if nk != d.nao || nl != d.nao {
			return nil, nil, errors.Wrap(ErrShape, fmt.Sprintf("AO trial of shape %v, nao %d", shape, d.nao))
		}
		ao = x.Clone().Reshape(-1, nk, nl)
	case sk.omitted() || sl.omitted():
		return nil, nil, errors.Wrap(ErrShape, fmt.Sprintf("only one of %v %v omitted", sk, sl))
	default:
		if err := d.checkSpan(sk); err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		if err := d.checkSpan(sl); err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		if nk != sk.Len() || nl != sl.Len() {
			return nil, nil, errors.Wrap(ErrShape, fmt.Sprintf("trial of shape %v for %v %v", shape, sk, sl))
		}
		ao = toMO(x.Reshape(-1, nk, nl), d.coeff(sk).T(), d.coeff(sl).T())
	}
	ao.Add(ao.T())
	return unstack(ao), lead, nil
}

// project returns C_si^T r C_sj for a stack r of AO matrices, or r itself when si and sj are omitted.
func (d *Deriv) project(r *tensor.Dense, si, sj Span) (*tensor.Dense, error) {
	switch {
	case si.omitted() && sj.omitted():
		return r, nil
	case si.omitted() || sj.omitted():
		return nil, errors.Wrap(ErrShape, fmt.Sprintf("only one of %v %v omitted", si, sj))
	}
	if err := d.checkSpan(si); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := d.checkSpan(sj); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return toMO(r, d.coeff(si), d.coeff(sj)), nil
}
