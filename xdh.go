package xdh

import (
	"github.com/pkg/errors"

	"github.com/fumin/xdh/tensor"
)

// GradXDH is the gradient of an XYG3 type doubly hybrid functional, whose energy
//
//	E = E_nc[D] + E_corr
//
// evaluates the non-consistent functional and the scaled correlation on the orbitals of the reference.
type GradXDH struct {
	*MP2
}

func NewGradXDH(cfg Config) (*GradXDH, error) {
	d, err := NewDeriv(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	nc, err := d.NCDeriv()
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "")
	}
	return &GradXDH{MP2: &MP2{Deriv: d, nc: nc}}, nil
}

// NC returns the derivative context of the non-consistent functional.
func (g *GradXDH) NC() *Deriv { return g.nc }

// E1 spells out the terms of MP2Correction instead of adding the NCDFT Z-vector term: the Lagrangian
// already carries the non-consistent Fock matrix, so the response of E_nc enters through D_r.
func (g *GradXDH) E1() (*tensor.Dense, error) {
	dr, err := g.RelaxedDensity()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	w, err := g.WeightedDensity()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	tt, err := g.ScaledAmplitudes()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	b1, err := g.B1()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	s1, err := g.S1MO()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	eri1, err := g.ERI1MOOVOV()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	base, err := BaseGradient(g.nc)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	e1 := tensor.Product(nil, b1, dr, [][2]int{{1, 0}, {2, 1}})
	e1.Add(tensor.Product(nil, s1, w, [][2]int{{1, 0}, {2, 1}}))
	e1.AddScaled(2, tensor.Product(nil, eri1, tt, [][2]int{{1, 0}, {2, 1}, {3, 2}, {4, 3}}))
	return perAtom(e1).Add(base), nil
}

func (g *GradXDH) Eng() (float64, error) {
	enc, err := g.nc.solver.EnergyTot(g.d)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	ec, err := g.ECorr()
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return enc + ec, nil
}

func (g *GradXDH) Close() error {
	err := g.nc.Close()
	if err1 := g.Deriv.Close(); err == nil {
		err = err1
	}
	if err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
