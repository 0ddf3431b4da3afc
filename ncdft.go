package xdh

import (
	"github.com/pkg/errors"

	"github.com/fumin/xdh/tensor"
)

// GradNCDFT is the gradient of a functional evaluated non-consistently on the density of the reference.
type GradNCDFT struct {
	*Deriv
	nc *Deriv
}

func NewGradNCDFT(cfg Config) (*GradNCDFT, error) {
	d, err := NewDeriv(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	nc, err := d.NCDeriv()
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "")
	}
	return &GradNCDFT{Deriv: d, nc: nc}, nil
}

// NC returns the derivative context of the non-consistent functional.
func (g *GradNCDFT) NC() *Deriv { return g.nc }

// Z returns the solution of the CPHF equations whose right hand side is the virtual-occupied block
// of the non-consistent Fock matrix, shaped (nvir, nocc).
func (g *GradNCDFT) Z() (*tensor.Dense, error) {
	return g.nc.resp.get("Z", func() (*tensor.Dense, error) {
		f, err := g.nc.F0MO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		z, err := g.SolveCPHF(f.Slice([][2]int{{g.nocc, g.nmo}, {0, g.nocc}}))
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return z, nil
	})
}

// NCDFTCorrection returns the contribution of the orbital response of the reference to the
// non-consistent energy, 4 Z . B_1[vir, occ], shaped (natm, 3).
func NCDFTCorrection(g *GradNCDFT) (*tensor.Dense, error) {
	z, err := g.Z()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	b1, err := g.B1()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	n3 := g.mol.NAtm() * 3
	bvo := b1.Slice(bounds(n3, g.Vir(), g.Occ()))
	return perAtom(tensor.Product(nil, bvo, z, [][2]int{{1, 0}, {2, 1}}).Scale(4)), nil
}

func (g *GradNCDFT) E1() (*tensor.Dense, error) {
	e1, err := NCDFTCorrection(g)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	base, err := BaseGradient(g.nc)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return e1.Add(base), nil
}

func (g *GradNCDFT) Eng() (float64, error) {
	e, err := g.nc.solver.EnergyTot(g.d)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return e, nil
}

func (g *GradNCDFT) Close() error {
	err := g.nc.Close()
	if err1 := g.Deriv.Close(); err == nil {
		err = err1
	}
	if err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
