package xdh

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/tensor"
	"github.com/fumin/xdh/xc"
)

// Gradient is the first derivative of an energy with respect to the nuclear coordinates.
type Gradient interface {
	// E1 returns the gradient in atomic units, shaped (natm, 3).
	E1() (*tensor.Dense, error)
	// Eng returns the energy whose gradient is E1.
	Eng() (float64, error)
	Close() error
}

// New returns the gradient of method, one of "scf", "ncdft", "mp2" and "xdh".
func New(method string, cfg Config) (Gradient, error) {
	switch strings.ToLower(method) {
	case "scf", "hf", "dft":
		return NewGradSCF(cfg)
	case "ncdft":
		return NewGradNCDFT(cfg)
	case "mp2":
		return NewGradMP2(cfg)
	case "xdh":
		return NewGradXDH(cfg)
	}
	return nil, errors.Errorf("unknown method %q", method)
}

// BaseGradient returns the gradient of the energy of the functional of d at the reference density,
// excluding the response of the orbitals. When d is the reference itself, this is its full gradient.
func BaseGradient(d *Deriv) (*tensor.Dense, error) {
	natm := d.mol.NAtm()
	n3 := natm * 3
	dm := tensor.FromMat(d.d)
	grad := d.mol.GradNuc().Clone().Reshape(n3)

	h1, err := d.H1AO()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	grad.Add(tensor.Product(nil, h1, dm, [][2]int{{1, 0}, {2, 1}}))

	if err := d.addTwoElectron(grad, dm); err != nil {
		return nil, errors.Wrap(err, "")
	}

	// Pulay force.
	s1, err := d.S1MO()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	f0, err := d.F0MO()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	s1oo := s1.Slice(bounds(n3, d.Occ(), d.Occ()))
	f0oo := f0.Slice([][2]int{{0, d.nocc}, {0, d.nocc}})
	grad.AddScaled(-2, tensor.Product(nil, s1oo, f0oo, [][2]int{{1, 0}, {2, 1}}))

	if d.xc.Type() == xc.GGA {
		gd := grad.Data()
		for b := range d.grids.Batches(d.blockSize(1)) {
			h, err := grid.NewHelper(d.mol, b, d.d, 2)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			k := d.xc.Kernel(h.Rho0, h.Gamma, h.Weights)
			for A := range natm {
				for t := range 3 {
					gd[3*A+t] += floats.Dot(k.Fr, h.ARho1[A][t]) + floats.Dot(k.Fg, h.AGamma1[A][t])
				}
			}
		}
	}
	return perAtom(grad), nil
}

// addTwoElectron adds the derivative of the Coulomb and exchange energies at fixed density.
func (d *Deriv) addTwoElectron(grad, dm *tensor.Dense) error {
	ip, err := d.IP2e()
	if err != nil {
		return errors.Wrap(err, "")
	}
	cx := d.xc.HybridCoeff()
	// (d_t u v | k l) D_kl and (d_t u k | v l) D_kl.
	v := tensor.Product(nil, ip, dm, [][2]int{{3, 0}, {4, 1}}).Scale(-2)
	if cx != 0 {
		v.AddScaled(cx, tensor.Product(nil, ip, dm, [][2]int{{2, 0}, {4, 1}}))
	}

	gd := grad.Data()
	for A, sA := range d.aoSlices {
		if sA[0] == sA[1] {
			continue
		}
		vA := v.Slice([][2]int{{0, 3}, sA})
		dA := dm.Slice([][2]int{sA})
		g := tensor.Product(nil, vA, dA, [][2]int{{1, 0}, {2, 1}})
		for t := range 3 {
			gd[3*A+t] += g.At(t)
		}
	}
	return nil
}

// GradSCF is the gradient of a Hartree-Fock or Kohn-Sham energy.
type GradSCF struct {
	*Deriv
}

func NewGradSCF(cfg Config) (*GradSCF, error) {
	d, err := NewDeriv(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &GradSCF{Deriv: d}, nil
}

func (g *GradSCF) E1() (*tensor.Dense, error) {
	e1, err := BaseGradient(g.Deriv)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return e1, nil
}

func (g *GradSCF) Eng() (float64, error) { return g.cfg.SCF.ETot, nil }

func (g *GradSCF) String() string {
	return fmt.Sprintf("GradSCF(%s)", g.xc)
}
