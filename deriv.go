// Package xdh computes analytic nuclear gradients of closed shell Hartree-Fock, Kohn-Sham,
// non-consistent DFT, MP2 and XYG3 type doubly hybrid energies.
//
// Tensors with a leading perturbation axis are indexed by A*3+t, where A is an atom and t a
// Cartesian direction.
//
// References:
//   - Derivative studies in Hartree-Fock and Moller-Plesset theories, J. A. Pople, R. Krishnan, H. B. Schlegel and J. S. Binkley, Int. J. Quantum Chem. 16, 225 (1979)
//   - A new method for the analytic evaluation of MP2 energy gradients, N. C. Handy and H. F. Schaefer, J. Chem. Phys. 81, 5031 (1984)
//   - Analytic energy gradients for the XYG3 type of doubly hybrid density functionals, N. Q. Su, I. Y. Zhang and X. Xu, J. Comput. Chem. 34, 1759 (2013)
package xdh

import (
	"fmt"
	"slices"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/gto"
	"github.com/fumin/xdh/scf"
	"github.com/fumin/xdh/tensor"
	"github.com/fumin/xdh/util"
	"github.com/fumin/xdh/xc"
)

// Deriv is the context of the first derivative of an energy with respect to nuclear coordinates.
// It holds the reference orbitals, the functional whose Fock matrix is differentiated, and the
// cache of perturbed integrals.
type Deriv struct {
	cfg    Config
	mol    *gto.Mole
	solver *scf.Solver
	xc     *xc.Functional

	grids     *grid.Grids
	cphfGrids *grid.Grids

	c        *mat.Dense
	e        []float64
	d        *mat.Dense
	nao      int
	nmo      int
	nocc     int
	aoSlices [][2]int

	// ints holds the tensors that do not depend on the functional.
	ints *cache
	// resp holds the tensors that do.
	resp  *cache
	owner bool
	cphf  *cphfSolver

	logger *util.Logger
}

// NewDeriv returns the derivative context of the reference in cfg.
func NewDeriv(cfg Config) (*Deriv, error) {
	if cfg.SCF == nil {
		return nil, errors.Errorf("no reference")
	}
	ints, err := newCache(cfg.ScratchDir, cfg.SpillBytes)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	d, err := newDeriv(cfg, cfg.SCF.Solver, ints, true)
	if err != nil {
		ints.close()
		return nil, errors.Wrap(err, "")
	}
	return d, nil
}

// NCDeriv returns the derivative context of the non-consistent functional evaluated on the reference
// orbitals. It shares the functional independent tensors of d.
func (d *Deriv) NCDeriv() (*Deriv, error) {
	if d.cfg.NC == nil {
		return nil, errors.Errorf("no non-consistent functional")
	}
	if d.cfg.NC.Mol() != d.mol {
		return nil, errors.Errorf("non-consistent solver of another molecule")
	}
	nc, err := newDeriv(d.cfg, d.cfg.NC, d.ints, false)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return nc, nil
}

func newDeriv(cfg Config, solver *scf.Solver, ints *cache, owner bool) (*Deriv, error) {
	res := cfg.SCF
	d := &Deriv{cfg: cfg, mol: solver.Mol(), solver: solver, xc: solver.XC(), ints: ints, owner: owner}
	d.grids = solver.Grids()
	d.cphfGrids = d.grids
	if cfg.CPHFGrids != nil {
		d.cphfGrids = cfg.CPHFGrids
	}
	if d.xc.Type() == xc.GGA && d.grids == nil {
		return nil, errors.Errorf("functional %s without grids", d.xc)
	}
	if cfg.MaxMemory <= 0 {
		d.cfg.MaxMemory = 2000
	}

	d.c, d.e, d.d = res.C, res.MOEnergy, res.D
	d.nao, d.nmo = res.C.Dims()
	d.nocc = res.Nocc
	if d.nocc <= 0 || d.nocc > d.nmo || len(d.e) != d.nmo {
		return nil, errors.Wrap(ErrShape, fmt.Sprintf("nocc %d nmo %d energies %d", d.nocc, d.nmo, len(d.e)))
	}
	if d.nao != d.mol.NAO() {
		return nil, errors.Wrap(ErrShape, fmt.Sprintf("%d orbitals for a molecule of %d", d.nao, d.mol.NAO()))
	}
	d.aoSlices = d.mol.AOSliceByAtom()
	if err := checkAOSlices(d.aoSlices, d.mol.NAtm(), d.nao); err != nil {
		return nil, errors.Wrap(err, "")
	}

	var err error
	d.resp, err = newCache(cfg.ScratchDir, cfg.SpillBytes)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	d.logger = util.NewLogger(cfg.Verbose, time.Second)
	return d, nil
}

// checkAOSlices checks that the orbitals of the atoms are consecutive and cover all orbitals.
func checkAOSlices(aoSlices [][2]int, natm, nao int) error {
	if len(aoSlices) != natm {
		return errors.Wrap(ErrAOSlice, fmt.Sprintf("%d slices for %d atoms", len(aoSlices), natm))
	}
	end := 0
	for A, s := range aoSlices {
		if s[0] != end || s[1] < s[0] {
			return errors.Wrap(ErrAOSlice, fmt.Sprintf("atom %d %v", A, s))
		}
		end = s[1]
	}
	if end != nao {
		return errors.Wrap(ErrAOSlice, fmt.Sprintf("%v cover %d of %d orbitals", aoSlices, end, nao))
	}
	return nil
}

// Close releases the cached tensors.
func (d *Deriv) Close() error {
	err := d.resp.close()
	if d.owner {
		if err1 := d.ints.close(); err1 != nil && err == nil {
			err = err1
		}
	}
	if err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (d *Deriv) Mol() *gto.Mole { return d.mol }
func (d *Deriv) NAtm() int      { return d.mol.NAtm() }
func (d *Deriv) NAO() int       { return d.nao }
func (d *Deriv) NMO() int       { return d.nmo }
func (d *Deriv) Nocc() int      { return d.nocc }

// Functional returns the functional whose Fock matrix is differentiated.
func (d *Deriv) Functional() *xc.Functional { return d.xc }

// Occ, Vir and All are the occupied, virtual and all molecular orbitals.
func (d *Deriv) Occ() Span { return Span{Lo: 0, Hi: d.nocc} }
func (d *Deriv) Vir() Span { return Span{Lo: d.nocc, Hi: d.nmo} }
func (d *Deriv) All() Span { return Span{Lo: 0, Hi: d.nmo} }

// D returns the reference AO density matrix.
func (d *Deriv) D() *mat.Dense { return d.d }

// F0AO returns the Fock matrix of the functional of d at the reference density.
func (d *Deriv) F0AO() (*tensor.Dense, error) {
	return d.resp.get("F_0_ao", func() (*tensor.Dense, error) {
		if d.solver == d.cfg.SCF.Solver && d.cfg.SCF.Fock != nil {
			return tensor.FromMat(d.cfg.SCF.Fock), nil
		}
		f, err := d.solver.Fock(d.d)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return tensor.FromMat(f), nil
	})
}

// F0MO returns F0AO in the molecular orbital basis.
func (d *Deriv) F0MO() (*tensor.Dense, error) {
	return d.resp.get("F_0_mo", func() (*tensor.Dense, error) {
		f, err := d.F0AO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		c := d.coeff(d.All())
		return toMO(f, c, c), nil
	})
}

// coeff returns the columns s of the orbital coefficients.
func (d *Deriv) coeff(s Span) *tensor.Dense {
	return tensor.FromMat(d.c.Slice(0, d.nao, s.Lo, s.Hi))
}

func (d *Deriv) checkSpan(s Span) error {
	if s.Lo < 0 || s.Hi > d.nmo || s.Lo >= s.Hi {
		return errors.Wrap(ErrShape, fmt.Sprintf("%v not in %d orbitals", s, d.nmo))
	}
	return nil
}

// blockSize returns the number of grid points per batch for nset trial matrices.
func (d *Deriv) blockSize(nset int) int {
	return grid.BlockSize(d.nao, d.mol.NAtm(), nset, d.cfg.MaxMemory)
}

// toMO returns c1^T x c2 for every matrix in the stack x.
func toMO(x, c1, c2 *tensor.Dense) *tensor.Dense {
	shape := x.Shape()
	n := len(shape)
	flat := x.Reshape(-1, shape[n-2], shape[n-1])
	tmp := tensor.Product(nil, flat, c1, [][2]int{{1, 0}})
	out := tensor.Product(nil, tmp, c2, [][2]int{{1, 0}})
	outShape := append(slices.Clone(shape[:n-2]), c1.Shape()[1], c2.Shape()[1])
	return out.Reshape(outShape...)
}

// eriToMO transforms the last four axes of eri, shaped (k, nao, nao, nao, nao).
func eriToMO(eri *tensor.Dense, cs [4]*tensor.Dense) *tensor.Dense {
	for _, c := range cs {
		eri = tensor.Product(nil, eri, c, [][2]int{{1, 0}})
	}
	return eri
}

// stack stacks matrices of equal size and reshapes them to (lead..., rows, cols).
func stack(ms []*mat.Dense, lead []int) *tensor.Dense {
	r, c := ms[0].Dims()
	out := tensor.Zeros(len(ms), r, c)
	for i, m := range ms {
		out.Sub(i).Mat().Copy(m)
	}
	return out.Reshape(append(slices.Clone(lead), r, c)...)
}

// unstack returns matrix views of the slabs of a rank three tensor.
func unstack(t *tensor.Dense) []*mat.Dense {
	ms := make([]*mat.Dense, t.Shape()[0])
	for i := range ms {
		ms[i] = t.Sub(i).Mat()
	}
	return ms
}

// bounds returns slice bounds for a leading axis of n followed by the given spans.
func bounds(n int, spans ...Span) [][2]int {
	b := [][2]int{{0, n}}
	for _, s := range spans {
		b = append(b, [2]int{s.Lo, s.Hi})
	}
	return b
}

// perAtom reshapes a vector of length natm*3 to (natm, 3).
func perAtom(v *tensor.Dense) *tensor.Dense {
	return v.Reshape(-1, 3)
}
