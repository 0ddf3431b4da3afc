// Package scf solves the closed shell Hartree-Fock and Kohn-Sham equations.
//
// References:
//   - Modern Quantum Chemistry, Attila Szabo and Neil S. Ostlund, Section 3.4.6
//   - Convergence acceleration of iterative sequences. The case of SCF iteration, Peter Pulay, Chem. Phys. Lett. 73, 393 (1980)
package scf

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/gto"
	"github.com/fumin/xdh/tensor"
	"github.com/fumin/xdh/util"
	"github.com/fumin/xdh/xc"
)

var (
	ErrNotConverged = errors.New("scf not converged")
)

// Options are options for the SCF iterations.
type Options struct {
	maxCycle    int
	convTol     float64
	convTolGrad float64
	diisSpace   int
	maxMemory   float64
	verbose     bool
}

// NewOptions returns the default SCF options.
func NewOptions() Options {
	opt := Options{}
	opt.maxCycle = 100
	opt.convTol = 1e-10
	opt.convTolGrad = 1e-7
	opt.diisSpace = 8
	opt.maxMemory = 2000
	return opt
}

// MaxCycle sets the maximum number of iterations.
func (opt Options) MaxCycle(n int) Options {
	opt.maxCycle = n
	return opt
}

// ConvTol sets the tolerance on the change of the total energy between iterations.
func (opt Options) ConvTol(tol float64) Options {
	opt.convTol = tol
	return opt
}

// ConvTolGrad sets the tolerance on the largest element of the orbital gradient FDS - SDF.
func (opt Options) ConvTolGrad(tol float64) Options {
	opt.convTolGrad = tol
	return opt
}

// DIISSpace sets the number of Fock matrices kept for extrapolation.
func (opt Options) DIISSpace(n int) Options {
	opt.diisSpace = n
	return opt
}

// MaxMemory sets the memory budget in megabytes for grid batches.
func (opt Options) MaxMemory(mb float64) Options {
	opt.maxMemory = mb
	return opt
}

func (opt Options) Verbose(v bool) Options {
	opt.verbose = v
	return opt
}

// Solver evaluates Fock matrices and energies of a molecule under a functional.
// A Solver for a functional with a density functional part needs integration grids.
type Solver struct {
	mol   *gto.Mole
	xc    *xc.Functional
	grids *grid.Grids
	opt   Options

	ovlp  *mat.Dense
	hcore *mat.Dense
	eri   *tensor.Dense
}

// NewSolver computes the integrals of mol and returns a solver.
func NewSolver(mol *gto.Mole, f *xc.Functional, grids *grid.Grids, options ...Options) (*Solver, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if f.Type() == xc.GGA && grids == nil {
		return nil, errors.Errorf("functional %s needs grids", f)
	}
	s := &Solver{mol: mol, xc: f, grids: grids, opt: opt}
	s.ovlp = mol.Ovlp().Mat()
	s.hcore = mol.Hcore().Mat()
	s.eri = mol.ERI()
	return s, nil
}

func (s *Solver) Mol() *gto.Mole     { return s.mol }
func (s *Solver) XC() *xc.Functional { return s.xc }
func (s *Solver) Grids() *grid.Grids { return s.grids }
func (s *Solver) Ovlp() *mat.Dense   { return s.ovlp }
func (s *Solver) Hcore() *mat.Dense  { return s.hcore }
func (s *Solver) ERI() *tensor.Dense { return s.eri }
func (s *Solver) MaxMemory() float64 { return s.opt.maxMemory }
func (s *Solver) Verbose() bool      { return s.opt.verbose }

// WithXC returns a solver sharing the integrals of s but evaluating the functional f.
func (s *Solver) WithXC(f *xc.Functional) (*Solver, error) {
	if f.Type() == xc.GGA && s.grids == nil {
		return nil, errors.Errorf("functional %s needs grids", f)
	}
	n := *s
	n.xc = f
	return &n, nil
}

// JK returns the Coulomb and exchange matrices of dm,
// J[u, v] = sum (uv|ls) dm[l, s] and K[u, v] = sum (ul|vs) dm[l, s].
func (s *Solver) JK(dm mat.Matrix) (*mat.Dense, *mat.Dense) {
	d := tensor.FromMat(dm)
	j := tensor.Product(nil, s.eri, d, [][2]int{{2, 0}, {3, 1}})
	k := tensor.Product(nil, s.eri, d, [][2]int{{1, 0}, {3, 1}})
	return j.Mat(), k.Mat()
}

// Vxc returns the exchange-correlation energy and potential of dm.
func (s *Solver) Vxc(dm mat.Matrix) (float64, *mat.Dense, error) {
	nao := s.mol.NAO()
	v := mat.NewDense(nao, nao, nil)
	if s.xc.Type() != xc.GGA {
		return 0, v, nil
	}

	var exc float64
	blockSize := grid.BlockSize(nao, s.mol.NAtm(), 1, s.opt.maxMemory)
	for b := range s.grids.Batches(blockSize) {
		h, err := grid.NewHelper(s.mol, b, dm, 1)
		if err != nil {
			return math.NaN(), nil, errors.Wrap(err, "")
		}
		k := s.xc.Kernel(h.Rho0, h.Gamma, h.Weights)
		exc += floats.Sum(k.Exc)

		m := make([]float64, h.NPoints())
		floats.ScaleTo(m, 0.5, k.Fr)
		grid.AddWeighted(v, h.AO.Value, m, h.AO.Value)
		for r := range 3 {
			floats.MulTo(m, k.Fg, h.Rho1[r])
			floats.Scale(2, m)
			grid.AddWeighted(v, h.AO.Grad[r], m, h.AO.Value)
		}
	}
	v.Add(v, v.T())
	return exc, v, nil
}

// fockEnergy returns the Fock matrix of dm and the total energy.
func (s *Solver) fockEnergy(dm mat.Matrix) (*mat.Dense, float64, error) {
	cx := s.xc.HybridCoeff()
	j, k := s.JK(dm)
	exc, vxc, err := s.Vxc(dm)
	if err != nil {
		return nil, math.NaN(), errors.Wrap(err, "")
	}

	// Two electron part J - cx/2 K.
	var veff mat.Dense
	veff.Scale(-cx/2, k)
	veff.Add(&veff, j)

	e := mat.Sum(mulElem(dm, s.hcore)) + 0.5*mat.Sum(mulElem(dm, &veff)) + exc + s.mol.EnergyNuc()

	fock := mat.NewDense(s.mol.NAO(), s.mol.NAO(), nil)
	fock.Add(s.hcore, &veff)
	fock.Add(fock, vxc)
	return fock, e, nil
}

// Fock returns H + J - cx/2 K + Vxc for dm.
func (s *Solver) Fock(dm mat.Matrix) (*mat.Dense, error) {
	f, _, err := s.fockEnergy(dm)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return f, nil
}

// EnergyTot returns the total energy of dm, including the nuclear repulsion.
// dm need not be self consistent with the functional of s.
func (s *Solver) EnergyTot(dm mat.Matrix) (float64, error) {
	_, e, err := s.fockEnergy(dm)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	return e, nil
}

// Result is a converged SCF solution.
type Result struct {
	Solver *Solver

	// C are the molecular orbital coefficients, one orbital per column.
	C        *mat.Dense
	MOEnergy []float64
	MOOcc    []float64
	Nocc     int

	// D is the AO density matrix 2 Co Co^T.
	D *mat.Dense
	// Fock is the Fock matrix of D.
	Fock *mat.Dense
	ETot float64

	// History is the total energy of every iteration.
	History []float64
}

// Kernel runs the SCF iterations starting from the core Hamiltonian guess.
func (s *Solver) Kernel(ctx context.Context) (*Result, error) {
	nelec := s.mol.NElec()
	if nelec%2 != 0 {
		return nil, errors.Errorf("odd number of electrons %d", nelec)
	}
	nocc := nelec / 2
	x, err := orthogonalizer(s.ovlp)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	c, _, err := diagonalize(s.hcore, x)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	dm := density(c, nocc)

	logger := util.NewLogger(s.opt.verbose, time.Second)
	d := newDIIS(s.opt.diisSpace)
	res := &Result{Solver: s, Nocc: nocc}
	eOld := math.Inf(1)
	converged := false
	for cycle := range s.opt.maxCycle {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "")
		}
		fock, e, err := s.fockEnergy(dm)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d", cycle))
		}
		res.History = append(res.History, e)

		r := residual(fock, dm, s.ovlp, x)
		rmax := math.Max(mat.Max(r), -mat.Min(r))
		logger.Printf("cycle %d energy %.12f delta %g residual %g", cycle, e, e-eOld, rmax)
		if math.Abs(e-eOld) < s.opt.convTol && rmax < s.opt.convTolGrad {
			converged = true
			break
		}
		eOld = e

		f, err := d.extrapolate(fock, r)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d", cycle))
		}
		if c, _, err = diagonalize(f, x); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d", cycle))
		}
		dm = density(c, nocc)
	}
	if !converged {
		return nil, errors.Wrap(ErrNotConverged, fmt.Sprintf("%d cycles, energy %f", s.opt.maxCycle, eOld))
	}

	// Make the orbitals the eigenvectors of the Fock matrix of their own density.
	fock, err := s.Fock(dm)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if res.C, res.MOEnergy, err = diagonalize(fock, x); err != nil {
		return nil, errors.Wrap(err, "")
	}
	res.D = density(res.C, nocc)
	if res.Fock, res.ETot, err = s.fockEnergy(res.D); err != nil {
		return nil, errors.Wrap(err, "")
	}
	res.MOOcc = make([]float64, len(res.MOEnergy))
	for i := range nocc {
		res.MOOcc[i] = 2
	}
	logger.Force("converged in %d cycles, energy %.12f", len(res.History), res.ETot)
	return res, nil
}

// orthogonalizer returns S^-1/2.
func orthogonalizer(s *mat.Dense) (*mat.Dense, error) {
	n, _ := s.Dims()
	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(n, s.RawMatrix().Data), true); !ok {
		return nil, errors.Errorf("overlap factorization failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	if vals[0] <= 1e-10 {
		return nil, errors.Errorf("overlap matrix near singular %g", vals[0])
	}

	var scaled mat.Dense
	scaled.Apply(func(_, j int, v float64) float64 { return v / math.Sqrt(vals[j]) }, &vecs)
	var x mat.Dense
	x.Mul(&scaled, vecs.T())
	return &x, nil
}

// diagonalize solves F C = S C e, with x = S^-1/2.
func diagonalize(f, x *mat.Dense) (*mat.Dense, []float64, error) {
	n, _ := f.Dims()
	var fp mat.Dense
	fp.Product(x.T(), f, x)
	sym := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(fp.At(i, j)+fp.At(j, i)))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, nil, errors.Errorf("fock factorization failed")
	}
	var v mat.Dense
	eig.VectorsTo(&v)
	var c mat.Dense
	c.Mul(x, &v)
	return &c, eig.Values(nil), nil
}

// density returns 2 Co Co^T.
func density(c *mat.Dense, nocc int) *mat.Dense {
	n, _ := c.Dims()
	co := c.Slice(0, n, 0, nocc)
	var dm mat.Dense
	dm.Mul(co, co.T())
	dm.Scale(2, &dm)
	return &dm
}

func mulElem(a, b mat.Matrix) *mat.Dense {
	var m mat.Dense
	m.MulElem(a, b)
	return &m
}
