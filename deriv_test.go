package xdh

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/gto"
	"github.com/fumin/xdh/scf"
	"github.com/fumin/xdh/tensor"
	"github.com/fumin/xdh/xc"
)

type system struct {
	name   string
	atoms  []gto.Atom
	basis  string
	charge int
}

var (
	hehp = system{name: "HeH+", basis: "6-31g", charge: 1, atoms: []gto.Atom{
		{Symbol: "He", Coord: [3]float64{0.1, -0.2, 0}},
		{Symbol: "H", Coord: [3]float64{0.3, 0.4, 1.5}},
	}}
	h3p = system{name: "H3+", basis: "sto-3g", charge: 1, atoms: []gto.Atom{
		{Symbol: "H", Coord: [3]float64{0, 0, 0}},
		{Symbol: "H", Coord: [3]float64{1.6, 0.1, 0}},
		{Symbol: "H", Coord: [3]float64{0.7, 1.4, 0.2}},
	}}
	h4 = system{name: "H4", basis: "sto-3g", atoms: []gto.Atom{
		{Symbol: "H", Coord: [3]float64{0, 0, 0}},
		{Symbol: "H", Coord: [3]float64{0.2, 0, 1.45}},
		{Symbol: "H", Coord: [3]float64{1.9, 0.3, 0.1}},
		{Symbol: "H", Coord: [3]float64{2.1, -0.1, 1.6}},
	}}
)

func (s system) String() string { return s.name }

func (s system) mole(t *testing.T) *gto.Mole {
	mol, err := gto.NewMole(s.atoms, s.basis, gto.Bohr, s.charge)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return mol
}

// direction returns a displacement of every atom along which derivatives are checked.
func direction(natm int) [][3]float64 {
	v := make([][3]float64, natm)
	for A := range natm {
		for x := range 3 {
			v[A][x] = 0.3 + 0.1*float64((3*A+2*x)%5) - 0.05*float64(A)
		}
	}
	return v
}

func displace(mol *gto.Mole, v [][3]float64, h float64) *gto.Mole {
	for A := range v {
		for x := range 3 {
			mol = mol.Displace(A, x, h*v[A][x])
		}
	}
	return mol
}

// along contracts the leading natm*3 axis of x with v.
func along(x *tensor.Dense, v [][3]float64) *tensor.Dense {
	shape := x.Shape()
	out := tensor.Zeros(shape[1:]...)
	for A := range v {
		for t := range 3 {
			out.AddScaled(v[A][t], x.Sub(3*A+t))
		}
	}
	return out
}

// stencil is the fourth order central difference.
var stencil = fd.Formula{
	Stencil:    []fd.Point{{Loc: -2, Coeff: 1.0 / 12}, {Loc: -1, Coeff: -8.0 / 12}, {Loc: 1, Coeff: 8.0 / 12}, {Loc: 2, Coeff: -1.0 / 12}},
	Derivative: 1,
	Step:       2e-3,
}

func derivative(f func(h float64) float64) float64 {
	return fd.Derivative(f, 0, &fd.Settings{Formula: stencil})
}

// derivativeTensor is derivative for tensor valued functions.
func derivativeTensor(f func(h float64) *tensor.Dense) *tensor.Dense {
	var out *tensor.Dense
	for _, p := range stencil.Stencil {
		y := f(p.Loc * stencil.Step)
		if out == nil {
			out = tensor.Zeros(y.Shape()...)
		}
		out.AddScaled(p.Coeff/stencil.Step, y)
	}
	return out
}

func testGrids(t *testing.T, mol *gto.Mole) *grid.Grids {
	grids, err := grid.Build(mol, 16, 6)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return grids
}

var tight = scf.NewOptions().ConvTol(1e-12).ConvTolGrad(1e-10)

// runSCF converges functional f on mol. grids may be nil for Hartree-Fock.
func runSCF(t *testing.T, mol *gto.Mole, f string, grids *grid.Grids) *scf.Result {
	if xc.MustParse(f).Type() != xc.GGA {
		grids = nil
	}
	s, err := scf.NewSolver(mol, xc.MustParse(f), grids, tight)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	res, err := s.Kernel(context.Background())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return res
}

func newTestDeriv(t *testing.T, mol *gto.Mole, f string, grids *grid.Grids) *Deriv {
	d, err := NewDeriv(NewConfig(runSCF(t, mol, f, grids)))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func checkClose(t *testing.T, got, want *tensor.Dense, tol float64) {
	t.Helper()
	if !got.EqualApprox(want, tol) {
		diff := got.Clone().AddScaled(-1, want)
		t.Fatalf("max diff %g\n%v\nexpected\n%v", diff.MaxAbs(), got, want)
	}
}

func TestPerturbedIntegrals(t *testing.T) {
	t.Parallel()
	for _, sys := range []system{hehp, h3p} {
		t.Run(fmt.Sprintf("%v", sys), func(t *testing.T) {
			t.Parallel()
			mol := sys.mole(t)
			d := newTestDeriv(t, mol, "HF", nil)
			v := direction(mol.NAtm())

			h1, err := d.H1AO()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			checkClose(t, along(h1, v), derivativeTensor(func(h float64) *tensor.Dense { return displace(mol, v, h).Hcore() }), 1e-8)

			s1, err := d.S1AO()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			checkClose(t, along(s1, v), derivativeTensor(func(h float64) *tensor.Dense { return displace(mol, v, h).Ovlp() }), 1e-8)

			eri1, err := d.ERI1AO()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			checkClose(t, along(eri1, v), derivativeTensor(func(h float64) *tensor.Dense { return displace(mol, v, h).ERI() }), 1e-8)

			// The MO integrals are the AO ones transformed.
			s1mo, err := d.S1MO()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			c := tensor.FromMat(d.c)
			checkClose(t, s1mo, toMO(s1, c, c), 1e-12)
			eri1mo, err := d.ERI1MOOVOV()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if got, want := eri1mo.Shape(), []int{mol.NAtm() * 3, d.nocc, d.nmo - d.nocc, d.nocc, d.nmo - d.nocc}; fmt.Sprint(got) != fmt.Sprint(want) {
				t.Fatalf("%v %v", got, want)
			}
		})
	}
}

func TestF1AO(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sys system
		xc  string
	}{
		{sys: h3p, xc: "HF"},
		{sys: h3p, xc: "B3LYPG"},
		{sys: hehp, xc: "XYG3"},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v %s", test.sys, test.xc), func(t *testing.T) {
			t.Parallel()
			mol := test.sys.mole(t)
			grids := testGrids(t, mol)
			d := newTestDeriv(t, mol, test.xc, grids)
			v := direction(mol.NAtm())

			f1, err := d.F1AO()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			want := derivativeTensor(func(h float64) *tensor.Dense {
				s, err := scf.NewSolver(displace(mol, v, h), xc.MustParse(test.xc), grids)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				f, err := s.Fock(d.D())
				if err != nil {
					t.Fatalf("%+v", err)
				}
				return tensor.FromMat(f)
			})
			checkClose(t, along(f1, v), want, 1e-7)
		})
	}
}

// TestOrbitalResponse checks the orbital response against the change of the converged density.
func TestOrbitalResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sys system
		xc  string
	}{
		{sys: h4, xc: "HF"},
		{sys: hehp, xc: "HF"},
		{sys: h3p, xc: "B3LYPG"},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v %s", test.sys, test.xc), func(t *testing.T) {
			t.Parallel()
			mol := test.sys.mole(t)
			grids := testGrids(t, mol)
			d := newTestDeriv(t, mol, test.xc, grids)
			v := direction(mol.NAtm())

			dmU, err := d.dmU()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			want := derivativeTensor(func(h float64) *tensor.Dense {
				return tensor.FromMat(runSCF(t, displace(mol, v, h), test.xc, grids).D)
			})
			checkClose(t, along(dmU, v), want, 1e-6)

			// The orbitals stay orthonormal: U_1 + U_1^T + S_1 = 0.
			u1, err := d.U1()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			s1, err := d.S1MO()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			sum := u1.Clone().Add(u1.T()).Add(s1)
			if m := sum.MaxAbs(); m > 1e-10 {
				t.Fatalf("%g", m)
			}
		})
	}
}

func TestCheckAOSlices(t *testing.T) {
	t.Parallel()
	tests := []struct {
		slices [][2]int
		natm   int
		nao    int
		ok     bool
	}{
		{slices: [][2]int{{0, 2}, {2, 3}}, natm: 2, nao: 3, ok: true},
		{slices: [][2]int{{0, 2}, {2, 2}, {2, 3}}, natm: 3, nao: 3, ok: true},
		{slices: [][2]int{{0, 2}}, natm: 2, nao: 2},
		{slices: [][2]int{{0, 1}, {2, 3}}, natm: 2, nao: 3},
		{slices: [][2]int{{0, 1}, {1, 2}}, natm: 2, nao: 3},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.slices), func(t *testing.T) {
			t.Parallel()
			err := checkAOSlices(test.slices, test.natm, test.nao)
			if test.ok {
				if err != nil {
					t.Fatalf("%+v", err)
				}
				return
			}
			if !errors.Is(err, ErrAOSlice) {
				t.Fatalf("%+v", err)
			}
		})
	}
}

func TestNewDerivErrors(t *testing.T) {
	t.Parallel()
	if _, err := NewDeriv(Config{}); err == nil {
		t.Fatalf("expected error without a reference")
	}

	mol := h3p.mole(t)
	res := runSCF(t, mol, "HF", nil)
	d, err := NewDeriv(NewConfig(res))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer d.Close()
	if _, err := d.NCDeriv(); err == nil {
		t.Fatalf("expected error without a non-consistent functional")
	}

	other, err := scf.NewSolver(hehp.mole(t), xc.MustParse("HF"), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cfg := NewConfig(res)
	cfg.NC = other
	d2, err := NewDeriv(cfg)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer d2.Close()
	if _, err := d2.NCDeriv(); err == nil {
		t.Fatalf("expected error for a solver of another molecule")
	}

	bad := *res
	bad.Nocc = 0
	if _, err := NewDeriv(NewConfig(&bad)); !errors.Is(err, ErrShape) {
		t.Fatalf("%+v", err)
	}
	bad = *res
	bad.C = mat.NewDense(2, 2, nil)
	bad.MOEnergy = []float64{0, 0}
	if _, err := NewDeriv(NewConfig(&bad)); !errors.Is(err, ErrShape) {
		t.Fatalf("%+v", err)
	}
}
