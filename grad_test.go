package xdh

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/gto"
	"github.com/fumin/xdh/scf"
	"github.com/fumin/xdh/tensor"
	"github.com/fumin/xdh/xc"
)

type method struct {
	name   string
	ref    string
	nc     string
	cc, ss float64
}

func (m method) String() string { return fmt.Sprintf("%s(%s,%s)", m.name, m.ref, m.nc) }

func (m method) config(t *testing.T, mol *gto.Mole, grids *grid.Grids) Config {
	cfg := NewConfig(runSCF(t, mol, m.ref, grids))
	if m.cc != 0 {
		cfg.CC = m.cc
		cfg.SS = m.ss
	}
	if m.nc != "" {
		nc, err := scf.NewSolver(mol, xc.MustParse(m.nc), grids)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		cfg.NC = nc
	}
	return cfg
}

func (m method) gradient(t *testing.T, mol *gto.Mole, grids *grid.Grids) Gradient {
	g, err := New(m.name, m.config(t, mol, grids))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGradient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sys    system
		method method
	}{
		{sys: h4, method: method{name: "scf", ref: "HF"}},
		{sys: hehp, method: method{name: "scf", ref: "HF"}},
		{sys: h3p, method: method{name: "scf", ref: "B3LYPG"}},
		{sys: h3p, method: method{name: "ncdft", ref: "HF", nc: "B3LYPG"}},
		{sys: hehp, method: method{name: "ncdft", ref: "HF", nc: "B3LYPG"}},
		{sys: h4, method: method{name: "mp2", ref: "HF"}},
		{sys: hehp, method: method{name: "mp2", ref: "HF"}},
		{sys: h3p, method: method{name: "mp2", ref: "B2PLYP", cc: 0.27, ss: 1}},
		{sys: h3p, method: method{name: "xdh", ref: "B3LYPG", nc: "XYG3", cc: 0.3211, ss: 1}},
		{sys: hehp, method: method{name: "xdh", ref: "B3LYPG", nc: "XYGJOS", cc: 0.4364, ss: 0}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v %v", test.sys, test.method), func(t *testing.T) {
			t.Parallel()
			mol := test.sys.mole(t)
			grids := testGrids(t, mol)
			v := direction(mol.NAtm())

			e1, err := test.method.gradient(t, mol, grids).E1()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if s := fmt.Sprint(e1.Shape()); s != fmt.Sprint([]int{mol.NAtm(), 3}) {
				t.Fatalf("%s", s)
			}
			var got float64
			for A := range v {
				for x := range 3 {
					got += e1.At(A, x) * v[A][x]
				}
			}

			want := derivative(func(h float64) float64 {
				e, err := test.method.gradient(t, displace(mol, v, h), grids).Eng()
				if err != nil {
					t.Fatalf("%+v", err)
				}
				return e
			})
			if math.Abs(got-want) > 1e-6 {
				t.Fatalf("%.10f, expected %.10f, gradient %v", got, want, e1)
			}
		})
	}
}

func TestEnergy(t *testing.T) {
	t.Parallel()
	mol := h4.mole(t)
	ref := runSCF(t, mol, "HF", nil)

	g, err := NewGradMP2(NewConfig(ref))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer g.Close()
	ec, err := g.ECorr()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if ec >= 0 {
		t.Fatalf("%f", ec)
	}
	e, err := g.Eng()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(e-(ref.ETot+ec)) > 1e-12 {
		t.Fatalf("%f %f %f", e, ref.ETot, ec)
	}

	// Same spin pairs vanish with a single occupied orbital.
	mol2 := hehp.mole(t)
	ref2 := runSCF(t, mol2, "HF", nil)
	full, err := NewGradMP2(NewConfig(ref2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer full.Close()
	cfg := NewConfig(ref2)
	cfg.SS = 0
	opposite, err := NewGradMP2(cfg)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer opposite.Close()
	ef, err := full.ECorr()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	eo, err := opposite.ECorr()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(ef-eo) > 1e-12 {
		t.Fatalf("%g %g", ef, eo)
	}
}

func TestLayerAdditivity(t *testing.T) {
	t.Parallel()
	mol := h3p.mole(t)
	grids := testGrids(t, mol)

	t.Run("xdh", func(t *testing.T) {
		t.Parallel()
		g, err := NewGradXDH(method{ref: "B3LYPG", nc: "XYG3", cc: 0.3211, ss: 1}.config(t, mol, grids))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		defer g.Close()
		e1, err := g.E1()
		if err != nil {
			t.Fatalf("%+v", err)
		}
		corr, err := MP2Correction(g.MP2)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		base, err := BaseGradient(g.NC())
		if err != nil {
			t.Fatalf("%+v", err)
		}
		checkClose(t, e1, corr.Add(base), 1e-10)
	})

	t.Run("ncdft", func(t *testing.T) {
		t.Parallel()
		g, err := NewGradNCDFT(method{ref: "HF", nc: "B3LYPG"}.config(t, mol, grids))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		defer g.Close()
		e1, err := g.E1()
		if err != nil {
			t.Fatalf("%+v", err)
		}
		corr, err := NCDFTCorrection(g)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		base, err := BaseGradient(g.NC())
		if err != nil {
			t.Fatalf("%+v", err)
		}
		checkClose(t, e1, corr.Add(base), 1e-10)
	})

	t.Run("mp2", func(t *testing.T) {
		t.Parallel()
		cfg := method{ref: "HF"}.config(t, mol, grids)
		g, err := NewGradMP2(cfg)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		defer g.Close()
		e1, err := g.E1()
		if err != nil {
			t.Fatalf("%+v", err)
		}
		s, err := NewGradSCF(cfg)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		defer s.Close()
		base, err := s.E1()
		if err != nil {
			t.Fatalf("%+v", err)
		}
		corr, err := MP2Correction(g.MP2)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		checkClose(t, e1, corr.Add(base), 1e-10)
	})
}

// TestConsistentLimit checks that evaluating the reference functional non-consistently reduces to
// the self-consistent gradients.
func TestConsistentLimit(t *testing.T) {
	t.Parallel()
	mol := h3p.mole(t)
	grids := testGrids(t, mol)
	tests := []struct {
		got  method
		want method
	}{
		{got: method{name: "ncdft", ref: "B3LYPG", nc: "B3LYPG"}, want: method{name: "scf", ref: "B3LYPG"}},
		{got: method{name: "xdh", ref: "B2PLYP", nc: "B2PLYP", cc: 0.27, ss: 1}, want: method{name: "mp2", ref: "B2PLYP", cc: 0.27, ss: 1}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.got), func(t *testing.T) {
			t.Parallel()
			got := test.got.gradient(t, mol, grids)
			want := test.want.gradient(t, mol, grids)
			e1, err := got.E1()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			e1w, err := want.E1()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			checkClose(t, e1, e1w, 1e-8)
			e, err := got.Eng()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			ew, err := want.Eng()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if math.Abs(e-ew) > 1e-10 {
				t.Fatalf("%f %f", e, ew)
			}
		})
	}
}

// TestTranslationalInvariance checks that the forces sum to zero. Without grid weight derivatives
// this holds for the density functionals only to the accuracy of the grid.
func TestTranslationalInvariance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sys    system
		method method
		grid   [2]int
		tol    float64
	}{
		{sys: h4, method: method{name: "scf", ref: "HF"}, tol: 1e-8},
		{sys: h4, method: method{name: "mp2", ref: "HF"}, tol: 1e-8},
		{sys: h3p, method: method{name: "ncdft", ref: "HF", nc: "B3LYPG"}, grid: [2]int{60, 20}, tol: 1e-6},
		{sys: h3p, method: method{name: "xdh", ref: "B3LYPG", nc: "XYG3", cc: 0.3211, ss: 1}, grid: [2]int{60, 20}, tol: 1e-6},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v %v", test.sys, test.method), func(t *testing.T) {
			t.Parallel()
			mol := test.sys.mole(t)
			var grids *grid.Grids
			if test.grid[0] > 0 {
				var err error
				grids, err = grid.Build(mol, test.grid[0], test.grid[1])
				if err != nil {
					t.Fatalf("%+v", err)
				}
			}
			e1, err := test.method.gradient(t, mol, grids).E1()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			for x := range 3 {
				var s float64
				for A := range mol.NAtm() {
					s += e1.At(A, x)
				}
				if math.Abs(s) > test.tol {
					t.Fatalf("%d %g %v", x, s, e1)
				}
			}
		})
	}
}

func TestSpill(t *testing.T) {
	t.Parallel()
	mol := h3p.mole(t)
	grids := testGrids(t, mol)
	m := method{name: "xdh", ref: "B3LYPG", nc: "XYG3", cc: 0.3211, ss: 1}

	want, err := m.gradient(t, mol, grids).E1()
	if err != nil {
		t.Fatalf("%+v", err)
	}

	cfg := m.config(t, mol, grids)
	cfg.ScratchDir = t.TempDir()
	cfg.SpillBytes = 1
	g, err := New(m.name, cfg)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := g.E1()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	checkClose(t, got, want, 1e-12)

	stores := func() []string {
		s, err := filepath.Glob(filepath.Join(cfg.ScratchDir, "xdh-*.sqlite"))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		return s
	}
	// The shared integrals and the responses of both functionals.
	if s := stores(); len(s) != 3 {
		t.Fatalf("%v", s)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("%+v", err)
	}
	if s := stores(); len(s) != 0 {
		t.Fatalf("%v", s)
	}
}

func TestNewErrors(t *testing.T) {
	t.Parallel()
	mol := h3p.mole(t)
	cfg := NewConfig(runSCF(t, mol, "HF", nil))
	if _, err := New("ccsd", cfg); err == nil {
		t.Fatalf("expected error")
	}
	for _, name := range []string{"ncdft", "xdh"} {
		if _, err := New(name, cfg); err == nil {
			t.Fatalf("%s without a non-consistent functional", name)
		}
	}

	cfg.ScratchDir = filepath.Join(t.TempDir(), "missing")
	if _, err := New("scf", cfg); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("%+v", err)
	}
}

func TestPerAtom(t *testing.T) {
	t.Parallel()
	v := tensor.New([]float64{1, 2, 3, 4, 5, 6}, 6)
	g := perAtom(v)
	if g.At(1, 0) != 4 || fmt.Sprint(g.Shape()) != "[2 3]" {
		t.Fatalf("%v", g)
	}
}
