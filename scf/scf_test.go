package scf

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/gto"
	"github.com/fumin/xdh/xc"
)

func h2(t *testing.T, basis string) *gto.Mole {
	mol, err := gto.NewMole([]gto.Atom{{Symbol: "H"}, {Symbol: "H", Coord: [3]float64{0, 0, 1.4}}}, basis, gto.Bohr, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return mol
}

func TestSzaboOstlundH2(t *testing.T) {
	t.Parallel()
	mol := h2(t, "sto-3g")
	s, err := NewSolver(mol, xc.MustParse("HF"), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	res, err := s.Kernel(context.Background())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// Modern Quantum Chemistry, Szabo and Ostlund, Section 3.5.2.
	if math.Abs(res.ETot-(-1.1167)) > 1e-4 {
		t.Fatalf("%f", res.ETot)
	}
	if math.Abs(res.MOEnergy[0]-(-0.578)) > 1e-3 || math.Abs(res.MOEnergy[1]-0.670) > 1e-3 {
		t.Fatalf("%v", res.MOEnergy)
	}
	if res.Nocc != 1 || res.MOOcc[0] != 2 || res.MOOcc[1] != 0 {
		t.Fatalf("%d %v", res.Nocc, res.MOOcc)
	}

	// The orbitals are orthonormal and diagonalize their own Fock matrix.
	var cts, ctfc mat.Dense
	cts.Product(res.C.T(), s.Ovlp(), res.C)
	ctfc.Product(res.C.T(), res.Fock, res.C)
	for i := range 2 {
		for j := range 2 {
			var want float64
			if i == j {
				want = 1
			}
			if math.Abs(cts.At(i, j)-want) > 1e-10 {
				t.Fatalf("%v", mat.Formatted(&cts))
			}
			if i != j && math.Abs(ctfc.At(i, j)) > 1e-7 {
				t.Fatalf("%v", mat.Formatted(&ctfc))
			}
		}
	}
}

func TestFockIsEnergyDerivative(t *testing.T) {
	t.Parallel()
	tests := []struct {
		basis string
		xc    string
	}{
		{basis: "sto-3g", xc: "HF"},
		{basis: "6-31g", xc: "B3LYPG"},
		{basis: "6-31g", xc: "XYG3"},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test), func(t *testing.T) {
			t.Parallel()
			mol := h2(t, test.basis)
			grids, err := grid.Build(mol, 40, 12)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			s, err := NewSolver(mol, xc.MustParse(test.xc), grids)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			res, err := s.Kernel(context.Background())
			if err != nil {
				t.Fatalf("%+v", err)
			}

			nao := mol.NAO()
			delta := mat.NewDense(nao, nao, nil)
			for i := range nao {
				for j := range nao {
					delta.Set(i, j, 0.1*float64(i+j+1)/float64(nao))
				}
			}
			var want float64
			for i := range nao {
				for j := range nao {
					want += res.Fock.At(i, j) * delta.At(i, j)
				}
			}
			got := fd.Derivative(func(h float64) float64 {
				var dm mat.Dense
				dm.Scale(h, delta)
				dm.Add(&dm, res.D)
				e, err := s.EnergyTot(&dm)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				return e
			}, 0, &fd.Settings{Formula: fd.Central, Step: 1e-4})
			if math.Abs(got-want) > 1e-6 {
				t.Fatalf("%g, expected %g", got, want)
			}
		})
	}
}

func TestNotConverged(t *testing.T) {
	t.Parallel()
	mol := h2(t, "6-31g")
	s, err := NewSolver(mol, xc.MustParse("HF"), nil, NewOptions().MaxCycle(1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := s.Kernel(context.Background()); !errors.Is(err, ErrNotConverged) {
		t.Fatalf("%+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Kernel(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("%+v", err)
	}

	if _, err := s.WithXC(xc.MustParse("B3LYPG")); err == nil {
		t.Fatalf("expected error for a density functional without grids")
	}
}
