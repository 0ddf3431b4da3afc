package xdh_test

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/fumin/xdh"
	"github.com/fumin/xdh/gto"
	"github.com/fumin/xdh/scf"
	"github.com/fumin/xdh/xc"
)

func Example() {
	// Hydrogen molecule with a bond length of 1.4 Bohr.
	atoms := []gto.Atom{
		{Symbol: "H", Coord: [3]float64{0, 0, 0}},
		{Symbol: "H", Coord: [3]float64{0, 0, 1.4}},
	}
	mol, err := gto.NewMole(atoms, "sto-3g", gto.Bohr, 0)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	// Converge the reference.
	solver, err := scf.NewSolver(mol, xc.MustParse("HF"), nil)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	res, err := solver.Kernel(context.Background())
	if err != nil {
		log.Fatalf("%+v", err)
	}

	// MP2 gradient on the Hartree-Fock orbitals.
	g, err := xdh.New("mp2", xdh.NewConfig(res))
	if err != nil {
		log.Fatalf("%+v", err)
	}
	defer g.Close()
	e1, err := g.E1()
	if err != nil {
		log.Fatalf("%+v", err)
	}
	e, err := g.Eng()
	if err != nil {
		log.Fatalf("%+v", err)
	}
	fmt.Printf("Correlated below Hartree-Fock %v\n", e < res.ETot)
	fmt.Printf("Forces balance %v\n", math.Abs(e1.At(0, 2)+e1.At(1, 2)) < 1e-8)
	fmt.Printf("Perpendicular force %.6f\n", math.Abs(e1.At(0, 0))+math.Abs(e1.At(1, 1)))

	// Output:
	// Correlated below Hartree-Fock true
	// Forces balance true
	// Perpendicular force 0.000000
}
