// Command xdhgrad computes the energy and the analytic nuclear gradient of a molecule.
//
// Example:
//
//	xdhgrad -i h2.json -o result.json -plot scf.png
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/fumin/xdh"
	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/gto"
	"github.com/fumin/xdh/scf"
	"github.com/fumin/xdh/xc"
)

var (
	inPath     = flag.String("i", "", "input json")
	outPath    = flag.String("o", "", "output json, stdout if empty")
	plotPath   = flag.String("plot", "", "png of the scf convergence")
	scratchDir = flag.String("scratch", "", "directory for spilling large intermediates")
	maxMemory  = flag.Float64("mem", 2000, "memory of a grid batch in MB")
	verbose    = flag.Bool("v", false, "verbose")
)

type Atom struct {
	Symbol string     `json:"symbol"`
	Coord  [3]float64 `json:"coord"`
}

type Input struct {
	Atoms  []Atom `json:"atoms"`
	Unit   string `json:"unit"`
	Basis  string `json:"basis"`
	Charge int    `json:"charge"`

	Method string  `json:"method"`
	XC     string  `json:"xc"`
	NC     string  `json:"nc"`
	CC     float64 `json:"cc"`
	SS     float64 `json:"ss"`
	OS     float64 `json:"os"`

	Radial int `json:"radial"`
	Polar  int `json:"polar"`
	// CPHFRadial and CPHFPolar select a separate grid for the CPHF equations.
	CPHFRadial int `json:"cphf_radial"`
	CPHFPolar  int `json:"cphf_polar"`
}

type Output struct {
	Energy    float64      `json:"energy"`
	Gradient  [][3]float64 `json:"gradient"`
	SCFCycles int          `json:"scf_cycles"`
}

func readInput(fpath string) (Input, error) {
	in := Input{Unit: "angstrom", Basis: "sto-3g", Method: "scf", XC: "HF", CC: 1, SS: 1, OS: 1, Radial: 50, Polar: 12}
	b, err := os.ReadFile(fpath)
	if err != nil {
		return Input{}, errors.Wrap(err, "")
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return Input{}, errors.Wrap(err, "")
	}
	return in, nil
}

func (in Input) mole() (*gto.Mole, error) {
	var unit gto.Unit
	switch strings.ToLower(in.Unit) {
	case "angstrom", "a":
		unit = gto.Angstrom
	case "bohr", "b":
		unit = gto.Bohr
	default:
		return nil, errors.Errorf("unknown unit %q", in.Unit)
	}
	atoms := make([]gto.Atom, 0, len(in.Atoms))
	for _, a := range in.Atoms {
		atoms = append(atoms, gto.Atom{Symbol: a.Symbol, Coord: a.Coord})
	}
	mol, err := gto.NewMole(atoms, in.Basis, unit, in.Charge)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return mol, nil
}

func run(ctx context.Context, in Input) (Output, *scf.Result, error) {
	mol, err := in.mole()
	if err != nil {
		return Output{}, nil, errors.Wrap(err, "")
	}
	ref, err := xc.Parse(in.XC)
	if err != nil {
		return Output{}, nil, errors.Wrap(err, "")
	}
	var nc *xc.Functional
	if in.NC != "" {
		nc, err = xc.Parse(in.NC)
		if err != nil {
			return Output{}, nil, errors.Wrap(err, "")
		}
	}

	var grids *grid.Grids
	if ref.Type() == xc.GGA || (nc != nil && nc.Type() == xc.GGA) {
		grids, err = grid.Build(mol, in.Radial, in.Polar)
		if err != nil {
			return Output{}, nil, errors.Wrap(err, "")
		}
		log.Printf("%d grid points", grids.Len())
	}

	opt := scf.NewOptions().MaxMemory(*maxMemory).Verbose(*verbose)
	solver, err := scf.NewSolver(mol, ref, grids, opt)
	if err != nil {
		return Output{}, nil, errors.Wrap(err, "")
	}
	res, err := solver.Kernel(ctx)
	if err != nil {
		return Output{}, nil, errors.Wrap(err, "")
	}
	log.Printf("%s energy %.10f in %d cycles", ref, res.ETot, len(res.History))

	cfg := xdh.NewConfig(res)
	cfg.CC, cfg.SS, cfg.OS = in.CC, in.SS, in.OS
	cfg.MaxMemory = *maxMemory
	cfg.ScratchDir = *scratchDir
	cfg.Verbose = *verbose
	if grids != nil && in.CPHFRadial > 0 {
		cfg.CPHFGrids, err = grid.Build(mol, in.CPHFRadial, in.CPHFPolar)
		if err != nil {
			return Output{}, nil, errors.Wrap(err, "")
		}
		log.Printf("%d CPHF grid points", cfg.CPHFGrids.Len())
	}
	if nc != nil {
		cfg.NC, err = solver.WithXC(nc)
		if err != nil {
			return Output{}, nil, errors.Wrap(err, "")
		}
	}

	g, err := xdh.New(in.Method, cfg)
	if err != nil {
		return Output{}, nil, errors.Wrap(err, "")
	}
	defer g.Close()
	e1, err := g.E1()
	if err != nil {
		return Output{}, nil, errors.Wrap(err, "")
	}
	eng, err := g.Eng()
	if err != nil {
		return Output{}, nil, errors.Wrap(err, "")
	}

	out := Output{Energy: eng, SCFCycles: len(res.History)}
	out.Gradient = make([][3]float64, mol.NAtm())
	for A := range out.Gradient {
		for x := range 3 {
			out.Gradient[A][x] = e1.At(A, x)
		}
	}
	return out, res, nil
}

// plotHistory plots log10 of the energy change of every SCF cycle.
func plotHistory(fpath string, history []float64) error {
	p := plot.New()
	p.Title.Text = "SCF convergence"
	p.X.Label.Text = "cycle"
	p.Y.Label.Text = "log10 |dE|"

	xys := make(plotter.XYs, 0, len(history))
	for i := 1; i < len(history); i++ {
		de := math.Abs(history[i] - history[i-1])
		if de == 0 {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(i), Y: math.Log10(de)})
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return errors.Wrap(err, "")
	}
	p.Add(line)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, fpath); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if *inPath == "" {
		return errors.Errorf("no input")
	}
	in, err := readInput(*inPath)
	if err != nil {
		return errors.Wrap(err, "")
	}

	out, res, err := run(context.Background(), in)
	if err != nil {
		return errors.Wrap(err, "")
	}

	if *plotPath != "" {
		if err := plotHistory(*plotPath, res.History); err != nil {
			return errors.Wrap(err, "")
		}
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "")
	}
	if *outPath == "" {
		fmt.Printf("%s\n", b)
		return nil
	}
	if err := os.WriteFile(*outPath, b, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
