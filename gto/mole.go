// Package gto evaluates molecular integrals over contracted Gaussian s-type orbitals,
// together with their nuclear-coordinate derivatives.
//
// Derivative integrals follow the libcint naming: "ip" denotes the gradient, with respect to the
// electron coordinate, of the first (bra) basis function. For example IPOvlp()[x][i][j] = (d/dx i|j).
//
// References:
//   - Modern Quantum Chemistry, Attila Szabo and Neil S. Ostlund, Appendix A
//   - Molecular Electronic-Structure Theory, Trygve Helgaker, Poul Jorgensen and Jeppe Olsen, Chapter 9
package gto

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/fumin/xdh/tensor"
)

type Unit int

const (
	Angstrom Unit = iota
	Bohr
)

type Atom struct {
	Symbol string
	Coord  [3]float64
}

// shell is a normalized contracted s function.
type shell struct {
	atom   int
	center [3]float64
	exps   []float64
	coefs  []float64
}

// Mole is a molecule with its basis set. Coordinates are stored in Bohr.
type Mole struct {
	Atoms  []Atom
	Basis  string
	Charge int

	charges  []float64
	shells   []shell
	aoSlices [][2]int
}

// NewMole builds a molecule from atoms whose coordinates are given in unit.
func NewMole(atoms []Atom, basis string, unit Unit, charge int) (*Mole, error) {
	scale := 1.0
	if unit == Angstrom {
		scale = 1 / BohrRadius
	}
	bohr := make([]Atom, len(atoms))
	for i, a := range atoms {
		bohr[i] = Atom{Symbol: a.Symbol}
		for x := range 3 {
			bohr[i].Coord[x] = a.Coord[x] * scale
		}
	}

	m := &Mole{Atoms: bohr, Basis: strings.ToLower(basis), Charge: charge}
	if err := m.build(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return m, nil
}

func (m *Mole) build() error {
	sets, ok := basisSets[m.Basis]
	if !ok {
		return errors.Errorf("unknown basis %q, available %v", m.Basis, BasisSets())
	}
	if len(m.Atoms) == 0 {
		return errors.Errorf("no atoms")
	}

	m.charges = make([]float64, len(m.Atoms))
	m.shells = m.shells[:0]
	m.aoSlices = make([][2]int, len(m.Atoms))
	for i, a := range m.Atoms {
		z := AtomicNumber(a.Symbol)
		if z == 0 {
			return errors.Errorf("unknown element %q", a.Symbol)
		}
		m.charges[i] = float64(z)

		var sym string
		for k := range sets {
			if strings.EqualFold(k, a.Symbol) {
				sym = k
			}
		}
		prims, ok := sets[sym]
		if !ok {
			return errors.Errorf("basis %s has no functions for %s", m.Basis, a.Symbol)
		}

		m.aoSlices[i][0] = len(m.shells)
		for _, p := range prims {
			m.shells = append(m.shells, newShell(i, a.Coord, p))
		}
		m.aoSlices[i][1] = len(m.shells)
	}

	if m.NElec() <= 0 || m.NElec()%2 != 0 {
		return errors.Errorf("closed shell molecule required, got %d electrons", m.NElec())
	}
	return nil
}

// newShell folds the primitive normalization into the contraction coefficients and normalizes the contraction.
func newShell(atom int, center [3]float64, p primitives) shell {
	s := shell{atom: atom, center: center, exps: slices.Clone(p.exps), coefs: make([]float64, len(p.coefs))}
	for k, a := range s.exps {
		s.coefs[k] = p.coefs[k] * math.Pow(2*a/math.Pi, 0.75)
	}
	var norm float64
	for k, a := range s.exps {
		for l, b := range s.exps {
			norm += s.coefs[k] * s.coefs[l] * math.Pow(math.Pi/(a+b), 1.5)
		}
	}
	norm = 1 / math.Sqrt(norm)
	for k := range s.coefs {
		s.coefs[k] *= norm
	}
	return s
}

func (m *Mole) NAtm() int { return len(m.Atoms) }
func (m *Mole) NAO() int  { return len(m.shells) }

func (m *Mole) NElec() int {
	var n int
	for _, z := range m.charges {
		n += int(z)
	}
	return n - m.Charge
}

func (m *Mole) Charges() []float64 { return m.charges }

func (m *Mole) Coords() [][3]float64 {
	c := make([][3]float64, len(m.Atoms))
	for i, a := range m.Atoms {
		c[i] = a.Coord
	}
	return c
}

// AOSliceByAtom returns, for each atom, the half open range of its atomic orbitals.
func (m *Mole) AOSliceByAtom() [][2]int { return m.aoSlices }

// Displace returns a copy of m with the coordinate dir of atom moved by h Bohr.
func (m *Mole) Displace(atom, dir int, h float64) *Mole {
	d := &Mole{Atoms: slices.Clone(m.Atoms), Basis: m.Basis, Charge: m.Charge}
	d.Atoms[atom].Coord[dir] += h
	if err := d.build(); err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return d
}

// EnergyNuc returns the nuclear repulsion energy.
func (m *Mole) EnergyNuc() float64 {
	var e float64
	for i := range m.Atoms {
		for j := range i {
			e += m.charges[i] * m.charges[j] / dist(m.Atoms[i].Coord, m.Atoms[j].Coord)
		}
	}
	return e
}

// GradNuc returns the derivative of the nuclear repulsion energy, shaped (natm, 3).
func (m *Mole) GradNuc() *tensor.Dense {
	g := tensor.Zeros(m.NAtm(), 3)
	for i := range m.Atoms {
		for j := range m.Atoms {
			if i == j {
				continue
			}
			r := dist(m.Atoms[i].Coord, m.Atoms[j].Coord)
			zz := m.charges[i] * m.charges[j] / (r * r * r)
			for x := range 3 {
				g.Data()[3*i+x] -= zz * (m.Atoms[i].Coord[x] - m.Atoms[j].Coord[x])
			}
		}
	}
	return g
}

func dist(a, b [3]float64) float64 {
	return math.Sqrt(dist2(a, b))
}

func dist2(a, b [3]float64) float64 {
	var d float64
	for x := range 3 {
		d += (a[x] - b[x]) * (a[x] - b[x])
	}
	return d
}
