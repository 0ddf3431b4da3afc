// Package xc evaluates closed shell exchange-correlation functionals and their derivatives with
// respect to the density rho and the squared density gradient gamma = |grad rho|^2.
//
// Derivatives up to third order are obtained exactly by propagating truncated Taylor jets through
// the functional forms.
package xc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnknownFunctional = errors.New("unknown functional")
)

// densityCutoff is the density below which a grid point does not contribute.
const densityCutoff = 1e-10

type Type string

const (
	// HF is a functional without a density functional part.
	HF Type = "HF"
	// GGA is any functional with a density functional part.
	// Local functionals are handled as GGA with vanishing gamma derivatives.
	GGA Type = "GGA"
)

var aliases = map[string]string{
	"HF":     "HF,",
	"SVWN":   "SLATER, VWN5",
	"BLYP":   "B88, LYP",
	"B3LYP":  ".2*HF + .08*SLATER + .72*B88, .81*LYP + .19*VWN5",
	"B3LYPG": ".2*HF + .08*SLATER + .72*B88, .81*LYP + .19*VWN_RPA",
	"B2PLYP": ".53*HF + .47*B88, .73*LYP",
	"XYG3":   ".8033*HF - .0140*SLATER + .2107*B88, .6789*LYP",
	"XYGJOS": ".7731*HF + .2269*SLATER, .2309*VWN_RPA + .2754*LYP",
}

type term struct {
	coef float64
	name string
}

// Functional is a linear combination of Hartree-Fock exchange and density functional components.
type Functional struct {
	desc  string
	cx    float64
	terms []term
}

func MustParse(desc string) *Functional {
	f, err := Parse(desc)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return f
}

// Parse parses descriptions such as "0.2*HF + 0.08*LDA + 0.72*B88, 0.81*LYP + 0.19*VWN3" or named
// functionals such as "B3LYPG". The exchange and correlation parts are separated by a comma.
func Parse(desc string) (*Functional, error) {
	f := &Functional{desc: desc}
	s := strings.ToUpper(strings.TrimSpace(desc))
	if a, ok := aliases[s]; ok {
		s = a
	}
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return nil, errors.Wrapf(ErrUnknownFunctional, "%q has more than one comma", desc)
	}
	for _, part := range parts {
		terms, err := parseSum(part)
		if err != nil {
			return nil, errors.Wrapf(err, "%q", desc)
		}
		for _, t := range terms {
			if t.name == "HF" {
				f.cx += t.coef
				continue
			}
			canon, ok := componentAliases[t.name]
			if !ok {
				return nil, errors.Wrapf(ErrUnknownFunctional, "%q in %q", t.name, desc)
			}
			f.terms = append(f.terms, term{coef: t.coef, name: canon})
		}
	}
	return f, nil
}

// parseSum parses a signed sum of terms of the form coef*NAME or NAME.
func parseSum(s string) ([]term, error) {
	terms := make([]term, 0)
	sign := 1.0
	start := 0
	flush := func(end int) error {
		tok := strings.TrimSpace(s[start:end])
		if tok == "" {
			return nil
		}
		t := term{coef: sign, name: tok}
		if coef, name, ok := strings.Cut(tok, "*"); ok {
			c, err := strconv.ParseFloat(strings.TrimSpace(coef), 64)
			if err != nil {
				return errors.Wrapf(ErrUnknownFunctional, "%q: %v", tok, err)
			}
			t = term{coef: sign * c, name: strings.TrimSpace(name)}
		}
		terms = append(terms, t)
		return nil
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '+' && s[i] != '-' {
			continue
		}
		// Exponent of a number such as 1E-3.
		if i >= 2 && s[i-1] == 'E' && s[i-2] >= '0' && s[i-2] <= '9' {
			continue
		}
		if err := flush(i); err != nil {
			return nil, err
		}
		sign = 1
		if s[i] == '-' {
			sign = -1
		}
		start = i + 1
	}
	if err := flush(len(s)); err != nil {
		return nil, err
	}
	return terms, nil
}

func (f *Functional) String() string { return f.desc }

// HybridCoeff returns the fraction of exact exchange cx.
func (f *Functional) HybridCoeff() float64 { return f.cx }

func (f *Functional) Type() Type {
	if len(f.terms) == 0 {
		return HF
	}
	return GGA
}

// Jet returns the energy density per volume and its derivatives at a point.
func (f *Functional) Jet(rho, gamma float64) Jet {
	var out Jet
	if rho < densityCutoff {
		return out
	}
	r, g := variables(rho, gamma)
	for _, t := range f.terms {
		out = out.Add(components[t.name](r, g).Scale(t.coef))
	}
	return out
}

// Kernel holds the functional derivatives on a batch of grid points, multiplied by the quadrature weights.
type Kernel struct {
	Exc                    []float64
	Fr, Fg                 []float64
	Frr, Frg, Fgg          []float64
	Frrr, Frrg, Frgg, Fggg []float64
}

// Kernel evaluates the functional on a batch of grid points.
func (f *Functional) Kernel(rho, gamma, weights []float64) *Kernel {
	n := len(rho)
	k := &Kernel{}
	for _, p := range []*[]float64{&k.Exc, &k.Fr, &k.Fg, &k.Frr, &k.Frg, &k.Fgg, &k.Frrr, &k.Frrg, &k.Frgg, &k.Fggg} {
		*p = make([]float64, n)
	}
	for i := range n {
		j := f.Jet(rho[i], gamma[i])
		w := weights[i]
		k.Exc[i] = w * j.Value()
		k.Fr[i] = w * j.Deriv(1, 0)
		k.Fg[i] = w * j.Deriv(0, 1)
		k.Frr[i] = w * j.Deriv(2, 0)
		k.Frg[i] = w * j.Deriv(1, 1)
		k.Fgg[i] = w * j.Deriv(0, 2)
		k.Frrr[i] = w * j.Deriv(3, 0)
		k.Frrg[i] = w * j.Deriv(2, 1)
		k.Frgg[i] = w * j.Deriv(1, 2)
		k.Fggg[i] = w * j.Deriv(0, 3)
	}
	return k
}
