package gto

import (
	"maps"
	"slices"
	"strings"
)

// BohrRadius is the Bohr radius in Angstrom.
const BohrRadius = 0.52917720859

var elements = []string{
	"H", "He",
	"Li", "Be", "B", "C", "N", "O", "F", "Ne",
}

// AtomicNumber returns the nuclear charge of an element, or 0 if the symbol is unknown.
func AtomicNumber(symbol string) int {
	for i, s := range elements {
		if strings.EqualFold(s, symbol) {
			return i + 1
		}
	}
	return 0
}

// primitives lists the exponents and contraction coefficients of one s shell.
type primitives struct {
	exps  []float64
	coefs []float64
}

// basisSets are the s shells per element, from the EMSL basis set exchange.
var basisSets = map[string]map[string][]primitives{
	"sto-3g": {
		"H": {
			{exps: []float64{3.42525091, 0.62391373, 0.16885540}, coefs: []float64{0.15432897, 0.53532814, 0.44463454}},
		},
		"He": {
			{exps: []float64{6.36242139, 1.15892300, 0.31364979}, coefs: []float64{0.15432897, 0.53532814, 0.44463454}},
		},
	},
	"6-31g": {
		"H": {
			{exps: []float64{18.7311370, 2.8253937, 0.6401217}, coefs: []float64{0.03349460, 0.23472695, 0.81375733}},
			{exps: []float64{0.1612778}, coefs: []float64{1}},
		},
		"He": {
			{exps: []float64{38.4216340, 5.7780300, 1.2417740}, coefs: []float64{0.04013973935, 0.261246097, 0.7931846246}},
			{exps: []float64{0.2979640}, coefs: []float64{1}},
		},
	},
}

// BasisSets returns the names of the available basis sets.
func BasisSets() []string {
	return slices.Sorted(maps.Keys(basisSets))
}
