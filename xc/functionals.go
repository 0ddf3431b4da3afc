package xc

import (
	"math"
)

// A component maps the jets of rho and gamma of a closed shell density to the jet of the
// energy density per volume.
type component func(rho, gamma Jet) Jet

var components = map[string]component{
	"SLATER":  slater,
	"B88":     b88,
	"VWN5":    vwn(vwn5),
	"VWN_RPA": vwn(vwnRPA),
	"LYP":     lyp,
}

// names accepted in functional descriptions, mapped to components.
var componentAliases = map[string]string{
	"LDA":     "SLATER",
	"SLATER":  "SLATER",
	"B88":     "B88",
	"B":       "B88",
	"VWN":     "VWN5",
	"VWN5":    "VWN5",
	"VWN3":    "VWN_RPA",
	"VWN_RPA": "VWN_RPA",
	"VWNRPA":  "VWN_RPA",
	"LYP":     "LYP",
}

// slater is the local density approximation to exchange.
func slater(rho, gamma Jet) Jet {
	cx := 0.75 * math.Cbrt(3/math.Pi)
	return rho.Pow(4.0 / 3).Scale(-cx)
}

// b88 is Becke's 1988 exchange, including the local part.
// See Eq. 8, A. D. Becke, Phys. Rev. A 38, 3098 (1988).
func b88(rho, gamma Jet) Jet {
	const beta = 0.0042
	// Per spin quantities of a closed shell density.
	rs := rho.Scale(0.5)
	x2 := gamma.Scale(0.25).Mul(rs.Pow(-8.0 / 3))
	denom := x2.xAsinhX().Scale(6 * beta).AddConst(1)
	grad := rs.Pow(4.0 / 3).Mul(x2).Div(denom).Scale(-2 * beta)
	return slater(rho, gamma).Add(grad)
}

type vwnParams struct {
	a, x0, b, c float64
}

var (
	vwn5   = vwnParams{a: 0.0310907, x0: -0.10498, b: 3.72744, c: 12.9352}
	vwnRPA = vwnParams{a: 0.0310907, x0: -0.409286, b: 13.0720, c: 42.7198}
)

// vwn is the paramagnetic Vosko-Wilk-Nusair correlation.
// See Eq. 4.4, S. H. Vosko, L. Wilk and M. Nusair, Can. J. Phys. 58, 1200 (1980).
func vwn(p vwnParams) component {
	q := math.Sqrt(4*p.c - p.b*p.b)
	xx0 := p.x0*p.x0 + p.b*p.x0 + p.c
	return func(rho, gamma Jet) Jet {
		// x = sqrt(rs), rs = (3/(4 pi rho))^(1/3).
		x := rho.Pow(-1.0 / 6).Scale(math.Pow(3/(4*math.Pi), 1.0/6))
		X := x.Mul(x).Add(x.Scale(p.b)).AddConst(p.c)
		at := constant(q).Div(x.Scale(2).AddConst(p.b)).Atan()
		logX := X.Log()

		e := x.Mul(x).Log().Sub(logX).Add(at.Scale(2 * p.b / q))
		dx := x.AddConst(-p.x0)
		e2 := dx.Mul(dx).Log().Sub(logX).Add(at.Scale(2 * (p.b + 2*p.x0) / q))
		e = e.Sub(e2.Scale(p.b * p.x0 / xx0)).Scale(p.a)
		return rho.Mul(e)
	}
}

// lyp is the Lee-Yang-Parr correlation for a closed shell density.
// See Eq. 2, B. Miehlich, A. Savin, H. Stoll and H. Preuss, Chem. Phys. Lett. 157, 200 (1989).
func lyp(rho, gamma Jet) Jet {
	const (
		a = 0.04918
		b = 0.132
		c = 0.2533
		d = 0.349
	)
	cf := 0.3 * math.Pow(3*math.Pi*math.Pi, 2.0/3)

	rm13 := rho.Pow(-1.0 / 3)
	den := rm13.Scale(d).AddConst(1)
	delta := rm13.Scale(c).Add(rm13.Scale(d).Div(den))
	ex := rm13.Scale(-c).Exp()

	// C_F rho - (3 + 7 delta) gamma rho^(-5/3) / 72
	inner := rho.Scale(cf).Sub(delta.Scale(7).AddConst(3).Mul(gamma).Mul(rho.Pow(-5.0 / 3)).Scale(1.0 / 72))
	return rho.Add(ex.Mul(inner).Scale(b)).Div(den).Scale(-a)
}
