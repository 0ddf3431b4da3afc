package xc

import (
	"math"
)

// Jet is a Taylor polynomial in the two variables (rho, gamma), truncated after total order 3.
// Jet[i][j] is the coefficient of drho^i dgamma^j; entries with i+j > 3 are always zero.
type Jet [4][4]float64

// variables returns the jets of the independent variables rho and gamma at a point.
func variables(rho, gamma float64) (Jet, Jet) {
	var r, g Jet
	r[0][0], r[1][0] = rho, 1
	g[0][0], g[0][1] = gamma, 1
	return r, g
}

func constant(v float64) Jet {
	var c Jet
	c[0][0] = v
	return c
}

func (a Jet) Value() float64 { return a[0][0] }

// Deriv returns d^(i+j) f / drho^i dgamma^j.
func (a Jet) Deriv(i, j int) float64 {
	return a[i][j] * factorial[i] * factorial[j]
}

var factorial = [4]float64{1, 1, 2, 6}

func (a Jet) Add(b Jet) Jet {
	for i := range 4 {
		for j := 0; i+j < 4; j++ {
			a[i][j] += b[i][j]
		}
	}
	return a
}

func (a Jet) Sub(b Jet) Jet {
	return a.Add(b.Scale(-1))
}

func (a Jet) Scale(s float64) Jet {
	for i := range 4 {
		for j := 0; i+j < 4; j++ {
			a[i][j] *= s
		}
	}
	return a
}

func (a Jet) AddConst(s float64) Jet {
	a[0][0] += s
	return a
}

func (a Jet) Mul(b Jet) Jet {
	var c Jet
	for i1 := range 4 {
		for j1 := 0; i1+j1 < 4; j1++ {
			if a[i1][j1] == 0 {
				continue
			}
			for i2 := 0; i1+j1+i2 < 4; i2++ {
				for j2 := 0; i1+j1+i2+j2 < 4; j2++ {
					c[i1+i2][j1+j2] += a[i1][j1] * b[i2][j2]
				}
			}
		}
	}
	return c
}

func (a Jet) Div(b Jet) Jet {
	return a.Mul(b.Inv())
}

// compose returns g(a) given g and its first three derivatives at a.Value().
func (a Jet) compose(g0, g1, g2, g3 float64) Jet {
	h := a
	h[0][0] = 0
	h2 := h.Mul(h)
	h3 := h2.Mul(h)
	return constant(g0).Add(h.Scale(g1)).Add(h2.Scale(g2 / 2)).Add(h3.Scale(g3 / 6))
}

func (a Jet) Inv() Jet {
	x := a.Value()
	return a.compose(1/x, -1/(x*x), 2/(x*x*x), -6/(x*x*x*x))
}

// Pow requires a positive value unless p is a non-negative integer.
func (a Jet) Pow(p float64) Jet {
	x := a.Value()
	return a.compose(math.Pow(x, p), p*math.Pow(x, p-1), p*(p-1)*math.Pow(x, p-2), p*(p-1)*(p-2)*math.Pow(x, p-3))
}

func (a Jet) Exp() Jet {
	e := math.Exp(a.Value())
	return a.compose(e, e, e, e)
}

func (a Jet) Log() Jet {
	x := a.Value()
	return a.compose(math.Log(x), 1/x, -1/(x*x), 2/(x*x*x))
}

func (a Jet) Atan() Jet {
	x := a.Value()
	d := 1 + x*x
	return a.compose(math.Atan(x), 1/d, -2*x/(d*d), (6*x*x-2)/(d*d*d))
}

func (a Jet) Asinh() Jet {
	x := a.Value()
	d := 1 + x*x
	s := math.Sqrt(d)
	return a.compose(math.Asinh(x), 1/s, -x/(d*s), (2*x*x-1)/(d*d*s))
}

// xAsinhX returns sqrt(s)*asinh(sqrt(s)), which is smooth in s down to zero.
func (a Jet) xAsinhX() Jet {
	s := a.Value()
	if s > 1e-4 {
		u := a.Pow(0.5)
		return u.Mul(u.Asinh())
	}
	// x asinh(x) = x^2 - x^4/6 + 3x^6/40 - 5x^8/112 + ...
	return a.compose(
		s-s*s/6+3*s*s*s/40-5*s*s*s*s/112,
		1-s/3+9*s*s/40-5*s*s*s/28,
		-1.0/3+9*s/20-15*s*s/28,
		9.0/20-15*s/14,
	)
}
