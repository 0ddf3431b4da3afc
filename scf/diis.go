package scf

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// residual returns the orthogonalized orbital gradient x (F D S - S D F) x.
func residual(fock, dm, s, x *mat.Dense) *mat.Dense {
	var fds, sdf mat.Dense
	fds.Product(fock, dm, s)
	sdf.Product(s, dm, fock)
	fds.Sub(&fds, &sdf)
	var r mat.Dense
	r.Product(x.T(), &fds, x)
	return &r
}

// diis extrapolates Fock matrices by minimizing the norm of the combined residual.
type diis struct {
	space int
	focks []*mat.Dense
	errs  []*mat.Dense
}

func newDIIS(space int) *diis {
	return &diis{space: max(space, 1)}
}

// extrapolate adds fock and its residual to the history and returns the extrapolated Fock matrix.
func (d *diis) extrapolate(fock, r *mat.Dense) (*mat.Dense, error) {
	d.focks = append(d.focks, fock)
	d.errs = append(d.errs, r)
	if len(d.focks) > d.space {
		d.focks = d.focks[1:]
		d.errs = d.errs[1:]
	}

	for len(d.focks) > 1 {
		c, err := d.coefficients()
		if err == nil {
			var f mat.Dense
			for i, fi := range d.focks {
				var cf mat.Dense
				cf.Scale(c[i], fi)
				if i == 0 {
					f.CloneFrom(&cf)
					continue
				}
				f.Add(&f, &cf)
			}
			return &f, nil
		}
		// Ill conditioned, forget the oldest entry.
		d.focks = d.focks[1:]
		d.errs = d.errs[1:]
	}
	return fock, nil
}

// coefficients solves the Pulay equations
//
//	| B   -1 | | c      |   |  0 |
//	| -1   0 | | lambda | = | -1 |
//
// where B[i, j] = <e_i, e_j>.
func (d *diis) coefficients() ([]float64, error) {
	n := len(d.errs)
	b := mat.NewDense(n+1, n+1, nil)
	for i := range n {
		for j := range i + 1 {
			v := mat.Sum(mulElem(d.errs[i], d.errs[j]))
			b.Set(i, j, v)
			b.Set(j, i, v)
		}
		b.Set(i, n, -1)
		b.Set(n, i, -1)
	}
	rhs := mat.NewVecDense(n+1, nil)
	rhs.SetVec(n, -1)

	var lu mat.LU
	lu.Factorize(b)
	if cond := lu.Cond(); cond > 1e14 {
		return nil, errors.Errorf("DIIS matrix ill conditioned %g", cond)
	}
	var c mat.VecDense
	if err := lu.SolveVecTo(&c, false, rhs); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return c.RawVector().Data[:n], nil
}
