package xdh

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/xdh/tensor"
)

// cphfSolver holds the factorized response matrix of the CPHF equations.
type cphfSolver struct {
	n    int
	chol *mat.Cholesky
	lu   *mat.LU
}

func (s *cphfSolver) solveTo(dst *mat.Dense, b *mat.Dense) error {
	if s.chol != nil {
		if err := s.chol.SolveTo(dst, b); err != nil {
			return errors.Wrap(err, "")
		}
		return nil
	}
	if err := s.lu.SolveTo(dst, false, b); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// cphfMatrix factorizes (e_a - e_i) delta + Ax0(vir, occ, vir, occ), built column by column from the
// response to unit trials on the CPHF grids.
func (d *Deriv) cphfMatrix() (*cphfSolver, error) {
	if d.cphf != nil {
		return d.cphf, nil
	}
	nv, no := d.Vir().Len(), d.Occ().Len()
	n := nv * no
	if n == 0 {
		return nil, errors.Wrap(ErrShape, fmt.Sprintf("no virtual orbitals, nmo %d nocc %d", d.nmo, d.nocc))
	}

	id := tensor.Zeros(n, nv, no)
	for p := range n {
		id.Data()[p*n+p] = 1
	}
	ax, err := d.ax0Core(d.cphfGrids, d.Vir(), d.Occ(), d.Vir(), d.Occ())(id)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	a := ax.Reshape(n, n).Mat()

	m := mat.NewSymDense(n, nil)
	for p := range n {
		for q := p; q < n; q++ {
			m.SetSym(p, q, (a.At(p, q)+a.At(q, p))/2)
		}
		i, j := p/no, p%no
		m.SetSym(p, p, m.At(p, p)+d.e[d.nocc+i]-d.e[j])
	}

	s := &cphfSolver{n: n}
	var chol mat.Cholesky
	if chol.Factorize(m) {
		s.chol = &chol
	} else {
		d.logger.Force("CPHF response matrix not positive definite, falling back to LU")
		var lu mat.LU
		lu.Factorize(m)
		s.lu = &lu
	}
	d.cphf = s
	return s, nil
}

// SolveCPHF solves the CPHF equations
//
//	(e_a - e_i) X_ai + Ax0(vir, occ, vir, occ)(X)_ai = -rhs_ai
//
// for a batch of right hand sides shaped (..., nvir, nocc).
func (d *Deriv) SolveCPHF(rhs *tensor.Dense) (*tensor.Dense, error) {
	s, err := d.cphfMatrix()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	shape := rhs.Shape()
	nd := len(shape)
	if nd < 2 || shape[nd-2] != d.Vir().Len() || shape[nd-1] != d.Occ().Len() {
		return nil, errors.Wrap(ErrShape, fmt.Sprintf("right hand side of shape %v, nvir %d nocc %d", shape, d.Vir().Len(), d.nocc))
	}

	b := rhs.Clone().Reshape(-1, s.n).Mat()
	b.Scale(-1, b)
	var x mat.Dense
	if err := s.solveTo(&x, mat.DenseCopyOf(b.T())); err != nil {
		return nil, errors.Wrap(err, "")
	}
	d.logger.Printf("CPHF solved for %d right hand sides", len(rhs.Data())/s.n)
	return tensor.FromMat(x.T()).Reshape(shape...), nil
}

// B1 returns the right hand side of the CPHF equations of the nuclear perturbations,
//
//	B_1[A, p, q] = F_1[A, p, q] - S_1[A, p, q] e_q - Ax0(all, all, occ, occ)(S_1[A, occ, occ]) / 2,
//
// shaped (natm*3, nmo, nmo).
func (d *Deriv) B1() (*tensor.Dense, error) {
	return d.resp.get("B_1", func() (*tensor.Dense, error) {
		f1, err := d.F1MO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		s1, err := d.S1MO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		n3 := d.mol.NAtm() * 3
		b := f1.Clone()
		bd, sd := b.Data(), s1.Data()
		for i := range bd {
			bd[i] -= sd[i] * d.e[i%d.nmo]
		}

		soo := s1.Slice(bounds(n3, d.Occ(), d.Occ()))
		ax, err := d.Ax0Core(d.All(), d.All(), d.Occ(), d.Occ())(soo)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return b.AddScaled(-0.5, ax), nil
	})
}

// U1 returns the orbital response to the nuclear perturbations, C_1 = C U_1, shaped (natm*3, nmo, nmo).
// The virtual-occupied block solves the CPHF equations, the rest follows from orthonormality.
func (d *Deriv) U1() (*tensor.Dense, error) {
	return d.resp.get("U_1", func() (*tensor.Dense, error) {
		b1, err := d.B1()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		s1, err := d.S1MO()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		n3 := d.mol.NAtm() * 3
		vo, ov := bounds(n3, d.Vir(), d.Occ()), bounds(n3, d.Occ(), d.Vir())

		uvo, err := d.SolveCPHF(b1.Slice(vo))
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		u := s1.Clone().Scale(-0.5)
		u.AddSlice(vo, 1, uvo.Clone().AddScaled(0.5, s1.Slice(vo)))
		u.AddSlice(ov, 1, s1.Slice(ov).Scale(-0.5).AddScaled(-1, uvo.T()))
		return u, nil
	})
}
