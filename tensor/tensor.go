// Package tensor implements dense float64 tensors and contractions between them.
//
// The layout is row-major. Views created by Reshape, Sub and Mat share storage with their parent,
// whereas Slice and Transpose copy.
package tensor

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

type Dense struct {
	shape []int
	data  []float64
}

// Zeros returns a tensor of the given shape filled with zeros.
func Zeros(shape ...int) *Dense {
	return &Dense{shape: slices.Clone(shape), data: make([]float64, prod(shape))}
}

// New wraps data in a tensor of the given shape.
func New(data []float64, shape ...int) *Dense {
	if len(data) != prod(shape) {
		panic(fmt.Sprintf("%d %#v", len(data), shape))
	}
	return &Dense{shape: slices.Clone(shape), data: data}
}

// Scalar returns a rank zero tensor.
func Scalar(v float64) *Dense {
	return &Dense{shape: []int{}, data: []float64{v}}
}

// FromMat copies a matrix into a new rank two tensor.
func FromMat(m mat.Matrix) *Dense {
	r, c := m.Dims()
	t := Zeros(r, c)
	t.Mat().Copy(m)
	return t
}

func (t *Dense) Shape() []int    { return t.shape }
func (t *Dense) Size() int       { return len(t.data) }
func (t *Dense) Data() []float64 { return t.data }

func (t *Dense) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

func (t *Dense) SetAt(idx []int, v float64) {
	t.data[t.offset(idx)] = v
}

func (t *Dense) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("%#v %#v", idx, t.shape))
	}
	var off int
	for i, n := range t.shape {
		if idx[i] < 0 || idx[i] >= n {
			panic(fmt.Sprintf("%#v %#v", idx, t.shape))
		}
		off = off*n + idx[i]
	}
	return off
}

// Reshape returns a view of t with a new shape.
// At most one dimension may be -1, in which case it is inferred.
func (t *Dense) Reshape(shape ...int) *Dense {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for i, n := range shape {
		if n == -1 {
			if infer >= 0 {
				panic(fmt.Sprintf("%#v", shape))
			}
			infer = i
			continue
		}
		known *= n
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			panic(fmt.Sprintf("%#v %#v", t.shape, shape))
		}
		shape[infer] = len(t.data) / known
	}
	if prod(shape) != len(t.data) {
		panic(fmt.Sprintf("%#v %#v", t.shape, shape))
	}
	return &Dense{shape: shape, data: t.data}
}

// Sub returns a view of the i-th slab along the first axis.
func (t *Dense) Sub(i int) *Dense {
	if len(t.shape) == 0 || i < 0 || i >= t.shape[0] {
		panic(fmt.Sprintf("%d %#v", i, t.shape))
	}
	n := prod(t.shape[1:])
	return &Dense{shape: slices.Clone(t.shape[1:]), data: t.data[i*n : (i+1)*n : (i+1)*n]}
}

// Mat returns a matrix view of a rank two tensor.
func (t *Dense) Mat() *mat.Dense {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("%#v", t.shape))
	}
	if t.shape[0] == 0 || t.shape[1] == 0 {
		panic(fmt.Sprintf("%#v", t.shape))
	}
	return mat.NewDense(t.shape[0], t.shape[1], t.data)
}

func (t *Dense) Clone() *Dense {
	return &Dense{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Slice copies the region bounds[i][0] <= idx[i] < bounds[i][1].
// Axes beyond len(bounds) are taken whole.
func (t *Dense) Slice(bounds [][2]int) *Dense {
	bounds = t.fullBounds(bounds)
	shape := make([]int, len(bounds))
	for i, b := range bounds {
		shape[i] = b[1] - b[0]
	}
	s := Zeros(shape...)
	i := 0
	t.region(bounds, func(off int) {
		s.data[i] = t.data[off]
		i++
	})
	return s
}

// AddSlice adds alpha*src to the region of t given by bounds.
func (t *Dense) AddSlice(bounds [][2]int, alpha float64, src *Dense) {
	bounds = t.fullBounds(bounds)
	n := 1
	for _, b := range bounds {
		n *= b[1] - b[0]
	}
	if n != len(src.data) {
		panic(fmt.Sprintf("%#v %#v", bounds, src.shape))
	}
	i := 0
	t.region(bounds, func(off int) {
		t.data[off] += alpha * src.data[i]
		i++
	})
}

func (t *Dense) fullBounds(bounds [][2]int) [][2]int {
	if len(bounds) > len(t.shape) {
		panic(fmt.Sprintf("%#v %#v", bounds, t.shape))
	}
	full := make([][2]int, len(t.shape))
	for i, n := range t.shape {
		full[i] = [2]int{0, n}
		if i < len(bounds) {
			full[i] = bounds[i]
		}
		if full[i][0] < 0 || full[i][1] > n || full[i][0] > full[i][1] {
			panic(fmt.Sprintf("%#v %#v", bounds, t.shape))
		}
	}
	return full
}

// region calls f with the storage offset of every element of a rectangular region, in row-major order.
func (t *Dense) region(bounds [][2]int, f func(off int)) {
	for _, b := range bounds {
		if b[0] == b[1] {
			return
		}
	}
	if len(bounds) == 0 {
		f(0)
		return
	}
	st := strides(t.shape)
	last := len(bounds) - 1
	idx := make([]int, len(bounds))
	for i := range idx {
		idx[i] = bounds[i][0]
	}
	for {
		base := 0
		for i := 0; i < last; i++ {
			base += idx[i] * st[i]
		}
		for k := bounds[last][0]; k < bounds[last][1]; k++ {
			f(base + k)
		}

		i := last - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < bounds[i][1] {
				break
			}
			idx[i] = bounds[i][0]
		}
		if i < 0 {
			return
		}
	}
}

// Transpose returns a copy of t with its axes permuted, numpy style.
func (t *Dense) Transpose(axes ...int) *Dense {
	if len(axes) != len(t.shape) {
		panic(fmt.Sprintf("%#v %#v", axes, t.shape))
	}
	if isIdentity(axes) {
		return t.Clone()
	}
	st := strides(t.shape)
	shape := make([]int, len(axes))
	srcSt := make([]int, len(axes))
	for i, a := range axes {
		shape[i] = t.shape[a]
		srcSt[i] = st[a]
	}
	out := Zeros(shape...)
	if len(out.data) == 0 {
		return out
	}

	idx := make([]int, len(shape))
	off := 0
	for i := range out.data {
		out.data[i] = t.data[off]
		for k := len(shape) - 1; k >= 0; k-- {
			idx[k]++
			off += srcSt[k]
			if idx[k] < shape[k] {
				break
			}
			off -= idx[k] * srcSt[k]
			idx[k] = 0
		}
	}
	return out
}

// T returns the transpose of the last two axes.
func (t *Dense) T() *Dense {
	r := len(t.shape)
	axes := make([]int, r)
	for i := range axes {
		axes[i] = i
	}
	axes[r-2], axes[r-1] = axes[r-1], axes[r-2]
	return t.Transpose(axes...)
}

// Add sets t = t + b.
func (t *Dense) Add(b *Dense) *Dense {
	return t.AddScaled(1, b)
}

// AddScaled sets t = t + alpha*b.
func (t *Dense) AddScaled(alpha float64, b *Dense) *Dense {
	if len(t.data) != len(b.data) {
		panic(fmt.Sprintf("%#v %#v", t.shape, b.shape))
	}
	floats.AddScaled(t.data, alpha, b.data)
	return t
}

func (t *Dense) Scale(alpha float64) *Dense {
	floats.Scale(alpha, t.data)
	return t
}

// Dot returns the sum over all indices of the elementwise product of t and b.
func (t *Dense) Dot(b *Dense) float64 {
	if len(t.data) != len(b.data) {
		panic(fmt.Sprintf("%#v %#v", t.shape, b.shape))
	}
	return floats.Dot(t.data, b.data)
}

// EqualApprox reports whether t and b have the same shape and elements within tol,
// absolute or relative.
func (t *Dense) EqualApprox(b *Dense, tol float64) bool {
	if !slices.Equal(t.shape, b.shape) {
		return false
	}
	for i, v := range t.data {
		if !scalar.EqualWithinAbsOrRel(v, b.data[i], tol, tol) {
			return false
		}
	}
	return true
}

// MaxAbs returns the largest absolute element.
func (t *Dense) MaxAbs() float64 {
	var m float64
	for _, v := range t.data {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func (t *Dense) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v", t.shape)
	if len(t.shape) == 2 {
		for i := 0; i < t.shape[0]; i++ {
			fmt.Fprintf(&b, "\n%v", t.data[i*t.shape[1]:(i+1)*t.shape[1]])
		}
		return b.String()
	}
	fmt.Fprintf(&b, " %v", t.data)
	return b.String()
}

// Product computes the tensor contraction of a and b over the axes pairs (axis of a, axis of b).
// The result has the free axes of a followed by the free axes of b, as numpy.tensordot.
// dst is reused if it has enough capacity, and must not share storage with a or b.
func Product(dst, a, b *Dense, axes [][2]int) *Dense {
	aCon := make([]bool, len(a.shape))
	bCon := make([]bool, len(b.shape))
	k := 1
	for _, ax := range axes {
		if a.shape[ax[0]] != b.shape[ax[1]] || aCon[ax[0]] || bCon[ax[1]] {
			panic(fmt.Sprintf("%#v %#v %#v", a.shape, b.shape, axes))
		}
		aCon[ax[0]], bCon[ax[1]] = true, true
		k *= a.shape[ax[0]]
	}

	aPerm := make([]int, 0, len(a.shape))
	shape := make([]int, 0, len(a.shape)+len(b.shape)-2*len(axes))
	m := 1
	for i, c := range aCon {
		if !c {
			aPerm = append(aPerm, i)
			shape = append(shape, a.shape[i])
			m *= a.shape[i]
		}
	}
	bPerm := make([]int, 0, len(b.shape))
	for _, ax := range axes {
		aPerm = append(aPerm, ax[0])
		bPerm = append(bPerm, ax[1])
	}
	n := 1
	for i, c := range bCon {
		if !c {
			bPerm = append(bPerm, i)
			shape = append(shape, b.shape[i])
			n *= b.shape[i]
		}
	}

	dst = reset(dst, shape...)
	if m == 0 || n == 0 || k == 0 {
		return dst
	}
	at, bt := a, b
	if !isIdentity(aPerm) {
		at = a.Transpose(aPerm...)
	}
	if !isIdentity(bPerm) {
		bt = b.Transpose(bPerm...)
	}
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas64.General{Rows: m, Cols: k, Stride: k, Data: at.data},
		blas64.General{Rows: k, Cols: n, Stride: n, Data: bt.data},
		0, blas64.General{Rows: m, Cols: n, Stride: n, Data: dst.data})
	return dst
}

// reset reshapes dst to the given shape and zeroes it, allocating when necessary.
func reset(dst *Dense, shape ...int) *Dense {
	n := prod(shape)
	if dst == nil || cap(dst.data) < n {
		return Zeros(shape...)
	}
	dst.shape = append(dst.shape[:0], shape...)
	dst.data = dst.data[:n]
	clear(dst.data)
	return dst
}

func prod(shape []int) int {
	n := 1
	for _, s := range shape {
		if s < 0 {
			panic(fmt.Sprintf("%#v", shape))
		}
		n *= s
	}
	return n
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = s
		s *= shape[i]
	}
	return st
}

func isIdentity(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}
	return true
}
