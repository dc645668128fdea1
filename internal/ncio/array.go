package ncio

import "fmt"

// Array is a dense row-major float64 array.
type Array struct {
	Data  []float64
	Shape []int
}

// NewArray allocates a zeroed array of the given shape.
func NewArray(shape ...int) *Array {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Array{Data: make([]float64, n), Shape: append([]int(nil), shape...)}
}

// Wrap returns an array over data without copying. It fails when the
// shape does not account for every element.
func Wrap(data []float64, shape ...int) (*Array, error) {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v holds %d values, have %d", shape, n, len(data))
	}
	return &Array{Data: data, Shape: append([]int(nil), shape...)}, nil
}

func (a *Array) Rank() int { return len(a.Shape) }

func (a *Array) Len() int { return len(a.Data) }

// Stride is the distance in Data between neighbours along dim.
func (a *Array) Stride(dim int) int {
	s := 1
	for i := dim + 1; i < len(a.Shape); i++ {
		s *= a.Shape[i]
	}
	return s
}

// Offset converts a multi-index into a position in Data.
func (a *Array) Offset(idx ...int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("ncio: index rank %d for array of rank %d", len(idx), len(a.Shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= a.Shape[i] {
			panic(fmt.Sprintf("ncio: index %d out of range [0,%d) on axis %d", v, a.Shape[i], i))
		}
		off = off*a.Shape[i] + v
	}
	return off
}

func (a *Array) At(idx ...int) float64 { return a.Data[a.Offset(idx...)] }

func (a *Array) Set(v float64, idx ...int) { a.Data[a.Offset(idx...)] = v }

// Sub returns a view of the trailing dimensions at the leading index
// prefix. Writes through the view land in a.
func (a *Array) Sub(prefix ...int) *Array {
	if len(prefix) > len(a.Shape) {
		panic("ncio: prefix longer than rank")
	}
	off := 0
	for i, v := range prefix {
		if v < 0 || v >= a.Shape[i] {
			panic(fmt.Sprintf("ncio: index %d out of range [0,%d) on axis %d", v, a.Shape[i], i))
		}
		off = off*a.Shape[i] + v
	}
	rest := a.Shape[len(prefix):]
	n := 1
	for _, s := range rest {
		n *= s
	}
	off *= n
	return &Array{Data: a.Data[off : off+n], Shape: append([]int(nil), rest...)}
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{Data: append([]float64(nil), a.Data...), Shape: append([]int(nil), a.Shape...)}
}

// Flip reverses the array along axis and returns a new array.
func (a *Array) Flip(axis int) *Array {
	out := a.Clone()
	n := a.Shape[axis]
	stride := a.Stride(axis)
	block := n * stride
	for base := 0; base < len(a.Data); base += block {
		for i := 0; i < n; i++ {
			src := a.Data[base+i*stride : base+(i+1)*stride]
			dst := out.Data[base+(n-1-i)*stride : base+(n-i)*stride]
			copy(dst, src)
		}
	}
	return out
}

// Scale multiplies every element by f in place.
func (a *Array) Scale(f float64) *Array {
	for i := range a.Data {
		a.Data[i] *= f
	}
	return a
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Array) bool { return sameShape(a.Shape, b.Shape) }
