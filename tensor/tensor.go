// Package tensor implements the dense numeric arrays that
// collective operations move between ranks.
//
// A Tensor has a fixed DType and fixed dimensions for its
// whole lifetime. Collective operations read and overwrite
// a Tensor's contents in place, so the shape of a buffer
// passed to a receive must match the shape of the buffer
// that was sent.
package tensor

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ErrShapeMismatch is returned (wrapped) whenever two
// tensors are expected to have the same dtype and
// dimensions but do not.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// A Tensor is a dense, row-major array of numbers.
type Tensor struct {
	dtype DType
	dims  []int

	// flat is a []T for the Go type matching dtype.
	// Views created by Rows share it with their parent.
	flat any
}

// New creates a zero-filled tensor.
//
// It panics if dtype is invalid or a dimension is
// negative.
func New(dtype DType, dims ...int) *Tensor {
	if !dtype.Valid() {
		exceptions.Panicf("tensor.New: invalid dtype %s", dtype)
	}
	size := numElements(dims)
	return &Tensor{
		dtype: dtype,
		dims:  slices.Clone(dims),
		flat:  makeFlat(dtype, size),
	}
}

// FromFlat wraps a flat slice in a tensor without copying
// it. If no dimensions are given, the tensor is 1D.
func FromFlat[T Element](flat []T, dims ...int) *Tensor {
	if len(dims) == 0 {
		dims = []int{len(flat)}
	}
	if size := numElements(dims); size != len(flat) {
		exceptions.Panicf("tensor.FromFlat: dimensions %v require %d elements, got %d", dims, size, len(flat))
	}
	return &Tensor{
		dtype: DTypeOf[T](),
		dims:  slices.Clone(dims),
		flat:  flat,
	}
}

// FromScalar creates a rank-0 tensor holding v.
func FromScalar[T Element](v T) *Tensor {
	return &Tensor{dtype: DTypeOf[T](), dims: []int{}, flat: []T{v}}
}

// ZerosLike creates a zero-filled tensor with the same
// dtype and dimensions as t.
func ZerosLike(t *Tensor) *Tensor {
	return New(t.dtype, t.dims...)
}

// Flat returns the backing slice of t.
//
// It panics if T does not match the tensor's dtype.
func Flat[T Element](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		var zero T
		exceptions.Panicf("tensor.Flat: tensor has dtype %s, not %T", t.dtype, zero)
	}
	return flat
}

// DType returns the element type.
func (t *Tensor) DType() DType {
	return t.dtype
}

// Dims returns a copy of the dimensions.
func (t *Tensor) Dims() []int {
	return slices.Clone(t.dims)
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int {
	return len(t.dims)
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return reflect.ValueOf(t.flat).Len()
}

// ByteSize returns the number of bytes of element data.
func (t *Tensor) ByteSize() int {
	return t.Size() * t.dtype.Size()
}

// SameShape reports whether t and other have the same
// dtype and dimensions.
func (t *Tensor) SameShape(other *Tensor) bool {
	return t.dtype == other.dtype && slices.Equal(t.dims, other.dims)
}

// Shape returns a compact description such as
// "Float32[4 2]".
func (t *Tensor) Shape() string {
	return fmt.Sprintf("%s%v", t.dtype, t.dims)
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	flatV := reflect.ValueOf(t.flat)
	cloneV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(cloneV, flatV)
	return &Tensor{
		dtype: t.dtype,
		dims:  slices.Clone(t.dims),
		flat:  cloneV.Interface(),
	}
}

// CopyFrom overwrites the contents of t with the contents
// of src, which must have the same dtype and dimensions.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.SameShape(src) {
		return errors.Wrapf(ErrShapeMismatch, "copy %s into %s", src.Shape(), t.Shape())
	}
	reflect.Copy(reflect.ValueOf(t.flat), reflect.ValueOf(src.flat))
	return nil
}

// Rows returns a view of the rows [begin, end) along the
// leading axis. The view shares storage with t, so writes
// through either are visible in both.
//
// It panics if t is a scalar or the range is invalid.
func (t *Tensor) Rows(begin, end int) *Tensor {
	if len(t.dims) == 0 {
		exceptions.Panicf("tensor.Rows: cannot slice a scalar")
	}
	if begin < 0 || end < begin || end > t.dims[0] {
		exceptions.Panicf("tensor.Rows: invalid range [%d, %d) for leading dimension %d", begin, end, t.dims[0])
	}
	rowSize := numElements(t.dims[1:])
	dims := slices.Clone(t.dims)
	dims[0] = end - begin
	return &Tensor{
		dtype: t.dtype,
		dims:  dims,
		flat:  reflect.ValueOf(t.flat).Slice(begin*rowSize, end*rowSize).Interface(),
	}
}

// Value returns element i (in row-major order) converted
// to a float64.
func (t *Tensor) Value(i int) float64 {
	switch flat := t.flat.(type) {
	case []float16.Float16:
		return float64(flat[i].Float32())
	case []float32:
		return float64(flat[i])
	case []float64:
		return flat[i]
	case []int32:
		return float64(flat[i])
	case []int64:
		return float64(flat[i])
	}
	exceptions.Panicf("tensor.Value: unsupported dtype %s", t.dtype)
	return 0
}

// SetValue sets element i (in row-major order) to v,
// converted to the tensor's dtype.
func (t *Tensor) SetValue(i int, v float64) {
	switch flat := t.flat.(type) {
	case []float16.Float16:
		flat[i] = float16.Fromfloat32(float32(v))
	case []float32:
		flat[i] = float32(v)
	case []float64:
		flat[i] = v
	case []int32:
		flat[i] = int32(v)
	case []int64:
		flat[i] = int64(v)
	}
}

// FromValues creates a tensor of the given dtype holding
// values converted from float64.
func FromValues(dtype DType, values []float64, dims ...int) *Tensor {
	if len(dims) == 0 {
		dims = []int{len(values)}
	}
	t := New(dtype, dims...)
	if t.Size() != len(values) {
		exceptions.Panicf("tensor.FromValues: dimensions %v require %d elements, got %d", dims, t.Size(), len(values))
	}
	for i, v := range values {
		t.SetValue(i, v)
	}
	return t
}

// Fill sets every element to v, converted to the tensor's
// dtype.
func (t *Tensor) Fill(v float64) {
	switch flat := t.flat.(type) {
	case []float16.Float16:
		fill(flat, float16.Fromfloat32(float32(v)))
	case []float32:
		fill(flat, float32(v))
	case []float64:
		fill(flat, v)
	case []int32:
		fill(flat, int32(v))
	case []int64:
		fill(flat, int64(v))
	}
}

func fill[T Element](flat []T, v T) {
	for i := range flat {
		flat[i] = v
	}
}

// Values returns all elements converted to float64.
func (t *Tensor) Values() []float64 {
	res := make([]float64, t.Size())
	for i := range res {
		res[i] = t.Value(i)
	}
	return res
}

func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString(t.Shape())
	sb.WriteString(": ")
	_, _ = fmt.Fprint(&sb, t.flat)
	return sb.String()
}

// Equal reports whether a and b have the same shape and
// exactly the same elements.
func Equal(a, b *Tensor) bool {
	return a.SameShape(b) && reflect.DeepEqual(a.flat, b.flat)
}

// AllClose reports whether a and b have the same shape and
// every pair of elements satisfies
// |a-b| <= atol + rtol*|b|.
func AllClose(a, b *Tensor, rtol, atol float64) bool {
	if !a.SameShape(b) {
		return false
	}
	for i := 0; i < a.Size(); i++ {
		x, y := a.Value(i), b.Value(i)
		if x == y {
			continue
		}
		if math.Abs(x-y) > atol+rtol*math.Abs(y) {
			return false
		}
	}
	return true
}

func numElements(dims []int) int {
	size := 1
	for _, d := range dims {
		if d < 0 {
			exceptions.Panicf("tensor: negative dimension in %v", dims)
		}
		size *= d
	}
	return size
}
