package tensor

import (
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// A BinaryFunc combines src into dst elementwise, in place.
// Both tensors must have the same dtype and dimensions.
type BinaryFunc func(dst, src *Tensor) error

type binaryOp int

const (
	opAdd binaryOp = iota
	opMultiply
	opMax
	opMin
)

func (o binaryOp) String() string {
	return [...]string{"add", "multiply", "max", "min"}[o]
}

// Add computes dst[i] += src[i].
func Add(dst, src *Tensor) error {
	return apply(opAdd, dst, src)
}

// Multiply computes dst[i] *= src[i].
func Multiply(dst, src *Tensor) error {
	return apply(opMultiply, dst, src)
}

// Max computes dst[i] = max(dst[i], src[i]).
func Max(dst, src *Tensor) error {
	return apply(opMax, dst, src)
}

// Min computes dst[i] = min(dst[i], src[i]).
func Min(dst, src *Tensor) error {
	return apply(opMin, dst, src)
}

func apply(op binaryOp, dst, src *Tensor) error {
	if !dst.SameShape(src) {
		return errors.Wrapf(ErrShapeMismatch, "%s %s into %s", op, src.Shape(), dst.Shape())
	}
	switch d := dst.flat.(type) {
	case []float16.Float16:
		combineFloat16(op, d, src.flat.([]float16.Float16))
	case []float32:
		combine(op, d, src.flat.([]float32))
	case []float64:
		combine(op, d, src.flat.([]float64))
	case []int32:
		combine(op, d, src.flat.([]int32))
	case []int64:
		combine(op, d, src.flat.([]int64))
	default:
		return errors.Errorf("%s: unsupported dtype %s", op, dst.dtype)
	}
	return nil
}

type number interface {
	constraints.Integer | constraints.Float
}

func combine[T number](op binaryOp, dst, src []T) {
	switch op {
	case opAdd:
		for i, x := range src {
			dst[i] += x
		}
	case opMultiply:
		for i, x := range src {
			dst[i] *= x
		}
	case opMax:
		for i, x := range src {
			dst[i] = max(dst[i], x)
		}
	case opMin:
		for i, x := range src {
			dst[i] = min(dst[i], x)
		}
	}
}

// combineFloat16 computes in float32 and rounds each
// result back to half precision.
func combineFloat16(op binaryOp, dst, src []float16.Float16) {
	wide := make([]float32, len(dst))
	other := make([]float32, len(src))
	for i := range dst {
		wide[i] = dst[i].Float32()
		other[i] = src[i].Float32()
	}
	combine(op, wide, other)
	for i, x := range wide {
		dst[i] = float16.Fromfloat32(x)
	}
}
