package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// DType identifies the element type of a Tensor.
type DType int

const (
	// InvalidDType is the zero value and is never used by
	// a valid Tensor.
	InvalidDType DType = iota

	// Float16 is an IEEE 754 half-precision float, stored
	// as a float16.Float16.
	Float16

	Float32
	Float64
	Int32
	Int64
)

// Size returns the number of bytes used by one element.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	}
	return 0
}

// IsFloat reports whether the dtype is a floating-point
// type, in which case reductions are only exact up to
// rounding.
func (d DType) IsFloat() bool {
	return d == Float16 || d == Float32 || d == Float64
}

// Valid reports whether d is one of the supported dtypes.
func (d DType) Valid() bool {
	return d >= Float16 && d <= Int64
}

func (d DType) String() string {
	switch d {
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Element is the set of Go types that back a Tensor.
type Element interface {
	float16.Float16 | float32 | float64 | int32 | int64
}

// DTypeOf returns the DType for the Go type T.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	}
	return InvalidDType
}

func makeFlat(dtype DType, size int) any {
	switch dtype {
	case Float16:
		return make([]float16.Float16, size)
	case Float32:
		return make([]float32, size)
	case Float64:
		return make([]float64, size)
	case Int32:
		return make([]int32, size)
	case Int64:
		return make([]int64, size)
	}
	return nil
}
