package collcomm

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/tensor"
)

// A ReduceOp is an elementwise operator used to combine
// tensors from many ranks.
type ReduceOp int

const (
	ReduceOpUndefined ReduceOp = iota
	ReduceOpSum
	ReduceOpProduct
	ReduceOpMax
	ReduceOpMin
)

// ReduceOps lists the supported operators.
var ReduceOps = []ReduceOp{ReduceOpSum, ReduceOpProduct, ReduceOpMax, ReduceOpMin}

func (r ReduceOp) String() string {
	switch r {
	case ReduceOpSum:
		return "Sum"
	case ReduceOpProduct:
		return "Product"
	case ReduceOpMax:
		return "Max"
	case ReduceOpMin:
		return "Min"
	case ReduceOpUndefined:
		return "Undefined"
	default:
		return "ReduceOp(" + strconv.Itoa(int(r)) + ")"
	}
}

// Func resolves the operator to an in-place combine
// function, computing dst = dst op src.
func (r ReduceOp) Func() (tensor.BinaryFunc, error) {
	switch r {
	case ReduceOpSum:
		return tensor.Add, nil
	case ReduceOpProduct:
		return tensor.Multiply, nil
	case ReduceOpMax:
		return tensor.Max, nil
	case ReduceOpMin:
		return tensor.Min, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedOp, "operator %s", r)
	}
}

// ParseReduceOp parses a case-insensitive operator name
// such as "sum" or "max".
func ParseReduceOp(name string) (ReduceOp, error) {
	for _, op := range ReduceOps {
		if strings.EqualFold(op.String(), name) {
			return op, nil
		}
	}
	return ReduceOpUndefined, errors.Wrapf(ErrUnsupportedOp, "operator %q", name)
}
