// Package manifold defines generalized addition and subtraction for estimator variables whose
// values do not live in a vector space, such as orientations. An optimizer takes steps in the
// local (tangent) coordinates of a variable and uses Plus to map them back onto the variable's
// global coordinates.
package manifold

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/fuse/utils"
)

// ErrUndefined is wrapped by every error returned when an operator or its Jacobian is not
// defined at the given input. Optimizers should treat a residual failing this way as unusable
// for the current iteration rather than as fatal.
var ErrUndefined = errors.New("manifold operation undefined at input")

// Manifold is the operator pair attached to a variable type.
//
// Plus(x, delta) returns x ⊞ delta, where x has GlobalSize elements and delta LocalSize.
// Minus(x, y) returns the delta for which Plus(x, delta) == y.
// Jacobians are evaluated at delta = 0 (equivalently y = x) and are row-major:
// ComputeJacobian is GlobalSize×LocalSize, ComputeMinusJacobian is LocalSize×GlobalSize.
type Manifold interface {
	GlobalSize() int
	LocalSize() int
	Plus(x, delta []float64) ([]float64, error)
	Minus(x, y []float64) ([]float64, error)
	ComputeJacobian(x []float64) ([]float64, error)
	ComputeMinusJacobian(x []float64) ([]float64, error)
}

// JacobianMultiplier is implemented by manifolds with a faster product than the dense default.
type JacobianMultiplier interface {
	MultiplyByJacobian(x []float64, numRows int, global []float64) ([]float64, error)
}

// MultiplyByJacobian returns global × ComputeJacobian(x), where global is a numRows×GlobalSize
// row-major matrix and the result is numRows×LocalSize. A manifold with no free directions, or
// a product with no rows, yields an empty result without evaluating anything.
func MultiplyByJacobian(m Manifold, x []float64, numRows int, global []float64) ([]float64, error) {
	if numRows < 0 {
		return nil, undefinedf("multiply", "negative row count %d", numRows)
	}
	if m.LocalSize() == 0 {
		return []float64{}, nil
	}
	if numRows == 0 {
		if len(global) != 0 {
			return nil, undefined("multiply", utils.NewDimensionMismatchError("global matrix", 0, len(global)))
		}
		return []float64{}, nil
	}
	if multiplier, ok := m.(JacobianMultiplier); ok {
		return multiplier.MultiplyByJacobian(x, numRows, global)
	}
	if len(global) != numRows*m.GlobalSize() {
		return nil, undefined("multiply", utils.NewDimensionMismatchError("global matrix", numRows*m.GlobalSize(), len(global)))
	}

	jac, err := m.ComputeJacobian(x)
	if err != nil {
		return nil, err
	}
	var local mat.Dense
	local.Mul(
		mat.NewDense(numRows, m.GlobalSize(), global),
		mat.NewDense(m.GlobalSize(), m.LocalSize(), jac),
	)
	return local.RawMatrix().Data, nil
}

func undefined(op string, cause error) error {
	return errors.Wrapf(ErrUndefined, "%s: %v", op, cause)
}

func undefinedf(op, format string, args ...interface{}) error {
	return errors.Wrapf(ErrUndefined, "%s: "+format, append([]interface{}{op}, args...)...)
}

func checkVector(op, name string, v []float64, size int) error {
	if len(v) != size {
		return undefined(op, utils.NewDimensionMismatchError(name, size, len(v)))
	}
	if !utils.AllFinite(v...) {
		return undefinedf(op, "%s is not finite: %v", name, v)
	}
	return nil
}

func identity(n int) []float64 {
	jac := make([]float64, n*n)
	for i := 0; i < n; i++ {
		jac[i*n+i] = 1
	}
	return jac
}
