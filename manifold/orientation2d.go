package manifold

import (
	"go.viam.com/fuse/utils"
)

// Orientation2D is a planar heading in radians. Values are kept on [-pi, pi).
type Orientation2D struct{}

// GlobalSize returns 1.
func (Orientation2D) GlobalSize() int {
	return 1
}

// LocalSize returns 1.
func (Orientation2D) LocalSize() int {
	return 1
}

// Plus returns the wrapped sum of the heading and delta.
func (o Orientation2D) Plus(x, delta []float64) ([]float64, error) {
	if err := checkVector("plus", "x", x, 1); err != nil {
		return nil, err
	}
	if err := checkVector("plus", "delta", delta, 1); err != nil {
		return nil, err
	}
	return []float64{utils.WrapAngle(x[0] + delta[0])}, nil
}

// Minus returns the shortest signed rotation from x to y.
func (o Orientation2D) Minus(x, y []float64) ([]float64, error) {
	if err := checkVector("minus", "x", x, 1); err != nil {
		return nil, err
	}
	if err := checkVector("minus", "y", y, 1); err != nil {
		return nil, err
	}
	return []float64{utils.WrapAngle(y[0] - x[0])}, nil
}

// ComputeJacobian returns [1].
func (o Orientation2D) ComputeJacobian(x []float64) ([]float64, error) {
	if err := checkVector("jacobian", "x", x, 1); err != nil {
		return nil, err
	}
	return []float64{1}, nil
}

// ComputeMinusJacobian returns [1].
func (o Orientation2D) ComputeMinusJacobian(x []float64) ([]float64, error) {
	if err := checkVector("minus jacobian", "x", x, 1); err != nil {
		return nil, err
	}
	return []float64{1}, nil
}
