package manifold

// Euclidean is the trivial manifold on R^n: Plus is addition and Minus is subtraction.
type Euclidean int

// GlobalSize returns n.
func (e Euclidean) GlobalSize() int {
	return int(e)
}

// LocalSize returns n.
func (e Euclidean) LocalSize() int {
	return int(e)
}

// Plus returns x + delta.
func (e Euclidean) Plus(x, delta []float64) ([]float64, error) {
	if err := checkVector("plus", "x", x, e.GlobalSize()); err != nil {
		return nil, err
	}
	if err := checkVector("plus", "delta", delta, e.LocalSize()); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] + delta[i]
	}
	return out, nil
}

// Minus returns y - x.
func (e Euclidean) Minus(x, y []float64) ([]float64, error) {
	if err := checkVector("minus", "x", x, e.GlobalSize()); err != nil {
		return nil, err
	}
	if err := checkVector("minus", "y", y, e.GlobalSize()); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = y[i] - x[i]
	}
	return out, nil
}

// ComputeJacobian returns the n×n identity.
func (e Euclidean) ComputeJacobian(x []float64) ([]float64, error) {
	if err := checkVector("jacobian", "x", x, e.GlobalSize()); err != nil {
		return nil, err
	}
	return identity(int(e)), nil
}

// ComputeMinusJacobian returns the n×n identity.
func (e Euclidean) ComputeMinusJacobian(x []float64) ([]float64, error) {
	if err := checkVector("minus jacobian", "x", x, e.GlobalSize()); err != nil {
		return nil, err
	}
	return identity(int(e)), nil
}

// MultiplyByJacobian returns a copy of global, since the Jacobian is the identity.
func (e Euclidean) MultiplyByJacobian(x []float64, numRows int, global []float64) ([]float64, error) {
	if err := checkVector("multiply", "global matrix", global, numRows*e.GlobalSize()); err != nil {
		return nil, err
	}
	return append([]float64(nil), global...), nil
}
