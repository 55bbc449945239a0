package manifold

// Constant is a manifold with GlobalSize coordinates and no free directions. Plus leaves the value
// untouched and Minus is always the empty vector.
type Constant int

// GlobalSize returns n.
func (c Constant) GlobalSize() int {
	return int(c)
}

// LocalSize returns 0.
func (c Constant) LocalSize() int {
	return 0
}

// Plus returns a copy of x.
func (c Constant) Plus(x, delta []float64) ([]float64, error) {
	if err := checkVector("plus", "x", x, c.GlobalSize()); err != nil {
		return nil, err
	}
	if err := checkVector("plus", "delta", delta, 0); err != nil {
		return nil, err
	}
	return append([]float64(nil), x...), nil
}

// Minus returns the empty vector.
func (c Constant) Minus(x, y []float64) ([]float64, error) {
	if err := checkVector("minus", "x", x, c.GlobalSize()); err != nil {
		return nil, err
	}
	if err := checkVector("minus", "y", y, c.GlobalSize()); err != nil {
		return nil, err
	}
	return []float64{}, nil
}

// ComputeJacobian returns the empty GlobalSize×0 matrix.
func (c Constant) ComputeJacobian(x []float64) ([]float64, error) {
	if err := checkVector("jacobian", "x", x, c.GlobalSize()); err != nil {
		return nil, err
	}
	return []float64{}, nil
}

// ComputeMinusJacobian returns the empty 0×GlobalSize matrix.
func (c Constant) ComputeMinusJacobian(x []float64) ([]float64, error) {
	if err := checkVector("minus jacobian", "x", x, c.GlobalSize()); err != nil {
		return nil, err
	}
	return []float64{}, nil
}
