package manifold

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// UnitTolerance is how far the norm of a quaternion may stray from one before Orientation3D
// refuses to operate on it.
const UnitTolerance = 1e-3

// Orientation3D is a unit quaternion stored as (w, x, y, z) whose tangent space is the
// angle-axis vector. Plus(q, delta) = q ⊗ exp(delta) and Minus(q1, q2) = log(q1* ⊗ q2).
type Orientation3D struct{}

// GlobalSize returns 4.
func (Orientation3D) GlobalSize() int {
	return 4
}

// LocalSize returns 3.
func (Orientation3D) LocalSize() int {
	return 3
}

// Plus rotates q by the angle-axis delta expressed in q's frame.
func (o Orientation3D) Plus(x, delta []float64) ([]float64, error) {
	q, err := unitQuaternion("plus", "x", x)
	if err != nil {
		return nil, err
	}
	if err := checkVector("plus", "delta", delta, 3); err != nil {
		return nil, err
	}
	return quatToSlice(quat.Mul(q, AngleAxisToQuaternion(delta))), nil
}

// Minus returns the angle-axis rotation taking x to y.
func (o Orientation3D) Minus(x, y []float64) ([]float64, error) {
	q1, err := unitQuaternion("minus", "x", x)
	if err != nil {
		return nil, err
	}
	q2, err := unitQuaternion("minus", "y", y)
	if err != nil {
		return nil, err
	}
	return QuaternionToAngleAxis(quat.Mul(quat.Conj(q1), q2)), nil
}

// ComputeJacobian returns d(x ⊗ exp(delta))/d(delta) at delta = 0, a 4×3 matrix.
func (o Orientation3D) ComputeJacobian(x []float64) ([]float64, error) {
	if _, err := unitQuaternion("jacobian", "x", x); err != nil {
		return nil, err
	}
	w, i, j, k := x[0], x[1], x[2], x[3]
	return []float64{
		-0.5 * i, -0.5 * j, -0.5 * k,
		0.5 * w, -0.5 * k, 0.5 * j,
		0.5 * k, 0.5 * w, -0.5 * i,
		-0.5 * j, 0.5 * i, 0.5 * w,
	}, nil
}

// ComputeMinusJacobian returns d(log(x* ⊗ y))/dy at y = x, a 3×4 matrix.
func (o Orientation3D) ComputeMinusJacobian(x []float64) ([]float64, error) {
	if _, err := unitQuaternion("minus jacobian", "x", x); err != nil {
		return nil, err
	}
	w, i, j, k := x[0], x[1], x[2], x[3]
	return []float64{
		-2 * i, 2 * w, 2 * k, -2 * j,
		-2 * j, -2 * k, 2 * w, 2 * i,
		-2 * k, 2 * j, -2 * i, 2 * w,
	}, nil
}

// AngleAxisToQuaternion is the exponential map from an angle-axis vector to a unit quaternion.
func AngleAxisToQuaternion(aa []float64) quat.Number {
	thetaSq := aa[0]*aa[0] + aa[1]*aa[1] + aa[2]*aa[2]
	if thetaSq > 0 {
		theta := math.Sqrt(thetaSq)
		halfTheta := theta / 2
		k := math.Sin(halfTheta) / theta
		return quat.Number{Real: math.Cos(halfTheta), Imag: aa[0] * k, Jmag: aa[1] * k, Kmag: aa[2] * k}
	}
	// First order Taylor expansion around zero.
	return quat.Number{Real: 1, Imag: aa[0] / 2, Jmag: aa[1] / 2, Kmag: aa[2] / 2}
}

// QuaternionToAngleAxis is the logarithm map of a unit quaternion. The norm of the result is at
// most pi.
func QuaternionToAngleAxis(q quat.Number) []float64 {
	sinSqTheta := q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag
	if sinSqTheta > 0 {
		sinTheta := math.Sqrt(sinSqTheta)
		cosTheta := q.Real
		// q and -q are the same rotation; pick the one with the smaller angle.
		var twoTheta float64
		if cosTheta < 0 {
			twoTheta = 2 * math.Atan2(-sinTheta, -cosTheta)
		} else {
			twoTheta = 2 * math.Atan2(sinTheta, cosTheta)
		}
		k := twoTheta / sinTheta
		return []float64{q.Imag * k, q.Jmag * k, q.Kmag * k}
	}
	return []float64{q.Imag * 2, q.Jmag * 2, q.Kmag * 2}
}

func unitQuaternion(op, name string, x []float64) (quat.Number, error) {
	if err := checkVector(op, name, x, 4); err != nil {
		return quat.Number{}, err
	}
	q := quat.Number{Real: x[0], Imag: x[1], Jmag: x[2], Kmag: x[3]}
	if norm := quat.Abs(q); math.Abs(norm-1) > UnitTolerance {
		return quat.Number{}, undefinedf(op, "%s is not a unit quaternion (norm %f)", name, norm)
	}
	return q, nil
}

func quatToSlice(q quat.Number) []float64 {
	return []float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}
