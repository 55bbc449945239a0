package manifold

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

const tolerance = 1e-9

type manifoldCase struct {
	name     string
	manifold Manifold
	// sample returns a valid point on the manifold.
	sample func(r *rand.Rand) []float64
	// delta returns a tangent vector small enough to stay within the injectivity radius.
	delta func(r *rand.Rand) []float64
}

func randomVector(r *rand.Rand, n int, scale float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = (2*r.Float64() - 1) * scale
	}
	return v
}

func randomUnitQuaternion(r *rand.Rand) []float64 {
	q := AngleAxisToQuaternion(randomVector(r, 3, 1.5))
	return []float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

func manifoldCases() []manifoldCase {
	return []manifoldCase{
		{
			name:     "euclidean3",
			manifold: Euclidean(3),
			sample:   func(r *rand.Rand) []float64 { return randomVector(r, 3, 10) },
			delta:    func(r *rand.Rand) []float64 { return randomVector(r, 3, 10) },
		},
		{
			name:     "orientation2d",
			manifold: Orientation2D{},
			sample:   func(r *rand.Rand) []float64 { return randomVector(r, 1, 3) },
			delta:    func(r *rand.Rand) []float64 { return randomVector(r, 1, 3) },
		},
		{
			name:     "orientation3d",
			manifold: Orientation3D{},
			sample:   randomUnitQuaternion,
			delta:    func(r *rand.Rand) []float64 { return randomVector(r, 3, 1.5) },
		},
		{
			name:     "constant",
			manifold: Constant(2),
			sample:   func(r *rand.Rand) []float64 { return randomVector(r, 2, 10) },
			delta:    func(r *rand.Rand) []float64 { return []float64{} },
		},
	}
}

func TestMinusOfSelfIsZero(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, tc := range manifoldCases() {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				x := tc.sample(r)
				delta, err := tc.manifold.Minus(x, x)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, len(delta), test.ShouldEqual, tc.manifold.LocalSize())
				for _, d := range delta {
					test.That(t, d, test.ShouldAlmostEqual, 0, tolerance)
				}
			}
		})
	}
}

func TestPlusZeroIsIdentity(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for _, tc := range manifoldCases() {
		t.Run(tc.name, func(t *testing.T) {
			x := tc.sample(r)
			x2, err := tc.manifold.Plus(x, make([]float64, tc.manifold.LocalSize()))
			test.That(t, err, test.ShouldBeNil)
			for i := range x {
				test.That(t, x2[i], test.ShouldAlmostEqual, x[i], tolerance)
			}
		})
	}
}

func TestMinusInvertsPlus(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for _, tc := range manifoldCases() {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				x := tc.sample(r)
				delta := tc.delta(r)
				x2, err := tc.manifold.Plus(x, delta)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, len(x2), test.ShouldEqual, tc.manifold.GlobalSize())

				actual, err := tc.manifold.Minus(x, x2)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, len(actual), test.ShouldEqual, len(delta))
				for j := range delta {
					test.That(t, actual[j], test.ShouldAlmostEqual, delta[j], 1e-8)
				}
			}
		})
	}
}

func TestPlusInvertsMinus(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for _, tc := range manifoldCases() {
		if tc.manifold.LocalSize() == 0 {
			continue
		}
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				x := tc.sample(r)
				y := tc.sample(r)
				delta, err := tc.manifold.Minus(x, y)
				test.That(t, err, test.ShouldBeNil)
				y2, err := tc.manifold.Plus(x, delta)
				test.That(t, err, test.ShouldBeNil)

				// q and -q are the same orientation.
				sign := 1.
				if _, ok := tc.manifold.(Orientation3D); ok && y2[0]*y[0] < 0 {
					sign = -1
				}
				for j := range y {
					test.That(t, sign*y2[j], test.ShouldAlmostEqual, y[j], 1e-8)
				}
			}
		})
	}
}

// numericJacobian differentiates f at zero with central differences. The result is row-major with
// one row per output and one column per input.
func numericJacobian(f func(v []float64) []float64, in, out int) []float64 {
	const h = 1e-6
	jac := make([]float64, out*in)
	for col := 0; col < in; col++ {
		plus := make([]float64, in)
		minus := make([]float64, in)
		plus[col] = h
		minus[col] = -h
		fPlus := f(plus)
		fMinus := f(minus)
		for row := 0; row < out; row++ {
			jac[row*in+col] = (fPlus[row] - fMinus[row]) / (2 * h)
		}
	}
	return jac
}

func TestJacobiansMatchNumericDerivatives(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for _, tc := range manifoldCases() {
		if tc.manifold.LocalSize() == 0 {
			continue
		}
		t.Run(tc.name, func(t *testing.T) {
			m := tc.manifold
			x := tc.sample(r)

			expected := numericJacobian(func(delta []float64) []float64 {
				out, err := m.Plus(x, delta)
				test.That(t, err, test.ShouldBeNil)
				return out
			}, m.LocalSize(), m.GlobalSize())
			actual, err := m.ComputeJacobian(x)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, len(actual), test.ShouldEqual, m.GlobalSize()*m.LocalSize())
			for i := range expected {
				test.That(t, actual[i], test.ShouldAlmostEqual, expected[i], 1e-6)
			}

			expectedMinus := numericJacobian(func(dy []float64) []float64 {
				y := make([]float64, len(x))
				for i := range x {
					y[i] = x[i] + dy[i]
				}
				out, err := m.Minus(x, y)
				test.That(t, err, test.ShouldBeNil)
				return out
			}, m.GlobalSize(), m.LocalSize())
			actualMinus, err := m.ComputeMinusJacobian(x)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, len(actualMinus), test.ShouldEqual, m.GlobalSize()*m.LocalSize())
			for i := range expectedMinus {
				test.That(t, actualMinus[i], test.ShouldAlmostEqual, expectedMinus[i], 1e-6)
			}
		})
	}
}

func TestMinusJacobianIsLeftInverseOfPlusJacobian(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	for _, tc := range manifoldCases() {
		if tc.manifold.LocalSize() == 0 {
			continue
		}
		t.Run(tc.name, func(t *testing.T) {
			m := tc.manifold
			x := tc.sample(r)
			plusJac, err := m.ComputeJacobian(x)
			test.That(t, err, test.ShouldBeNil)
			minusJac, err := m.ComputeMinusJacobian(x)
			test.That(t, err, test.ShouldBeNil)

			var product mat.Dense
			product.Mul(
				mat.NewDense(m.LocalSize(), m.GlobalSize(), minusJac),
				mat.NewDense(m.GlobalSize(), m.LocalSize(), plusJac),
			)
			test.That(t, mat.EqualApprox(&product, eye(m.LocalSize()), tolerance), test.ShouldBeTrue)
		})
	}
}

func eye(n int) *mat.Dense {
	return mat.NewDense(n, n, identity(n))
}

func TestMultiplyByJacobian(t *testing.T) {
	x := []float64{math.Cos(0.2), 0, 0, math.Sin(0.2)}
	global := []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}
	actual, err := MultiplyByJacobian(Orientation3D{}, x, 2, global)
	test.That(t, err, test.ShouldBeNil)

	jac, err := Orientation3D{}.ComputeJacobian(x)
	test.That(t, err, test.ShouldBeNil)
	var expected mat.Dense
	expected.Mul(mat.NewDense(2, 4, global), mat.NewDense(4, 3, jac))
	test.That(t, mat.EqualApprox(mat.NewDense(2, 3, actual), &expected, tolerance), test.ShouldBeTrue)

	// The Euclidean fast path is the identity.
	actual, err = MultiplyByJacobian(Euclidean(2), []float64{1, 1}, 2, []float64{1, 2, 3, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, actual, test.ShouldResemble, []float64{1, 2, 3, 4})

	// No free directions means nothing to multiply, even with a bogus input.
	actual, err = MultiplyByJacobian(Constant(3), nil, 2, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, actual, test.ShouldBeEmpty)

	_, err = MultiplyByJacobian(Orientation3D{}, x, 2, global[:5])
	test.That(t, errors.Is(err, ErrUndefined), test.ShouldBeTrue)
}

func TestMultiplyByJacobianRowCount(t *testing.T) {
	x := []float64{math.Cos(0.2), 0, 0, math.Sin(0.2)}
	for _, m := range []Manifold{Orientation3D{}, Orientation2D{}, Euclidean(3)} {
		point := make([]float64, m.GlobalSize())
		if m.GlobalSize() == 4 {
			point = x
		}
		actual, err := MultiplyByJacobian(m, point, 0, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, actual, test.ShouldNotBeNil)
		test.That(t, actual, test.ShouldBeEmpty)

		_, err = MultiplyByJacobian(m, point, 0, []float64{1})
		test.That(t, errors.Is(err, ErrUndefined), test.ShouldBeTrue)

		_, err = MultiplyByJacobian(m, point, -1, nil)
		test.That(t, errors.Is(err, ErrUndefined), test.ShouldBeTrue)
	}
}

func TestUndefinedInputs(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   func() error
	}{
		{"euclidean wrong length", func() error {
			_, err := Euclidean(2).Plus([]float64{1}, []float64{1, 2})
			return err
		}},
		{"euclidean nan", func() error {
			_, err := Euclidean(2).Minus([]float64{1, math.NaN()}, []float64{1, 2})
			return err
		}},
		{"orientation2d inf", func() error {
			_, err := Orientation2D{}.Plus([]float64{math.Inf(1)}, []float64{0})
			return err
		}},
		{"orientation3d zero quaternion", func() error {
			_, err := Orientation3D{}.Plus([]float64{0, 0, 0, 0}, []float64{0.1, 0, 0})
			return err
		}},
		{"orientation3d non-unit jacobian", func() error {
			_, err := Orientation3D{}.ComputeJacobian([]float64{2, 0, 0, 0})
			return err
		}},
		{"orientation3d nan delta", func() error {
			_, err := Orientation3D{}.Plus([]float64{1, 0, 0, 0}, []float64{math.NaN(), 0, 0})
			return err
		}},
		{"orientation3d minus non-unit", func() error {
			_, err := Orientation3D{}.Minus([]float64{1, 0, 0, 0}, []float64{0.5, 0, 0, 0})
			return err
		}},
		{"constant nonzero delta", func() error {
			_, err := Constant(1).Plus([]float64{1}, []float64{1})
			return err
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.op()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, ErrUndefined), test.ShouldBeTrue)
		})
	}
}

func TestOrientation2DWraps(t *testing.T) {
	x, err := Orientation2D{}.Plus([]float64{3}, []float64{0.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x[0], test.ShouldAlmostEqual, 3.5-2*math.Pi, tolerance)

	delta, err := Orientation2D{}.Minus([]float64{3}, []float64{-3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, delta[0], test.ShouldAlmostEqual, 2*math.Pi-6, tolerance)
}

func TestAngleAxisRoundTrip(t *testing.T) {
	aa := []float64{0.3, -0.2, 0.1}
	q := AngleAxisToQuaternion(aa)
	test.That(t, quat.Abs(q), test.ShouldAlmostEqual, 1, tolerance)
	back := QuaternionToAngleAxis(q)
	for i := range aa {
		test.That(t, back[i], test.ShouldAlmostEqual, aa[i], tolerance)
	}

	// -q is the same rotation and must map to the same angle-axis vector.
	back = QuaternionToAngleAxis(quat.Scale(-1, q))
	for i := range aa {
		test.That(t, back[i], test.ShouldAlmostEqual, aa[i], tolerance)
	}

	zero := QuaternionToAngleAxis(quat.Number{Real: 1})
	test.That(t, zero, test.ShouldResemble, []float64{0, 0, 0})
}
