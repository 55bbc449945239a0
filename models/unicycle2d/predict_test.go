package unicycle2d

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestPredict(t *testing.T) {
	state := State{VX: 1, VYaw: 1.570796327, AX: 1}

	state = Predict(state, 0.1)
	test.That(t, state.X, test.ShouldAlmostEqual, 0.105, 1e-12)
	test.That(t, state.Y, test.ShouldAlmostEqual, 0.0, 1e-12)
	test.That(t, state.Yaw, test.ShouldAlmostEqual, 0.1570796327, 1e-12)
	test.That(t, state.VX, test.ShouldAlmostEqual, 1.1, 1e-12)
	test.That(t, state.VY, test.ShouldAlmostEqual, 0.0, 1e-12)
	test.That(t, state.VYaw, test.ShouldAlmostEqual, 1.570796327, 1e-12)
	test.That(t, state.AX, test.ShouldAlmostEqual, 1.0, 1e-12)
	test.That(t, state.AY, test.ShouldAlmostEqual, 0.0, 1e-12)

	state = Predict(state, 0.1)
	test.That(t, state.X, test.ShouldAlmostEqual, 0.21858415916807189, 1e-12)
	test.That(t, state.Y, test.ShouldAlmostEqual, 0.017989963481956205, 1e-12)
	test.That(t, state.Yaw, test.ShouldAlmostEqual, 0.3141592654, 1e-12)
	test.That(t, state.VX, test.ShouldAlmostEqual, 1.2, 1e-12)

	t.Run("negative velocities", func(t *testing.T) {
		s := Predict(State{VX: 1, VY: -1, VYaw: -1.570796327, AX: 1, AY: -1}, 0.1)
		test.That(t, s.X, test.ShouldAlmostEqual, 0.105, 1e-12)
		test.That(t, s.Y, test.ShouldAlmostEqual, -0.105, 1e-12)
		test.That(t, s.Yaw, test.ShouldAlmostEqual, -0.1570796327, 1e-12)
		test.That(t, s.VX, test.ShouldAlmostEqual, 1.1, 1e-12)
		test.That(t, s.VY, test.ShouldAlmostEqual, -1.1, 1e-12)
	})

	t.Run("yaw wraps", func(t *testing.T) {
		s := Predict(State{Yaw: 3, VYaw: 1}, 1)
		test.That(t, s.Yaw, test.ShouldAlmostEqual, 4-2*math.Pi, 1e-12)
	})
}

func TestPredictJacobian(t *testing.T) {
	const dt, h = 0.3, 1e-6
	state := State{X: 1, Y: -2, Yaw: 0.7, VX: 1.5, VY: -0.4, VYaw: 0.9, AX: 0.6, AY: 0.2}
	predicted, jacobian := PredictWithJacobian(state, dt)
	test.That(t, predicted, test.ShouldResemble, Predict(state, dt))

	rows, cols := jacobian.Dims()
	test.That(t, rows, test.ShouldEqual, StateSize)
	test.That(t, cols, test.ShouldEqual, StateSize)

	fromVector := func(v []float64) State {
		return State{v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7]}
	}
	for j := 0; j < StateSize; j++ {
		plus, minus := state.Vector(), state.Vector()
		plus[j] += h
		minus[j] -= h
		up := Predict(fromVector(plus), dt).Vector()
		down := Predict(fromVector(minus), dt).Vector()
		for i := 0; i < StateSize; i++ {
			test.That(t, jacobian.At(i, j), test.ShouldAlmostEqual, (up[i]-down[i])/(2*h), 1e-6)
		}
	}
}
