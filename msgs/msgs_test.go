package msgs

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestYaw(t *testing.T) {
	test.That(t, Yaw(quat.Number{Real: 0.9987503, Kmag: 0.0499792}), test.ShouldAlmostEqual, 0.1, 1e-5)
	test.That(t, Yaw(QuaternionFromYaw(2.3)), test.ShouldAlmostEqual, 2.3, 1e-12)
	test.That(t, Yaw(QuaternionFromYaw(-3)), test.ShouldAlmostEqual, -3, 1e-12)
	test.That(t, Yaw(quat.Number{Real: 1}), test.ShouldEqual, 0)
}

func TestCovarianceBlocks(t *testing.T) {
	var cov Covariance6
	for i := range cov {
		cov[i] = float64(i)
	}
	block := cov.Block(0, 1, 5)
	test.That(t, block.At(0, 0), test.ShouldEqual, 0)
	test.That(t, block.At(1, 1), test.ShouldEqual, 7)
	test.That(t, block.At(2, 2), test.ShouldEqual, 35)
	test.That(t, block.At(0, 2), test.ShouldEqual, 5)
	test.That(t, block.At(2, 0), test.ShouldEqual, 5)

	sub := cov.Sub(0, 5)
	test.That(t, sub.At(0, 1), test.ShouldEqual, 5)
	test.That(t, sub.At(1, 0), test.ShouldEqual, 30)

	test.That(t, cov.Dense().At(5, 5), test.ShouldEqual, 35)
}
