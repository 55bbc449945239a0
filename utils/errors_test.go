package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestNewUnexpectedTypeError(t *testing.T) {
	err := NewUnexpectedTypeError("", 5)
	test.That(t, err.Error(), test.ShouldEqual, "expected string but got int")

	err = NewDimensionMismatchError("initial_state", 8, 3)
	test.That(t, err.Error(), test.ShouldEqual, "initial_state has 3 elements, expected 8")
}
