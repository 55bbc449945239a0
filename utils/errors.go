package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewDimensionMismatchError is used when a vector or matrix does not have the expected length.
func NewDimensionMismatchError(what string, expected, actual int) error {
	return errors.Errorf("%s has %d elements, expected %d", what, actual, expected)
}
