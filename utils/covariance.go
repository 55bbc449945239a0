package utils

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SymmetryTolerance is the largest absolute difference allowed between mirrored entries of a
// matrix that is considered symmetric.
const SymmetryTolerance = 1e-9

// IsSymmetric reports whether the square matrix equals its transpose within tol.
func IsSymmetric(m mat.Matrix, tol float64) bool {
	rows, cols := m.Dims()
	if rows != cols {
		return false
	}
	for i := 0; i < rows; i++ {
		for j := i + 1; j < cols; j++ {
			if math.Abs(m.At(i, j)-m.At(j, i)) > tol {
				return false
			}
		}
	}
	return true
}

// IsPositiveDefinite reports whether the symmetric matrix admits a Cholesky factorization.
func IsPositiveDefinite(m mat.Symmetric) bool {
	var chol mat.Cholesky
	return chol.Factorize(m)
}

// SymmetrizeDense returns the symmetric part of a square dense matrix, (m + mᵀ) / 2.
func SymmetrizeDense(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return sym
}

// DiagonalFromSigmas returns diag(sigma_i^2).
func DiagonalFromSigmas(sigmas ...float64) *mat.SymDense {
	cov := mat.NewSymDense(len(sigmas), nil)
	for i, sigma := range sigmas {
		cov.SetSym(i, i, sigma*sigma)
	}
	return cov
}

// ValidateCovariance checks that every entry of a covariance is finite and, unless skipChecks is
// set, that it is symmetric and positive definite.
func ValidateCovariance(what string, cov mat.Matrix, skipChecks bool) error {
	rows, cols := cov.Dims()
	if rows != cols {
		return errors.Errorf("%s covariance is %dx%d, expected a square matrix", what, rows, cols)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if !AllFinite(cov.At(i, j)) {
				return errors.Errorf("%s covariance has a non-finite entry at (%d, %d)", what, i, j)
			}
		}
	}
	if skipChecks {
		return nil
	}
	if !IsSymmetric(cov, SymmetryTolerance) {
		return errors.Errorf("%s covariance is not symmetric", what)
	}
	if !IsPositiveDefinite(SymmetrizeDense(cov)) {
		return errors.Errorf("%s covariance is not positive definite", what)
	}
	return nil
}
