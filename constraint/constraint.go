// Package constraint defines the probabilistic relations between variables. The graph treats a
// constraint as an opaque edge over an ordered list of variable ids; only the optimizer evaluates
// residuals.
package constraint

import (
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/fuse/loss"
	"go.viam.com/fuse/manifold"
	"go.viam.com/fuse/utils"
	"go.viam.com/fuse/variable"
)

// The constraint type names.
const (
	TypeAbsolute = "fuse_constraints::AbsoluteConstraint"
	TypeRelative = "fuse_constraints::RelativeConstraint"
)

// A Constraint relates an ordered set of variables.
type Constraint interface {
	ID() uuid.UUID
	Type() string
	Source() string
	Variables() []uuid.UUID
	// Evaluate returns the whitened residual given the current value of each variable, in the
	// order of Variables. Failures of the underlying manifold wrap manifold.ErrUndefined.
	Evaluate(values [][]float64) ([]float64, error)
}

// Robust is implemented by constraints that may be evaluated through a loss function.
type Robust interface {
	// Loss returns the loss, or nil for plain least squares.
	Loss() loss.Loss
}

// Cost is half the squared norm of a residual.
func Cost(residual []float64) float64 {
	return loss.Cost(nil, residual)
}

// RobustCost is the cost of residual under the loss of c, if it has one.
func RobustCost(c Constraint, residual []float64) float64 {
	if robust, ok := c.(Robust); ok {
		return loss.Cost(robust.Loss(), residual)
	}
	return Cost(residual)
}

// An Option adjusts a Gaussian constraint at construction.
type Option func(*gaussian)

// WithLoss evaluates the constraint through l.
func WithLoss(l loss.Loss) Option {
	return func(g *gaussian) {
		g.loss = l
	}
}

// gaussian holds the measurement shared by absolute and relative constraints.
type gaussian struct {
	id         uuid.UUID
	source     string
	kind       variable.Kind
	mean       []float64
	covariance *mat.SymDense
	loss       loss.Loss
}

func newGaussian(source string, kind variable.Kind, mean []float64, meanSize int, covariance mat.Symmetric) (gaussian, error) {
	if len(mean) != meanSize {
		return gaussian{}, utils.NewDimensionMismatchError("mean", meanSize, len(mean))
	}
	if !utils.AllFinite(mean...) {
		return gaussian{}, errors.Errorf("mean is not finite: %v", mean)
	}
	local := kind.Manifold.LocalSize()
	if local == 0 {
		return gaussian{}, errors.Errorf("variable type %s has no free directions to constrain", kind.Name)
	}
	if covariance == nil {
		return gaussian{}, errors.New("covariance is required")
	}
	if n := covariance.SymmetricDim(); n != local {
		return gaussian{}, utils.NewDimensionMismatchError("covariance", local*local, n*n)
	}
	cov := mat.NewSymDense(local, nil)
	cov.CopySym(covariance)
	for _, v := range cov.RawSymmetric().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return gaussian{}, errors.New("covariance is not finite")
		}
	}
	return gaussian{
		id:         uuid.New(),
		source:     source,
		kind:       kind,
		mean:       append([]float64(nil), mean...),
		covariance: cov,
	}, nil
}

// ID returns the constraint's random identity.
func (g *gaussian) ID() uuid.UUID {
	return g.id
}

// Source returns the name of the sensor that produced the constraint.
func (g *gaussian) Source() string {
	return g.source
}

// Kind returns the kind of the constrained variables.
func (g *gaussian) Kind() variable.Kind {
	return g.kind
}

// Mean returns a copy of the measured value.
func (g *gaussian) Mean() []float64 {
	return append([]float64(nil), g.mean...)
}

// Loss returns the loss the constraint is evaluated through, or nil.
func (g *gaussian) Loss() loss.Loss {
	return g.loss
}

func (g *gaussian) apply(opts []Option) {
	for _, opt := range opts {
		opt(g)
	}
}

// Covariance returns a copy of the measurement covariance in local coordinates.
func (g *gaussian) Covariance() *mat.SymDense {
	cov := mat.NewSymDense(g.covariance.SymmetricDim(), nil)
	cov.CopySym(g.covariance)
	return cov
}

func (g *gaussian) whiten(delta []float64) ([]float64, error) {
	out, err := Whiten(g.covariance, delta)
	if err != nil {
		return nil, errors.Wrapf(err, "constraint %s", g.id)
	}
	return out, nil
}

// Whiten multiplies delta by the upper triangular square root of the inverse of covariance, so
// the squared norm of the result is the Mahalanobis distance of delta. A covariance that is not
// positive definite fails with manifold.ErrUndefined.
func Whiten(covariance mat.Symmetric, delta []float64) ([]float64, error) {
	n := len(delta)
	if covariance.SymmetricDim() != n {
		return nil, utils.NewDimensionMismatchError("delta", covariance.SymmetricDim(), n)
	}
	var chol mat.Cholesky
	if !chol.Factorize(covariance) {
		return nil, errors.Wrap(manifold.ErrUndefined, "covariance is not positive definite")
	}
	var info mat.SymDense
	if err := chol.InverseTo(&info); err != nil {
		return nil, errors.Wrapf(manifold.ErrUndefined, "%v", err)
	}
	var infoChol mat.Cholesky
	if !infoChol.Factorize(&info) {
		return nil, errors.Wrap(manifold.ErrUndefined, "information is not positive definite")
	}
	var sqrtInfo mat.TriDense
	infoChol.UTo(&sqrtInfo)

	out := mat.NewVecDense(n, nil)
	out.MulVec(&sqrtInfo, mat.NewVecDense(n, append([]float64(nil), delta...)))
	return out.RawVector().Data, nil
}

func checkValues(values [][]float64, want int) error {
	if len(values) != want {
		return errors.Errorf("expected values for %d variables, got %d", want, len(values))
	}
	return nil
}
