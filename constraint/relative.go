package constraint

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/fuse/variable"
)

// Relative measures the change between two variables of the same kind. The mean is expressed in
// local coordinates: x2 is expected to be Plus(x1, mean).
type Relative struct {
	gaussian
	from, to uuid.UUID
}

// NewRelative returns a constraint measuring the change from v1 to v2.
func NewRelative(source string, v1, v2 variable.Variable, delta []float64, covariance mat.Symmetric, opts ...Option) (*Relative, error) {
	if v1.Type() != v2.Type() {
		return nil, errors.Errorf("relative constraint between different variable types %s and %s", v1.Type(), v2.Type())
	}
	kind := variable.Kind{Name: v1.Type(), Manifold: v1.Manifold()}
	return newRelative(source, kind, v1.ID(), v2.ID(), delta, covariance, opts)
}

func newRelative(source string, kind variable.Kind, from, to uuid.UUID, delta []float64, covariance mat.Symmetric, opts []Option) (*Relative, error) {
	if from == to {
		return nil, errors.Errorf("relative constraint from %s to itself", from)
	}
	g, err := newGaussian(source, kind, delta, kind.Manifold.LocalSize(), covariance)
	if err != nil {
		return nil, errors.Wrapf(err, "relative %s constraint", kind.Name)
	}
	g.apply(opts)
	return &Relative{gaussian: g, from: from, to: to}, nil
}

// Type returns TypeRelative.
func (c *Relative) Type() string {
	return TypeRelative
}

// Variables returns the two constrained variables in order.
func (c *Relative) Variables() []uuid.UUID {
	return []uuid.UUID{c.from, c.to}
}

// Evaluate returns sqrt(information) × Minus(Plus(x1, mean), x2).
func (c *Relative) Evaluate(values [][]float64) ([]float64, error) {
	if err := checkValues(values, 2); err != nil {
		return nil, err
	}
	predicted, err := c.kind.Manifold.Plus(values[0], c.mean)
	if err != nil {
		return nil, err
	}
	delta, err := c.kind.Manifold.Minus(predicted, values[1])
	if err != nil {
		return nil, err
	}
	return c.whiten(delta)
}

func (c *Relative) String() string {
	return fmt.Sprintf("%s<%s>(%s) %s -> %s delta=%v", TypeRelative, c.kind.Name, c.id, c.from, c.to, c.mean)
}
