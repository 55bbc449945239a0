package constraint

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/fuse/variable"
)

// Absolute is a direct measurement of a single variable: a mean in the variable's global
// coordinates and a covariance in its local coordinates.
type Absolute struct {
	gaussian
	variable uuid.UUID
}

// NewAbsolute returns a constraint measuring v.
func NewAbsolute(source string, v variable.Variable, mean []float64, covariance mat.Symmetric, opts ...Option) (*Absolute, error) {
	kind := variable.Kind{Name: v.Type(), Manifold: v.Manifold()}
	return newAbsolute(source, kind, v.ID(), mean, covariance, opts)
}

func newAbsolute(source string, kind variable.Kind, id uuid.UUID, mean []float64, covariance mat.Symmetric, opts []Option) (*Absolute, error) {
	g, err := newGaussian(source, kind, mean, kind.Manifold.GlobalSize(), covariance)
	if err != nil {
		return nil, errors.Wrapf(err, "absolute %s constraint", kind.Name)
	}
	g.apply(opts)
	return &Absolute{gaussian: g, variable: id}, nil
}

// Type returns TypeAbsolute.
func (c *Absolute) Type() string {
	return TypeAbsolute
}

// Variables returns the measured variable.
func (c *Absolute) Variables() []uuid.UUID {
	return []uuid.UUID{c.variable}
}

// Evaluate returns sqrt(information) × Minus(mean, x).
func (c *Absolute) Evaluate(values [][]float64) ([]float64, error) {
	if err := checkValues(values, 1); err != nil {
		return nil, err
	}
	delta, err := c.kind.Manifold.Minus(c.mean, values[0])
	if err != nil {
		return nil, err
	}
	return c.whiten(delta)
}

func (c *Absolute) String() string {
	return fmt.Sprintf("%s<%s>(%s) on %s mean=%v", TypeAbsolute, c.kind.Name, c.id, c.variable, c.mean)
}
