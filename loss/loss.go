// Package loss holds the robust loss functions a constraint can be evaluated through. A loss maps
// the squared norm s of a whitened residual to rho(s); the cost of the constraint is rho(s)/2.
package loss

import (
	"math"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// The loss type names.
const (
	TypeTrivial = "fuse_loss::TrivialLoss"
	TypeTukey   = "fuse_loss::TukeyLoss"
)

// A Loss reshapes the squared residual norm so that outliers weigh less.
type Loss interface {
	Type() string
	// Evaluate returns rho(s) and its first and second derivatives with respect to s.
	Evaluate(s float64) [3]float64
}

// Trivial is the identity loss, rho(s) = s.
type Trivial struct{}

// Type returns TypeTrivial.
func (Trivial) Type() string { return TypeTrivial }

// Evaluate returns [s, 1, 0].
func (Trivial) Evaluate(s float64) [3]float64 {
	return [3]float64{s, 1, 0}
}

// DefaultTukeyA is the scale of a Tukey loss built without one.
const DefaultTukeyA = 1.0

// Tukey is Tukey's biweight loss. Residuals with s above A² contribute the constant A²/3, so they
// stop pulling on the solution entirely.
type Tukey struct {
	a float64
}

// NewTukey returns a Tukey loss with scale a, which must be positive and finite.
func NewTukey(a float64) (*Tukey, error) {
	if !(a > 0) || math.IsInf(a, 0) {
		return nil, errors.Errorf("tukey loss scale must be positive and finite, got %v", a)
	}
	return &Tukey{a: a}, nil
}

// A returns the scale of the loss.
func (l *Tukey) A() float64 {
	return l.a
}

// Type returns TypeTukey.
func (l *Tukey) Type() string { return TypeTukey }

// Evaluate returns rho(s) = A²/3 (1 - (1 - s/A²)³) and its derivatives inside the inlier region,
// and [A²/3, 0, 0] outside of it.
func (l *Tukey) Evaluate(s float64) [3]float64 {
	a2 := l.a * l.a
	if s > a2 {
		return [3]float64{a2 / 3, 0, 0}
	}
	v := 1 - s/a2
	return [3]float64{a2 / 3 * (1 - v*v*v), v * v, -2 / a2 * v}
}

// Cost is half of rho evaluated at the squared norm of residual. A nil loss is Trivial.
func Cost(l Loss, residual []float64) float64 {
	var s float64
	for _, r := range residual {
		s += r * r
	}
	if l == nil {
		return s / 2
	}
	return l.Evaluate(s)[0] / 2
}

// Record is the encoded form of a loss.
type Record struct {
	Type       string    `bson:"type" json:"type"`
	Parameters []float64 `bson:"parameters,omitempty" json:"parameters,omitempty"`
}

// ToRecord encodes a loss. A nil loss has no record.
func ToRecord(l Loss) (*Record, error) {
	switch typed := l.(type) {
	case nil:
		return nil, nil
	case Trivial, *Trivial:
		return &Record{Type: TypeTrivial}, nil
	case *Tukey:
		return &Record{Type: TypeTukey, Parameters: []float64{typed.a}}, nil
	default:
		return nil, errors.Errorf("cannot encode loss of type %q", l.Type())
	}
}

// FromRecord decodes a loss. A nil record is no loss at all.
func FromRecord(r *Record) (Loss, error) {
	if r == nil {
		return nil, nil
	}
	switch r.Type {
	case TypeTrivial:
		return Trivial{}, nil
	case TypeTukey:
		if len(r.Parameters) != 1 {
			return nil, errors.Errorf("tukey loss expects 1 parameter, got %d", len(r.Parameters))
		}
		return NewTukey(r.Parameters[0])
	default:
		return nil, errors.Errorf("unknown loss type %q", r.Type)
	}
}

// Config selects a loss from a component's attributes.
type Config struct {
	// Type is "trivial" or "tukey". Empty means no loss.
	Type string  `json:"type,omitempty"`
	A    float64 `json:"a,omitempty"`
}

// Validate checks the type and fills in the default Tukey scale.
func (conf *Config) Validate(path string) error {
	switch conf.Type {
	case "", "trivial":
	case "tukey":
		if conf.A == 0 {
			conf.A = DefaultTukeyA
		}
		if _, err := NewTukey(conf.A); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown loss type %q", conf.Type))
	}
	return nil
}

// Build returns the configured loss, or nil when none is configured.
func (conf *Config) Build() (Loss, error) {
	switch conf.Type {
	case "":
		return nil, nil
	case "trivial":
		return Trivial{}, nil
	case "tukey":
		a := conf.A
		if a == 0 {
			a = DefaultTukeyA
		}
		return NewTukey(a)
	default:
		return nil, errors.Errorf("unknown loss type %q", conf.Type)
	}
}
