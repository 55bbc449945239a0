package constraint

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/fuse/loss"
	"go.viam.com/fuse/variable"
)

// Record is the encoded form of a constraint. Covariance is row-major. Parameters holds values
// specific to a constraint type.
type Record struct {
	ID           string       `bson:"id" json:"id"`
	Type         string       `bson:"type" json:"type"`
	Source       string       `bson:"source,omitempty" json:"source,omitempty"`
	VariableType string       `bson:"variable_type" json:"variable_type"`
	Variables    []string     `bson:"variables" json:"variables"`
	Mean         []float64    `bson:"mean" json:"mean"`
	Covariance   []float64    `bson:"covariance" json:"covariance"`
	Parameters   []float64    `bson:"parameters,omitempty" json:"parameters,omitempty"`
	Loss         *loss.Record `bson:"loss,omitempty" json:"loss,omitempty"`
}

// A Decoder rebuilds a constraint from its record.
type Decoder func(r Record) (Constraint, error)

// An Encoder produces the record of a constraint of a registered type.
type Encoder func(c Constraint) (Record, error)

// Registration is how a constraint type is encoded and decoded.
type Registration struct {
	Encode Encoder
	Decode Decoder
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

func init() {
	RegisterType(TypeAbsolute, Registration{Encode: encodeGaussian, Decode: decodeAbsolute})
	RegisterType(TypeRelative, Registration{Encode: encodeGaussian, Decode: decodeRelative})
}

// RegisterType makes a constraint type encodable and decodable. It panics on a duplicate name.
func RegisterType(name string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(errors.Errorf("trying to register two constraint types named %q", name))
	}
	if reg.Encode == nil || reg.Decode == nil {
		panic(errors.Errorf("constraint type %q needs both an encoder and a decoder", name))
	}
	registry[name] = reg
}

// RegisteredTypes returns the names of all registered constraint types, sorted.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[name]
	if !ok {
		return Registration{}, errors.Errorf("unknown constraint type %q", name)
	}
	return reg, nil
}

// ToRecord encodes a constraint of a registered type.
func ToRecord(c Constraint) (Record, error) {
	reg, err := lookup(c.Type())
	if err != nil {
		return Record{}, err
	}
	return reg.Encode(c)
}

// FromRecord decodes a constraint of a registered type.
func FromRecord(r Record) (Constraint, error) {
	reg, err := lookup(r.Type)
	if err != nil {
		return nil, err
	}
	c, err := reg.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "constraint record %s", r.ID)
	}
	return c, nil
}

type gaussianConstraint interface {
	Constraint
	gaussianPart() *gaussian
}

func (g *gaussian) gaussianPart() *gaussian {
	return g
}

func encodeGaussian(c Constraint) (Record, error) {
	gc, ok := c.(gaussianConstraint)
	if !ok {
		return Record{}, errors.Errorf("constraint %s of type %s has an unexpected implementation %T", c.ID(), c.Type(), c)
	}
	g := gc.gaussianPart()
	n := g.covariance.SymmetricDim()
	cov := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cov = append(cov, g.covariance.At(i, j))
		}
	}
	vars := make([]string, 0, 2)
	for _, id := range c.Variables() {
		vars = append(vars, id.String())
	}
	lossRecord, err := loss.ToRecord(g.loss)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:           g.id.String(),
		Type:         c.Type(),
		Source:       g.source,
		VariableType: g.kind.Name,
		Variables:    vars,
		Mean:         g.Mean(),
		Covariance:   cov,
		Loss:         lossRecord,
	}, nil
}

func decodeGaussianParts(r Record, numVariables int) (uuid.UUID, variable.Kind, []uuid.UUID, *mat.SymDense, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return uuid.Nil, variable.Kind{}, nil, nil, err
	}
	kind, ok := variable.LookupKind(r.VariableType)
	if !ok {
		return uuid.Nil, variable.Kind{}, nil, nil, errors.Errorf("unknown variable type %q", r.VariableType)
	}
	if len(r.Variables) != numVariables {
		return uuid.Nil, variable.Kind{}, nil, nil, errors.Errorf("expected %d variables, got %d", numVariables, len(r.Variables))
	}
	vars := make([]uuid.UUID, 0, numVariables)
	for _, s := range r.Variables {
		v, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, variable.Kind{}, nil, nil, err
		}
		vars = append(vars, v)
	}
	n := kind.Manifold.LocalSize()
	if n == 0 || len(r.Covariance) != n*n {
		return uuid.Nil, variable.Kind{}, nil, nil, errors.Errorf("covariance has %d elements, expected %d", len(r.Covariance), n*n)
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, r.Covariance[i*n+j])
		}
	}
	return id, kind, vars, cov, nil
}

func decodeAbsolute(r Record) (Constraint, error) {
	id, kind, vars, cov, err := decodeGaussianParts(r, 1)
	if err != nil {
		return nil, err
	}
	l, err := loss.FromRecord(r.Loss)
	if err != nil {
		return nil, err
	}
	c, err := newAbsolute(r.Source, kind, vars[0], r.Mean, cov, []Option{WithLoss(l)})
	if err != nil {
		return nil, err
	}
	c.id = id
	return c, nil
}

func decodeRelative(r Record) (Constraint, error) {
	id, kind, vars, cov, err := decodeGaussianParts(r, 2)
	if err != nil {
		return nil, err
	}
	l, err := loss.FromRecord(r.Loss)
	if err != nil {
		return nil, err
	}
	c, err := newRelative(r.Source, kind, vars[0], vars[1], r.Mean, cov, []Option{WithLoss(l)})
	if err != nil {
		return nil, err
	}
	c.id = id
	return c, nil
}
