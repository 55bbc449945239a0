package unicycle2d

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/fuse/constraint"
	"go.viam.com/fuse/manifold"
	"go.viam.com/fuse/utils"
	"go.viam.com/fuse/variable"
)

// KinematicType is the constraint type of KinematicConstraint.
const KinematicType = "fuse_models::Unicycle2DStateKinematicConstraint"

func init() {
	constraint.RegisterType(KinematicType, constraint.Registration{Encode: encodeKinematic, Decode: decodeKinematic})
}

// stateKinds are the variable kinds of one unicycle state, in State order.
var stateKinds = []variable.Kind{
	variable.Position2D,
	variable.Orientation2D,
	variable.VelocityLinear2D,
	variable.VelocityAngular2D,
	variable.AccelerationLinear2D,
}

// StateVariables are the variables holding the unicycle state at one stamp.
type StateVariables struct {
	Position           variable.Stamped
	Yaw                variable.Stamped
	LinearVelocity     variable.Stamped
	AngularVelocity    variable.Stamped
	LinearAcceleration variable.Stamped
}

// NewStateVariables creates the variables of s at stamp.
func NewStateVariables(stamp time.Time, source string, s State) (StateVariables, error) {
	values := [][]float64{{s.X, s.Y}, {s.Yaw}, {s.VX, s.VY}, {s.VYaw}, {s.AX, s.AY}}
	vars := make([]variable.Stamped, len(stateKinds))
	for i, kind := range stateKinds {
		v, err := variable.NewStampedWithData(kind, stamp, source, values[i]...)
		if err != nil {
			return StateVariables{}, err
		}
		vars[i] = v
	}
	return StateVariables{vars[0], vars[1], vars[2], vars[3], vars[4]}, nil
}

// All returns the variables in State order.
func (sv StateVariables) All() []variable.Stamped {
	return []variable.Stamped{sv.Position, sv.Yaw, sv.LinearVelocity, sv.AngularVelocity, sv.LinearAcceleration}
}

// stamp checks that the variables have the state kinds and share one stamp, and returns it.
func (sv StateVariables) stamp() (time.Time, error) {
	var stamp time.Time
	for i, v := range sv.All() {
		if v == nil {
			return time.Time{}, errors.Errorf("missing %s variable", stateKinds[i].Name)
		}
		if v.Type() != stateKinds[i].Name {
			return time.Time{}, errors.Errorf("expected a %s variable, got %s", stateKinds[i].Name, v.Type())
		}
		if i == 0 {
			stamp = v.Stamp()
		} else if !v.Stamp().Equal(stamp) {
			return time.Time{}, errors.Errorf("state variables have different stamps %v and %v", stamp, v.Stamp())
		}
	}
	return stamp, nil
}

// KinematicConstraint ties the unicycle states at two stamps together: the second state is
// expected to be Predict of the first over the time between them. The residual is the error of the
// second state relative to the prediction, with the position error in the predicted body frame.
type KinematicConstraint struct {
	id         uuid.UUID
	source     string
	dt         float64
	variables  []uuid.UUID
	covariance *mat.SymDense
}

// NewKinematicConstraint returns a constraint between the states from and to. The covariance is
// the 8x8 process noise over the time between them, in State order.
func NewKinematicConstraint(source string, from, to StateVariables, covariance mat.Symmetric) (*KinematicConstraint, error) {
	fromStamp, err := from.stamp()
	if err != nil {
		return nil, errors.Wrap(err, "kinematic constraint start")
	}
	toStamp, err := to.stamp()
	if err != nil {
		return nil, errors.Wrap(err, "kinematic constraint end")
	}
	if !toStamp.After(fromStamp) {
		return nil, errors.Errorf("kinematic constraint must move forward in time, from %v to %v", fromStamp, toStamp)
	}
	ids := make([]uuid.UUID, 0, 2*len(stateKinds))
	for _, v := range append(from.All(), to.All()...) {
		ids = append(ids, v.ID())
	}
	return newKinematic(source, toStamp.Sub(fromStamp).Seconds(), ids, covariance)
}

func newKinematic(source string, dt float64, ids []uuid.UUID, covariance mat.Symmetric) (*KinematicConstraint, error) {
	if covariance == nil {
		return nil, errors.New("covariance is required")
	}
	if n := covariance.SymmetricDim(); n != StateSize {
		return nil, utils.NewDimensionMismatchError("covariance", StateSize*StateSize, n*n)
	}
	cov := mat.NewSymDense(StateSize, nil)
	cov.CopySym(covariance)
	if !utils.AllFinite(cov.RawSymmetric().Data...) {
		return nil, errors.New("covariance is not finite")
	}
	return &KinematicConstraint{
		id:         uuid.New(),
		source:     source,
		dt:         dt,
		variables:  ids,
		covariance: cov,
	}, nil
}

// ID returns the constraint's random identity.
func (c *KinematicConstraint) ID() uuid.UUID {
	return c.id
}

// Type returns KinematicType.
func (c *KinematicConstraint) Type() string {
	return KinematicType
}

// Source returns the name of the component that produced the constraint.
func (c *KinematicConstraint) Source() string {
	return c.source
}

// Variables returns the five variables of the first state followed by those of the second.
func (c *KinematicConstraint) Variables() []uuid.UUID {
	return append([]uuid.UUID(nil), c.variables...)
}

// DeltaTime is the time between the two states.
func (c *KinematicConstraint) DeltaTime() time.Duration {
	return time.Duration(c.dt * float64(time.Second))
}

// Covariance returns a copy of the process noise.
func (c *KinematicConstraint) Covariance() *mat.SymDense {
	cov := mat.NewSymDense(StateSize, nil)
	cov.CopySym(c.covariance)
	return cov
}

func stateFromValues(values [][]float64) (State, error) {
	for i, kind := range stateKinds {
		if len(values[i]) != kind.Manifold.GlobalSize() {
			return State{}, errors.Wrapf(manifold.ErrUndefined, "%s: %v",
				kind.Name, utils.NewDimensionMismatchError("value", kind.Manifold.GlobalSize(), len(values[i])))
		}
		if !utils.AllFinite(values[i]...) {
			return State{}, errors.Wrapf(manifold.ErrUndefined, "%s is not finite: %v", kind.Name, values[i])
		}
	}
	return State{
		X:    values[0][0],
		Y:    values[0][1],
		Yaw:  values[1][0],
		VX:   values[2][0],
		VY:   values[2][1],
		VYaw: values[3][0],
		AX:   values[4][0],
		AY:   values[4][1],
	}, nil
}

// Evaluate returns the whitened error of the second state relative to the prediction from the
// first one.
func (c *KinematicConstraint) Evaluate(values [][]float64) ([]float64, error) {
	if len(values) != 2*len(stateKinds) {
		return nil, errors.Errorf("expected values for %d variables, got %d", 2*len(stateKinds), len(values))
	}
	from, err := stateFromValues(values[:len(stateKinds)])
	if err != nil {
		return nil, err
	}
	to, err := stateFromValues(values[len(stateKinds):])
	if err != nil {
		return nil, err
	}

	predicted := Predict(from, c.dt)
	sp, cp := math.Sincos(predicted.Yaw)
	dx, dy := to.X-predicted.X, to.Y-predicted.Y
	delta := []float64{
		cp*dx + sp*dy,
		-sp*dx + cp*dy,
		utils.WrapAngle(to.Yaw - predicted.Yaw),
		to.VX - predicted.VX,
		to.VY - predicted.VY,
		to.VYaw - predicted.VYaw,
		to.AX - predicted.AX,
		to.AY - predicted.AY,
	}
	residual, err := constraint.Whiten(c.covariance, delta)
	if err != nil {
		return nil, errors.Wrapf(err, "constraint %s", c.id)
	}
	return residual, nil
}

func (c *KinematicConstraint) String() string {
	return fmt.Sprintf("%s(%s) %s -> %s dt=%gs", KinematicType, c.id, c.variables[0], c.variables[len(stateKinds)], c.dt)
}

func encodeKinematic(c constraint.Constraint) (constraint.Record, error) {
	kc, ok := c.(*KinematicConstraint)
	if !ok {
		return constraint.Record{}, utils.NewUnexpectedTypeError(kc, c)
	}
	cov := make([]float64, 0, StateSize*StateSize)
	for i := 0; i < StateSize; i++ {
		for j := 0; j < StateSize; j++ {
			cov = append(cov, kc.covariance.At(i, j))
		}
	}
	vars := make([]string, 0, len(kc.variables))
	for _, id := range kc.variables {
		vars = append(vars, id.String())
	}
	return constraint.Record{
		ID:         kc.id.String(),
		Type:       KinematicType,
		Source:     kc.source,
		Variables:  vars,
		Covariance: cov,
		Parameters: []float64{kc.dt},
	}, nil
}

func decodeKinematic(r constraint.Record) (constraint.Constraint, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, err
	}
	if len(r.Variables) != 2*len(stateKinds) {
		return nil, errors.Errorf("expected %d variables, got %d", 2*len(stateKinds), len(r.Variables))
	}
	ids := make([]uuid.UUID, 0, len(r.Variables))
	for _, s := range r.Variables {
		v, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	if len(r.Parameters) != 1 || !(r.Parameters[0] > 0) {
		return nil, errors.Errorf("expected a positive time step, got %v", r.Parameters)
	}
	if len(r.Covariance) != StateSize*StateSize {
		return nil, errors.Errorf("covariance has %d elements, expected %d", len(r.Covariance), StateSize*StateSize)
	}
	cov := mat.NewSymDense(StateSize, nil)
	for i := 0; i < StateSize; i++ {
		for j := i; j < StateSize; j++ {
			cov.SetSym(i, j, r.Covariance[i*StateSize+j])
		}
	}
	c, err := newKinematic(r.Source, r.Parameters[0], ids, cov)
	if err != nil {
		return nil, err
	}
	c.id = id
	return c, nil
}
