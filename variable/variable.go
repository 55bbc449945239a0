// Package variable defines the unknown quantities tracked by the estimator. A variable is a
// fixed-size vector of real values whose arithmetic is described by its manifold. Its identity is
// derived from its type, stamp and source, so two sensors describing the same quantity at the
// same time refer to the same variable.
package variable

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/fuse/manifold"
	"go.viam.com/fuse/utils"
)

// namespace seeds the name-based UUIDs of every variable.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("go.viam.com/fuse/variable"))

// A Variable is a named unknown quantity. The value is owned by whichever graph holds the
// variable; everything else about it is immutable.
type Variable interface {
	ID() uuid.UUID
	Type() string
	Manifold() manifold.Manifold
	// Data returns a copy of the GlobalSize coordinates.
	Data() []float64
	// SetData replaces the coordinates. The length must be GlobalSize and every value finite.
	SetData(data []float64) error
	Clone() Variable
}

// A Stamped variable describes a quantity at an instant, optionally from a particular source.
type Stamped interface {
	Variable
	Stamp() time.Time
	Source() string
}

// A Kind is a variable type: its name and the manifold its values live on.
type Kind struct {
	Name     string
	Manifold manifold.Manifold
}

// The built-in variable kinds.
var (
	Position2D           = Kind{"fuse_variables::Position2DStamped", manifold.Euclidean(2)}
	Orientation2D        = Kind{"fuse_variables::Orientation2DStamped", manifold.Orientation2D{}}
	VelocityLinear2D     = Kind{"fuse_variables::VelocityLinear2DStamped", manifold.Euclidean(2)}
	VelocityAngular2D    = Kind{"fuse_variables::VelocityAngular2DStamped", manifold.Euclidean(1)}
	AccelerationLinear2D = Kind{"fuse_variables::AccelerationLinear2DStamped", manifold.Euclidean(2)}
	Position3D           = Kind{"fuse_variables::Position3DStamped", manifold.Euclidean(3)}
	Orientation3D        = Kind{"fuse_variables::Orientation3DStamped", manifold.Orientation3D{}}
	VelocityLinear3D     = Kind{"fuse_variables::VelocityLinear3DStamped", manifold.Euclidean(3)}
	VelocityAngular3D    = Kind{"fuse_variables::VelocityAngular3DStamped", manifold.Euclidean(3)}
	AccelerationLinear3D = Kind{"fuse_variables::AccelerationLinear3DStamped", manifold.Euclidean(3)}
)

// Builtins lists every built-in kind.
func Builtins() []Kind {
	return []Kind{
		Position2D, Orientation2D, VelocityLinear2D, VelocityAngular2D, AccelerationLinear2D,
		Position3D, Orientation3D, VelocityLinear3D, VelocityAngular3D, AccelerationLinear3D,
	}
}

// StampedID returns the identity of the variable of the given type at stamp from source.
func StampedID(typ string, stamp time.Time, source string) uuid.UUID {
	name := typ + "|" + strconv.FormatInt(stamp.UnixNano(), 10) + "|" + source
	return uuid.NewSHA1(namespace, []byte(name))
}

// StampedVariable is the Stamped implementation used by every built-in kind.
type StampedVariable struct {
	id     uuid.UUID
	kind   Kind
	stamp  time.Time
	source string
	data   []float64
}

// NewStamped returns a variable of the given kind. Its value is zero, except for 3D orientations
// which start at the identity rotation.
func NewStamped(kind Kind, stamp time.Time, source string) *StampedVariable {
	data := make([]float64, kind.Manifold.GlobalSize())
	if _, ok := kind.Manifold.(manifold.Orientation3D); ok {
		data[0] = 1
	}
	return &StampedVariable{
		id:     StampedID(kind.Name, stamp, source),
		kind:   kind,
		stamp:  stamp,
		source: source,
		data:   data,
	}
}

// NewStampedWithData is NewStamped followed by SetData.
func NewStampedWithData(kind Kind, stamp time.Time, source string, data ...float64) (*StampedVariable, error) {
	v := NewStamped(kind, stamp, source)
	if err := v.SetData(data); err != nil {
		return nil, err
	}
	return v, nil
}

// ID returns the name-based identity of the variable.
func (v *StampedVariable) ID() uuid.UUID {
	return v.id
}

// Type returns the kind name.
func (v *StampedVariable) Type() string {
	return v.kind.Name
}

// Kind returns the variable's kind.
func (v *StampedVariable) Kind() Kind {
	return v.kind
}

// Manifold returns the kind's manifold.
func (v *StampedVariable) Manifold() manifold.Manifold {
	return v.kind.Manifold
}

// Stamp returns the instant the variable describes.
func (v *StampedVariable) Stamp() time.Time {
	return v.stamp
}

// Source returns the device the variable belongs to, or "" when it is not device specific.
func (v *StampedVariable) Source() string {
	return v.source
}

// Data returns a copy of the coordinates.
func (v *StampedVariable) Data() []float64 {
	return append([]float64(nil), v.data...)
}

// SetData replaces the coordinates.
func (v *StampedVariable) SetData(data []float64) error {
	if len(data) != len(v.data) {
		return errors.Wrapf(utils.NewDimensionMismatchError("data", len(v.data), len(data)), "variable %s", v.id)
	}
	if !utils.AllFinite(data...) {
		return errors.Errorf("variable %s: data is not finite: %v", v.id, data)
	}
	copy(v.data, data)
	return nil
}

// Clone returns a deep copy.
func (v *StampedVariable) Clone() Variable {
	clone := *v
	clone.data = v.Data()
	return &clone
}

func (v *StampedVariable) String() string {
	return fmt.Sprintf("%s(%s @ %d from %q) %v", v.kind.Name, v.id, v.stamp.UnixNano(), v.source, v.data)
}
