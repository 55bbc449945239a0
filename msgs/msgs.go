// Package msgs contains the messages and service payloads exchanged over the bus.
package msgs

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Header stamps a message and names the frame its data is expressed in.
type Header struct {
	Stamp   time.Time
	FrameID string
}

// Pose is a position and an orientation. Orientation.Real is the scalar part.
type Pose struct {
	Position    r3.Vector
	Orientation quat.Number
}

// Covariance6 is a row-major 6×6 covariance over (x, y, z, roll, pitch, yaw) or, for twists and
// accelerations, (linear x, y, z, angular x, y, z).
type Covariance6 [36]float64

// PoseWithCovariance is a pose estimate with its uncertainty.
type PoseWithCovariance struct {
	Pose       Pose
	Covariance Covariance6
}

// PoseWithCovarianceStamped is a PoseWithCovariance at an instant.
type PoseWithCovarianceStamped struct {
	Header Header
	Pose   PoseWithCovariance
}

// Twist is a linear and angular velocity.
type Twist struct {
	Linear  r3.Vector
	Angular r3.Vector
}

// TwistWithCovariance is a velocity estimate with its uncertainty.
type TwistWithCovariance struct {
	Twist      Twist
	Covariance Covariance6
}

// Accel is a linear and angular acceleration.
type Accel struct {
	Linear  r3.Vector
	Angular r3.Vector
}

// AccelWithCovariance is an acceleration estimate with its uncertainty.
type AccelWithCovariance struct {
	Accel      Accel
	Covariance Covariance6
}

// SetPoseRequest asks an ignition model to reset the estimate to a pose. Twist and Accel are
// optional; the model's configured initial state fills whatever is missing.
type SetPoseRequest struct {
	Pose  PoseWithCovarianceStamped
	Twist *TwistWithCovariance
	Accel *AccelWithCovariance
}

// SetPoseResponse reports whether the pose was accepted.
type SetPoseResponse struct {
	Success bool
	Message string
}

// SetPoseDeprecatedRequest is the older pose reset request without velocities.
type SetPoseDeprecatedRequest struct {
	Pose PoseWithCovarianceStamped
}

// SetPoseDeprecatedResponse is empty; callers of the older service get no outcome.
type SetPoseDeprecatedResponse struct{}

// SerializedGraph carries the output of graph.Serialize.
type SerializedGraph struct {
	Header Header
	Data   []byte
}

// SerializedTransaction carries the output of transaction.Marshal.
type SerializedTransaction struct {
	Header Header
	Data   []byte
}

// SetGraphRequest asks a graph ignition model to reset the estimate to a recorded graph.
type SetGraphRequest struct {
	Graph SerializedGraph
}

// SetGraphResponse reports whether the graph was accepted.
type SetGraphResponse struct {
	Success bool
	Message string
}

// ResetRequest asks the optimizer to stop every model, clear the graph and restart.
type ResetRequest struct{}

// ResetResponse is returned once the reset is complete.
type ResetResponse struct{}

// Yaw returns the rotation about z of an orientation, in radians.
func Yaw(q quat.Number) float64 {
	return math.Atan2(2*(q.Real*q.Kmag+q.Imag*q.Jmag), 1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag))
}

// QuaternionFromYaw returns the orientation rotated by yaw about z.
func QuaternionFromYaw(yaw float64) quat.Number {
	return quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
}

// Block returns the symmetric sub-matrix of the covariance at the given row and column indices.
func (c *Covariance6) Block(indices ...int) *mat.SymDense {
	block := mat.NewSymDense(len(indices), nil)
	for i, row := range indices {
		for j := i; j < len(indices); j++ {
			block.SetSym(i, j, c[row*6+indices[j]])
		}
	}
	return block
}

// Dense returns the covariance as a 6×6 matrix without assuming symmetry.
func (c *Covariance6) Dense() *mat.Dense {
	return mat.NewDense(6, 6, append([]float64(nil), c[:]...))
}

// Sub returns the square sub-matrix at the given indices without assuming symmetry.
func (c *Covariance6) Sub(indices ...int) *mat.Dense {
	sub := mat.NewDense(len(indices), len(indices), nil)
	for i, row := range indices {
		for j, col := range indices {
			sub.Set(i, j, c[row*6+col])
		}
	}
	return sub
}
