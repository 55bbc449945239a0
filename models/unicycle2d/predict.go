package unicycle2d

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/fuse/utils"
)

// State is the full unicycle state at one instant, in the order of initial_state.
type State struct {
	X, Y   float64
	Yaw    float64
	VX, VY float64
	VYaw   float64
	AX, AY float64
}

// Vector returns the state as x, y, yaw, vx, vy, vyaw, ax, ay.
func (s State) Vector() []float64 {
	return []float64{s.X, s.Y, s.Yaw, s.VX, s.VY, s.VYaw, s.AX, s.AY}
}

// Predict moves s forward by dt seconds under constant linear acceleration and constant angular
// velocity. Velocity and acceleration are in the body frame, rotated by the starting yaw.
func Predict(s State, dt float64) State {
	out, _ := predict(s, dt, false)
	return out
}

// PredictWithJacobian is Predict plus the 8x8 Jacobian of the predicted state with respect to s,
// with rows and columns in Vector order.
func PredictWithJacobian(s State, dt float64) (State, *mat.Dense) {
	return predict(s, dt, true)
}

func predict(s State, dt float64, withJacobian bool) (State, *mat.Dense) {
	sy, cy := math.Sincos(s.Yaw)
	halfDt2 := 0.5 * dt * dt
	dx := s.VX*dt + s.AX*halfDt2
	dy := s.VY*dt + s.AY*halfDt2
	dxRot := cy*dx - sy*dy
	dyRot := sy*dx + cy*dy

	out := State{
		X:    s.X + dxRot,
		Y:    s.Y + dyRot,
		Yaw:  utils.WrapAngle(s.Yaw + s.VYaw*dt),
		VX:   s.VX + s.AX*dt,
		VY:   s.VY + s.AY*dt,
		VYaw: s.VYaw,
		AX:   s.AX,
		AY:   s.AY,
	}
	if !withJacobian {
		return out, nil
	}

	cDt, sDt := cy*dt, sy*dt
	cHalf, sHalf := cy*halfDt2, sy*halfDt2
	jac := mat.NewDense(StateSize, StateSize, []float64{
		// x     y  yaw    vx    vy  vyaw     ax     ay
		1, 0, -dyRot, cDt, -sDt, 0, cHalf, -sHalf,
		0, 1, dxRot, sDt, cDt, 0, sHalf, cHalf,
		0, 0, 1, 0, 0, dt, 0, 0,
		0, 0, 0, 1, 0, 0, dt, 0,
		0, 0, 0, 0, 1, 0, 0, dt,
		0, 0, 0, 0, 0, 1, 0, 0,
		0, 0, 0, 0, 0, 0, 1, 0,
		0, 0, 0, 0, 0, 0, 0, 1,
	})
	return out, jac
}
