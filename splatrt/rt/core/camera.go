package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera is the pose the depth-order scheduler needs.
type Camera struct {
	Position mgl32.Vec3
	Forward  mgl32.Vec3
}

// Hash is a cheap scalar fingerprint of the pose. Equal poses hash equal;
// the magnitude of the difference between two hashes is only a heuristic
// for how far the camera moved.
func (c Camera) Hash() float64 {
	p, d := c.Position, c.Forward
	return float64(p[0]) + 3*float64(p[1]) + 7*float64(p[2]) +
		100*float64(d[0]) + 300*float64(d[1]) + 700*float64(d[2])
}

// CameraState is a Y-up fly camera. Yaw and Pitch are radians.
type CameraState struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	Speed       float32
	Sensitivity float32
	FovY        float32
	Near        float32
	Far         float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position:    mgl32.Vec3{0, 0, 5},
		Yaw:         0,
		Pitch:       0,
		Speed:       2.0,
		Sensitivity: 0.003,
		FovY:        mgl32.DegToRad(60),
		Near:        0.05,
		Far:         1000,
	}
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Sin(float64(c.Yaw)) * math.Cos(float64(c.Pitch))),
		float32(math.Sin(float64(c.Pitch))),
		float32(-math.Cos(float64(c.Yaw)) * math.Cos(float64(c.Pitch))),
	}.Normalize()
}

func (c *CameraState) GetRight() mgl32.Vec3 {
	return c.GetForward().Cross(mgl32.Vec3{0, 1, 0}).Normalize()
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	eye := c.Position
	return mgl32.LookAtV(eye, eye.Add(c.GetForward()), mgl32.Vec3{0, 1, 0})
}

func (c *CameraState) GetProjectionMatrix(aspect float32) mgl32.Mat4 {
	if aspect == 0 {
		aspect = 1
	}
	return mgl32.Perspective(c.FovY, aspect, c.Near, c.Far)
}

// Move translates the camera in its local frame. move is (right, up, forward).
func (c *CameraState) Move(move mgl32.Vec3, dt float32) {
	dir := c.GetRight().Mul(move[0]).
		Add(mgl32.Vec3{0, 1, 0}.Mul(move[1])).
		Add(c.GetForward().Mul(move[2]))
	if dir.Len() > 0 {
		c.Position = c.Position.Add(dir.Normalize().Mul(c.Speed * dt))
	}
}

// Look applies a mouse delta, clamping pitch short of the poles.
func (c *CameraState) Look(dx, dy float32) {
	c.Yaw += dx * c.Sensitivity
	c.Pitch -= dy * c.Sensitivity
	limit := float32(math.Pi/2 - 0.01)
	if c.Pitch > limit {
		c.Pitch = limit
	}
	if c.Pitch < -limit {
		c.Pitch = -limit
	}
}

// LookAt points the camera at target from its current position.
func (c *CameraState) LookAt(target mgl32.Vec3) {
	d := target.Sub(c.Position)
	if d.Len() == 0 {
		return
	}
	d = d.Normalize()
	c.Pitch = float32(math.Asin(float64(d[1])))
	c.Yaw = float32(math.Atan2(float64(d[0]), float64(-d[2])))
}

func (c *CameraState) Pose() Camera {
	return Camera{Position: c.Position, Forward: c.GetForward()}
}
