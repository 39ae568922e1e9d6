// Package pack converts decoded records into the fixed per-slot encoding the
// GPU reads: RGBA8 color, position bits plus two covariance halves, and four
// more covariance halves.
package pack

import (
	"math"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// SHC0 is the zeroth-order spherical-harmonics basis constant.
const SHC0 = 0.28209479177387814

// Slot is the packed form of one record.
//
//	Color       r, g, b, a
//	TransformA  x, y, z float bits; covariance xx|xy as half2x16
//	TransformB  covariance xz, yy, yz, zz as halves
type Slot struct {
	Color      [4]uint8
	TransformA [4]uint32
	TransformB [4]uint16
}

// Pack encodes one record. It is pure and deterministic.
func Pack(r core.RawRecord) Slot {
	var s Slot
	s.Color = packColor(&r)

	for i := 0; i < 3; i++ {
		s.TransformA[i] = math.Float32bits(r.Position[i])
	}

	cov := Covariance(r.RotationOrIdentity(), r.LogScaleOrUnit())
	s.TransformA[3] = PackHalf2x16(cov[0], cov[1])
	for i := 0; i < 4; i++ {
		s.TransformB[i] = FloatToHalf(cov[2+i])
	}
	return s
}

func unit(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(math.Round(v * 255))
}

func packColor(r *core.RawRecord) [4]uint8 {
	c := [4]uint8{255, 255, 255, 255}
	switch {
	case r.Has(core.FieldSH) && len(r.SH) >= 3:
		for i := 0; i < 3; i++ {
			c[i] = unit(0.5 + float64(r.SH[i])*SHC0)
		}
	case r.Has(core.FieldColor):
		for i := 0; i < 3; i++ {
			c[i] = unit(float64(r.Color[i]))
		}
	}
	if r.Has(core.FieldOpacity) {
		c[3] = unit(Sigmoid(float64(r.Opacity)))
	}
	return c
}

func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Covariance returns the six independent entries xx, xy, xz, yy, yz, zz of
// the symmetric matrix C = MᵗM, where M = diag(exp(logScale))·Rot(q)ᵗ. The
// quaternion is normalized first.
func Covariance(q mgl32.Quat, logScale mgl32.Vec3) [6]float32 {
	scale := mgl32.Vec3{
		float32(math.Exp(float64(logScale[0]))),
		float32(math.Exp(float64(logScale[1]))),
		float32(math.Exp(float64(logScale[2]))),
	}
	rot := q.Normalize().Mat4().Mat3()
	m := mgl32.Diag3(scale).Mul3(rot.Transpose())
	c := m.Transpose().Mul3(m)
	return [6]float32{
		c.At(0, 0), c.At(0, 1), c.At(0, 2),
		c.At(1, 1), c.At(1, 2),
		c.At(2, 2),
	}
}

// Position recovers the world position stored in TransformA.
func (s *Slot) Position() mgl32.Vec3 {
	return mgl32.Vec3{
		math.Float32frombits(s.TransformA[0]),
		math.Float32frombits(s.TransformA[1]),
		math.Float32frombits(s.TransformA[2]),
	}
}
