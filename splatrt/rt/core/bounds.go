package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Bounds is an axis-aligned box. The zero value is empty.
type Bounds struct {
	Min   mgl32.Vec3
	Max   mgl32.Vec3
	Valid bool
}

func (b *Bounds) Extend(p mgl32.Vec3) {
	if !b.Valid {
		b.Min, b.Max, b.Valid = p, p, true
		return
	}
	for i := 0; i < 3; i++ {
		b.Min[i] = float32(math.Min(float64(b.Min[i]), float64(p[i])))
		b.Max[i] = float32(math.Max(float64(b.Max[i]), float64(p[i])))
	}
}

// Corners returns the eight corners of the box, min corner first.
func (b Bounds) Corners() [8]mgl32.Vec3 {
	var c [8]mgl32.Vec3
	for i := 0; i < 8; i++ {
		c[i] = b.Min
		if i&1 != 0 {
			c[i][0] = b.Max[0]
		}
		if i&2 != 0 {
			c[i][1] = b.Max[1]
		}
		if i&4 != 0 {
			c[i][2] = b.Max[2]
		}
	}
	return c
}

func (b Bounds) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// BoundsOf computes the bounds of packed xyz triples.
func BoundsOf(centers []float32) Bounds {
	var b Bounds
	for i := 0; i+2 < len(centers); i += 3 {
		b.Extend(mgl32.Vec3{centers[i], centers[i+1], centers[i+2]})
	}
	return b
}
