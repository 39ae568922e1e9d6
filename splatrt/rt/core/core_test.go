package core

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func closeEnough(a, b, eps float32) bool {
	return float32(math.Abs(float64(a-b))) <= eps
}

func TestCameraLookAt(t *testing.T) {
	cam := NewCameraState()
	cam.Position = mgl32.Vec3{1, 2, 3}

	target := mgl32.Vec3{-4, 0, 7}
	cam.LookAt(target)

	want := target.Sub(cam.Position).Normalize()
	got := cam.GetForward()
	for i := 0; i < 3; i++ {
		if !closeEnough(got[i], want[i], 1e-5) {
			t.Fatalf("forward %v, want %v", got, want)
		}
	}
}

func TestCameraHashStable(t *testing.T) {
	a := Camera{Position: mgl32.Vec3{1, 2, 3}, Forward: mgl32.Vec3{0, 0, -1}}
	b := a
	if a.Hash() != b.Hash() {
		t.Errorf("equal poses hashed differently")
	}
	b.Position[0] += 0.5
	if a.Hash() == b.Hash() {
		t.Errorf("moved pose kept the same hash")
	}
}

func TestCameraLookClampsPitch(t *testing.T) {
	cam := NewCameraState()
	cam.Look(0, -1e6)
	if cam.Pitch >= math.Pi/2 {
		t.Errorf("pitch not clamped: %f", cam.Pitch)
	}
}

func TestBoundsCorners(t *testing.T) {
	b := BoundsOf([]float32{0, 0, 0, 1, -2, 3})
	if !b.Valid {
		t.Fatal("bounds should be valid")
	}
	if b.Min != (mgl32.Vec3{0, -2, 0}) || b.Max != (mgl32.Vec3{1, 0, 3}) {
		t.Fatalf("unexpected bounds %v %v", b.Min, b.Max)
	}
	c := b.Corners()
	if c[0] != b.Min || c[7] != b.Max {
		t.Errorf("corner order: %v", c)
	}
	if BoundsOf(nil).Valid {
		t.Errorf("empty bounds reported valid")
	}
}

func TestRecordDefaults(t *testing.T) {
	var r RawRecord
	if r.RotationOrIdentity() != mgl32.QuatIdent() {
		t.Errorf("missing rotation should be identity")
	}
	if r.LogScaleOrUnit() != (mgl32.Vec3{}) {
		t.Errorf("missing scale should be unit")
	}
	r.Set(FieldScale)
	r.Scale = mgl32.Vec3{1, 2, 3}
	if !r.Has(FieldScale) || r.LogScaleOrUnit() != r.Scale {
		t.Errorf("scale flag not honored")
	}
}
