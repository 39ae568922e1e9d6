package core

import "github.com/go-gl/mathgl/mgl32"

// Field flags the optional attributes a RawRecord carries.
type Field uint8

const (
	FieldRotation Field = 1 << iota
	FieldScale
	FieldOpacity
	FieldSH
	FieldColor
)

// RawRecord is one decoded point. Position is always present; every other
// attribute is only meaningful when its Field bit is set and otherwise
// takes the documented default:
//
//	Rotation  identity quaternion
//	Scale     log-scale 0 (unit extent)
//	Opacity   fully opaque
//	SH        none (Color, then white, is used for the base color)
//	Color     white
type RawRecord struct {
	Index    int
	Fields   Field
	Position mgl32.Vec3
	Rotation mgl32.Quat // rot_0 is W, rot_1..3 are X,Y,Z
	Scale    mgl32.Vec3 // log-encoded
	Opacity  float32    // logit-encoded
	SH       []float32  // SH[0:3] is the DC term
	Color    mgl32.Vec3 // linear 0..1, from red/green/blue
}

func (r *RawRecord) Has(f Field) bool {
	return r.Fields&f != 0
}

func (r *RawRecord) Set(f Field) {
	r.Fields |= f
}

// RotationOrIdentity returns the stored rotation, or identity when absent.
func (r *RawRecord) RotationOrIdentity() mgl32.Quat {
	if !r.Has(FieldRotation) {
		return mgl32.QuatIdent()
	}
	return r.Rotation
}

// LogScaleOrUnit returns the stored log-scale, or zeros (unit extent).
func (r *RawRecord) LogScaleOrUnit() mgl32.Vec3 {
	if !r.Has(FieldScale) {
		return mgl32.Vec3{0, 0, 0}
	}
	return r.Scale
}
