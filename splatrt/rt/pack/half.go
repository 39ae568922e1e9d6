package pack

import "math"

// FloatToHalf converts to IEEE 754 binary16 with the classic bit-twiddling
// conversion: one extra mantissa bit is kept and added back, so ties round
// away from zero in magnitude rather than to even. Values below 2^-24 flush
// to signed zero, values past the half range become infinity and NaN stays
// NaN.
func FloatToHalf(f float32) uint16 {
	x := math.Float32bits(f)
	bits := (x >> 16) & 0x8000
	m := (x >> 12) & 0x07ff
	e := (x >> 23) & 0xff

	if e < 103 {
		return uint16(bits)
	}

	if e > 142 {
		bits |= 0x7c00
		if e == 255 && x&0x007fffff != 0 {
			bits |= 1
		}
		return uint16(bits)
	}

	if e < 113 {
		m |= 0x0800
		bits |= (m >> (114 - e)) + ((m >> (113 - e)) & 1)
		return uint16(bits)
	}

	bits |= ((e - 112) << 10) | (m >> 1)
	bits += m & 1
	return uint16(bits)
}

// HalfToFloat widens a binary16 value.
func HalfToFloat(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	e := uint32(h>>10) & 0x1f
	m := uint32(h & 0x03ff)

	switch {
	case e == 0 && m == 0:
		return math.Float32frombits(sign)
	case e == 0:
		v := float32(m) / (1 << 24)
		if sign != 0 {
			v = -v
		}
		return v
	case e == 31:
		return math.Float32frombits(sign | 0x7f800000 | m<<13)
	}
	return math.Float32frombits(sign | (e+112)<<23 | m<<13)
}

// PackHalf2x16 stores a in the low 16 bits and b in the high 16 bits.
func PackHalf2x16(a, b float32) uint32 {
	return uint32(FloatToHalf(a)) | uint32(FloatToHalf(b))<<16
}

// UnpackHalf2x16 is the inverse of PackHalf2x16 up to half precision.
func UnpackHalf2x16(v uint32) (float32, float32) {
	return HalfToFloat(uint16(v)), HalfToFloat(uint16(v >> 16))
}
