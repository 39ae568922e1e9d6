package gpu

import "fmt"

// BufferID names one of the four slot-indexed attribute buffers.
type BufferID int

const (
	BufferColor BufferID = iota
	BufferTransformA
	BufferTransformB
	BufferOrder
	bufferCount
)

func (b BufferID) String() string {
	switch b {
	case BufferColor:
		return "color"
	case BufferTransformA:
		return "transformA"
	case BufferTransformB:
		return "transformB"
	case BufferOrder:
		return "order"
	}
	return fmt.Sprintf("buffer(%d)", int(b))
}

// Format returns the texel layout of the buffer.
func (b BufferID) Format() Format {
	switch b {
	case BufferColor:
		return FormatRGBA8Unorm
	case BufferTransformA:
		return FormatRGBA32Uint
	case BufferTransformB:
		return FormatRGBA16Float
	}
	return FormatR32Uint
}

// Format is a texel layout.
type Format int

const (
	FormatRGBA8Unorm Format = iota
	FormatRGBA32Uint
	FormatRGBA16Float
	FormatR32Uint
)

func (f Format) BytesPerTexel() int {
	switch f {
	case FormatRGBA8Unorm, FormatR32Uint:
		return 4
	case FormatRGBA16Float:
		return 8
	case FormatRGBA32Uint:
		return 16
	}
	return 0
}

// Renderer is the GPU side the ledger mirrors into. Data is tightly packed
// little-endian texels, row-major.
type Renderer interface {
	// Bind allocates (or replaces) a width×height buffer.
	Bind(id BufferID, format Format, width, height int, data []byte) error
	// Update overwrites a sub-rectangle of a bound buffer in place.
	Update(id BufferID, region Rect, data []byte) error
	// Release frees a buffer. Releasing an unbound buffer is a no-op.
	Release(id BufferID)
}
