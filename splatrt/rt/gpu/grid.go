package gpu

import "math"

// DefaultAlignment rounds grid widths up to a multiple of four texels.
const DefaultAlignment = 4

// Grid lays capacity slots out row-major on a 2-D texture.
type Grid struct {
	Capacity int
	Width    int
	Height   int
}

// NewGrid picks the smallest aligned width >= ceil(sqrt(capacity)) and the
// height that covers capacity.
func NewGrid(capacity, alignment int) Grid {
	if alignment < 1 {
		alignment = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	w := int(math.Ceil(math.Sqrt(float64(capacity))))
	for w*w < capacity {
		w++
	}
	for w > 0 && (w-1)*(w-1) >= capacity {
		w--
	}
	if w < 1 {
		w = 1
	}
	w = (w + alignment - 1) / alignment * alignment
	h := (capacity + w - 1) / w
	if h < 1 {
		h = 1
	}
	return Grid{Capacity: capacity, Width: w, Height: h}
}

func (g Grid) Area() int {
	return g.Width * g.Height
}

// Coord returns the column and row of slot i.
func (g Grid) Coord(i int) (col, row int) {
	return i % g.Width, i / g.Width
}

func (g Grid) Full() Rect {
	return Rect{W: g.Width, H: g.Height}
}

// Rect is an axis-aligned texel rectangle.
type Rect struct {
	X, Y int
	W, H int
}

func (r Rect) Area() int {
	return r.W * r.H
}
