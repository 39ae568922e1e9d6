package gpu

import "fmt"

// IndexError reports a slot index outside [0, capacity).
type IndexError struct {
	Index    int
	Capacity int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("gpu: slot index %d out of range [0, %d)", e.Index, e.Capacity)
}
