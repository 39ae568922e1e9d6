package gpu

import "fmt"

type memoryBuffer struct {
	format Format
	width  int
	height int
	data   []byte
}

// MemoryRenderer mirrors buffers in host memory. It backs headless runs and
// lets tests compare the mirrored copy with the ledger.
type MemoryRenderer struct {
	buffers map[BufferID]*memoryBuffer

	Binds    int
	Updates  int
	Releases int
	Bytes    int
}

func NewMemoryRenderer() *MemoryRenderer {
	return &MemoryRenderer{buffers: make(map[BufferID]*memoryBuffer)}
}

func (m *MemoryRenderer) Bind(id BufferID, format Format, width, height int, data []byte) error {
	size := width * height * format.BytesPerTexel()
	if len(data) != size {
		return fmt.Errorf("bind %s: %d bytes for %dx%d", id, len(data), width, height)
	}
	buf := &memoryBuffer{format: format, width: width, height: height, data: make([]byte, size)}
	copy(buf.data, data)
	m.buffers[id] = buf
	m.Binds++
	m.Bytes += size
	return nil
}

func (m *MemoryRenderer) Update(id BufferID, region Rect, data []byte) error {
	buf, ok := m.buffers[id]
	if !ok {
		return fmt.Errorf("update %s: not bound", id)
	}
	if region.X < 0 || region.Y < 0 || region.X+region.W > buf.width || region.Y+region.H > buf.height {
		return fmt.Errorf("update %s: region %v outside %dx%d", id, region, buf.width, buf.height)
	}
	bpp := buf.format.BytesPerTexel()
	rowBytes := region.W * bpp
	if len(data) != rowBytes*region.H {
		return fmt.Errorf("update %s: %d bytes for region %v", id, len(data), region)
	}
	for row := 0; row < region.H; row++ {
		dst := ((region.Y+row)*buf.width + region.X) * bpp
		copy(buf.data[dst:dst+rowBytes], data[row*rowBytes:])
	}
	m.Updates++
	m.Bytes += len(data)
	return nil
}

func (m *MemoryRenderer) Release(id BufferID) {
	if _, ok := m.buffers[id]; ok {
		delete(m.buffers, id)
		m.Releases++
	}
}

// Data returns the mirrored bytes of a buffer, or nil when unbound.
func (m *MemoryRenderer) Data(id BufferID) []byte {
	if buf, ok := m.buffers[id]; ok {
		return buf.data
	}
	return nil
}

func (m *MemoryRenderer) Bound(id BufferID) bool {
	_, ok := m.buffers[id]
	return ok
}

// ResetCounters zeroes the transfer counters.
func (m *MemoryRenderer) ResetCounters() {
	m.Binds, m.Updates, m.Releases, m.Bytes = 0, 0, 0, 0
}
