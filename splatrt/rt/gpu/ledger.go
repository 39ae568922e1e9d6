package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/pack"
)

// DefaultPartialThreshold is the covered-area ratio below which a commit
// sends a sub-rectangle instead of the whole buffer.
const DefaultPartialThreshold = 0.5

type TransferKind int

const (
	TransferFull TransferKind = iota
	TransferPartial
)

func (k TransferKind) String() string {
	if k == TransferPartial {
		return "partial"
	}
	return "full"
}

// Transfer describes one buffer upload issued by Commit.
type Transfer struct {
	Buffer BufferID
	Kind   TransferKind
	Region Rect
	Bytes  int
}

// Stats is a snapshot of the ledger counters.
type Stats struct {
	Capacity        int
	ValidCount      int
	PendingCount    int
	ProgressPercent float64
}

// dirtySet tracks slot indices touched since the last commit.
type dirtySet struct {
	mark []bool
	list []int
	all  bool
}

func newDirtySet(n int) dirtySet {
	return dirtySet{mark: make([]bool, n)}
}

func (d *dirtySet) add(i int) {
	if d.all || d.mark[i] {
		return
	}
	d.mark[i] = true
	d.list = append(d.list, i)
}

func (d *dirtySet) addAll() {
	d.reset()
	d.all = true
}

func (d *dirtySet) len() int {
	if d.all {
		return len(d.mark)
	}
	return len(d.list)
}

func (d *dirtySet) reset() {
	for _, i := range d.list {
		d.mark[i] = false
	}
	d.list = d.list[:0]
	d.all = false
}

// take hands back the pending indices and clears the set. all is true when
// every slot is pending.
func (d *dirtySet) take() (list []int, all bool) {
	list, all = d.list, d.all
	d.list = make([]int, 0, len(list))
	for _, i := range list {
		d.mark[i] = false
	}
	d.all = false
	return list, all
}

// restore puts indices handed out by take back into the set.
func (d *dirtySet) restore(list []int, all bool) {
	if all {
		d.addAll()
		return
	}
	for _, i := range list {
		d.add(i)
	}
}

// Ledger owns the packed slot buffers and mirrors them into a Renderer.
// Capacity is fixed for the lifetime of the ledger; ValidCount only grows.
type Ledger struct {
	grid      Grid
	threshold float64
	renderer  Renderer

	data       [bufferCount][]byte
	valid      []bool
	validCount int
	lastValid  int

	attrs dirtySet
	order dirtySet
}

type LedgerOption func(*Ledger)

// WithPartialThreshold overrides DefaultPartialThreshold.
func WithPartialThreshold(ratio float64) LedgerOption {
	return func(l *Ledger) {
		if ratio > 0 && ratio <= 1 {
			l.threshold = ratio
		}
	}
}

// NewLedger allocates zero-filled buffers for grid and binds them on r.
func NewLedger(grid Grid, r Renderer, opts ...LedgerOption) (*Ledger, error) {
	l := &Ledger{
		grid:      grid,
		threshold: DefaultPartialThreshold,
		renderer:  r,
		valid:     make([]bool, grid.Capacity),
		lastValid: -1,
		attrs:     newDirtySet(grid.Capacity),
		order:     newDirtySet(grid.Capacity),
	}
	for _, opt := range opts {
		opt(l)
	}
	for id := BufferID(0); id < bufferCount; id++ {
		l.data[id] = make([]byte, grid.Area()*id.Format().BytesPerTexel())
		if err := r.Bind(id, id.Format(), grid.Width, grid.Height, l.data[id]); err != nil {
			l.Release()
			return nil, fmt.Errorf("gpu: bind %s: %w", id, err)
		}
	}
	return l, nil
}

func (l *Ledger) Grid() Grid {
	return l.grid
}

func (l *Ledger) Capacity() int {
	return l.grid.Capacity
}

func (l *Ledger) ValidCount() int {
	return l.validCount
}

// LastValid is the most recently validated slot, or -1.
func (l *Ledger) LastValid() int {
	return l.lastValid
}

func (l *Ledger) Valid(index int) bool {
	return index >= 0 && index < len(l.valid) && l.valid[index]
}

// SetAttribute packs rec into slot index. An out-of-range index is rejected
// with *IndexError before anything is written.
func (l *Ledger) SetAttribute(index int, rec core.RawRecord) error {
	if index < 0 || index >= l.grid.Capacity {
		return &IndexError{Index: index, Capacity: l.grid.Capacity}
	}
	l.writeSlot(index, pack.Pack(rec))
	if !l.valid[index] {
		l.valid[index] = true
		l.validCount++
	}
	l.lastValid = index
	l.attrs.add(index)
	return nil
}

func (l *Ledger) writeSlot(i int, s pack.Slot) {
	copy(l.data[BufferColor][i*4:], s.Color[:])

	a := l.data[BufferTransformA][i*16:]
	for k, v := range s.TransformA {
		binary.LittleEndian.PutUint32(a[k*4:], v)
	}

	b := l.data[BufferTransformB][i*8:]
	for k, v := range s.TransformB {
		binary.LittleEndian.PutUint16(b[k*2:], v)
	}
}

// Slot reads back the packed slot at index.
func (l *Ledger) Slot(index int) pack.Slot {
	var s pack.Slot
	copy(s.Color[:], l.data[BufferColor][index*4:])
	for k := range s.TransformA {
		s.TransformA[k] = binary.LittleEndian.Uint32(l.data[BufferTransformA][index*16+k*4:])
	}
	for k := range s.TransformB {
		s.TransformB[k] = binary.LittleEndian.Uint16(l.data[BufferTransformB][index*8+k*2:])
	}
	return s
}

// Order returns the draw-order entry at i.
func (l *Ledger) Order(i int) uint32 {
	return binary.LittleEndian.Uint32(l.data[BufferOrder][i*4:])
}

// SetOrder replaces the draw order. order must cover the full capacity.
func (l *Ledger) SetOrder(order []uint32) error {
	if len(order) != l.grid.Capacity {
		return fmt.Errorf("gpu: order has %d entries, want %d", len(order), l.grid.Capacity)
	}
	buf := l.data[BufferOrder]
	for i, v := range order {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	l.order.addAll()
	return nil
}

// Centers returns the world positions of all valid slots as xyz triples,
// together with the slot index of each triple.
func (l *Ledger) Centers() (centers []float32, slots []uint32) {
	centers = make([]float32, 0, l.validCount*3)
	slots = make([]uint32, 0, l.validCount)
	a := l.data[BufferTransformA]
	for i, ok := range l.valid {
		if !ok {
			continue
		}
		for k := 0; k < 3; k++ {
			centers = append(centers, math.Float32frombits(binary.LittleEndian.Uint32(a[i*16+k*4:])))
		}
		slots = append(slots, uint32(i))
	}
	return centers, slots
}

// Pending is the number of slots waiting for the next commit.
func (l *Ledger) Pending() int {
	return l.attrs.len() + l.order.len()
}

func (l *Ledger) Stats() Stats {
	s := Stats{
		Capacity:     l.grid.Capacity,
		ValidCount:   l.validCount,
		PendingCount: l.Pending(),
	}
	if s.Capacity > 0 {
		s.ProgressPercent = 100 * float64(s.ValidCount) / float64(s.Capacity)
	}
	return s
}

// Commit uploads everything dirtied since the previous commit. With nothing
// pending it issues no transfers. The dirty sets are cleared before staging
// starts, so writes that land during staging wait for the next commit. When
// a transfer fails, every set that was not fully uploaded is marked pending
// again.
func (l *Ledger) Commit() ([]Transfer, error) {
	attrs, attrsAll := l.attrs.take()
	order, orderAll := l.order.take()

	var out []Transfer
	if len(attrs) > 0 || attrsAll {
		region, kind := l.plan(attrs, attrsAll)
		for _, id := range []BufferID{BufferColor, BufferTransformA, BufferTransformB} {
			t, err := l.transfer(id, kind, region)
			if err != nil {
				l.attrs.restore(attrs, attrsAll)
				l.order.restore(order, orderAll)
				return out, err
			}
			out = append(out, t)
		}
	}
	if len(order) > 0 || orderAll {
		region, kind := l.plan(order, orderAll)
		t, err := l.transfer(BufferOrder, kind, region)
		if err != nil {
			l.order.restore(order, orderAll)
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// plan computes the bounding rectangle of the dirty indices and decides
// between a partial and a full transfer.
func (l *Ledger) plan(indices []int, all bool) (Rect, TransferKind) {
	full := l.grid.Full()
	if all {
		return full, TransferFull
	}
	minCol, minRow := l.grid.Width, l.grid.Height
	maxCol, maxRow := -1, -1
	for _, i := range indices {
		c, r := l.grid.Coord(i)
		minCol, maxCol = min(minCol, c), max(maxCol, c)
		minRow, maxRow = min(minRow, r), max(maxRow, r)
	}
	rect := Rect{X: minCol, Y: minRow, W: maxCol - minCol + 1, H: maxRow - minRow + 1}
	if float64(rect.Area()) < l.threshold*float64(full.Area()) &&
		rect.W < full.W && rect.H < full.H {
		return rect, TransferPartial
	}
	return full, TransferFull
}

func (l *Ledger) transfer(id BufferID, kind TransferKind, region Rect) (Transfer, error) {
	data := l.data[id]
	if kind == TransferPartial {
		data = l.stage(id, region)
	}
	t := Transfer{Buffer: id, Kind: kind, Region: region, Bytes: len(data)}
	if err := l.renderer.Update(id, region, data); err != nil {
		return t, fmt.Errorf("gpu: update %s %s %v: %w", id, kind, region, err)
	}
	return t, nil
}

// stage copies a sub-rectangle row by row into a contiguous buffer; rows of
// a sub-rectangle are not adjacent in the backing store.
func (l *Ledger) stage(id BufferID, r Rect) []byte {
	bpp := id.Format().BytesPerTexel()
	src := l.data[id]
	rowBytes := r.W * bpp
	out := make([]byte, rowBytes*r.H)
	for row := 0; row < r.H; row++ {
		start := ((r.Y+row)*l.grid.Width + r.X) * bpp
		copy(out[row*rowBytes:], src[start:start+rowBytes])
	}
	return out
}

// Release frees the renderer buffers and the CPU copies.
func (l *Ledger) Release() {
	for id := BufferID(0); id < bufferCount; id++ {
		if l.data[id] != nil {
			l.renderer.Release(id)
			l.data[id] = nil
		}
	}
	l.attrs.reset()
	l.order.reset()
}
