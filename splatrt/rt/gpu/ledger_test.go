package gpu

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, capacity int) (*Ledger, *MemoryRenderer) {
	t.Helper()
	r := NewMemoryRenderer()
	l, err := NewLedger(NewGrid(capacity, DefaultAlignment), r)
	require.NoError(t, err)
	r.ResetCounters()
	return l, r
}

func record(x, y, z float32) core.RawRecord {
	return core.RawRecord{Position: mgl32.Vec3{x, y, z}}
}

func TestNewGrid(t *testing.T) {
	cases := []struct {
		capacity, align, w, h int
	}{
		{256, 4, 16, 16},
		{17, 4, 8, 3},
		{16, 4, 4, 4},
		{1, 4, 4, 1},
		{0, 4, 4, 1},
		{1000, 1, 32, 32},
		{1000, 16, 32, 32},
		{1025, 16, 48, 22},
	}
	for _, c := range cases {
		g := NewGrid(c.capacity, c.align)
		assert.Equal(t, c.w, g.Width, "width for %d/%d", c.capacity, c.align)
		assert.Equal(t, c.h, g.Height, "height for %d/%d", c.capacity, c.align)
		assert.GreaterOrEqual(t, g.Area(), c.capacity)
	}
}

func TestLedger_InitBindsZeroBuffers(t *testing.T) {
	r := NewMemoryRenderer()
	l, err := NewLedger(NewGrid(10, 4), r)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Binds)
	for id := BufferID(0); id < bufferCount; id++ {
		assert.Equal(t, make([]byte, 12*id.Format().BytesPerTexel()), r.Data(id), id.String())
	}
	assert.Equal(t, -1, l.LastValid())
}

func TestLedger_EmptyCommitTransfersNothing(t *testing.T) {
	l, r := newTestLedger(t, 64)
	transfers, err := l.Commit()
	require.NoError(t, err)
	assert.Empty(t, transfers)
	assert.Zero(t, r.Updates+r.Binds)
}

func TestLedger_SingleWritePartial(t *testing.T) {
	l, r := newTestLedger(t, 256)
	require.NoError(t, l.SetAttribute(37, record(1, 2, 3)))

	transfers, err := l.Commit()
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	for _, tr := range transfers {
		assert.Equal(t, TransferPartial, tr.Kind, tr.Buffer.String())
		assert.Equal(t, Rect{X: 5, Y: 2, W: 1, H: 1}, tr.Region)
	}
	assert.Equal(t, 3, r.Updates)
	assert.Zero(t, r.Binds)
	assert.Equal(t, 4+16+8, r.Bytes)

	// nothing left over
	transfers, err = l.Commit()
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestLedger_FullWhenRectSpansWidth(t *testing.T) {
	l, _ := newTestLedger(t, 256)
	require.NoError(t, l.SetAttribute(0, record(0, 0, 0)))
	require.NoError(t, l.SetAttribute(15, record(0, 0, 0)))

	transfers, err := l.Commit()
	require.NoError(t, err)
	for _, tr := range transfers {
		assert.Equal(t, TransferFull, tr.Kind)
		assert.Equal(t, Rect{W: 16, H: 16}, tr.Region)
	}
}

func TestLedger_FullWhenAreaAboveThreshold(t *testing.T) {
	l, _ := newTestLedger(t, 256)
	// rows 0..11, cols 0..14: 180 texels of 256
	require.NoError(t, l.SetAttribute(0, record(0, 0, 0)))
	require.NoError(t, l.SetAttribute(11*16+14, record(0, 0, 0)))

	transfers, err := l.Commit()
	require.NoError(t, err)
	assert.Equal(t, TransferFull, transfers[0].Kind)
}

func TestLedger_PartialThresholdOption(t *testing.T) {
	r := NewMemoryRenderer()
	l, err := NewLedger(NewGrid(256, 4), r, WithPartialThreshold(0.9))
	require.NoError(t, err)
	require.NoError(t, l.SetAttribute(0, record(0, 0, 0)))
	require.NoError(t, l.SetAttribute(11*16+14, record(0, 0, 0)))

	transfers, err := l.Commit()
	require.NoError(t, err)
	assert.Equal(t, TransferPartial, transfers[0].Kind)
	assert.Equal(t, Rect{X: 0, Y: 0, W: 15, H: 12}, transfers[0].Region)
}

func TestLedger_OutOfRangeRejectedWithoutMutation(t *testing.T) {
	l, r := newTestLedger(t, 20)
	before := make([][]byte, bufferCount)
	for id := BufferID(0); id < bufferCount; id++ {
		before[id] = append([]byte(nil), l.data[id]...)
	}

	for _, idx := range []int{-1, 20, 1 << 20} {
		err := l.SetAttribute(idx, record(9, 9, 9))
		var ie *IndexError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, idx, ie.Index)
		assert.Equal(t, 20, ie.Capacity)
	}
	for id := BufferID(0); id < bufferCount; id++ {
		assert.True(t, bytes.Equal(before[id], l.data[id]), id.String())
	}
	assert.Zero(t, l.ValidCount())
	assert.Zero(t, l.Pending())

	transfers, err := l.Commit()
	require.NoError(t, err)
	assert.Empty(t, transfers)
	assert.Zero(t, r.Updates)
}

func TestLedger_ValidCountMonotonic(t *testing.T) {
	l, _ := newTestLedger(t, 100)
	rng := rand.New(rand.NewSource(7))
	prev := 0
	for i := 0; i < 500; i++ {
		idx := rng.Intn(130) - 15
		_ = l.SetAttribute(idx, record(float32(i), 0, 0))
		require.GreaterOrEqual(t, l.ValidCount(), prev)
		prev = l.ValidCount()
		if i%37 == 0 {
			_, err := l.Commit()
			require.NoError(t, err)
		}
	}
	n := 0
	for i := 0; i < 100; i++ {
		if l.Valid(i) {
			n++
		}
	}
	assert.Equal(t, n, l.ValidCount())
}

func TestLedger_MirrorMatchesAfterCommits(t *testing.T) {
	l, r := newTestLedger(t, 300)
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 10; round++ {
		for k := 0; k < rng.Intn(40)+1; k++ {
			base := rng.Intn(280)
			require.NoError(t, l.SetAttribute(base+rng.Intn(20), record(rng.Float32(), rng.Float32(), rng.Float32())))
		}
		_, err := l.Commit()
		require.NoError(t, err)
		for id := BufferID(0); id < bufferCount; id++ {
			require.Equal(t, l.data[id], r.Data(id), "round %d buffer %s", round, id)
		}
	}
}

func TestLedger_StatsAndCenters(t *testing.T) {
	l, _ := newTestLedger(t, 8)
	require.NoError(t, l.SetAttribute(1, record(1, 2, 3)))
	require.NoError(t, l.SetAttribute(5, record(4, 5, 6)))
	require.NoError(t, l.SetAttribute(5, record(7, 8, 9)))

	s := l.Stats()
	assert.Equal(t, Stats{Capacity: 8, ValidCount: 2, PendingCount: 2, ProgressPercent: 25}, s)
	assert.Equal(t, 5, l.LastValid())

	centers, slots := l.Centers()
	assert.Equal(t, []float32{1, 2, 3, 7, 8, 9}, centers)
	assert.Equal(t, []uint32{1, 5}, slots)
	assert.Equal(t, mgl32.Vec3{7, 8, 9}, func() mgl32.Vec3 { s := l.Slot(5); return s.Position() }())
}

func TestLedger_SetOrder(t *testing.T) {
	l, r := newTestLedger(t, 10)
	assert.Error(t, l.SetOrder(make([]uint32, 3)))

	order := []uint32{3, 2, 1, 0, 0, 0, 0, 0, 0, 0}
	require.NoError(t, l.SetOrder(order))
	assert.Equal(t, 10, l.Pending())

	transfers, err := l.Commit()
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, BufferOrder, transfers[0].Buffer)
	assert.Equal(t, TransferFull, transfers[0].Kind)
	assert.Equal(t, uint32(3), l.Order(0))
	assert.Equal(t, l.data[BufferOrder], r.Data(BufferOrder))
}

// failingRenderer fails the Update calls whose 1-based number is in fail.
type failingRenderer struct {
	*MemoryRenderer
	calls int
	fail  map[int]bool
}

func (f *failingRenderer) Update(id BufferID, region Rect, data []byte) error {
	f.calls++
	if f.fail[f.calls] {
		return errors.New("device lost")
	}
	return f.MemoryRenderer.Update(id, region, data)
}

func TestLedger_FailedCommitKeepsDirtySlots(t *testing.T) {
	cases := []struct {
		name string
		fail int
	}{
		{"attribute upload", 1},
		{"last attribute upload", 3},
		{"order upload", 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &failingRenderer{MemoryRenderer: NewMemoryRenderer(), fail: map[int]bool{c.fail: true}}
			l, err := NewLedger(NewGrid(16, DefaultAlignment), r)
			require.NoError(t, err)

			require.NoError(t, l.SetAttribute(5, record(1, 2, 3)))
			order := make([]uint32, 16)
			order[0] = 5
			require.NoError(t, l.SetOrder(order))
			before := l.Pending()

			_, err = l.Commit()
			require.Error(t, err)
			if c.fail <= 3 {
				assert.Equal(t, before, l.Pending(), "nothing may be lost")
			} else {
				assert.Equal(t, 16, l.Pending(), "order stays pending")
			}

			_, err = l.Commit()
			require.NoError(t, err)
			assert.Zero(t, l.Pending())
			for id := BufferID(0); id < bufferCount; id++ {
				assert.Equal(t, l.data[id], r.Data(id), "buffer %s", id)
			}
		})
	}
}

func TestLedger_Release(t *testing.T) {
	l, r := newTestLedger(t, 10)
	l.Release()
	assert.Equal(t, 4, r.Releases)
	for id := BufferID(0); id < bufferCount; id++ {
		assert.False(t, r.Bound(id))
	}
	l.Release()
	assert.Equal(t, 4, r.Releases)
}

func TestFlusher(t *testing.T) {
	start := time.Unix(100, 0)
	f := NewFlusher(FlushPolicy{MaxPending: 10, MaxFrames: 3, MaxInterval: time.Second}, start)

	assert.False(t, f.Due(start, 0), "nothing pending")
	assert.False(t, f.Due(start, 5))
	assert.True(t, f.Due(start, 5), "frame budget")
	f.Committed(start)

	assert.True(t, f.Due(start, 11), "pending threshold")
	f.Committed(start)

	assert.True(t, f.Due(start.Add(time.Second), 1), "interval budget")
	f.Committed(start.Add(time.Second))

	f.Request()
	assert.True(t, f.Due(start.Add(time.Second), 1), "forced")
	f.Committed(start.Add(time.Second))
	assert.False(t, f.Due(start.Add(time.Second), 1))
}
