package order

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomCenters(rng *rand.Rand, n int) []float32 {
	c := make([]float32, 3*n)
	for i := range c {
		c[i] = rng.Float32()*20 - 10
	}
	return c
}

func randomPose(rng *rand.Rand) (mgl32.Vec3, mgl32.Vec3) {
	pos := mgl32.Vec3{rng.Float32()*30 - 15, rng.Float32()*30 - 15, rng.Float32()*30 - 15}
	dir := mgl32.Vec3{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
	if dir.Len() < 1e-3 {
		dir = mgl32.Vec3{0, 0, -1}
	}
	return pos, dir.Normalize()
}

// checkBackToFront verifies order against raw distances only: it is a
// permutation, distances never increase by more than one bucket width, and
// exactly the first count entries lie in front of the camera plane.
func checkBackToFront(t *testing.T, order []uint32, count int, centers []float32, bounds core.Bounds, pos, dir mgl32.Vec3) {
	t.Helper()
	n := len(order)
	seen := make([]bool, n)
	for _, idx := range order {
		require.Less(t, int(idx), n)
		require.False(t, seen[idx], "index %d repeated", idx)
		seen[idx] = true
	}

	lo, hi := distanceRange(bounds, pos, dir)
	width := (hi - lo) / float64(BucketCount-1)
	for i := 1; i < n; i++ {
		prev := forwardDistance(centers, int(order[i-1]), pos, dir)
		cur := forwardDistance(centers, int(order[i]), pos, dir)
		require.LessOrEqual(t, cur, prev+width+1e-5, "position %d", i)
	}

	front := 0
	for i, idx := range order {
		d := forwardDistance(centers, int(idx), pos, dir)
		if i < count {
			require.GreaterOrEqual(t, d, 0.0, "position %d", i)
		} else {
			require.Less(t, d, 0.0, "position %d", i)
		}
		if d >= 0 {
			front++
		}
	}
	require.Equal(t, front, count)
}

func TestSortBackToFront_MatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var s Sorter
	for _, n := range []int{0, 1, 2, 1000} {
		for pose := 0; pose < 20; pose++ {
			centers := randomCenters(rng, n)
			pos, dir := randomPose(rng)
			bounds := core.BoundsOf(centers)

			got := make([]uint32, n)
			count := s.SortBackToFront(got, centers, bounds, pos, dir)
			checkBackToFront(t, got, count, centers, bounds, pos, dir)

			// a stable comparison sort on the same keys yields the same order
			q := newQuantizer(distanceRange(bounds, pos, dir))
			want := make([]uint32, n)
			for i := range want {
				want[i] = uint32(i)
			}
			sort.SliceStable(want, func(a, b int) bool {
				return q.key(forwardDistance(centers, int(want[a]), pos, dir)) <
					q.key(forwardDistance(centers, int(want[b]), pos, dir))
			})
			require.Equal(t, want, got, "n=%d pose=%d", n, pose)
		}
	}
}

func TestSortBackToFront_CameraInsideCloud(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	centers := randomCenters(rng, 1000)
	pos, dir := mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}
	bounds := core.BoundsOf(centers)

	order := make([]uint32, 1000)
	count := SortBackToFront(order, centers, bounds, pos, dir)
	require.Greater(t, count, 0)
	require.Less(t, count, 1000)
	checkBackToFront(t, order, count, centers, bounds, pos, dir)
}

func TestSortBackToFront_Degenerate(t *testing.T) {
	// every point at the same depth keeps index order
	centers := []float32{1, 0, -2, -1, 0, -2, 0, 3, -2}
	order := make([]uint32, 3)
	count := SortBackToFront(order, centers, core.Bounds{}, mgl32.Vec3{}, mgl32.Vec3{0, 0, -1})
	assert.Equal(t, []uint32{0, 1, 2}, order)
	assert.Equal(t, 3, count)

	// a single point behind the camera
	count = SortBackToFront(order[:1], []float32{0, 0, 4}, core.Bounds{}, mgl32.Vec3{}, mgl32.Vec3{0, 0, -1})
	assert.Zero(t, count)
}

func TestSortBackToFront_StraddlingBucket(t *testing.T) {
	// a wide range leaves the points around the plane in one bucket
	centers := []float32{
		0, 0, 1e-7, // behind by a hair
		0, 0, -1e-7, // in front by a hair
		0, 0, -1e6,
		0, 0, 1e6,
	}
	order := make([]uint32, 4)
	count := SortBackToFront(order, centers, core.Bounds{}, mgl32.Vec3{}, mgl32.Vec3{0, 0, -1})
	assert.Equal(t, 2, count)
	assert.Equal(t, []uint32{2, 1, 0, 3}, order)
}

func TestThrottle(t *testing.T) {
	t0 := time.Unix(0, 0)
	cam := func(x float32) core.Camera {
		return core.Camera{Position: mgl32.Vec3{x, 0, 0}, Forward: mgl32.Vec3{0, 0, -1}}
	}

	th := NewThrottle(100*time.Millisecond, false)
	assert.True(t, th.Allow(t0, cam(0), false), "first pose always goes out")
	assert.False(t, th.Allow(t0.Add(time.Second), cam(0), false), "unchanged pose")
	assert.True(t, th.Allow(t0.Add(time.Second), cam(0), true), "forced")
	assert.False(t, th.Allow(t0.Add(1050*time.Millisecond), cam(5), false), "interval")
	assert.True(t, th.Allow(t0.Add(1100*time.Millisecond), cam(5), false))
}

func TestThrottle_AdaptiveTiers(t *testing.T) {
	t0 := time.Unix(0, 0)
	cam := func(x float32) core.Camera {
		return core.Camera{Position: mgl32.Vec3{x, 0, 0}, Forward: mgl32.Vec3{0, 0, -1}}
	}

	slow := NewThrottle(100*time.Millisecond, true)
	slow.Allow(t0, cam(0), false)
	assert.False(t, slow.Allow(t0.Add(30*time.Millisecond), cam(0.01), false))
	assert.InDelta(t, 0.333, slow.Speed(), 0.01)
	assert.Equal(t, 100*time.Millisecond, slow.Effective())

	medium := NewThrottle(100*time.Millisecond, true)
	medium.Allow(t0, cam(0), false)
	assert.False(t, medium.Allow(t0.Add(30*time.Millisecond), cam(0.06), false))
	assert.Equal(t, 50*time.Millisecond, medium.Effective())
	assert.True(t, medium.Allow(t0.Add(60*time.Millisecond), cam(0.12), false))

	fast := NewThrottle(100*time.Millisecond, true)
	fast.Allow(t0, cam(0), false)
	assert.True(t, fast.Allow(t0.Add(25*time.Millisecond), cam(1), false))
	assert.Equal(t, 20*time.Millisecond, fast.Effective())

	fixed := NewThrottle(100*time.Millisecond, false)
	fixed.Allow(t0, cam(0), false)
	assert.False(t, fixed.Allow(t0.Add(25*time.Millisecond), cam(1), false))
	assert.True(t, math.Abs(fixed.Speed()-40) < 1e-6)
}

func waitReply(t *testing.T, w *Worker) Reply {
	t.Helper()
	select {
	case r := <-w.Replies():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no reply from worker")
	}
	return Reply{}
}

func TestWorker_Protocol(t *testing.T) {
	w := StartWorker(context.Background())
	defer w.Stop()

	centers := []float32{0, 0, -1, 0, 0, -5, 0, 0, 2}
	require.True(t, w.Send(Request{
		Order:           make([]uint32, 3),
		Centers:         centers,
		CameraDirection: mgl32.Vec3{0, 0, -1},
	}))
	r := waitReply(t, w)
	assert.Equal(t, []uint32{1, 0, 2}, r.Order)
	assert.Equal(t, 2, r.Count)
	assert.Equal(t, 3, r.Sorted)

	// camera only: the worker keeps the epoch's centers
	require.True(t, w.Send(Request{Order: r.Order, CameraDirection: mgl32.Vec3{0, 0, 1}}))
	r = waitReply(t, w)
	assert.Equal(t, []uint32{2, 0, 1}, r.Order)
	assert.Equal(t, 1, r.Count)
}

func TestWorker_Stop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := StartWorker(ctx)
	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
	w.Stop()
	w.Stop()
	assert.False(t, w.Send(Request{}))
}

func pollResult(t *testing.T, s *Scheduler) Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := s.Poll(); ok {
			return r
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no result from scheduler")
	return Result{}
}

func TestScheduler_EpochAndThrottle(t *testing.T) {
	s := NewScheduler(context.Background(), 8, WithInterval(10*time.Millisecond))
	defer s.Stop()

	t0 := time.Unix(0, 0)
	cam := core.Camera{Forward: mgl32.Vec3{0, 0, -1}}
	assert.False(t, s.Tick(t0, cam), "no centers yet")

	// centers 0..2 live in slots 6, 1, 4
	s.SetCenters([]float32{0, 0, -1, 0, 0, -5, 0, 0, 2}, []uint32{6, 1, 4})
	require.True(t, s.Tick(t0, cam))
	assert.True(t, s.InFlight())
	assert.False(t, s.Tick(t0.Add(time.Second), cam), "one request at a time")

	r := pollResult(t, s)
	assert.Equal(t, []uint32{1, 6, 4}, r.Order)
	assert.Equal(t, 2, r.Count)
	_, ok := s.Poll()
	assert.False(t, ok)

	assert.False(t, s.Tick(t0.Add(time.Second), cam), "unchanged pose")
	assert.Equal(t, 1, s.Skipped)

	back := core.Camera{Forward: mgl32.Vec3{0, 0, 1}}
	require.True(t, s.Tick(t0.Add(time.Second), back))
	r = pollResult(t, s)
	assert.Equal(t, []uint32{4, 6, 1}, r.Order)
	assert.Equal(t, 1, r.Count)

	// a new epoch goes out for the same pose
	s.SetCenters([]float32{0, 0, 3, 0, 0, 9}, []uint32{0, 2})
	require.True(t, s.Tick(t0.Add(2*time.Second), back))
	r = pollResult(t, s)
	assert.Equal(t, []uint32{2, 0}, r.Order)
	assert.Equal(t, 2, r.Count)
	assert.Equal(t, 3, s.Dispatches)
	assert.Equal(t, 2, s.Epochs)
}

func TestBridge_Apply(t *testing.T) {
	l, err := gpu.NewLedger(gpu.NewGrid(8, gpu.DefaultAlignment), gpu.NewMemoryRenderer())
	require.NoError(t, err)
	b := NewBridge(l)

	changed, err := b.Apply(Result{Order: []uint32{5, 2, 7}, Count: 3})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 3, b.Count())
	got := make([]uint32, 8)
	for i := range got {
		got[i] = l.Order(i)
	}
	assert.Equal(t, []uint32{5, 2, 7, 7, 7, 7, 7, 7}, got)

	changed, err = b.Apply(Result{Order: []uint32{5, 2, 7}, Count: 3})
	require.NoError(t, err)
	assert.False(t, changed, "same order")

	changed, err = b.Apply(Result{Order: []uint32{5, 2, 7}, Count: 2})
	require.NoError(t, err)
	assert.True(t, changed, "count changed")
	assert.Equal(t, uint32(2), l.Order(7))

	full := []uint32{0, 1, 2, 3, 4, 5, 6, 7}
	changed, err = b.Apply(Result{Order: full, Count: 8})
	require.NoError(t, err)
	assert.True(t, changed)

	// position 1 is not among the samples of an 8-entry order
	swapped := []uint32{0, 3, 2, 1, 4, 5, 6, 7}
	changed, err = b.Apply(Result{Order: swapped, Count: 8})
	require.NoError(t, err)
	assert.False(t, changed)

	swapped = []uint32{0, 1, 2, 3, 5, 4, 6, 7}
	changed, err = b.Apply(Result{Order: swapped, Count: 8})
	require.NoError(t, err)
	assert.True(t, changed, "midpoint changed")
}
