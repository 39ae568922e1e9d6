package order

import (
	"math"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// BucketCount is the number of depth buckets a sort quantizes into.
const BucketCount = 1<<16 + 1

// Sorter orders points back to front with a single counting pass. It keeps
// its scratch between calls and is not safe for concurrent use.
type Sorter struct {
	keys   []uint32
	counts []uint32
}

// quantizer maps a signed forward distance to a key. Keys grow as distance
// shrinks, so ascending keys are back to front. Every key is doubled and
// points behind the camera plane get the odd key, which keeps the front and
// behind halves of the bucket holding the plane apart.
type quantizer struct {
	minDist float64
	divider float64
}

func newQuantizer(minDist, maxDist float64) quantizer {
	q := quantizer{minDist: minDist}
	if maxDist-minDist > 1e-12 {
		q.divider = float64(BucketCount-1) / (maxDist - minDist)
	}
	return q
}

func (q quantizer) key(d float64) uint32 {
	b := math.Floor((d - q.minDist) * q.divider)
	switch {
	case b < 0 || math.IsNaN(b):
		b = 0
	case b > BucketCount-1:
		b = BucketCount - 1
	}
	k := uint32(BucketCount-1-int(b)) << 1
	if d < 0 {
		k |= 1
	}
	return k
}

// forwardDistance is the signed distance of c along dir from pos.
func forwardDistance(centers []float32, i int, pos, dir mgl32.Vec3) float64 {
	x := float64(centers[3*i]) - float64(pos[0])
	y := float64(centers[3*i+1]) - float64(pos[1])
	z := float64(centers[3*i+2]) - float64(pos[2])
	return x*float64(dir[0]) + y*float64(dir[1]) + z*float64(dir[2])
}

// distanceRange projects the eight corners of b onto dir.
func distanceRange(b core.Bounds, pos, dir mgl32.Vec3) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, c := range b.Corners() {
		d := float64(c.Sub(pos).Dot(dir))
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}

// SortBackToFront writes into order[:n] the indices of the n = len(centers)/3
// points, farthest along dir first, and returns how many of them are at or
// in front of the camera plane. Those points form the prefix order[:count].
// Points sharing a bucket keep index order. bounds should contain every
// center; an invalid bounds is recomputed from centers.
func (s *Sorter) SortBackToFront(order []uint32, centers []float32, bounds core.Bounds, pos, dir mgl32.Vec3) int {
	n := len(centers) / 3
	if n == 0 {
		return 0
	}
	if !bounds.Valid {
		bounds = core.BoundsOf(centers)
	}
	q := newQuantizer(distanceRange(bounds, pos, dir))

	if cap(s.keys) < n {
		s.keys = make([]uint32, n)
	}
	keys := s.keys[:n]
	if s.counts == nil {
		s.counts = make([]uint32, 2*BucketCount)
	} else {
		clear(s.counts)
	}

	front := 0
	for i := 0; i < n; i++ {
		d := forwardDistance(centers, i, pos, dir)
		if d >= 0 {
			front++
		}
		k := q.key(d)
		keys[i] = k
		s.counts[k]++
	}

	var sum uint32
	for k, c := range s.counts {
		s.counts[k] = sum
		sum += c
	}
	for i, k := range keys {
		order[s.counts[k]] = uint32(i)
		s.counts[k]++
	}
	return front
}

// SortBackToFront sorts with a throwaway Sorter.
func SortBackToFront(order []uint32, centers []float32, bounds core.Bounds, pos, dir mgl32.Vec3) int {
	var s Sorter
	return s.SortBackToFront(order, centers, bounds, pos, dir)
}
