package order

import (
	"math"
	"time"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
)

const (
	DefaultInterval = 16 * time.Millisecond

	// Hash-speed tiers, in hash units per second. Above SpeedFast the
	// interval halves, above SpeedFaster it drops to a fifth.
	SpeedFast   = 1.0
	SpeedFaster = 4.0
)

// Throttle decides when a camera pose is worth a new sort. The speed it
// estimates is the change of Camera.Hash over time, which only orders poses
// roughly and carries no physical unit.
type Throttle struct {
	Interval time.Duration
	Adaptive bool

	primed   bool
	lastHash float64
	lastTime time.Time
	speed    float64
}

func NewThrottle(interval time.Duration, adaptive bool) *Throttle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Throttle{Interval: interval, Adaptive: adaptive}
}

// Speed is the estimate computed by the latest Allow call.
func (t *Throttle) Speed() float64 {
	return t.speed
}

// Effective is the minimum gap between dispatches at the current speed.
func (t *Throttle) Effective() time.Duration {
	if !t.Adaptive {
		return t.Interval
	}
	switch {
	case t.speed > SpeedFaster:
		return t.Interval / 5
	case t.speed > SpeedFast:
		return t.Interval / 2
	}
	return t.Interval
}

// Allow reports whether a dispatch for cam may go out at now and records it
// when it does. An unchanged pose is refused unless force is set; force does
// not bypass the interval.
func (t *Throttle) Allow(now time.Time, cam core.Camera, force bool) bool {
	h := cam.Hash()
	if !t.primed {
		t.commit(now, h)
		return true
	}
	if h == t.lastHash && !force {
		return false
	}
	elapsed := now.Sub(t.lastTime)
	if secs := elapsed.Seconds(); secs > 0 {
		t.speed = math.Abs(h-t.lastHash) / secs
	}
	if elapsed < t.Effective() {
		return false
	}
	t.commit(now, h)
	return true
}

func (t *Throttle) commit(now time.Time, h float64) {
	t.primed = true
	t.lastHash = h
	t.lastTime = now
}

// Reset forgets the last dispatch.
func (t *Throttle) Reset() {
	t.primed = false
	t.speed = 0
}
