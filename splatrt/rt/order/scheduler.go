package order

import (
	"context"
	"time"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
)

type Option func(*Scheduler)

// WithInterval sets the base dispatch interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.throttle.Interval = d
		}
	}
}

// WithAdaptive enables the speed tiers of the throttle.
func WithAdaptive(enabled bool) Option {
	return func(s *Scheduler) {
		s.throttle.Adaptive = enabled
	}
}

type epoch struct {
	centers []float32
	slots   []uint32
	bounds  core.Bounds
}

// Result is a finished sort translated back into slot space by Poll.
// Order[:Count] lists slot indices back to front. Order is owned by the
// scheduler and stays valid until the next Tick.
type Result struct {
	Order []uint32
	Count int
}

// Scheduler is the main-side half of the depth sort. It batches camera
// poses into worker requests, starts epochs when the set of centers changes
// and translates replies from center indices into slot indices.
type Scheduler struct {
	worker   *Worker
	throttle *Throttle

	buf      []uint32 // order buffer when not in flight
	inFlight bool
	next     *epoch
	slots    []uint32 // slot table of the worker's current epoch
	flight   []uint32 // slot table of the in-flight request
	out      []uint32

	Dispatches int
	Skipped    int
	Epochs     int
}

func NewScheduler(ctx context.Context, capacity int, opts ...Option) *Scheduler {
	s := &Scheduler{
		throttle: NewThrottle(DefaultInterval, false),
		buf:      make([]uint32, capacity),
		out:      make([]uint32, capacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.worker = StartWorker(ctx)
	return s
}

func (s *Scheduler) Throttle() *Throttle {
	return s.throttle
}

// InFlight reports whether a request is waiting for its reply.
func (s *Scheduler) InFlight() bool {
	return s.inFlight
}

// SetCenters starts a new epoch with the given xyz triples; slots[i] is the
// slot holding center i. Both slices change hands and must not be touched by
// the caller afterwards. The epoch goes out with the next dispatch.
func (s *Scheduler) SetCenters(centers []float32, slots []uint32) {
	s.next = &epoch{centers: centers, slots: slots, bounds: core.BoundsOf(centers)}
}

// Tick dispatches a sort for cam when no request is in flight and the
// throttle allows it. A pending epoch is sent even if the pose is unchanged.
func (s *Scheduler) Tick(now time.Time, cam core.Camera) bool {
	if s.inFlight {
		return false
	}
	if s.next == nil && s.slots == nil {
		return false
	}
	if !s.throttle.Allow(now, cam, s.next != nil) {
		s.Skipped++
		return false
	}

	req := Request{
		Order:           s.buf,
		CameraPosition:  cam.Position,
		CameraDirection: cam.Forward,
	}
	slots := s.slots
	if s.next != nil {
		req.Centers = s.next.centers
		req.Bounds = s.next.bounds
		slots = s.next.slots
	}
	if !s.worker.Send(req) {
		return false
	}
	if s.next != nil {
		s.slots = s.next.slots
		s.next = nil
		s.Epochs++
	}
	s.buf = nil
	s.flight = slots
	s.inFlight = true
	s.Dispatches++
	return true
}

// Poll collects a finished sort without blocking.
func (s *Scheduler) Poll() (Result, bool) {
	if !s.inFlight {
		return Result{}, false
	}
	var r Reply
	select {
	case r = <-s.worker.Replies():
	default:
		return Result{}, false
	}
	s.inFlight = false
	s.buf = r.Order

	if len(s.out) < r.Sorted {
		s.out = make([]uint32, r.Sorted)
	}
	out := s.out[:r.Sorted]
	for i, c := range r.Order[:r.Sorted] {
		out[i] = s.flight[c]
	}
	return Result{Order: out, Count: r.Count}, true
}

// Stop terminates the worker. In-flight work is dropped.
func (s *Scheduler) Stop() {
	s.worker.Stop()
	s.inFlight = false
}

// Done is closed when the worker goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.worker.Done()
}
