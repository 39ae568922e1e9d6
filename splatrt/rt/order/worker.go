package order

import (
	"context"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// Request is one message to the worker. Order is always sent and belongs to
// the worker until it comes back in a Reply. Centers starts a new epoch and
// also changes hands; a nil Centers sorts the previous epoch's points again.
type Request struct {
	Order           []uint32
	Centers         []float32
	Bounds          core.Bounds
	CameraPosition  mgl32.Vec3
	CameraDirection mgl32.Vec3
}

// Reply carries the order buffer back. Order[:Sorted] is a permutation of
// the epoch's center indices and Order[:Count] are the points in front of
// the camera plane.
type Reply struct {
	Order  []uint32
	Count  int
	Sorted int
}

// Worker runs the depth sort on its own goroutine. At most one request is in
// flight; the channels are buffered so neither side blocks on the other.
type Worker struct {
	requests chan Request
	replies  chan Reply
	cancel   context.CancelFunc
	done     chan struct{}
}

func StartWorker(ctx context.Context) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		requests: make(chan Request, 1),
		replies:  make(chan Reply, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	var (
		sorter  Sorter
		centers []float32
		bounds  core.Bounds
	)
	for {
		var req Request
		select {
		case <-ctx.Done():
			return
		case req = <-w.requests:
		}

		if req.Centers != nil {
			centers, bounds = req.Centers, req.Bounds
		}
		n := len(centers) / 3
		if len(req.Order) < n {
			req.Order = make([]uint32, n)
		}
		count := sorter.SortBackToFront(req.Order, centers, bounds, req.CameraPosition, req.CameraDirection)

		select {
		case <-ctx.Done():
			return
		case w.replies <- Reply{Order: req.Order, Count: count, Sorted: n}:
		}
	}
}

// Send hands req to the worker. It reports false when the worker is stopped
// or an earlier request has not been picked up yet.
func (w *Worker) Send(req Request) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.requests <- req:
		return true
	default:
		return false
	}
}

// Replies delivers finished sorts.
func (w *Worker) Replies() <-chan Reply {
	return w.replies
}

// Stop terminates the worker without waiting for an in-flight sort to
// answer. It may be called repeatedly.
func (w *Worker) Stop() {
	w.cancel()
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
