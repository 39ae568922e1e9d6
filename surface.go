package gsplat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/gpu"
	"github.com/gekko3d/gsplat/splatrt/rt/order"
	"github.com/gekko3d/gsplat/splatrt/rt/stream"
)

// Surface streams splat payloads into GPU slot buffers and keeps their draw
// order current. Everything except Load handles runs on the goroutine that
// calls Tick.
type Surface struct {
	cfg      config
	renderer gpu.Renderer
	log      Logger
	profiler *Profiler

	ctx    context.Context
	cancel context.CancelFunc

	ledger  *gpu.Ledger
	flusher *gpu.Flusher
	sched   *order.Scheduler
	bridge  *order.Bridge

	load *Load

	writes      int // successful SetAttribute calls
	epochWrites int // writes covered by the last epoch
	lastEpoch   time.Time

	destroyed bool
}

func newSurface(r gpu.Renderer, cfg config) *Surface {
	ctx, cancel := context.WithCancel(context.Background())
	log := cfg.logger
	if log == nil {
		log = NewNopLogger()
	}
	return &Surface{
		cfg:      cfg,
		renderer: r,
		log:      log,
		profiler: NewProfiler(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// allocate binds buffers for capacity slots and starts the sort worker.
func (s *Surface) allocate(capacity int) error {
	grid := gpu.NewGrid(capacity, s.cfg.alignment)
	ledger, err := gpu.NewLedger(grid, s.renderer, gpu.WithPartialThreshold(s.cfg.partialThreshold))
	if err != nil {
		return err
	}
	s.ledger = ledger
	s.flusher = gpu.NewFlusher(s.cfg.flush, time.Now())
	s.sched = order.NewScheduler(s.ctx, capacity,
		order.WithInterval(s.cfg.sortInterval),
		order.WithAdaptive(s.cfg.adaptiveSort),
	)
	s.bridge = order.NewBridge(ledger)
	s.log.Infof("surface: %d slots on a %dx%d grid", capacity, grid.Width, grid.Height)
	return nil
}

func (s *Surface) Capacity() int {
	if s.ledger == nil {
		return 0
	}
	return s.ledger.Capacity()
}

// Grid is the texture layout, zero before capacity is known.
func (s *Surface) Grid() gpu.Grid {
	if s.ledger == nil {
		return gpu.Grid{}
	}
	return s.ledger.Grid()
}

func (s *Surface) Profiler() *Profiler {
	return s.profiler
}

// Load starts decoding r. Only one load runs at a time.
func (s *Surface) Load(name string, r io.Reader) (*Load, error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	if s.load != nil {
		return nil, ErrLoadActive
	}
	l := newLoad(s.ctx, s.log, name, r, s.cfg.chunkSize, stream.WithBatchSize(s.cfg.batchSize))
	s.load = l
	l.log.Infof("started %q", name)
	return l, nil
}

// ActiveLoad is the running load, or nil.
func (s *Surface) ActiveLoad() *Load {
	return s.load
}

// SetAttribute writes one record directly into a slot.
func (s *Surface) SetAttribute(index int, rec core.RawRecord) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if s.ledger == nil {
		return ErrNoCapacity
	}
	if err := s.ledger.SetAttribute(index, rec); err != nil {
		return err
	}
	s.writes++
	return nil
}

// Commit uploads every pending slot now.
func (s *Surface) Commit() ([]gpu.Transfer, error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	return s.commit(time.Now())
}

func (s *Surface) commit(now time.Time) ([]gpu.Transfer, error) {
	if s.ledger == nil {
		return nil, nil
	}
	s.profiler.BeginScope("commit")
	transfers, err := s.ledger.Commit()
	s.profiler.EndScope("commit")
	s.flusher.Committed(now)

	for _, t := range transfers {
		s.profiler.AddCount("transfers", 1)
		if t.Kind == gpu.TransferPartial {
			s.profiler.AddCount("partial", 1)
		} else {
			s.profiler.AddCount("full", 1)
		}
	}
	if err != nil {
		return transfers, fmt.Errorf("gsplat: commit: %w", err)
	}
	return transfers, nil
}

// Stats reports slot counters; all zero before capacity is known.
func (s *Surface) Stats() gpu.Stats {
	if s.ledger == nil {
		return gpu.Stats{}
	}
	return s.ledger.Stats()
}

// DrawCount is how many entries of the order buffer may be drawn. It stays
// zero until the first sort lands.
func (s *Surface) DrawCount() int {
	if s.bridge == nil {
		return 0
	}
	return s.bridge.Count()
}

// Tick advances the surface by one frame: one decode batch, the sort
// exchange and a commit when the flush policy asks for one.
func (s *Surface) Tick(now time.Time, cam core.Camera) error {
	if s.destroyed {
		return ErrDestroyed
	}
	s.stepLoad(now)
	if s.ledger == nil {
		return nil
	}

	s.profiler.BeginScope("sort")
	err := s.stepSort(now, cam)
	s.profiler.EndScope("sort")
	if err != nil {
		return err
	}

	if s.flusher.Due(now, s.ledger.Pending()) {
		if _, err := s.commit(now); err != nil {
			return err
		}
	}
	s.profiler.SetCount("valid", s.ledger.ValidCount())
	s.profiler.SetCount("draw", s.DrawCount())
	return nil
}

func (s *Surface) stepLoad(now time.Time) {
	l := s.load
	if l == nil {
		return
	}
	if l.cancelled.Load() {
		s.settle(ErrCancelled)
		return
	}

	s.profiler.BeginScope("decode")
	defer s.profiler.EndScope("decode")

	if err := s.drain(l); err != nil {
		s.settle(err)
		return
	}
	if l.decoder.Header() != nil {
		recs, err := l.decoder.Step()
		for _, rec := range recs {
			if werr := s.SetAttribute(rec.Index, rec); werr != nil {
				var ie *gpu.IndexError
				if !errors.As(werr, &ie) {
					s.settle(werr)
					return
				}
				if l.dropped.Add(1) == 1 {
					l.log.Warnf("%v, dropping records past capacity", werr)
				}
			}
		}
		l.emitted.Store(int64(l.decoder.Emitted()))
		if err != nil {
			s.settle(err)
			return
		}
		if l.decoder.State() == stream.StateDone {
			if _, err := s.commit(now); err != nil {
				s.settle(err)
				return
			}
			s.refreshEpoch(now, true)
			s.settle(nil)
			return
		}
	}
	if l.broken != nil && !l.decoder.Ready() {
		s.settle(l.broken)
	}
}

// drain pushes every chunk that has already arrived into the decoder.
func (s *Surface) drain(l *Load) error {
	for !l.eof {
		select {
		case c, ok := <-l.chunks:
			if !ok {
				l.eof = true
				return l.decoder.Finish()
			}
			if c.err != nil {
				// records already buffered are still decoded
				l.broken = &TransportError{Err: c.err}
				l.eof = true
				return nil
			}
			if err := l.decoder.Push(c.data); err != nil {
				return err
			}
			if h := l.decoder.Header(); h != nil && !l.sized {
				l.sized = true
				if err := s.sizeFor(l, h); err != nil {
					return err
				}
			}
		default:
			return nil
		}
	}
	return nil
}

func (s *Surface) sizeFor(l *Load, h *stream.Header) error {
	n := h.VertexCount()
	l.total.Store(int64(n))
	l.log.Debugf("header %s, %d vertices, mode %v", h.Format, n, h.Mode)
	if s.ledger != nil {
		if n > s.ledger.Capacity() {
			l.log.Warnf("%d vertices exceed capacity %d", n, s.ledger.Capacity())
		}
		return nil
	}
	return s.allocate(n)
}

// settle ends the active load with err.
func (s *Surface) settle(err error) {
	l := s.load
	if l == nil {
		return
	}
	s.load = nil
	l.decoder.Cancel()

	emitted, total := l.Progress()
	var fe *stream.FormatError
	var te *TransportError
	switch {
	case err == nil:
		l.log.Infof("done, %d records", emitted)
	case errors.Is(err, ErrCancelled):
		l.log.Infof("cancelled after %d of %d records", emitted, total)
	case errors.As(err, &fe):
		l.log.Errorf("rejected: %v", err)
	case errors.As(err, &te):
		l.log.Errorf("%v; %d records kept", err, emitted)
	default:
		l.log.Errorf("%v", err)
	}
	if s.flusher != nil {
		s.flusher.Request()
	}
	l.finish(err)
}

func (s *Surface) stepSort(now time.Time, cam core.Camera) error {
	if r, ok := s.sched.Poll(); ok {
		changed, err := s.bridge.Apply(r)
		if err != nil {
			return fmt.Errorf("gsplat: order: %w", err)
		}
		if changed {
			s.flusher.Request()
		}
	}
	s.refreshEpoch(now, false)
	s.sched.Tick(now, cam)
	s.profiler.SetCount("dispatches", s.sched.Dispatches)
	s.profiler.SetCount("skipped", s.sched.Skipped)
	s.profiler.SetCount("epochs", s.sched.Epochs)
	return nil
}

// refreshEpoch hands the current centers to the scheduler when slots have
// been written since the last epoch, at most once per epoch interval unless
// forced.
func (s *Surface) refreshEpoch(now time.Time, force bool) {
	if s.writes == s.epochWrites {
		return
	}
	if !force && !s.lastEpoch.IsZero() && now.Sub(s.lastEpoch) < s.cfg.epochInterval {
		return
	}
	centers, slots := s.ledger.Centers()
	s.sched.SetCenters(centers, slots)
	s.epochWrites = s.writes
	s.lastEpoch = now
}

// Destroy cancels any load, terminates the sort worker and releases the
// GPU buffers. It may be called repeatedly.
func (s *Surface) Destroy() {
	if s.destroyed {
		return
	}
	if s.load != nil {
		s.load.Cancel()
		s.settle(ErrCancelled)
	}
	s.destroyed = true
	if s.sched != nil {
		s.sched.Stop()
	}
	s.cancel()
	if s.ledger != nil {
		s.ledger.Release()
	}
}
