package gsplat

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/gekko3d/gsplat/splatrt/rt/stream"
	"github.com/google/uuid"
)

type LoadState int32

const (
	LoadRunning LoadState = iota
	LoadDone
	LoadFailed
	LoadCancelled
)

func (s LoadState) String() string {
	switch s {
	case LoadRunning:
		return "running"
	case LoadDone:
		return "done"
	case LoadFailed:
		return "failed"
	case LoadCancelled:
		return "cancelled"
	}
	return "unknown"
}

type chunk struct {
	data []byte
	err  error
}

// Load is one stream being decoded into a Surface. The surface drives it
// from Tick; its accessors are safe to use from other goroutines.
type Load struct {
	ID   uuid.UUID
	Name string

	log     Logger
	decoder *stream.Decoder
	chunks  chan chunk
	stop    context.CancelFunc
	eof     bool
	sized   bool
	broken  error // transport failure waiting for buffered records to drain

	cancelled atomic.Bool
	state     atomic.Int32
	emitted   atomic.Int64
	total     atomic.Int64
	dropped   atomic.Int64

	err  error
	done chan struct{}
}

func newLoad(ctx context.Context, log Logger, name string, r io.Reader, chunkSize int, opts ...stream.Option) *Load {
	ctx, stop := context.WithCancel(ctx)
	id := uuid.New()
	l := &Load{
		ID:      id,
		Name:    name,
		log:     withLoad(log, id),
		decoder: stream.NewDecoder(opts...),
		chunks:  make(chan chunk, 8),
		stop:    stop,
		done:    make(chan struct{}),
	}
	l.total.Store(-1)
	go l.pump(ctx, r, chunkSize)
	return l
}

// pump moves bytes from r onto the chunk channel until EOF, a read error or
// cancellation. A Read already blocked in r is not interrupted.
func (l *Load) pump(ctx context.Context, r io.Reader, chunkSize int) {
	defer close(l.chunks)
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case l.chunks <- chunk{data: buf[:n]}:
			case <-ctx.Done():
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			select {
			case l.chunks <- chunk{err: err}:
			case <-ctx.Done():
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Cancel stops the load. It is idempotent and safe from any goroutine; the
// surface settles the load on its next Tick.
func (l *Load) Cancel() {
	if l.cancelled.Swap(true) {
		return
	}
	l.decoder.Cancel()
	l.stop()
}

func (l *Load) State() LoadState {
	return LoadState(l.state.Load())
}

// Done is closed when the load reaches a terminal state.
func (l *Load) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the load settles or ctx ends. The surface must keep
// ticking on another goroutine for the load to make progress.
func (l *Load) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is the terminal error, ErrCancelled after cancellation, or nil while
// running or after success.
func (l *Load) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Progress returns the records decoded so far and the declared total, which
// is -1 until the header has been read.
func (l *Load) Progress() (emitted, total int) {
	return int(l.emitted.Load()), int(l.total.Load())
}

// Dropped counts records whose index fell outside the surface capacity.
func (l *Load) Dropped() int {
	return int(l.dropped.Load())
}

func (l *Load) finish(err error) {
	select {
	case <-l.done:
		return
	default:
	}
	switch {
	case err == nil:
		l.state.Store(int32(LoadDone))
	case errors.Is(err, ErrCancelled):
		l.state.Store(int32(LoadCancelled))
	default:
		l.state.Store(int32(LoadFailed))
	}
	l.err = err
	l.stop()
	close(l.done)
}
