package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
)

// DefaultBatchSize is how many records Step decodes before handing control
// back to the caller.
const DefaultBatchSize = 4096

// State is the decoder's position in its lifecycle.
type State int

const (
	StateAwaitingHeader State = iota
	StateParsingRecords
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHeader:
		return "awaiting-header"
	case StateParsingRecords:
		return "parsing-records"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Option func(*Decoder)

// WithBatchSize sets how many records a single Step may decode.
func WithBatchSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.batch = n
		}
	}
}

// Decoder turns an append-only sequence of byte chunks into RawRecords.
// Chunk boundaries may fall anywhere, including inside the header or inside
// a record; the decoded output does not depend on where they fall.
//
// The decoder is driven by its owner: Push appends bytes, Step decodes at
// most one batch. Only Cancel may be called from another goroutine.
type Decoder struct {
	batch     int
	state     State
	cancelled atomic.Bool
	err       error
	eof       bool

	head arena
	body arena

	header  *Header
	layout  vertexLayout
	scratch []float64

	elem     int // element currently being consumed
	elemDone int // records consumed of that element
	emitted  int // vertex records produced
}

func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{batch: DefaultBatchSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decoder) State() State {
	if d.cancelled.Load() && d.state != StateDone && d.state != StateFailed {
		return StateCancelled
	}
	return d.state
}

// Header is nil until the terminator has been seen.
func (d *Decoder) Header() *Header {
	return d.header
}

// Emitted is the number of vertex records produced so far.
func (d *Decoder) Emitted() int {
	return d.emitted
}

// Err is the terminal error of a failed decode.
func (d *Decoder) Err() error {
	return d.err
}

// Cancel stops the decoder. It is safe to call repeatedly and from any
// goroutine; the next Push or Step observes it.
func (d *Decoder) Cancel() {
	d.cancelled.Store(true)
}

func (d *Decoder) fail(err error) error {
	d.state = StateFailed
	d.err = err
	d.head.Release()
	d.body.Release()
	return err
}

func (d *Decoder) checkCancelled() bool {
	if !d.cancelled.Load() {
		return false
	}
	if d.state == StateAwaitingHeader || d.state == StateParsingRecords {
		d.state = StateCancelled
		d.head.Release()
		d.body.Release()
	}
	return true
}

// Push appends a chunk. Bytes arriving after the last declared record are
// ignored.
func (d *Decoder) Push(chunk []byte) error {
	if d.checkCancelled() {
		return ErrCancelled
	}
	switch d.state {
	case StateFailed:
		return d.err
	case StateAwaitingHeader:
		from := d.head.Len() - len(headerTerminator) - 1
		if from < 0 {
			from = 0
		}
		d.head.Append(chunk)
		end := findHeaderEnd(d.head.Bytes(), from)
		if end < 0 {
			return nil
		}
		h, err := ParseHeader(d.head.Bytes()[:end])
		if err != nil {
			return d.fail(err)
		}
		d.header = h
		d.layout = newVertexLayout(&h.Elements[h.Vertex], h.Mode)
		d.scratch = make([]float64, 0, 64)
		d.body.Append(d.head.Bytes()[end:])
		d.head.Release()
		d.state = StateParsingRecords
		d.advance()
	case StateParsingRecords:
		d.body.Append(chunk)
	}
	return nil
}

// Finish signals that no more chunks will arrive.
func (d *Decoder) Finish() error {
	if d.checkCancelled() {
		return ErrCancelled
	}
	d.eof = true
	switch d.state {
	case StateFailed:
		return d.err
	case StateAwaitingHeader:
		return d.fail(formatErrorf("stream ended before %s", headerTerminator))
	case StateParsingRecords:
		if !d.ready() {
			return d.fail(d.truncated())
		}
	}
	return nil
}

// Ready reports whether Step can make progress with the bytes buffered now.
func (d *Decoder) Ready() bool {
	return d.state == StateParsingRecords && !d.cancelled.Load() && d.ready()
}

// Step decodes up to one batch of records. It returns an empty slice when it
// needs more bytes. Records decoded before a failure are still returned
// together with the error.
func (d *Decoder) Step() ([]core.RawRecord, error) {
	if d.checkCancelled() {
		return nil, ErrCancelled
	}
	switch d.state {
	case StateFailed:
		return nil, d.err
	case StateParsingRecords:
	default:
		return nil, nil
	}

	var out []core.RawRecord
	for n := 0; n < d.batch && d.state == StateParsingRecords; n++ {
		el := &d.header.Elements[d.elem]
		vals, used, ok, err := d.next(el)
		if err != nil {
			return out, d.fail(err)
		}
		if !ok {
			break
		}
		d.body.Advance(used)
		d.elemDone++
		if d.elem == d.header.Vertex {
			if out == nil {
				out = make([]core.RawRecord, 0, d.batchHint())
			}
			out = append(out, d.layout.build(d.emitted, vals))
			d.emitted++
		}
		d.advance()
	}

	if d.state == StateParsingRecords && d.eof && !d.ready() {
		return out, d.fail(d.truncated())
	}
	return out, nil
}

func (d *Decoder) batchHint() int {
	left := d.header.VertexCount() - d.emitted
	if left < d.batch {
		return left
	}
	return d.batch
}

func (d *Decoder) truncated() error {
	return formatErrorf("stream ended after %d of %d records", d.emitted, d.header.VertexCount())
}

// advance skips exhausted elements and flips to Done after the last one.
func (d *Decoder) advance() {
	for d.elem < len(d.header.Elements) && d.elemDone >= d.header.Elements[d.elem].Count {
		d.elem++
		d.elemDone = 0
	}
	if d.elem >= len(d.header.Elements) {
		d.state = StateDone
		d.body.Release()
	}
}

func (d *Decoder) ready() bool {
	if d.state != StateParsingRecords {
		return false
	}
	buf := d.body.Bytes()
	if d.header.Format == FormatBinaryLittleEndian {
		return len(buf) >= d.header.Elements[d.elem].Stride
	}
	return hasLine(buf, d.eof)
}

// hasLine reports whether buf holds a complete non-blank text line. At end
// of stream an unterminated final line counts.
func hasLine(buf []byte, eof bool) bool {
	for len(buf) > 0 {
		end := bytes.IndexByte(buf, '\n')
		if end < 0 {
			return eof && len(bytes.TrimSpace(buf)) > 0
		}
		if len(bytes.TrimSpace(buf[:end])) > 0 {
			return true
		}
		buf = buf[end+1:]
	}
	return false
}

// next decodes the record at the read cursor without consuming it. ok is
// false when the record is not complete yet.
func (d *Decoder) next(el *Element) (vals []float64, used int, ok bool, err error) {
	buf := d.body.Bytes()
	vals = d.scratch[:0]
	if d.header.Format == FormatBinaryLittleEndian {
		// offset + stride must fit in what has arrived; a partial record
		// stays in the arena untouched
		if len(buf) < el.Stride {
			return nil, 0, false, nil
		}
		for _, p := range el.Properties {
			vals = append(vals, readScalar(buf[p.Offset:], p.Type))
		}
		d.scratch = vals
		return vals, el.Stride, true, nil
	}
	return d.nextASCII(el, buf, vals)
}

func decodeAll(d *Decoder, r io.Reader, chunkSize int) ([]core.RawRecord, error) {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	var out []core.RawRecord
	chunk := make([]byte, chunkSize)
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			if err := d.Push(chunk[:n]); err != nil {
				return out, err
			}
			for d.Ready() {
				recs, err := d.Step()
				out = append(out, recs...)
				if err != nil {
					return out, err
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return out, fmt.Errorf("stream: read: %w", rerr)
		}
	}
	if err := d.Finish(); err != nil {
		return out, err
	}
	for d.State() == StateParsingRecords {
		recs, err := d.Step()
		out = append(out, recs...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// DecodeReader decodes an entire payload from r. It is the blocking
// counterpart of driving a Decoder by hand.
func DecodeReader(r io.Reader, chunkSize int, opts ...Option) ([]core.RawRecord, error) {
	return decodeAll(NewDecoder(opts...), r, chunkSize)
}
