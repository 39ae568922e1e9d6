package stream

const (
	arenaInitialSize = 4 * 1024
	arenaGrowth      = 2
)

// arena is an append-only byte buffer with a read cursor. Offsets handed out
// by Bytes are logical: they are relative to the read cursor and stay valid
// across growth. The consumed prefix is only compacted away when the arena
// has to grow, so capacity doubles from arenaInitialSize and never shrinks.
type arena struct {
	buf []byte
	r   int
	w   int
}

func (a *arena) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	if a.w+len(p) > len(a.buf) {
		a.grow(len(p))
	}
	copy(a.buf[a.w:], p)
	a.w += len(p)
}

func (a *arena) grow(extra int) {
	live := a.w - a.r
	if a.r > 0 {
		copy(a.buf, a.buf[a.r:a.w])
		a.r, a.w = 0, live
		if live+extra <= len(a.buf) {
			return
		}
	}
	size := len(a.buf)
	if size == 0 {
		size = arenaInitialSize
	}
	for size < live+extra {
		size *= arenaGrowth
	}
	next := make([]byte, size)
	copy(next, a.buf[:live])
	a.buf = next
}

// Bytes returns the unread bytes. The slice is invalidated by Append.
func (a *arena) Bytes() []byte {
	return a.buf[a.r:a.w]
}

func (a *arena) Len() int {
	return a.w - a.r
}

func (a *arena) Cap() int {
	return len(a.buf)
}

// Advance marks n bytes as consumed.
func (a *arena) Advance(n int) {
	a.r += n
	if a.r >= a.w {
		a.r, a.w = 0, 0
	}
}

func (a *arena) Release() {
	a.buf = nil
	a.r, a.w = 0, 0
}
