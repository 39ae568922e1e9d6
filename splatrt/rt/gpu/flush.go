package gpu

import "time"

// FlushPolicy bounds how long dirty slots may wait. A commit is due when
// more than MaxPending slots are dirty, or MaxFrames frames or MaxInterval
// have passed since the last commit, whichever comes first. Zero disables
// the corresponding limit.
type FlushPolicy struct {
	MaxPending  int
	MaxFrames   int
	MaxInterval time.Duration
}

func DefaultFlushPolicy() FlushPolicy {
	return FlushPolicy{
		MaxPending:  65536,
		MaxFrames:   4,
		MaxInterval: 50 * time.Millisecond,
	}
}

// Flusher applies a FlushPolicy frame by frame.
type Flusher struct {
	Policy FlushPolicy

	frames int
	last   time.Time
	forced bool
}

func NewFlusher(p FlushPolicy, now time.Time) *Flusher {
	return &Flusher{Policy: p, last: now}
}

// Request makes the next Due call report true whenever anything is pending.
func (f *Flusher) Request() {
	f.forced = true
}

// Due advances the frame counter and reports whether a commit should run.
func (f *Flusher) Due(now time.Time, pending int) bool {
	f.frames++
	if pending == 0 {
		return false
	}
	p := f.Policy
	switch {
	case f.forced:
		return true
	case p.MaxPending > 0 && pending > p.MaxPending:
		return true
	case p.MaxFrames > 0 && f.frames >= p.MaxFrames:
		return true
	case p.MaxInterval > 0 && now.Sub(f.last) >= p.MaxInterval:
		return true
	}
	return false
}

// Committed restarts the budget window.
func (f *Flusher) Committed(now time.Time) {
	f.frames = 0
	f.last = now
	f.forced = false
}
