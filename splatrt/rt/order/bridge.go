package order

import "github.com/gekko3d/gsplat/splatrt/rt/gpu"

// Bridge copies sort results into a ledger's order buffer.
type Bridge struct {
	ledger *gpu.Ledger
	buf    []uint32
	count  int
	primed bool
}

func NewBridge(l *gpu.Ledger) *Bridge {
	return &Bridge{ledger: l, buf: make([]uint32, l.Capacity())}
}

// Count is the number of entries of the order buffer that may be drawn.
func (b *Bridge) Count() int {
	return b.count
}

// samples are the positions compared before a new order is accepted.
func samples(n int) []int {
	if n == 0 {
		return nil
	}
	return []int{0, n - 1, n / 2, n / 4, 3 * n / 4}
}

// Apply stores r in the ledger unless a handful of sampled positions show the
// order is unchanged. Entries from r.Count to capacity repeat the last drawn
// slot. It reports whether the ledger was touched.
func (b *Bridge) Apply(r Result) (bool, error) {
	count := min(r.Count, len(b.buf))
	if b.primed && count == b.count {
		changed := false
		for _, i := range samples(count) {
			if b.ledger.Order(i) != r.Order[i] {
				changed = true
				break
			}
		}
		if !changed {
			return false, nil
		}
	}

	copy(b.buf, r.Order[:count])
	var fill uint32
	if count > 0 {
		fill = b.buf[count-1]
	}
	for i := count; i < len(b.buf); i++ {
		b.buf[i] = fill
	}
	if err := b.ledger.SetOrder(b.buf); err != nil {
		return false, err
	}
	b.count = count
	b.primed = true
	return true, nil
}
