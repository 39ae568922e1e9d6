package gsplat

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type scopeTiming struct {
	start time.Time
	last  time.Duration
	total time.Duration
	calls int
}

// Profiler keeps per-frame timings of the surface stages (decode, sort,
// commit) and the transfer and sort counters. It is not safe for concurrent
// use; the surface only touches it from Tick.
type Profiler struct {
	Counts map[string]int

	scopes map[string]*scopeTiming
	order  []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		Counts: make(map[string]int),
		scopes: make(map[string]*scopeTiming),
	}
}

func (p *Profiler) BeginScope(name string) {
	s, ok := p.scopes[name]
	if !ok {
		s = &scopeTiming{}
		p.scopes[name] = s
		p.order = append(p.order, name)
	}
	s.start = time.Now()
}

func (p *Profiler) EndScope(name string) {
	s, ok := p.scopes[name]
	if !ok || s.start.IsZero() {
		return
	}
	s.last = time.Since(s.start)
	s.total += s.last
	s.calls++
	s.start = time.Time{}
}

// Scope returns the latest and the mean duration of a stage.
func (p *Profiler) Scope(name string) (last, mean time.Duration) {
	s, ok := p.scopes[name]
	if !ok || s.calls == 0 {
		return 0, 0
	}
	return s.last, s.total / time.Duration(s.calls)
}

func (p *Profiler) SetCount(name string, count int) {
	p.Counts[name] = count
}

func (p *Profiler) AddCount(name string, delta int) {
	p.Counts[name] += delta
}

// Reset clears accumulated timings. Counters are kept.
func (p *Profiler) Reset() {
	for _, s := range p.scopes {
		*s = scopeTiming{}
	}
}

func (p *Profiler) GetStatsString() string {
	var sb strings.Builder

	sb.WriteString("Stages (ms, last / mean):\n")
	for _, name := range p.order {
		last, mean := p.Scope(name)
		fmt.Fprintf(&sb, "  %-8s %6.2f / %6.2f\n", name, ms(last), ms(mean))
	}

	sb.WriteString("Counters:\n")
	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %-10s %d\n", k, p.Counts[k])
	}
	return sb.String()
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
