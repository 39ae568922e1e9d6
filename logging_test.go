package gsplat

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gekko3d/gsplat/splatrt/rt/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_TagsLinesWithLoad(t *testing.T) {
	var out, errs bytes.Buffer
	log := NewWriterLogger(&out, &errs, "test", true)
	s, _ := buildSurface(t, NewSurfaceBuilder(gpu.NewMemoryRenderer()).WithLogger(log))

	l, err := s.Load("two.ply", bytes.NewReader(plyPayload([3]float32{0, 0, -1}, [3]float32{1, 0, -1})))
	require.NoError(t, err)
	tickUntil(t, s, lookDownZ, settled(l))

	tag := "load " + l.ID.String()[:8] + ": "
	assert.Contains(t, out.String(), "[test] INFO: "+tag+`started "two.ply"`)
	assert.Contains(t, out.String(), "[test] DEBUG: "+tag+"header binary_little_endian")
	assert.Contains(t, out.String(), tag+"done, 2 records")
	assert.Contains(t, out.String(), "[test] INFO: surface: 2 slots")
	assert.Empty(t, errs.String())

	second, err := s.Load("bad.ply", strings.NewReader("obj\nend_header\n"))
	require.NoError(t, err)
	tickUntil(t, s, lookDownZ, settled(second))
	assert.Contains(t, errs.String(), "[test] ERROR: load "+second.ID.String()[:8]+": rejected")
}

func TestLogger_DebugToggle(t *testing.T) {
	var out bytes.Buffer
	log := NewWriterLogger(&out, &out, "", false)
	log.Debugf("hidden")
	assert.Empty(t, out.String())

	log.SetDebug(true)
	assert.True(t, log.DebugEnabled())
	log.Debugf("shown %d", 1)
	assert.Contains(t, out.String(), "DEBUG: shown 1")

	nop := NewNopLogger()
	nop.SetDebug(true)
	assert.False(t, nop.DebugEnabled())
}

func TestProfiler_Scopes(t *testing.T) {
	p := NewProfiler()
	for i := 0; i < 3; i++ {
		p.BeginScope("decode")
		time.Sleep(time.Millisecond)
		p.EndScope("decode")
	}
	p.EndScope("never-started")
	p.AddCount("transfers", 2)
	p.AddCount("transfers", 1)
	p.SetCount("valid", 7)

	last, mean := p.Scope("decode")
	assert.GreaterOrEqual(t, last, time.Millisecond)
	assert.GreaterOrEqual(t, mean, time.Millisecond)
	assert.Equal(t, 3, p.Counts["transfers"])

	stats := p.GetStatsString()
	assert.Contains(t, stats, "decode")
	assert.Contains(t, stats, "transfers  3")
	assert.NotContains(t, stats, "never-started")

	p.Reset()
	last, mean = p.Scope("decode")
	assert.Zero(t, last)
	assert.Zero(t, mean)
	assert.Equal(t, 7, p.Counts["valid"])
}
