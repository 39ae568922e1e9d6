package stream

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
)

func readScalar(b []byte, t ScalarType) float64 {
	switch t {
	case TypeInt8:
		return float64(int8(b[0]))
	case TypeUint8:
		return float64(b[0])
	case TypeInt16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case TypeUint16:
		return float64(binary.LittleEndian.Uint16(b))
	case TypeInt32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case TypeUint32:
		return float64(binary.LittleEndian.Uint32(b))
	case TypeFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// vertexLayout maps canonical property names to their index in a record.
// Missing properties are -1.
type vertexLayout struct {
	mode    Mode
	pos     [3]int
	scale   [3]int
	rot     [4]int
	opacity int
	dc      [3]int
	rest    []int
	color   [3]int
	colorT  [3]ScalarType
}

func newVertexLayout(el *Element, mode Mode) vertexLayout {
	l := vertexLayout{mode: mode, opacity: el.Property("opacity")}
	for i, n := range []string{"x", "y", "z"} {
		l.pos[i] = el.Property(n)
	}
	for i := 0; i < 3; i++ {
		l.scale[i] = el.Property("scale_" + strconv.Itoa(i))
		l.dc[i] = el.Property("f_dc_" + strconv.Itoa(i))
	}
	for i := 0; i < 4; i++ {
		l.rot[i] = el.Property("rot_" + strconv.Itoa(i))
	}
	for i, n := range []string{"red", "green", "blue"} {
		l.color[i] = el.Property(n)
		if l.color[i] >= 0 {
			l.colorT[i] = el.Properties[l.color[i]].Type
		}
	}

	type restProp struct{ n, idx int }
	var rest []restProp
	for i, p := range el.Properties {
		suffix, ok := strings.CutPrefix(p.Name, "f_rest_")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		rest = append(rest, restProp{n, i})
	}
	sort.Slice(rest, func(a, b int) bool { return rest[a].n < rest[b].n })
	for _, r := range rest {
		l.rest = append(l.rest, r.idx)
	}
	return l
}

func all(idx []int) bool {
	for _, i := range idx {
		if i < 0 {
			return false
		}
	}
	return true
}

func normalizeColor(v float64, t ScalarType) float32 {
	switch t {
	case TypeUint8:
		return float32(v / 255)
	case TypeUint16:
		return float32(v / 65535)
	}
	return float32(v)
}

func (l *vertexLayout) build(index int, vals []float64) core.RawRecord {
	r := core.RawRecord{Index: index}
	for i := 0; i < 3; i++ {
		r.Position[i] = float32(vals[l.pos[i]])
	}

	if all(l.color[:]) {
		r.Set(core.FieldColor)
		for i := 0; i < 3; i++ {
			r.Color[i] = normalizeColor(vals[l.color[i]], l.colorT[i])
		}
	}
	if l.mode == ModePointCloud {
		return r
	}

	r.Set(core.FieldRotation | core.FieldScale | core.FieldOpacity | core.FieldSH)
	r.Rotation.W = float32(vals[l.rot[0]])
	r.Rotation.V = [3]float32{float32(vals[l.rot[1]]), float32(vals[l.rot[2]]), float32(vals[l.rot[3]])}
	for i := 0; i < 3; i++ {
		r.Scale[i] = float32(vals[l.scale[i]])
	}
	r.Opacity = float32(vals[l.opacity])

	r.SH = make([]float32, 3+len(l.rest))
	for i := 0; i < 3; i++ {
		r.SH[i] = float32(vals[l.dc[i]])
	}
	for i, idx := range l.rest {
		r.SH[3+i] = float32(vals[idx])
	}
	return r
}

// nextASCII decodes one text line. Blank lines are consumed silently.
func (d *Decoder) nextASCII(el *Element, buf []byte, vals []float64) ([]float64, int, bool, error) {
	used := 0
	for {
		rest := buf[used:]
		end := bytes.IndexByte(rest, '\n')
		lineEnd := end + 1
		if end < 0 {
			if !d.eof || len(bytes.TrimSpace(rest)) == 0 {
				return nil, 0, false, nil
			}
			end, lineEnd = len(rest), len(rest)
		}
		fields := strings.Fields(string(rest[:end]))
		if len(fields) == 0 {
			used += lineEnd
			continue
		}
		if len(fields) != len(el.Properties) {
			return nil, 0, false, formatErrorf("record %d of %q has %d values, want %d",
				d.elemDone, el.Name, len(fields), len(el.Properties))
		}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, 0, false, formatErrorf("record %d of %q: bad value %q", d.elemDone, el.Name, f)
			}
			if el.Properties[i].Type == TypeFloat32 {
				v = float64(float32(v))
			}
			vals = append(vals, v)
		}
		d.scratch = vals
		return vals, used + lineEnd, true, nil
	}
}
