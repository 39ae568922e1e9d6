package stream

import (
	"bytes"
	"strconv"
	"strings"
)

// Format is the payload encoding declared by the header.
type Format int

const (
	FormatBinaryLittleEndian Format = iota
	FormatASCII
)

func (f Format) String() string {
	switch f {
	case FormatBinaryLittleEndian:
		return "binary_little_endian"
	case FormatASCII:
		return "ascii"
	}
	return "unknown"
}

// Mode is what the payload carries, derived from the declared properties.
type Mode int

const (
	ModePointCloud Mode = iota
	ModeSplat
)

func (m Mode) String() string {
	if m == ModeSplat {
		return "splat"
	}
	return "pointcloud"
}

// ScalarType is a fixed-width scalar property type.
type ScalarType int

const (
	TypeInt8 ScalarType = iota
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeFloat32
	TypeFloat64
)

var scalarTypes = map[string]ScalarType{
	"char": TypeInt8, "int8": TypeInt8,
	"uchar": TypeUint8, "uint8": TypeUint8,
	"short": TypeInt16, "int16": TypeInt16,
	"ushort": TypeUint16, "uint16": TypeUint16,
	"int": TypeInt32, "int32": TypeInt32,
	"uint": TypeUint32, "uint32": TypeUint32,
	"float": TypeFloat32, "float32": TypeFloat32,
	"double": TypeFloat64, "float64": TypeFloat64,
}

// Size is the width of the type in bytes.
func (t ScalarType) Size() int {
	switch t {
	case TypeInt8, TypeUint8:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeFloat64:
		return 8
	}
	return 0
}

type Property struct {
	Name   string
	Type   ScalarType
	Offset int // byte offset inside the record
}

type Element struct {
	Name       string
	Count      int
	Properties []Property
	Stride     int
}

// Property returns the index of the named property, or -1.
func (e *Element) Property(name string) int {
	for i := range e.Properties {
		if e.Properties[i].Name == name {
			return i
		}
	}
	return -1
}

// Header is a parsed point-cloud header.
type Header struct {
	Format   Format
	Elements []Element
	Mode     Mode
	Vertex   int // index of the vertex element in Elements
	Comments []string
}

// VertexCount is the number of records the payload declares.
func (h *Header) VertexCount() int {
	return h.Elements[h.Vertex].Count
}

var splatProperties = []string{
	"x", "y", "z",
	"scale_0", "scale_1", "scale_2",
	"opacity",
	"rot_0", "rot_1", "rot_2", "rot_3",
	"f_dc_0", "f_dc_1", "f_dc_2",
}

const headerTerminator = "end_header"

// findHeaderEnd locates the terminator line in buf. The terminator only
// counts at the start of a line. It returns the offset of the first payload
// byte, or -1 when the terminator is not (yet) complete.
func findHeaderEnd(buf []byte, from int) int {
	for {
		i := bytes.Index(buf[from:], []byte(headerTerminator))
		if i < 0 {
			return -1
		}
		if at := from + i; at == 0 || buf[at-1] != '\n' {
			from = at + 1
			continue
		}
		p := from + i + len(headerTerminator)
		if p >= len(buf) {
			return -1
		}
		switch buf[p] {
		case '\n':
			return p + 1
		case '\r':
			if p+1 >= len(buf) {
				return -1
			}
			if buf[p+1] == '\n' {
				return p + 2
			}
		}
		from = from + i + 1
	}
}

// ParseHeader parses the header text up to and including the terminator.
func ParseHeader(text []byte) (*Header, error) {
	lines := strings.Split(strings.ReplaceAll(string(text), "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "ply" {
		return nil, formatErrorf("missing ply magic")
	}

	h := &Header{Vertex: -1}
	formatSeen := false
	var current *Element
	hasFace := false

	for n, raw := range lines[1:] {
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "comment", "obj_info":
			h.Comments = append(h.Comments, strings.TrimSpace(strings.TrimPrefix(raw, fields[0])))
		case "format":
			if len(fields) < 2 {
				return nil, formatErrorf("line %d: malformed format line", n+2)
			}
			switch fields[1] {
			case "binary_little_endian":
				h.Format = FormatBinaryLittleEndian
			case "ascii":
				h.Format = FormatASCII
			default:
				return nil, formatErrorf("unsupported format %q", fields[1])
			}
			formatSeen = true
		case "element":
			if len(fields) != 3 {
				return nil, formatErrorf("line %d: malformed element line", n+2)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, formatErrorf("line %d: bad element count %q", n+2, fields[2])
			}
			if fields[1] == "face" {
				hasFace = true
			}
			h.Elements = append(h.Elements, Element{Name: fields[1], Count: count})
			current = &h.Elements[len(h.Elements)-1]
		case "property":
			if current == nil {
				return nil, formatErrorf("line %d: property outside element", n+2)
			}
			if len(fields) >= 2 && fields[1] == "list" {
				if current.Name == "face" {
					continue
				}
				return nil, formatErrorf("list property %q on element %q", fields[len(fields)-1], current.Name)
			}
			if len(fields) != 3 {
				return nil, formatErrorf("line %d: malformed property line", n+2)
			}
			typ, ok := scalarTypes[fields[1]]
			if !ok {
				return nil, formatErrorf("unknown property type %q", fields[1])
			}
			current.Properties = append(current.Properties, Property{
				Name:   fields[2],
				Type:   typ,
				Offset: current.Stride,
			})
			current.Stride += typ.Size()
		case headerTerminator:
			// the terminator closes the header; nothing follows it here
		default:
			return nil, formatErrorf("line %d: unexpected keyword %q", n+2, fields[0])
		}
	}

	if !formatSeen {
		return nil, formatErrorf("missing format line")
	}
	if hasFace {
		return nil, formatErrorf("mesh payloads are not supported")
	}
	for i := range h.Elements {
		if h.Elements[i].Name == "vertex" {
			h.Vertex = i
			break
		}
	}
	if h.Vertex < 0 {
		return nil, formatErrorf("missing vertex element")
	}

	vertex := &h.Elements[h.Vertex]
	for _, axis := range []string{"x", "y", "z"} {
		if vertex.Property(axis) < 0 {
			return nil, formatErrorf("vertex element lacks %q", axis)
		}
	}

	h.Mode = ModeSplat
	for _, name := range splatProperties {
		if vertex.Property(name) < 0 {
			h.Mode = ModePointCloud
			break
		}
	}
	return h, nil
}
