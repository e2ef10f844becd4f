package plugin

import (
	"fmt"
	"strings"
)

// MaxDims is the fixed rank of a Dims vector. It is part of the wire
// format: a Dims always serializes all MaxDims slots regardless of Nb.
const MaxDims = 8

// Dims describes the shape of one tensor, batch dimension excluded.
type Dims struct {
	Nb int32
	D  [MaxDims]int32
}

// MakeDims builds a Dims from the given extents.
func MakeDims(d ...int32) Dims {
	if len(d) > MaxDims {
		panic(fmt.Sprintf("plugin: %d dimensions exceeds MaxDims=%d", len(d), MaxDims))
	}
	var out Dims
	out.Nb = int32(len(d))
	copy(out.D[:], d)
	return out
}

// Slice returns the active extents as a slice.
func (d Dims) Slice() []int32 {
	return d.D[:d.Nb]
}

// Volume returns the number of elements in one tensor of this shape.
func (d Dims) Volume() int {
	if d.Nb == 0 {
		return 0
	}
	v := 1
	for _, x := range d.Slice() {
		v *= int(x)
	}
	return v
}

func (d Dims) String() string {
	parts := make([]string, 0, d.Nb)
	for _, x := range d.Slice() {
		parts = append(parts, fmt.Sprintf("%d", x))
	}
	return "[" + strings.Join(parts, "x") + "]"
}

// DataType tags the element type of tensor data. The numeric values are
// part of the wire format and must not be reordered.
type DataType int32

const (
	Float32 DataType = iota
	Float16
	Int8
	Int32
)

// Size returns the width of one element in bytes.
func (t DataType) Size() int {
	switch t {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Int8:
		return 1
	}
	return 0
}

// Valid reports whether t is one of the defined element types.
func (t DataType) Valid() bool {
	return t >= Float32 && t <= Int32
}

func (t DataType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	}
	return fmt.Sprintf("DataType(%d)", int32(t))
}

// Format tags the memory layout of tensor data. The numeric values are
// part of the wire format and must not be reordered.
type Format int32

const (
	// FormatNCHW is the linear channel-major layout.
	FormatNCHW Format = iota
	// FormatNC2HW2 packs channel pairs for vectorized kernels.
	FormatNC2HW2
	// FormatNHWC8 is channel-last padded to multiples of eight.
	FormatNHWC8
)

// Valid reports whether f is one of the defined layouts.
func (f Format) Valid() bool {
	return f >= FormatNCHW && f <= FormatNHWC8
}

func (f Format) String() string {
	switch f {
	case FormatNCHW:
		return "nchw"
	case FormatNC2HW2:
		return "nc2hw2"
	case FormatNHWC8:
		return "nhwc8"
	}
	return fmt.Sprintf("Format(%d)", int32(f))
}
