package plugin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

// SerializationMagic marks the head of a self-describing plugin blob. It is
// written NUL-terminated, followed by the NUL-terminated plugin type name
// and the plugin's own payload. Changing it invalidates every serialized
// engine in existence.
const SerializationMagic = "GPURT_PLUGIN"

var (
	// ErrShortBuffer reports a read past the end of a serialized buffer.
	ErrShortBuffer = errors.New("plugin: serialized buffer too short")
	// ErrBadMagic reports a buffer that does not start with
	// SerializationMagic.
	ErrBadMagic = errors.New("plugin: buffer does not carry the plugin magic marker")
	// ErrTrailingBytes reports leftover bytes after a deserializing
	// constructor consumed its payload.
	ErrTrailingBytes = errors.New("plugin: trailing bytes after plugin payload")
)

// Fixed field widths of the wire format. All integers are little-endian.
const (
	int32Size  = 4
	uint64Size = 8
	// DimsWireSize is the serialized size of one Dims: nb plus all
	// MaxDims extents, populated or not.
	DimsWireSize = int32Size + MaxDims*int32Size
)

// StringWireSize returns the serialized size of a NUL-terminated string.
func StringWireSize(s string) int {
	return len(s) + 1
}

// DimsSliceWireSize returns the serialized size of a dims slice: a uint64
// count followed by the elements.
func DimsSliceWireSize(n int) int {
	return uint64Size + n*DimsWireSize
}

// Writer appends wire-format fields to a growing byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity preallocated for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Int32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) Uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) Float32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

// Raw appends b verbatim, for operator payloads with their own layout.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// String writes s followed by a NUL terminator. s must not contain NUL.
func (w *Writer) String(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *Writer) Dims(d Dims) {
	w.Int32(d.Nb)
	for i := 0; i < MaxDims; i++ {
		w.Int32(d.D[i])
	}
}

// DimsSlice writes a uint64 element count followed by each Dims.
func (w *Writer) DimsSlice(ds []Dims) {
	w.Uint64(uint64(len(ds)))
	for _, d := range ds {
		w.Dims(d)
	}
}

// Reader consumes wire-format fields from a byte buffer.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the unconsumed tail of the buffer.
func (r *Reader) Remaining() []byte { return r.data[r.off:] }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > len(r.data)-r.off {
		return nil, ErrShortBuffer
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Raw consumes the next n bytes verbatim.
func (r *Reader) Raw(n int) ([]byte, error) {
	return r.take(n)
}

func (r *Reader) Int32() (int32, error) {
	b, err := r.take(int32Size)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(uint64Size)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) Float32() (float32, error) {
	b, err := r.take(int32Size)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// String consumes bytes up to and including the next NUL terminator.
func (r *Reader) String() (string, error) {
	i := bytes.IndexByte(r.data[r.off:], 0)
	if i < 0 {
		return "", ErrShortBuffer
	}
	s := string(r.data[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}

func (r *Reader) Dims() (Dims, error) {
	var d Dims
	nb, err := r.Int32()
	if err != nil {
		return d, err
	}
	if nb < 0 || nb > MaxDims {
		return d, ErrShortBuffer
	}
	d.Nb = nb
	for i := 0; i < MaxDims; i++ {
		if d.D[i], err = r.Int32(); err != nil {
			return Dims{}, err
		}
	}
	return d, nil
}

func (r *Reader) DimsSlice() ([]Dims, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.Remaining()))/DimsWireSize {
		return nil, ErrShortBuffer
	}
	ds := make([]Dims, n)
	for i := range ds {
		if ds[i], err = r.Dims(); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// HasMagic reports whether data begins with the NUL-terminated
// SerializationMagic.
func HasMagic(data []byte) bool {
	n := len(SerializationMagic)
	return len(data) > n && string(data[:n]) == SerializationMagic && data[n] == 0
}

// ParseHeader splits a self-describing blob into its plugin type name and
// the wrapped plugin's own payload.
func ParseHeader(data []byte) (name string, payload []byte, err error) {
	if !HasMagic(data) {
		return "", nil, ErrBadMagic
	}
	r := NewReader(data)
	if _, err = r.String(); err != nil { // magic, validated above
		return "", nil, err
	}
	if name, err = r.String(); err != nil {
		return "", nil, err
	}
	return name, r.Remaining(), nil
}
