package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kunal/gpu-plugin-runtime/pkg/plugin"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := plugin.NewWriter(0)
	w.Int32(-42)
	w.Uint64(1 << 40)
	w.Float32(3.5)
	w.String("MyOp")
	w.Dims(plugin.MakeDims(1, 3, 224, 224))
	w.DimsSlice([]plugin.Dims{plugin.MakeDims(1, 64), plugin.MakeDims(8)})

	r := plugin.NewReader(w.Bytes())

	i, err := r.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i)

	u, err := r.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), u)

	f, err := r.Float32()
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), f)

	s, err := r.String()
	require.NoError(t, err)
	assert.Equal(t, "MyOp", s)

	d, err := r.Dims()
	require.NoError(t, err)
	assert.Equal(t, plugin.MakeDims(1, 3, 224, 224), d)

	ds, err := r.DimsSlice()
	require.NoError(t, err)
	assert.Equal(t, []plugin.Dims{plugin.MakeDims(1, 64), plugin.MakeDims(8)}, ds)

	assert.Empty(t, r.Remaining())
}

func TestReaderShortBuffer(t *testing.T) {
	r := plugin.NewReader([]byte{1, 2})
	_, err := r.Int32()
	assert.ErrorIs(t, err, plugin.ErrShortBuffer)

	// A string without a NUL terminator is also short.
	r = plugin.NewReader([]byte("no terminator"))
	_, err = r.String()
	assert.ErrorIs(t, err, plugin.ErrShortBuffer)
}

func TestReaderRejectsHugeLengths(t *testing.T) {
	// Length fields are untrusted input; counts past the int range must
	// come back as short-buffer errors, not allocation or slicing panics.
	r := plugin.NewReader([]byte{1, 2, 3, 4})
	huge := uint64(1) << 63
	_, err := r.Raw(int(huge))
	assert.ErrorIs(t, err, plugin.ErrShortBuffer)

	_, err = r.Raw(1<<63 - 1)
	assert.ErrorIs(t, err, plugin.ErrShortBuffer)
}

func TestDimsSliceRejectsHugeCount(t *testing.T) {
	for _, count := range []uint64{1 << 63, 1 << 40, 3} {
		w := plugin.NewWriter(0)
		w.Uint64(count)
		w.Dims(plugin.MakeDims(1)) // room for one element only

		_, err := plugin.NewReader(w.Bytes()).DimsSlice()
		assert.ErrorIs(t, err, plugin.ErrShortBuffer, "count %d", count)
	}
}

func TestDeserializeBaseRejectsHugeDimsCount(t *testing.T) {
	w := plugin.NewWriter(0)
	w.Uint64(1 << 63) // dims count
	w.Uint64(8)
	w.Int32(int32(plugin.Float32))
	w.Int32(int32(plugin.FormatNCHW))

	var base plugin.Base
	err := base.DeserializeBase(plugin.NewReader(w.Bytes()))
	assert.ErrorIs(t, err, plugin.ErrShortBuffer)
}

func TestParseHeader(t *testing.T) {
	w := plugin.NewWriter(0)
	w.String(plugin.SerializationMagic)
	w.String("MyOp")
	w.Int32(7)

	name, payload, err := plugin.ParseHeader(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "MyOp", name)
	assert.Len(t, payload, 4)

	_, _, err = plugin.ParseHeader([]byte("not a plugin blob"))
	assert.ErrorIs(t, err, plugin.ErrBadMagic)
}

func TestWireSizesMatchWrites(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[A-Za-z0-9_]{1,32}`).Draw(t, "name")
		nbDims := rapid.IntRange(0, 4).Draw(t, "nbDims")
		dims := make([]plugin.Dims, nbDims)
		for i := range dims {
			rank := rapid.IntRange(0, plugin.MaxDims).Draw(t, "rank")
			extents := make([]int32, rank)
			for j := range extents {
				extents[j] = rapid.Int32Range(1, 4096).Draw(t, "extent")
			}
			dims[i] = plugin.MakeDims(extents...)
		}

		w := plugin.NewWriter(0)
		w.String(name)
		w.DimsSlice(dims)
		want := plugin.StringWireSize(name) + plugin.DimsSliceWireSize(len(dims))
		require.Equal(t, want, w.Len())

		r := plugin.NewReader(w.Bytes())
		gotName, err := r.String()
		require.NoError(t, err)
		require.Equal(t, name, gotName)
		gotDims, err := r.DimsSlice()
		require.NoError(t, err)
		require.Equal(t, dims, gotDims)
		require.Empty(t, r.Remaining())
	})
}

func TestDimsVolume(t *testing.T) {
	assert.Equal(t, 3*224*224, plugin.MakeDims(3, 224, 224).Volume())
	assert.Equal(t, 64, plugin.MakeDims(1, 64).Volume())
	assert.Equal(t, 0, plugin.Dims{}.Volume())
}
