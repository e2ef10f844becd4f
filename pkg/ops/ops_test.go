package ops_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunal/gpu-plugin-runtime/pkg/ops"
	"github.com/kunal/gpu-plugin-runtime/pkg/plugin"
	"github.com/kunal/gpu-plugin-runtime/pkg/registry"
	"github.com/kunal/gpu-plugin-runtime/pkg/runtime"
)

func floatBuffer(values ...float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func floatsOf(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func TestIdentityCopiesInput(t *testing.T) {
	p := ops.NewIdentity()
	ins := []plugin.Dims{plugin.MakeDims(4)}
	p.ConfigureWithFormat(ins, []plugin.Dims{p.OutputDims(0, ins)}, plugin.Float32, plugin.FormatNCHW, 2)
	require.NoError(t, p.Initialize())
	defer p.Terminate()

	assert.Equal(t, 0, p.WorkspaceSize(2))

	stream := runtime.NewStream()
	defer stream.Close()

	in := floatBuffer(1, 2, 3, 4, 5, 6, 7, 8)
	out := make([]byte, len(in))
	require.NoError(t, p.Enqueue(2, [][]byte{in}, [][]byte{out}, nil, stream))
	stream.Synchronize()

	assert.Equal(t, in, out)
}

func TestIdentityShortBuffer(t *testing.T) {
	p := ops.NewIdentity()
	ins := []plugin.Dims{plugin.MakeDims(4)}
	p.ConfigureWithFormat(ins, []plugin.Dims{p.OutputDims(0, ins)}, plugin.Float32, plugin.FormatNCHW, 2)

	stream := runtime.NewStream()
	defer stream.Close()

	in := floatBuffer(1, 2, 3, 4)
	out := make([]byte, 8) // too small for one batch element
	err := p.Enqueue(1, [][]byte{in}, [][]byte{out}, nil, stream)
	assert.Error(t, err)
}

func TestScaleMultiplies(t *testing.T) {
	p := ops.NewScale(0.5)
	ins := []plugin.Dims{plugin.MakeDims(4)}
	p.ConfigureWithFormat(ins, []plugin.Dims{p.OutputDims(0, ins)}, plugin.Float32, plugin.FormatNCHW, 2)
	require.NoError(t, p.Initialize())
	defer p.Terminate()

	wsSize := p.WorkspaceSize(2)
	assert.Equal(t, 2*4*4, wsSize)
	workspace := make([]byte, wsSize)

	stream := runtime.NewStream()
	defer stream.Close()

	in := floatBuffer(2, 4, 6, 8, 10, 12, 14, 16)
	out := make([]byte, len(in))
	require.NoError(t, p.Enqueue(2, [][]byte{in}, [][]byte{out}, workspace, stream))
	stream.Synchronize()

	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, floatsOf(out))
}

func TestScaleRequiresWorkspace(t *testing.T) {
	p := ops.NewScale(2)
	ins := []plugin.Dims{plugin.MakeDims(4)}
	p.ConfigureWithFormat(ins, []plugin.Dims{p.OutputDims(0, ins)}, plugin.Float32, plugin.FormatNCHW, 1)

	stream := runtime.NewStream()
	defer stream.Close()

	in := floatBuffer(1, 2, 3, 4)
	out := make([]byte, len(in))
	err := p.Enqueue(1, [][]byte{in}, [][]byte{out}, nil, stream)
	assert.Error(t, err)
}

func TestScaleFormatWhitelist(t *testing.T) {
	p := ops.NewScale(1)
	assert.True(t, p.SupportsFormat(plugin.Float32, plugin.FormatNCHW))
	assert.False(t, p.SupportsFormat(plugin.Float16, plugin.FormatNCHW))
	assert.False(t, p.SupportsFormat(plugin.Float32, plugin.FormatNHWC8))
	assert.False(t, p.SupportsFormat(plugin.Int8, plugin.FormatNHWC8))
}

// TestScaleSurvivesSerialization drives the full store/reload path: a
// configured operator is wrapped self-describing, serialized, reconstructed
// through the registry, and must come back with identical cached state and
// an identical re-serialization.
func TestScaleSurvivesSerialization(t *testing.T) {
	p := ops.NewScale(3.25)
	ins := []plugin.Dims{plugin.MakeDims(3, 32, 32)}
	p.ConfigureWithFormat(ins, []plugin.Dims{p.OutputDims(0, ins)}, plugin.Float32, plugin.FormatNCHW, 8)

	sd := registry.Default.Wrap(p)
	w := plugin.NewWriter(sd.SerializationSize())
	sd.Serialize(w)
	data := w.Bytes()
	require.Len(t, data, sd.SerializationSize())

	h, err := registry.Deserialize(data)
	require.NoError(t, err)
	defer h.Release()

	restored := h.Op().(*plugin.SelfDescribing).Unwrap().(*ops.Scale)
	assert.Equal(t, ops.ScalePluginType, restored.PluginType())
	assert.Equal(t, p.Factor(), restored.Factor())
	assert.Equal(t, p.InputDims(0), restored.InputDims(0))
	assert.Equal(t, 8, restored.MaxBatchSize())
	assert.Equal(t, p.WorkspaceSize(8), restored.WorkspaceSize(8))

	w2 := plugin.NewWriter(h.Op().SerializationSize())
	h.Op().Serialize(w2)
	assert.Equal(t, data, w2.Bytes())
}

func TestScaleRejectsTruncatedPayload(t *testing.T) {
	p := ops.NewScale(1.5)
	ins := []plugin.Dims{plugin.MakeDims(2, 2)}
	p.ConfigureWithFormat(ins, []plugin.Dims{p.OutputDims(0, ins)}, plugin.Float32, plugin.FormatNCHW, 4)

	sd := registry.Default.Wrap(p)
	w := plugin.NewWriter(sd.SerializationSize())
	sd.Serialize(w)
	data := w.Bytes()

	_, err := registry.Deserialize(data[:len(data)-2])
	assert.Error(t, err)
}
