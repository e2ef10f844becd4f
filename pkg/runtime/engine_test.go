package runtime_test

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

// pickyOp accepts no format at all.
type pickyOp struct {
	plugin.Base
}

func (p *pickyOp) PluginType() string { return "Picky" }
func (p *pickyOp) NbOutputs() int     { return 1 }
func (p *pickyOp) OutputDims(_ int, inputs []plugin.Dims) plugin.Dims {
	return inputs[0]
}
func (p *pickyOp) SupportsFormat(plugin.DataType, plugin.Format) bool {
	return false
}
func (p *pickyOp) SerializationSize() int     { return p.BaseSerializationSize() }
func (p *pickyOp) Serialize(w *plugin.Writer) { p.SerializeBase(w) }
func (p *pickyOp) Enqueue(int, [][]byte, [][]byte, []byte, plugin.Stream) error {
	return nil
}

// trackOp counts lifecycle calls.
type trackOp struct {
	plugin.Base
	initialized  int
	terminated   int
	destroyCount int
}

func (p *trackOp) PluginType() string { return "Track" }
func (p *trackOp) NbOutputs() int     { return 1 }
func (p *trackOp) OutputDims(_ int, inputs []plugin.Dims) plugin.Dims {
	return inputs[0]
}
func (p *trackOp) Initialize() error          { p.initialized++; return nil }
func (p *trackOp) Terminate()                 { p.terminated++ }
func (p *trackOp) Destroy()                   { p.destroyCount++ }
func (p *trackOp) SerializationSize() int     { return p.BaseSerializationSize() }
func (p *trackOp) Serialize(w *plugin.Writer) { p.SerializeBase(w) }
func (p *trackOp) Enqueue(batchSize int, inputs, outputs [][]byte, _ []byte, stream plugin.Stream) error {
	in, out := inputs[0], outputs[0]
	stream.Submit(func() { copy(out, in) })
	return nil
}

func demoEngine(t *testing.T) *runtime.Engine {
	t.Helper()
	e := runtime.NewEngine("demo", plugin.MakeDims(4), 4)
	e.AddPlugin(ops.NewIdentity())
	e.AddPlugin(ops.NewScale(0.5))
	require.NoError(t, e.Configure())
	return e
}

func TestConfigureNegotiatesAcrossStages(t *testing.T) {
	// Scale only handles float32 in linear layout, so the narrower
	// float16 candidate is off the table for the whole pipeline.
	e := demoEngine(t)
	defer e.Destroy()

	assert.Equal(t, runtime.StateConfigured, e.State())
	assert.Equal(t, plugin.Float32, e.DataType())
	assert.Equal(t, plugin.FormatNCHW, e.Format())
	assert.Equal(t, plugin.MakeDims(4), e.OutputDims())
}

func TestConfigurePrefersNarrowElements(t *testing.T) {
	e := runtime.NewEngine("ident", plugin.MakeDims(8), 2)
	e.AddPlugin(ops.NewIdentity())
	require.NoError(t, e.Configure())
	defer e.Destroy()

	assert.Equal(t, plugin.Float16, e.DataType())
	assert.Equal(t, plugin.FormatNCHW, e.Format())
}

func TestConfigureFailsWhenNoCommonFormat(t *testing.T) {
	e := runtime.NewEngine("stuck", plugin.MakeDims(4), 2)
	e.AddPlugin(ops.NewIdentity())
	e.AddPlugin(&pickyOp{})
	err := e.Configure()
	assert.ErrorIs(t, err, runtime.ErrNoSupportedFormat)
	e.Destroy()
}

func TestConfigureRequiresStages(t *testing.T) {
	e := runtime.NewEngine("empty", plugin.MakeDims(4), 2)
	assert.Error(t, e.Configure())
	e.Destroy()
}

func TestInferRunsThePipeline(t *testing.T) {
	e := demoEngine(t)
	defer e.Destroy()
	require.NoError(t, e.Initialize())
	assert.Equal(t, runtime.StateInitialized, e.State())

	in := floatBuffer(2, 4, 6, 8, 10, 12, 14, 16)
	out, err := e.Infer(2, in)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, floatsOf(out))
}

func TestInferValidatesBatchAndInput(t *testing.T) {
	e := demoEngine(t)
	defer e.Destroy()
	require.NoError(t, e.Initialize())

	_, err := e.Infer(5, make([]byte, 5*16))
	assert.Error(t, err)

	_, err = e.Infer(2, make([]byte, 16)) // one element short
	assert.Error(t, err)
}

func TestInferPanicsWhenNotInitialized(t *testing.T) {
	e := demoEngine(t)
	defer e.Destroy()

	assert.Panics(t, func() { e.Infer(1, make([]byte, 16)) })
}

func TestAddPluginPanicsAfterConfigure(t *testing.T) {
	e := demoEngine(t)
	defer e.Destroy()

	assert.Panics(t, func() { e.AddPlugin(ops.NewIdentity()) })
}

func TestLifecycleBracketsEveryStage(t *testing.T) {
	op := &trackOp{}
	e := runtime.NewEngine("tracked", plugin.MakeDims(2), 2)
	e.AddPlugin(op)
	require.NoError(t, e.Configure())
	require.NoError(t, e.Initialize())
	assert.Equal(t, 1, op.initialized)

	e.Terminate()
	assert.Equal(t, 1, op.terminated)
	assert.Equal(t, runtime.StateTerminated, e.State())

	e.Destroy()
	e.Destroy() // idempotent
	assert.Equal(t, 1, op.destroyCount)
	assert.Equal(t, runtime.StateDestroyed, e.State())
}

func TestDestroyTerminatesInitializedEngine(t *testing.T) {
	op := &trackOp{}
	e := runtime.NewEngine("tracked", plugin.MakeDims(2), 2)
	e.AddPlugin(op)
	require.NoError(t, e.Configure())
	require.NoError(t, e.Initialize())

	e.Destroy()
	assert.Equal(t, 1, op.terminated)
	assert.Equal(t, 1, op.destroyCount)
}

func TestEngineSerializationRoundTrip(t *testing.T) {
	e := demoEngine(t)
	defer e.Destroy()

	data, err := e.Serialize()
	require.NoError(t, err)

	loaded, err := runtime.LoadEngine(data, registry.Default)
	require.NoError(t, err)
	defer loaded.Destroy()

	assert.Equal(t, "demo", loaded.Name())
	assert.Equal(t, runtime.StateConfigured, loaded.State())
	assert.Equal(t, e.DataType(), loaded.DataType())
	assert.Equal(t, e.Format(), loaded.Format())
	assert.Equal(t, e.MaxBatchSize(), loaded.MaxBatchSize())
	assert.Equal(t, e.InputDims(), loaded.InputDims())
	assert.Equal(t, e.OutputDims(), loaded.OutputDims())

	// Byte-identical re-serialization.
	data2, err := loaded.Serialize()
	require.NoError(t, err)
	assert.Equal(t, data, data2)

	// The loaded engine executes like the original.
	require.NoError(t, loaded.Initialize())
	out, err := loaded.Infer(1, floatBuffer(10, 20, 30, 40))
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 10, 15, 20}, floatsOf(out))
}

func TestSerializeRejectsUnconfiguredEngine(t *testing.T) {
	e := runtime.NewEngine("raw", plugin.MakeDims(4), 2)
	e.AddPlugin(ops.NewIdentity())
	_, err := e.Serialize()
	assert.Error(t, err)
	e.Destroy()
}

func TestLoadEngineRejectsBadContainers(t *testing.T) {
	_, err := runtime.LoadEngine([]byte("not an engine"), registry.Default)
	assert.ErrorIs(t, err, runtime.ErrNotAnEngine)

	w := plugin.NewWriter(plugin.StringWireSize(runtime.EngineMagic) + 4)
	w.String(runtime.EngineMagic)
	w.Int32(99)
	_, err = runtime.LoadEngine(w.Bytes(), registry.Default)
	assert.ErrorIs(t, err, runtime.ErrEngineVersion)
}

// craftedContainer builds an engine container header by hand so tests can
// plant hostile field values.
func craftedContainer(dtype, format int32, stageBlobLens ...uint64) []byte {
	w := plugin.NewWriter(0)
	w.String(runtime.EngineMagic)
	w.Int32(1)
	w.String("crafted")
	w.Int32(dtype)
	w.Int32(format)
	w.Uint64(4)
	w.Dims(plugin.MakeDims(4))
	w.Uint64(uint64(len(stageBlobLens)))
	for _, n := range stageBlobLens {
		w.Uint64(n)
	}
	return w.Bytes()
}

func TestLoadEngineRejectsHugeStageLength(t *testing.T) {
	// Stage length prefixes are untrusted; values past the buffer (or past
	// the int range) must error out instead of panicking on the slice.
	for _, blobLen := range []uint64{1 << 63, 1<<63 - 1, 1 << 40} {
		data := craftedContainer(int32(plugin.Float32), int32(plugin.FormatNCHW), blobLen)

		_, err := runtime.LoadEngine(data, registry.Default)
		assert.ErrorIs(t, err, plugin.ErrShortBuffer, "blobLen %d", blobLen)

		_, err = runtime.ParseEngineInfo(data)
		assert.ErrorIs(t, err, plugin.ErrShortBuffer, "blobLen %d", blobLen)
	}
}

func TestLoadEngineRejectsUnknownTags(t *testing.T) {
	cases := []struct {
		name   string
		dtype  int32
		format int32
	}{
		{"unknown dtype", 99, int32(plugin.FormatNCHW)},
		{"negative dtype", -1, int32(plugin.FormatNCHW)},
		{"unknown format", int32(plugin.Float32), 99},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := craftedContainer(tc.dtype, tc.format)

			_, err := runtime.LoadEngine(data, registry.Default)
			assert.Error(t, err)

			_, err = runtime.ParseEngineInfo(data)
			assert.Error(t, err)
		})
	}
}

func TestParseEngineInfo(t *testing.T) {
	e := demoEngine(t)
	defer e.Destroy()

	data, err := e.Serialize()
	require.NoError(t, err)

	info, err := runtime.ParseEngineInfo(data)
	require.NoError(t, err)
	assert.Equal(t, "demo", info.Name)
	assert.Equal(t, plugin.Float32, info.DataType)
	assert.Equal(t, plugin.FormatNCHW, info.Format)
	assert.Equal(t, 4, info.MaxBatchSize)
	assert.Equal(t, plugin.MakeDims(4), info.InputDims)
	require.Len(t, info.Stages, 2)
	assert.Equal(t, ops.IdentityPluginType, info.Stages[0].Type)
	assert.Equal(t, ops.ScalePluginType, info.Stages[1].Type)
	assert.Equal(t, 4, info.Stages[0].BatchSize)
}
