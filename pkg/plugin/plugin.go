// Package plugin defines the operator plugin ABI of the inference runtime
// and the adapters that let custom operator implementations be registered,
// serialized and reconstructed by a generic factory.
//
// Two ABI generations exist. Op is the current one; every custom operator
// satisfies it. Ext layers the extended capability set on top. LegacyOp is
// the older generation kept alive so engines serialized by previous plugin
// collections still load. Base carries the state and default behavior
// shared by concrete operators, so an operator author implements only the
// operator-specific methods.
package plugin

// Stream is an execution stream handle: an ordered, asynchronous command
// queue. Work submitted to it runs in submission order; Submit returns
// without waiting for completion.
type Stream interface {
	Submit(fn func())
}

// Op is the current-generation plugin ABI. The host runtime drives every
// instance through a fixed lifecycle: ConfigureWithFormat exactly once,
// then Initialize, any number of Enqueue calls, Terminate, Destroy.
// Enqueue outside the Initialized window is a fatal precondition
// violation, not a recoverable error.
type Op interface {
	// PluginType returns the stable, unique type name used by the
	// factory to pick a deserializing constructor.
	PluginType() string

	// NbOutputs returns the number of output tensors.
	NbOutputs() int

	// OutputDims infers the shape of output index from the input shapes.
	OutputDims(index int, inputs []Dims) Dims

	// SupportsFormat declares whether the operator accepts the
	// (element type, layout) combination. The host queries it before
	// ever configuring the plugin with that combination.
	SupportsFormat(t DataType, f Format) bool

	// ConfigureWithFormat is the one-time configuration call made
	// before execution begins. Calling it twice is a contract
	// violation.
	ConfigureWithFormat(inputs, outputs []Dims, t DataType, f Format, maxBatchSize int)

	// Initialize brackets the start of the active-execution period.
	Initialize() error

	// Terminate brackets the end of the active-execution period.
	Terminate()

	// WorkspaceSize returns the scratch bytes the operator needs for
	// one execution at the given batch size.
	WorkspaceSize(maxBatchSize int) int

	// SerializationSize returns exactly the number of bytes Serialize
	// writes. A mismatch corrupts downstream deserialization.
	SerializationSize() int

	// Serialize appends the plugin's state to w. By convention the
	// payload starts with the base fields (dims, batch size, type,
	// format) followed by operator-specific fields.
	Serialize(w *Writer)

	// Enqueue submits one batched execution onto the stream and
	// returns immediately. Buffers are laid out batch-first.
	Enqueue(batchSize int, inputs, outputs [][]byte, workspace []byte, stream Stream) error

	// Destroy is the only sanctioned teardown path once the instance
	// has been handed to the runtime.
	Destroy()
}

// Ext is the extended capability set layered on the current ABI.
type Ext interface {
	Op

	// OutputDataType returns the element type of output index given the
	// input element types.
	OutputDataType(index int, inputTypes []DataType) DataType

	// CanBroadcastInput reports whether input index may be given as a
	// single-batch tensor broadcast across the batch.
	CanBroadcastInput(index int) bool

	// IsOutputBroadcast reports whether output index is broadcast
	// across the batch given which inputs are.
	IsOutputBroadcast(index int, inputIsBroadcast []bool) bool
}

// LegacyOp is the older-generation ABI used by previously built plugin
// collections. It carries the extended operations but no self-describing
// type name, and tears down through Release rather than Destroy.
type LegacyOp interface {
	NbOutputs() int
	OutputDims(index int, inputs []Dims) Dims
	SupportsFormat(t DataType, f Format) bool
	ConfigureWithFormat(inputs, outputs []Dims, t DataType, f Format, maxBatchSize int)
	Initialize() error
	Terminate()
	WorkspaceSize(maxBatchSize int) int
	SerializationSize() int
	Serialize(w *Writer)
	Enqueue(batchSize int, inputs, outputs [][]byte, workspace []byte, stream Stream) error
	OutputDataType(index int, inputTypes []DataType) DataType

	// Release tears down the legacy object's own resources.
	Release()
}

// Base carries the state and default behavior shared by concrete operator
// plugins. Embed it and implement the remaining Op methods.
type Base struct {
	inputDims    []Dims
	maxBatchSize int
	dataType     DataType
	format       Format
	configured   bool
}

// InputDims returns the cached shape of input index.
func (b *Base) InputDims(index int) Dims { return b.inputDims[index] }

// NbInputs returns the number of cached input shapes.
func (b *Base) NbInputs() int { return len(b.inputDims) }

func (b *Base) MaxBatchSize() int  { return b.maxBatchSize }
func (b *Base) DataType() DataType { return b.dataType }
func (b *Base) Format() Format     { return b.format }

// Configured reports whether ConfigureWithFormat (or DeserializeBase) has
// populated the shared state.
func (b *Base) Configured() bool { return b.configured }

// WorkspaceSize defaults to zero scratch memory.
func (b *Base) WorkspaceSize(int) int { return 0 }

func (b *Base) Initialize() error { return nil }
func (b *Base) Terminate()        {}
func (b *Base) Destroy()          {}

// SupportsFormat accepts float32 or float16 elements in the linear NCHW
// layout. This is the default whitelist for the generic operator family;
// operators with narrower kernels (or int8 / vectorized-layout support)
// override it.
func (b *Base) SupportsFormat(t DataType, f Format) bool {
	return (t == Float32 || t == Float16) && f == FormatNCHW
}

// ConfigureWithFormat caches the input shapes, element type, layout and
// max batch size. The host calls it exactly once, before Initialize;
// a second call panics.
func (b *Base) ConfigureWithFormat(inputs, outputs []Dims, t DataType, f Format, maxBatchSize int) {
	if b.configured {
		panic("plugin: ConfigureWithFormat called twice on the same instance")
	}
	b.inputDims = append([]Dims(nil), inputs...)
	b.dataType = t
	b.format = f
	b.maxBatchSize = maxBatchSize
	b.configured = true
}

// SerializeBase writes the shared fields in wire order: input dims slice,
// max batch size, element type, layout. Concrete plugins call it first,
// then append their own fields.
func (b *Base) SerializeBase(w *Writer) {
	w.DimsSlice(b.inputDims)
	w.Uint64(uint64(b.maxBatchSize))
	w.Int32(int32(b.dataType))
	w.Int32(int32(b.format))
}

// DeserializeBase restores the shared fields written by SerializeBase and
// leaves the reader positioned at the operator-specific payload. The
// rehydrated instance counts as configured.
func (b *Base) DeserializeBase(r *Reader) error {
	dims, err := r.DimsSlice()
	if err != nil {
		return err
	}
	batch, err := r.Uint64()
	if err != nil {
		return err
	}
	dt, err := r.Int32()
	if err != nil {
		return err
	}
	f, err := r.Int32()
	if err != nil {
		return err
	}
	b.inputDims = dims
	b.maxBatchSize = int(batch)
	b.dataType = DataType(dt)
	b.format = Format(f)
	b.configured = true
	return nil
}

// BaseSerializationSize returns the byte count SerializeBase writes.
func (b *Base) BaseSerializationSize() int {
	return DimsSliceWireSize(len(b.inputDims)) + uint64Size + 2*int32Size
}
