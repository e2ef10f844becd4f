package plugin

// Adapter presents an already constructed Op through the uniform plugin
// surface, forwarding every operation verbatim to the wrapped object. Its
// only value is ABI adaptation plus optional capability widening: when the
// wrapped object also satisfies Ext the adapter forwards the extended
// calls, otherwise it answers them with the documented defaults.
//
// An Adapter does not own the wrapped object; teardown responsibility
// stays with the caller. Use SelfDescribing (or a Handle) for owning
// wrappers.
type Adapter struct {
	op  Op
	ext Ext // non-nil when op also satisfies the extended capability set
}

// NewAdapter wraps op, detecting the extended capability set via type
// assertion.
func NewAdapter(op Op) *Adapter {
	ext, _ := op.(Ext)
	return &Adapter{op: op, ext: ext}
}

// HasExt reports whether the wrapped object satisfies the extended
// capability set.
func (a *Adapter) HasExt() bool { return a.ext != nil }

// Unwrap returns the wrapped object.
func (a *Adapter) Unwrap() Op { return a.op }

func (a *Adapter) PluginType() string { return a.op.PluginType() }
func (a *Adapter) NbOutputs() int     { return a.op.NbOutputs() }

func (a *Adapter) OutputDims(index int, inputs []Dims) Dims {
	return a.op.OutputDims(index, inputs)
}

func (a *Adapter) SupportsFormat(t DataType, f Format) bool {
	return a.op.SupportsFormat(t, f)
}

func (a *Adapter) ConfigureWithFormat(inputs, outputs []Dims, t DataType, f Format, maxBatchSize int) {
	a.op.ConfigureWithFormat(inputs, outputs, t, f, maxBatchSize)
}

func (a *Adapter) Initialize() error { return a.op.Initialize() }
func (a *Adapter) Terminate()        { a.op.Terminate() }

func (a *Adapter) WorkspaceSize(maxBatchSize int) int {
	return a.op.WorkspaceSize(maxBatchSize)
}

func (a *Adapter) SerializationSize() int { return a.op.SerializationSize() }
func (a *Adapter) Serialize(w *Writer)    { a.op.Serialize(w) }

func (a *Adapter) Enqueue(batchSize int, inputs, outputs [][]byte, workspace []byte, stream Stream) error {
	return a.op.Enqueue(batchSize, inputs, outputs, workspace, stream)
}

func (a *Adapter) Destroy() { a.op.Destroy() }

// OutputDataType forwards to the wrapped object when it carries the
// extended capability set; otherwise outputs inherit the first input type.
func (a *Adapter) OutputDataType(index int, inputTypes []DataType) DataType {
	if a.ext != nil {
		return a.ext.OutputDataType(index, inputTypes)
	}
	if len(inputTypes) > 0 {
		return inputTypes[0]
	}
	return Float32
}

// CanBroadcastInput defaults to false without the extended capability set.
func (a *Adapter) CanBroadcastInput(index int) bool {
	if a.ext != nil {
		return a.ext.CanBroadcastInput(index)
	}
	return false
}

// IsOutputBroadcast defaults to false without the extended capability set.
func (a *Adapter) IsOutputBroadcast(index int, inputIsBroadcast []bool) bool {
	if a.ext != nil {
		return a.ext.IsOutputBroadcast(index, inputIsBroadcast)
	}
	return false
}
