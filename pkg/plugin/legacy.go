package plugin

import "errors"

// ErrNoLegacyName reports a legacy plugin whose type name could not be
// resolved from the object or a registered mapping.
var ErrNoLegacyName = errors.New("plugin: no type name known for legacy plugin")

// LegacyNamer is optionally implemented by legacy objects that do carry
// their own type name.
type LegacyNamer interface {
	LegacyName() string
}

// NameResolver maps a legacy plugin object to its type name. The registry
// supplies one backed by its registered mappings.
type NameResolver func(op LegacyOp) (string, bool)

// LegacyBridge adapts an older-generation plugin object into the uniform
// plugin surface, so engines serialized by previous plugin collections
// keep loading. The type name is resolved once at construction; teardown
// routes to the legacy object's own Release.
type LegacyBridge struct {
	op   LegacyOp
	name string
}

// NewLegacyBridge wraps op. The name comes from the object itself when it
// implements LegacyNamer, otherwise from resolve; with neither the bridge
// cannot be built.
func NewLegacyBridge(op LegacyOp, resolve NameResolver) (*LegacyBridge, error) {
	if n, ok := op.(LegacyNamer); ok {
		return &LegacyBridge{op: op, name: n.LegacyName()}, nil
	}
	if resolve != nil {
		if name, ok := resolve(op); ok {
			return &LegacyBridge{op: op, name: name}, nil
		}
	}
	return nil, ErrNoLegacyName
}

func (b *LegacyBridge) PluginType() string { return b.name }
func (b *LegacyBridge) NbOutputs() int     { return b.op.NbOutputs() }

func (b *LegacyBridge) OutputDims(index int, inputs []Dims) Dims {
	return b.op.OutputDims(index, inputs)
}

func (b *LegacyBridge) SupportsFormat(t DataType, f Format) bool {
	return b.op.SupportsFormat(t, f)
}

func (b *LegacyBridge) ConfigureWithFormat(inputs, outputs []Dims, t DataType, f Format, maxBatchSize int) {
	b.op.ConfigureWithFormat(inputs, outputs, t, f, maxBatchSize)
}

func (b *LegacyBridge) Initialize() error { return b.op.Initialize() }
func (b *LegacyBridge) Terminate()        { b.op.Terminate() }

func (b *LegacyBridge) WorkspaceSize(maxBatchSize int) int {
	return b.op.WorkspaceSize(maxBatchSize)
}

func (b *LegacyBridge) SerializationSize() int { return b.op.SerializationSize() }
func (b *LegacyBridge) Serialize(w *Writer)    { b.op.Serialize(w) }

func (b *LegacyBridge) Enqueue(batchSize int, inputs, outputs [][]byte, workspace []byte, stream Stream) error {
	return b.op.Enqueue(batchSize, inputs, outputs, workspace, stream)
}

func (b *LegacyBridge) OutputDataType(index int, inputTypes []DataType) DataType {
	return b.op.OutputDataType(index, inputTypes)
}

func (b *LegacyBridge) CanBroadcastInput(int) bool         { return false }
func (b *LegacyBridge) IsOutputBroadcast(int, []bool) bool { return false }

// Destroy tears the legacy object down through its own Release path,
// which may differ from the current-generation teardown convention.
func (b *LegacyBridge) Destroy() { b.op.Release() }
