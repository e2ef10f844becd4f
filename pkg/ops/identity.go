// Package ops carries the built-in operator plugins. Each operator embeds
// plugin.Base for the shared state and serialization helpers and registers
// a deserializing constructor with the default registry at init time.
package ops

import (
	"fmt"

	"github.com/kunal/gpu-plugin-runtime/pkg/plugin"
	"github.com/kunal/gpu-plugin-runtime/pkg/registry"
)

// IdentityPluginType is the wire name of the identity operator.
const IdentityPluginType = "Identity"

// Identity copies its single input to its single output unchanged. It is
// the smallest possible operator and doubles as a pipeline no-op.
type Identity struct {
	plugin.Base
}

func NewIdentity() *Identity { return &Identity{} }

func (p *Identity) PluginType() string { return IdentityPluginType }
func (p *Identity) NbOutputs() int     { return 1 }

func (p *Identity) OutputDims(index int, inputs []plugin.Dims) plugin.Dims {
	return inputs[0]
}

func (p *Identity) SerializationSize() int { return p.BaseSerializationSize() }

func (p *Identity) Serialize(w *plugin.Writer) { p.SerializeBase(w) }

func (p *Identity) Enqueue(batchSize int, inputs, outputs [][]byte, workspace []byte, stream plugin.Stream) error {
	n := batchSize * p.InputDims(0).Volume() * p.DataType().Size()
	if len(inputs[0]) < n || len(outputs[0]) < n {
		return fmt.Errorf("identity: buffer smaller than %d bytes", n)
	}
	in, out := inputs[0], outputs[0]
	stream.Submit(func() {
		copy(out[:n], in[:n])
	})
	return nil
}

func init() {
	registry.MustRegister(IdentityPluginType, func(data []byte) (plugin.Op, error) {
		p := NewIdentity()
		r := plugin.NewReader(data)
		if err := p.DeserializeBase(r); err != nil {
			return nil, err
		}
		if len(r.Remaining()) != 0 {
			return nil, plugin.ErrTrailingBytes
		}
		return p, nil
	})
}
