package ops

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kunal/gpu-plugin-runtime/pkg/plugin"
	"github.com/kunal/gpu-plugin-runtime/pkg/registry"
)

// ScalePluginType is the wire name of the scale operator.
const ScalePluginType = "Scale"

// Scale multiplies every element of its float32 input by a constant
// factor. The factor is the operator-specific payload appended after the
// base fields, and the kernel stages the input through workspace memory,
// so the operator exercises both serialization extension points and a
// nonzero workspace requirement.
type Scale struct {
	plugin.Base
	factor float32
}

func NewScale(factor float32) *Scale { return &Scale{factor: factor} }

func (p *Scale) Factor() float32 { return p.factor }

func (p *Scale) PluginType() string { return ScalePluginType }
func (p *Scale) NbOutputs() int     { return 1 }

func (p *Scale) OutputDims(index int, inputs []plugin.Dims) plugin.Dims {
	return inputs[0]
}

// SupportsFormat narrows the base whitelist: the scale kernel only handles
// float32 elements in linear layout.
func (p *Scale) SupportsFormat(t plugin.DataType, f plugin.Format) bool {
	return t == plugin.Float32 && f == plugin.FormatNCHW
}

// WorkspaceSize requests one staging copy of the batched input.
func (p *Scale) WorkspaceSize(maxBatchSize int) int {
	return maxBatchSize * p.InputDims(0).Volume() * p.DataType().Size()
}

func (p *Scale) SerializationSize() int {
	return p.BaseSerializationSize() + 4
}

func (p *Scale) Serialize(w *plugin.Writer) {
	p.SerializeBase(w)
	w.Float32(p.factor)
}

func (p *Scale) Enqueue(batchSize int, inputs, outputs [][]byte, workspace []byte, stream plugin.Stream) error {
	n := batchSize * p.InputDims(0).Volume() * p.DataType().Size()
	if len(inputs[0]) < n || len(outputs[0]) < n {
		return fmt.Errorf("scale: buffer smaller than %d bytes", n)
	}
	if len(workspace) < n {
		return fmt.Errorf("scale: workspace smaller than %d bytes", n)
	}
	in, out, ws := inputs[0], outputs[0], workspace
	factor := p.factor
	stream.Submit(func() {
		copy(ws[:n], in[:n])
		for i := 0; i < n; i += 4 {
			v := math.Float32frombits(binary.LittleEndian.Uint32(ws[i:]))
			binary.LittleEndian.PutUint32(out[i:], math.Float32bits(v*factor))
		}
	})
	return nil
}

func init() {
	registry.MustRegister(ScalePluginType, func(data []byte) (plugin.Op, error) {
		p := &Scale{}
		r := plugin.NewReader(data)
		if err := p.DeserializeBase(r); err != nil {
			return nil, err
		}
		var err error
		if p.factor, err = r.Float32(); err != nil {
			return nil, err
		}
		if len(r.Remaining()) != 0 {
			return nil, plugin.ErrTrailingBytes
		}
		return p, nil
	})
}
