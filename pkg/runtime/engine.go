package runtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kunal/gpu-plugin-runtime/pkg/plugin"
	"github.com/kunal/gpu-plugin-runtime/pkg/registry"
)

// State tracks an engine (and with it every plugin it owns) through the
// uniform lifecycle.
type State int32

const (
	StateConstructed State = iota
	StateConfigured
	StateInitialized
	StateTerminated
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateConfigured:
		return "configured"
	case StateInitialized:
		return "initialized"
	case StateTerminated:
		return "terminated"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// EngineMagic marks the head of a serialized engine container.
const EngineMagic = "GPURT_ENGINE"

const engineVersion = 1

var (
	// ErrNotAnEngine reports a buffer that is not an engine container.
	ErrNotAnEngine = errors.New("runtime: buffer does not carry the engine magic marker")
	// ErrEngineVersion reports an engine container from an unsupported
	// format version.
	ErrEngineVersion = errors.New("runtime: unsupported engine container version")
)

type stage struct {
	handle     *plugin.Handle
	op         plugin.Op // the self-describing wrapper
	inputDims  plugin.Dims
	outputDims plugin.Dims
}

// Engine owns a linear pipeline of plugins and plays the host-runtime
// role toward them: it negotiates the (type, format) combination, makes
// the one-time configuration call per plugin, brackets execution with
// initialize/terminate, sizes the shared workspace, and drives batched
// execution on its stream. All plugin ownership is held through handles,
// released exactly once on Destroy.
type Engine struct {
	name         string
	inputDims    plugin.Dims
	maxBatchSize int

	mu        sync.Mutex
	state     State
	dataType  plugin.DataType
	format    plugin.Format
	stages    []*stage
	workspace []byte
	stream    *Stream
	log       *logrus.Entry
}

// NewEngine creates an empty pipeline taking a single tensor of shape
// inputDims per batch element.
func NewEngine(name string, inputDims plugin.Dims, maxBatchSize int) *Engine {
	return &Engine{
		name:         name,
		inputDims:    inputDims,
		maxBatchSize: maxBatchSize,
		state:        StateConstructed,
		stream:       NewStream(),
		log:          logrus.WithField("engine", name),
	}
}

// AddPlugin appends op as the next pipeline stage, wrapping it
// self-describing and taking exclusive ownership. Only valid before
// Configure.
func (e *Engine) AddPlugin(op plugin.Op) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateConstructed {
		panic(fmt.Sprintf("runtime: AddPlugin on %s engine", e.state))
	}
	sd := plugin.NewSelfDescribing(op)
	e.stages = append(e.stages, &stage{handle: plugin.Own(sd), op: sd})
}

func (e *Engine) Name() string { return e.name }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) MaxBatchSize() int { return e.maxBatchSize }

// InputDims returns the per-element input shape of the first stage.
func (e *Engine) InputDims() plugin.Dims { return e.inputDims }

// OutputDims returns the per-element output shape of the last stage.
// Only meaningful once the engine is configured.
func (e *Engine) OutputDims() plugin.Dims {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.stages) == 0 {
		return e.inputDims
	}
	return e.stages[len(e.stages)-1].outputDims
}

func (e *Engine) DataType() plugin.DataType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dataType
}

func (e *Engine) Format() plugin.Format {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format
}

// StageDescription is the observable summary of one pipeline stage.
type StageDescription struct {
	Type           string `json:"type"`
	InputDims      string `json:"input_dims"`
	OutputDims     string `json:"output_dims"`
	WorkspaceBytes int    `json:"workspace_bytes"`
}

// Describe summarizes the pipeline for dashboards and the engine API.
func (e *Engine) Describe() []StageDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StageDescription, 0, len(e.stages))
	for _, st := range e.stages {
		out = append(out, StageDescription{
			Type:           st.op.PluginType(),
			InputDims:      st.inputDims.String(),
			OutputDims:     st.outputDims.String(),
			WorkspaceBytes: st.op.WorkspaceSize(e.maxBatchSize),
		})
	}
	return out
}

// Configure negotiates the (type, format) combination across all stages,
// then makes each stage's one-time configuration call, chaining output
// shapes into the next stage's input. SupportsFormat is consulted for
// every stage before any stage is configured, so no plugin ever sees a
// combination it rejected.
func (e *Engine) Configure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateConstructed {
		return fmt.Errorf("runtime: Configure on %s engine", e.state)
	}
	if len(e.stages) == 0 {
		return errors.New("runtime: engine has no stages")
	}

	ops := make([]plugin.Op, len(e.stages))
	for i, st := range e.stages {
		ops[i] = st.op
	}
	dt, f, err := negotiateFormat(ops, defaultCandidates)
	if err != nil {
		return err
	}
	e.dataType, e.format = dt, f

	cur := e.inputDims
	for _, st := range e.stages {
		ins := []plugin.Dims{cur}
		out := st.op.OutputDims(0, ins)
		st.op.ConfigureWithFormat(ins, []plugin.Dims{out}, dt, f, e.maxBatchSize)
		st.inputDims, st.outputDims = cur, out
		cur = out
	}

	e.state = StateConfigured
	e.log.WithFields(logrus.Fields{
		"stages":    len(e.stages),
		"data_type": dt.String(),
		"format":    f.String(),
		"max_batch": e.maxBatchSize,
	}).Info("engine configured")
	return nil
}

// Initialize brackets the start of the active-execution period for every
// stage and allocates the shared workspace at the largest requested size.
// On a stage failure, already-initialized stages are terminated again.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateConfigured {
		return fmt.Errorf("runtime: Initialize on %s engine", e.state)
	}

	for i, st := range e.stages {
		if err := st.op.Initialize(); err != nil {
			for j := i - 1; j >= 0; j-- {
				e.stages[j].op.Terminate()
			}
			return fmt.Errorf("runtime: initializing stage %d (%s): %w", i, st.op.PluginType(), err)
		}
	}

	ws := 0
	for _, st := range e.stages {
		if n := st.op.WorkspaceSize(e.maxBatchSize); n > ws {
			ws = n
		}
	}
	e.workspace = make([]byte, ws)

	e.state = StateInitialized
	e.log.WithField("workspace_bytes", ws).Info("engine initialized")
	return nil
}

// Infer runs one batched execution through the pipeline and blocks until
// the stream drains. Calling it on an engine that is not initialized is a
// fatal precondition violation, matching the host contract for enqueue.
func (e *Engine) Infer(batchSize int, input []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInitialized {
		panic(fmt.Sprintf("runtime: Infer on %s engine", e.state))
	}
	if batchSize <= 0 || batchSize > e.maxBatchSize {
		return nil, fmt.Errorf("runtime: batch size %d outside [1, %d]", batchSize, e.maxBatchSize)
	}
	if want := batchSize * e.inputDims.Volume() * e.dataType.Size(); len(input) < want {
		return nil, fmt.Errorf("runtime: input buffer %d bytes, want %d", len(input), want)
	}

	cur := input
	for i, st := range e.stages {
		out := make([]byte, batchSize*st.outputDims.Volume()*e.dataType.Size())
		if err := st.op.Enqueue(batchSize, [][]byte{cur}, [][]byte{out}, e.workspace, e.stream); err != nil {
			return nil, fmt.Errorf("runtime: enqueue stage %d (%s): %w", i, st.op.PluginType(), err)
		}
		cur = out
	}
	e.stream.Synchronize()
	return cur, nil
}

// Terminate brackets the end of the active-execution period.
func (e *Engine) Terminate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInitialized {
		return
	}
	for _, st := range e.stages {
		st.op.Terminate()
	}
	e.workspace = nil
	e.state = StateTerminated
}

// Destroy releases every owned plugin exactly once and stops the stream.
// An initialized engine is terminated first.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.state == StateDestroyed {
		e.mu.Unlock()
		return
	}
	if e.state == StateInitialized {
		for _, st := range e.stages {
			st.op.Terminate()
		}
	}
	stages := e.stages
	e.state = StateDestroyed
	e.mu.Unlock()

	for _, st := range stages {
		st.handle.Release()
	}
	e.stream.Close()
}

// Serialize writes the engine container: engine header, then each stage
// as a length-prefixed self-describing plugin blob. The container size is
// computed up front and checked against the bytes written, since a
// mismatch would corrupt deserialization.
func (e *Engine) Serialize() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateConstructed || e.state == StateDestroyed {
		return nil, fmt.Errorf("runtime: Serialize on %s engine", e.state)
	}

	total := plugin.StringWireSize(EngineMagic) + 4 + // magic, version
		plugin.StringWireSize(e.name) +
		4 + 4 + 8 + // data type, format, max batch
		plugin.DimsWireSize + 8 // input dims, stage count
	for _, st := range e.stages {
		total += 8 + st.op.SerializationSize()
	}

	w := plugin.NewWriter(total)
	w.String(EngineMagic)
	w.Int32(engineVersion)
	w.String(e.name)
	w.Int32(int32(e.dataType))
	w.Int32(int32(e.format))
	w.Uint64(uint64(e.maxBatchSize))
	w.Dims(e.inputDims)
	w.Uint64(uint64(len(e.stages)))
	for _, st := range e.stages {
		w.Uint64(uint64(st.op.SerializationSize()))
		st.op.Serialize(w)
	}

	if w.Len() != total {
		return nil, fmt.Errorf("runtime: engine serialization wrote %d bytes, declared %d", w.Len(), total)
	}
	return w.Bytes(), nil
}

// LoadEngine reconstructs an engine from a serialized container, using
// reg to resolve each stage's deserializing constructor. Stages come back
// configured (their cached state rides in the blob), so the caller's next
// step is Initialize.
func LoadEngine(data []byte, reg *registry.Registry) (*Engine, error) {
	r := plugin.NewReader(data)
	magic, err := r.String()
	if err != nil || magic != EngineMagic {
		return nil, ErrNotAnEngine
	}
	version, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if version != engineVersion {
		return nil, fmt.Errorf("%w: %d", ErrEngineVersion, version)
	}

	name, err := r.String()
	if err != nil {
		return nil, err
	}
	dt, err := r.Int32()
	if err != nil {
		return nil, err
	}
	f, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if !plugin.DataType(dt).Valid() || !plugin.Format(f).Valid() {
		return nil, fmt.Errorf("runtime: engine header carries unknown data type %d or format %d", dt, f)
	}
	maxBatch, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	inputDims, err := r.Dims()
	if err != nil {
		return nil, err
	}
	nbStages, err := r.Uint64()
	if err != nil {
		return nil, err
	}

	e := NewEngine(name, inputDims, int(maxBatch))
	e.dataType = plugin.DataType(dt)
	e.format = plugin.Format(f)

	cur := inputDims
	for i := uint64(0); i < nbStages; i++ {
		blobLen, err := r.Uint64()
		if err != nil {
			e.Destroy()
			return nil, err
		}
		blob, err := r.Raw(int(blobLen))
		if err != nil {
			e.Destroy()
			return nil, err
		}
		h, err := reg.Deserialize(blob)
		if err != nil {
			e.Destroy()
			return nil, fmt.Errorf("runtime: stage %d: %w", i, err)
		}
		op := h.Op()
		out := op.OutputDims(0, []plugin.Dims{cur})
		e.stages = append(e.stages, &stage{handle: h, op: op, inputDims: cur, outputDims: out})
		cur = out
	}
	if len(r.Remaining()) != 0 {
		e.Destroy()
		return nil, plugin.ErrTrailingBytes
	}

	e.state = StateConfigured
	return e, nil
}

// EngineInfo is the decoded header of an engine container, extracted
// without instantiating any plugin.
type EngineInfo struct {
	Name         string
	DataType     plugin.DataType
	Format       plugin.Format
	MaxBatchSize int
	InputDims    plugin.Dims
	Stages       []EngineStageInfo
}

// EngineStageInfo names one serialized stage.
type EngineStageInfo struct {
	Type        string
	PayloadSize int
	BaseDims    []plugin.Dims
	BatchSize   int
}

// ParseEngineInfo decodes an engine container's header and stage names
// for inspection tools.
func ParseEngineInfo(data []byte) (*EngineInfo, error) {
	r := plugin.NewReader(data)
	magic, err := r.String()
	if err != nil || magic != EngineMagic {
		return nil, ErrNotAnEngine
	}
	version, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if version != engineVersion {
		return nil, fmt.Errorf("%w: %d", ErrEngineVersion, version)
	}

	info := &EngineInfo{}
	if info.Name, err = r.String(); err != nil {
		return nil, err
	}
	dt, err := r.Int32()
	if err != nil {
		return nil, err
	}
	f, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if !plugin.DataType(dt).Valid() || !plugin.Format(f).Valid() {
		return nil, fmt.Errorf("runtime: engine header carries unknown data type %d or format %d", dt, f)
	}
	maxBatch, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	info.DataType = plugin.DataType(dt)
	info.Format = plugin.Format(f)
	info.MaxBatchSize = int(maxBatch)
	if info.InputDims, err = r.Dims(); err != nil {
		return nil, err
	}

	nbStages, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < nbStages; i++ {
		blobLen, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		blob, err := r.Raw(int(blobLen))
		if err != nil {
			return nil, err
		}
		name, payload, err := plugin.ParseHeader(blob)
		if err != nil {
			return nil, fmt.Errorf("runtime: stage %d: %w", i, err)
		}
		// The payload starts with the base fields by convention.
		var base plugin.Base
		if err := base.DeserializeBase(plugin.NewReader(payload)); err != nil {
			return nil, fmt.Errorf("runtime: stage %d base fields: %w", i, err)
		}
		dims := make([]plugin.Dims, base.NbInputs())
		for j := range dims {
			dims[j] = base.InputDims(j)
		}
		info.Stages = append(info.Stages, EngineStageInfo{
			Type:        name,
			PayloadSize: len(payload),
			BaseDims:    dims,
			BatchSize:   base.MaxBatchSize(),
		})
	}
	return info, nil
}
