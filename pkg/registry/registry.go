// Package registry maps plugin type names to deserializing constructors,
// so a serialized byte buffer can be turned back into the concrete plugin
// type it came from. Operator packages register their constructors at init
// time against the Default registry.
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/kunal/gpu-plugin-runtime/pkg/plugin"
)

// Creator rehydrates a plugin from the payload that followed the magic
// marker and type name in a self-describing blob.
type Creator func(data []byte) (plugin.Op, error)

// Registry holds deserializing constructors keyed by plugin type name,
// plus type-name mappings for legacy plugin objects that carry no name of
// their own.
type Registry struct {
	mu          sync.RWMutex
	creators    map[string]Creator
	legacyNames map[reflect.Type]string
}

func New() *Registry {
	return &Registry{
		creators:    make(map[string]Creator),
		legacyNames: make(map[reflect.Type]string),
	}
}

// Register binds a type name to its deserializing constructor. Names are
// stable wire identifiers; re-registering one is a wiring bug.
func (r *Registry) Register(name string, c Creator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.creators[name]; dup {
		return fmt.Errorf("registry: plugin type %q already registered", name)
	}
	r.creators[name] = c
	return nil
}

// MustRegister is Register for init-time wiring.
func (r *Registry) MustRegister(name string, c Creator) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// IsSerialized reports whether data looks like a self-describing plugin
// blob.
func (r *Registry) IsSerialized(data []byte) bool {
	return plugin.HasMagic(data)
}

// Deserialize reads the magic marker and type name, resolves the matching
// constructor, and hands it the remaining bytes. The reconstructed plugin
// comes back wrapped self-describing and owned, so re-serializing it
// reproduces the original buffer and releasing the handle tears it down
// exactly once.
func (r *Registry) Deserialize(data []byte) (*plugin.Handle, error) {
	name, payload, err := plugin.ParseHeader(data)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	c, ok := r.creators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: no constructor for plugin type %q", name)
	}

	op, err := c(payload)
	if err != nil {
		return nil, fmt.Errorf("registry: deserializing %q: %w", name, err)
	}
	return plugin.Own(plugin.NewSelfDescribing(op)), nil
}

// Wrap takes ownership of a freshly constructed plugin and returns it in
// self-describing form, ready for serialization.
func (r *Registry) Wrap(op plugin.Op) *plugin.SelfDescribing {
	return plugin.NewSelfDescribing(op)
}

// RegisterLegacyName maps the concrete Go type of sample to a plugin type
// name, for legacy objects that do not carry one themselves.
func (r *Registry) RegisterLegacyName(sample plugin.LegacyOp, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.legacyNames[reflect.TypeOf(sample)] = name
}

// AdaptLegacy bridges an older-generation plugin object into the uniform
// plugin surface, resolving its type name from the object itself or the
// registered mappings.
func (r *Registry) AdaptLegacy(op plugin.LegacyOp) (*plugin.LegacyBridge, error) {
	return plugin.NewLegacyBridge(op, func(op plugin.LegacyOp) (string, bool) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		name, ok := r.legacyNames[reflect.TypeOf(op)]
		return name, ok
	})
}

// Default is the process-wide registry operator packages register with.
var Default = New()

// Register binds a type name to a constructor in the Default registry.
func Register(name string, c Creator) error { return Default.Register(name, c) }

// MustRegister is Register on the Default registry, for init-time wiring.
func MustRegister(name string, c Creator) { Default.MustRegister(name, c) }

// Deserialize reconstructs a plugin through the Default registry.
func Deserialize(data []byte) (*plugin.Handle, error) { return Default.Deserialize(data) }

// IsSerialized checks the magic marker, as the Default registry would.
func IsSerialized(data []byte) bool { return Default.IsSerialized(data) }
