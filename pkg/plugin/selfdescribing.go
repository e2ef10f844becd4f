package plugin

// SelfDescribing wraps a plugin so that its serialized form carries the
// wire magic marker and the plugin's type name ahead of the plugin's own
// payload. A generic factory can then recover which constructor to invoke
// before handing the remaining bytes to that constructor.
//
// Unlike Adapter, a SelfDescribing exclusively owns the wrapped plugin:
// destroying the wrapper destroys the wrapped plugin, exactly once.
type SelfDescribing struct {
	*Adapter
	owned     Op
	destroyed bool
}

// NewSelfDescribing wraps op and takes exclusive ownership of it. The
// caller must not destroy op itself afterwards.
func NewSelfDescribing(op Op) *SelfDescribing {
	return &SelfDescribing{Adapter: NewAdapter(op), owned: op}
}

func (s *SelfDescribing) PluginType() string { return s.owned.PluginType() }

// Serialize writes, in order, the NUL-terminated magic marker, the
// NUL-terminated type name, then the wrapped plugin's own payload.
func (s *SelfDescribing) Serialize(w *Writer) {
	w.String(SerializationMagic)
	w.String(s.owned.PluginType())
	s.owned.Serialize(w)
}

// SerializationSize stays in lock-step with Serialize.
func (s *SelfDescribing) SerializationSize() int {
	return StringWireSize(SerializationMagic) +
		StringWireSize(s.owned.PluginType()) +
		s.owned.SerializationSize()
}

// Destroy tears down the wrapper and the owned plugin. Repeated calls are
// no-ops so the owned plugin is destroyed exactly once.
func (s *SelfDescribing) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.owned.Destroy()
}
