package plugin

import "sync"

// Handle is a unique-ownership wrapper around a plugin instance. The
// runtime tears plugins down through an explicit destroy operation rather
// than ordinary garbage collection; Handle makes that ownership explicit
// and guarantees the teardown runs exactly once, even if Release is called
// from multiple paths.
type Handle struct {
	op   Op
	once sync.Once
}

// Own takes ownership of op. After this call the plugin must only be torn
// down through Release.
func Own(op Op) *Handle {
	return &Handle{op: op}
}

// Op returns the owned plugin. The result must not be used after Release.
func (h *Handle) Op() Op { return h.op }

// Release destroys the owned plugin. Subsequent calls are no-ops.
func (h *Handle) Release() {
	h.once.Do(h.op.Destroy)
}
