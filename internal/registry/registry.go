package registry

import (
	"sync"

	"go.uber.org/zap"
)

// Capability is a named entry point shared between detectors and the
// actuator. Arguments and results are opaque to the registry; callers
// agree on the shape per capability name.
type Capability func(args ...any) any

// Registry is a process-wide name to capability lookup. It is populated
// during a single registration pass at startup and frozen before any
// events flow, so lookups after Freeze need no locking discipline from
// callers.
type Registry struct {
	mu       sync.Mutex
	frozen   bool
	entries  map[string]Capability
	logger   *zap.Logger
	reported map[string]struct{}
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		entries:  make(map[string]Capability),
		logger:   logger.Named("registry"),
		reported: make(map[string]struct{}),
	}
}

// Register adds a capability under the given name. Registering after
// Freeze or registering a duplicate name panics: both are wiring bugs
// that must fail at startup, not at event time.
func (r *Registry) Register(name string, fn Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic("registry: register after freeze: " + name)
	}

	if _, exists := r.entries[name]; exists {
		panic("registry: duplicate capability: " + name)
	}

	r.entries[name] = fn
}

// Freeze marks the registration pass as complete.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen = true
	r.logger.Info("Capability registry frozen", zap.Int("capabilities", len(r.entries)))
}

// Lookup returns the capability registered under name, or nil if the
// capability was never registered. A missing capability is not an
// error; the feature degrades to absent and is logged once at debug.
func (r *Registry) Lookup(name string) Capability {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn, exists := r.entries[name]
	if !exists {
		if _, logged := r.reported[name]; !logged {
			r.reported[name] = struct{}{}
			r.logger.Debug("Capability not registered", zap.String("name", name))
		}

		return nil
	}

	return fn
}
