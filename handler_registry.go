package compensable

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// HandlerRegistry maps unit kinds to their handlers.
//
// Handlers are ordinary Go functions and cannot be persisted. When a unit is
// reloaded from a snapshot the only thing left of its handlers is its kind
// name, so every kind that may be checkpointed must be registered here for the
// coordinator to restore it.
type HandlerRegistry struct {
	handlers *xsync.MapOf[string, Handlers]
}

// NewHandlerRegistry creates an empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: xsync.NewMapOf[string, Handlers](),
	}
}

// Register adds handlers under kind.
func (r *HandlerRegistry) Register(kind string, h Handlers) error {
	if kind == "" {
		return fmt.Errorf("kind must not be empty")
	}
	if _, loaded := r.handlers.LoadOrStore(kind, h); loaded {
		return fmt.Errorf("handlers for kind '%s' already registered", kind)
	}
	return nil
}

// Get retrieves the handlers registered under kind.
func (r *HandlerRegistry) Get(kind string) (Handlers, error) {
	h, ok := r.handlers.Load(kind)
	if !ok {
		return Handlers{}, NotFoundError(kind)
	}
	return h, nil
}

// Len returns the number of registered kinds.
func (r *HandlerRegistry) Len() int {
	return r.handlers.Size()
}
