package epoxy

import (
	"context"
	"sync"
)

// Handler answers one inbound request or event. It receives the raw,
// already layer-unwrapped payload and returns the raw response payload (for
// requests; ignored for events).
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// ServiceHost is a method-name-to-Handler registry consulted by a server
// Connection's inbound request/event dispatch. Richer method metadata
// (argument schemas, streaming, middleware chains) is out of scope for this
// registry; it exists only to back Listener.AddService / IsRegistered and
// the server-side dispatch path.
type ServiceHost struct {
	mu      sync.RWMutex
	methods map[string]Handler
}

// NewServiceHost constructs an empty ServiceHost.
func NewServiceHost() *ServiceHost {
	return &ServiceHost{methods: make(map[string]Handler)}
}

// Register adds or replaces the handler for method. It fails if method is
// empty or handler is nil.
func (h *ServiceHost) Register(method string, handler Handler) error {
	if method == "" {
		return NewError(CodeInvalidArgument, "method name must not be empty")
	}
	if handler == nil {
		return NewError(CodeInvalidArgument, "handler must not be nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.methods[method] = handler
	return nil
}

// Lookup returns the handler registered for method, if any.
func (h *ServiceHost) Lookup(method string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.methods[method]
	return handler, ok
}

// IsRegistered reports whether method currently has a handler.
func (h *ServiceHost) IsRegistered(method string) bool {
	_, ok := h.Lookup(method)
	return ok
}
