package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/taskgridgo/internal/task"
)

// Handler is the Go function that implements a task type's body for the
// in-process backends. Handlers must return promptly once ctx is done;
// the cooperative backend relies on it and the cpu backend can only offer
// best-effort cancellation without it.
type Handler func(ctx context.Context, n *task.Node) error

// HandlerRegistry maps task-type tags to their registered Go handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a handler for a task type. Registering the same type twice
// is a programmer error and panics.
func (r *HandlerRegistry) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[taskType]; exists {
		panic(fmt.Sprintf("handler for task type '%s' already registered", taskType))
	}
	r.handlers[taskType] = h
}

// Lookup returns the handler for a task type.
func (r *HandlerRegistry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}
