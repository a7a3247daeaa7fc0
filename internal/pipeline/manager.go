package pipeline

import (
	"sync"
)

// Manager tracks the live controller for each conversation. Each controller
// runs exactly one pipeline at a time; the manager only routes to it.
type Manager struct {
	invoker Invoker
	opts    []Option

	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewManager creates a manager whose controllers share the given invoker
// and options.
func NewManager(invoker Invoker, opts ...Option) *Manager {
	return &Manager{
		invoker:     invoker,
		opts:        opts,
		controllers: map[string]*Controller{},
	}
}

// Create registers a fresh controller for a new conversation.
func (m *Manager) Create() *Controller {
	c := NewController(m.invoker, m.opts...)
	m.mu.Lock()
	m.controllers[c.ID] = c
	m.mu.Unlock()
	return c
}

// Get returns the controller for a conversation, if it exists.
func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[id]
	return c, ok
}
