// Package shutdown coordinates graceful teardown of long-running daemons.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Manager runs registered shutdown functions, in reverse registration
// order, when a termination signal arrives.
type Manager struct {
	mu      sync.Mutex
	funcs   []func(context.Context) error
	timeout time.Duration
	onError func(error)
}

// New creates a shutdown manager. Each shutdown function gets at most
// timeout to finish. onError receives individual shutdown failures and
// may be nil.
func New(timeout time.Duration, onError func(error)) *Manager {
	return &Manager{timeout: timeout, onError: onError}
}

// Register adds a shutdown function. Functions run LIFO.
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, fn)
}

// Wait blocks until SIGINT or SIGTERM, then executes the registered
// shutdown functions.
func (m *Manager) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	m.Shutdown()
}

// Shutdown executes all registered shutdown functions in reverse order.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.funcs) - 1; i >= 0; i-- {
		if err := m.funcs[i](ctx); err != nil && m.onError != nil {
			m.onError(err)
		}
	}
}
