package poller

import (
	"os"
	"os/signal"
	"sync"
)

// Guard is a cancellation-guard capability tied to the session lifecycle.
// While enabled, an attempt to leave the current context should be
// intercepted and answered with a warning that grading is in progress.
// Implementations must make Enable and Disable idempotent.
type Guard interface {
	Enable()
	Disable()
}

// NopGuard is a Guard that does nothing.
type NopGuard struct{}

func (NopGuard) Enable()  {}
func (NopGuard) Disable() {}

// SignalGuard intercepts interrupt signals while a polling session is
// active. The first interrupt invokes OnWarn; a second one within the
// same session invokes OnAbort. Disable restores normal signal delivery.
type SignalGuard struct {
	// OnWarn is called on the first interrupt while grading is active.
	OnWarn func()
	// OnAbort is called on a repeated interrupt. Typical callers stop the
	// poller and exit.
	OnAbort func()

	mu      sync.Mutex
	enabled bool
	sigCh   chan os.Signal
	doneCh  chan struct{}
}

// Enable starts intercepting os.Interrupt. Idempotent.
func (g *SignalGuard) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled {
		return
	}
	g.enabled = true
	g.sigCh = make(chan os.Signal, 1)
	g.doneCh = make(chan struct{})
	signal.Notify(g.sigCh, os.Interrupt)

	go func(sigCh chan os.Signal, doneCh chan struct{}) {
		warned := false
		for {
			select {
			case <-doneCh:
				return
			case <-sigCh:
				if !warned {
					warned = true
					if g.OnWarn != nil {
						g.OnWarn()
					}
					continue
				}
				if g.OnAbort != nil {
					g.OnAbort()
				}
			}
		}
	}(g.sigCh, g.doneCh)
}

// Disable stops intercepting signals. Idempotent, safe to call from any
// goroutine.
func (g *SignalGuard) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return
	}
	g.enabled = false
	signal.Stop(g.sigCh)
	close(g.doneCh)
}
