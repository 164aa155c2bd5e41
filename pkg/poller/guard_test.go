package poller

import "testing"

func TestSignalGuardIdempotentTransitions(t *testing.T) {
	g := &SignalGuard{}

	// Disable before any enable is a no-op.
	g.Disable()

	g.Enable()
	g.Enable() // second enable must not install a second handler

	g.Disable()
	g.Disable() // second disable must not panic or double-close

	// A fresh enable after a full cycle works again.
	g.Enable()
	g.Disable()
}
