// Package engine tracks the process run mode. Inline (IPS) mode means the
// engine sits in the traffic path and can block; passive means it only
// observes. Consumers receive the mode as an injected capability rather than
// reading a process global, so they stay testable without a running engine.
package engine

import "sync/atomic"

// Mode holds the engine run mode. The zero value is passive.
type Mode struct {
	inline atomic.Bool
}

// SetInline switches the engine between inline and passive operation.
// Normally called once during startup, before workers run.
func (m *Mode) SetInline(v bool) {
	m.inline.Store(v)
}

// Inline reports whether the engine is operating inline.
func (m *Mode) Inline() bool {
	return m.inline.Load()
}

// InlineFunc returns the mode as a capability suitable for injection into
// per-packet condition checks.
func (m *Mode) InlineFunc() func() bool {
	return m.Inline
}
