// Package output wires packet logger modules into the engine. A module
// contributes a hot-path condition, per-thread logger construction, and one
// or two context constructors (standalone, or nested under a parent
// multiplexing output). The registry holds module descriptors; Worker is the
// per-thread dispatcher the host pipeline drives.
package output

import (
	"errors"
	"fmt"

	"github.com/pechy/suricata/internal/config"
	"github.com/pechy/suricata/internal/decode"
)

// ErrNilContext is returned by module thread constructors handed a nil
// context. That is a wiring bug, caught at worker startup.
var ErrNilContext = errors.New("output: nil logger context")

// PacketLogger is per-thread logger state. One instance per worker thread,
// never shared; LogPacket runs synchronously on the worker's packet path.
type PacketLogger interface {
	// LogPacket emits a record for p. A non-nil error is a genuine I/O
	// failure on the write path; per-event drops report nil.
	LogPacket(p *decode.Packet) error

	// Close releases the thread state. Idempotent.
	Close() error
}

// LoggerContext is a module's shared per-instance state, read-only for
// workers after construction. Close is the destructor bound to the context's
// ownership mode and is invoked exactly once by the host at shutdown.
type LoggerContext interface {
	Close() error
}

// Condition decides on the hot path whether a packet should produce an
// event. Implementations must be pure and allocation-free.
type Condition func(p *decode.Packet) bool

// PacketLoggerModule describes a packet logger to the registry.
type PacketLoggerModule struct {
	// Name is the module's human-readable name.
	Name string

	// ConfKey locates the module's configuration node. Sub-modules use the
	// dotted "<parent>.<type>" form.
	ConfKey string

	// Parent names the multiplexing output a sub-module nests under; empty
	// for standalone modules.
	Parent string

	Condition Condition

	// NewContext builds the standalone context (owns its sink).
	NewContext func(node *config.OutputNode) (LoggerContext, error)

	// NewSubContext builds the nested context (borrows the parent's sink).
	NewSubContext func(node *config.OutputNode, parent LoggerContext) (LoggerContext, error)

	// NewThread builds per-thread logger state from the module's context.
	NewThread func(ctx LoggerContext) (PacketLogger, error)
}

// Registry holds registered packet logger modules keyed by ConfKey.
type Registry struct {
	modules map[string]*PacketLoggerModule
	order   []string
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: map[string]*PacketLoggerModule{}}
}

// RegisterPacketModule registers a standalone packet logger module.
func (r *Registry) RegisterPacketModule(m *PacketLoggerModule) error {
	if m.Parent != "" {
		return fmt.Errorf("output: module %s: standalone module must not name a parent", m.Name)
	}
	if m.NewContext == nil || m.NewThread == nil || m.Condition == nil {
		return fmt.Errorf("output: module %s: incomplete registration", m.Name)
	}
	return r.add(m)
}

// RegisterPacketSubModule registers a packet logger nested under a parent
// multiplexing output.
func (r *Registry) RegisterPacketSubModule(m *PacketLoggerModule) error {
	if m.Parent == "" {
		return fmt.Errorf("output: module %s: sub-module must name a parent", m.Name)
	}
	if m.NewSubContext == nil || m.NewThread == nil || m.Condition == nil {
		return fmt.Errorf("output: module %s: incomplete registration", m.Name)
	}
	return r.add(m)
}

func (r *Registry) add(m *PacketLoggerModule) error {
	if _, dup := r.modules[m.ConfKey]; dup {
		return fmt.Errorf("output: duplicate registration for %q", m.ConfKey)
	}
	r.modules[m.ConfKey] = m
	r.order = append(r.order, m.ConfKey)
	return nil
}

// Lookup returns the module registered under confKey.
func (r *Registry) Lookup(confKey string) (*PacketLoggerModule, bool) {
	m, ok := r.modules[confKey]
	return m, ok
}

// Modules returns all registered modules in registration order.
func (r *Registry) Modules() []*PacketLoggerModule {
	out := make([]*PacketLoggerModule, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.modules[key])
	}
	return out
}

// SubModules returns the modules nested under parent, in registration order.
func (r *Registry) SubModules(parent string) []*PacketLoggerModule {
	var out []*PacketLoggerModule
	for _, key := range r.order {
		if m := r.modules[key]; m.Parent == parent {
			out = append(out, m)
		}
	}
	return out
}

// RunningLogger pairs an activated module with its constructed context.
type RunningLogger struct {
	Module *PacketLoggerModule
	Ctx    LoggerContext
}

type workerLogger struct {
	condition Condition
	logger    PacketLogger
}

// Worker is per-thread dispatch state. The host creates one Worker per
// packet-processing lane; all calls on a Worker happen on its lane's thread.
type Worker struct {
	loggers []workerLogger
}

// NewWorker initializes per-thread state for every active logger. A thread
// init failure is fatal to the worker: already-created state is torn down and
// the error is returned.
func NewWorker(active []RunningLogger) (*Worker, error) {
	w := &Worker{}
	for _, rl := range active {
		logger, err := rl.Module.NewThread(rl.Ctx)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("output: thread init for %s: %w", rl.Module.Name, err)
		}
		w.loggers = append(w.loggers, workerLogger{
			condition: rl.Module.Condition,
			logger:    logger,
		})
	}
	return w, nil
}

// HandlePacket runs every active logger whose condition matches p. All
// loggers run even when one fails; the first error is returned.
func (w *Worker) HandlePacket(p *decode.Packet) error {
	var firstErr error
	for i := range w.loggers {
		if !w.loggers[i].condition(p) {
			continue
		}
		if err := w.loggers[i].logger.LogPacket(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases all per-thread logger state. The host calls it only after
// packet delivery to this lane has stopped.
func (w *Worker) Close() error {
	var firstErr error
	for i := range w.loggers {
		if err := w.loggers[i].logger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.loggers = nil
	return firstErr
}
