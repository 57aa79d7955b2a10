// Package flowstart logs the start of flows as EVE flow_start events when
// the engine runs inline. The condition fires on exactly the first packet
// counted into either direction of a flow, reusing the flow tracker's
// counters instead of keeping per-flow state of its own.
package flowstart

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pechy/suricata/internal/config"
	"github.com/pechy/suricata/internal/decode"
	"github.com/pechy/suricata/internal/iface"
	"github.com/pechy/suricata/internal/logging"
	"github.com/pechy/suricata/internal/metrics"
	"github.com/pechy/suricata/internal/output"
	"github.com/pechy/suricata/internal/output/eve"
)

// EventType tags every record emitted by this module.
const EventType = "flow_start"

// Registration identifiers.
const (
	ModuleName      = "JsonFlowstartLog"
	SubModuleKey    = "eve-log.flow_start"
	defaultFilename = "flowstart.json"
)

// outputBufferSize is the initial per-thread scratch capacity.
const outputBufferSize = 65535

// ErrNoParentSink is returned when a sub-module context is constructed from
// a parent that does not expose a usable sink.
var ErrNoParentSink = errors.New("flowstart: parent context exposes no sink")

// sinkProvider is what a parent multiplexing context must implement for this
// module to nest under it.
type sinkProvider interface {
	EveSink() *eve.Sink
}

// Module bundles the flow-start logger's injected capabilities: the engine
// run-mode check, the interface name resolver, the header builder, and the
// drop/emit counters.
type Module struct {
	inline  func() bool
	ifaces  iface.Resolver
	header  eve.HeaderFunc
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithInlineCheck sets the engine run-mode capability. The condition only
// fires while the check reports inline operation.
func WithInlineCheck(fn func() bool) Option {
	return func(m *Module) {
		if fn != nil {
			m.inline = fn
		}
	}
}

// WithIfaceResolver sets the ingress interface name resolver used for the
// in_dev field.
func WithIfaceResolver(r iface.Resolver) Option {
	return func(m *Module) {
		if r != nil {
			m.ifaces = r
		}
	}
}

// WithHeaderFunc replaces the event header builder.
func WithHeaderFunc(fn eve.HeaderFunc) Option {
	return func(m *Module) {
		if fn != nil {
			m.header = fn
		}
	}
}

// WithMetrics sets the emit/drop counters.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Module) {
		m.metrics = mt
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Module) {
		m.log = log
	}
}

// New creates the flow-start module. Defaults: passive (condition never
// fires), system interface resolver, plain header builder, no metrics.
func New(opts ...Option) *Module {
	m := &Module{
		inline: func() bool { return false },
		ifaces: iface.System(),
		header: eve.NewHeaderFunc(""),
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ctx holds the module's sink reference and its cleanup policy. Exactly one
// ownership mode is active per instance, fixed at construction.
type Ctx struct {
	sink    *eve.Sink
	owned   bool
	bufSize int
}

// Close releases the context. An owning context closes its sink; a borrowing
// context must leave the parent's sink alone.
func (c *Ctx) Close() error {
	if c.owned {
		return c.sink.Close()
	}
	return nil
}

// NewCtx builds the standalone context: it opens its own sink, using the
// node's filename or the module default, and owns it.
func (m *Module) NewCtx(node *config.OutputNode) (output.LoggerContext, error) {
	filename := defaultFilename
	bufSize := outputBufferSize
	if node != nil {
		if node.Filename != "" {
			filename = node.Filename
		}
		if node.BufferSize > 0 {
			bufSize = node.BufferSize
		}
	}

	sink, err := eve.NewFileSink(filename,
		eve.WithBufferSize(bufSize),
		eve.WithLogger(m.log),
	)
	if err != nil {
		return nil, fmt.Errorf("flowstart: %w", err)
	}

	return &Ctx{sink: sink, owned: true, bufSize: bufSize}, nil
}

// NewSubCtx builds the nested context: it borrows the parent's sink and
// never closes it. The configuration node carries no sink selection here.
func (m *Module) NewSubCtx(node *config.OutputNode, parent output.LoggerContext) (output.LoggerContext, error) {
	provider, ok := parent.(sinkProvider)
	if !ok || provider.EveSink() == nil {
		return nil, ErrNoParentSink
	}

	bufSize := outputBufferSize
	if node != nil && node.BufferSize > 0 {
		bufSize = node.BufferSize
	}

	return &Ctx{sink: provider.EveSink(), owned: false, bufSize: bufSize}, nil
}

// threadState is the per-worker logger state: the context reference and a
// scratch buffer reused across emissions.
type threadState struct {
	mod *Module
	ctx *Ctx
	buf *eve.Buffer
}

// NewThread creates per-thread state. A nil context is a wiring bug and
// fails the worker's startup.
func (m *Module) NewThread(ctx output.LoggerContext) (output.PacketLogger, error) {
	if ctx == nil {
		return nil, output.ErrNilContext
	}
	c, ok := ctx.(*Ctx)
	if !ok || c == nil {
		return nil, output.ErrNilContext
	}

	return &threadState{
		mod: m,
		ctx: c,
		buf: eve.NewBuffer(c.bufSize),
	}, nil
}

// Condition reports whether p should produce a flow_start event. Runs on the
// hot path for every packet; allocation-free, no logging.
func (m *Module) Condition(p *decode.Packet) bool {
	if !m.inline() {
		return false
	}
	if p.Pseudo {
		return false
	}
	if p.Flow == nil {
		return false
	}
	return p.Flow.PktCntTotal() == 1
}

// LogPacket emits one flow_start record for p. Header construction failure
// drops the event silently (counted, success reported); only a genuine sink
// write failure surfaces an error.
func (t *threadState) LogPacket(p *decode.Packet) error {
	ev, err := t.mod.header(p, EventType)
	if err != nil {
		t.mod.metrics.RecordDropped(metrics.StageHeader)
		return nil
	}

	if p.IngressIfIndex != 0 {
		if name, ok := t.mod.ifaces.Name(p.IngressIfIndex); ok {
			ev.InDev = name
		}
	}

	t.buf.Reset()
	if err := eve.EncodeTo(t.buf, ev); err != nil {
		t.mod.metrics.RecordDropped(metrics.StageHeader)
		return nil
	}

	if err := t.ctx.sink.Write(t.buf.Bytes()); err != nil {
		t.mod.metrics.RecordDropped(metrics.StageWrite)
		return err
	}

	t.mod.metrics.RecordEmitted()
	return nil
}

// Close releases the scratch buffer. The context is shared and closed by the
// host, not here. Idempotent.
func (t *threadState) Close() error {
	t.buf = nil
	t.ctx = nil
	return nil
}

// Register wires the module into the registry, both as a standalone packet
// logger and as an eve-log sub-module. Both variants share the condition and
// per-thread logger; only context construction differs.
func (m *Module) Register(reg *output.Registry) error {
	if err := reg.RegisterPacketModule(&output.PacketLoggerModule{
		Name:       ModuleName,
		ConfKey:    config.FlowStartStandaloneKey,
		Condition:  m.Condition,
		NewContext: m.NewCtx,
		NewThread:  m.NewThread,
	}); err != nil {
		return err
	}

	return reg.RegisterPacketSubModule(&output.PacketLoggerModule{
		Name:          ModuleName,
		ConfKey:       SubModuleKey,
		Parent:        config.EveLogKey,
		Condition:     m.Condition,
		NewSubContext: m.NewSubCtx,
		NewThread:     m.NewThread,
	})
}
