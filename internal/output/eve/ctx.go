package eve

// Ctx is the eve-log multiplexer's shared context. It owns the sink that
// nested sub-module loggers borrow; closing it closes the sink.
type Ctx struct {
	sink *Sink
}

// NewCtx wraps a sink as the eve-log parent context, taking ownership.
func NewCtx(sink *Sink) *Ctx {
	return &Ctx{sink: sink}
}

// EveSink exposes the shared sink to sub-module context constructors.
func (c *Ctx) EveSink() *Sink {
	return c.sink
}

// Close closes the owned sink. Safe to call multiple times; the sink's own
// Close is idempotent.
func (c *Ctx) Close() error {
	return c.sink.Close()
}
