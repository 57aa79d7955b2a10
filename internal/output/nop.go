package output

import (
	"github.com/pechy/suricata/internal/config"
	"github.com/pechy/suricata/internal/decode"
)

// NopLogger is a PacketLogger that does nothing. It stands in for a logger
// whose output is disabled, so the pipeline links against one stable module
// interface regardless of which outputs are active.
type NopLogger struct{}

// LogPacket does nothing.
func (NopLogger) LogPacket(*decode.Packet) error { return nil }

// Close does nothing.
func (NopLogger) Close() error { return nil }

// NopContext is a LoggerContext with no resources.
type NopContext struct{}

// Close does nothing.
func (NopContext) Close() error { return nil }

// NewNopModule returns a module descriptor whose condition never fires and
// whose logger discards everything. Registered in place of a real module
// when its output is disabled.
func NewNopModule(name, confKey, parent string) *PacketLoggerModule {
	return &PacketLoggerModule{
		Name:      name,
		ConfKey:   confKey,
		Parent:    parent,
		Condition: func(*decode.Packet) bool { return false },
		NewContext: func(*config.OutputNode) (LoggerContext, error) {
			return NopContext{}, nil
		},
		NewSubContext: func(*config.OutputNode, LoggerContext) (LoggerContext, error) {
			return NopContext{}, nil
		},
		NewThread: func(LoggerContext) (PacketLogger, error) {
			return NopLogger{}, nil
		},
	}
}
