package eve

import (
	"encoding/json"
	"errors"

	"github.com/pechy/suricata/internal/decode"
)

// TimestampFormat is the EVE record timestamp layout: microsecond precision
// with a numeric zone offset.
const TimestampFormat = "2006-01-02T15:04:05.000000-0700"

// ErrNilPacket is returned when a header is requested for a nil packet.
var ErrNilPacket = errors.New("eve: nil packet")

// Event is the standard EVE record header plus the optional enrichment
// fields loggers may attach. One Event is built per emission and discarded
// after serialization.
type Event struct {
	Timestamp string `json:"timestamp"`
	FlowID    uint64 `json:"flow_id,omitempty"`
	EventType string `json:"event_type"`
	SrcIP     string `json:"src_ip,omitempty"`
	SrcPort   uint16 `json:"src_port,omitempty"`
	DestIP    string `json:"dest_ip,omitempty"`
	DestPort  uint16 `json:"dest_port,omitempty"`
	Proto     string `json:"proto,omitempty"`
	Host      string `json:"host,omitempty"`

	// InDev is the ingress interface name, attached by loggers on
	// platforms that can resolve it.
	InDev string `json:"in_dev,omitempty"`
}

// HeaderFunc builds an event header for a packet. Loggers take one as an
// injected capability so header failure handling stays testable.
type HeaderFunc func(p *decode.Packet, eventType string) (*Event, error)

// NewHeaderFunc returns a HeaderFunc that stamps every record with the given
// sensor name (omitted when empty).
func NewHeaderFunc(sensor string) HeaderFunc {
	return func(p *decode.Packet, eventType string) (*Event, error) {
		ev, err := NewEventHeader(p, eventType)
		if err != nil {
			return nil, err
		}
		ev.Host = sensor
		return ev, nil
	}
}

// NewEventHeader builds the standard header from a packet: timestamp, flow
// identity, and the 5-tuple.
func NewEventHeader(p *decode.Packet, eventType string) (*Event, error) {
	if p == nil {
		return nil, ErrNilPacket
	}

	ev := &Event{
		Timestamp: p.Timestamp.Format(TimestampFormat),
		EventType: eventType,
	}

	if p.Flow != nil {
		ev.FlowID = p.Flow.ID
	}

	t := p.Tuple
	if t.SrcIP.IsValid() {
		ev.SrcIP = t.SrcIP.String()
		ev.SrcPort = t.SrcPort
	}
	if t.DstIP.IsValid() {
		ev.DestIP = t.DstIP.String()
		ev.DestPort = t.DstPort
	}
	if t.Proto != 0 {
		ev.Proto = decode.ProtoName(t.Proto)
	}

	return ev, nil
}

// EncodeTo serializes ev into buf as one JSON object with a trailing
// newline. The buffer is not reset first; callers own that.
func EncodeTo(buf *Buffer, ev *Event) error {
	return json.NewEncoder(buf).Encode(ev)
}
