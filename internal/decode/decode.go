// Package decode exposes the read-only packet and flow views consumed by
// output modules. The host pipeline owns decoding and flow tracking; types
// here carry only the fields loggers read.
package decode

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net/netip"
	"time"
)

// FiveTuple identifies a bidirectional flow.
type FiveTuple struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Proto   uint8
}

// Flow is the per-flow state maintained by the host flow tracker. Output
// modules read the counters; they never write them.
type Flow struct {
	ID    uint64
	Tuple FiveTuple

	// Per-direction packet counters, incremented by the flow tracker
	// before loggers run.
	ToDstPktCnt uint32
	ToSrcPktCnt uint32
}

// PktCntTotal returns the combined packet count across both directions.
func (f *Flow) PktCntTotal() uint32 {
	return f.ToDstPktCnt + f.ToSrcPktCnt
}

// Packet is the per-packet view handed to packet loggers. Read-only during
// logger execution.
type Packet struct {
	Timestamp time.Time
	Tuple     FiveTuple

	// Flow is nil for packets the tracker did not associate with a flow.
	Flow *Flow

	// Pseudo marks packets synthesized internally (flow timeout signaling
	// and the like) that never appeared on the wire.
	Pseudo bool

	// IngressIfIndex is the capture interface index, 0 when unknown.
	IngressIfIndex int
}

// protoNames covers the protocols the engine decodes. Unknown numbers fall
// back to their decimal form.
var protoNames = map[uint8]string{
	1:   "ICMP",
	2:   "IGMP",
	6:   "TCP",
	17:  "UDP",
	41:  "IPv6",
	47:  "GRE",
	50:  "ESP",
	58:  "IPv6-ICMP",
	132: "SCTP",
}

// ProtoName returns the conventional name for an IP protocol number.
func ProtoName(proto uint8) string {
	if name, ok := protoNames[proto]; ok {
		return name
	}
	return fmt.Sprintf("%d", proto)
}

// FlowIDFromTuple derives a stable 64-bit flow identifier from the 5-tuple.
// Both directions of the same flow hash to the same ID.
func FlowIDFromTuple(t FiveTuple) uint64 {
	a, b := t.SrcIP, t.DstIP
	ap, bp := t.SrcPort, t.DstPort
	if b.Less(a) || (a == b && bp < ap) {
		a, b = b, a
		ap, bp = bp, ap
	}

	h := fnv.New64a()
	ab := a.As16()
	bb := b.As16()
	_, _ = h.Write(ab[:])
	_, _ = h.Write(bb[:])
	var ports [5]byte
	binary.BigEndian.PutUint16(ports[0:2], ap)
	binary.BigEndian.PutUint16(ports[2:4], bp)
	ports[4] = t.Proto
	_, _ = h.Write(ports[:])
	return h.Sum64()
}

// NewFlow creates a flow for the given tuple with zeroed counters. Used by
// the replay harness and tests; the production flow tracker has its own
// allocation path.
func NewFlow(t FiveTuple) *Flow {
	return &Flow{
		ID:    FlowIDFromTuple(t),
		Tuple: t,
	}
}
