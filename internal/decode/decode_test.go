package decode

import (
	"net/netip"
	"testing"
)

func TestProtoName(t *testing.T) {
	tests := []struct {
		proto uint8
		want  string
	}{
		{proto: 6, want: "TCP"},
		{proto: 17, want: "UDP"},
		{proto: 1, want: "ICMP"},
		{proto: 132, want: "SCTP"},
		{proto: 250, want: "250"},
	}
	for _, tt := range tests {
		if got := ProtoName(tt.proto); got != tt.want {
			t.Errorf("ProtoName(%d) = %q, want %q", tt.proto, got, tt.want)
		}
	}
}

func TestFlowIDFromTupleDirectionSymmetric(t *testing.T) {
	fwd := FiveTuple{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("192.0.2.1"),
		SrcPort: 31337,
		DstPort: 443,
		Proto:   6,
	}
	rev := FiveTuple{
		SrcIP:   fwd.DstIP,
		DstIP:   fwd.SrcIP,
		SrcPort: fwd.DstPort,
		DstPort: fwd.SrcPort,
		Proto:   6,
	}

	if FlowIDFromTuple(fwd) != FlowIDFromTuple(rev) {
		t.Error("both directions of a flow must hash to the same ID")
	}

	other := fwd
	other.SrcPort = 31338
	if FlowIDFromTuple(fwd) == FlowIDFromTuple(other) {
		t.Error("distinct tuples should not collide on trivially different ports")
	}
}

func TestFlowPktCntTotal(t *testing.T) {
	f := &Flow{ToDstPktCnt: 3, ToSrcPktCnt: 2}
	if got := f.PktCntTotal(); got != 5 {
		t.Errorf("PktCntTotal() = %d, want 5", got)
	}
}

func TestNewFlow(t *testing.T) {
	tuple := FiveTuple{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("192.0.2.1"),
		SrcPort: 1024,
		DstPort: 53,
		Proto:   17,
	}
	f := NewFlow(tuple)
	if f.ID == 0 {
		t.Error("NewFlow assigned zero ID")
	}
	if f.PktCntTotal() != 0 {
		t.Error("new flow must start with zeroed counters")
	}
}
