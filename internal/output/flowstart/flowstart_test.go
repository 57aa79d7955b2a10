package flowstart

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pechy/suricata/internal/config"
	"github.com/pechy/suricata/internal/decode"
	"github.com/pechy/suricata/internal/metrics"
	"github.com/pechy/suricata/internal/output"
	"github.com/pechy/suricata/internal/output/eve"
)

type fakeResolver struct {
	names map[int]string
}

func (f fakeResolver) Name(index int) (string, bool) {
	name, ok := f.names[index]
	return name, ok
}

func inlineOn() bool  { return true }
func inlineOff() bool { return false }

func newPacket(flow *decode.Flow) *decode.Packet {
	tuple := decode.FiveTuple{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("192.0.2.1"),
		SrcPort: 31337,
		DstPort: 443,
		Proto:   6,
	}
	if flow != nil {
		tuple = flow.Tuple
	}
	return &decode.Packet{
		Timestamp: time.Now(),
		Tuple:     tuple,
		Flow:      flow,
	}
}

func newTestFlow() *decode.Flow {
	return decode.NewFlow(decode.FiveTuple{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("192.0.2.1"),
		SrcPort: 31337,
		DstPort: 443,
		Proto:   6,
	})
}

// newStandalone builds a module plus an owning context writing to a temp
// file, returning the file path.
func newStandalone(t *testing.T, opts ...Option) (*Module, *Ctx, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowstart.json")

	opts = append([]Option{WithInlineCheck(inlineOn)}, opts...)
	m := New(opts...)

	ctx, err := m.NewCtx(&config.OutputNode{Filename: path})
	if err != nil {
		t.Fatalf("NewCtx() error: %v", err)
	}
	c, ok := ctx.(*Ctx)
	if !ok {
		t.Fatalf("NewCtx() returned %T", ctx)
	}
	return m, c, path
}

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var events []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	for dec.More() {
		var ev map[string]any
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("corrupt event stream: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestConditionTruthTable(t *testing.T) {
	flowFirst := newTestFlow()
	flowFirst.ToDstPktCnt = 1

	flowSecond := newTestFlow()
	flowSecond.ToDstPktCnt = 1
	flowSecond.ToSrcPktCnt = 1

	flowZero := newTestFlow()

	tests := []struct {
		name   string
		inline func() bool
		packet *decode.Packet
		want   bool
	}{
		{
			name:   "first packet inline",
			inline: inlineOn,
			packet: newPacket(flowFirst),
			want:   true,
		},
		{
			name:   "passive mode never fires",
			inline: inlineOff,
			packet: newPacket(flowFirst),
			want:   false,
		},
		{
			name:   "pseudo packet never fires",
			inline: inlineOn,
			packet: func() *decode.Packet {
				p := newPacket(flowFirst)
				p.Pseudo = true
				return p
			}(),
			want: false,
		},
		{
			name:   "no flow never fires",
			inline: inlineOn,
			packet: newPacket(nil),
			want:   false,
		},
		{
			name:   "second packet does not fire",
			inline: inlineOn,
			packet: newPacket(flowSecond),
			want:   false,
		},
		{
			name:   "zero-count flow does not fire",
			inline: inlineOn,
			packet: newPacket(flowZero),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(WithInlineCheck(tt.inline))
			if got := m.Condition(tt.packet); got != tt.want {
				t.Errorf("Condition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionFiresExactlyOncePerFlow(t *testing.T) {
	m := New(WithInlineCheck(inlineOn))
	flow := newTestFlow()

	fired := 0
	for i := 0; i < 20; i++ {
		// Counters increment before loggers run, alternating directions.
		if i%2 == 0 {
			flow.ToDstPktCnt++
		} else {
			flow.ToSrcPktCnt++
		}
		if m.Condition(newPacket(flow)) {
			fired++
		}
	}
	if fired != 1 {
		t.Errorf("condition fired %d times over a flow's lifetime, want 1", fired)
	}
}

func TestStandaloneEmission(t *testing.T) {
	mt := metrics.New()
	m, ctx, path := newStandalone(t, WithMetrics(mt))
	logger, err := m.NewThread(ctx)
	if err != nil {
		t.Fatalf("NewThread() error: %v", err)
	}

	flow := newTestFlow()
	flow.ToDstPktCnt = 1
	p1 := newPacket(flow)

	if !m.Condition(p1) {
		t.Fatal("first packet must satisfy the condition")
	}
	if err := logger.LogPacket(p1); err != nil {
		t.Fatalf("LogPacket() error: %v", err)
	}

	// P2: second packet on the same flow, counted in the reverse direction.
	flow.ToSrcPktCnt = 1
	if m.Condition(newPacket(flow)) {
		t.Error("second packet must not satisfy the condition")
	}

	// P3: first packet of a new flow with the engine passive.
	passive := New(WithInlineCheck(inlineOff))
	newFlow := newTestFlow()
	newFlow.ToDstPktCnt = 1
	if passive.Condition(newPacket(newFlow)) {
		t.Error("passive engine must not log flow starts")
	}

	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev["event_type"] != "flow_start" {
		t.Errorf("event_type = %v", ev["event_type"])
	}
	if id, ok := ev["flow_id"].(json.Number); !ok || id.String() != strconv.FormatUint(flow.ID, 10) {
		t.Errorf("flow_id = %v, want %d", ev["flow_id"], flow.ID)
	}
	if got := testutil.ToFloat64(mt.EmittedCounter()); got != 1 {
		t.Errorf("emitted counter = %v, want 1", got)
	}
}

func TestInDevEnrichment(t *testing.T) {
	resolver := fakeResolver{names: map[int]string{3: "eth3"}}
	m, ctx, path := newStandalone(t, WithIfaceResolver(resolver))
	logger, err := m.NewThread(ctx)
	if err != nil {
		t.Fatal(err)
	}

	flow := newTestFlow()
	flow.ToDstPktCnt = 1

	resolved := newPacket(flow)
	resolved.IngressIfIndex = 3
	if err := logger.LogPacket(resolved); err != nil {
		t.Fatal(err)
	}

	unresolved := newPacket(flow)
	unresolved.IngressIfIndex = 9
	if err := logger.LogPacket(unresolved); err != nil {
		t.Fatal(err)
	}

	noIndex := newPacket(flow)
	if err := logger.LogPacket(noIndex); err != nil {
		t.Fatal(err)
	}

	_ = logger.Close()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, path)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0]["in_dev"] != "eth3" {
		t.Errorf("resolved packet in_dev = %v, want eth3", events[0]["in_dev"])
	}
	for i, ev := range events[1:] {
		if _, ok := ev["in_dev"]; ok {
			t.Errorf("event %d: in_dev present without a resolvable index", i+1)
		}
	}
}

func TestOwnershipModes(t *testing.T) {
	dir := t.TempDir()
	sink, err := eve.NewFileSink(filepath.Join(dir, "eve.json"))
	if err != nil {
		t.Fatal(err)
	}
	parent := eve.NewCtx(sink)

	m := New(WithInlineCheck(inlineOn))
	subCtx, err := m.NewSubCtx(nil, parent)
	if err != nil {
		t.Fatalf("NewSubCtx() error: %v", err)
	}

	// Borrowing context: closing it must leave the parent's sink usable.
	if err := subCtx.Close(); err != nil {
		t.Fatalf("sub context Close() error: %v", err)
	}
	if err := sink.Write([]byte(`{"alive":true}`)); err != nil {
		t.Errorf("parent sink unusable after sub context close: %v", err)
	}

	// Parent close destroys the shared sink; both closes are safe.
	if err := parent.Close(); err != nil {
		t.Fatalf("parent Close() error: %v", err)
	}
	if err := parent.Close(); err != nil {
		t.Errorf("second parent Close() error: %v", err)
	}
	if err := sink.Write([]byte("{}")); !errors.Is(err, eve.ErrSinkClosed) {
		t.Errorf("sink usable after owner close: %v", err)
	}

	// Owning context: closing destroys its sink exactly once.
	_, ownCtx, _ := newStandalone(t)
	if err := ownCtx.Close(); err != nil {
		t.Fatalf("owning Close() error: %v", err)
	}
	if err := ownCtx.Close(); err != nil {
		t.Errorf("owning Close() not idempotent: %v", err)
	}
}

func TestNewSubCtxRequiresParentSink(t *testing.T) {
	m := New()
	if _, err := m.NewSubCtx(nil, output.NopContext{}); !errors.Is(err, ErrNoParentSink) {
		t.Errorf("NewSubCtx with sinkless parent = %v, want ErrNoParentSink", err)
	}
}

func TestNewThreadNilContext(t *testing.T) {
	m := New()
	if _, err := m.NewThread(nil); !errors.Is(err, output.ErrNilContext) {
		t.Errorf("NewThread(nil) = %v, want ErrNilContext", err)
	}
	var nilCtx *Ctx
	if _, err := m.NewThread(nilCtx); !errors.Is(err, output.ErrNilContext) {
		t.Errorf("NewThread(typed nil) = %v, want ErrNilContext", err)
	}
}

func TestHeaderFailureDropsSilently(t *testing.T) {
	mt := metrics.New()
	failing := func(*decode.Packet, string) (*eve.Event, error) {
		return nil, errors.New("allocation pressure")
	}
	m, ctx, path := newStandalone(t, WithHeaderFunc(failing), WithMetrics(mt))
	logger, err := m.NewThread(ctx)
	if err != nil {
		t.Fatal(err)
	}

	flow := newTestFlow()
	flow.ToDstPktCnt = 1

	// A missed event is not a pipeline failure.
	if err := logger.LogPacket(newPacket(flow)); err != nil {
		t.Errorf("LogPacket() = %v, want nil on header failure", err)
	}

	_ = logger.Close()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("sink received %d bytes for a dropped event", len(data))
	}
	if got := testutil.ToFloat64(mt.DroppedCounter(metrics.StageHeader)); got != 1 {
		t.Errorf("header drop counter = %v, want 1", got)
	}

	// Subsequent packets on a healthy module are unaffected.
	m2, ctx2, path2 := newStandalone(t, WithMetrics(mt))
	logger2, err := m2.NewThread(ctx2)
	if err != nil {
		t.Fatal(err)
	}
	if err := logger2.LogPacket(newPacket(flow)); err != nil {
		t.Fatal(err)
	}
	_ = logger2.Close()
	_ = ctx2.Close()
	if events := readEvents(t, path2); len(events) != 1 {
		t.Errorf("healthy emission after drop: got %d events, want 1", len(events))
	}
}

func TestWriteFailurePropagates(t *testing.T) {
	mt := metrics.New()
	m, ctx, _ := newStandalone(t, WithMetrics(mt))
	logger, err := m.NewThread(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Close the sink out from under the logger to force a write failure.
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}

	flow := newTestFlow()
	flow.ToDstPktCnt = 1
	if err := logger.LogPacket(newPacket(flow)); err == nil {
		t.Error("sink write failure must surface from LogPacket")
	}
	if got := testutil.ToFloat64(mt.DroppedCounter(metrics.StageWrite)); got != 1 {
		t.Errorf("write drop counter = %v, want 1", got)
	}
}

func TestScratchBufferReuse(t *testing.T) {
	m, ctx, path := newStandalone(t)
	logger, err := m.NewThread(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ts, ok := logger.(*threadState)
	if !ok {
		t.Fatalf("NewThread() returned %T", logger)
	}

	capBefore := ts.buf.Cap()
	flow := newTestFlow()
	flow.ToDstPktCnt = 1

	const emissions = 100
	for i := 0; i < emissions; i++ {
		if err := logger.LogPacket(newPacket(flow)); err != nil {
			t.Fatal(err)
		}
	}

	if ts.buf.Cap() != capBefore {
		t.Errorf("scratch capacity grew across similar events: %d -> %d", capBefore, ts.buf.Cap())
	}

	_ = logger.Close()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	if events := readEvents(t, path); len(events) != emissions {
		t.Errorf("got %d events, want %d", len(events), emissions)
	}
}

func TestRegisterBothVariants(t *testing.T) {
	reg := output.NewRegistry()
	m := New(WithInlineCheck(inlineOn))
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if _, ok := reg.Lookup(config.FlowStartStandaloneKey); !ok {
		t.Error("standalone module not registered")
	}
	sub, ok := reg.Lookup(SubModuleKey)
	if !ok {
		t.Fatal("sub-module not registered")
	}
	if sub.Parent != config.EveLogKey {
		t.Errorf("sub-module parent = %q, want %q", sub.Parent, config.EveLogKey)
	}

	// Double registration of the same module must fail.
	if err := m.Register(output.NewRegistry()); err != nil {
		t.Errorf("registering into a fresh registry failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("re-registering into the same registry must fail")
	}
}
