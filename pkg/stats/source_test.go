package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/digitalocean/go-openvswitch/ovs"

	"github.com/newtron-network/eline/pkg/device"
)

type fakeCounters struct {
	flows  []device.FlowCounterEntry
	tables []device.TableCounterEntry
	err    error
}

func (f *fakeCounters) FlowCounters(context.Context) ([]device.FlowCounterEntry, error) {
	return f.flows, f.err
}

func (f *fakeCounters) TableCounters(context.Context) ([]device.TableCounterEntry, error) {
	return f.tables, f.err
}

func TestRedisSource_Poll(t *testing.T) {
	src := &RedisSource{db: &fakeCounters{
		flows: []device.FlowCounterEntry{
			{DPID: dp1, FlowID: "f1a", Priority: 20000, Cookie: 0xaa00000000000001,
				Match: map[string]string{"in_port": "1"}, PacketCount: 1000, ByteCount: 64000, DurationSec: 10},
			{DPID: dp2, FlowID: "f2a", TableID: 1},
		},
		tables: []device.TableCounterEntry{
			{DPID: dp1, TableID: 0, ActiveCount: 2, LookupCount: 1500, MatchedCount: 1500},
			{DPID: dp2, TableID: 1, ActiveCount: 1},
		},
	}}

	snap, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("switches = %d, want 2", len(snap))
	}
	f := snap[dp1].Flows["f1a"]
	if f.DPID != dp1 || f.Priority != 20000 || f.Match["in_port"] != "1" || f.PacketCount != 1000 {
		t.Errorf("f1a = %+v", f)
	}
	if m := snap[dp2].Flows["f2a"].Match; m == nil || len(m) != 0 {
		t.Errorf("f2a match = %v, want empty map", m)
	}
	if tr := snap[dp2].Tables[1]; tr.ActiveCount != 1 {
		t.Errorf("dp2 table 1 = %+v", tr)
	}
}

func TestRedisSource_PollError(t *testing.T) {
	src := &RedisSource{db: &fakeCounters{err: errors.New("i/o timeout")}}
	if _, err := src.Poll(context.Background()); err == nil {
		t.Fatal("Poll() should fail when the database does")
	}
}

type fakeOpenFlow struct {
	tables map[string][]*ovs.Table
	flows  map[string][]*ovs.Flow
	failOn string
}

func (f *fakeOpenFlow) DumpTables(bridge string) ([]*ovs.Table, error) {
	if bridge == f.failOn {
		return nil, errors.New("ovs-ofctl: br0 is not a bridge")
	}
	return f.tables[bridge], nil
}

func (f *fakeOpenFlow) DumpFlows(bridge string) ([]*ovs.Flow, error) {
	return f.flows[bridge], nil
}

// newFakeOpenFlow serves one bridge whose table 0 holds a specific flow and
// a wildcard flow under the same cookie. Counters that were summed over
// matching flows would report 1005 packets for the wildcard.
func newFakeOpenFlow() *fakeOpenFlow {
	return &fakeOpenFlow{
		tables: map[string][]*ovs.Table{
			"br1": {
				{ID: 0, Name: "classifier", Active: 2, Lookup: 1500, Matched: 1400},
				{ID: 1, Name: "table1"},
			},
		},
		flows: map[string][]*ovs.Flow{
			"br1": {
				{
					Priority: 20000, InPort: 1, Cookie: 0xaa01,
					Matches: []ovs.Match{ovs.DataLinkVLAN(100)},
					Stats:   ovs.FlowStats{PacketCount: 1000, ByteCount: 64000},
				},
				{
					Priority: 0, Cookie: 0xaa01,
					Stats: ovs.FlowStats{PacketCount: 5, ByteCount: 320},
				},
			},
		},
	}
}

func TestOVSSource_Poll(t *testing.T) {
	of := newFakeOpenFlow()
	src := NewOVSSource(of, map[string]string{dp1: "br1"})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	snap, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	sw := snap[dp1]
	if sw == nil || len(sw.Flows) != 2 || len(sw.Tables) != 2 {
		t.Fatalf("snapshot = %+v", sw)
	}
	if tr := sw.Tables[0]; tr.ActiveCount != 2 || tr.LookupCount != 1500 || tr.MatchedCount != 1400 {
		t.Errorf("table 0 = %+v", tr)
	}

	match := map[string]string{"in_port": "1", "dl_vlan": "100"}
	id := FlowID(dp1, 0, 20000, 0xaa01, match)
	f, ok := sw.Flows[id]
	if !ok {
		t.Fatalf("flow %s missing from %v", id, sw.Flows)
	}
	if f.PacketCount != 1000 || f.ByteCount != 64000 || f.DurationSec != 0 {
		t.Errorf("flow = %+v", f)
	}
	if f.Match["dl_vlan"] != "100" || f.Match["in_port"] != "1" {
		t.Errorf("match = %v", f.Match)
	}

	// The wildcard sharing the cookie keeps its own counters.
	wild := FlowID(dp1, 0, 0, 0xaa01, map[string]string{})
	if w := sw.Flows[wild]; w.PacketCount != 5 || w.ByteCount != 320 {
		t.Errorf("wildcard flow = %+v, want 5 packets 320 bytes", w)
	}

	// Duration counts from the first poll that saw the flow.
	now = now.Add(30 * time.Second)
	snap, err = src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := snap[dp1].Flows[id].DurationSec; got != 30 {
		t.Errorf("duration = %d, want 30", got)
	}
	if got := snap[dp1].Flows[id]; PacketCounterOf(got).PacketPerSecond != 1000.0/30 {
		t.Errorf("rate = %v", PacketCounterOf(got).PacketPerSecond)
	}
}

func TestOVSSource_PollError(t *testing.T) {
	of := newFakeOpenFlow()
	of.failOn = "br2"
	src := NewOVSSource(of, map[string]string{dp1: "br1", dp2: "br2"})
	if _, err := src.Poll(context.Background()); err == nil {
		t.Fatal("Poll() should fail when a bridge does")
	}
}

func TestFlowID(t *testing.T) {
	a := FlowID(dp1, 0, 100, 1, map[string]string{"in_port": "1", "dl_vlan": "10"})
	b := FlowID(dp1, 0, 100, 1, map[string]string{"dl_vlan": "10", "in_port": "1"})
	if a != b {
		t.Error("FlowID depends on map order")
	}
	if len(a) != 64 {
		t.Errorf("FlowID length = %d, want 64", len(a))
	}
	if c := FlowID(dp2, 0, 100, 1, map[string]string{"in_port": "1", "dl_vlan": "10"}); c == a {
		t.Error("FlowID ignores the switch")
	}
}
