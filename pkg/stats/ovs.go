package stats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/digitalocean/go-openvswitch/ovs"

	"github.com/newtron-network/eline/pkg/util"
)

// OpenFlow is the subset of *ovs.OpenFlowService an OVSSource uses.
type OpenFlow interface {
	DumpTables(bridge string) ([]*ovs.Table, error)
	DumpFlows(bridge string) ([]*ovs.Flow, error)
}

// OVSSource polls Open vSwitch bridges with ovs-ofctl. ofctl does not
// report flow age through this client, so a flow's duration is measured
// from the first poll that saw it.
type OVSSource struct {
	of      OpenFlow
	bridges map[string]string // dpid -> bridge
	now     func() time.Time

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

// NewOVSSource polls the given bridges, keyed by the dpid they report as.
func NewOVSSource(of OpenFlow, bridges map[string]string) *OVSSource {
	return &OVSSource{
		of:        of,
		bridges:   bridges,
		now:       time.Now,
		firstSeen: make(map[string]time.Time),
	}
}

// Poll implements Source. Any bridge failing fails the whole poll.
func (o *OVSSource) Poll(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	dpids := make([]string, 0, len(o.bridges))
	for dpid := range o.bridges {
		dpids = append(dpids, dpid)
	}
	sort.Strings(dpids)

	now := o.now()
	seen := make(map[string]time.Time)
	snap := make(Snapshot)
	for _, dpid := range dpids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bridge := o.bridges[dpid]
		sw := snap.Switch(dpid)

		tables, err := o.of.DumpTables(bridge)
		if err != nil {
			return nil, fmt.Errorf("dump-tables %s: %w", bridge, err)
		}
		for _, t := range tables {
			sw.Tables[t.ID] = TableRecord{
				TableID:      t.ID,
				ActiveCount:  uint64(t.Active),
				LookupCount:  t.Lookup,
				MatchedCount: t.Matched,
			}
		}

		flows, err := o.of.DumpFlows(bridge)
		if err != nil {
			return nil, fmt.Errorf("dump-flows %s: %w", bridge, err)
		}
		for _, f := range flows {
			rec, err := flowRecord(dpid, f)
			if err != nil {
				util.WithSwitch(dpid).Warnf("skipping flow: %v", err)
				continue
			}
			first, ok := o.firstSeen[rec.FlowID]
			if !ok {
				first = now
			}
			seen[rec.FlowID] = first
			rec.DurationSec = uint64(now.Sub(first) / time.Second)
			sw.Flows[rec.FlowID] = rec
		}
	}
	o.firstSeen = seen
	return snap, nil
}

// flowRecord takes the counters dump-flows reports for f itself.
func flowRecord(dpid string, f *ovs.Flow) (FlowRecord, error) {
	match, err := matchFields(f)
	if err != nil {
		return FlowRecord{}, err
	}
	return FlowRecord{
		FlowID:      FlowID(dpid, f.Table, f.Priority, f.Cookie, match),
		DPID:        dpid,
		TableID:     f.Table,
		Priority:    f.Priority,
		Cookie:      f.Cookie,
		Match:       match,
		PacketCount: f.Stats.PacketCount,
		ByteCount:   f.Stats.ByteCount,
	}, nil
}

// matchFields renders a flow's match as field -> value.
func matchFields(f *ovs.Flow) (map[string]string, error) {
	match := make(map[string]string)
	if f.Protocol != "" {
		match["protocol"] = string(f.Protocol)
	}
	if f.InPort != 0 {
		match["in_port"] = strconv.Itoa(f.InPort)
	}
	for _, m := range f.Matches {
		text, err := m.MarshalText()
		if err != nil {
			return nil, fmt.Errorf("rendering match %s: %w", m.GoString(), err)
		}
		k, v, _ := strings.Cut(string(text), "=")
		match[k] = v
	}
	return match, nil
}

// FlowID identifies a flow by switch, table, priority, cookie and match.
func FlowID(dpid string, table, priority int, cookie uint64, match map[string]string) string {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%d", dpid, table, priority, cookie)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, match[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
