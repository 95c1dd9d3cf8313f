package stats

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/scylladb/go-set/strset"

	"github.com/newtron-network/eline/pkg/metrics"
	"github.com/newtron-network/eline/pkg/util"
)

// switchState is the merged view of one switch. Writers hold mu; readers
// copy out under the read lock.
type switchState struct {
	mu     sync.RWMutex
	flows  map[string]FlowRecord
	tables map[int]TableRecord

	// floor is the highest count ever served per table. It outlives a
	// table missing from a poll, so a table that returns never goes back.
	floor map[int]TableRecord
}

func newSwitchState(floor map[int]TableRecord) *switchState {
	if floor == nil {
		floor = make(map[int]TableRecord)
	}
	return &switchState{floor: floor}
}

// merge folds a poll into the state. Table counters never decrease. Flow
// counters never decrease for the same flow instance; a lower duration
// means the flow was reinstalled and its counters start over. Flows and
// tables absent from the poll leave the view.
func (s *switchState) merge(in *SwitchStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := make(map[int]TableRecord, len(in.Tables))
	for id, t := range in.Tables {
		if prev, ok := s.floor[id]; ok {
			t.ActiveCount = max(t.ActiveCount, prev.ActiveCount)
			t.LookupCount = max(t.LookupCount, prev.LookupCount)
			t.MatchedCount = max(t.MatchedCount, prev.MatchedCount)
		}
		tables[id] = t
		s.floor[id] = t
	}
	flows := make(map[string]FlowRecord, len(in.Flows))
	for id, f := range in.Flows {
		if prev, ok := s.flows[id]; ok && f.DurationSec >= prev.DurationSec {
			f.PacketCount = max(f.PacketCount, prev.PacketCount)
			f.ByteCount = max(f.ByteCount, prev.ByteCount)
		}
		flows[id] = f
	}
	s.tables = tables
	s.flows = flows
}

// Aggregator keeps the latest counters per switch. Each switch has its own
// lock, so a refresh of one switch never blocks queries on another.
type Aggregator struct {
	source Source
	now    func() time.Time

	refreshMu   sync.Mutex
	retired     map[string]map[int]TableRecord // table floors of departed switches, under refreshMu
	switches    *xsync.Map[string, *switchState]
	flowIndex   *xsync.Map[string, string] // flow id -> dpid
	lastRefresh atomic.Int64               // unix nanoseconds
}

// NewAggregator creates an Aggregator over source. Nothing is polled until
// Refresh or Run.
func NewAggregator(source Source) *Aggregator {
	return &Aggregator{
		source:    source,
		now:       time.Now,
		retired:   make(map[string]map[int]TableRecord),
		switches:  xsync.NewMap[string, *switchState](),
		flowIndex: xsync.NewMap[string, string](),
	}
}

// Refresh polls the source once and merges the result. A failed poll keeps
// the previous state.
func (a *Aggregator) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	start := a.now()
	snap, err := a.source.Poll(ctx)
	metrics.StatsPoll(a.now().Sub(start), err)
	if err != nil {
		return fmt.Errorf("polling statistics: %w", err)
	}

	flowIDs := strset.New()
	for dpid, in := range snap {
		st, ok := a.switches.Load(dpid)
		if !ok {
			st = newSwitchState(a.retired[dpid])
			delete(a.retired, dpid)
			a.switches.Store(dpid, st)
		}
		st.merge(in)

		st.mu.RLock()
		for id, t := range st.tables {
			metrics.SetTableCounters(dpid, id, t.ActiveCount, t.LookupCount, t.MatchedCount)
		}
		st.mu.RUnlock()

		for id := range in.Flows {
			flowIDs.Add(id)
			a.flowIndex.Store(id, dpid)
		}
	}

	a.switches.Range(func(dpid string, st *switchState) bool {
		if _, ok := snap[dpid]; !ok {
			st.mu.RLock()
			a.retired[dpid] = st.floor
			st.mu.RUnlock()
			a.switches.Delete(dpid)
			metrics.ForgetSwitch(dpid)
			util.WithSwitch(dpid).Infof("switch left the statistics source")
		}
		return true
	})
	a.flowIndex.Range(func(id, _ string) bool {
		if !flowIDs.Has(id) {
			a.flowIndex.Delete(id)
		}
		return true
	})

	a.lastRefresh.Store(a.now().UnixNano())
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
// interval bounds how stale any served counter can be.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	refresh := func() {
		if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
			util.Warnf("stats: %v", err)
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// LastRefresh is the time of the last successful poll, zero before the first.
func (a *Aggregator) LastRefresh() time.Time {
	ns := a.lastRefresh.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Switches lists the dpids currently known, sorted.
func (a *Aggregator) Switches() []string {
	var out []string
	a.switches.Range(func(dpid string, _ *switchState) bool {
		out = append(out, dpid)
		return true
	})
	sort.Strings(out)
	return out
}

// selectSwitches resolves a dpid filter. An empty filter selects every
// switch; repeated ids collapse; an unknown id is NotFound.
func (a *Aggregator) selectSwitches(dpids []string) (map[string]*switchState, error) {
	out := make(map[string]*switchState)
	if len(dpids) == 0 {
		a.switches.Range(func(dpid string, st *switchState) bool {
			out[dpid] = st
			return true
		})
		return out, nil
	}
	for _, dpid := range strset.New(dpids...).List() {
		st, ok := a.switches.Load(dpid)
		if !ok {
			return nil, util.NewNotFoundError("switch", dpid)
		}
		out[dpid] = st
	}
	return out, nil
}

// FlowStats returns dpid -> flow id -> record for the selected switches.
func (a *Aggregator) FlowStats(dpids []string) (map[string]map[string]FlowRecord, error) {
	selected, err := a.selectSwitches(dpids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]FlowRecord, len(selected))
	for dpid, st := range selected {
		st.mu.RLock()
		flows := make(map[string]FlowRecord, len(st.flows))
		for id, f := range st.flows {
			flows[id] = f
		}
		st.mu.RUnlock()
		out[dpid] = flows
	}
	return out, nil
}

// TableStats returns dpid -> table id -> record. tables restricts the inner
// maps to the listed ids; a table a switch lacks is omitted.
func (a *Aggregator) TableStats(dpids, tables []string) (map[string]map[string]TableRecord, error) {
	var want map[int]bool
	if len(tables) > 0 {
		want = make(map[int]bool, len(tables))
		v := &util.ValidationBuilder{}
		for _, s := range tables {
			id, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || id < 0 {
				v.AddErrorf("table %q is not a table id", s)
				continue
			}
			want[id] = true
		}
		if err := v.Build(); err != nil {
			return nil, err
		}
	}

	selected, err := a.selectSwitches(dpids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]TableRecord, len(selected))
	for dpid, st := range selected {
		st.mu.RLock()
		recs := make(map[string]TableRecord)
		for id, t := range st.tables {
			if want == nil || want[id] {
				recs[strconv.Itoa(id)] = t
			}
		}
		st.mu.RUnlock()
		out[dpid] = recs
	}
	return out, nil
}

// flow looks up one flow by id.
func (a *Aggregator) flow(flowID string) (FlowRecord, error) {
	dpid, ok := a.flowIndex.Load(flowID)
	if ok {
		if st, ok := a.switches.Load(dpid); ok {
			st.mu.RLock()
			f, found := st.flows[flowID]
			st.mu.RUnlock()
			if found {
				return f, nil
			}
		}
	}
	return FlowRecord{}, util.NewNotFoundError("flow", flowID)
}

// PacketCount returns the packet counter and rate of a flow.
func (a *Aggregator) PacketCount(flowID string) (PacketCounter, error) {
	f, err := a.flow(flowID)
	if err != nil {
		return PacketCounter{}, err
	}
	return PacketCounterOf(f), nil
}

// BytesCount returns the byte counter and bit rate of a flow.
func (a *Aggregator) BytesCount(flowID string) (BytesCounter, error) {
	f, err := a.flow(flowID)
	if err != nil {
		return BytesCounter{}, err
	}
	return BytesCounterOf(f), nil
}

// switchFlows copies a switch's flows sorted by flow id.
func (a *Aggregator) switchFlows(dpid string) ([]FlowRecord, error) {
	st, ok := a.switches.Load(dpid)
	if !ok {
		return nil, util.NewNotFoundError("switch", dpid)
	}
	st.mu.RLock()
	flows := make([]FlowRecord, 0, len(st.flows))
	for _, f := range st.flows {
		flows = append(flows, f)
	}
	st.mu.RUnlock()
	sort.Slice(flows, func(i, j int) bool { return flows[i].FlowID < flows[j].FlowID })
	return flows, nil
}

// PacketCountPerFlow lists the packet view of every flow on a switch.
func (a *Aggregator) PacketCountPerFlow(dpid string) ([]PacketCounter, error) {
	flows, err := a.switchFlows(dpid)
	if err != nil {
		return nil, err
	}
	out := make([]PacketCounter, len(flows))
	for i, f := range flows {
		out[i] = PacketCounterOf(f)
	}
	return out, nil
}

// BytesCountPerFlow lists the byte view of every flow on a switch.
func (a *Aggregator) BytesCountPerFlow(dpid string) ([]BytesCounter, error) {
	flows, err := a.switchFlows(dpid)
	if err != nil {
		return nil, err
	}
	out := make([]BytesCounter, len(flows))
	for i, f := range flows {
		out[i] = BytesCounterOf(f)
	}
	return out, nil
}
