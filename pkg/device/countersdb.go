package device

import (
	"context"
	"strconv"
	"strings"
)

// COUNTERS_DB tables published by the switch agents.
const (
	FlowStatsTable  = "FLOW_STATS"
	TableStatsTable = "TABLE_STATS"
)

// FlowCounterEntry is a FLOW_STATS|<dpid>|<flow_id> hash
type FlowCounterEntry struct {
	DPID        string
	FlowID      string
	TableID     int
	Priority    int
	Cookie      uint64
	Match       map[string]string
	PacketCount uint64
	ByteCount   uint64
	DurationSec uint64
}

// TableCounterEntry is a TABLE_STATS|<dpid>|<table_id> hash
type TableCounterEntry struct {
	DPID         string
	TableID      int
	ActiveCount  uint64
	LookupCount  uint64
	MatchedCount uint64
}

// CountersDB reads flow and table counters.
type CountersDB struct {
	*Client
}

// NewCountersDB creates a COUNTERS_DB reader
func NewCountersDB(addr, password string, db int) *CountersDB {
	return &CountersDB{Client: NewClient(addr, password, db, PipeSeparator)}
}

// FlowCounters reads every FLOW_STATS entry. Fields prefixed "match." form
// the match map, e.g. "match.in_port" -> "1".
func (c *CountersDB) FlowCounters(ctx context.Context) ([]FlowCounterEntry, error) {
	rows, err := c.GetTable(ctx, FlowStatsTable)
	if err != nil {
		return nil, err
	}
	out := make([]FlowCounterEntry, 0, len(rows))
	for key, vals := range rows {
		dpid, id, ok := splitLast(key)
		if !ok {
			continue
		}
		e := FlowCounterEntry{
			DPID:        dpid,
			FlowID:      id,
			TableID:     atoi(vals["table_id"]),
			Priority:    atoi(vals["priority"]),
			Cookie:      parseUint(vals["cookie"]),
			PacketCount: parseUint(vals["packet_count"]),
			ByteCount:   parseUint(vals["byte_count"]),
			DurationSec: parseUint(vals["duration_sec"]),
		}
		for k, v := range vals {
			if name, ok := strings.CutPrefix(k, "match."); ok {
				if e.Match == nil {
					e.Match = make(map[string]string)
				}
				e.Match[name] = v
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// TableCounters reads every TABLE_STATS entry.
func (c *CountersDB) TableCounters(ctx context.Context) ([]TableCounterEntry, error) {
	rows, err := c.GetTable(ctx, TableStatsTable)
	if err != nil {
		return nil, err
	}
	out := make([]TableCounterEntry, 0, len(rows))
	for key, vals := range rows {
		dpid, id, ok := splitLast(key)
		if !ok {
			continue
		}
		tableID, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		out = append(out, TableCounterEntry{
			DPID:         dpid,
			TableID:      tableID,
			ActiveCount:  parseUint(vals["active_count"]),
			LookupCount:  parseUint(vals["lookup_count"]),
			MatchedCount: parseUint(vals["matched_count"]),
		})
	}
	return out, nil
}

func splitLast(key string) (string, string, bool) {
	idx := strings.LastIndex(key, PipeSeparator)
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// parseUint accepts decimal or 0x-prefixed hex; garbage reads as 0.
func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0
	}
	return n
}
