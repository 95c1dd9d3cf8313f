// Package stats aggregates per-switch flow and table counters from a
// polled source and serves derived rate views.
package stats

import "context"

// FlowRecord holds the counters of one flow entry.
type FlowRecord struct {
	FlowID      string            `json:"flow_id"`
	DPID        string            `json:"switch"`
	TableID     int               `json:"table_id"`
	Priority    int               `json:"priority"`
	Cookie      uint64            `json:"cookie"`
	Match       map[string]string `json:"match"`
	PacketCount uint64            `json:"packet_count"`
	ByteCount   uint64            `json:"byte_count"`
	DurationSec uint64            `json:"duration_sec"`
}

// TableRecord holds the counters of one flow table.
type TableRecord struct {
	TableID      int    `json:"table_id"`
	ActiveCount  uint64 `json:"active_count"`
	LookupCount  uint64 `json:"lookup_count"`
	MatchedCount uint64 `json:"matched_count"`
}

// SwitchStats is everything one poll returned for a switch.
type SwitchStats struct {
	Flows  map[string]FlowRecord
	Tables map[int]TableRecord
}

// Snapshot is one poll, keyed by dpid.
type Snapshot map[string]*SwitchStats

// Switch returns the entry for dpid, creating it if needed.
func (s Snapshot) Switch(dpid string) *SwitchStats {
	sw, ok := s[dpid]
	if !ok {
		sw = &SwitchStats{
			Flows:  make(map[string]FlowRecord),
			Tables: make(map[int]TableRecord),
		}
		s[dpid] = sw
	}
	return sw
}

// Source polls the data plane for counters.
type Source interface {
	Poll(ctx context.Context) (Snapshot, error)
}

// PacketCounter is the packet view of a flow.
type PacketCounter struct {
	FlowID          string  `json:"flow_id"`
	PacketCounter   uint64  `json:"packet_counter"`
	PacketPerSecond float64 `json:"packet_per_second"`
}

// BytesCounter is the byte view of a flow.
type BytesCounter struct {
	FlowID        string  `json:"flow_id"`
	BytesCounter  uint64  `json:"bytes_counter"`
	BitsPerSecond float64 `json:"bits_per_second"`
}

// PacketCounterOf derives the packet view; a zero duration gives a zero rate.
func PacketCounterOf(f FlowRecord) PacketCounter {
	pc := PacketCounter{FlowID: f.FlowID, PacketCounter: f.PacketCount}
	if f.DurationSec > 0 {
		pc.PacketPerSecond = float64(f.PacketCount) / float64(f.DurationSec)
	}
	return pc
}

// BytesCounterOf derives the byte view; a zero duration gives a zero rate.
func BytesCounterOf(f FlowRecord) BytesCounter {
	bc := BytesCounter{FlowID: f.FlowID, BytesCounter: f.ByteCount}
	if f.DurationSec > 0 {
		bc.BitsPerSecond = float64(8*f.ByteCount) / float64(f.DurationSec)
	}
	return bc
}
