package stats

import (
	"context"
	"fmt"

	"github.com/newtron-network/eline/pkg/device"
)

// counterReader is the part of device.CountersDB a RedisSource needs.
type counterReader interface {
	FlowCounters(ctx context.Context) ([]device.FlowCounterEntry, error)
	TableCounters(ctx context.Context) ([]device.TableCounterEntry, error)
}

// RedisSource reads the counters switch agents publish to COUNTERS_DB.
type RedisSource struct {
	db counterReader
}

// NewRedisSource creates a RedisSource over a connected CountersDB.
func NewRedisSource(db *device.CountersDB) *RedisSource {
	return &RedisSource{db: db}
}

// Poll implements Source
func (r *RedisSource) Poll(ctx context.Context) (Snapshot, error) {
	flows, err := r.db.FlowCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", device.FlowStatsTable, err)
	}
	tables, err := r.db.TableCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", device.TableStatsTable, err)
	}

	snap := make(Snapshot)
	for _, f := range flows {
		match := f.Match
		if match == nil {
			match = map[string]string{}
		}
		snap.Switch(f.DPID).Flows[f.FlowID] = FlowRecord{
			FlowID:      f.FlowID,
			DPID:        f.DPID,
			TableID:     f.TableID,
			Priority:    f.Priority,
			Cookie:      f.Cookie,
			Match:       match,
			PacketCount: f.PacketCount,
			ByteCount:   f.ByteCount,
			DurationSec: f.DurationSec,
		}
	}
	for _, t := range tables {
		snap.Switch(t.DPID).Tables[t.TableID] = TableRecord{
			TableID:      t.TableID,
			ActiveCount:  t.ActiveCount,
			LookupCount:  t.LookupCount,
			MatchedCount: t.MatchedCount,
		}
	}
	return snap, nil
}
