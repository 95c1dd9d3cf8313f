//go:build integration

package stats_test

import (
	"testing"
	"time"

	"github.com/newtron-network/eline/internal/testutil"
	"github.com/newtron-network/eline/pkg/device"
	"github.com/newtron-network/eline/pkg/stats"
)

func TestRedisSourceAggregation(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.SetupCountersDB(t)
	ctx := testutil.Context(t)

	db := device.NewCountersDB(testutil.RedisAddr(), "", testutil.CountersDB)
	defer db.Close()
	if err := db.Connect(ctx, 5*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	agg := stats.NewAggregator(stats.NewRedisSource(db))
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	tables, err := agg.TableStats(nil, []string{"0"})
	if err != nil {
		t.Fatalf("TableStats: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("switches = %d, want 2", len(tables))
	}
	for dpid, recs := range tables {
		if len(recs) != 1 {
			t.Errorf("%s tables = %v, want only table 0", dpid, recs)
		}
	}

	pc, err := agg.PacketCount("f1a")
	if err != nil {
		t.Fatalf("PacketCount: %v", err)
	}
	if pc.PacketCounter != 1000 || pc.PacketPerSecond != 100 {
		t.Errorf("PacketCount = %+v", pc)
	}
	bc, err := agg.BytesCount("f1b")
	if err != nil {
		t.Fatalf("BytesCount: %v", err)
	}
	if bc.BitsPerSecond != 25600 {
		t.Errorf("BytesCount = %+v", bc)
	}
}
