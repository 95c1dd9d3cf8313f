//go:build integration

// Package testutil provides helpers for tests that need a live Redis.
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/eline/pkg/device"
)

// Logical databases used by the integration suites. They match the daemon
// defaults so a seeded Redis can be pointed at by `eline serve` unchanged.
const (
	ApplDB     = 0
	CountersDB = 2
	EVCDB      = 8
	TopologyDB = 9
)

// RedisAddr returns ELINE_TEST_REDIS_ADDR, or the address of the
// eline-test-redis container, or "" when neither is available.
func RedisAddr() string {
	if addr := os.Getenv("ELINE_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	out, err := exec.Command("docker", "inspect",
		"--format", "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}",
		"eline-test-redis").Output()
	if err != nil {
		return ""
	}
	if ip := strings.TrimSpace(string(out)); ip != "" {
		return ip + ":6379"
	}
	return ""
}

// SkipIfNoRedis skips the test unless the test Redis answers a ping.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()
	addr := RedisAddr()
	if addr == "" {
		t.Skip("test Redis not available: set ELINE_TEST_REDIS_ADDR or start eline-test-redis")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rc := redis.NewClient(&redis.Options{Addr: addr})
	defer rc.Close()
	if err := rc.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}
}

// Context returns a context that times out after 30s and is cancelled at cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// SeedPath returns the path of a seed file under testlab/seed.
func SeedPath(name string) string {
	dir := os.Getenv("ELINE_TESTLAB_DIR")
	if dir == "" {
		_, thisFile, _, _ := runtime.Caller(0)
		dir = filepath.Join(filepath.Dir(thisFile), "..", "..", "testlab")
	}
	return filepath.Join(dir, "seed", name)
}

// FlushDB empties one logical database.
func FlushDB(t *testing.T, addr string, db int) {
	t.Helper()
	rc := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer rc.Close()
	if err := rc.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing DB %d: %v", db, err)
	}
}

// Seed loads a seed file of the form {"TABLE": {"key": {"field": "value"}}}
// into db as "TABLE|key" hashes, in one pipeline.
func Seed(t *testing.T, addr string, db int, seedFile string) {
	t.Helper()
	data, err := os.ReadFile(seedFile)
	if err != nil {
		t.Fatalf("reading seed file %s: %v", seedFile, err)
	}
	var tables map[string]map[string]map[string]string
	if err := json.Unmarshal(data, &tables); err != nil {
		t.Fatalf("parsing seed file %s: %v", seedFile, err)
	}

	var changes []device.TableChange
	for table, entries := range tables {
		for key, fields := range entries {
			changes = append(changes, device.TableChange{Table: table, Key: key, Fields: fields})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Table != changes[j].Table {
			return changes[i].Table < changes[j].Table
		}
		return changes[i].Key < changes[j].Key
	})

	c := device.NewClient(addr, "", db, device.PipeSeparator)
	defer c.Close()
	if err := c.PipelineSet(context.Background(), changes); err != nil {
		t.Fatalf("seeding DB %d from %s: %v", db, seedFile, err)
	}
}

// SetupTopologyDB reseeds TOPOLOGY_DB with the s1-s2-s3 triangle.
func SetupTopologyDB(t *testing.T) {
	t.Helper()
	FlushDB(t, RedisAddr(), TopologyDB)
	Seed(t, RedisAddr(), TopologyDB, SeedPath("topologydb.json"))
}

// SetupCountersDB reseeds COUNTERS_DB with the flow and table counters fixture.
func SetupCountersDB(t *testing.T) {
	t.Helper()
	FlushDB(t, RedisAddr(), CountersDB)
	Seed(t, RedisAddr(), CountersDB, SeedPath("countersdb.json"))
}
