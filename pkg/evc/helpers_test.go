package evc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scylladb/go-set/strset"

	"github.com/newtron-network/eline/pkg/device"
	"github.com/newtron-network/eline/pkg/topology"
)

const (
	s1 = "00:00:00:00:00:00:00:01"
	s2 = "00:00:00:00:00:00:00:02"
	s3 = "00:00:00:00:00:00:00:03"
)

// triangle builds s1:3-s2:2, s1:4-s3:3, s3:2-s2:3 with host ports s1:1,
// s1:2, s2:1 and s3:1. Links named in down are inactive.
func triangle(t *testing.T, down ...string) *topology.Graph {
	t.Helper()
	g := topology.NewGraph()
	for _, sw := range []struct {
		dpid  string
		ports []int
	}{
		{s1, []int{1, 2, 3, 4}},
		{s2, []int{1, 2, 3}},
		{s3, []int{1, 2, 3}},
	} {
		g.AddSwitch(sw.dpid, "", true)
		for _, p := range sw.ports {
			if err := g.AddPort(sw.dpid, p, "", true); err != nil {
				t.Fatalf("AddPort: %v", err)
			}
		}
	}
	isDown := strset.New(down...)
	for _, l := range []struct{ id, a, z string }{
		{"s1-s2", s1 + ":3", s2 + ":2"},
		{"s1-s3", s1 + ":4", s3 + ":3"},
		{"s3-s2", s3 + ":2", s2 + ":3"},
	} {
		if _, err := g.AddLink(l.id, l.a, l.z, !isDown.Has(l.id)); err != nil {
			t.Fatalf("AddLink: %v", err)
		}
	}
	return g
}

// fakeTopology is a Provider whose graph can be swapped mid-test.
type fakeTopology struct {
	mu sync.Mutex
	g  *topology.Graph
}

func (f *fakeTopology) Graph(context.Context) (*topology.Graph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.g, nil
}

func (f *fakeTopology) set(g *topology.Graph) {
	f.mu.Lock()
	f.g = g
	f.mu.Unlock()
}

// fakeWriter records flow intents by cookie.
type fakeWriter struct {
	mu    sync.Mutex
	flows map[uint64][]device.FlowIntent
	err   error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{flows: make(map[uint64][]device.FlowIntent)}
}

func (w *fakeWriter) ReplaceFlows(_ context.Context, cookie uint64, flows []device.FlowIntent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.flows[cookie] = flows
	return nil
}

func (w *fakeWriter) DeleteFlows(_ context.Context, cookie uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.flows, cookie)
	return nil
}

func (w *fakeWriter) get(cookie uint64) []device.FlowIntent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flows[cookie]
}

var testNow = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

type testEnv struct {
	m     *Manager
	topo  *fakeTopology
	store *MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	topo := &fakeTopology{g: triangle(t)}
	store := NewMemoryStore()
	var seq atomic.Int64
	m := NewManager(Options{
		Store:     store,
		Topology:  topo,
		Installer: &TopologyInstaller{Topology: topo},
		Now:       func() time.Time { return testNow },
		NewID: func() string {
			return fmt.Sprintf("%032x", seq.Add(1))
		},
	})
	return &testEnv{m: m, topo: topo, store: store}
}

// dynamicBody is the standard tagged circuit between s1:1 and s2:1.
func dynamicBody(vlan int) string {
	return fmt.Sprintf(`{
		"name": "Vlan_%d",
		"enabled": true,
		"dynamic_backup_path": true,
		"uni_a": {"interface_id": "%s:1", "tag": {"tag_type": "vlan", "value": %d}},
		"uni_z": {"interface_id": "%s:1", "tag": {"tag_type": "vlan", "value": %d}}
	}`, vlan, s1, vlan, s2, vlan)
}

// staticBody is an untagged circuit with a direct primary path and a
// backup through s3.
func staticBody() string {
	return fmt.Sprintf(`{
		"name": "my evc1",
		"enabled": true,
		"uni_a": {"interface_id": "%[1]s:1"},
		"uni_z": {"interface_id": "%[2]s:1"},
		"primary_path": [
			{"endpoint_a": {"id": "%[1]s:3"}, "endpoint_b": {"id": "%[2]s:2"}}
		],
		"backup_path": [
			{"endpoint_a": {"id": "%[1]s:4"}, "endpoint_b": {"id": "%[3]s:3"}},
			{"endpoint_a": {"id": "%[3]s:2"}, "endpoint_b": {"id": "%[2]s:3"}}
		]
	}`, s1, s2, s3)
}

func (env *testEnv) create(t *testing.T, body string) *EVC {
	t.Helper()
	e, err := env.m.Create(context.Background(), []byte(body), Actor{User: "test"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return e
}
