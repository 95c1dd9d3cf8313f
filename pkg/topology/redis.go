package topology

import (
	"context"
	"fmt"

	"github.com/newtron-network/eline/pkg/device"
	"github.com/newtron-network/eline/pkg/util"
)

// RedisProvider reads the topology published in TOPOLOGY_DB on every call.
type RedisProvider struct {
	db *device.TopologyDB
}

// NewRedisProvider wraps a topology DB reader
func NewRedisProvider(db *device.TopologyDB) *RedisProvider {
	return &RedisProvider{db: db}
}

// Graph implements Provider. Entries that reference unknown switches or
// ports are logged and skipped.
func (p *RedisProvider) Graph(ctx context.Context) (*Graph, error) {
	state, err := p.db.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}
	return FromState(state), nil
}

// FromState builds a graph from raw table entries.
func FromState(state *device.TopologyState) *Graph {
	g := NewGraph()
	for dpid, sw := range state.Switches {
		g.AddSwitch(dpid, sw.Name, sw.Enabled)
	}
	for _, p := range state.Ports {
		if err := g.AddPort(p.DPID, p.Number, p.Name, p.Active); err != nil {
			util.WithSwitch(p.DPID).Debugf("skipping port: %v", err)
		}
	}
	for _, l := range state.Links {
		if _, err := g.AddLink(l.ID, l.EndpointA, l.EndpointB, l.Active); err != nil {
			util.WithField("link", l.ID).Debugf("skipping link: %v", err)
		}
	}
	return g
}
