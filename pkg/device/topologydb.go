package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// TOPOLOGY_DB tables written by the topology service.
const (
	SwitchTable = "SWITCH"
	PortTable   = "PORT"
	LinkTable   = "LINK"
)

// SwitchEntry is a SWITCH|<dpid> hash
type SwitchEntry struct {
	Name    string
	Enabled bool
}

// PortEntry is a PORT|<dpid>|<port> hash
type PortEntry struct {
	DPID   string
	Number int
	Name   string
	Active bool
}

// LinkEntry is a LINK|<id> hash
type LinkEntry struct {
	ID        string
	EndpointA string
	EndpointB string
	Active    bool
}

// TopologyState is a consistent read of all three tables.
type TopologyState struct {
	Switches map[string]SwitchEntry
	Ports    []PortEntry
	Links    []LinkEntry
}

// TopologyDB reads the topology published in Redis.
type TopologyDB struct {
	*Client
}

// NewTopologyDB creates a TOPOLOGY_DB reader
func NewTopologyDB(addr, password string, db int) *TopologyDB {
	return &TopologyDB{Client: NewClient(addr, password, db, PipeSeparator)}
}

// ReadAll loads switches, ports and links. Malformed entries are skipped.
func (t *TopologyDB) ReadAll(ctx context.Context) (*TopologyState, error) {
	state := &TopologyState{Switches: make(map[string]SwitchEntry)}

	switches, err := t.GetTable(ctx, SwitchTable)
	if err != nil {
		return nil, err
	}
	for dpid, vals := range switches {
		state.Switches[dpid] = SwitchEntry{
			Name:    vals["name"],
			Enabled: parseBool(vals["enabled"], true),
		}
	}

	ports, err := t.GetTable(ctx, PortTable)
	if err != nil {
		return nil, err
	}
	for key, vals := range ports {
		// dpids contain ':' but never '|'
		idx := strings.LastIndex(key, PipeSeparator)
		if idx <= 0 {
			continue
		}
		num, err := strconv.Atoi(key[idx+1:])
		if err != nil {
			continue
		}
		state.Ports = append(state.Ports, PortEntry{
			DPID:   key[:idx],
			Number: num,
			Name:   vals["name"],
			Active: parseBool(vals["active"], true),
		})
	}

	links, err := t.GetTable(ctx, LinkTable)
	if err != nil {
		return nil, err
	}
	for id, vals := range links {
		if vals["endpoint_a"] == "" || vals["endpoint_b"] == "" {
			continue
		}
		state.Links = append(state.Links, LinkEntry{
			ID:        id,
			EndpointA: vals["endpoint_a"],
			EndpointB: vals["endpoint_b"],
			Active:    parseBool(vals["active"], true),
		})
	}

	return state, nil
}

// WriteSwitch publishes a switch entry.
func (t *TopologyDB) WriteSwitch(ctx context.Context, dpid string, e SwitchEntry) error {
	return t.Set(ctx, SwitchTable, dpid, map[string]string{
		"name":    e.Name,
		"enabled": strconv.FormatBool(e.Enabled),
	})
}

// WritePort publishes a port entry.
func (t *TopologyDB) WritePort(ctx context.Context, e PortEntry) error {
	return t.Set(ctx, PortTable, fmt.Sprintf("%s|%d", e.DPID, e.Number), map[string]string{
		"name":   e.Name,
		"active": strconv.FormatBool(e.Active),
	})
}

// WriteLink publishes a link entry.
func (t *TopologyDB) WriteLink(ctx context.Context, e LinkEntry) error {
	return t.Set(ctx, LinkTable, e.ID, map[string]string{
		"endpoint_a": e.EndpointA,
		"endpoint_b": e.EndpointB,
		"active":     strconv.FormatBool(e.Active),
	})
}

// parseBool accepts the spellings found in SONiC-style tables.
func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "up", "yes", "enabled":
		return true
	case "false", "0", "down", "no", "disabled":
		return false
	default:
		return def
	}
}
