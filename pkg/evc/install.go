package evc

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/newtron-network/eline/pkg/device"
	"github.com/newtron-network/eline/pkg/topology"
	"github.com/newtron-network/eline/pkg/util"
)

// Installer realizes a circuit's path in the data plane.
type Installer interface {
	// Install makes p the circuit's installed path, replacing any other.
	Install(ctx context.Context, e *EVC, p Path) error
	// Remove tears down whatever is installed for the circuit.
	Remove(ctx context.Context, e *EVC) error
}

// TopologyInstaller accepts a path when every link in it is usable in the
// current topology. It programs nothing.
type TopologyInstaller struct {
	Topology topology.Provider
}

// Install implements Installer
func (t *TopologyInstaller) Install(ctx context.Context, e *EVC, p Path) error {
	g, err := t.Topology.Graph(ctx)
	if err != nil {
		return fmt.Errorf("reading topology: %w", err)
	}
	return checkUsable(g, p)
}

// Remove implements Installer
func (t *TopologyInstaller) Remove(context.Context, *EVC) error {
	return nil
}

func checkUsable(g *topology.Graph, p Path) error {
	for i, l := range p {
		tl, ok := g.LinkBetween(l.EndpointA.ID, l.EndpointB.ID)
		if !ok {
			return fmt.Errorf("link %d (%s-%s) no longer exists", i, l.EndpointA.ID, l.EndpointB.ID)
		}
		if !g.Usable(tl) {
			return fmt.Errorf("link %d (%s) is down", i, tl.ID)
		}
	}
	return nil
}

// FlowWriter stores flow intents keyed by circuit cookie.
type FlowWriter interface {
	ReplaceFlows(ctx context.Context, cookie uint64, flows []device.FlowIntent) error
	DeleteFlows(ctx context.Context, cookie uint64) error
}

// FlowInstaller checks the path like TopologyInstaller, then writes the
// per-switch forwarding intents for the southbound agent.
type FlowInstaller struct {
	check    TopologyInstaller
	writer   FlowWriter
	priority int
}

// NewFlowInstaller creates a FlowInstaller. A circuit with a non-zero
// Priority overrides priority for its own flows.
func NewFlowInstaller(topo topology.Provider, writer FlowWriter, priority int) *FlowInstaller {
	return &FlowInstaller{
		check:    TopologyInstaller{Topology: topo},
		writer:   writer,
		priority: priority,
	}
}

// Install implements Installer
func (f *FlowInstaller) Install(ctx context.Context, e *EVC, p Path) error {
	if err := f.check.Install(ctx, e, p); err != nil {
		return err
	}
	priority := f.priority
	if e.Priority > 0 {
		priority = e.Priority
	}
	flows, err := FlowIntents(e, p, priority)
	if err != nil {
		return err
	}
	cookie := Cookie(e.CircuitID)
	if err := f.writer.ReplaceFlows(ctx, cookie, flows); err != nil {
		return fmt.Errorf("writing flows for %s: %w", e.CircuitID, err)
	}
	util.WithCircuit(e.CircuitID).Debugf("installed %d flows with cookie %s", len(flows), device.CookieKey(cookie))
	return nil
}

// Remove implements Installer
func (f *FlowInstaller) Remove(ctx context.Context, e *EVC) error {
	if err := f.writer.DeleteFlows(ctx, Cookie(e.CircuitID)); err != nil {
		return fmt.Errorf("removing flows for %s: %w", e.CircuitID, err)
	}
	return nil
}

// Cookie derives the flow cookie of a circuit: 0xaa in the high byte and
// the last 56 bits of the hex circuit id below it. Ids that are not hex
// use a digest instead.
func Cookie(circuitID string) uint64 {
	const low56 = (uint64(1) << 56) - 1
	if len(circuitID) >= 14 {
		if n, err := strconv.ParseUint(circuitID[len(circuitID)-14:], 16, 64); err == nil {
			return 0xaa<<56 | n&low56
		}
	}
	sum := sha256.Sum256([]byte(circuitID))
	return 0xaa<<56 | binary.BigEndian.Uint64(sum[:8])&low56
}

// hop is the circuit's passage through one switch: aPort faces uni_a,
// zPort faces uni_z.
type hop struct {
	dpid  string
	aPort int
	zPort int
}

// FlowIntents builds the two unidirectional flows per switch along p. The
// transport VLAN is uni_a's tag, else uni_z's, else untagged; the edge
// switches translate to and from each UNI's own tag.
func FlowIntents(e *EVC, p Path, priority int) ([]device.FlowIntent, error) {
	hops, err := hopsOf(e, p)
	if err != nil {
		return nil, err
	}
	tagA, tagZ := tagValue(e.UNIA), tagValue(e.UNIZ)
	transport := tagA
	if transport == 0 {
		transport = tagZ
	}

	last := len(hops) - 1
	flows := make([]device.FlowIntent, 0, 2*len(hops))
	for i, h := range hops {
		inA, outZ := transport, transport
		if i == 0 {
			inA = tagA
		}
		if i == last {
			outZ = tagZ
		}
		flows = append(flows,
			device.FlowIntent{DPID: h.dpid, InPort: h.aPort, InVLAN: inA, OutPort: h.zPort, OutVLAN: outZ, Priority: priority},
			device.FlowIntent{DPID: h.dpid, InPort: h.zPort, InVLAN: outZ, OutPort: h.aPort, OutVLAN: inA, Priority: priority},
		)
	}
	return flows, nil
}

func hopsOf(e *EVC, p Path) ([]hop, error) {
	srcSwitch, aPort, err := topology.ParseInterfaceID(e.UNIA.InterfaceID)
	if err != nil {
		return nil, err
	}
	dstSwitch, zPort, err := topology.ParseInterfaceID(e.UNIZ.InterfaceID)
	if err != nil {
		return nil, err
	}
	segs, end, err := walk(p, srcSwitch)
	if err != nil {
		return nil, err
	}
	if end != dstSwitch {
		return nil, fmt.Errorf("path ends at %s, expected %s", end, dstSwitch)
	}

	hops := make([]hop, 0, len(segs)+1)
	cur := hop{dpid: srcSwitch, aPort: aPort}
	for _, s := range segs {
		_, fromPort, _ := topology.ParseInterfaceID(s.from)
		toSwitch, toPort, _ := topology.ParseInterfaceID(s.to)
		cur.zPort = fromPort
		hops = append(hops, cur)
		cur = hop{dpid: toSwitch, aPort: toPort}
	}
	cur.zPort = zPort
	return append(hops, cur), nil
}

func tagValue(u UNI) int {
	if u.Tag == nil {
		return 0
	}
	return u.Tag.Value
}
