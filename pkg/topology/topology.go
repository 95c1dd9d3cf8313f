// Package topology is a read-only view of switches, ports and the links
// between them, as published by the topology service.
package topology

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/scylladb/go-set/strset"

	"github.com/newtron-network/eline/pkg/util"
)

// Provider yields the current topology. Each call returns a snapshot that
// the caller may read without further locking.
type Provider interface {
	Graph(ctx context.Context) (*Graph, error)
}

// Switch is a datapath and its ports
type Switch struct {
	DPID    string
	Name    string
	Enabled bool
	Ports   map[int]*Port
}

// Port is a switch port
type Port struct {
	Number int
	Name   string
	Active bool
}

// Link joins two interfaces. A and Z carry no direction.
type Link struct {
	ID     string
	A      string
	Z      string
	Active bool
}

// Graph is an immutable snapshot once built.
type Graph struct {
	Switches map[string]*Switch
	Links    map[string]*Link

	// interface id -> links touching it
	byIface map[string][]*Link
}

// ParseInterfaceID splits "<dpid>:<port>" at the last colon.
func ParseInterfaceID(id string) (string, int, error) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, fmt.Errorf("invalid interface id %q: expected <dpid>:<port>", id)
	}
	port, err := strconv.Atoi(id[idx+1:])
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("invalid interface id %q: port must be a positive integer", id)
	}
	return id[:idx], port, nil
}

// InterfaceID formats a switch port as "<dpid>:<port>".
func InterfaceID(dpid string, port int) string {
	return dpid + ":" + strconv.Itoa(port)
}

// LinkID derives a stable id from the unordered endpoint pair.
func LinkID(a, z string) string {
	if z < a {
		a, z = z, a
	}
	sum := sha256.Sum256([]byte(a + z))
	return hex.EncodeToString(sum[:])
}

// NewGraph returns an empty graph
func NewGraph() *Graph {
	return &Graph{
		Switches: make(map[string]*Switch),
		Links:    make(map[string]*Link),
		byIface:  make(map[string][]*Link),
	}
}

// AddSwitch adds or replaces a switch, keeping any ports already added.
func (g *Graph) AddSwitch(dpid, name string, enabled bool) *Switch {
	sw, ok := g.Switches[dpid]
	if !ok {
		sw = &Switch{DPID: dpid, Ports: make(map[int]*Port)}
		g.Switches[dpid] = sw
	}
	sw.Name = name
	sw.Enabled = enabled
	return sw
}

// AddPort adds a port to a known switch.
func (g *Graph) AddPort(dpid string, number int, name string, active bool) error {
	sw, ok := g.Switches[dpid]
	if !ok {
		return fmt.Errorf("port %d: unknown switch %s", number, dpid)
	}
	if number <= 0 {
		return fmt.Errorf("switch %s: invalid port number %d", dpid, number)
	}
	sw.Ports[number] = &Port{Number: number, Name: name, Active: active}
	return nil
}

// AddLink adds a link between two existing interfaces. An empty id is
// replaced by LinkID(a, z).
func (g *Graph) AddLink(id, a, z string, active bool) (*Link, error) {
	for _, ep := range []string{a, z} {
		if _, _, err := g.Interface(ep); err != nil {
			return nil, fmt.Errorf("link %s-%s: %w", a, z, err)
		}
	}
	if a == z {
		return nil, fmt.Errorf("link %s: endpoints are identical", a)
	}
	if id == "" {
		id = LinkID(a, z)
	}
	l := &Link{ID: id, A: a, Z: z, Active: active}
	g.Links[id] = l
	g.byIface[a] = append(g.byIface[a], l)
	g.byIface[z] = append(g.byIface[z], l)
	return l, nil
}

// HasSwitch reports whether dpid is known
func (g *Graph) HasSwitch(dpid string) bool {
	_, ok := g.Switches[dpid]
	return ok
}

// Interface resolves an interface id. The error says whether the switch
// or the port is missing.
func (g *Graph) Interface(id string) (*Switch, *Port, error) {
	dpid, num, err := ParseInterfaceID(id)
	if err != nil {
		return nil, nil, err
	}
	sw, ok := g.Switches[dpid]
	if !ok {
		return nil, nil, util.NewNotFoundError("switch", dpid)
	}
	port, ok := sw.Ports[num]
	if !ok {
		return nil, nil, util.NewNotFoundError("interface", id)
	}
	return sw, port, nil
}

// LinkBetween finds the link joining a and b in either orientation.
func (g *Graph) LinkBetween(a, b string) (*Link, bool) {
	for _, l := range g.byIface[a] {
		if (l.A == a && l.Z == b) || (l.A == b && l.Z == a) {
			return l, true
		}
	}
	return nil, false
}

// Usable reports whether traffic can cross l: the link is up, both ports are
// active and both switches are enabled.
func (g *Graph) Usable(l *Link) bool {
	if !l.Active {
		return false
	}
	for _, ep := range []string{l.A, l.Z} {
		sw, port, err := g.Interface(ep)
		if err != nil || !sw.Enabled || !port.Active {
			return false
		}
	}
	return true
}

// Hop is a link traversed in a direction: From is on the switch nearer the
// source.
type Hop struct {
	Link *Link
	From string
	To   string
}

// ShortestPath runs a breadth-first search over usable links from switch
// src to switch dst, skipping links whose ids are in exclude. Neighbors are
// visited in link id order so equal-length paths resolve the same way every
// time. An empty path with ok=true means src == dst.
func (g *Graph) ShortestPath(src, dst string, exclude *strset.Set) ([]Hop, bool) {
	if !g.HasSwitch(src) || !g.HasSwitch(dst) {
		return nil, false
	}
	if src == dst {
		return []Hop{}, true
	}

	prev := map[string]Hop{}
	visited := strset.New(src)
	queue := []string{src}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, hop := range g.hopsFrom(cur) {
			if exclude != nil && exclude.Has(hop.Link.ID) {
				continue
			}
			next := switchOf(hop.To)
			if visited.Has(next) {
				continue
			}
			visited.Add(next)
			prev[next] = hop
			if next == dst {
				return unwind(prev, src, dst), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

// hopsFrom lists usable links leaving a switch, sorted by link id.
func (g *Graph) hopsFrom(dpid string) []Hop {
	sw := g.Switches[dpid]
	var hops []Hop
	for num := range sw.Ports {
		iface := InterfaceID(dpid, num)
		for _, l := range g.byIface[iface] {
			if !g.Usable(l) {
				continue
			}
			other := l.Z
			if l.Z == iface {
				other = l.A
			}
			hops = append(hops, Hop{Link: l, From: iface, To: other})
		}
	}
	sort.Slice(hops, func(i, j int) bool { return hops[i].Link.ID < hops[j].Link.ID })
	return hops
}

func unwind(prev map[string]Hop, src, dst string) []Hop {
	var path []Hop
	for cur := dst; cur != src; {
		hop := prev[cur]
		path = append(path, hop)
		cur = switchOf(hop.From)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func switchOf(iface string) string {
	dpid, _, _ := ParseInterfaceID(iface)
	return dpid
}
