package evc

import (
	"context"
	"reflect"
	"sort"
	"time"

	"github.com/newtron-network/eline/pkg/topology"
	"github.com/newtron-network/eline/pkg/util"
)

// candidate is a path worth trying, labelled for logs.
type candidate struct {
	source string
	path   Path
}

// candidates lists usable paths in preference order: the explicit paths as
// given, then the shortest path between the UNI switches when the circuit
// allows dynamic paths.
func candidates(e *EVC, g *topology.Graph) []candidate {
	var out []candidate
	for _, c := range []candidate{
		{fieldPrimaryPath, e.PrimaryPath},
		{fieldPrimaryLinks, e.PrimaryLinks},
		{fieldBackupPath, e.BackupPath},
		{fieldBackupLinks, e.BackupLinks},
	} {
		if len(c.path) == 0 {
			continue
		}
		if p, ok := resolve(g, c.path); ok {
			out = append(out, candidate{c.source, p})
		}
	}
	if e.DynamicBackupPath {
		src, dst := switchOf(e.UNIA.InterfaceID), switchOf(e.UNIZ.InterfaceID)
		if hops, ok := g.ShortestPath(src, dst, nil); ok {
			out = append(out, candidate{"dynamic", pathOf(hops)})
		}
	}
	return out
}

// resolve copies p with link ids and status from g; ok is false if any
// link is missing or unusable.
func resolve(g *topology.Graph, p Path) (Path, bool) {
	out := p.Clone()
	for i := range out {
		tl, found := g.LinkBetween(out[i].EndpointA.ID, out[i].EndpointB.ID)
		if !found || !g.Usable(tl) {
			return nil, false
		}
		out[i].ID = tl.ID
		out[i].Active = true
	}
	return out, true
}

func pathOf(hops []topology.Hop) Path {
	p := make(Path, 0, len(hops))
	for _, h := range hops {
		p = append(p, Link{
			ID:        h.Link.ID,
			EndpointA: Endpoint{ID: h.From},
			EndpointB: Endpoint{ID: h.To},
			Active:    true,
		})
	}
	return p
}

// activate selects and installs a path for e, setting CurrentPath and
// Active. A disabled circuit has its path removed.
func (m *Manager) activate(ctx context.Context, e *EVC, g *topology.Graph) {
	log := util.WithCircuit(e.CircuitID)
	if e.Enabled && !e.Archived {
		for _, c := range candidates(e, g) {
			if err := m.installer.Install(ctx, e, c.path); err != nil {
				log.Warnf("installing %s failed: %v", c.source, err)
				continue
			}
			e.CurrentPath = c.path
			e.Active = true
			log.Debugf("using %s (%d links)", c.source, len(c.path))
			return
		}
		log.Warnf("no usable path")
	}
	m.teardown(ctx, e)
	e.CurrentPath = nil
	e.Active = false
}

func (m *Manager) teardown(ctx context.Context, e *EVC) {
	if err := m.installer.Remove(ctx, e); err != nil {
		util.WithCircuit(e.CircuitID).Warnf("removing installed path: %v", err)
	}
}

// restore puts the data plane back to what prev describes after a failed
// commit.
func (m *Manager) restore(ctx context.Context, prev *EVC) {
	if prev.Active {
		if err := m.installer.Install(ctx, prev, prev.CurrentPath); err == nil {
			return
		}
	}
	m.teardown(ctx, prev)
}

// Reconcile re-evaluates every enabled circuit against the current
// topology. Circuits whose installed path broke fail over to the next
// usable candidate; inactive circuits are retried.
func (m *Manager) Reconcile(ctx context.Context) error {
	g, err := m.topo.Graph(ctx)
	if err != nil {
		return err
	}

	var ids []string
	m.circuits.Range(func(id string, e *EVC) bool {
		if !e.Archived && e.Enabled {
			ids = append(ids, id)
		}
		return true
	})
	sort.Strings(ids)

	changed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.reconcileOne(ctx, id, g) {
			changed++
		}
	}
	if changed > 0 {
		util.Infof("reconcile: %d of %d circuits changed path", changed, len(ids))
		m.publish()
	}
	return nil
}

func (m *Manager) reconcileOne(ctx context.Context, id string, g *topology.Graph) bool {
	unlock := m.lock(id)
	defer unlock()

	cur, ok := m.circuits.Load(id)
	if !ok || cur.Archived || !cur.Enabled {
		return false
	}
	if cur.Active {
		if _, usable := resolve(g, cur.CurrentPath); usable {
			return false
		}
	}

	next := cur.Clone()
	m.activate(ctx, next, g)
	if next.Active == cur.Active && reflect.DeepEqual(endpointsOf(next.CurrentPath), endpointsOf(cur.CurrentPath)) {
		return false
	}
	next.UpdatedAt = NewTimestamp(m.now())
	if err := m.store.Save(ctx, next); err != nil {
		util.WithCircuit(id).Errorf("reconcile: saving: %v", err)
		m.restore(ctx, cur)
		return false
	}
	m.circuits.Store(id, next)
	util.WithCircuit(id).Infof("reconcile: active=%v path=%v", next.Active, endpointsOf(next.CurrentPath))
	return true
}

// Run reconciles immediately and then every interval until ctx is done.
// The first pass brings circuits restored by Load in line with the
// current topology.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	reconcile := func() {
		if err := m.Reconcile(ctx); err != nil && ctx.Err() == nil {
			util.Warnf("reconcile: %v", err)
		}
	}
	reconcile()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconcile()
		}
	}
}
