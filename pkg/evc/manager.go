package evc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/newtron-network/eline/pkg/audit"
	"github.com/newtron-network/eline/pkg/metrics"
	"github.com/newtron-network/eline/pkg/topology"
	"github.com/newtron-network/eline/pkg/util"
)

// Actor identifies who asked for an operation, for the audit trail.
type Actor struct {
	User     string
	ClientIP string
}

// Options configures a Manager. Store, Topology and Installer are required.
type Options struct {
	Store     Store
	Topology  topology.Provider
	Installer Installer
	VLANRange util.RangeSet

	// Now and NewID default to the wall clock and random 32-hex ids.
	Now   func() time.Time
	NewID func() string
}

// Manager owns the circuit lifecycle. Mutations of one circuit are
// serialized by a per-circuit mutex; circuits are independent of each
// other. Readers load immutable snapshots and never block on writers.
type Manager struct {
	store     Store
	topo      topology.Provider
	installer Installer
	vlans     util.RangeSet
	now       func() time.Time
	newID     func() string

	circuits *xsync.Map[string, *EVC]
	locks    *xsync.Map[string, *sync.Mutex]
	// UNI pair key -> circuit id, for every non-archived circuit
	unis *xsync.Map[string, string]
}

// NewManager creates a Manager. Call Load before serving requests.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:     opts.Store,
		topo:      opts.Topology,
		installer: opts.Installer,
		vlans:     opts.VLANRange,
		now:       opts.Now,
		newID:     opts.NewID,
		circuits:  xsync.NewMap[string, *EVC](),
		locks:     xsync.NewMap[string, *sync.Mutex](),
		unis:      xsync.NewMap[string, string](),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}
	return m
}

// Load reads every stored circuit and rebuilds the UNI index.
func (m *Manager) Load(ctx context.Context) error {
	stored, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading circuits: %w", err)
	}
	for _, e := range stored {
		m.circuits.Store(e.CircuitID, e)
		if e.Archived {
			continue
		}
		if other, loaded := m.unis.LoadOrStore(e.UNIKey(), e.CircuitID); loaded {
			util.WithCircuit(e.CircuitID).Warnf("UNI pair also used by circuit %s", other)
		}
	}
	util.Infof("loaded %d circuits", len(stored))
	m.publish()
	return nil
}

// lock acquires the circuit's mutex and returns its unlock.
func (m *Manager) lock(id string) func() {
	mu, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// ============================================================================
// Reads
// ============================================================================

// Get returns the committed circuit. The result must not be modified.
func (m *Manager) Get(_ context.Context, id string) (*EVC, error) {
	e, ok := m.circuits.Load(id)
	if !ok {
		return nil, util.NewNotFoundError("circuit", id)
	}
	return e, nil
}

// List returns circuits by id, omitting archived ones unless asked.
func (m *Manager) List(_ context.Context, includeArchived bool) map[string]*EVC {
	out := make(map[string]*EVC)
	m.circuits.Range(func(id string, e *EVC) bool {
		if includeArchived || !e.Archived {
			out[id] = e
		}
		return true
	})
	return out
}

// Counts tallies non-archived circuits.
func (m *Manager) Counts() (total, enabled, active int) {
	m.circuits.Range(func(_ string, e *EVC) bool {
		if e.Archived {
			return true
		}
		total++
		if e.Enabled {
			enabled++
		}
		if e.Active {
			active++
		}
		return true
	})
	return total, enabled, active
}

func (m *Manager) publish() {
	metrics.SetCircuits(m.Counts())
}

// ============================================================================
// Mutations
// ============================================================================

// Create validates a create body and commits a new circuit.
func (m *Manager) Create(ctx context.Context, body []byte, actor Actor) (e *EVC, err error) {
	start := m.now()
	defer func() {
		var id, name string
		var changes []Change
		if e != nil {
			id, name, changes = e.CircuitID, e.Name, Diff(nil, e)
		}
		m.record(audit.OpCreate, actor, id, name, changes, start, err)
	}()

	req, err := DecodeCreate(body)
	if err != nil {
		return nil, err
	}
	g, err := m.topo.Graph(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}

	now := NewTimestamp(m.now())
	next := &EVC{
		CircuitID:    m.newID(),
		Metadata:     map[string]interface{}{},
		CreationTime: now,
		RequestTime:  now,
		UpdatedAt:    now,
	}
	req.Apply(next)
	if err := Validate(next, g, m.vlans); err != nil {
		return nil, err
	}

	unlock := m.lock(next.CircuitID)
	defer unlock()

	key := next.UNIKey()
	if err := m.claim(key, next.CircuitID); err != nil {
		return nil, err
	}
	m.activate(ctx, next, g)
	if err := m.store.Save(ctx, next); err != nil {
		m.unis.Delete(key)
		m.teardown(ctx, next)
		return nil, err
	}
	m.circuits.Store(next.CircuitID, next)
	m.publish()

	util.WithCircuit(next.CircuitID).Infof("created circuit %q (active=%v)", next.Name, next.Active)
	return next, nil
}

// Patch applies a partial update. The merged circuit is validated as a
// whole before anything is committed; a rejected patch changes nothing.
func (m *Manager) Patch(ctx context.Context, id string, body []byte, actor Actor) (e *EVC, err error) {
	start := m.now()
	var name string
	var changes []Change
	defer func() {
		m.record(audit.OpPatch, actor, id, name, changes, start, err)
	}()

	unlock := m.lock(id)
	defer unlock()

	cur, ok := m.circuits.Load(id)
	if !ok {
		return nil, util.NewNotFoundError("circuit", id)
	}
	name = cur.Name
	if cur.Archived {
		return nil, util.NewConflictError("circuit "+id, "archived circuits cannot be changed")
	}

	req, err := DecodePatch(body)
	if err != nil {
		return nil, err
	}
	g, err := m.topo.Graph(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}

	next := cur.Clone()
	req.Apply(next)
	if err := Validate(next, g, m.vlans); err != nil {
		return nil, err
	}

	oldKey, newKey := cur.UNIKey(), next.UNIKey()
	if newKey != oldKey {
		if err := m.claim(newKey, id); err != nil {
			return nil, err
		}
	}

	rerouted := pathChanged(cur, next)
	if rerouted {
		m.activate(ctx, next, g)
	}
	next.UpdatedAt = NewTimestamp(m.now())

	if err := m.store.Save(ctx, next); err != nil {
		if newKey != oldKey {
			m.unis.Delete(newKey)
		}
		if rerouted {
			m.restore(ctx, cur)
		}
		return nil, err
	}
	if newKey != oldKey {
		m.unis.Delete(oldKey)
	}
	m.circuits.Store(id, next)
	m.publish()

	name = next.Name
	changes = Diff(cur, next)
	util.WithCircuit(id).Infof("patched %v (active=%v)", req.Fields(), next.Active)
	return next, nil
}

// Delete archives a circuit: its flows are removed, it is disabled and its
// UNI pair is released. Deleting an archived circuit is a no-op.
func (m *Manager) Delete(ctx context.Context, id string, actor Actor) (err error) {
	start := m.now()
	var name string
	var changes []Change
	defer func() {
		m.record(audit.OpDelete, actor, id, name, changes, start, err)
	}()

	unlock := m.lock(id)
	defer unlock()

	cur, ok := m.circuits.Load(id)
	if !ok {
		return util.NewNotFoundError("circuit", id)
	}
	name = cur.Name
	if cur.Archived {
		return nil
	}

	if err := m.installer.Remove(ctx, cur); err != nil {
		return err
	}
	next := cur.Clone()
	next.Enabled = false
	next.Active = false
	next.Archived = true
	next.CurrentPath = nil
	next.UpdatedAt = NewTimestamp(m.now())
	if err := m.store.Save(ctx, next); err != nil {
		m.restore(ctx, cur)
		return err
	}
	m.release(cur.UNIKey(), id)
	m.circuits.Store(id, next)
	m.publish()

	changes = Diff(cur, next)
	util.WithCircuit(id).Infof("archived circuit %q", name)
	return nil
}

// Redeploy re-runs path selection for an enabled circuit.
func (m *Manager) Redeploy(ctx context.Context, id string, actor Actor) (e *EVC, err error) {
	start := m.now()
	var name string
	var changes []Change
	defer func() {
		m.record(audit.OpRedeploy, actor, id, name, changes, start, err)
	}()

	unlock := m.lock(id)
	defer unlock()

	cur, ok := m.circuits.Load(id)
	if !ok {
		return nil, util.NewNotFoundError("circuit", id)
	}
	name = cur.Name
	if cur.Archived || !cur.Enabled {
		return nil, util.NewConflictError("circuit "+id, "only enabled circuits can be redeployed")
	}
	g, err := m.topo.Graph(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}

	next := cur.Clone()
	m.activate(ctx, next, g)
	next.UpdatedAt = NewTimestamp(m.now())
	if err := m.store.Save(ctx, next); err != nil {
		m.restore(ctx, cur)
		return nil, err
	}
	m.circuits.Store(id, next)
	m.publish()

	changes = Diff(cur, next)
	return next, nil
}

// claim reserves a UNI pair key for id.
func (m *Manager) claim(key, id string) error {
	owner, loaded := m.unis.LoadOrStore(key, id)
	if loaded && owner != id {
		return util.NewConflictError("uni pair", fmt.Sprintf("already used by circuit %s", owner))
	}
	return nil
}

// release frees key if id holds it. Only the holder deletes its key, and
// the holder's mutations are serialized, so Load then Delete is safe.
func (m *Manager) release(key, id string) {
	if owner, ok := m.unis.Load(key); ok && owner == id {
		m.unis.Delete(key)
	}
}

// record publishes the outcome of a mutation to metrics and the audit log.
func (m *Manager) record(op string, actor Actor, id, name string, changes []Change, start time.Time, err error) {
	metrics.EVCOperation(op, err)
	event := audit.NewEvent(actor.User, id, op).
		WithName(name).
		WithChanges(changes).
		WithClientIP(actor.ClientIP).
		WithResult(err).
		WithDuration(m.now().Sub(start))
	if aerr := audit.Log(event); aerr != nil {
		util.WithCircuit(id).Warnf("audit log: %v", aerr)
	}
}
