//go:build integration

package evc_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/newtron-network/eline/internal/testutil"
	"github.com/newtron-network/eline/pkg/device"
	"github.com/newtron-network/eline/pkg/evc"
	"github.com/newtron-network/eline/pkg/topology"
)

const (
	dp1 = "00:00:00:00:00:00:00:01"
	dp2 = "00:00:00:00:00:00:00:02"
)

func TestRedisBackedManager(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.SetupTopologyDB(t)
	testutil.FlushDB(t, testutil.RedisAddr(), testutil.EVCDB)
	testutil.FlushDB(t, testutil.RedisAddr(), testutil.ApplDB)
	ctx := testutil.Context(t)

	topoDB := device.NewTopologyDB(testutil.RedisAddr(), "", testutil.TopologyDB)
	defer topoDB.Close()
	appl := device.NewApplDB(testutil.RedisAddr(), "", testutil.ApplDB)
	defer appl.Close()
	storeDB := device.NewClient(testutil.RedisAddr(), "", testutil.EVCDB, device.PipeSeparator)
	defer storeDB.Close()
	for _, c := range []*device.Client{topoDB.Client, appl.Client, storeDB} {
		if err := c.Connect(ctx, 5*time.Second); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}

	topo := topology.NewRedisProvider(topoDB)
	newManager := func() *evc.Manager {
		m := evc.NewManager(evc.Options{
			Store:     evc.NewRedisStore(storeDB),
			Topology:  topo,
			Installer: evc.NewFlowInstaller(topo, appl, 20000),
		})
		if err := m.Load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}
		return m
	}

	m := newManager()
	body := fmt.Sprintf(`{
		"name": "Vlan_100", "enabled": true, "dynamic_backup_path": true,
		"uni_a": {"interface_id": "%s:1", "tag": {"tag_type": "vlan", "value": 100}},
		"uni_z": {"interface_id": "%s:1", "tag": {"tag_type": "vlan", "value": 100}}
	}`, dp1, dp2)
	e, err := m.Create(ctx, []byte(body), evc.Actor{User: "it"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !e.Active || len(e.CurrentPath) == 0 {
		t.Fatalf("circuit not active: %+v", e)
	}

	flows, err := appl.Flows(ctx, evc.Cookie(e.CircuitID))
	if err != nil {
		t.Fatalf("Flows: %v", err)
	}
	if len(flows) == 0 {
		t.Error("no flow intents written for an active circuit")
	}

	// A second manager over the same database sees the circuit and its UNI claim.
	m2 := newManager()
	got, err := m2.Get(ctx, e.CircuitID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.Name != "Vlan_100" || !got.CreationTime.Equal(e.CreationTime.Time) {
		t.Errorf("reloaded circuit = %+v", got)
	}
	if _, err := m2.Create(ctx, []byte(body), evc.Actor{User: "it"}); err == nil {
		t.Error("duplicate create after reload should conflict")
	}

	if err := m2.Delete(ctx, e.CircuitID, evc.Actor{User: "it"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	flows, err = appl.Flows(ctx, evc.Cookie(e.CircuitID))
	if err != nil {
		t.Fatalf("Flows: %v", err)
	}
	if len(flows) != 0 {
		t.Errorf("flows left after delete: %d", len(flows))
	}
}
