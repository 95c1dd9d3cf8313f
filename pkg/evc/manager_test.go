package evc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/newtron-network/eline/pkg/audit"
	"github.com/newtron-network/eline/pkg/util"
)

func TestManager_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	e := env.create(t, dynamicBody(100))
	if len(e.CircuitID) != 32 {
		t.Errorf("circuit id %q, want 32 chars", e.CircuitID)
	}

	got, err := env.m.Get(ctx, e.CircuitID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UNIA.InterfaceID != s1+":1" || got.UNIZ.InterfaceID != s2+":1" {
		t.Errorf("UNIs = %s, %s", got.UNIA.InterfaceID, got.UNIZ.InterfaceID)
	}
	if !got.Active {
		t.Error("dynamic circuit on a healthy topology should be active")
	}
	if len(got.CurrentPath) != 1 || got.CurrentPath[0].ID != "s1-s2" {
		t.Errorf("current_path = %+v, want the direct s1-s2 link", got.CurrentPath)
	}
	if !got.CreationTime.Equal(testNow) || !got.RequestTime.Equal(testNow) {
		t.Errorf("timestamps = %v, %v", got.CreationTime, got.RequestTime)
	}

	stored, err := env.store.Load(ctx, e.CircuitID)
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if stored.Name != "Vlan_100" {
		t.Errorf("stored name = %q", stored.Name)
	}
}

func TestManager_CreateDefaultsDisabled(t *testing.T) {
	env := newTestEnv(t)
	body := fmt.Sprintf(`{"name": "idle", "dynamic_backup_path": true,
		"uni_a": {"interface_id": "%s:1"}, "uni_z": {"interface_id": "%s:1"}}`, s1, s2)

	e := env.create(t, body)
	if e.Enabled || e.Active || len(e.CurrentPath) != 0 {
		t.Errorf("circuit without enabled = %+v, want disabled and inactive", e)
	}
}

func TestManager_CreateSameSwitch(t *testing.T) {
	env := newTestEnv(t)
	body := fmt.Sprintf(`{"name": "local", "enabled": true, "dynamic_backup_path": true,
		"uni_a": {"interface_id": "%[1]s:1"}, "uni_z": {"interface_id": "%[1]s:2"}}`, s1)

	e := env.create(t, body)
	if !e.Active || len(e.CurrentPath) != 0 {
		t.Errorf("same-switch circuit active=%v path=%v, want active with no links", e.Active, e.CurrentPath)
	}
}

func TestManager_CreateErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.create(t, dynamicBody(100))

	tests := []struct {
		name string
		body string
		want error
	}{
		{"duplicate", dynamicBody(100), util.ErrConflict},
		{"duplicate reversed", fmt.Sprintf(`{"name": "rev", "dynamic_backup_path": true,
			"uni_a": {"interface_id": "%s:1", "tag": {"tag_type": "vlan", "value": 100}},
			"uni_z": {"interface_id": "%s:1", "tag": {"tag_type": "vlan", "value": 100}}}`, s2, s1), util.ErrConflict},
		{"unknown port", fmt.Sprintf(`{"name": "x", "dynamic_backup_path": true,
			"uni_a": {"interface_id": "%s:9999"}, "uni_z": {"interface_id": "%s:1"}}`, s1, s2), util.ErrValidationFailed},
		{"unknown switch", fmt.Sprintf(`{"name": "x", "dynamic_backup_path": true,
			"uni_a": {"interface_id": "00:00:00:00:00:00:00:09:1"}, "uni_z": {"interface_id": "%s:1"}}`, s2), util.ErrValidationFailed},
		{"dynamic and backup_path", fmt.Sprintf(`{"name": "x", "dynamic_backup_path": true,
			"uni_a": {"interface_id": "%[1]s:1"}, "uni_z": {"interface_id": "%[2]s:1"},
			"backup_path": [{"endpoint_a": {"id": "%[1]s:3"}, "endpoint_b": {"id": "%[2]s:2"}}]}`, s1, s2), util.ErrValidationFailed},
		{"static with empty primary", fmt.Sprintf(`{"name": "x", "dynamic_backup_path": false,
			"uni_a": {"interface_id": "%s:1"}, "uni_z": {"interface_id": "%s:1"}, "primary_path": []}`, s1, s2), util.ErrValidationFailed},
		{"unset dynamic without primary", fmt.Sprintf(`{"name": "x",
			"uni_a": {"interface_id": "%s:1"}, "uni_z": {"interface_id": "%s:1"}}`, s1, s2), util.ErrValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.m.Create(ctx, []byte(tt.body), Actor{})
			if !errors.Is(err, tt.want) {
				t.Errorf("Create error = %v, want %v", err, tt.want)
			}
		})
	}

	if total, _, _ := env.m.Counts(); total != 1 {
		t.Errorf("circuits after rejected creates = %d, want 1", total)
	}
}

func TestManager_CreateDifferentTagAllowed(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, dynamicBody(100))
	env.create(t, dynamicBody(101))
	if total, enabled, active := env.m.Counts(); total != 2 || enabled != 2 || active != 2 {
		t.Errorf("Counts() = %d/%d/%d, want 2/2/2", total, enabled, active)
	}
}

func TestManager_GetUnknown(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.m.Get(context.Background(), "nope"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Get error = %v, want not found", err)
	}
}

func TestManager_PatchRejectionsLeaveCircuitUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.create(t, staticBody())

	tests := []struct {
		name string
		id   string
		body string
		want error
	}{
		{"unknown circuit", e.CircuitID + "A", `{"name": "x"}`, util.ErrNotFound},
		{"creation_time", e.CircuitID, `{"creation_time": "2024-01-01T00:00:00+0000"}`, util.ErrValidationFailed},
		{"request_time", e.CircuitID, `{"request_time": "2024-01-01T00:00:00+0000"}`, util.ErrValidationFailed},
		{"active", e.CircuitID, `{"active": false}`, util.ErrValidationFailed},
		{"current_path", e.CircuitID, fmt.Sprintf(`{"current_path": [{"endpoint_a": {"id": "%s:3"}, "endpoint_b": {"id": "%s:2"}}]}`, s1, s2), util.ErrValidationFailed},
		{"empty uni_a", e.CircuitID, `{"uni_a": {}}`, util.ErrValidationFailed},
		{"uni_z unknown port", e.CircuitID, fmt.Sprintf(`{"uni_z": {"interface_id": "%s:9999"}}`, s2), util.ErrValidationFailed},
		{"tag_type_one", e.CircuitID, fmt.Sprintf(`{"uni_a": {"interface_id": "%s:1", "tag": {"tag_type_one": "vlan", "value": 1}}}`, s1), util.ErrValidationFailed},
		{"inconsistent primary_path", e.CircuitID, fmt.Sprintf(`{"primary_path": [{"endpoint_a": {"id": "%s:1"}, "endpoint_b": {"id": "%s:1"}}]}`, s1, s2), util.ErrValidationFailed},
		{"unrelated primary_path", e.CircuitID, fmt.Sprintf(`{"primary_path": [{"endpoint_a": {"id": "%s:2"}, "endpoint_b": {"id": "%s:3"}}]}`, s3, s2), util.ErrValidationFailed},
		{"empty primary_path", e.CircuitID, `{"primary_path": []}`, util.ErrValidationFailed},
		{"unrelated backup_path", e.CircuitID, fmt.Sprintf(`{"backup_path": [{"endpoint_a": {"id": "%s:4"}, "endpoint_b": {"id": "%s:3"}}]}`, s1, s3), util.ErrValidationFailed},
		{"dynamic with existing backup", e.CircuitID, `{"dynamic_backup_path": true}`, util.ErrValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := env.m.Get(ctx, e.CircuitID)
			_, err := env.m.Patch(ctx, tt.id, []byte(tt.body), Actor{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Patch error = %v, want %v", err, tt.want)
			}
			after, _ := env.m.Get(ctx, e.CircuitID)
			if after != before {
				t.Error("rejected patch replaced the committed circuit")
			}
			if !after.Active || after.CurrentPath[0].ID != "s1-s2" {
				t.Errorf("after rejection active=%v path=%v", after.Active, after.CurrentPath)
			}
		})
	}
}

func TestManager_PatchApplies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.create(t, staticBody())

	t.Run("rename keeps path", func(t *testing.T) {
		got, err := env.m.Patch(ctx, e.CircuitID, []byte(`{"name": "renamed"}`), Actor{})
		if err != nil {
			t.Fatalf("Patch: %v", err)
		}
		if got.Name != "renamed" || !got.Active {
			t.Errorf("patched = %+v", got)
		}
		if got.CreationTime != e.CreationTime {
			t.Error("creation_time changed")
		}
	})

	t.Run("new primary path is installed", func(t *testing.T) {
		body := fmt.Sprintf(`{"primary_path": [
			{"endpoint_a": {"id": "%[1]s:4"}, "endpoint_b": {"id": "%[3]s:3"}},
			{"endpoint_a": {"id": "%[3]s:2"}, "endpoint_b": {"id": "%[2]s:3"}}]}`, s1, s2, s3)
		got, err := env.m.Patch(ctx, e.CircuitID, []byte(body), Actor{})
		if err != nil {
			t.Fatalf("Patch: %v", err)
		}
		if len(got.CurrentPath) != 2 || got.CurrentPath[0].ID != "s1-s3" || got.CurrentPath[1].ID != "s3-s2" {
			t.Errorf("current_path = %+v, want via s3", got.CurrentPath)
		}
	})

	t.Run("disable removes path", func(t *testing.T) {
		got, err := env.m.Patch(ctx, e.CircuitID, []byte(`{"enabled": false}`), Actor{})
		if err != nil {
			t.Fatalf("Patch: %v", err)
		}
		if got.Active || len(got.CurrentPath) != 0 {
			t.Errorf("disabled circuit active=%v path=%v", got.Active, got.CurrentPath)
		}
		if _, err := env.m.Redeploy(ctx, e.CircuitID, Actor{}); !errors.Is(err, util.ErrConflict) {
			t.Errorf("Redeploy on disabled = %v, want conflict", err)
		}
	})
}

func TestManager_PatchUNIConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.create(t, dynamicBody(100))
	second := env.create(t, dynamicBody(200))

	body := fmt.Sprintf(`{"uni_a": {"interface_id": "%s:1", "tag": {"tag_type": "vlan", "value": 100}},
		"uni_z": {"interface_id": "%s:1", "tag": {"tag_type": "vlan", "value": 100}}}`, s1, s2)
	if _, err := env.m.Patch(ctx, second.CircuitID, []byte(body), Actor{}); !errors.Is(err, util.ErrConflict) {
		t.Fatalf("Patch onto used UNI pair = %v, want conflict", err)
	}

	// Moving the second circuit frees vlan 200 for a new one.
	moved := fmt.Sprintf(`{"uni_a": {"interface_id": "%s:1", "tag": {"tag_type": "vlan", "value": 300}}}`, s1)
	if _, err := env.m.Patch(ctx, second.CircuitID, []byte(moved), Actor{}); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	env.create(t, dynamicBody(200))

	if _, err := env.m.Get(ctx, first.CircuitID); err != nil {
		t.Errorf("Get first: %v", err)
	}
}

func TestManager_DeleteArchives(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.create(t, dynamicBody(100))

	if err := env.m.Delete(ctx, e.CircuitID, Actor{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := env.m.Get(ctx, e.CircuitID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if !got.Archived || got.Enabled || got.Active || len(got.CurrentPath) != 0 {
		t.Errorf("archived circuit = %+v", got)
	}

	if err := env.m.Delete(ctx, e.CircuitID, Actor{}); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if err := env.m.Delete(ctx, "missing", Actor{}); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Delete unknown = %v, want not found", err)
	}
	if _, err := env.m.Patch(ctx, e.CircuitID, []byte(`{"name": "x"}`), Actor{}); !errors.Is(err, util.ErrConflict) {
		t.Errorf("Patch archived = %v, want conflict", err)
	}

	if n := len(env.m.List(ctx, false)); n != 0 {
		t.Errorf("List() = %d circuits, want 0", n)
	}
	if n := len(env.m.List(ctx, true)); n != 1 {
		t.Errorf("List(archived) = %d circuits, want 1", n)
	}

	// The UNI pair is free again.
	env.create(t, dynamicBody(100))
}

func TestManager_ReconcileFailover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	static := env.create(t, staticBody())
	dynamic := env.create(t, dynamicBody(100))

	env.topo.set(triangle(t, "s1-s2"))
	if err := env.m.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	for _, id := range []string{static.CircuitID, dynamic.CircuitID} {
		got, _ := env.m.Get(ctx, id)
		if !got.Active || len(got.CurrentPath) != 2 || got.CurrentPath[0].ID != "s1-s3" {
			t.Errorf("%s after s1-s2 down: active=%v path=%v", got.Name, got.Active, endpointsOf(got.CurrentPath))
		}
	}

	env.topo.set(triangle(t, "s1-s2", "s1-s3"))
	env.m.Reconcile(ctx)
	got, _ := env.m.Get(ctx, static.CircuitID)
	if got.Active || len(got.CurrentPath) != 0 {
		t.Errorf("with no path: active=%v path=%v", got.Active, got.CurrentPath)
	}
	if _, _, active := env.m.Counts(); active != 0 {
		t.Errorf("active circuits = %d, want 0", active)
	}

	env.topo.set(triangle(t))
	env.m.Reconcile(ctx)
	got, _ = env.m.Get(ctx, static.CircuitID)
	if !got.Active || got.CurrentPath[0].ID != "s1-s2" {
		t.Errorf("after repair: active=%v path=%v, want primary", got.Active, endpointsOf(got.CurrentPath))
	}

	// A circuit still on its primary is left alone.
	before, _ := env.m.Get(ctx, static.CircuitID)
	env.m.Reconcile(ctx)
	after, _ := env.m.Get(ctx, static.CircuitID)
	if before != after {
		t.Error("Reconcile rewrote a healthy circuit")
	}
}

func TestManager_RunReconcilesLoadedCircuits(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := env.create(t, staticBody())
	if !e.Active || e.CurrentPath[0].ID != "s1-s2" {
		t.Fatalf("created on %v, want primary", endpointsOf(e.CurrentPath))
	}

	// The primary link goes down while the daemon is stopped.
	env.topo.set(triangle(t, "s1-s2"))
	restarted := NewManager(Options{
		Store:     env.store,
		Topology:  env.topo,
		Installer: &TopologyInstaller{Topology: env.topo},
	})
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// No tick fires within the test; only the startup pass can fail over.
	go restarted.Run(ctx, time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := restarted.Get(ctx, e.CircuitID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Active && len(got.CurrentPath) > 0 && got.CurrentPath[0].ID == "s1-s3" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("after Run: active=%v path=%v, want failover to s1-s3", got.Active, endpointsOf(got.CurrentPath))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_Load(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.create(t, dynamicBody(100))

	restarted := NewManager(Options{
		Store:     env.store,
		Topology:  env.topo,
		Installer: &TopologyInstaller{Topology: env.topo},
	})
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := restarted.Get(ctx, e.CircuitID)
	if err != nil {
		t.Fatalf("Get after Load: %v", err)
	}
	if got.Name != e.Name || got.CreationTime != e.CreationTime {
		t.Errorf("loaded = %+v", got)
	}
	if _, err := restarted.Create(ctx, []byte(dynamicBody(100)), Actor{}); !errors.Is(err, util.ErrConflict) {
		t.Errorf("Create after Load = %v, want conflict from rebuilt index", err)
	}
}

func TestManager_ConcurrentCreateSamePair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.m.Create(ctx, []byte(dynamicBody(100)), Actor{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, util.ErrConflict):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d creates succeeded, want exactly 1", ok)
	}
}

func TestManager_ConcurrentPatchAndRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.create(t, staticBody())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"name": "n%d", "priority": %d}`, i, i)
			if _, err := env.m.Patch(ctx, e.CircuitID, []byte(body), Actor{}); err != nil {
				t.Errorf("Patch: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			got, err := env.m.Get(ctx, e.CircuitID)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			// name and priority are always written together.
			if got.Name != "my evc1" && got.Name != fmt.Sprintf("n%d", got.Priority) {
				t.Errorf("torn read: name=%q priority=%d", got.Name, got.Priority)
			}
		}()
	}
	wg.Wait()
}

func TestManager_Audit(t *testing.T) {
	logger, err := audit.NewFileLogger(filepath.Join(t.TempDir(), "audit.log"), audit.RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer logger.Close()
	audit.SetDefaultLogger(logger)
	defer audit.SetDefaultLogger(nil)

	env := newTestEnv(t)
	ctx := context.Background()
	actor := Actor{User: "noc", ClientIP: "192.0.2.1"}
	e, err := env.m.Create(ctx, []byte(dynamicBody(100)), actor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.m.Patch(ctx, e.CircuitID, []byte(`{"name": "renamed"}`), actor)
	env.m.Patch(ctx, e.CircuitID, []byte(`{"active": false}`), actor)

	events, err := logger.Query(audit.Filter{CircuitID: e.CircuitID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Operation != audit.OpCreate || events[0].User != "noc" || events[0].ClientIP != "192.0.2.1" {
		t.Errorf("create event = %+v", events[0])
	}
	rename := events[1]
	if !rename.Success || len(rename.Changes) != 1 || rename.Changes[0].Field != "name" {
		t.Errorf("rename event = %+v", rename)
	}
	if events[2].Success || events[2].Error == "" {
		t.Errorf("rejected patch event = %+v", events[2])
	}
}
