package evc

import (
	"errors"
	"strings"
	"testing"

	"github.com/newtron-network/eline/pkg/util"
)

func TestDecodeCreate_Rejects(t *testing.T) {
	uni := `{"interface_id": "00:00:00:00:00:00:00:01:1"}`
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty object", `{}`, "empty"},
		{"empty body", ``, "empty"},
		{"not an object", `[1, 2]`, "JSON object"},
		{"malformed", `{"name": `, "malformed"},
		{"unknown key", `{"unknown_tag": "my evc1"}`, `unknown field "unknown_tag"`},
		{"read-only key", `{"name": "x", "uni_a": ` + uni + `, "uni_z": ` + uni + `, "active": true}`, "active is read-only"},
		{"missing unis", `{"name": "x"}`, "uni_a is required"},
		{"name not a string", `{"name": 5, "uni_a": ` + uni + `, "uni_z": ` + uni + `}`, "name must be a string"},
		{"enabled not a bool", `{"name": "x", "enabled": "yes", "uni_a": ` + uni + `, "uni_z": ` + uni + `}`, "enabled must be a boolean"},
		{"priority fractional", `{"name": "x", "priority": 1.5, "uni_a": ` + uni + `, "uni_z": ` + uni + `}`, "priority must be an integer"},
		{"empty uni", `{"name": "x", "uni_a": {}, "uni_z": ` + uni + `}`, "uni_a must not be empty"},
		{"uni unknown key", `{"name": "x", "uni_a": {"interface_id": "a:1", "port": 1}, "uni_z": ` + uni + `}`, `unknown field "port"`},
		{"tag unknown key", `{"name": "x", "uni_a": {"interface_id": "a:1", "tag": {"tag_type_one": "vlan", "value": 1}}, "uni_z": ` + uni + `}`, `unknown field "tag_type_one"`},
		{"tag missing value", `{"name": "x", "uni_a": {"interface_id": "a:1", "tag": {"tag_type": "vlan"}}, "uni_z": ` + uni + `}`, "requires tag_type and value"},
		{"tag value string", `{"name": "x", "uni_a": {"interface_id": "a:1", "tag": {"tag_type": "vlan", "value": "abc"}}, "uni_z": ` + uni + `}`, "value must be an integer"},
		{"tag type unknown", `{"name": "x", "uni_a": {"interface_id": "a:1", "tag": {"tag_type": "mpls", "value": 1}}, "uni_z": ` + uni + `}`, "unsupported tag type"},
		{"tag type numeric unknown", `{"name": "x", "uni_a": {"interface_id": "a:1", "tag": {"tag_type": 2, "value": 1}}, "uni_z": ` + uni + `}`, "unsupported tag type 2"},
		{"path not a list", `{"name": "x", "uni_a": ` + uni + `, "uni_z": ` + uni + `, "primary_path": {}}`, "must be a list"},
		{"link missing endpoint", `{"name": "x", "uni_a": ` + uni + `, "uni_z": ` + uni + `, "primary_links": [{"endpoint_a": {"id": "a:1"}}]}`, "primary_links[0].endpoint_b is required"},
		{"endpoint extra key", `{"name": "x", "uni_a": ` + uni + `, "uni_z": ` + uni + `, "backup_links": [{"endpoint_a": {"id": "a:1", "x": 1}, "endpoint_b": {"id": "b:1"}}]}`, `unknown field "x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCreate([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("error %v is not a validation error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDecodeCreate_Valid(t *testing.T) {
	body := `{
		"name": "epl",
		"enabled": true,
		"uni_a": {"interface_id": "00:00:00:00:00:00:00:01:1", "tag": {"tag_type": 1, "value": 100}},
		"uni_z": {"interface_id": "00:00:00:00:00:00:00:02:1", "tag": null},
		"primary_path": [
			{"id": "ignored", "active": false, "metadata": {"s_vlan": 5},
			 "endpoint_a": {"id": "00:00:00:00:00:00:00:01:3"},
			 "endpoint_b": {"id": "00:00:00:00:00:00:00:02:2"}}
		],
		"queue_id": 3,
		"metadata": {"owner": "noc"}
	}`
	req, err := DecodeCreate([]byte(body))
	if err != nil {
		t.Fatalf("DecodeCreate: %v", err)
	}
	if req.UNIA.Tag == nil || req.UNIA.Tag.TagType != TagTypeVLAN || req.UNIA.Tag.Value != 100 {
		t.Errorf("uni_a tag = %+v, want vlan/100", req.UNIA.Tag)
	}
	if req.UNIZ.Tag != nil {
		t.Errorf("uni_z tag = %+v, want nil", req.UNIZ.Tag)
	}
	if !req.Has(fieldPrimaryPath) || req.Has(fieldBackupPath) {
		t.Errorf("Fields() = %v", req.Fields())
	}

	var e EVC
	req.Apply(&e)
	if e.Name != "epl" || !e.Enabled || e.DynamicBackupPath {
		t.Errorf("applied = %+v", e)
	}
	if len(e.PrimaryPath) != 1 || e.PrimaryPath[0].EndpointB.ID != "00:00:00:00:00:00:00:02:2" {
		t.Errorf("primary_path = %+v", e.PrimaryPath)
	}
	if e.QueueID == nil || *e.QueueID != 3 {
		t.Errorf("queue_id = %v, want 3", e.QueueID)
	}
	if e.Metadata["owner"] != "noc" {
		t.Errorf("metadata = %v", e.Metadata)
	}
}

func TestDecodePatch(t *testing.T) {
	t.Run("read-only fields", func(t *testing.T) {
		for _, key := range []string{"creation_time", "request_time", "active", "current_path", "circuit_id", "archived"} {
			_, err := DecodePatch([]byte(`{"` + key + `": null}`))
			if err == nil || !strings.Contains(err.Error(), key+" is read-only") {
				t.Errorf("%s: err = %v", key, err)
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := DecodePatch([]byte(`{}`)); err == nil {
			t.Error("expected error for empty patch")
		}
	})

	t.Run("null clears queue_id", func(t *testing.T) {
		q := 7
		e := EVC{QueueID: &q, Name: "keep"}
		req, err := DecodePatch([]byte(`{"queue_id": null}`))
		if err != nil {
			t.Fatalf("DecodePatch: %v", err)
		}
		req.Apply(&e)
		if e.QueueID != nil {
			t.Errorf("queue_id = %v, want nil", *e.QueueID)
		}
		if e.Name != "keep" {
			t.Errorf("name = %q, absent fields must not change", e.Name)
		}
	})

	t.Run("null path empties it", func(t *testing.T) {
		e := EVC{PrimaryPath: Path{{EndpointA: Endpoint{ID: "a:1"}, EndpointB: Endpoint{ID: "b:1"}}}}
		req, err := DecodePatch([]byte(`{"primary_path": null}`))
		if err != nil {
			t.Fatalf("DecodePatch: %v", err)
		}
		req.Apply(&e)
		if len(e.PrimaryPath) != 0 {
			t.Errorf("primary_path = %v, want empty", e.PrimaryPath)
		}
	})

	t.Run("errors accumulate", func(t *testing.T) {
		_, err := DecodePatch([]byte(`{"name": 1, "enabled": "no"}`))
		var ve *util.ValidationError
		if !errors.As(err, &ve) || len(ve.Errors) != 2 {
			t.Errorf("err = %v, want two messages", err)
		}
	})
}
