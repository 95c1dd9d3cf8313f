// Package evc manages point-to-point Ethernet virtual circuits between two
// UNIs: request decoding, validation against the topology, path selection,
// persistence and the per-circuit state machine.
package evc

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeFormat is the wire format of every circuit timestamp (UTC, no zone).
const TimeFormat = "2006-01-02T15:04:05"

// TagTypeVLAN is the only supported UNI tag type
const TagTypeVLAN = "vlan"

// Tag is a UNI service tag
type Tag struct {
	TagType string `json:"tag_type"`
	Value   int    `json:"value"`
}

// UNI is a circuit attachment point
type UNI struct {
	InterfaceID string `json:"interface_id"`
	Tag         *Tag   `json:"tag,omitempty"`
}

// tagKey renders the UNI side of the duplicate-detection key.
func (u UNI) tagKey() string {
	if u.Tag == nil {
		return u.InterfaceID + "/untagged"
	}
	return fmt.Sprintf("%s/%s:%d", u.InterfaceID, u.Tag.TagType, u.Tag.Value)
}

// Endpoint names one side of a link
type Endpoint struct {
	ID string `json:"id"`
}

// Link is one segment of a path. ID and Active are filled from the topology.
type Link struct {
	ID        string                 `json:"id,omitempty"`
	EndpointA Endpoint               `json:"endpoint_a"`
	EndpointB Endpoint               `json:"endpoint_b"`
	Active    bool                   `json:"active"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Path is an ordered sequence of links from the uni_a switch to the uni_z
// switch.
type Path []Link

// MarshalJSON renders a nil path as [] rather than null.
func (p Path) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Link(p))
}

// Clone deep-copies the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	for i, l := range p {
		out[i] = l
		out[i].Metadata = cloneMap(l.Metadata)
	}
	return out
}

// Timestamp is a UTC time serialized in TimeFormat.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Second)}
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(TimeFormat) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := time.ParseInLocation(TimeFormat, s, time.UTC)
	if err != nil {
		return fmt.Errorf("timestamp %q: expected %s", s, TimeFormat)
	}
	t.Time = parsed
	return nil
}

// EVC is a committed circuit. Values held by the Manager are never modified
// in place; mutations work on a Clone and swap the pointer.
type EVC struct {
	CircuitID         string                 `json:"circuit_id"`
	Name              string                 `json:"name"`
	Enabled           bool                   `json:"enabled"`
	Active            bool                   `json:"active"`
	Archived          bool                   `json:"archived"`
	UNIA              UNI                    `json:"uni_a"`
	UNIZ              UNI                    `json:"uni_z"`
	DynamicBackupPath bool                   `json:"dynamic_backup_path"`
	PrimaryPath       Path                   `json:"primary_path"`
	BackupPath        Path                   `json:"backup_path"`
	PrimaryLinks      Path                   `json:"primary_links"`
	BackupLinks       Path                   `json:"backup_links"`
	CurrentPath       Path                   `json:"current_path"`
	Priority          int                    `json:"priority"`
	QueueID           *int                   `json:"queue_id"`
	Metadata          map[string]interface{} `json:"metadata"`
	CreationTime      Timestamp              `json:"creation_time"`
	RequestTime       Timestamp              `json:"request_time"`
	UpdatedAt         Timestamp              `json:"updated_at"`
}

// Clone returns a deep copy
func (e *EVC) Clone() *EVC {
	c := *e
	c.UNIA = e.UNIA.clone()
	c.UNIZ = e.UNIZ.clone()
	c.PrimaryPath = e.PrimaryPath.Clone()
	c.BackupPath = e.BackupPath.Clone()
	c.PrimaryLinks = e.PrimaryLinks.Clone()
	c.BackupLinks = e.BackupLinks.Clone()
	c.CurrentPath = e.CurrentPath.Clone()
	c.Metadata = cloneMap(e.Metadata)
	if e.QueueID != nil {
		q := *e.QueueID
		c.QueueID = &q
	}
	return &c
}

// UNIKey identifies the circuit's endpoint pair independent of orientation.
func (e *EVC) UNIKey() string {
	a, z := e.UNIA.tagKey(), e.UNIZ.tagKey()
	if z < a {
		a, z = z, a
	}
	return a + "|" + z
}

func (u UNI) clone() UNI {
	if u.Tag != nil {
		t := *u.Tag
		u.Tag = &t
	}
	return u
}

// cloneMap copies metadata by round-tripping through JSON, which is the
// only way values enter it.
func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}
