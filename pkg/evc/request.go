package evc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/scylladb/go-set/strset"

	"github.com/newtron-network/eline/pkg/util"
)

// Request body keys
const (
	fieldName              = "name"
	fieldEnabled           = "enabled"
	fieldDynamicBackupPath = "dynamic_backup_path"
	fieldUNIA              = "uni_a"
	fieldUNIZ              = "uni_z"
	fieldPrimaryPath       = "primary_path"
	fieldBackupPath        = "backup_path"
	fieldPrimaryLinks      = "primary_links"
	fieldBackupLinks       = "backup_links"
	fieldPriority          = "priority"
	fieldQueueID           = "queue_id"
	fieldMetadata          = "metadata"
)

var (
	// mutableFields are the keys a client may send on create or patch.
	mutableFields = strset.New(
		fieldName, fieldEnabled, fieldDynamicBackupPath, fieldUNIA, fieldUNIZ,
		fieldPrimaryPath, fieldBackupPath, fieldPrimaryLinks, fieldBackupLinks,
		fieldPriority, fieldQueueID, fieldMetadata,
	)

	// serverFields are computed or assigned by the manager.
	serverFields = strset.New(
		"circuit_id", "creation_time", "request_time", "active",
		"current_path", "archived", "updated_at",
	)

	uniFields      = strset.New("interface_id", "tag")
	tagFields      = strset.New("tag_type", "value")
	linkFields     = strset.New("id", "endpoint_a", "endpoint_b", "active", "metadata")
	endpointFields = strset.New("id")
)

// Request is a decoded create or patch body. A nil field was not sent.
type Request struct {
	Name              *string
	Enabled           *bool
	DynamicBackupPath *bool
	UNIA              *UNI
	UNIZ              *UNI
	PrimaryPath       *Path
	BackupPath        *Path
	PrimaryLinks      *Path
	BackupLinks       *Path
	Priority          *int
	QueueID           *int
	Metadata          map[string]interface{}

	fields *strset.Set
}

// Has reports whether the body carried key.
func (r *Request) Has(key string) bool {
	return r.fields != nil && r.fields.Has(key)
}

// Fields lists the keys present in the body, sorted.
func (r *Request) Fields() []string {
	if r.fields == nil {
		return nil
	}
	keys := r.fields.List()
	sort.Strings(keys)
	return keys
}

// DecodeCreate decodes a create body. name, uni_a and uni_z are required.
func DecodeCreate(data []byte) (*Request, error) {
	req, err := decodeRequest(data)
	if err != nil {
		return nil, err
	}
	v := &util.ValidationBuilder{}
	v.Add(req.Name != nil, "name is required")
	v.Add(req.UNIA != nil, "uni_a is required")
	v.Add(req.UNIZ != nil, "uni_z is required")
	if err := v.Build(); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodePatch decodes a patch body; every key is optional but the body may
// not be empty.
func DecodePatch(data []byte) (*Request, error) {
	return decodeRequest(data)
}

func decodeRequest(data []byte) (*Request, error) {
	obj, err := decodeObject(data, "request body")
	if err != nil {
		return nil, err
	}
	if len(obj) == 0 {
		return nil, util.NewValidationError("request body is empty")
	}

	v := &util.ValidationBuilder{}
	for _, key := range sortedKeys(obj) {
		switch {
		case serverFields.Has(key):
			v.AddErrorf("%s is read-only", key)
		case !mutableFields.Has(key):
			v.AddErrorf("unknown field %q", key)
		}
	}
	if err := v.Build(); err != nil {
		return nil, err
	}

	req := &Request{fields: strset.New()}
	for _, key := range sortedKeys(obj) {
		raw := obj[key]
		req.fields.Add(key)
		var err error
		switch key {
		case fieldName:
			var s string
			if s, err = decodeString(raw, key); err == nil {
				req.Name = &s
			}
		case fieldEnabled:
			var b bool
			if b, err = decodeBool(raw, key); err == nil {
				req.Enabled = &b
			}
		case fieldDynamicBackupPath:
			var b bool
			if b, err = decodeBool(raw, key); err == nil {
				req.DynamicBackupPath = &b
			}
		case fieldUNIA:
			req.UNIA, err = decodeUNI(raw, key)
		case fieldUNIZ:
			req.UNIZ, err = decodeUNI(raw, key)
		case fieldPrimaryPath:
			req.PrimaryPath, err = decodePath(raw, key)
		case fieldBackupPath:
			req.BackupPath, err = decodePath(raw, key)
		case fieldPrimaryLinks:
			req.PrimaryLinks, err = decodePath(raw, key)
		case fieldBackupLinks:
			req.BackupLinks, err = decodePath(raw, key)
		case fieldPriority:
			var n int
			if n, err = decodeInt(raw, key); err == nil {
				req.Priority = &n
			}
		case fieldQueueID:
			if !isNull(raw) {
				var n int
				if n, err = decodeInt(raw, key); err == nil {
					req.QueueID = &n
				}
			}
		case fieldMetadata:
			req.Metadata, err = decodeMetadata(raw, key)
		}
		v.Merge(err)
	}
	if err := v.Build(); err != nil {
		return nil, err
	}
	return req, nil
}

// Apply copies every field present in the request onto e.
func (r *Request) Apply(e *EVC) {
	if r.Name != nil {
		e.Name = *r.Name
	}
	if r.Enabled != nil {
		e.Enabled = *r.Enabled
	}
	if r.DynamicBackupPath != nil {
		e.DynamicBackupPath = *r.DynamicBackupPath
	}
	if r.UNIA != nil {
		e.UNIA = r.UNIA.clone()
	}
	if r.UNIZ != nil {
		e.UNIZ = r.UNIZ.clone()
	}
	if r.PrimaryPath != nil {
		e.PrimaryPath = r.PrimaryPath.Clone()
	}
	if r.BackupPath != nil {
		e.BackupPath = r.BackupPath.Clone()
	}
	if r.PrimaryLinks != nil {
		e.PrimaryLinks = r.PrimaryLinks.Clone()
	}
	if r.BackupLinks != nil {
		e.BackupLinks = r.BackupLinks.Clone()
	}
	if r.Priority != nil {
		e.Priority = *r.Priority
	}
	if r.Has(fieldQueueID) {
		if r.QueueID == nil {
			e.QueueID = nil
		} else {
			q := *r.QueueID
			e.QueueID = &q
		}
	}
	if r.Has(fieldMetadata) {
		e.Metadata = cloneMap(r.Metadata)
	}
}

// ============================================================================
// Typed field decoders
// ============================================================================

func decodeObject(raw json.RawMessage, what string) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, util.NewValidationErrorf("%s is empty", what)
	}
	if raw[0] != '{' {
		return nil, util.NewValidationErrorf("%s must be a JSON object", what)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, util.NewValidationErrorf("%s: malformed JSON: %v", what, err)
	}
	return obj, nil
}

func checkKeys(obj map[string]json.RawMessage, allowed *strset.Set, what string) error {
	v := &util.ValidationBuilder{}
	for _, key := range sortedKeys(obj) {
		v.Add(allowed.Has(key), fmt.Sprintf("%s: unknown field %q", what, key))
	}
	return v.Build()
}

func decodeString(raw json.RawMessage, what string) (string, error) {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return "", util.NewValidationErrorf("%s must be a string", what)
	}
	return s, nil
}

func decodeBool(raw json.RawMessage, what string) (bool, error) {
	var b bool
	if isNull(raw) || json.Unmarshal(raw, &b) != nil {
		return false, util.NewValidationErrorf("%s must be a boolean", what)
	}
	return b, nil
}

// decodeInt accepts only JSON numbers with no fractional part that fit an int.
func decodeInt(raw json.RawMessage, what string) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, util.NewValidationErrorf("%s must be an integer", what)
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, util.NewValidationErrorf("%s must be an integer", what)
	}
	n, err := num.Int64()
	if err != nil || n > math.MaxInt32 || n < math.MinInt32 {
		return 0, util.NewValidationErrorf("%s must be an integer, got %s", what, num)
	}
	return int(n), nil
}

func decodeMetadata(raw json.RawMessage, what string) (map[string]interface{}, error) {
	if isNull(raw) {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, util.NewValidationErrorf("%s must be a JSON object", what)
	}
	return m, nil
}

func decodeUNI(raw json.RawMessage, what string) (*UNI, error) {
	obj, err := decodeObject(raw, what)
	if err != nil {
		return nil, err
	}
	if len(obj) == 0 {
		return nil, util.NewValidationErrorf("%s must not be empty", what)
	}
	if err := checkKeys(obj, uniFields, what); err != nil {
		return nil, err
	}
	ifRaw, ok := obj["interface_id"]
	if !ok {
		return nil, util.NewValidationErrorf("%s.interface_id is required", what)
	}
	iface, err := decodeString(ifRaw, what+".interface_id")
	if err != nil {
		return nil, err
	}
	uni := &UNI{InterfaceID: iface}
	if tagRaw, ok := obj["tag"]; ok && !isNull(tagRaw) {
		if uni.Tag, err = decodeTag(tagRaw, what+".tag"); err != nil {
			return nil, err
		}
	}
	return uni, nil
}

func decodeTag(raw json.RawMessage, what string) (*Tag, error) {
	obj, err := decodeObject(raw, what)
	if err != nil {
		return nil, err
	}
	if err := checkKeys(obj, tagFields, what); err != nil {
		return nil, err
	}
	typeRaw, okType := obj["tag_type"]
	valueRaw, okValue := obj["value"]
	if !okType || !okValue {
		return nil, util.NewValidationErrorf("%s requires tag_type and value", what)
	}
	tagType, err := decodeTagType(typeRaw, what+".tag_type")
	if err != nil {
		return nil, err
	}
	value, err := decodeInt(valueRaw, what+".value")
	if err != nil {
		return nil, err
	}
	return &Tag{TagType: tagType, Value: value}, nil
}

// decodeTagType accepts "vlan" or its numeric code 1.
func decodeTagType(raw json.RawMessage, what string) (string, error) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if strings.EqualFold(s, TagTypeVLAN) {
			return TagTypeVLAN, nil
		}
		return "", util.NewValidationErrorf("%s: unsupported tag type %q", what, s)
	}
	if n, err := decodeInt(raw, what); err == nil {
		if n == 1 {
			return TagTypeVLAN, nil
		}
		return "", util.NewValidationErrorf("%s: unsupported tag type %d", what, n)
	}
	return "", util.NewValidationErrorf("%s must be %q or 1", what, TagTypeVLAN)
}

func decodePath(raw json.RawMessage, what string) (*Path, error) {
	path := Path{}
	if isNull(raw) {
		return &path, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, util.NewValidationErrorf("%s must be a list of links", what)
	}
	v := &util.ValidationBuilder{}
	for i, item := range items {
		link, err := decodeLink(item, fmt.Sprintf("%s[%d]", what, i))
		if err != nil {
			v.Merge(err)
			continue
		}
		path = append(path, *link)
	}
	if err := v.Build(); err != nil {
		return nil, err
	}
	return &path, nil
}

// decodeLink reads a path segment. id and active are accepted so a stored
// path can be sent back unchanged; both are recomputed from the topology.
func decodeLink(raw json.RawMessage, what string) (*Link, error) {
	obj, err := decodeObject(raw, what)
	if err != nil {
		return nil, err
	}
	if err := checkKeys(obj, linkFields, what); err != nil {
		return nil, err
	}
	link := &Link{}
	for _, side := range []struct {
		key string
		dst *Endpoint
	}{
		{"endpoint_a", &link.EndpointA},
		{"endpoint_b", &link.EndpointB},
	} {
		epRaw, ok := obj[side.key]
		if !ok {
			return nil, util.NewValidationErrorf("%s.%s is required", what, side.key)
		}
		ep, err := decodeEndpoint(epRaw, what+"."+side.key)
		if err != nil {
			return nil, err
		}
		*side.dst = ep
	}
	if mdRaw, ok := obj["metadata"]; ok {
		if link.Metadata, err = decodeMetadata(mdRaw, what+".metadata"); err != nil {
			return nil, err
		}
	}
	return link, nil
}

func decodeEndpoint(raw json.RawMessage, what string) (Endpoint, error) {
	obj, err := decodeObject(raw, what)
	if err != nil {
		return Endpoint{}, err
	}
	if err := checkKeys(obj, endpointFields, what); err != nil {
		return Endpoint{}, err
	}
	idRaw, ok := obj["id"]
	if !ok {
		return Endpoint{}, util.NewValidationErrorf("%s.id is required", what)
	}
	id, err := decodeString(idRaw, what+".id")
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{ID: id}, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func sortedKeys(obj map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
