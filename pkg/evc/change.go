package evc

import (
	"reflect"

	"github.com/newtron-network/eline/pkg/audit"
)

// Change is one field-level difference between two versions of a circuit.
type Change = audit.Change

// Diff lists the client-visible fields that differ between from and to, in
// wire order. A nil from is treated as an empty circuit.
func Diff(from, to *EVC) []Change {
	if from == nil {
		from = &EVC{}
	}
	var changes []Change
	add := func(field string, before, after interface{}) {
		if !reflect.DeepEqual(before, after) {
			changes = append(changes, Change{Field: field, Old: before, New: after})
		}
	}
	add(fieldName, from.Name, to.Name)
	add(fieldEnabled, from.Enabled, to.Enabled)
	add("active", from.Active, to.Active)
	add("archived", from.Archived, to.Archived)
	add(fieldUNIA, from.UNIA, to.UNIA)
	add(fieldUNIZ, from.UNIZ, to.UNIZ)
	add(fieldDynamicBackupPath, from.DynamicBackupPath, to.DynamicBackupPath)
	add(fieldPrimaryPath, endpointsOf(from.PrimaryPath), endpointsOf(to.PrimaryPath))
	add(fieldBackupPath, endpointsOf(from.BackupPath), endpointsOf(to.BackupPath))
	add(fieldPrimaryLinks, endpointsOf(from.PrimaryLinks), endpointsOf(to.PrimaryLinks))
	add(fieldBackupLinks, endpointsOf(from.BackupLinks), endpointsOf(to.BackupLinks))
	add("current_path", endpointsOf(from.CurrentPath), endpointsOf(to.CurrentPath))
	add(fieldPriority, from.Priority, to.Priority)
	add(fieldQueueID, from.QueueID, to.QueueID)
	add(fieldMetadata, from.Metadata, to.Metadata)
	return changes
}

// endpointsOf reduces a path to "a-b" pairs, ignoring status and metadata.
func endpointsOf(p Path) []string {
	if len(p) == 0 {
		return nil
	}
	out := make([]string, len(p))
	for i, l := range p {
		out[i] = l.EndpointA.ID + "-" + l.EndpointB.ID
	}
	return out
}

// pathChanged reports whether any field that drives path selection differs.
func pathChanged(from, to *EVC) bool {
	return from.UNIA.tagKey() != to.UNIA.tagKey() ||
		from.UNIZ.tagKey() != to.UNIZ.tagKey() ||
		from.Enabled != to.Enabled ||
		from.DynamicBackupPath != to.DynamicBackupPath ||
		from.Priority != to.Priority ||
		!reflect.DeepEqual(endpointsOf(from.PrimaryPath), endpointsOf(to.PrimaryPath)) ||
		!reflect.DeepEqual(endpointsOf(from.BackupPath), endpointsOf(to.BackupPath)) ||
		!reflect.DeepEqual(endpointsOf(from.PrimaryLinks), endpointsOf(to.PrimaryLinks)) ||
		!reflect.DeepEqual(endpointsOf(from.BackupLinks), endpointsOf(to.BackupLinks))
}
