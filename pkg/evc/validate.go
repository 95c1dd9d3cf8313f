package evc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/scylladb/go-set/strset"

	"github.com/newtron-network/eline/pkg/topology"
	"github.com/newtron-network/eline/pkg/util"
)

// Validate checks a candidate circuit against a topology snapshot. Explicit
// paths are resolved in place: each link gets its topology id and status.
// vlans may be empty, in which case tag values are not range-checked.
func Validate(e *EVC, g *topology.Graph, vlans util.RangeSet) error {
	v := &util.ValidationBuilder{}

	v.Add(strings.TrimSpace(e.Name) != "", "name must not be empty")
	v.Merge(validateUNI(g, fieldUNIA, e.UNIA, vlans))
	v.Merge(validateUNI(g, fieldUNIZ, e.UNIZ, vlans))
	v.Add(e.UNIA.tagKey() != e.UNIZ.tagKey(), "uni_a and uni_z must not be the same interface and tag")
	if v.HasErrors() {
		return v.Build()
	}

	if e.DynamicBackupPath {
		v.Add(len(e.BackupPath) == 0, "backup_path must be empty when dynamic_backup_path is true")
		v.Add(len(e.BackupLinks) == 0, "backup_links must be empty when dynamic_backup_path is true")
	} else {
		v.Add(len(e.PrimaryPath) > 0 || len(e.PrimaryLinks) > 0,
			"primary_path is required when dynamic_backup_path is false")
	}

	for _, p := range []struct {
		name string
		path Path
	}{
		{fieldPrimaryPath, e.PrimaryPath},
		{fieldBackupPath, e.BackupPath},
		{fieldPrimaryLinks, e.PrimaryLinks},
		{fieldBackupLinks, e.BackupLinks},
	} {
		if len(p.path) > 0 {
			v.Merge(validatePath(g, p.name, p.path, e.UNIA, e.UNIZ))
		}
	}
	return v.Build()
}

func validateUNI(g *topology.Graph, name string, u UNI, vlans util.RangeSet) error {
	if _, _, err := g.Interface(u.InterfaceID); err != nil {
		var nf *util.NotFoundError
		if errors.As(err, &nf) {
			return util.NewValidationErrorf("%s: %s %s does not exist", name, nf.Kind, nf.ID)
		}
		return util.NewValidationErrorf("%s: %v", name, err)
	}
	if u.Tag == nil {
		return nil
	}
	if u.Tag.TagType != TagTypeVLAN {
		return util.NewValidationErrorf("%s: unsupported tag type %q", name, u.Tag.TagType)
	}
	if !vlans.IsEmpty() && !vlans.Contains(u.Tag.Value) {
		return util.NewValidationErrorf("%s: tag value %d is outside %s", name, u.Tag.Value, vlans)
	}
	return nil
}

// validatePath checks every link against the topology and that the links
// chain from the uni_a switch to the uni_z switch.
func validatePath(g *topology.Graph, name string, p Path, a, z UNI) error {
	v := &util.ValidationBuilder{}
	for i := range p {
		l := &p[i]
		what := fmt.Sprintf("%s[%d]", name, i)
		ok := true
		for _, ep := range []string{l.EndpointA.ID, l.EndpointB.ID} {
			if ep == a.InterfaceID || ep == z.InterfaceID {
				v.AddErrorf("%s: endpoint %s is a circuit UNI", what, ep)
				ok = false
				continue
			}
			if _, _, err := g.Interface(ep); err != nil {
				v.AddErrorf("%s: %v", what, err)
				ok = false
			}
		}
		if !ok {
			continue
		}
		tl, found := g.LinkBetween(l.EndpointA.ID, l.EndpointB.ID)
		if !found {
			v.AddErrorf("%s: no link between %s and %s", what, l.EndpointA.ID, l.EndpointB.ID)
			continue
		}
		l.ID = tl.ID
		l.Active = g.Usable(tl)
	}
	if v.HasErrors() {
		return v.Build()
	}

	src, dst := switchOf(a.InterfaceID), switchOf(z.InterfaceID)
	_, end, err := walk(p, src)
	if err != nil {
		return util.NewValidationErrorf("%s: %v", name, err)
	}
	if end != dst {
		return util.NewValidationErrorf("%s: ends at switch %s, expected %s", name, end, dst)
	}
	return nil
}

// segment is a link oriented away from the uni_a side: from is on the
// switch reached first.
type segment struct {
	from string
	to   string
}

// walk orients each link of p starting at switch src and returns the
// switch the path ends on. A link that does not touch the current switch,
// or one that revisits a switch, is an error.
func walk(p Path, src string) ([]segment, string, error) {
	visited := strset.New(src)
	cur := src
	segs := make([]segment, 0, len(p))
	for i, l := range p {
		a, b := l.EndpointA.ID, l.EndpointB.ID
		var seg segment
		switch cur {
		case switchOf(a):
			seg = segment{from: a, to: b}
		case switchOf(b):
			seg = segment{from: b, to: a}
		default:
			return nil, "", fmt.Errorf("link %d (%s-%s) does not continue from switch %s", i, a, b, cur)
		}
		next := switchOf(seg.to)
		if visited.Has(next) {
			return nil, "", fmt.Errorf("link %d revisits switch %s", i, next)
		}
		visited.Add(next)
		segs = append(segs, seg)
		cur = next
	}
	return segs, cur, nil
}

func switchOf(iface string) string {
	dpid, _, err := topology.ParseInterfaceID(iface)
	if err != nil {
		return ""
	}
	return dpid
}
