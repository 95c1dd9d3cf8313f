package device

import (
	"context"
	"fmt"
	"strconv"
)

// EVCFlowTable holds per-switch flow intents consumed by the southbound agent.
// APP_DB key format: EVC_FLOW_TABLE:<dpid>:<cookie>:<n>
const EVCFlowTable = "EVC_FLOW_TABLE"

// FlowIntent is one forwarding rule a circuit needs on a switch.
type FlowIntent struct {
	DPID     string
	InPort   int
	InVLAN   int // 0 means untagged
	OutPort  int
	OutVLAN  int // 0 means pop/untagged
	Priority int
}

// ApplDB writes flow intents.
type ApplDB struct {
	*Client
}

// NewApplDB creates an APP_DB writer
func NewApplDB(addr, password string, db int) *ApplDB {
	return &ApplDB{Client: NewClient(addr, password, db, ColonSeparator)}
}

// CookieKey renders a cookie the way it appears in keys.
func CookieKey(cookie uint64) string {
	return fmt.Sprintf("0x%016x", cookie)
}

// ReplaceFlows atomically removes every intent carrying cookie and writes
// the given ones in its place.
func (a *ApplDB) ReplaceFlows(ctx context.Context, cookie uint64, flows []FlowIntent) error {
	changes, err := a.deleteChanges(ctx, cookie)
	if err != nil {
		return err
	}
	perSwitch := make(map[string]int)
	for _, f := range flows {
		n := perSwitch[f.DPID]
		perSwitch[f.DPID] = n + 1
		changes = append(changes, TableChange{
			Table: EVCFlowTable,
			Key:   a.flowKey(f.DPID, cookie, n),
			Fields: map[string]string{
				"dpid":     f.DPID,
				"cookie":   CookieKey(cookie),
				"in_port":  strconv.Itoa(f.InPort),
				"in_vlan":  strconv.Itoa(f.InVLAN),
				"out_port": strconv.Itoa(f.OutPort),
				"out_vlan": strconv.Itoa(f.OutVLAN),
				"priority": strconv.Itoa(f.Priority),
			},
		})
	}
	return a.PipelineSet(ctx, changes)
}

// DeleteFlows removes every intent carrying cookie.
func (a *ApplDB) DeleteFlows(ctx context.Context, cookie uint64) error {
	changes, err := a.deleteChanges(ctx, cookie)
	if err != nil {
		return err
	}
	return a.PipelineSet(ctx, changes)
}

// Flows returns the intents currently stored for cookie.
func (a *ApplDB) Flows(ctx context.Context, cookie uint64) ([]FlowIntent, error) {
	keys, err := a.TableKeys(ctx, EVCFlowTable, "*"+a.sep+CookieKey(cookie)+a.sep+"*")
	if err != nil {
		return nil, err
	}
	var out []FlowIntent
	for _, k := range keys {
		vals, err := a.Client.Get(ctx, EVCFlowTable, k)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", k, err)
		}
		if len(vals) == 0 {
			continue
		}
		out = append(out, FlowIntent{
			DPID:     vals["dpid"],
			InPort:   atoi(vals["in_port"]),
			InVLAN:   atoi(vals["in_vlan"]),
			OutPort:  atoi(vals["out_port"]),
			OutVLAN:  atoi(vals["out_vlan"]),
			Priority: atoi(vals["priority"]),
		})
	}
	return out, nil
}

func (a *ApplDB) deleteChanges(ctx context.Context, cookie uint64) ([]TableChange, error) {
	keys, err := a.TableKeys(ctx, EVCFlowTable, "*"+a.sep+CookieKey(cookie)+a.sep+"*")
	if err != nil {
		return nil, err
	}
	changes := make([]TableChange, 0, len(keys))
	for _, k := range keys {
		changes = append(changes, TableChange{Table: EVCFlowTable, Key: k})
	}
	return changes, nil
}

func (a *ApplDB) flowKey(dpid string, cookie uint64, n int) string {
	return dpid + a.sep + CookieKey(cookie) + a.sep + strconv.Itoa(n)
}
