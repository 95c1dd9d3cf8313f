package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eline/pkg/cli"
	"github.com/newtron-network/eline/pkg/stats"
)

var (
	statsDPIDs  []string
	statsTables []string
	statsFlow   string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query flow and table statistics",
	Long: `Query the counters the server aggregates from the data plane.

Examples:
  eline stats flows --dpid 00:00:00:00:00:00:00:01
  eline stats tables --table 0
  eline stats packets --flow <flow_id>
  eline stats bytes --dpid 00:00:00:00:00:00:00:01`,
}

var statsFlowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Show flow counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		flows, err := newClient().FlowStats(context.Background(), statsDPIDs...)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(flows)
		}
		t := cli.NewTable("SWITCH", "FLOW", "TABLE", "PRIORITY", "COOKIE", "PACKETS", "BYTES", "DURATION")
		for _, dpid := range sortedKeys(flows) {
			for _, id := range sortedKeys(flows[dpid]) {
				f := flows[dpid][id]
				t.Row(dpid, shortID(id), strconv.Itoa(f.TableID), strconv.Itoa(f.Priority),
					fmt.Sprintf("%#x", f.Cookie), strconv.FormatUint(f.PacketCount, 10),
					strconv.FormatUint(f.ByteCount, 10), fmt.Sprintf("%ds", f.DurationSec))
			}
		}
		t.Flush()
		return nil
	},
}

var statsTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Show table counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		tables, err := newClient().TableStats(context.Background(), statsDPIDs, statsTables)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(tables)
		}
		t := cli.NewTable("SWITCH", "TABLE", "ACTIVE", "LOOKUP", "MATCHED")
		for _, dpid := range sortedKeys(tables) {
			recs := tables[dpid]
			ids := make([]int, 0, len(recs))
			for id := range recs {
				n, _ := strconv.Atoi(id)
				ids = append(ids, n)
			}
			sort.Ints(ids)
			for _, id := range ids {
				r := recs[strconv.Itoa(id)]
				t.Row(dpid, strconv.Itoa(id), strconv.FormatUint(r.ActiveCount, 10),
					strconv.FormatUint(r.LookupCount, 10), strconv.FormatUint(r.MatchedCount, 10))
			}
		}
		t.Flush()
		return nil
	},
}

var statsPacketsCmd = &cobra.Command{
	Use:   "packets",
	Short: "Show packet counters and rates for a flow or a switch",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var counters []stats.PacketCounter
		switch {
		case statsFlow != "":
			pc, err := c.PacketCount(context.Background(), statsFlow)
			if err != nil {
				return err
			}
			counters = []stats.PacketCounter{*pc}
		case len(statsDPIDs) == 1:
			var err error
			if counters, err = c.PacketCountPerFlow(context.Background(), statsDPIDs[0]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("use --flow <id> or a single --dpid")
		}
		if jsonOutput {
			return printJSON(counters)
		}
		t := cli.NewTable("FLOW", "PACKETS", "RATE")
		for _, pc := range counters {
			t.Row(shortID(pc.FlowID), strconv.FormatUint(pc.PacketCounter, 10), cli.Rate(pc.PacketPerSecond, "pkt"))
		}
		t.Flush()
		return nil
	},
}

var statsBytesCmd = &cobra.Command{
	Use:   "bytes",
	Short: "Show byte counters and bit rates for a flow or a switch",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var counters []stats.BytesCounter
		switch {
		case statsFlow != "":
			bc, err := c.BytesCount(context.Background(), statsFlow)
			if err != nil {
				return err
			}
			counters = []stats.BytesCounter{*bc}
		case len(statsDPIDs) == 1:
			var err error
			if counters, err = c.BytesCountPerFlow(context.Background(), statsDPIDs[0]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("use --flow <id> or a single --dpid")
		}
		if jsonOutput {
			return printJSON(counters)
		}
		t := cli.NewTable("FLOW", "BYTES", "RATE")
		for _, bc := range counters {
			t.Row(shortID(bc.FlowID), strconv.FormatUint(bc.BytesCounter, 10), cli.Rate(bc.BitsPerSecond, "b"))
		}
		t.Flush()
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{statsFlowsCmd, statsTablesCmd, statsPacketsCmd, statsBytesCmd} {
		cmd.Flags().StringSliceVar(&statsDPIDs, "dpid", nil, "Switch datapath id (repeatable)")
		addOutputFlags(cmd)
	}
	statsTablesCmd.Flags().StringSliceVar(&statsTables, "table", nil, "Table id (repeatable)")
	for _, cmd := range []*cobra.Command{statsPacketsCmd, statsBytesCmd} {
		cmd.Flags().StringVar(&statsFlow, "flow", "", "Flow id")
	}

	statsCmd.AddCommand(statsFlowsCmd)
	statsCmd.AddCommand(statsTablesCmd)
	statsCmd.AddCommand(statsPacketsCmd)
	statsCmd.AddCommand(statsBytesCmd)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shortID trims long hash flow ids for table output.
func shortID(id string) string {
	if len(id) > 16 && !strings.Contains(id, ":") {
		return id[:16]
	}
	return id
}
