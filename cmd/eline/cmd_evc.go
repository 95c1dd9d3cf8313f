package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eline/pkg/cli"
	"github.com/newtron-network/eline/pkg/evc"
)

var (
	evcFile     string
	evcArchived bool
)

var evcCmd = &cobra.Command{
	Use:   "evc",
	Short: "Manage Ethernet virtual circuits",
	Long: `Create, inspect, update and remove circuits on the eline server.

Request bodies are JSON documents read from a file, or from stdin with -f -.

Examples:
  eline evc list
  eline evc show 3f2a...
  eline evc create -f circuit.json
  echo '{"enabled": true}' | eline evc patch 3f2a... -f -
  eline evc redeploy 3f2a...
  eline evc delete 3f2a...`,
}

var evcListCmd = &cobra.Command{
	Use:   "list",
	Short: "List circuits",
	RunE: func(cmd *cobra.Command, args []string) error {
		circuits, err := newClient().ListCircuits(context.Background(), evcArchived)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(circuits)
		}
		if len(circuits) == 0 {
			fmt.Println("No circuits")
			return nil
		}

		ids := make([]string, 0, len(circuits))
		for id := range circuits {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		t := cli.NewTable("ID", "NAME", "UNI A", "UNI Z", "STATE", "PATH")
		for _, id := range ids {
			e := circuits[id]
			t.Row(id, cli.Dash(e.Name), uniString(e.UNIA), uniString(e.UNIZ),
				cli.CircuitState(e.Enabled, e.Active, e.Archived), strconv.Itoa(len(e.CurrentPath)))
		}
		t.Flush()
		return nil
	},
}

var evcShowCmd = &cobra.Command{
	Use:   "show <circuit-id>",
	Short: "Show one circuit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newClient().GetCircuit(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(e)
		}
		printCircuit(e)
		return nil
	},
}

var evcCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a circuit from a JSON request",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readBody(evcFile, os.Stdin)
		if err != nil {
			return err
		}
		e, err := newClient().CreateCircuit(context.Background(), body)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(e)
		}
		fmt.Printf("Created circuit %s\n", e.CircuitID)
		printCircuit(e)
		return nil
	},
}

var evcPatchCmd = &cobra.Command{
	Use:   "patch <circuit-id>",
	Short: "Update circuit attributes from a JSON request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readBody(evcFile, os.Stdin)
		if err != nil {
			return err
		}
		e, err := newClient().PatchCircuit(context.Background(), args[0], body)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(e)
		}
		printCircuit(e)
		return nil
	},
}

var evcDeleteCmd = &cobra.Command{
	Use:   "delete <circuit-id>",
	Short: "Remove a circuit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := newClient().DeleteCircuit(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	},
}

var evcRedeployCmd = &cobra.Command{
	Use:   "redeploy <circuit-id>",
	Short: "Recompute and reinstall a circuit's path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newClient().RedeployCircuit(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(e)
		}
		printCircuit(e)
		return nil
	},
}

func init() {
	evcListCmd.Flags().BoolVar(&evcArchived, "archived", false, "Include archived circuits")
	for _, cmd := range []*cobra.Command{evcCreateCmd, evcPatchCmd} {
		cmd.Flags().StringVarP(&evcFile, "file", "f", "", "JSON request body (- for stdin)")
	}
	for _, cmd := range []*cobra.Command{evcListCmd, evcShowCmd, evcCreateCmd, evcPatchCmd, evcRedeployCmd} {
		addOutputFlags(cmd)
	}

	evcCmd.AddCommand(evcListCmd)
	evcCmd.AddCommand(evcShowCmd)
	evcCmd.AddCommand(evcCreateCmd)
	evcCmd.AddCommand(evcPatchCmd)
	evcCmd.AddCommand(evcDeleteCmd)
	evcCmd.AddCommand(evcRedeployCmd)
}

func uniString(u evc.UNI) string {
	if u.Tag == nil {
		return u.InterfaceID
	}
	return fmt.Sprintf("%s.%d", u.InterfaceID, u.Tag.Value)
}

func pathString(p evc.Path) string {
	if len(p) == 0 {
		return "-"
	}
	hops := make([]string, 0, len(p))
	for _, l := range p {
		hops = append(hops, l.EndpointA.ID+"-"+l.EndpointB.ID)
	}
	return strings.Join(hops, " ")
}

func printCircuit(e *evc.EVC) {
	t := cli.NewTable("FIELD", "VALUE")
	t.Row("circuit_id", e.CircuitID)
	t.Row("name", cli.Dash(e.Name))
	t.Row("state", cli.CircuitState(e.Enabled, e.Active, e.Archived))
	t.Row("uni_a", uniString(e.UNIA))
	t.Row("uni_z", uniString(e.UNIZ))
	t.Row("dynamic_backup_path", strconv.FormatBool(e.DynamicBackupPath))
	t.Row("primary_path", pathString(e.PrimaryPath))
	t.Row("backup_path", pathString(e.BackupPath))
	t.Row("current_path", pathString(e.CurrentPath))
	t.Row("priority", strconv.Itoa(e.Priority))
	t.Row("creation_time", e.CreationTime.Format(evc.TimeFormat))
	if !e.UpdatedAt.IsZero() {
		t.Row("updated_at", e.UpdatedAt.Format(evc.TimeFormat))
	}
	t.Flush()
}
