package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eline/pkg/audit"
	"github.com/newtron-network/eline/pkg/cli"
)

var (
	auditPath      string
	auditCircuit   string
	auditUser      string
	auditOperation string
	auditLast      string
	auditLimit     int
	auditFailures  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the circuit audit log",
	Long: `View the audit log the server writes for every circuit change.

Each event records the time, user, circuit, operation, changed fields and
whether it succeeded. The log is read from --path or the audit_path setting.

Examples:
  eline audit --circuit 3f2a...
  eline audit --last 24h --failures
  eline audit --user alice --operation patch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := auditPath
		if path == "" {
			path = userSettings.AuditPath
		}
		if path == "" {
			return fmt.Errorf("no audit log: use --path or 'eline settings set audit_path <file>'")
		}

		filter := audit.Filter{
			CircuitID:   auditCircuit,
			User:        auditUser,
			Operation:   auditOperation,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}
		if auditLast != "" {
			d, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-d)
		}

		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		logger, err := audit.NewFileLogger(path, audit.RotationConfig{})
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer logger.Close()

		events, err := logger.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}
		if jsonOutput {
			return printJSON(events)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		t := cli.NewTable("TIMESTAMP", "USER", "CIRCUIT", "OPERATION", "CHANGES", "STATUS")
		for _, e := range events {
			status := cli.Green("ok")
			if !e.Success {
				status = cli.Red("failed: " + e.Error)
			}
			t.Row(e.Timestamp.Local().Format("2006-01-02 15:04:05"), cli.Dash(e.User),
				cli.Dash(e.CircuitID), e.Operation, changeList(e.Changes), status)
		}
		t.Flush()
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditPath, "path", "", "Audit log file")
	auditCmd.Flags().StringVar(&auditCircuit, "circuit", "", "Filter by circuit id")
	auditCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user")
	auditCmd.Flags().StringVar(&auditOperation, "operation", "", "Filter by operation (create, patch, delete, redeploy)")
	auditCmd.Flags().StringVar(&auditLast, "last", "", "Show events from the last duration (e.g. 24h)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed operations")
	addOutputFlags(auditCmd)
}

func changeList(changes []audit.Change) string {
	if len(changes) == 0 {
		return "-"
	}
	fields := make([]string, 0, len(changes))
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	return joinLimited(fields, 4)
}

func joinLimited(items []string, n int) string {
	if len(items) <= n {
		return strings.Join(items, ",")
	}
	return fmt.Sprintf("%s +%d", strings.Join(items[:n], ","), len(items)-n)
}
