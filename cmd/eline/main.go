// Eline - MEF E-Line circuit manager and flow statistics service
//
// The same binary runs the daemon and talks to it:
//
//	eline serve --config /etc/eline/eline.yaml     # run the REST service
//	eline evc list                                 # circuits on the server
//	eline evc create -f circuit.json
//	eline evc patch <id> -f - <<< '{"enabled": false}'
//	eline stats tables --table 0
//	eline stats packets --flow <flow_id>
//
// Client commands reach the server named by --server, or by
// `eline settings set server <url>`.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eline/pkg/client"
	"github.com/newtron-network/eline/pkg/settings"
	"github.com/newtron-network/eline/pkg/util"
	"github.com/newtron-network/eline/pkg/version"
)

var (
	configPath string
	serverURL  string
	verbose    bool
	jsonOutput bool

	userSettings *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "eline",
	Short:             "MEF E-Line circuit manager",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Eline provisions point-to-point Ethernet virtual circuits across an
OpenFlow fabric and serves per-switch flow and table statistics.

Run the daemon with 'eline serve'; every other command is a client of it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// serve applies its configured level itself.
		switch {
		case verbose:
			util.SetLogLevel("debug")
		case cmd.Name() != "serve":
			util.SetLogLevel("warn")
		}

		var err error
		if userSettings, err = settings.Load(); err != nil {
			util.Warnf("Ignoring settings: %v", err)
			userSettings = &settings.Settings{}
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(version.Get())
		}
		fmt.Printf("eline %s\n", version.Info())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "eline server URL (default from settings)")

	addOutputFlags(versionCmd)

	rootCmd.AddCommand(serveCmd, evcCmd, statsCmd, auditCmd, settingsCmd, versionCmd)
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
}

// serverEnv overrides the stored server for one shell session.
const serverEnv = "ELINE_SERVER"

// newClient resolves the server from --server, $ELINE_SERVER, then settings.
func newClient() *client.Client {
	server := serverURL
	if server == "" {
		server = os.Getenv(serverEnv)
	}
	if server == "" {
		server = userSettings.GetServer()
	}
	return client.New(server,
		client.WithUser(cliUser()),
		client.WithPrefixes(userSettings.GetEVCPrefix(), userSettings.GetStatsPrefix()),
	)
}

// cliUser names the caller in the server's audit trail.
func cliUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readBody reads a JSON request body from path, or stdin when path is "-".
func readBody(path string, stdin io.Reader) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("a request body is required: -f <file>, or -f - for stdin")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("request body in %s is not valid JSON", path)
	}
	return data, nil
}
