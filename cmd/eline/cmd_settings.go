package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/eline/pkg/cli"
	"github.com/newtron-network/eline/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent client settings",
	Long:  settingsLong(),
}

func settingsLong() string {
	var b strings.Builder
	b.WriteString("Manage client defaults stored in ~/.eline/settings.json ($" + settings.PathEnv + " overrides).\n\n")
	for _, k := range settings.Keys {
		fmt.Fprintf(&b, "  %-13s %s\n", k.Name, k.Description)
	}
	b.WriteString(`
Examples:
  eline settings show
  eline settings set server http://controller:8181
  eline settings unset evc_prefix`)
	return b.String()
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored and effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTable("SETTING", "VALUE", "EFFECTIVE")
		for _, k := range settings.Keys {
			value := s.Value(k)
			if value == "" {
				value = "(not set)"
			}
			t.Row(k.Name, value, cli.Dash(s.Effective(k)))
		}
		t.Flush()
		return nil
	},
}

// updateSettings loads, edits and saves the settings file.
func updateSettings(edit func(*settings.Settings) error) error {
	s, err := settings.Load()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if err := edit(s); err != nil {
		return err
	}
	if err := s.Save(); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := updateSettings(func(s *settings.Settings) error {
			return s.Set(args[0], args[1])
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s set to %s\n", args[0], args[1])
		return nil
	},
}

var settingsUnsetCmd = &cobra.Command{
	Use:   "unset <setting>",
	Short: "Remove a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := updateSettings(func(s *settings.Settings) error {
			return s.Set(args[0], "")
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s unset\n", args[0])
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all stored settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := updateSettings(func(s *settings.Settings) error {
			s.Clear()
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Println("All settings cleared.")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsUnsetCmd, settingsClearCmd)
}
