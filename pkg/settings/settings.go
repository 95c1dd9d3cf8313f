// Package settings keeps the CLI's per-user defaults in ~/.eline/settings.json.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/newtron-network/eline/pkg/api"
)

// DefaultServer is used when no server is stored.
const DefaultServer = "http://127.0.0.1:8181"

// PathEnv overrides the settings file location.
const PathEnv = "ELINE_SETTINGS"

// Settings is the stored file. Empty fields fall back to the defaults above.
type Settings struct {
	Server      string `json:"server,omitempty"`
	EVCPrefix   string `json:"evc_prefix,omitempty"`
	StatsPrefix string `json:"stats_prefix,omitempty"`
	AuditPath   string `json:"audit_path,omitempty"`
}

// Key describes one setting for the CLI.
type Key struct {
	Name        string
	Description string
	field       func(*Settings) *string
	fallback    string
	check       func(string) (string, error)
}

// Keys lists every setting in display order.
var Keys = []Key{
	{"server", "eline server URL (--server default)",
		func(s *Settings) *string { return &s.Server }, DefaultServer, checkServer},
	{"evc_prefix", "circuit API mount point",
		func(s *Settings) *string { return &s.EVCPrefix }, api.DefaultEVCPrefix, checkPrefix},
	{"stats_prefix", "statistics API mount point",
		func(s *Settings) *string { return &s.StatsPrefix }, api.DefaultStatsPrefix, checkPrefix},
	{"audit_path", "audit log read by 'eline audit'",
		func(s *Settings) *string { return &s.AuditPath }, "", nil},
}

// KeyNames returns the setting names joined for error messages.
func KeyNames() string {
	names := make([]string, len(Keys))
	for i, k := range Keys {
		names[i] = k.Name
	}
	return strings.Join(names, ", ")
}

func lookup(name string) (Key, bool) {
	for _, k := range Keys {
		if k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}

func checkServer(v string) (string, error) {
	v = strings.TrimRight(v, "/")
	u, err := url.Parse(v)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("server must be an http or https URL, got %q", v)
	}
	return v, nil
}

func checkPrefix(v string) (string, error) {
	if !strings.HasPrefix(v, "/") {
		return "", fmt.Errorf("prefix must start with '/', got %q", v)
	}
	return strings.TrimRight(v, "/"), nil
}

// Value returns the stored value of k, or "" when unset.
func (s *Settings) Value(k Key) string {
	return *k.field(s)
}

// Effective returns the stored value of k or its fallback.
func (s *Settings) Effective(k Key) string {
	if v := *k.field(s); v != "" {
		return v
	}
	return k.fallback
}

// Set validates and stores one setting by name. An empty value unsets it.
func (s *Settings) Set(name, value string) error {
	k, ok := lookup(name)
	if !ok {
		return fmt.Errorf("unknown setting %q (valid: %s)", name, KeyNames())
	}
	if value != "" && k.check != nil {
		var err error
		if value, err = k.check(value); err != nil {
			return err
		}
	}
	*k.field(s) = value
	return nil
}

func (s *Settings) GetServer() string      { return s.Effective(Keys[0]) }
func (s *Settings) GetEVCPrefix() string   { return s.Effective(Keys[1]) }
func (s *Settings) GetStatsPrefix() string { return s.Effective(Keys[2]) }

// Clear drops every stored value.
func (s *Settings) Clear() {
	*s = Settings{}
}

// DefaultSettingsPath honors $ELINE_SETTINGS before the home directory.
func DefaultSettingsPath() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "eline_settings.json"
	}
	return filepath.Join(home, ".eline", "settings.json")
}

// Load reads the default settings file.
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads path. A missing file yields empty settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Save writes the default settings file.
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes path, creating its directory.
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
