// Package config loads the eline daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/eline/pkg/api"
	"github.com/newtron-network/eline/pkg/util"
)

// DefaultPath is where the daemon looks for its configuration
const DefaultPath = "/etc/eline/eline.yaml"

// Backend selectors
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	TopologyFile  = "file"
	TopologyRedis = "redis"

	InstallerTopology = "topology"
	InstallerRedis    = "redis"

	StatsRedis = "redis"
	StatsOVS   = "ovs"
	StatsNone  = "none"
)

// Config is the daemon configuration
type Config struct {
	Listen            string         `yaml:"listen"`
	EVCPrefix         string         `yaml:"evc_prefix"`
	StatsPrefix       string         `yaml:"stats_prefix"`
	Log               LogConfig      `yaml:"log"`
	Redis             RedisConfig    `yaml:"redis"`
	Store             string         `yaml:"store"`
	Topology          TopologyConfig `yaml:"topology"`
	Installer         string         `yaml:"installer"`
	FlowPriority      int            `yaml:"flow_priority"`
	Stats             StatsConfig    `yaml:"stats"`
	Tag               TagConfig      `yaml:"tag"`
	Audit             AuditConfig    `yaml:"audit"`
	ReconcileInterval time.Duration  `yaml:"reconcile_interval"`
}

// LogConfig selects log level and output format
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// RedisConfig describes the controller Redis and its logical databases
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	EVCDB          int           `yaml:"evc_db"`
	TopologyDB     int           `yaml:"topology_db"`
	CountersDB     int           `yaml:"counters_db"`
	ApplDB         int           `yaml:"appl_db"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SSH            *SSHConfig    `yaml:"ssh"`
}

// SSHConfig enables an SSH local forward to a Redis that is only
// reachable on the controller's loopback.
type SSHConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	PasswordPrompt bool   `yaml:"password_prompt"`
	RemoteAddr     string `yaml:"remote_addr"`
}

// TopologyConfig selects where the switch/port/link view comes from
type TopologyConfig struct {
	Source string `yaml:"source"`
	File   string `yaml:"file"`
}

// StatsConfig configures the statistics poller
type StatsConfig struct {
	Source       string        `yaml:"source"`
	PollInterval time.Duration `yaml:"poll_interval"`
	OVS          OVSConfig     `yaml:"ovs"`
}

// OVSConfig maps datapath ids to local Open vSwitch bridges
type OVSConfig struct {
	Bridges map[string]string `yaml:"bridges"`
	Sudo    bool              `yaml:"sudo"`
}

// TagConfig holds the tag value rule
type TagConfig struct {
	// VLANRange is a range list such as "1-4094"; empty disables the check
	VLANRange string `yaml:"vlan_range"`
}

// AuditConfig configures the audit trail
type AuditConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int64  `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		Listen:      ":8181",
		EVCPrefix:   api.DefaultEVCPrefix,
		StatsPrefix: api.DefaultStatsPrefix,
		Log:         LogConfig{Level: "info", Format: "text"},
		Redis: RedisConfig{
			Addr:           "127.0.0.1:6379",
			EVCDB:          8,
			TopologyDB:     9,
			CountersDB:     2,
			ApplDB:         0,
			ConnectTimeout: 30 * time.Second,
		},
		Store:        StoreMemory,
		Topology:     TopologyConfig{Source: TopologyFile, File: "/etc/eline/topology.yaml"},
		Installer:    InstallerTopology,
		FlowPriority: 20000,
		Stats: StatsConfig{
			Source:       StatsNone,
			PollInterval: 10 * time.Second,
		},
		Audit: AuditConfig{
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 10,
		},
		ReconcileInterval: 30 * time.Second,
	}
}

// Load reads the configuration at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations, intervals and the tag rule
func (c *Config) Validate() error {
	v := &util.ValidationBuilder{}

	v.Add(c.Listen != "", "listen address is required")
	v.Add(strings.HasPrefix(c.EVCPrefix, "/"), "evc_prefix must start with '/'")
	v.Add(strings.HasPrefix(c.StatsPrefix, "/"), "stats_prefix must start with '/'")
	v.Add(c.Log.Format == "" || c.Log.Format == "text" || c.Log.Format == "json",
		fmt.Sprintf("log.format must be 'text' or 'json', got %q", c.Log.Format))

	v.Add(oneOf(c.Store, StoreMemory, StoreRedis),
		fmt.Sprintf("store must be '%s' or '%s', got %q", StoreMemory, StoreRedis, c.Store))
	v.Add(oneOf(c.Topology.Source, TopologyFile, TopologyRedis),
		fmt.Sprintf("topology.source must be '%s' or '%s', got %q", TopologyFile, TopologyRedis, c.Topology.Source))
	if c.Topology.Source == TopologyFile {
		v.Add(c.Topology.File != "", "topology.file is required when topology.source is 'file'")
	}
	v.Add(oneOf(c.Installer, InstallerTopology, InstallerRedis),
		fmt.Sprintf("installer must be '%s' or '%s', got %q", InstallerTopology, InstallerRedis, c.Installer))
	v.Add(oneOf(c.Stats.Source, StatsRedis, StatsOVS, StatsNone),
		fmt.Sprintf("stats.source must be one of redis, ovs, none, got %q", c.Stats.Source))
	if c.Stats.Source == StatsOVS {
		v.Add(len(c.Stats.OVS.Bridges) > 0, "stats.ovs.bridges is required when stats.source is 'ovs'")
	}

	v.Add(c.FlowPriority > 0 && c.FlowPriority <= 65535, "flow_priority must be between 1 and 65535")
	v.Add(c.Stats.PollInterval > 0, "stats.poll_interval must be positive")
	v.Add(c.ReconcileInterval > 0, "reconcile_interval must be positive")
	v.Add(c.Redis.ConnectTimeout > 0, "redis.connect_timeout must be positive")

	if c.Redis.SSH != nil {
		v.Add(c.Redis.SSH.Host != "", "redis.ssh.host is required")
		v.Add(c.Redis.SSH.User != "", "redis.ssh.user is required")
	}

	if _, err := util.ParseRangeSet(c.Tag.VLANRange); err != nil {
		v.AddErrorf("tag.vlan_range: %v", err)
	}

	return v.Build()
}

// UsesRedis reports whether any configured backend needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Store == StoreRedis ||
		c.Topology.Source == TopologyRedis ||
		c.Installer == InstallerRedis ||
		c.Stats.Source == StatsRedis
}

// VLANRange returns the parsed tag rule; Validate has already checked it.
func (c *Config) VLANRange() util.RangeSet {
	rs, _ := util.ParseRangeSet(c.Tag.VLANRange)
	return rs
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
