package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/digitalocean/go-openvswitch/ovs"
	"github.com/spf13/cobra"

	"github.com/newtron-network/eline/pkg/api"
	"github.com/newtron-network/eline/pkg/audit"
	"github.com/newtron-network/eline/pkg/cli"
	"github.com/newtron-network/eline/pkg/config"
	"github.com/newtron-network/eline/pkg/device"
	"github.com/newtron-network/eline/pkg/evc"
	"github.com/newtron-network/eline/pkg/stats"
	"github.com/newtron-network/eline/pkg/topology"
	"github.com/newtron-network/eline/pkg/util"
	"github.com/newtron-network/eline/pkg/version"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the eline REST service",
	Long: `Run the circuit manager and statistics aggregator behind the REST API.

The configuration file selects the backends:
  store       memory | redis          circuit records
  topology    file | redis            switches, ports and links
  installer   topology | redis        path check only, or flow intents in APPL_DB
  stats       redis | ovs | none      counter source for the statistics API

Stops cleanly on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = ""
		}
		if err := util.Configure(level, cfg.Log.Format, nil); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
}

// backends holds what serve builds from the configuration.
type backends struct {
	store     evc.Store
	topology  topology.Provider
	installer evc.Installer
	source    stats.Source
	closers   []func() error
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			util.Warnf("closing backend: %v", err)
		}
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	util.WithField("version", version.Info()).Info("eline starting")

	if cfg.Audit.Path != "" {
		logger, err := audit.NewFileLogger(cfg.Audit.Path, audit.RotationConfig{
			MaxSize:    cfg.Audit.MaxSize,
			MaxBackups: cfg.Audit.MaxBackups,
		})
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			audit.SetDefaultLogger(logger)
			defer logger.Close()
		}
	}

	b, err := buildBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	m := evc.NewManager(evc.Options{
		Store:     b.store,
		Topology:  b.topology,
		Installer: b.installer,
		VLANRange: cfg.VLANRange(),
	})
	if err := m.Load(ctx); err != nil {
		return fmt.Errorf("loading circuits: %w", err)
	}
	go m.Run(ctx, cfg.ReconcileInterval)

	opts := api.Options{
		Circuits:    m,
		EVCPrefix:   cfg.EVCPrefix,
		StatsPrefix: cfg.StatsPrefix,
	}
	if b.source != nil {
		agg := stats.NewAggregator(b.source)
		go agg.Run(ctx, cfg.Stats.PollInterval)
		opts.Stats = agg
	}

	srv := api.NewServer(opts).HTTPServer(cfg.Listen)
	errCh := make(chan error, 1)
	go func() {
		util.WithField("listen", cfg.Listen).Info("serving REST API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving %s: %w", cfg.Listen, err)
		}
		return nil
	case <-ctx.Done():
	}

	util.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	ok := false
	defer func() {
		if !ok {
			b.close()
		}
	}()

	redisAddr := cfg.Redis.Addr
	if cfg.UsesRedis() && cfg.Redis.SSH != nil {
		tunnel, err := openTunnel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, tunnel.Close)
		redisAddr = tunnel.LocalAddr()
	}
	connect := func(c *device.Client, name string) error {
		if err := c.Connect(ctx, cfg.Redis.ConnectTimeout); err != nil {
			return fmt.Errorf("connecting to %s: %w", name, err)
		}
		b.closers = append(b.closers, c.Close)
		return nil
	}

	switch cfg.Store {
	case config.StoreRedis:
		c := device.NewClient(redisAddr, cfg.Redis.Password, cfg.Redis.EVCDB, device.PipeSeparator)
		if err := connect(c, "circuit store"); err != nil {
			return nil, err
		}
		b.store = evc.NewRedisStore(c)
	default:
		b.store = evc.NewMemoryStore()
	}

	switch cfg.Topology.Source {
	case config.TopologyRedis:
		db := device.NewTopologyDB(redisAddr, cfg.Redis.Password, cfg.Redis.TopologyDB)
		if err := connect(db.Client, "TOPOLOGY_DB"); err != nil {
			return nil, err
		}
		b.topology = topology.NewRedisProvider(db)
	default:
		p, err := topology.NewFileProvider(cfg.Topology.File)
		if err != nil {
			return nil, fmt.Errorf("loading topology: %w", err)
		}
		b.topology = p
	}

	switch cfg.Installer {
	case config.InstallerRedis:
		db := device.NewApplDB(redisAddr, cfg.Redis.Password, cfg.Redis.ApplDB)
		if err := connect(db.Client, "APPL_DB"); err != nil {
			return nil, err
		}
		b.installer = evc.NewFlowInstaller(b.topology, db, cfg.FlowPriority)
	default:
		b.installer = &evc.TopologyInstaller{Topology: b.topology}
	}

	switch cfg.Stats.Source {
	case config.StatsRedis:
		db := device.NewCountersDB(redisAddr, cfg.Redis.Password, cfg.Redis.CountersDB)
		if err := connect(db.Client, "COUNTERS_DB"); err != nil {
			return nil, err
		}
		b.source = stats.NewRedisSource(db)
	case config.StatsOVS:
		var opts []ovs.OptionFunc
		if cfg.Stats.OVS.Sudo {
			opts = append(opts, ovs.Sudo())
		}
		b.source = stats.NewOVSSource(ovs.New(opts...).OpenFlow, cfg.Stats.OVS.Bridges)
	}

	ok = true
	return b, nil
}

func openTunnel(ctx context.Context, cfg *config.Config) (*device.SSHTunnel, error) {
	ssh := cfg.Redis.SSH
	password := ssh.Password
	if ssh.PasswordPrompt && password == "" {
		var err error
		password, err = cli.PromptPassword(fmt.Sprintf("SSH password for %s@%s: ", ssh.User, ssh.Host))
		if err != nil {
			return nil, err
		}
	}
	tunnel, err := device.NewSSHTunnel(ctx, device.TunnelConfig{
		Host:       ssh.Host,
		Port:       ssh.Port,
		User:       ssh.User,
		Password:   password,
		RemoteAddr: ssh.RemoteAddr,
		Timeout:    cfg.Redis.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening SSH tunnel to %s: %w", ssh.Host, err)
	}
	util.WithField("local", tunnel.LocalAddr()).Infof("redis reached through %s", ssh.Host)
	return tunnel, nil
}
