package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/fetchcache/cache"
	"github.com/jonwraymond/fetchcache/config"
	"github.com/jonwraymond/fetchcache/observe"
)

// app carries state shared by the subcommands of one invocation.
type app struct {
	configPath string
	root       string
	ttl        time.Duration
	logLevel   string

	cfg   config.Config
	obs   observe.Observer
	store *cache.DiskStore
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetchcache",
		Short: "Inspect and maintain a fetchcache disk store",
		Long: `fetchcache maintains the on-disk result cache used by remote data fetchers.

Settings are read from defaults, the optional --config YAML file,
FETCHCACHE_* environment variables and finally the flags below.`,
		Example: `  # Show how much is cached
  fetchcache stats --root ~/.cache/quotes

  # Drop expired entries every ten minutes
  fetchcache sweep --every 10m

  # Print the cache key of a call
  fetchcache key daily '{"ts_code":"000001.SZ"}'`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.root, "root", "", "cache root directory (overrides config)")
	flags.DurationVar(&a.ttl, "ttl", 0, "entry time-to-live (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")

	cmd.AddCommand(newClearCmd(a), newSweepCmd(a), newStatsCmd(a), newCheckCmd(a), newKeyCmd())
	return cmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.CacheRoot = a.root
	}
	if flags.Changed("ttl") {
		cfg.TTL = a.ttl
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}

	obs, err := cfg.NewObserver(cmd.Context())
	if err != nil {
		return fmt.Errorf("setup observability: %w", err)
	}

	a.cfg = cfg
	a.obs = obs
	return nil
}

// openStore opens the disk store once per invocation.
func (a *app) openStore() (*cache.DiskStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := a.cfg.OpenStore(a.obs)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.store = store
	return store, nil
}

func (a *app) shutdown(ctx context.Context) {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
	if a.obs != nil {
		_ = a.obs.Shutdown(ctx)
		a.obs = nil
	}
}
