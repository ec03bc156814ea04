package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/fetchcache/cache"
	"github.com/jonwraymond/fetchcache/health"
)

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			n := store.Clear(cmd.Context())
			cmd.Printf("removed %d %s\n", n, entries(n))
			return nil
		},
	}
}

func newSweepCmd(a *app) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cache entries",
		Long: `Remove entries older than the TTL. With --every the sweep repeats on
that interval until the process is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}

			var n int
			if every > 0 {
				n = cache.NewJanitor(store, every, a.obs.Logger()).Run(cmd.Context())
			} else {
				n = store.ClearExpired(cmd.Context())
			}
			cmd.Printf("removed %d expired %s\n", n, entries(n))
			return nil
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "repeat the sweep on this interval until interrupted")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("root:     %s\n", store.Root())
			cmd.Printf("ttl:      %s\n", store.TTL())
			cmd.Printf("entries:  %s (%s expired)\n", humanize.Comma(int64(st.Entries)), humanize.Comma(int64(st.Expired)))
			cmd.Printf("size:     %s\n", humanize.Bytes(uint64(max(st.Bytes, 0))))
			return nil
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	var maxExpired float64

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the cache and report its health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}

			agg := health.NewAggregator(0,
				health.NewStoreChecker("cache", store),
				health.NewExpiryChecker("expiry", store, maxExpired),
			)
			results := agg.CheckAll(cmd.Context())
			for _, r := range results {
				cmd.Printf("%-8s %-10s %s\n", r.Name, r.Status, r.Message)
			}

			overall := health.Overall(results)
			cmd.Printf("overall: %s\n", overall)
			if overall == health.StatusUnhealthy {
				return fmt.Errorf("cache at %s is %s", store.Root(), overall)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&maxExpired, "max-expired", 0.5, "expired fraction above which the cache is degraded")
	return cmd
}

func newKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <operation> [params-json]",
		Short: "Print the cache key of a call signature",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params map[string]any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("params must be a JSON object: %w", err)
				}
			}

			key, err := cache.DeriveKey(args[0], params)
			if err != nil {
				return err
			}
			cmd.Println(key)
			return nil
		},
	}
}

func entries(n int) string {
	if n == 1 {
		return "entry"
	}
	return "entries"
}
