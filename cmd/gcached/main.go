package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/gcache/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	root := &cobra.Command{
		Use:           "gcached",
		Short:         "gcached - networked in-memory key-value cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	d := config.Default()
	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.String("listen", d.Listen, "gRPC listen address")
	pf.String("admin", d.Admin, "admin HTTP listen address (empty disables)")
	pf.Int("max-message-bytes", d.MaxMessageBytes, "largest gRPC message accepted")
	pf.Int("shards", d.Store.Shards, "store shard count")
	pf.Duration("sweep-interval", d.Store.SweepInterval, "expiry sweep period")
	pf.Int("pool-size", d.Store.PoolSize, "pre-allocated entries (0 disables the pool)")
	pf.Duration("pool-refill-interval", d.Store.PoolRefillInterval, "entry pool refill period")
	pf.String("log-level", d.Log.Level, "debug, info, warn or error")
	pf.String("log-format", d.Log.Format, "json or console")

	for key, flag := range map[string]string{
		"listen":                     "listen",
		"admin":                      "admin",
		"max_message_bytes":          "max-message-bytes",
		"store.shards":               "shards",
		"store.sweep_interval":       "sweep-interval",
		"store.pool_size":            "pool-size",
		"store.pool_refill_interval": "pool-refill-interval",
		"log.level":                  "log-level",
		"log.format":                 "log-format",
	} {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	load := func() (config.Config, error) { return config.Load(v, cfgFile) }
	root.AddCommand(serveCmd(load), configCmd(load))
	return root
}

func configCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
