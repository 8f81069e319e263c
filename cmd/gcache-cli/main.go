package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/codec"
	glogrus "github.com/unkn0wn-root/gcache/log/logrus"
	grpctransport "github.com/unkn0wn-root/gcache/transport/grpc"
	redisconn "github.com/unkn0wn-root/gcache/transport/redis"
)

type globals struct {
	server    string
	port      int
	container string
	compress  bool
	keyHex    string
	timeout   time.Duration
	verbose   bool
	backend   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "gcache-cli",
		Short:         "Command-line client for gcached",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", gcache.DefaultServer, "server host")
	pf.IntVar(&g.port, "port", gcache.DefaultPort, "server port")
	pf.StringVarP(&g.container, "container", "c", "default", "container name")
	pf.BoolVar(&g.compress, "compress", false, "gzip values and gRPC messages")
	pf.StringVar(&g.keyHex, "key-hex", "", "16-byte encryption key, hex encoded")
	pf.DurationVar(&g.timeout, "timeout", 10*time.Second, "per-command deadline")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging to stderr")
	pf.StringVar(&g.backend, "backend", "grpc", "grpc (gcached) or redis")

	root.AddCommand(
		getCmd(g),
		setCmd(g),
		delCmd(g),
		clearCmd(g),
		counterCmd(g, "incr", "Increment a counter and print the new value"),
		counterCmd(g, "decr", "Decrement a counter and print the new value"),
		counterCmd(g, "counter", "Print a counter's value"),
		resetCmd(g),
	)
	return root
}

func newLogger(verbose bool) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.SetLevel(logrus.WarnLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return logrus.NewEntry(l).WithField("component", "gcache-cli")
}

// withCache opens a client, runs fn under the command deadline and closes the client.
func withCache(cmd *cobra.Command, g *globals, fn func(ctx context.Context, c gcache.Cache[string]) error) error {
	var key []byte
	if g.keyHex != "" {
		k, err := hex.DecodeString(g.keyHex)
		if err != nil {
			return fmt.Errorf("--key-hex: %w", err)
		}
		key = k
	}

	var dial gcache.Dialer
	switch g.backend {
	case "grpc":
		dial = grpctransport.Dialer(grpctransport.DialOptions{Compression: g.compress})
	case "redis":
		dial = redisconn.Dialer(goredis.Options{})
	default:
		return fmt.Errorf("--backend: unknown backend %q", g.backend)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()

	c, err := gcache.New(ctx, gcache.Options[string]{
		Container:     g.container,
		Server:        g.server,
		Port:          g.port,
		Dialer:        dial,
		Codec:         codec.String{},
		Compression:   g.compress,
		EncryptionKey: key,
		Logger:        glogrus.LogrusLogger{E: newLogger(g.verbose)},
	})
	if err != nil {
		return err
	}
	runErr := fn(ctx, c)
	if err := c.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func getCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, g, func(ctx context.Context, c gcache.Cache[string]) error {
				v, ok, err := c.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s: not found", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
}

func setCmd(g *globals) *cobra.Command {
	var (
		ttl time.Duration
		at  string
	)
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := expiration(ttl, at)
			if err != nil {
				return err
			}
			return withCache(cmd, g, func(ctx context.Context, c gcache.Cache[string]) error {
				if err := c.AddOrUpdate(ctx, args[0], args[1], exp); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%s, %s)\n",
					args[0], humanize.Bytes(uint64(len(args[1]))), exp.Mode)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "sliding expiration window")
	cmd.Flags().StringVar(&at, "at", "", "absolute expiration, RFC 3339")
	cmd.MarkFlagsMutuallyExclusive("ttl", "at")
	return cmd
}

func expiration(ttl time.Duration, at string) (gcache.Expiration, error) {
	switch {
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return gcache.Expiration{}, fmt.Errorf("--at: %w", err)
		}
		return gcache.ExpiresAt(t), nil
	case ttl > 0:
		return gcache.ExpiresIn(ttl), nil
	case ttl < 0:
		return gcache.Expiration{}, fmt.Errorf("--ttl must be positive, got %s", ttl)
	default:
		return gcache.NoExpiration(), nil
	}
}

func delCmd(g *globals) *cobra.Command {
	var partial bool
	cmd := &cobra.Command{
		Use:   "del <key>",
		Short: "Delete a key, or every key with the prefix when --partial is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, g, func(ctx context.Context, c gcache.Cache[string]) error {
				removed, err := c.Delete(ctx, args[0], partial)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(removed))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&partial, "partial", false, "delete by prefix")
	return cmd
}

func clearCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry in the container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, g, func(ctx context.Context, c gcache.Cache[string]) error {
				return c.Clear(ctx)
			})
		},
	}
}

func counterCmd(g *globals, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, g, func(ctx context.Context, c gcache.Cache[string]) error {
				var (
					n   int64
					err error
				)
				switch use {
				case "incr":
					n, err = c.Incr(ctx, args[0])
				case "decr":
					n, err = c.Decr(ctx, args[0])
				default:
					n, err = c.GetCounter(ctx, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func resetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key>",
		Short: "Reset a counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, g, func(ctx context.Context, c gcache.Cache[string]) error {
				return c.ResetCounter(ctx, args[0])
			})
		},
	}
}
