package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/gcache"
	asynchook "github.com/unkn0wn-root/gcache/hooks/async"
	promhooks "github.com/unkn0wn-root/gcache/hooks/prom"
	"github.com/unkn0wn-root/gcache/internal/admin"
	"github.com/unkn0wn-root/gcache/internal/config"
	gzap "github.com/unkn0wn-root/gcache/log/zap"
	"github.com/unkn0wn-root/gcache/sloghooks"
	"github.com/unkn0wn-root/gcache/store"
	grpctransport "github.com/unkn0wn-root/gcache/transport/grpc"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cache server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			zl, err := newZap(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, zl, nil)
		},
	}
}

func newZap(c config.LogConfig) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	return zc.Build()
}

func slogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// run serves until ctx is done, then shuts everything down. ready, when
// set, receives the bound gRPC and admin addresses.
func run(ctx context.Context, cfg config.Config, zl *zap.Logger, ready func(grpcAddr, adminAddr net.Addr)) (err error) {
	log := gzap.ZapLogger{L: zl}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ph, err := promhooks.New(reg)
	if err != nil {
		return err
	}
	events := asynchook.New(
		sloghooks.New(
			slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Log.Level)})),
			sloghooks.Options{ExpiredReadEvery: 100, PoolRefilledEvery: 10},
		),
		1, 1024,
	)
	hooks := fanout{ph, events}

	sopts := store.Options{
		Shards:             cfg.Store.Shards,
		SweepInterval:      cfg.Store.SweepInterval,
		PoolTarget:         cfg.Store.PoolSize,
		PoolRefillInterval: cfg.Store.PoolRefillInterval,
		Logger:             log,
		Hooks:              hooks,
	}
	if cfg.Store.PoolSize == 0 {
		sopts.Allocator = store.NaiveAllocator{}
	}
	st := store.New(sopts)

	gs := grpctransport.NewServer(st, grpctransport.ServerOptions{
		Logger:          log,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	grpcAddr, err := gs.Start(cfg.Listen)
	if err != nil {
		events.Close()
		return multierr.Append(err, st.Close(context.Background()))
	}

	var (
		adm       *admin.Server
		adminAddr net.Addr
	)
	if cfg.Admin != "" {
		adm = admin.New(admin.Options{Store: st, Gatherer: reg, Logger: log})
		if adminAddr, err = adm.Start(cfg.Admin); err != nil {
			gs.Stop()
			events.Close()
			return multierr.Append(err, st.Close(context.Background()))
		}
	}

	log.Info("gcached started", gcache.Fields{
		"listen": grpcAddr.String(),
		"admin":  cfg.Admin,
		"shards": cfg.Store.Shards,
		"pool":   cfg.Store.PoolSize,
	})
	if ready != nil {
		ready(grpcAddr, adminAddr)
	}

	<-ctx.Done()
	log.Info("shutting down", nil)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	gs.Stop()
	if adm != nil {
		err = multierr.Append(err, adm.Shutdown(sctx))
	}
	err = multierr.Append(err, st.Close(sctx))
	events.Close()

	if err != nil {
		log.Error("shutdown", gcache.Fields{"err": err})
		return err
	}
	log.Info("gcached stopped", nil)
	return nil
}

// fanout delivers each event to every hook in order.
type fanout []gcache.Hooks

func (f fanout) SweepCompleted(evicted, remaining int, elapsed time.Duration) {
	for _, h := range f {
		h.SweepCompleted(evicted, remaining, elapsed)
	}
}

func (f fanout) SweepEntryFailed(k string, err error) {
	for _, h := range f {
		h.SweepEntryFailed(k, err)
	}
}

func (f fanout) ExpiredRead(k string) {
	for _, h := range f {
		h.ExpiredRead(k)
	}
}

func (f fanout) PoolRefilled(added, available int) {
	for _, h := range f {
		h.PoolRefilled(added, available)
	}
}

func (f fanout) PoolRefillFailed(err error) {
	for _, h := range f {
		h.PoolRefillFailed(err)
	}
}

func (f fanout) RetryAttempt(op string, attempt int, err error) {
	for _, h := range f {
		h.RetryAttempt(op, attempt, err)
	}
}

func (f fanout) AsyncFailed(op, k string, err error) {
	for _, h := range f {
		h.AsyncFailed(op, k, err)
	}
}
