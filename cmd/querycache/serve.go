package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sightserver/querycache/admin"
	"github.com/sightserver/querycache/observe"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	var (
		addr          string
		sweepInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics, stats and maintenance over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, f, func(a *app) error {
				authn, err := a.cfg.Admin.Auth.Authenticator()
				if err != nil {
					return err
				}
				if addr == "" {
					addr = a.cfg.Admin.Addr
				}
				srv, err := admin.New(admin.Options{
					Addr:            addr,
					Cache:           a.manager,
					Policy:          a.cfg.Cache.Policy(),
					Authenticator:   authn,
					Logger:          a.in.Logger,
					ReadTimeout:     a.cfg.Admin.ReadTimeout,
					WriteTimeout:    a.cfg.Admin.WriteTimeout,
					ShutdownTimeout: a.cfg.Admin.ShutdownTimeout,
				})
				if err != nil {
					return err
				}
				if authn == nil {
					a.in.Logger.Warn(ctx, "admin: authentication disabled", observe.Field{Key: "addr", Value: addr})
				}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return srv.ListenAndServe(gctx) })
				if sweepInterval > 0 {
					g.Go(func() error {
						sweepLoop(gctx, a, sweepInterval)
						return nil
					})
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config admin.addr)")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 5*time.Minute, "background sweep period; 0 disables")
	return cmd
}

// sweepLoop evicts expired entries until ctx is done.
func sweepLoop(ctx context.Context, a *app, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.manager.Sweep(ctx)
			if err != nil {
				a.in.Logger.Warn(ctx, "cache: background sweep failed", observe.Err(err))
				continue
			}
			if n > 0 {
				a.in.Logger.Info(ctx, "cache: background sweep", observe.Field{Key: "evicted", Value: n})
			}
		}
	}
}
