package main

import (
	"context"
	"errors"

	"github.com/sightserver/querycache/cache"
	"github.com/sightserver/querycache/config"
	"github.com/sightserver/querycache/observe"
)

// app is a loaded configuration with its telemetry and cache manager.
type app struct {
	cfg     config.Config
	obs     observe.Observer
	in      *observe.Instruments
	manager *cache.Manager
}

func openApp(ctx context.Context, f *rootFlags) (*app, error) {
	cfg, err := config.Load(ctx, f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Observe.Logging.Level = f.logLevel
	}
	cfg.Observe.Version = version

	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return nil, err
	}
	in, err := observe.NewInstruments(obs)
	if err != nil {
		return nil, errors.Join(err, obs.Shutdown(ctx))
	}
	m, err := config.NewManager(ctx, cfg, in)
	if err != nil {
		return nil, errors.Join(err, obs.Shutdown(ctx))
	}
	return &app{cfg: cfg, obs: obs, in: in, manager: m}, nil
}

// Close saves the semantic snapshot, closes the store and flushes
// telemetry.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.manager.Close(ctx), a.obs.Shutdown(ctx))
}

// withApp runs fn against an opened app and closes it afterwards.
func withApp(ctx context.Context, f *rootFlags, fn func(a *app) error) (err error) {
	a, err := openApp(ctx, f)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close(context.WithoutCancel(ctx))) }()
	return fn(a)
}
