// Code generated by Wire would normally live here; hand-maintained since
// the wire CLI is not run in this environment. Keep in sync with wire.go.

//go:build !wireinject

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cvdhost/cvdd/cmd/cvdd/api"
	"github.com/cvdhost/cvdd/cmd/cvdd/config"
	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/instancemgr"
	"github.com/cvdhost/cvdd/lib/lockfile"
	"github.com/cvdhost/cvdd/lib/logger"
	"github.com/cvdhost/cvdd/lib/otel"
	"github.com/cvdhost/cvdd/lib/paths"
	"github.com/cvdhost/cvdd/lib/reclaim"
	"github.com/cvdhost/cvdd/lib/selector"
)

func provideContext() context.Context {
	return context.Background()
}

func provideConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	logCfg := logger.NewConfig()
	logCfg.DefaultLevel = logCfg.LevelFor(logger.SubsystemAPI)
	return logger.NewLogger(logCfg)
}

func providePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.RuntimeDir)
}

func provideLockManager(cfg *config.Config, p *paths.Paths) *lockfile.Manager {
	return lockfile.New(p, cfg.LockNamespaceSize)
}

func provideDatabase(cfg *config.Config, p *paths.Paths) *instancedb.Database {
	return instancedb.New(p, cfg.GroupNamePrefix)
}

func provideSelector(db *instancedb.Database) (*selector.Selector, error) {
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	systemHome, err := os.UserHomeDir()
	if err != nil {
		systemHome = ""
	}
	return selector.New(db, systemHome, devNull, os.Stderr), nil
}

func provideInstanceManager(p *paths.Paths, locks *lockfile.Manager, db *instancedb.Database) *instancemgr.Manager {
	return instancemgr.New(p, locks, db)
}

func provideReclaimer(db *instancedb.Database) *reclaim.Reclaimer {
	return reclaim.New(db)
}

func provideOtel(ctx context.Context, cfg *config.Config) (*otel.Provider, func(), error) {
	otelCfg := otel.Config{
		Enabled:           cfg.OtelEnabled,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Version:           cfg.Version,
		Env:               cfg.Env,
	}
	provider, shutdown, err := otel.Init(ctx, otelCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize otel: %w", err)
	}
	cleanup := func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}
	return provider, cleanup, nil
}

// initializeApp wires every cvdd component together, the hand-maintained
// equivalent of what `wire` would generate from wire.go.
func initializeApp() (*application, func(), error) {
	ctx := provideContext()

	cfg, err := provideConfig()
	if err != nil {
		return nil, func() {}, err
	}

	log := provideLogger(cfg)
	p := providePaths(cfg)
	locks := provideLockManager(cfg, p)
	db := provideDatabase(cfg, p)

	sel, err := provideSelector(db)
	if err != nil {
		return nil, func() {}, err
	}

	mgr := provideInstanceManager(p, locks, db)
	reclaimer := provideReclaimer(db)

	otelProvider, otelCleanup, err := provideOtel(ctx, cfg)
	if err != nil {
		return nil, func() {}, err
	}

	svc := api.New(cfg, db, sel, mgr, reclaimer, otelProvider)

	app := &application{
		Ctx:             ctx,
		Logger:          log,
		Config:          cfg,
		Paths:           p,
		LockManager:     locks,
		Database:        db,
		Selector:        sel,
		InstanceManager: mgr,
		Reclaimer:       reclaimer,
		Otel:            otelProvider,
		Service:         svc,
	}

	cleanup := func() {
		otelCleanup()
	}

	return app, cleanup, nil
}
