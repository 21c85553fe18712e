// +build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/cvdhost/cvdd/cmd/cvdd/api"
	"github.com/cvdhost/cvdd/cmd/cvdd/config"
	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/instancemgr"
	"github.com/cvdhost/cvdd/lib/lockfile"
	"github.com/cvdhost/cvdd/lib/otel"
	"github.com/cvdhost/cvdd/lib/paths"
	"github.com/cvdhost/cvdd/lib/reclaim"
	"github.com/cvdhost/cvdd/lib/selector"
)

type application struct {
	Ctx             context.Context
	Logger          *slog.Logger
	Config          *config.Config
	Paths           *paths.Paths
	LockManager     *lockfile.Manager
	Database        *instancedb.Database
	Selector        *selector.Selector
	InstanceManager *instancemgr.Manager
	Reclaimer       *reclaim.Reclaimer
	Otel            *otel.Provider
	Service         *api.Service
}

func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		provideLogger,
		provideContext,
		provideConfig,
		providePaths,
		provideLockManager,
		provideDatabase,
		provideSelector,
		provideInstanceManager,
		provideReclaimer,
		provideOtel,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
