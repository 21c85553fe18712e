package api

import (
	"github.com/cvdhost/cvdd/cmd/cvdd/config"
	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/instancemgr"
	"github.com/cvdhost/cvdd/lib/otel"
	"github.com/cvdhost/cvdd/lib/reclaim"
	"github.com/cvdhost/cvdd/lib/selector"
)

// Service implements the /v1/command envelope over cvdd's core components.
type Service struct {
	Config          *config.Config
	Database        *instancedb.Database
	Selector        *selector.Selector
	InstanceManager *instancemgr.Manager
	Reclaimer       *reclaim.Reclaimer
	Otel            *otel.Provider
}

// New creates a Service wired to the given core components.
func New(
	cfg *config.Config,
	db *instancedb.Database,
	sel *selector.Selector,
	mgr *instancemgr.Manager,
	reclaimer *reclaim.Reclaimer,
	otelProvider *otel.Provider,
) *Service {
	return &Service{
		Config:          cfg,
		Database:        db,
		Selector:        sel,
		InstanceManager: mgr,
		Reclaimer:       reclaimer,
		Otel:            otelProvider,
	}
}
