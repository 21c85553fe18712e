package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cvdhost/cvdd/lib/instancemgr"
	"github.com/cvdhost/cvdd/lib/sentinel"
)

// handleCreate implements the "create" subcommand: CreateInstanceGroup over
// the caller-supplied structured fields.
func (s *Service) handleCreate(ctx context.Context, req CommandRequest) (json.RawMessage, error) {
	if req.Create == nil {
		return nil, fmt.Errorf("create command requires a create body: %w", sentinel.ErrValidation)
	}

	instances := make([]instancemgr.InstanceParams, len(req.Create.Instances))
	for i, inst := range req.Create.Instances {
		instances[i] = instancemgr.InstanceParams{ID: inst.ID, Name: inst.Name}
	}

	params := instancemgr.CreateGroupParams{
		GroupName: req.Create.GroupName,
		Instances: instances,
		Directories: instancemgr.DirectoryParams{
			Home:              req.Create.Directories.Home,
			HostArtifactsPath: req.Create.Directories.HostArtifactsPath,
			ProductOutPaths:   req.Create.Directories.ProductOutPaths,
		},
	}

	group, err := s.InstanceManager.CreateInstanceGroup(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create instance group: %w", err)
	}
	return json.Marshal(group)
}
