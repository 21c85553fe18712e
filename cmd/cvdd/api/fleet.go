package api

import (
	"context"
	"encoding/json"
	"fmt"
)

// fleetGroup is one entry of the "fleet" response: a group's name and the
// status of every instance it contains, preserving instance order.
type fleetGroup struct {
	GroupName string            `json:"group_name"`
	Instances []json.RawMessage `json:"instances"`
}

// fleetResponse is the top-level {"groups":[...]} document spec.md §6 names.
type fleetResponse struct {
	Groups []fleetGroup `json:"groups"`
}

// handleFleet implements the "fleet" subcommand: enumerate every group and
// invoke the equivalent of "status --all_instances" on each.
func (s *Service) handleFleet(ctx context.Context) (json.RawMessage, error) {
	groups, err := s.Database.InstanceGroups()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	resp := fleetResponse{Groups: make([]fleetGroup, len(groups))}
	for i, g := range groups {
		resp.Groups[i] = fleetGroup{
			GroupName: g.Name,
			Instances: s.InstanceManager.FetchGroupStatus(ctx, g),
		}
	}
	return json.Marshal(resp)
}
