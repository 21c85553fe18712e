package api

import (
	"context"
	"encoding/json"
	"fmt"

	mw "github.com/cvdhost/cvdd/lib/middleware"
)

// handleStatus implements the "status" subcommand: resolve the selector to
// either a single instance or, when all_instances is set, an entire group,
// then fetch status JSON for the resolved target(s).
func (s *Service) handleStatus(ctx context.Context, req CommandRequest) (json.RawMessage, error) {
	opts := req.selectorOpts()

	if req.AllInstances {
		ctx, group, err := mw.ResolveGroup(ctx, s.Selector, opts)
		if err != nil {
			return nil, fmt.Errorf("resolve group: %w", err)
		}
		statuses := s.InstanceManager.FetchGroupStatus(ctx, group)
		return json.Marshal(statuses)
	}

	ctx, inst, group, err := mw.ResolveInstance(ctx, s.Selector, opts)
	if err != nil {
		return nil, fmt.Errorf("resolve instance: %w", err)
	}
	return s.InstanceManager.FetchInstanceStatus(ctx, group, inst)
}
