package api

import (
	"context"
	"fmt"

	mw "github.com/cvdhost/cvdd/lib/middleware"
	"github.com/cvdhost/cvdd/lib/sentinel"
)

// handleRemove implements the "remove" subcommand: resolve the selector to
// a group and remove it, subject to RemoveInstanceGroup's terminal-state
// precondition.
func (s *Service) handleRemove(ctx context.Context, req CommandRequest) error {
	ctx, group, err := mw.ResolveGroup(ctx, s.Selector, req.selectorOpts())
	if err != nil {
		return fmt.Errorf("resolve group: %w", err)
	}

	removed, err := s.InstanceManager.RemoveInstanceGroup(ctx, group)
	if err != nil {
		return fmt.Errorf("remove group %q: %w", group.Name, err)
	}
	if !removed {
		return fmt.Errorf("group %q was not removed: %w", group.Name, sentinel.ErrNotFound)
	}
	return nil
}
