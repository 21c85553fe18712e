package api

import (
	"context"
	"fmt"

	"github.com/cvdhost/cvdd/lib/instancemgr"
	mw "github.com/cvdhost/cvdd/lib/middleware"
)

// handleStop implements the "stop" subcommand: resolve the selector to a
// group and issue the stop command. CUTTLEFISH_CONFIG_FILE, if present in
// the envelope's env map, is passed through; otherwise the default
// per-group config file location is used (spec.md §6, "passed through to
// subprocesses if not otherwise set").
func (s *Service) handleStop(ctx context.Context, req CommandRequest) error {
	ctx, group, err := mw.ResolveGroup(ctx, s.Selector, req.selectorOpts())
	if err != nil {
		return fmt.Errorf("resolve group: %w", err)
	}

	configPath := req.Env["CUTTLEFISH_CONFIG_FILE"]
	if configPath == "" {
		configPath = instancemgr.ConfigFilePath(group)
	}

	if _, err := s.InstanceManager.IssueStopCommand(ctx, configPath, group); err != nil {
		return fmt.Errorf("stop group %q: %w", group.Name, err)
	}
	return nil
}
