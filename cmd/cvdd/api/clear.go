package api

import (
	"context"
	"fmt"
)

// handleClear implements the "clear" subcommand: the unconditional
// fleet-wide teardown spec.md §6 names alongside "stop" ("stop / clear
// equivalents"). Unlike "stop" it takes no selector: it always targets
// every group in the database.
func (s *Service) handleClear(ctx context.Context) error {
	if err := s.InstanceManager.CvdClear(ctx); err != nil {
		return fmt.Errorf("clear instance groups: %w", err)
	}
	return nil
}
