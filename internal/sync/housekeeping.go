package sync

import (
	"context"
	"fmt"

	"github.com/chmdznr/oss-asset-sync/internal/ignore"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
)

// Housekeeping applies control plane requests recorded in the catalog. It
// touches only the catalog, so it runs even when the remote is unreachable.
func (s *Syncer) Housekeeping(ctx context.Context, log logging.Logger) error {
	doomed, err := s.cat.ListDeleteRequested(ctx)
	if err != nil {
		return fmt.Errorf("delete requested: %w", err)
	}
	for _, p := range doomed {
		log.Info(ctx, "deleting project from catalog", "project", p.Name)
		if err := s.cat.DeleteProject(ctx, p.ProjectID); err != nil {
			return fmt.Errorf("delete project %s: %w", p.Name, err)
		}
	}

	moved, err := s.cat.ListPathChanged(ctx)
	if err != nil {
		return fmt.Errorf("path changed: %w", err)
	}
	for _, p := range moved {
		log.Info(ctx, "local path changed, rebuilding assets", "project", p.Name, "path", p.LocalPath)
		if err := s.cat.ResetProject(ctx, p.ProjectID); err != nil {
			return fmt.Errorf("reset project %s: %w", p.Name, err)
		}
	}

	return s.applyRemovedPatterns(ctx, log)
}

// applyRemovedPatterns clears ignore flags set by removed patterns, forces a
// full local rescan and then drops the tombstones.
func (s *Syncer) applyRemovedPatterns(ctx context.Context, log logging.Logger) error {
	removed, err := s.cat.RemovedIgnorePatterns(ctx)
	if err != nil {
		return fmt.Errorf("removed patterns: %w", err)
	}
	if len(removed) == 0 {
		return nil
	}
	records, err := s.cat.ListIgnorePatterns(ctx)
	if err != nil {
		return fmt.Errorf("ignore patterns: %w", err)
	}
	active := ignore.Names(records)

	for _, r := range removed {
		n, err := ignore.PropagateRemoval(ctx, r.Name, active, s.cat)
		if err != nil {
			return fmt.Errorf("propagate %s: %w", r.Name, err)
		}
		log.Info(ctx, "ignore pattern removed", "pattern", r.Name, "cleared", n)
	}
	if err := s.cat.ResetAllLocalWatermarks(ctx); err != nil {
		return err
	}
	for _, r := range removed {
		if err := s.cat.PurgeIgnorePattern(ctx, r.ID); err != nil {
			return fmt.Errorf("purge %s: %w", r.Name, err)
		}
	}
	return nil
}
