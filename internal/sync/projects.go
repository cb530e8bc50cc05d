package sync

import (
	"context"
	"fmt"

	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// UpdateProjects mirrors the remote project list into the catalog. New
// projects start with sync off and no local path; projects that vanished are
// flagged deleted_remotely.
func (s *Syncer) UpdateProjects(ctx context.Context, log logging.Logger) error {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return err
	}
	var listed []remote.Project
	for _, t := range teams {
		projects, err := s.store.ListProjects(ctx, t.ID)
		if err != nil {
			return err
		}
		listed = append(listed, projects...)
	}

	known, err := s.cat.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list catalog projects: %w", err)
	}
	byID := make(map[string]*models.Project, len(known))
	for _, p := range known {
		byID[p.ProjectID] = p
	}

	active := make(map[string]bool, len(listed))
	for _, rp := range listed {
		active[rp.ID] = true
		p, ok := byID[rp.ID]
		if !ok {
			log.Info(ctx, "new project found", "project", rp.Name)
			err := s.cat.InsertProject(ctx, &models.Project{
				ProjectID:   rp.ID,
				Name:        rp.Name,
				TeamID:      rp.TeamID,
				RootAssetID: rp.RootAssetID,
			})
			if err != nil {
				return fmt.Errorf("insert project %s: %w", rp.Name, err)
			}
			continue
		}
		if p.Name != rp.Name {
			log.Info(ctx, "project renamed", "from", p.Name, "to", rp.Name)
			if err := s.cat.RenameProject(ctx, p.ProjectID, rp.Name); err != nil {
				return fmt.Errorf("rename project %s: %w", p.ProjectID, err)
			}
		}
	}

	for _, p := range known {
		if active[p.ProjectID] || p.DeletedRemotely {
			continue
		}
		log.Warn(ctx, "project deleted on remote", "project", p.Name)
		if err := s.cat.MarkDeletedRemotely(ctx, p.ProjectID); err != nil {
			return fmt.Errorf("flag project %s: %w", p.ProjectID, err)
		}
	}
	return nil
}
