package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// EpochWatermark is the remote watermark of a project never scanned.
const EpochWatermark = "1970-01-01T00:00:00.000000Z"

const projectColumns = `project_id, name, team_id, root_asset_id, local_path, path_changed,
	sync, new_data, deleted_remotely, delete_requested,
	last_remote_scan, last_local_scan, local_size, remote_size`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (*models.Project, error) {
	var p models.Project
	err := r.Scan(
		&p.ProjectID,
		&p.Name,
		&p.TeamID,
		&p.RootAssetID,
		&p.LocalPath,
		&p.PathChanged,
		&p.Sync,
		&p.NewData,
		&p.DeletedRemotely,
		&p.DeleteRequested,
		&p.LastRemoteScan,
		&p.LastLocalScan,
		&p.LocalSize,
		&p.RemoteSize,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Catalog) queryProjects(ctx context.Context, where string, args ...any) ([]*models.Project, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects `+where+` ORDER BY name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject retrieves a project by remote id.
func (c *Catalog) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	row := c.conn.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE project_id = ?`, projectID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return p, err
}

// ListProjects returns every known project.
func (c *Catalog) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return c.queryProjects(ctx, "")
}

// ListTeamProjects returns the projects of one team.
func (c *Catalog) ListTeamProjects(ctx context.Context, teamID string) ([]*models.Project, error) {
	return c.queryProjects(ctx, "WHERE team_id = ?", teamID)
}

// ListSyncedProjects returns the projects enabled for sync.
func (c *Catalog) ListSyncedProjects(ctx context.Context) ([]*models.Project, error) {
	return c.queryProjects(ctx, "WHERE sync = 1 AND deleted_remotely = 0")
}

// ListDeleteRequested returns projects the user asked to forget.
func (c *Catalog) ListDeleteRequested(ctx context.Context) ([]*models.Project, error) {
	return c.queryProjects(ctx, "WHERE delete_requested = 1")
}

// ListPathChanged returns projects whose local directory was rebound.
func (c *Catalog) ListPathChanged(ctx context.Context) ([]*models.Project, error) {
	return c.queryProjects(ctx, "WHERE path_changed = 1")
}

// InsertProject stores a newly discovered project with fresh watermarks.
func (c *Catalog) InsertProject(ctx context.Context, p *models.Project) error {
	if p.LastRemoteScan == "" {
		p.LastRemoteScan = EpochWatermark
	}
	return c.exec(ctx, `
		INSERT INTO projects (project_id, name, team_id, root_asset_id, local_path, sync, last_remote_scan, last_local_scan)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ProjectID, p.Name, p.TeamID, p.RootAssetID, p.LocalPath, boolInt(p.Sync), p.LastRemoteScan, p.LastLocalScan)
}

// RenameProject updates the display name.
func (c *Catalog) RenameProject(ctx context.Context, projectID, name string) error {
	return c.execOne(ctx, `UPDATE projects SET name = ? WHERE project_id = ?`, name, projectID)
}

// MarkDeletedRemotely flags a project that vanished from the remote and stops
// syncing it.
func (c *Catalog) MarkDeletedRemotely(ctx context.Context, projectID string) error {
	return c.execOne(ctx, `UPDATE projects SET deleted_remotely = 1, sync = 0 WHERE project_id = ?`, projectID)
}

// SetSync enables or disables a project.
func (c *Catalog) SetSync(ctx context.Context, projectID string, enabled bool) error {
	return c.execOne(ctx, `UPDATE projects SET sync = ? WHERE project_id = ?`, boolInt(enabled), projectID)
}

// SetLocalPath binds a project to a directory. Rebinding a bound project marks
// it path_changed so the loop rebuilds its assets.
func (c *Catalog) SetLocalPath(ctx context.Context, projectID, localPath string) error {
	return c.execOne(ctx, `
		UPDATE projects
		SET path_changed = CASE WHEN local_path != '' AND local_path != ?1 THEN 1 ELSE path_changed END,
			local_path = ?1
		WHERE project_id = ?2
	`, localPath, projectID)
}

// RequestDelete queues a project for removal by the next iteration.
func (c *Catalog) RequestDelete(ctx context.Context, projectID string) error {
	return c.execOne(ctx, `UPDATE projects SET delete_requested = 1, sync = 0 WHERE project_id = ?`, projectID)
}

// SetNewData sets or clears the dirty flag shown by status.
func (c *Catalog) SetNewData(ctx context.Context, projectID string, dirty bool) error {
	return c.exec(ctx, `UPDATE projects SET new_data = ? WHERE project_id = ?`, boolInt(dirty), projectID)
}

// MarkAllNewData flags every synced project dirty.
func (c *Catalog) MarkAllNewData(ctx context.Context) error {
	return c.exec(ctx, `UPDATE projects SET new_data = 1 WHERE sync = 1`)
}

// SetRemoteWatermark records a completed remote delta fetch.
func (c *Catalog) SetRemoteWatermark(ctx context.Context, projectID, watermark string, remoteSize int64) error {
	return c.exec(ctx, `UPDATE projects SET last_remote_scan = ?, remote_size = ? WHERE project_id = ?`,
		watermark, remoteSize, projectID)
}

// SetLocalWatermark records a completed local scan.
func (c *Catalog) SetLocalWatermark(ctx context.Context, projectID string, watermark, localSize int64) error {
	return c.exec(ctx, `UPDATE projects SET last_local_scan = ?, local_size = ? WHERE project_id = ?`,
		watermark, localSize, projectID)
}

// ResetLocalWatermark forces the next local scan of one project to start over.
func (c *Catalog) ResetLocalWatermark(ctx context.Context, projectID string) error {
	return c.exec(ctx, `UPDATE projects SET last_local_scan = 0 WHERE project_id = ?`, projectID)
}

// ResetAllLocalWatermarks forces a full local rescan of every project.
func (c *Catalog) ResetAllLocalWatermarks(ctx context.Context) error {
	return c.exec(ctx, `UPDATE projects SET last_local_scan = 0`)
}

// ResetProject drops all assets of a project and resets both watermarks, used
// after its local directory changed.
func (c *Catalog) ResetProject(ctx context.Context, projectID string) error {
	return c.write(ctx, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE project_id = ?`, projectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projects
			SET path_changed = 0, last_remote_scan = ?, last_local_scan = 0, local_size = 0, remote_size = 0
			WHERE project_id = ?
		`, EpochWatermark, projectID)
		return err
	})
}

// DeleteProject removes a project and all of its assets.
func (c *Catalog) DeleteProject(ctx context.Context, projectID string) error {
	return c.write(ctx, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE project_id = ?`, projectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, projectID)
		return err
	})
}
