package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

const assetColumns = `id, project_id, name, path, is_file, remote_id, remote_parent_id, original,
	ignored, duplicate, on_remote, on_local, local_hash, remote_hash,
	uploaded_at, verified, unconfirmed, retries`

// depthOrder sorts parents before children.
const depthOrder = `is_file, length(path) - length(replace(path, '/', '')), path`

func scanAsset(r rowScanner) (*models.Asset, error) {
	var a models.Asset
	err := r.Scan(
		&a.ID,
		&a.ProjectID,
		&a.Name,
		&a.Path,
		&a.IsFile,
		&a.RemoteID,
		&a.RemoteParentID,
		&a.Original,
		&a.Ignore,
		&a.Duplicate,
		&a.OnRemote,
		&a.OnLocal,
		&a.LocalHash,
		&a.RemoteHash,
		&a.UploadedAt,
		&a.Verified,
		&a.Unconfirmed,
		&a.Retries,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Catalog) queryAssets(ctx context.Context, tail string, args ...any) ([]*models.Asset, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (c *Catalog) queryAsset(ctx context.Context, what, where string, args ...any) (*models.Asset, error) {
	row := c.conn.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE `+where, args...)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", what, ErrNotFound)
	}
	return a, err
}

// ListAssets returns every row of a project, duplicates included.
func (c *Catalog) ListAssets(ctx context.Context, projectID string) ([]*models.Asset, error) {
	return c.queryAssets(ctx, `WHERE project_id = ? ORDER BY `+depthOrder, projectID)
}

// GetAssetByPath looks up the canonical row at path.
func (c *Catalog) GetAssetByPath(ctx context.Context, projectID, path string) (*models.Asset, error) {
	return c.queryAsset(ctx, path, `project_id = ? AND path = ? AND duplicate = 0`, projectID, path)
}

// GetAssetByRemoteID looks up a row by remote identifier.
func (c *Catalog) GetAssetByRemoteID(ctx context.Context, remoteID string) (*models.Asset, error) {
	return c.queryAsset(ctx, remoteID, `remote_id = ?`, remoteID)
}

// PendingUploads returns local rows missing remotely, parents first.
func (c *Catalog) PendingUploads(ctx context.Context, projectID string) ([]*models.Asset, error) {
	return c.queryAssets(ctx, `
		WHERE project_id = ? AND on_remote = 0 AND on_local = 1 AND ignored = 0 AND duplicate = 0
		ORDER BY `+depthOrder, projectID)
}

// PendingDownloads returns remote rows missing locally, folders first then by
// depth.
func (c *Catalog) PendingDownloads(ctx context.Context, projectID string) ([]*models.Asset, error) {
	return c.queryAssets(ctx, `
		WHERE project_id = ? AND on_local = 0 AND on_remote = 1 AND ignored = 0 AND duplicate = 0
		ORDER BY `+depthOrder, projectID)
}

// PendingVerification returns unverified uploads made at or before cutoff
// (epoch seconds).
func (c *Catalog) PendingVerification(ctx context.Context, cutoff int64) ([]*models.Asset, error) {
	return c.queryAssets(ctx, `WHERE verified = 0 AND uploaded_at <= ? ORDER BY uploaded_at, id`, cutoff)
}

// IgnoredFolders returns every folder row flagged ignored.
func (c *Catalog) IgnoredFolders(ctx context.Context) ([]*models.Asset, error) {
	return c.queryAssets(ctx, `WHERE ignored = 1 AND is_file = 0 AND duplicate = 0 ORDER BY project_id, path`)
}

// InsertAsset stores a new row and fills in its id.
func (c *Catalog) InsertAsset(ctx context.Context, a *models.Asset) error {
	return c.write(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO assets (project_id, name, path, is_file, remote_id, remote_parent_id, original,
				ignored, duplicate, on_remote, on_local, local_hash, remote_hash,
				uploaded_at, verified, unconfirmed, retries)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ProjectID, a.Name, a.Path, boolInt(a.IsFile), a.RemoteID, a.RemoteParentID, a.Original,
			boolInt(a.Ignore), boolInt(a.Duplicate), boolInt(a.OnRemote), boolInt(a.OnLocal),
			a.LocalHash, a.RemoteHash, a.UploadedAt, boolInt(a.Verified), boolInt(a.Unconfirmed), a.Retries,
		)
		if err != nil {
			return err
		}
		a.ID, err = res.LastInsertId()
		return err
	})
}

// UpdateAsset rewrites every mutable column of an existing row.
func (c *Catalog) UpdateAsset(ctx context.Context, a *models.Asset) error {
	return c.execOne(ctx, `
		UPDATE assets
		SET name = ?, path = ?, is_file = ?, remote_id = ?, remote_parent_id = ?, original = ?,
			ignored = ?, duplicate = ?, on_remote = ?, on_local = ?, local_hash = ?, remote_hash = ?,
			uploaded_at = ?, verified = ?, unconfirmed = ?, retries = ?
		WHERE id = ?
	`,
		a.Name, a.Path, boolInt(a.IsFile), a.RemoteID, a.RemoteParentID, a.Original,
		boolInt(a.Ignore), boolInt(a.Duplicate), boolInt(a.OnRemote), boolInt(a.OnLocal),
		a.LocalHash, a.RemoteHash, a.UploadedAt, boolInt(a.Verified), boolInt(a.Unconfirmed), a.Retries,
		a.ID,
	)
}

// DeleteAsset removes one row.
func (c *Catalog) DeleteAsset(ctx context.Context, id int64) error {
	return c.exec(ctx, `DELETE FROM assets WHERE id = ?`, id)
}

// SetIgnore flips the ignore flag of many rows in one transaction.
func (c *Catalog) SetIgnore(ctx context.Context, ids []int64, ignored bool) error {
	if len(ids) == 0 {
		return nil
	}
	return c.write(ctx, func(ctx context.Context, tx DBTX) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE assets SET ignored = ? WHERE id = ?`, boolInt(ignored), id); err != nil {
				return err
			}
		}
		return nil
	})
}

// PruneOrphans deletes rows present on neither side and returns how many went.
func (c *Catalog) PruneOrphans(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := c.write(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE project_id = ? AND on_local = 0 AND on_remote = 0`, projectID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// GetStats summarises the assets of a project.
func (c *Catalog) GetStats(ctx context.Context, projectID string) (*models.Stats, error) {
	var stats models.Stats
	err := c.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN is_file = 1 THEN 1 END) AS total_files,
			COUNT(CASE WHEN is_file = 0 THEN 1 END) AS total_folders,
			COUNT(CASE WHEN is_file = 1 AND on_local = 1 THEN 1 END) AS local_files,
			COUNT(CASE WHEN is_file = 1 AND on_remote = 1 THEN 1 END) AS remote_files,
			COUNT(CASE WHEN on_remote = 0 AND on_local = 1 AND ignored = 0 AND duplicate = 0 THEN 1 END) AS pending_uploads,
			COUNT(CASE WHEN on_local = 0 AND on_remote = 1 AND ignored = 0 AND duplicate = 0 THEN 1 END) AS pending_downloads,
			COUNT(CASE WHEN verified = 0 THEN 1 END) AS unverified,
			COUNT(CASE WHEN unconfirmed = 1 THEN 1 END) AS unconfirmed,
			COUNT(CASE WHEN ignored = 1 THEN 1 END) AS ignored,
			COUNT(CASE WHEN duplicate = 1 THEN 1 END) AS duplicates
		FROM assets
		WHERE project_id = ?
	`, projectID).Scan(
		&stats.TotalFiles,
		&stats.TotalFolders,
		&stats.LocalFiles,
		&stats.RemoteFiles,
		&stats.PendingUploads,
		&stats.PendingDownload,
		&stats.Unverified,
		&stats.Unconfirmed,
		&stats.Ignored,
		&stats.Duplicates,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}
