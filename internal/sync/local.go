package sync

import (
	"context"
	"fmt"

	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// ScanLocal merges a scan of the project directory into the catalog. New
// paths become local-only rows; rows known from the remote are flagged
// on_local when the entry shows up on disk. The local watermark advances only
// after a pass in which every entry was stable. A missing project directory
// surfaces as scanner.ErrRootMissing.
func (s *Syncer) ScanLocal(ctx context.Context, log logging.Logger, p *models.Project, patterns []string) error {
	rows, err := s.cat.ListAssets(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	ix := newAssetIndex(rows)

	known := func(path string) bool {
		_, ok := ix.byPath[path]
		return ok
	}
	res, err := s.scan.Scan(ctx, p.LocalPath, p.LastLocalScan, patterns, known)
	if err != nil {
		return err
	}
	for _, sk := range res.Skipped {
		log.Warn(ctx, "cannot read local entry, skipping it", "path", sk.Path, "error", sk.Err)
	}

	added := 0
	for _, obs := range res.Observations {
		path := canonicalPath(obs.Path)
		if a, ok := ix.byPath[path]; ok {
			if a.OnLocal {
				continue
			}
			a.OnLocal = true
			if err := s.cat.UpdateAsset(ctx, a); err != nil {
				return fmt.Errorf("update %s: %w", path, err)
			}
			continue
		}

		a := &models.Asset{
			ProjectID: p.ProjectID,
			Name:      obs.Name,
			Path:      path,
			IsFile:    obs.IsFile,
			OnLocal:   true,
			LocalHash: obs.Hash,
			Verified:  true,
		}
		if err := s.cat.InsertAsset(ctx, a); err != nil {
			return fmt.Errorf("insert %s: %w", path, err)
		}
		ix.add(a)
		added++
	}

	if added > 0 {
		log.Info(ctx, "new local assets", "count", added)
		if err := s.cat.SetNewData(ctx, p.ProjectID, true); err != nil {
			return err
		}
	}
	if !res.AllReady {
		log.Debug(ctx, "local files still being written, keeping watermark")
		return nil
	}
	if res.Watermark <= p.LastLocalScan {
		return nil
	}
	return s.cat.SetLocalWatermark(ctx, p.ProjectID, res.Watermark, res.TotalSize)
}
