package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chmdznr/oss-asset-sync/internal/hashutil"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// Download fetches remote-only assets into the project directory. Folders are
// created first. A file whose remote checksum is not computed yet waits up to
// cfg.ChecksumWait after its upload completed.
func (s *Syncer) Download(ctx context.Context, log logging.Logger, p *models.Project) error {
	pending, err := s.cat.PendingDownloads(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("pending downloads: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var files int
	for _, a := range pending {
		if a.IsFile {
			files++
		}
	}
	progress := newTransferProgress("download "+p.Name, files, 0, s.progress)
	progress.start()
	defer progress.finish(ctx, log)

	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := localPath(p, a.Path)

		if !a.IsFile {
			if err := os.MkdirAll(abs, 0o755); err != nil {
				log.Error(ctx, "could not create local folder", "path", a.Path, "error", err)
				continue
			}
			a.OnLocal = true
			if err := s.cat.UpdateAsset(ctx, a); err != nil {
				return fmt.Errorf("save %s: %w", a.Path, err)
			}
			continue
		}

		size, err := s.downloadFile(ctx, log, p, a, abs)
		switch {
		case err == nil && size >= 0:
			progress.update(size)
		case err == nil:
			progress.skip()
		case remote.IsConnectivity(err):
			return err
		default:
			log.Error(ctx, "download failed", "path", a.Path, "error", err)
			progress.skip()
		}
	}
	return nil
}

// downloadFile transfers one file. It returns the bytes written, or -1 when
// the file was deferred or dropped.
func (s *Syncer) downloadFile(ctx context.Context, log logging.Logger, p *models.Project, a *models.Asset, abs string) (int64, error) {
	ra, err := s.store.GetAsset(ctx, a.RemoteID)
	if errors.Is(err, remote.ErrNotFound) {
		log.Info(ctx, "remote asset was deleted, dropping it", "path", a.Path)
		return -1, s.cat.DeleteAsset(ctx, a.ID)
	}
	if err != nil {
		return -1, err
	}

	if ra.Checksum == "" {
		if !ra.UploadComplete() || s.now().Sub(*ra.UploadCompletedAt) < s.cfg.ChecksumWait {
			log.Debug(ctx, "waiting for remote checksum", "path", a.Path)
			return -1, nil
		}
		log.Warn(ctx, "remote checksum never arrived, downloading unconfirmed", "path", a.Path)
	}

	dir := filepath.Dir(abs)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		log.Warn(ctx, "download folder is missing, dropping asset", "path", a.Path)
		return -1, s.cat.DeleteAsset(ctx, a.ID)
	}

	log.Info(ctx, "downloading asset", "path", a.Path, "size", ra.FileSize)
	err = s.store.Download(ctx, ra, dir, false)
	if errors.Is(err, remote.ErrExists) {
		log.Info(ctx, "local file already exists, keeping it", "path", a.Path)
	} else if err != nil {
		return -1, err
	}

	a.OnLocal = true
	a.RemoteHash = ra.Checksum
	if a.Original == "" {
		a.Original = ra.Original
	}
	if sum, err := hashutil.File(abs); err == nil {
		a.LocalHash = sum
	} else {
		log.Warn(ctx, "could not hash downloaded file", "path", a.Path, "error", err)
	}
	if err := s.cat.UpdateAsset(ctx, a); err != nil {
		return -1, fmt.Errorf("save %s: %w", a.Path, err)
	}
	return ra.FileSize, nil
}
