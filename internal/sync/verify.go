package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chmdznr/oss-asset-sync/internal/db"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// VerifyPending compares the remote checksum of every upload older than the
// grace period with the local hash. Failed uploads are deleted and sent again
// up to cfg.MaxRetries times, after which they are accepted as unconfirmed.
func (s *Syncer) VerifyPending(ctx context.Context, log logging.Logger) error {
	now := s.now()
	pending, err := s.cat.PendingVerification(ctx, now.Add(-s.cfg.VerifyGrace).Unix())
	if err != nil {
		return fmt.Errorf("pending verification: %w", err)
	}

	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := log.With("path", a.Path)

		ra, err := s.store.GetAsset(ctx, a.RemoteID)
		if errors.Is(err, remote.ErrNotFound) {
			log.Info(ctx, "uploaded asset was deleted on remote, rescanning")
			if err := s.cat.DeleteAsset(ctx, a.ID); err != nil {
				return err
			}
			if err := s.cat.ResetLocalWatermark(ctx, a.ProjectID); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if remote.IsConnectivity(err) {
				return err
			}
			log.Error(ctx, "could not fetch uploaded asset", "error", err)
			continue
		}

		age := now.Sub(time.Unix(a.UploadedAt, 0))
		switch {
		case !ra.UploadComplete():
			log.Warn(ctx, "upload did not complete")
			err = s.reupload(ctx, log, a)
		case ra.Checksum != "" && ra.Checksum != a.LocalHash:
			log.Warn(ctx, "hash mismatch", "local", a.LocalHash, "remote", ra.Checksum)
			err = s.reupload(ctx, log, a)
		case ra.Checksum != "":
			log.Info(ctx, "upload verified")
			a.RemoteHash = ra.Checksum
			a.Verified = true
			err = s.cat.UpdateAsset(ctx, a)
		case age >= s.cfg.VerifyGiveUp:
			log.Warn(ctx, "no remote checksum, accepting upload unconfirmed", "age", age.String())
			a.Verified = true
			a.Unconfirmed = true
			err = s.cat.UpdateAsset(ctx, a)
		default:
			log.Debug(ctx, "remote checksum not computed yet")
		}
		if err != nil {
			if remote.IsConnectivity(err) {
				return err
			}
			log.Error(ctx, "verification failed", "error", err)
		}
	}
	return nil
}

// reupload deletes the remote copy of a and uploads it again. Once the retry
// budget is spent the asset is accepted as unconfirmed instead.
func (s *Syncer) reupload(ctx context.Context, log logging.Logger, a *models.Asset) error {
	if a.Retries >= s.cfg.MaxRetries {
		log.Warn(ctx, "retries exhausted, accepting upload unconfirmed", "retries", a.Retries)
		a.Verified = true
		a.Unconfirmed = true
		return s.cat.UpdateAsset(ctx, a)
	}

	if err := s.store.DeleteAsset(ctx, a.RemoteID); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}

	p, err := s.cat.GetProject(ctx, a.ProjectID)
	if errors.Is(err, db.ErrNotFound) {
		return s.cat.DeleteAsset(ctx, a.ID)
	}
	if err != nil {
		return err
	}

	abs := localPath(p, a.Path)
	if fi, err := os.Stat(abs); err != nil || fi.IsDir() {
		log.Info(ctx, "local file is gone, dropping it")
		return s.cat.DeleteAsset(ctx, a.ID)
	}

	parentID := p.RootAssetID
	if dir := parentPath(a.Path); dir != "" {
		parent, err := s.cat.GetAssetByPath(ctx, p.ProjectID, dir)
		if err != nil || !parent.OnRemote || parent.RemoteID == "" {
			// The next upload pass recreates the parent first.
			log.Info(ctx, "parent folder not on remote, requeueing upload")
			a.RemoteID = ""
			a.OnRemote = false
			a.Verified = true
			a.Retries++
			return s.cat.UpdateAsset(ctx, a)
		}
		parentID = parent.RemoteID
	}

	a.Retries++
	log.Info(ctx, "re-uploading", "attempt", a.Retries+1)
	return s.uploadFile(ctx, a, abs, parentID)
}
