package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/chmdznr/oss-asset-sync/internal/hashutil"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// Upload sends local-only assets to the remote. Folders come first so each
// file's parent already has a remote id when the file is created.
func (s *Syncer) Upload(ctx context.Context, log logging.Logger, p *models.Project) error {
	pending, err := s.cat.PendingUploads(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("pending uploads: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	rows, err := s.cat.ListAssets(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	ix := newAssetIndex(rows)

	var files int
	var total int64
	for _, a := range pending {
		if !a.IsFile {
			continue
		}
		files++
		if fi, err := os.Stat(localPath(p, a.Path)); err == nil {
			total += fi.Size()
		}
	}
	progress := newTransferProgress("upload "+p.Name, files, total, s.progress)
	progress.start()
	defer progress.finish(ctx, log)

	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Rows created as intermediate folders earlier in this pass.
		if cur := ix.byPath[a.Path]; cur != nil && cur.OnRemote {
			continue
		}

		abs := localPath(p, a.Path)
		fi, err := os.Stat(abs)
		if err != nil || fi.IsDir() == a.IsFile {
			log.Info(ctx, "local asset is gone, dropping it", "path", a.Path)
			if err := s.cat.DeleteAsset(ctx, a.ID); err != nil {
				return fmt.Errorf("delete %s: %w", a.Path, err)
			}
			progress.skip()
			continue
		}

		if !a.IsFile {
			if err := s.createFolderTree(ctx, log, p, ix, a.Path); err != nil {
				if remote.IsConnectivity(err) {
					return err
				}
				log.Error(ctx, "could not create remote folder", "path", a.Path, "error", err)
			}
			continue
		}

		parentID, ok := s.remoteParent(p, ix, a.Path)
		if !ok {
			log.Info(ctx, "parent folder not on remote yet, retrying next pass", "path", a.Path)
			progress.skip()
			continue
		}
		log.Info(ctx, "uploading asset", "path", a.Path, "size", fi.Size())
		if err := s.uploadFile(ctx, a, abs, parentID); err != nil {
			if remote.IsConnectivity(err) {
				return err
			}
			if errors.Is(err, fs.ErrNotExist) {
				log.Info(ctx, "local file vanished during upload, dropping it", "path", a.Path)
				if err := s.cat.DeleteAsset(ctx, a.ID); err != nil {
					return fmt.Errorf("delete %s: %w", a.Path, err)
				}
				progress.skip()
				continue
			}
			log.Error(ctx, "upload failed", "path", a.Path, "error", err)
			progress.skip()
			continue
		}
		ix.add(a)
		progress.update(fi.Size())
	}
	return nil
}

// remoteParent returns the remote id of the folder that holds path.
func (s *Syncer) remoteParent(p *models.Project, ix *assetIndex, path string) (string, bool) {
	dir := parentPath(path)
	if dir == "" {
		return p.RootAssetID, true
	}
	parent := ix.byPath[dir]
	if parent == nil || !parent.OnRemote || parent.RemoteID == "" {
		return "", false
	}
	return parent.RemoteID, true
}

// createFolderTree finds the nearest ancestor of path already on the remote,
// then creates every missing folder below it down to path itself, saving each
// new remote id as it goes.
func (s *Syncer) createFolderTree(ctx context.Context, log logging.Logger, p *models.Project, ix *assetIndex, path string) error {
	base, parentID := "", p.RootAssetID
	for dir := parentPath(path); dir != ""; dir = parentPath(dir) {
		if a := ix.byPath[dir]; a != nil && a.OnRemote && a.RemoteID != "" {
			base, parentID = dir, a.RemoteID
			break
		}
	}

	rel := strings.TrimPrefix(strings.TrimPrefix(path, base), "/")
	cur := base
	for _, name := range strings.Split(rel, "/") {
		cur = joinPath(cur, name)

		a := ix.byPath[cur]
		if a == nil {
			a = &models.Asset{ProjectID: p.ProjectID, Name: name, Path: cur, OnLocal: true, Verified: true}
		}
		log.Info(ctx, "creating remote folder", "path", cur)
		created, err := s.store.CreateAsset(ctx, parentID, remote.NewAsset{Name: name, Type: remote.TypeFolder})
		if err != nil {
			return err
		}

		a.RemoteID = created.ID
		a.RemoteParentID = parentID
		a.OnRemote = true
		if a.ID == 0 {
			err = s.cat.InsertAsset(ctx, a)
		} else {
			err = s.cat.UpdateAsset(ctx, a)
		}
		if err != nil {
			return fmt.Errorf("save folder %s: %w", cur, err)
		}
		ix.add(a)
		parentID = created.ID
	}
	return nil
}

// uploadFile creates a remote placeholder under parentID and sends the file
// content to it. The row is saved as soon as the placeholder exists so a
// failed transfer is picked up by verification.
func (s *Syncer) uploadFile(ctx context.Context, a *models.Asset, abs, parentID string) error {
	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if a.LocalHash == "" {
		if a.LocalHash, err = hashutil.File(abs); err != nil {
			return fmt.Errorf("hash %s: %w", a.Path, err)
		}
	}

	created, err := s.store.CreateAsset(ctx, parentID, remote.NewAsset{
		Name:     a.Name,
		Type:     remote.TypeFile,
		FileType: mimeType(a.Name),
		FileSize: fi.Size(),
	})
	if err != nil {
		return err
	}

	a.RemoteID = created.ID
	a.RemoteParentID = parentID
	a.Original = created.Original
	a.OnRemote = true
	a.UploadedAt = s.now().Unix()
	a.Verified = false
	a.Unconfirmed = false
	if err := s.cat.UpdateAsset(ctx, a); err != nil {
		return fmt.Errorf("save %s: %w", a.Path, err)
	}

	return s.store.Upload(ctx, created, f)
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
