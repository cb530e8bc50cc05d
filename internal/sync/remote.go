package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chmdznr/oss-asset-sync/internal/ignore"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// watermarkLayout is the stored form of the remote scan cursor.
const watermarkLayout = "2006-01-02T15:04:05.000000Z"

// FetchRemoteDelta records assets created on the remote since the project's
// remote watermark. Folders are resolved parent first whatever order the
// listing returns them in. The watermark only moves when every new asset was
// resolved, so anything skipped is listed again next time.
func (s *Syncer) FetchRemoteDelta(ctx context.Context, log logging.Logger, p *models.Project, patterns []string) error {
	next := s.now().UTC().Add(-s.cfg.RemoteOverscan).Format(watermarkLayout)
	since, err := time.Parse(time.RFC3339Nano, p.LastRemoteScan)
	if err != nil {
		log.Warn(ctx, "bad remote watermark, scanning from the start", "watermark", p.LastRemoteScan)
		since = time.Unix(0, 0).UTC()
	}

	rp, err := s.store.GetProject(ctx, p.ProjectID)
	if err != nil {
		return err
	}
	listed, err := s.store.ListAssetsUpdatedSince(ctx, rp.AccountID, p.ProjectID, since)
	if err != nil {
		return err
	}

	rows, err := s.cat.ListAssets(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	ix := newAssetIndex(rows)

	var folders, files []remote.Asset
	for _, a := range listed {
		if _, known := ix.byRemote[a.ID]; known || a.ID == p.RootAssetID {
			continue
		}
		if a.IsFolder() {
			folders = append(folders, a)
		} else {
			files = append(files, a)
		}
	}
	if len(folders) == 0 && len(files) == 0 {
		return s.cat.SetRemoteWatermark(ctx, p.ProjectID, next, ix.remoteFiles())
	}
	log.Info(ctx, "new remote assets", "folders", len(folders), "files", len(files))

	folders, dropped := dedupeFolders(byInsertion(folders))
	for id := range dropped {
		log.Warn(ctx, "remote folder shares name and parent with another, skipping it", "remote_id", id)
	}

	added, pending, err := s.resolveFolders(ctx, log, p, ix, folders, dropped, patterns)
	if err != nil {
		return err
	}
	unresolved := len(pending)
	for _, f := range pending {
		log.Debug(ctx, "remote folder parent unknown, retrying next pass", "name", f.Name, "parent", f.ParentID)
	}

	for _, f := range files {
		ok, inserted, err := s.resolveFile(ctx, log, p, ix, dropped, f)
		if err != nil {
			return err
		}
		if !ok {
			unresolved++
		}
		if inserted {
			added++
		}
	}

	if added > 0 {
		if err := s.cat.SetNewData(ctx, p.ProjectID, true); err != nil {
			return err
		}
	}
	if unresolved > 0 {
		log.Info(ctx, "remote delta incomplete, keeping watermark", "unresolved", unresolved)
		return nil
	}
	return s.cat.SetRemoteWatermark(ctx, p.ProjectID, next, ix.remoteFiles())
}

// byInsertion orders folders oldest first.
func byInsertion(folders []remote.Asset) []remote.Asset {
	sort.SliceStable(folders, func(i, j int) bool {
		return folders[i].InsertedAt.Before(folders[j].InsertedAt)
	})
	return folders
}

// dedupeFolders keeps the first folder of every (parent, name) pair. The
// remote ids of the others are returned so their contents can be skipped.
func dedupeFolders(folders []remote.Asset) ([]remote.Asset, map[string]bool) {
	type key struct{ parent, name string }
	seen := make(map[key]bool, len(folders))
	dropped := make(map[string]bool)
	kept := folders[:0]
	for _, f := range folders {
		k := key{f.ParentID, f.Name}
		if seen[k] {
			dropped[f.ID] = true
			continue
		}
		seen[k] = true
		kept = append(kept, f)
	}
	return kept, dropped
}

// resolveFolders inserts folders in passes until no more parents can be
// found. Folders below a dropped folder are dropped too. It returns the
// folders still unresolved.
func (s *Syncer) resolveFolders(ctx context.Context, log logging.Logger, p *models.Project, ix *assetIndex, folders []remote.Asset, dropped map[string]bool, patterns []string) (int, []remote.Asset, error) {
	added := 0
	pending := folders
	for len(pending) > 0 {
		var retry []remote.Asset
		for _, f := range pending {
			if dropped[f.ParentID] {
				dropped[f.ID] = true
				continue
			}
			parent, ok := ix.folder(p.RootAssetID, f.ParentID)
			if !ok {
				retry = append(retry, f)
				continue
			}

			a := &models.Asset{
				ProjectID:      p.ProjectID,
				Name:           f.Name,
				RemoteID:       f.ID,
				RemoteParentID: f.ParentID,
				OnRemote:       true,
				Verified:       true,
				Ignore:         ignore.IsIgnored(f.Name, patterns),
			}
			var base string
			if parent != nil {
				base = parent.Path
				a.Ignore = a.Ignore || parent.Ignore
				a.Duplicate = parent.Duplicate
			}
			a.Path = joinPath(base, f.Name)
			if _, taken := ix.byPath[a.Path]; taken || a.Duplicate {
				log.Warn(ctx, "remote folder duplicates a known path, ignoring it", "path", a.Path)
				a.Duplicate = true
				a.Ignore = true
			}

			if err := s.cat.InsertAsset(ctx, a); err != nil {
				return added, nil, fmt.Errorf("insert folder %s: %w", a.Path, err)
			}
			ix.add(a)
			added++
		}
		if len(retry) == len(pending) {
			return added, retry, nil
		}
		pending = retry
	}
	return added, nil, nil
}

// resolveFile records one remote file. ok is false when the file has to be
// retried on a later pass.
func (s *Syncer) resolveFile(ctx context.Context, log logging.Logger, p *models.Project, ix *assetIndex, dropped map[string]bool, f remote.Asset) (ok, inserted bool, err error) {
	if dropped[f.ParentID] {
		log.Debug(ctx, "remote file inside skipped folder, dropping", "name", f.Name)
		return true, false, nil
	}
	if !f.UploadComplete() {
		log.Debug(ctx, "remote file still uploading", "name", f.Name)
		return false, false, nil
	}
	parent, found := ix.folder(p.RootAssetID, f.ParentID)
	if !found {
		log.Debug(ctx, "remote file parent unknown, retrying next pass", "name", f.Name, "parent", f.ParentID)
		return false, false, nil
	}

	var base string
	if parent != nil {
		if parent.Duplicate {
			log.Debug(ctx, "remote file inside duplicate folder, dropping", "name", f.Name, "folder", parent.Path)
			return true, false, nil
		}
		base = parent.Path
	}
	path := joinPath(base, f.Name)
	if _, taken := ix.byPath[path]; taken {
		log.Warn(ctx, "remote file duplicates a known path, dropping", "path", path, "remote_id", f.ID)
		return true, false, nil
	}

	a := &models.Asset{
		ProjectID:      p.ProjectID,
		Name:           f.Name,
		Path:           path,
		IsFile:         true,
		RemoteID:       f.ID,
		RemoteParentID: f.ParentID,
		Original:       f.Original,
		RemoteHash:     f.Checksum,
		OnRemote:       true,
		Verified:       true,
		Ignore:         parent != nil && parent.Ignore,
	}
	if err := s.cat.InsertAsset(ctx, a); err != nil {
		return false, false, fmt.Errorf("insert file %s: %w", path, err)
	}
	ix.add(a)
	return true, true, nil
}
