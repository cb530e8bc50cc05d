package sync

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// canonicalPath normalises a relative path to catalog form: "/" separators,
// no empty or dot segments and no leading slash. ".." never climbs above the
// project root.
func canonicalPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// joinPath builds the catalog path of name under parent. An empty parent is
// the project root.
func joinPath(parent, name string) string {
	if parent == "" {
		return canonicalPath(name)
	}
	return canonicalPath(parent + "/" + name)
}

// parentPath is the catalog path of the folder holding p, "" for root children.
func parentPath(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// localPath resolves a catalog path inside the project directory.
func localPath(p *models.Project, rel string) string {
	return filepath.Join(p.LocalPath, filepath.FromSlash(rel))
}

// assetIndex is an in-memory view of one project's rows built once per phase.
type assetIndex struct {
	byRemote map[string]*models.Asset
	// byPath holds canonical rows only, duplicates never claim a path.
	byPath map[string]*models.Asset
}

func newAssetIndex(rows []*models.Asset) *assetIndex {
	ix := &assetIndex{
		byRemote: make(map[string]*models.Asset, len(rows)),
		byPath:   make(map[string]*models.Asset, len(rows)),
	}
	for _, a := range rows {
		ix.add(a)
	}
	return ix
}

func (ix *assetIndex) add(a *models.Asset) {
	if a.RemoteID != "" {
		ix.byRemote[a.RemoteID] = a
	}
	if !a.Duplicate {
		ix.byPath[a.Path] = a
	}
}

// folder returns the folder row with the given remote id. ok is true for the
// project root, in which case the row is nil.
func (ix *assetIndex) folder(rootID, remoteID string) (*models.Asset, bool) {
	if remoteID == rootID {
		return nil, true
	}
	a, ok := ix.byRemote[remoteID]
	if !ok || a.IsFile {
		return nil, false
	}
	return a, true
}

func (ix *assetIndex) remoteFiles() int64 {
	var n int64
	for _, a := range ix.byRemote {
		if a.IsFile && a.OnRemote {
			n++
		}
	}
	return n
}
