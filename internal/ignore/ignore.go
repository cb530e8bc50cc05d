// Package ignore decides which folders are excluded from transfer and undoes
// the exclusion when a pattern is removed.
package ignore

import (
	"context"
	"fmt"
	"path"

	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// SystemPatterns are seeded into a fresh catalog. They cover NAS and OS
// folders that must never be mirrored.
var SystemPatterns = []string{
	"#recycle",
	"@eaDir",
	"bin",
	"config",
	"dev",
	"etc",
	"etc.defaults",
	"initrd",
	"lib",
	"lost+found",
	"mnt",
	"proc",
	"root",
	"run",
	"sbin",
	"sys",
	"tmp",
	"usr",
	"var",
	"var.defaults",
	"cores",
	"Library",
	"private",
	"opt",
	"System",
}

// IsIgnored reports whether name equals one of the patterns or matches it as
// a glob. Malformed globs only match literally.
func IsIgnored(name string, patterns []string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Names returns the pattern strings of the given records.
func Names(patterns []models.IgnorePattern) []string {
	names := make([]string, 0, len(patterns))
	for _, p := range patterns {
		names = append(names, p.Name)
	}
	return names
}

// Catalog is the part of the asset catalog PropagateRemoval needs.
type Catalog interface {
	IgnoredFolders(ctx context.Context) ([]*models.Asset, error)
	ListAssets(ctx context.Context, projectID string) ([]*models.Asset, error)
	SetIgnore(ctx context.Context, ids []int64, ignore bool) error
}

// PropagateRemoval clears the ignore flag on every folder matched by the
// removed pattern and on its descendants. The walk stops at any folder whose
// own name still matches an active pattern. It returns the number of assets
// that were cleared.
func PropagateRemoval(ctx context.Context, removed string, active []string, c Catalog) (int, error) {
	blocked, err := c.IgnoredFolders(ctx)
	if err != nil {
		return 0, fmt.Errorf("ignored folders: %w", err)
	}

	roots := make(map[string][]*models.Asset)
	for _, f := range blocked {
		if !IsIgnored(f.Name, []string{removed}) || IsIgnored(f.Name, active) {
			continue
		}
		roots[f.ProjectID] = append(roots[f.ProjectID], f)
	}

	var cleared []int64
	for projectID, folders := range roots {
		assets, err := c.ListAssets(ctx, projectID)
		if err != nil {
			return 0, fmt.Errorf("list assets of %s: %w", projectID, err)
		}
		cleared = append(cleared, clearSubtrees(NewTree(assets), folders, active)...)
	}

	if len(cleared) == 0 {
		return 0, nil
	}
	if err := c.SetIgnore(ctx, cleared, false); err != nil {
		return 0, fmt.Errorf("clear ignore flags: %w", err)
	}
	return len(cleared), nil
}

// clearSubtrees walks breadth first from the roots and collects ids to clear.
func clearSubtrees(tree *Tree, roots []*models.Asset, active []string) []int64 {
	var ids []int64
	seen := make(map[int64]bool)

	queue := append([]*models.Asset(nil), roots...)
	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true

		if a.Ignore {
			ids = append(ids, a.ID)
		}
		if a.IsFile {
			continue
		}
		for _, child := range tree.Children(a.Path) {
			if !child.IsFile && IsIgnored(child.Name, active) {
				continue
			}
			queue = append(queue, child)
		}
	}
	return ids
}

// Tree indexes one project's non-duplicate assets by parent path.
type Tree struct {
	children map[string][]*models.Asset
}

// NewTree builds the index in one pass.
func NewTree(assets []*models.Asset) *Tree {
	t := &Tree{children: make(map[string][]*models.Asset)}
	for _, a := range assets {
		if a.Duplicate || a.Path == "" {
			continue
		}
		parent := ParentPath(a.Path)
		t.children[parent] = append(t.children[parent], a)
	}
	return t
}

// Children returns the direct children of the folder at p ("" is the root).
func (t *Tree) Children(p string) []*models.Asset {
	return t.children[p]
}

// ParentPath returns the catalog path of the parent folder, "" for root children.
func ParentPath(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
