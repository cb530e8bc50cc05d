package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/oss-asset-sync/internal/ignore"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func addProject(t *testing.T, c *Catalog, id string) *models.Project {
	t.Helper()
	p := &models.Project{ProjectID: id, Name: "Project " + id, TeamID: "team", RootAssetID: "root-" + id, Sync: true}
	require.NoError(t, c.InsertProject(context.Background(), p))
	return p
}

func TestOpen_SeedsSystemPatternsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sync.db")

	c, err := Open(ctx, path)
	require.NoError(t, err)
	patterns, err := c.ListIgnorePatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, patterns, len(ignore.SystemPatterns))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	c, err = Open(ctx, path)
	require.NoError(t, err)
	defer c.Close()
	patterns, err = c.ListIgnorePatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, patterns, len(ignore.SystemPatterns))
}

func TestProjects(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	addProject(t, c, "p1")

	p, err := c.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, EpochWatermark, p.LastRemoteScan)
	assert.Equal(t, int64(0), p.LastLocalScan)
	assert.True(t, p.Sync)

	_, err = c.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.RenameProject(ctx, "p1", "Renamed"))
	require.NoError(t, c.SetRemoteWatermark(ctx, "p1", "2024-05-01T10:00:00.000000Z", 42))
	require.NoError(t, c.SetNewData(ctx, "p1", true))
	require.NoError(t, c.SetLocalWatermark(ctx, "p1", 1700000000, 7))

	p, err = c.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Name)
	assert.Equal(t, "2024-05-01T10:00:00.000000Z", p.LastRemoteScan)
	assert.Equal(t, int64(42), p.RemoteSize)
	assert.Equal(t, int64(1700000000), p.LastLocalScan)
	assert.Equal(t, int64(7), p.LocalSize)
	assert.True(t, p.NewData)

	require.NoError(t, c.MarkDeletedRemotely(ctx, "p1"))
	synced, err := c.ListSyncedProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, synced)

	assert.ErrorIs(t, c.RenameProject(ctx, "missing", "x"), ErrNotFound)
}

func TestSetLocalPath_MarksRebind(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	addProject(t, c, "p1")

	require.NoError(t, c.SetLocalPath(ctx, "p1", "/data/a"))
	p, err := c.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, p.PathChanged, "first bind is not a change")

	require.NoError(t, c.SetLocalPath(ctx, "p1", "/data/a"))
	p, _ = c.GetProject(ctx, "p1")
	assert.False(t, p.PathChanged)

	require.NoError(t, c.SetLocalPath(ctx, "p1", "/data/b"))
	p, _ = c.GetProject(ctx, "p1")
	assert.True(t, p.PathChanged)
	assert.Equal(t, "/data/b", p.LocalPath)

	changed, err := c.ListPathChanged(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 1)

	require.NoError(t, c.InsertAsset(ctx, &models.Asset{ProjectID: "p1", Name: "a", Path: "a", IsFile: true, OnLocal: true}))
	require.NoError(t, c.SetRemoteWatermark(ctx, "p1", "2024-01-01T00:00:00.000000Z", 1))
	require.NoError(t, c.ResetProject(ctx, "p1"))

	p, _ = c.GetProject(ctx, "p1")
	assert.False(t, p.PathChanged)
	assert.Equal(t, EpochWatermark, p.LastRemoteScan)
	assets, err := c.ListAssets(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestAssets_PathUniquenessIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	addProject(t, c, "p1")

	a := &models.Asset{ProjectID: "p1", Name: "clip.mp4", Path: "clip.mp4", IsFile: true, RemoteID: "r1", OnRemote: true, Verified: true}
	require.NoError(t, c.InsertAsset(ctx, a))
	assert.NotZero(t, a.ID)

	dup := &models.Asset{ProjectID: "p1", Name: "clip.mp4", Path: "clip.mp4", IsFile: true, RemoteID: "r2", OnRemote: true}
	assert.Error(t, c.InsertAsset(ctx, dup))

	dup.Duplicate = true
	dup.Ignore = true
	require.NoError(t, c.InsertAsset(ctx, dup))

	got, err := c.GetAssetByPath(ctx, "p1", "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RemoteID)

	got, err = c.GetAssetByRemoteID(ctx, "r2")
	require.NoError(t, err)
	assert.True(t, got.Duplicate)

	_, err = c.GetAssetByPath(ctx, "p1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssets_PendingQueues(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	addProject(t, c, "p1")

	rows := []*models.Asset{
		{ProjectID: "p1", Name: "deep.mov", Path: "a/b/deep.mov", IsFile: true, OnLocal: true, Verified: true},
		{ProjectID: "p1", Name: "b", Path: "a/b", OnLocal: true, Verified: true},
		{ProjectID: "p1", Name: "a", Path: "a", OnLocal: true, Verified: true},
		{ProjectID: "p1", Name: "remote.mov", Path: "r/remote.mov", IsFile: true, OnRemote: true, RemoteID: "x1", Verified: true},
		{ProjectID: "p1", Name: "r", Path: "r", OnRemote: true, RemoteID: "x0", Verified: true},
		{ProjectID: "p1", Name: "skip", Path: "skip", OnRemote: true, RemoteID: "x2", Ignore: true, Verified: true},
		{ProjectID: "p1", Name: "up.mov", Path: "up.mov", IsFile: true, OnLocal: true, OnRemote: true, UploadedAt: 100},
	}
	for _, r := range rows {
		require.NoError(t, c.InsertAsset(ctx, r))
	}

	up, err := c.PendingUploads(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, up, 3)
	assert.Equal(t, []string{"a", "a/b", "a/b/deep.mov"}, paths(up))

	down, err := c.PendingDownloads(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r", "r/remote.mov"}, paths(down))

	verify, err := c.PendingVerification(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, verify)
	verify, err = c.PendingVerification(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"up.mov"}, paths(verify))

	stats, err := c.GetStats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalFiles)
	assert.Equal(t, int64(4), stats.TotalFolders)
	assert.Equal(t, int64(3), stats.PendingUploads)
	assert.Equal(t, int64(2), stats.PendingDownload)
	assert.Equal(t, int64(1), stats.Unverified)
	assert.Equal(t, int64(1), stats.Ignored)
}

func TestAssets_UpdateDeletePrune(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	addProject(t, c, "p1")

	a := &models.Asset{ProjectID: "p1", Name: "x", Path: "x", IsFile: true, OnLocal: true, Verified: true}
	require.NoError(t, c.InsertAsset(ctx, a))

	a.OnRemote = true
	a.RemoteID = "r1"
	a.Retries = 2
	require.NoError(t, c.UpdateAsset(ctx, a))
	got, err := c.GetAssetByRemoteID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Retries)

	a.OnLocal = false
	a.OnRemote = false
	require.NoError(t, c.UpdateAsset(ctx, a))
	n, err := c.PruneOrphans(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, c.UpdateAsset(ctx, a), ErrNotFound)
}

func TestIgnorePatterns(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	require.NoError(t, c.AddIgnorePattern(ctx, "renders"))
	require.NoError(t, c.AddIgnorePattern(ctx, "renders"))
	active, err := c.ListIgnorePatterns(ctx)
	require.NoError(t, err)
	assert.Contains(t, ignore.Names(active), "renders")

	require.NoError(t, c.RemoveIgnorePattern(ctx, "renders"))
	assert.ErrorIs(t, c.RemoveIgnorePattern(ctx, "renders"), ErrNotFound)
	assert.ErrorIs(t, c.RemoveIgnorePattern(ctx, ignore.SystemPatterns[0]), ErrNotFound)

	removed, err := c.RemovedIgnorePatterns(ctx)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, models.OriginUser, removed[0].Origin)

	require.NoError(t, c.PurgeIgnorePattern(ctx, removed[0].ID))
	removed, err = c.RemovedIgnorePatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestIgnorePropagationAgainstCatalog(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	addProject(t, c, "p1")

	folder := &models.Asset{ProjectID: "p1", Name: "renders", Path: "renders", Ignore: true, OnRemote: true, RemoteID: "f1"}
	child := &models.Asset{ProjectID: "p1", Name: "a.mov", Path: "renders/a.mov", IsFile: true, Ignore: true, OnRemote: true, RemoteID: "f2"}
	require.NoError(t, c.InsertAsset(ctx, folder))
	require.NoError(t, c.InsertAsset(ctx, child))

	n, err := ignore.PropagateRemoval(ctx, "renders", nil, c)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	blocked, err := c.IgnoredFolders(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocked)
}

func TestCredentialsAndLogout(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	addProject(t, c, "p1")

	_, err := c.GetCredentials(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.SaveCredentials(ctx, &models.Credentials{Type: models.CredentialDevToken, AccessToken: "t1"}))
	require.NoError(t, c.SaveCredentials(ctx, &models.Credentials{Type: models.CredentialOAuth, AccessToken: "t2", RefreshToken: "r", Expiry: 99}))
	cr, err := c.GetCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialOAuth, cr.Type)
	assert.Equal(t, "t2", cr.AccessToken)
	assert.Equal(t, int64(99), cr.Expiry)

	require.NoError(t, c.Logout(ctx))
	_, err = c.GetCredentials(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	projects, err := c.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestWriter_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	addProject(t, c, "p1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			assert.NoError(t, c.InsertAsset(ctx, &models.Asset{ProjectID: "p1", Name: name, Path: name, OnLocal: true}))
		}(i)
	}
	wg.Wait()

	assets, err := c.ListAssets(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, assets, 20)
}

func TestWriter_ClosedRejectsWrites(t *testing.T) {
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.SetNewData(context.Background(), "p1", true), ErrClosed)
}

func paths(assets []*models.Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.Path)
	}
	return out
}
