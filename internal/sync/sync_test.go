package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/oss-asset-sync/internal/config"
	"github.com/chmdznr/oss-asset-sync/internal/db"
	"github.com/chmdznr/oss-asset-sync/internal/hashutil"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

type harness struct {
	t      *testing.T
	ctx    context.Context
	log    logging.Logger
	cat    *db.Catalog
	store  *memStore
	s      *Syncer
	clock  time.Time
	root   string
	id     string
	rootID string
}

// newHarness builds a Syncer over a real catalog and an in-memory store with
// one synced project bound to a temp directory. The clock runs two minutes
// ahead so freshly written files count as stable.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		log:   logging.Nop(),
		clock: time.Now().Add(2 * time.Minute),
		root:  t.TempDir(),
		id:    "proj-1",
	}

	cat, err := db.Open(h.ctx, filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	h.cat = cat

	h.store = newMemStore(h.now)
	h.rootID = h.store.addProject("team-1", h.id, "Commercial").RootAssetID
	h.s = NewSyncer(cat, h.store, config.Default().Sync, h.log, WithClock(h.now))

	require.NoError(t, h.s.UpdateProjects(h.ctx, h.log))
	require.NoError(t, cat.SetLocalPath(h.ctx, h.id, h.root))
	require.NoError(t, cat.SetSync(h.ctx, h.id, true))
	return h
}

func (h *harness) now() time.Time { return h.clock }

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *harness) project() *models.Project {
	h.t.Helper()
	p, err := h.cat.GetProject(h.ctx, h.id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) asset(path string) *models.Asset {
	h.t.Helper()
	a, err := h.cat.GetAssetByPath(h.ctx, h.id, path)
	require.NoError(h.t, err, path)
	return a
}

func (h *harness) assets() []*models.Asset {
	h.t.Helper()
	rows, err := h.cat.ListAssets(h.ctx, h.id)
	require.NoError(h.t, err)
	return rows
}

func (h *harness) write(rel, content string) string {
	h.t.Helper()
	p := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(h.t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "normal path", input: "path/to/file.txt", expected: "path/to/file.txt"},
		{name: "windows path", input: "path\\to\\file.txt", expected: "path/to/file.txt"},
		{name: "path with spaces", input: "path/to/my file.txt", expected: "path/to/my file.txt"},
		{name: "path with double slashes", input: "path//to//file.txt", expected: "path/to/file.txt"},
		{name: "path with dot segments", input: "path/./to/../file.txt", expected: "path/file.txt"},
		{name: "leading slash", input: "/path/file.txt", expected: "path/file.txt"},
		{name: "cannot climb above root", input: "../../file.txt", expected: "file.txt"},
		{name: "empty path", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, canonicalPath(tt.input))
		})
	}
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "clip.mp4", joinPath("", "clip.mp4"))
	assert.Equal(t, "videos/clip.mp4", joinPath("videos", "clip.mp4"))
	assert.Equal(t, "videos", parentPath("videos/clip.mp4"))
	assert.Equal(t, "", parentPath("clip.mp4"))
	assert.Equal(t, "application/pdf", mimeType("brief.pdf"))
	assert.Equal(t, "application/octet-stream", mimeType("clip.unknownext"))
}

func TestUpdateProjects(t *testing.T) {
	h := newHarness(t)

	h.store.projects[0].Name = "Commercial v2"
	h.store.addProject("team-2", "proj-2", "Promo")
	require.NoError(t, h.s.UpdateProjects(h.ctx, h.log))

	assert.Equal(t, "Commercial v2", h.project().Name)
	p2, err := h.cat.GetProject(h.ctx, "proj-2")
	require.NoError(t, err)
	assert.False(t, p2.Sync)
	assert.False(t, p2.HasLocalPath())
	assert.Equal(t, "root-proj-2", p2.RootAssetID)

	h.store.projects = h.store.projects[1:]
	require.NoError(t, h.s.UpdateProjects(h.ctx, h.log))
	p := h.project()
	assert.True(t, p.DeletedRemotely)
	assert.False(t, p.Sync)
}

func TestLifecycle_LocalClipIsUploadedAndVerified(t *testing.T) {
	h := newHarness(t)
	abs := h.write("videos/clip.mp4", strings.Repeat("x", 500))
	want, err := hashutil.File(abs)
	require.NoError(t, err)

	require.NoError(t, h.s.ScanLocal(h.ctx, h.log, h.project(), nil))
	clip := h.asset("videos/clip.mp4")
	assert.True(t, clip.OnLocal)
	assert.False(t, clip.OnRemote)
	assert.Equal(t, want, clip.LocalHash)

	require.NoError(t, h.s.Upload(h.ctx, h.log, h.project()))
	clip = h.asset("videos/clip.mp4")
	assert.True(t, clip.OnRemote)
	assert.False(t, clip.Verified)
	require.NotEmpty(t, clip.RemoteID)

	videos := h.asset("videos")
	assert.True(t, videos.OnRemote)
	assert.Equal(t, videos.RemoteID, h.store.assets[clip.RemoteID].ParentID)

	// Still inside the grace period.
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))
	assert.False(t, h.asset("videos/clip.mp4").Verified)

	h.advance(101 * time.Second)
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))
	clip = h.asset("videos/clip.mp4")
	assert.True(t, clip.Verified)
	assert.False(t, clip.Unconfirmed)
	assert.Equal(t, want, clip.RemoteHash)
}

func TestRunOnce_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	t0 := h.clock.Add(-time.Hour)
	h.write("local/a.mov", "local-data")
	h.store.seedFolder("f1", h.rootID, "remote", t0)
	h.store.seedFile("r1", "f1", "b.mov", "remote-data", t0)

	h.s.RunOnce(h.ctx)

	got, err := os.ReadFile(filepath.Join(h.root, "remote", "b.mov"))
	require.NoError(t, err)
	assert.Equal(t, "remote-data", string(got))
	a := h.asset("local/a.mov")
	assert.True(t, a.OnRemote)
	assert.Equal(t, "local-data", string(h.store.content[a.RemoteID]))

	counters := []int{h.store.created, h.store.deleted, h.store.uploads, h.store.downloads}
	before := h.assets()

	h.s.RunOnce(h.ctx)

	assert.Equal(t, counters, []int{h.store.created, h.store.deleted, h.store.uploads, h.store.downloads})
	if diff := cmp.Diff(before, h.assets()); diff != "" {
		t.Errorf("second pass changed the catalog (-before +after):\n%s", diff)
	}
	assert.False(t, h.project().NewData)
}

func TestFetchRemoteDelta_ChildListedBeforeParent(t *testing.T) {
	h := newHarness(t)
	t0 := h.clock.Add(-time.Hour)
	// B even sorts ahead of A by insertion time.
	h.store.seedFolder("fb", "fa", "B", t0)
	h.store.seedFile("r1", "fb", "shot.mov", "data", t0)
	h.store.seedFolder("fa", h.rootID, "A", t0.Add(time.Second))

	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))

	assert.Equal(t, "fb", h.asset("A/B").RemoteID)
	shot := h.asset("A/B/shot.mov")
	assert.True(t, shot.OnRemote)
	assert.False(t, shot.OnLocal)
	assert.NotEqual(t, db.EpochWatermark, h.project().LastRemoteScan)
	assert.Equal(t, int64(1), h.project().RemoteSize)
}

func TestFetchRemoteDelta_UnknownParentHoldsWatermark(t *testing.T) {
	h := newHarness(t)
	t0 := h.clock.Add(-time.Hour)
	h.store.seedFolder("fa", h.rootID, "A", t0)
	h.store.seedFile("r1", "ghost", "lost.mov", "data", t0)

	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))

	h.asset("A")
	assert.Len(t, h.assets(), 1)
	assert.Equal(t, db.EpochWatermark, h.project().LastRemoteScan)
}

func TestFetchRemoteDelta_IncompleteUploadHoldsWatermark(t *testing.T) {
	h := newHarness(t)
	h.store.seedFile("r1", h.rootID, "big.mov", "data", h.clock.Add(-time.Hour))
	h.store.assets["r1"].UploadCompletedAt = nil

	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))
	assert.Empty(t, h.assets())
	assert.Equal(t, db.EpochWatermark, h.project().LastRemoteScan)
}

func TestFetchRemoteDelta_DuplicateFileIsDropped(t *testing.T) {
	h := newHarness(t)
	t0 := h.clock.Add(-time.Hour)
	h.store.seedFile("r1", h.rootID, "clip.mp4", "one", t0)
	h.store.seedFile("r2", h.rootID, "clip.mp4", "two", t0.Add(time.Second))

	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))

	rows := h.assets()
	require.Len(t, rows, 1)
	assert.Equal(t, "r1", rows[0].RemoteID)
	assert.NotEqual(t, db.EpochWatermark, h.project().LastRemoteScan)
}

func TestFetchRemoteDelta_SameNameFoldersAreDeduplicated(t *testing.T) {
	h := newHarness(t)
	t0 := h.clock.Add(-time.Hour)
	h.store.seedFolder("f2", h.rootID, "A", t0.Add(time.Second))
	h.store.seedFolder("f1", h.rootID, "A", t0)
	h.store.seedFolder("f3", "f2", "B", t0.Add(2*time.Second))
	h.store.seedFile("r1", "f3", "x.mov", "data", t0.Add(3*time.Second))
	h.store.seedFile("r2", "f1", "y.mov", "data", t0.Add(4*time.Second))

	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))

	paths := make(map[string]int)
	for _, a := range h.assets() {
		paths[a.Path]++
		assert.False(t, a.Duplicate, a.Path)
	}
	assert.Equal(t, map[string]int{"A": 1, "A/y.mov": 1}, paths)
	assert.Equal(t, "f1", h.asset("A").RemoteID)
	assert.NotEqual(t, db.EpochWatermark, h.project().LastRemoteScan)
}

func TestFetchRemoteDelta_FolderCollidingWithKnownPathIsIgnored(t *testing.T) {
	h := newHarness(t)
	local := &models.Asset{ProjectID: h.id, Name: "A", Path: "A", OnLocal: true, Verified: true}
	require.NoError(t, h.cat.InsertAsset(h.ctx, local))

	t0 := h.clock.Add(-time.Hour)
	h.store.seedFolder("f1", h.rootID, "A", t0)
	h.store.seedFile("r1", "f1", "x.mov", "data", t0.Add(time.Second))

	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))

	dup, err := h.cat.GetAssetByRemoteID(h.ctx, "f1")
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.True(t, dup.Ignore)
	assert.Len(t, h.assets(), 2)
	assert.NotEqual(t, db.EpochWatermark, h.project().LastRemoteScan)
}

func TestFetchRemoteDelta_IgnoreIsInherited(t *testing.T) {
	h := newHarness(t)
	t0 := h.clock.Add(-time.Hour)
	h.store.seedFolder("f1", h.rootID, "render_tmp", t0)
	h.store.seedFolder("f2", "f1", "pass1", t0)
	h.store.seedFile("r1", "f2", "frame.exr", "data", t0)
	h.store.seedFile("r2", h.rootID, "keep.mov", "data", t0)

	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), []string{"render_*"}))

	assert.True(t, h.asset("render_tmp").Ignore)
	assert.True(t, h.asset("render_tmp/pass1").Ignore)
	assert.True(t, h.asset("render_tmp/pass1/frame.exr").Ignore)
	assert.False(t, h.asset("keep.mov").Ignore)
}

func TestScanLocal_FlagsRemoteRowsFoundOnDisk(t *testing.T) {
	h := newHarness(t)
	h.store.seedFile("r1", h.rootID, "shared.mov", "same", h.clock.Add(-time.Hour))
	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))
	h.write("shared.mov", "same")

	require.NoError(t, h.s.ScanLocal(h.ctx, h.log, h.project(), nil))

	a := h.asset("shared.mov")
	assert.True(t, a.OnLocal)
	assert.True(t, a.OnRemote)
	assert.Len(t, h.assets(), 1)
	assert.Equal(t, h.clock.Add(-500*time.Second).Unix(), h.project().LastLocalScan)
}

func TestScanLocal_UnstableFileHoldsWatermark(t *testing.T) {
	h := newHarness(t)
	h.clock = time.Now()
	h.write("growing.mov", "partial")

	require.NoError(t, h.s.ScanLocal(h.ctx, h.log, h.project(), nil))
	assert.Empty(t, h.assets())
	assert.Zero(t, h.project().LastLocalScan)
}

func TestUpload_CreatesMissingFolderTree(t *testing.T) {
	h := newHarness(t)
	h.write("a/b/c/shot.mov", "data")
	require.NoError(t, h.s.ScanLocal(h.ctx, h.log, h.project(), nil))
	require.NoError(t, h.s.Upload(h.ctx, h.log, h.project()))

	parent := h.rootID
	for _, p := range []string{"a", "a/b", "a/b/c", "a/b/c/shot.mov"} {
		a := h.asset(p)
		require.True(t, a.OnRemote, p)
		assert.Equal(t, parent, h.store.assets[a.RemoteID].ParentID, p)
		assert.Equal(t, parent, a.RemoteParentID, p)
		parent = a.RemoteID
	}
	assert.Equal(t, 4, h.store.created)
	assert.Equal(t, 1, h.store.uploads)
}

func TestUpload_DropsVanishedFiles(t *testing.T) {
	h := newHarness(t)
	abs := h.write("gone.mov", "data")
	require.NoError(t, h.s.ScanLocal(h.ctx, h.log, h.project(), nil))
	require.NoError(t, os.Remove(abs))

	require.NoError(t, h.s.Upload(h.ctx, h.log, h.project()))
	assert.Empty(t, h.assets())
	assert.Zero(t, h.store.created)
}

func TestDownload_WaitsForChecksum(t *testing.T) {
	h := newHarness(t)
	h.store.seedFile("r1", h.rootID, "fresh.mov", "payload", h.clock)
	h.store.assets["r1"].Checksum = ""
	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))

	require.NoError(t, h.s.Download(h.ctx, h.log, h.project()))
	assert.Zero(t, h.store.downloads)
	assert.False(t, h.asset("fresh.mov").OnLocal)

	h.advance(6 * time.Minute)
	require.NoError(t, h.s.Download(h.ctx, h.log, h.project()))
	assert.Equal(t, 1, h.store.downloads)

	a := h.asset("fresh.mov")
	assert.True(t, a.OnLocal)
	want, err := hashutil.File(filepath.Join(h.root, "fresh.mov"))
	require.NoError(t, err)
	assert.Equal(t, want, a.LocalHash)
}

func TestDownload_RemoteDeletedDropsRow(t *testing.T) {
	h := newHarness(t)
	h.store.seedFile("r1", h.rootID, "brief.pdf", "x", h.clock.Add(-time.Hour))
	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))
	delete(h.store.assets, "r1")

	require.NoError(t, h.s.Download(h.ctx, h.log, h.project()))
	assert.Empty(t, h.assets())
}

func TestDownload_ExistingFileIsKept(t *testing.T) {
	h := newHarness(t)
	h.store.seedFile("r1", h.rootID, "brief.pdf", "remote", h.clock.Add(-time.Hour))
	require.NoError(t, h.s.FetchRemoteDelta(h.ctx, h.log, h.project(), nil))
	h.write("brief.pdf", "local")

	require.NoError(t, h.s.Download(h.ctx, h.log, h.project()))
	assert.True(t, h.asset("brief.pdf").OnLocal)
	got, err := os.ReadFile(filepath.Join(h.root, "brief.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "local", string(got))
}

func uploadOne(t *testing.T, h *harness, rel string) {
	t.Helper()
	h.write(rel, "content of "+rel)
	require.NoError(t, h.s.ScanLocal(h.ctx, h.log, h.project(), nil))
	require.NoError(t, h.s.Upload(h.ctx, h.log, h.project()))
}

func TestVerifyPending_HashFailsThreeTimes(t *testing.T) {
	h := newHarness(t)
	h.store.badHash = true
	uploadOne(t, h, "clip.mp4")

	for attempt := 1; attempt <= 2; attempt++ {
		h.advance(101 * time.Second)
		require.NoError(t, h.s.VerifyPending(h.ctx, h.log))
		a := h.asset("clip.mp4")
		assert.False(t, a.Verified, "attempt %d", attempt)
		assert.Equal(t, attempt, a.Retries)
	}

	h.advance(101 * time.Second)
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))
	a := h.asset("clip.mp4")
	assert.True(t, a.Verified)
	assert.True(t, a.Unconfirmed)
	assert.Equal(t, 2, a.Retries)
	assert.Equal(t, 3, h.store.uploads)
	assert.Equal(t, 2, h.store.deleted)

	// Nothing left to verify.
	h.advance(101 * time.Second)
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))
	assert.Equal(t, 3, h.store.uploads)
}

func TestVerifyPending_SecondAttemptSucceeds(t *testing.T) {
	h := newHarness(t)
	h.store.badHash = true
	uploadOne(t, h, "clip.mp4")

	h.advance(101 * time.Second)
	h.store.badHash = false
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))
	assert.False(t, h.asset("clip.mp4").Verified)

	h.advance(101 * time.Second)
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))
	a := h.asset("clip.mp4")
	assert.True(t, a.Verified)
	assert.False(t, a.Unconfirmed)
	assert.Equal(t, 1, a.Retries)
}

func TestVerifyPending_NoChecksumGivesUpAfterThirtyMinutes(t *testing.T) {
	h := newHarness(t)
	h.store.noChecksum = true
	uploadOne(t, h, "clip.mp4")

	h.advance(5 * time.Minute)
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))
	assert.False(t, h.asset("clip.mp4").Verified)

	h.advance(26 * time.Minute)
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))
	a := h.asset("clip.mp4")
	assert.True(t, a.Verified)
	assert.True(t, a.Unconfirmed)
	assert.Zero(t, a.Retries)
}

func TestVerifyPending_RemoteDeletedForcesRescan(t *testing.T) {
	h := newHarness(t)
	uploadOne(t, h, "clip.mp4")
	require.NotZero(t, h.project().LastLocalScan)

	delete(h.store.assets, h.asset("clip.mp4").RemoteID)
	h.advance(101 * time.Second)
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))

	_, err := h.cat.GetAssetByPath(h.ctx, h.id, "clip.mp4")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Zero(t, h.project().LastLocalScan)
}

func TestVerifyPending_IncompleteUploadIsResent(t *testing.T) {
	h := newHarness(t)
	uploadOne(t, h, "clip.mp4")
	first := h.asset("clip.mp4").RemoteID
	h.store.assets[first].UploadCompletedAt = nil

	h.advance(101 * time.Second)
	require.NoError(t, h.s.VerifyPending(h.ctx, h.log))

	a := h.asset("clip.mp4")
	assert.NotEqual(t, first, a.RemoteID)
	assert.Equal(t, 1, a.Retries)
	assert.NotContains(t, h.store.assets, first)
}

func TestHousekeeping_RemovedPatternReleasesAssets(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.cat.AddIgnorePattern(h.ctx, "render_*"))
	t0 := h.clock.Add(-time.Hour)
	h.store.seedFolder("f1", h.rootID, "render_1", t0)
	h.store.seedFile("r1", "f1", "frame.exr", "pixels", t0)

	h.s.RunOnce(h.ctx)
	assert.True(t, h.asset("render_1/frame.exr").Ignore)
	assert.Zero(t, h.store.downloads)
	require.NotZero(t, h.project().LastLocalScan)

	require.NoError(t, h.cat.RemoveIgnorePattern(h.ctx, "render_*"))
	require.NoError(t, h.s.Housekeeping(h.ctx, h.log))

	assert.False(t, h.asset("render_1").Ignore)
	assert.False(t, h.asset("render_1/frame.exr").Ignore)
	assert.Zero(t, h.project().LastLocalScan)
	removed, err := h.cat.RemovedIgnorePatterns(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)

	h.s.RunOnce(h.ctx)
	assert.Equal(t, 1, h.store.downloads)
	assert.FileExists(t, filepath.Join(h.root, "render_1", "frame.exr"))
}

func TestHousekeeping_PathChangeRebuildsAssets(t *testing.T) {
	h := newHarness(t)
	uploadOne(t, h, "clip.mp4")

	require.NoError(t, h.cat.SetLocalPath(h.ctx, h.id, t.TempDir()))
	require.NoError(t, h.s.Housekeeping(h.ctx, h.log))

	p := h.project()
	assert.False(t, p.PathChanged)
	assert.Zero(t, p.LastLocalScan)
	assert.Equal(t, db.EpochWatermark, p.LastRemoteScan)
	assert.Empty(t, h.assets())
}

func TestRunOnce_OfflineStillAppliesDeleteRequests(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.cat.RequestDelete(h.ctx, h.id))
	h.store.offline = true

	h.s.RunOnce(h.ctx)

	_, err := h.cat.GetProject(h.ctx, h.id)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRunOnce_FailingProjectDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)
	h.store.addProject("team-1", "proj-2", "Trailer")
	require.NoError(t, h.s.UpdateProjects(h.ctx, h.log))
	root2 := t.TempDir()
	require.NoError(t, h.cat.SetLocalPath(h.ctx, "proj-2", root2))
	require.NoError(t, h.cat.SetSync(h.ctx, "proj-2", true))
	require.NoError(t, os.WriteFile(filepath.Join(root2, "notes.pdf"), []byte("hello"), 0o644))

	h.store.garbled[h.id] = true
	h.s.RunOnce(h.ctx)

	a, err := h.cat.GetAssetByPath(h.ctx, "proj-2", "notes.pdf")
	require.NoError(t, err)
	assert.True(t, a.OnRemote)
	assert.Equal(t, 1, h.store.uploads)
}

func TestRunOnce_UnreadableFolderDoesNotBlockSiblings(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	h := newHarness(t)
	h.write("good.pdf", "hello")
	locked := filepath.Join(h.root, "locked")
	require.NoError(t, os.Mkdir(locked, 0o755))
	h.write("locked/secret.pdf", "hidden")
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	h.s.RunOnce(h.ctx)

	a := h.asset("good.pdf")
	assert.True(t, a.OnLocal)
	assert.True(t, a.OnRemote)
	assert.Zero(t, h.project().LastLocalScan)
}

func TestRunOnce_MissingRootRemovesProject(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.RemoveAll(h.root))

	h.s.RunOnce(h.ctx)

	_, err := h.cat.GetProject(h.ctx, h.id)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRunOnce_WatermarksNeverMoveBack(t *testing.T) {
	h := newHarness(t)
	h.write("a.mov", "a")
	h.store.seedFile("r1", h.rootID, "b.mov", "b", h.clock.Add(-time.Hour))

	h.s.RunOnce(h.ctx)
	first := h.project()

	for i := 0; i < 3; i++ {
		h.advance(time.Minute)
		h.s.RunOnce(h.ctx)
		next := h.project()
		assert.GreaterOrEqual(t, next.LastLocalScan, first.LastLocalScan)
		assert.GreaterOrEqual(t, next.LastRemoteScan, first.LastRemoteScan)
		first = next
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.store.addProject("team-1", "proj-2", "Promo")

	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := h.cat.GetProject(h.ctx, "proj-2")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	h.s.Wake()
	h.s.Wake()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
