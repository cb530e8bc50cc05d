// Package sync is the reconciliation engine. Each iteration refreshes the
// project list, then for every synced project pulls the remote delta, scans the
// local tree, transfers what is missing on either side and finally verifies
// recent uploads. Iterations never overlap.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chmdznr/oss-asset-sync/internal/config"
	"github.com/chmdznr/oss-asset-sync/internal/ignore"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
	"github.com/chmdznr/oss-asset-sync/internal/scanner"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// Catalog is the subset of the asset catalog the engine reads and writes.
type Catalog interface {
	ignore.Catalog

	ListProjects(ctx context.Context) ([]*models.Project, error)
	ListSyncedProjects(ctx context.Context) ([]*models.Project, error)
	ListDeleteRequested(ctx context.Context) ([]*models.Project, error)
	ListPathChanged(ctx context.Context) ([]*models.Project, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	InsertProject(ctx context.Context, p *models.Project) error
	RenameProject(ctx context.Context, id, name string) error
	MarkDeletedRemotely(ctx context.Context, id string) error
	SetNewData(ctx context.Context, id string, dirty bool) error
	SetRemoteWatermark(ctx context.Context, id, watermark string, remoteSize int64) error
	SetLocalWatermark(ctx context.Context, id string, watermark, localSize int64) error
	ResetLocalWatermark(ctx context.Context, id string) error
	ResetAllLocalWatermarks(ctx context.Context) error
	ResetProject(ctx context.Context, id string) error
	DeleteProject(ctx context.Context, id string) error

	GetAssetByPath(ctx context.Context, projectID, path string) (*models.Asset, error)
	InsertAsset(ctx context.Context, a *models.Asset) error
	UpdateAsset(ctx context.Context, a *models.Asset) error
	DeleteAsset(ctx context.Context, id int64) error
	PendingUploads(ctx context.Context, projectID string) ([]*models.Asset, error)
	PendingDownloads(ctx context.Context, projectID string) ([]*models.Asset, error)
	PendingVerification(ctx context.Context, cutoff int64) ([]*models.Asset, error)
	PruneOrphans(ctx context.Context, projectID string) (int64, error)

	ListIgnorePatterns(ctx context.Context) ([]models.IgnorePattern, error)
	RemovedIgnorePatterns(ctx context.Context) ([]models.IgnorePattern, error)
	PurgeIgnorePattern(ctx context.Context, id int64) error
}

// Syncer drives the reconciliation loop.
type Syncer struct {
	cat   Catalog
	store remote.Store
	scan  *scanner.Scanner
	cfg   config.SyncConfig
	log   logging.Logger

	now      func() time.Time
	progress bool
	wake     chan struct{}
}

type Option func(*Syncer)

// WithClock replaces time.Now for the engine and its scanner.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
		s.scan.Now = now
	}
}

// WithProgress turns transfer progress bars on or off.
func WithProgress(on bool) Option {
	return func(s *Syncer) { s.progress = on }
}

// NewSyncer creates a Syncer over the catalog and store.
func NewSyncer(cat Catalog, store remote.Store, cfg config.SyncConfig, log logging.Logger, opts ...Option) *Syncer {
	if log == nil {
		log = logging.Nop()
	}
	s := &Syncer{
		cat:   cat,
		store: store,
		scan:  scanner.New(cfg.StabilityWindow, cfg.LocalOverscan),
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wake asks Run to start the next iteration without waiting for the interval.
// It never blocks.
func (s *Syncer) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes iterations until ctx is done, sleeping cfg.Interval between
// them or until Wake is called.
func (s *Syncer) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		s.RunOnce(ctx)
		timer.Reset(interval)
	}
}

// RunOnce performs one full iteration followed by housekeeping. Errors are
// logged, never returned: connectivity failures end the remote work of this
// iteration and the next one retries.
func (s *Syncer) RunOnce(ctx context.Context) {
	log := s.log.With("run", uuid.NewString())
	start := s.now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error(ctx, "sync iteration panicked", "panic", fmt.Sprint(r))
			}
		}()
		err := s.iterate(ctx, log)
		switch {
		case err == nil:
		case remote.IsConnectivity(err):
			log.Warn(ctx, "could not reach remote, retrying next interval", "error", err)
		case errors.Is(err, context.Canceled):
			log.Info(ctx, "sync iteration cancelled")
		default:
			log.Error(ctx, "sync iteration failed", "error", err)
		}
	}()

	if err := s.Housekeeping(ctx, log); err != nil {
		log.Error(ctx, "housekeeping failed", "error", err)
	}
	log.Debug(ctx, "sync iteration done", "took", s.now().Sub(start).String())
}

func (s *Syncer) iterate(ctx context.Context, log logging.Logger) error {
	log.Info(ctx, "checking for updates")
	if err := s.UpdateProjects(ctx, log); err != nil {
		return fmt.Errorf("update projects: %w", err)
	}

	records, err := s.cat.ListIgnorePatterns(ctx)
	if err != nil {
		return fmt.Errorf("ignore patterns: %w", err)
	}
	patterns := ignore.Names(records)

	projects, err := s.cat.ListSyncedProjects(ctx)
	if err != nil {
		return fmt.Errorf("synced projects: %w", err)
	}
	for _, p := range projects {
		if !p.HasLocalPath() {
			continue
		}
		plog := log.With("project", p.Name)
		err := s.syncProject(ctx, plog, p, patterns)
		switch {
		case err == nil:
		case remote.IsConnectivity(err) || ctx.Err() != nil:
			return fmt.Errorf("project %s: %w", p.Name, err)
		default:
			plog.Error(ctx, "project sync failed, continuing with the next one", "error", err)
		}
	}

	return s.VerifyPending(ctx, log)
}

// syncProject runs the per-project phases in order. The caller ends the
// iteration on connectivity errors and moves to the next project otherwise.
func (s *Syncer) syncProject(ctx context.Context, log logging.Logger, p *models.Project, patterns []string) error {
	if err := s.FetchRemoteDelta(ctx, log, p, patterns); err != nil {
		return err
	}

	if err := s.ScanLocal(ctx, log, p, patterns); err != nil {
		if errors.Is(err, scanner.ErrRootMissing) {
			log.Warn(ctx, "local folder is gone, removing project from catalog", "path", p.LocalPath)
			return s.cat.DeleteProject(ctx, p.ProjectID)
		}
		return err
	}

	if s.cfg.Download {
		if err := s.Download(ctx, log, p); err != nil {
			return err
		}
	}
	if s.cfg.Upload {
		if err := s.Upload(ctx, log, p); err != nil {
			return err
		}
	}

	pruned, err := s.cat.PruneOrphans(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("prune orphans: %w", err)
	}
	if pruned > 0 {
		log.Info(ctx, "removed assets missing on both sides", "count", pruned)
	}
	return s.cat.SetNewData(ctx, p.ProjectID, false)
}
