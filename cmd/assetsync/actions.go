package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/oss-asset-sync/internal/config"
	"github.com/chmdznr/oss-asset-sync/internal/db"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
	syncer "github.com/chmdznr/oss-asset-sync/internal/sync"
	"github.com/chmdznr/oss-asset-sync/internal/watch"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
	"github.com/chmdznr/oss-asset-sync/pkg/utils"
)

func login(c *cli.Context) error {
	e := getEnv(c)
	if e.cfg.Backend == config.BackendS3 {
		return fmt.Errorf("the s3 backend uses static keys, nothing to log in to")
	}

	cr := &models.Credentials{}
	switch {
	case c.String("token") != "":
		cr.Type = models.CredentialDevToken
		cr.AccessToken = c.String("token")
	case c.String("access-token") != "" && c.String("refresh-token") != "":
		cr.Type = models.CredentialOAuth
		cr.AccessToken = c.String("access-token")
		cr.RefreshToken = c.String("refresh-token")
		if d := c.Duration("expires-in"); d > 0 {
			cr.Expiry = time.Now().Add(d).Unix()
		}
	default:
		return fmt.Errorf("either --token or --access-token and --refresh-token are required")
	}

	cat, err := e.catalog(c.Context)
	if err != nil {
		return err
	}
	if err := cat.SaveCredentials(c.Context, cr); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	store, err := e.store(c.Context)
	if err != nil {
		return err
	}
	teams, err := store.ListTeams(c.Context)
	if err != nil {
		return fmt.Errorf("credentials saved but the remote rejected them: %w", err)
	}
	fmt.Printf("Logged in, %d team(s) visible\n", len(teams))
	return nil
}

func logout(c *cli.Context) error {
	cat, err := getEnv(c).catalog(c.Context)
	if err != nil {
		return err
	}
	if err := cat.Logout(c.Context); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	fmt.Println("Logged out")
	return nil
}

func listTeams(c *cli.Context) error {
	store, err := getEnv(c).store(c.Context)
	if err != nil {
		return err
	}
	teams, err := store.ListTeams(c.Context)
	if err != nil {
		return fmt.Errorf("failed to list teams: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, t := range teams {
		fmt.Fprintf(w, "%s\t%s\n", t.ID, t.Name)
	}
	return w.Flush()
}

func listProjects(c *cli.Context) error {
	e := getEnv(c)
	cat, err := e.catalog(c.Context)
	if err != nil {
		return err
	}

	if !c.Bool("offline") {
		store, err := e.store(c.Context)
		if err != nil {
			return err
		}
		s := syncer.NewSyncer(cat, store, e.cfg.Sync, e.log)
		if err := s.UpdateProjects(c.Context, e.log); err != nil {
			if !remote.IsConnectivity(err) {
				return fmt.Errorf("failed to refresh projects: %w", err)
			}
			e.log.Warn(c.Context, "showing cached projects", "error", err)
		}
	}

	var projects []*models.Project
	if team := c.String("team"); team != "" {
		projects, err = cat.ListTeamProjects(c.Context, team)
	} else {
		projects, err = cat.ListProjects(c.Context)
	}
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSYNC\tLOCAL PATH\tSTATE")
	for _, p := range projects {
		state := ""
		switch {
		case p.DeleteRequested:
			state = "removing"
		case p.DeletedRemotely:
			state = "deleted remotely"
		case p.NewData:
			state = "changes pending"
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", p.ProjectID, p.Name, p.Sync, p.LocalPath, state)
	}
	return w.Flush()
}

// findProject accepts a project id or an exact project name.
func findProject(ctx context.Context, cat *db.Catalog, ref string) (*models.Project, error) {
	if ref == "" {
		return nil, fmt.Errorf("project id or name is required")
	}
	p, err := cat.GetProject(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	projects, err := cat.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	var match *models.Project
	for _, p := range projects {
		if p.Name != ref {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("project name %q is ambiguous, use the id", ref)
		}
		match = p
	}
	if match == nil {
		return nil, fmt.Errorf("project %q: %w", ref, db.ErrNotFound)
	}
	return match, nil
}

func setProjectSync(enabled bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		cat, err := getEnv(c).catalog(c.Context)
		if err != nil {
			return err
		}
		p, err := findProject(c.Context, cat, c.Args().First())
		if err != nil {
			return err
		}
		if enabled && !p.HasLocalPath() {
			fmt.Printf("Note: %s has no local path yet, set one with 'assetsync project path'\n", p.Name)
		}
		if err := cat.SetSync(c.Context, p.ProjectID, enabled); err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		if enabled {
			fmt.Printf("Sync enabled for %s\n", p.Name)
		} else {
			fmt.Printf("Sync disabled for %s\n", p.Name)
		}
		return nil
	}
}

func setProjectPath(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: assetsync project path <project> <directory>")
	}
	cat, err := getEnv(c).catalog(c.Context)
	if err != nil {
		return err
	}
	p, err := findProject(c.Context, cat, c.Args().Get(0))
	if err != nil {
		return err
	}
	dir, err := config.ResolveLocalPath(c.Args().Get(1), c.String("sub-folder"))
	if err != nil {
		return err
	}
	if err := cat.SetLocalPath(c.Context, p.ProjectID, dir); err != nil {
		return fmt.Errorf("failed to set local path: %w", err)
	}
	fmt.Printf("%s -> %s\n", p.Name, dir)
	return nil
}

func removeProject(c *cli.Context) error {
	cat, err := getEnv(c).catalog(c.Context)
	if err != nil {
		return err
	}
	p, err := findProject(c.Context, cat, c.Args().First())
	if err != nil {
		return err
	}
	if err := cat.RequestDelete(c.Context, p.ProjectID); err != nil {
		return fmt.Errorf("failed to remove project: %w", err)
	}
	fmt.Printf("%s will be removed on the next sync iteration\n", p.Name)
	return nil
}

func listIgnore(c *cli.Context) error {
	cat, err := getEnv(c).catalog(c.Context)
	if err != nil {
		return err
	}
	patterns, err := cat.ListIgnorePatterns(c.Context)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATTERN\tORIGIN")
	for _, p := range patterns {
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Origin)
	}
	return w.Flush()
}

func addIgnore(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("pattern is required")
	}
	cat, err := getEnv(c).catalog(c.Context)
	if err != nil {
		return err
	}
	if err := cat.AddIgnorePattern(c.Context, name); err != nil {
		return fmt.Errorf("failed to add pattern: %w", err)
	}
	fmt.Printf("Ignoring folders matching %q\n", name)
	return nil
}

func removeIgnore(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("pattern is required")
	}
	cat, err := getEnv(c).catalog(c.Context)
	if err != nil {
		return err
	}
	if err := cat.RemoveIgnorePattern(c.Context, name); err != nil {
		return err
	}
	fmt.Printf("Pattern %q removed, matching folders sync again after the next iteration\n", name)
	return nil
}

func showStatus(c *cli.Context) error {
	cat, err := getEnv(c).catalog(c.Context)
	if err != nil {
		return err
	}

	var projects []*models.Project
	if ref := c.String("project"); ref != "" {
		p, err := findProject(c.Context, cat, ref)
		if err != nil {
			return err
		}
		projects = []*models.Project{p}
	} else if projects, err = cat.ListSyncedProjects(c.Context); err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No projects are being synced")
		return nil
	}

	for _, p := range projects {
		stats, err := cat.GetStats(c.Context, p.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to get stats for %s: %w", p.Name, err)
		}

		fmt.Printf("\nProject: %s (%s)\n", p.Name, p.ProjectID)
		fmt.Printf("Local path: %s\n", p.LocalPath)
		fmt.Printf("Local size: %s\n", utils.FormatSize(p.LocalSize))
		fmt.Printf("Remote size: %s\n", utils.FormatSize(p.RemoteSize))
		if p.LastLocalScan > 0 {
			fmt.Printf("Last local scan: %s\n", time.Unix(p.LastLocalScan, 0).Format(time.RFC3339))
		}
		fmt.Printf("Last remote scan: %s\n", p.LastRemoteScan)
		fmt.Printf("Pending changes: %v\n", p.NewData)
		fmt.Printf("\nFiles: %d (%d folders)\n", stats.TotalFiles, stats.TotalFolders)
		fmt.Printf("  On local:          %d\n", stats.LocalFiles)
		fmt.Printf("  On remote:         %d\n", stats.RemoteFiles)
		fmt.Printf("  Pending uploads:   %d\n", stats.PendingUploads)
		fmt.Printf("  Pending downloads: %d\n", stats.PendingDownload)
		fmt.Printf("  Unverified:        %d\n", stats.Unverified)
		fmt.Printf("  Unconfirmed:       %d\n", stats.Unconfirmed)
		fmt.Printf("  Ignored:           %d\n", stats.Ignored)
		fmt.Printf("  Duplicates:        %d\n", stats.Duplicates)
	}
	return nil
}

func runSync(c *cli.Context) error {
	e := getEnv(c)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := e.catalog(ctx)
	if err != nil {
		return err
	}
	store, err := e.store(ctx)
	if err != nil {
		return err
	}

	interactive := c.Bool("interactive")
	s := syncer.NewSyncer(cat, store, e.cfg.Sync, e.log, syncer.WithProgress(interactive))

	if c.Bool("once") {
		s.RunOnce(ctx)
		return nil
	}

	if err := cat.MarkAllNewData(ctx); err != nil {
		return err
	}

	if c.Bool("watch") || e.cfg.Sync.Watch {
		w, err := startWatcher(ctx, e, cat, s)
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	if interactive {
		keys, err := keyboard.GetKeys(10)
		if err != nil {
			return fmt.Errorf("failed to read keyboard: %w", err)
		}
		defer keyboard.Close()

		fmt.Println("Press 's' to sync now, 'q' to quit")
		go func() {
			for ev := range keys {
				if ev.Err != nil {
					continue
				}
				switch {
				case ev.Rune == 's' || ev.Rune == 'S':
					e.log.Info(ctx, "sync requested")
					s.Wake()
				case ev.Rune == 'q' || ev.Rune == 'Q' || ev.Key == keyboard.KeyCtrlC || ev.Key == keyboard.KeyEsc:
					stop()
					return
				}
			}
		}()
	}

	e.log.Info(ctx, "sync loop started", "interval", e.cfg.Sync.Interval.String(), "backend", e.cfg.Backend)
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	e.log.Info(ctx, "sync loop stopped")
	return nil
}

// startWatcher follows the directories of every synced project. Projects bound
// later are picked up on the next start.
func startWatcher(ctx context.Context, e *env, cat *db.Catalog, s *syncer.Syncer) (*watch.Watcher, error) {
	w, err := watch.New(cat, s, e.log, watch.DefaultDebounce)
	if err != nil {
		return nil, err
	}
	projects, err := cat.ListSyncedProjects(ctx)
	if err != nil {
		w.Stop()
		return nil, err
	}
	for _, p := range projects {
		if !p.HasLocalPath() {
			continue
		}
		if err := w.Watch(p.ProjectID, p.LocalPath); err != nil {
			e.log.Warn(ctx, "could not watch project folder", "project", p.Name, "error", err)
		}
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}
