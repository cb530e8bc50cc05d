package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"github.com/chmdznr/oss-asset-sync/internal/auth"
	"github.com/chmdznr/oss-asset-sync/internal/config"
	"github.com/chmdznr/oss-asset-sync/internal/db"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
	"github.com/chmdznr/oss-asset-sync/internal/remote/frameio"
	"github.com/chmdznr/oss-asset-sync/internal/remote/s3store"
	"github.com/chmdznr/oss-asset-sync/pkg/version"
)

const envKey = "env"

// env is shared by every command. The catalog is opened lazily so commands
// like version do not create a database.
type env struct {
	cfg       *config.Config
	log       logging.Logger
	logCloser io.Closer
	cat       *db.Catalog
}

func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata[envKey] = &env{cfg: cfg, log: log, logCloser: closer}
	return nil
}

func teardown(c *cli.Context) error {
	e, ok := c.App.Metadata[envKey].(*env)
	if !ok {
		return nil
	}
	var errs []error
	if e.cat != nil {
		errs = append(errs, e.cat.Close())
	}
	errs = append(errs, e.logCloser.Close())
	return errors.Join(errs...)
}

// applyFlags overlays command line flags and ASSETSYNC_* variables on cfg.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("api-host") {
		cfg.API.Host = c.String("api-host")
	}
	if c.IsSet("client-id") {
		cfg.API.ClientID = c.String("client-id")
	}
	if c.IsSet("s3-endpoint") {
		cfg.S3.Endpoint = c.String("s3-endpoint")
	}
	if c.IsSet("s3-bucket") {
		cfg.S3.Bucket = c.String("s3-bucket")
	}
	if c.IsSet("s3-access-key") {
		cfg.S3.AccessKey = c.String("s3-access-key")
	}
	if c.IsSet("s3-secret-key") {
		cfg.S3.SecretKey = c.String("s3-secret-key")
	}
	if c.IsSet("s3-secure") {
		cfg.S3.Secure = c.Bool("s3-secure")
	}
	if c.IsSet("interval") {
		cfg.Sync.Interval = c.Duration("interval")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
}

func getEnv(c *cli.Context) *env {
	return c.App.Metadata[envKey].(*env)
}

// catalog opens the catalog on first use.
func (e *env) catalog(ctx context.Context) (*db.Catalog, error) {
	if e.cat != nil {
		return e.cat, nil
	}
	cat, err := db.Open(ctx, e.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	e.cat = cat
	return cat, nil
}

func (e *env) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: e.cfg.API.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: e.cfg.API.TokenURL},
		Scopes:   e.cfg.API.Scopes,
	}
}

// store builds the configured remote backend.
func (e *env) store(ctx context.Context) (remote.Store, error) {
	switch e.cfg.Backend {
	case config.BackendS3:
		return s3store.New(s3store.Options{
			Endpoint:  e.cfg.S3.Endpoint,
			Bucket:    e.cfg.S3.Bucket,
			AccessKey: e.cfg.S3.AccessKey,
			SecretKey: e.cfg.S3.SecretKey,
			Secure:    e.cfg.S3.Secure,
		}, e.log)
	default:
		cat, err := e.catalog(ctx)
		if err != nil {
			return nil, err
		}
		tokens := auth.NewSource(cat, e.oauthConfig(), e.log)
		return frameio.NewClient(frameio.ClientOptions{
			Host:            e.cfg.API.Host,
			Timeout:         e.cfg.API.Timeout,
			MaxRetries:      e.cfg.API.MaxRetries,
			Backoff:         e.cfg.API.Backoff,
			UserAgent:       version.UserAgent(),
			ChunkWorkers:    e.cfg.Sync.ChunkWorkers,
			MemoryThreshold: e.cfg.Sync.MemoryThreshold,
		}, tokens, e.log)
	}
}
