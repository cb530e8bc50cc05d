// Package scanner walks a project directory and reports files and folders that
// appeared since the last complete scan.
//
// A file is only reported once it is stable: older than the stability window
// and non-empty. Anything skipped for being unstable clears AllReady so the
// caller keeps the old watermark and sees the file again next pass.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/djherbis/times"

	"github.com/chmdznr/oss-asset-sync/internal/hashutil"
	"github.com/chmdznr/oss-asset-sync/internal/ignore"
)

// ErrRootMissing is returned when the project root is not a directory.
var ErrRootMissing = errors.New("local root is not a directory")

const (
	DefaultStabilityWindow = 60 * time.Second
	DefaultOverscan        = 500 * time.Second
)

// Observation is one local entry found by a scan.
type Observation struct {
	// Path is relative to the root with "/" separators.
	Path   string
	Name   string
	IsFile bool
	Size   int64
	// Hash is set for files the caller did not already know.
	Hash string
}

type Result struct {
	Observations []Observation
	// AllReady is false when some new entry was skipped this pass.
	AllReady bool
	// Watermark is the value to store when AllReady is true.
	Watermark int64
	// TotalSize is the byte count of every stable file seen.
	TotalSize int64
	// Skipped lists entries that could not be read. They clear AllReady.
	Skipped []Skip
}

// Skip is an entry the walk had to leave out.
type Skip struct {
	Path string
	Err  error
}

func (r *Result) skip(rel string, err error) {
	r.AllReady = false
	r.Skipped = append(r.Skipped, Skip{Path: rel, Err: err})
}

type Scanner struct {
	StabilityWindow time.Duration
	Overscan        time.Duration
	// Now is swapped in tests.
	Now func() time.Time
}

func New(stability, overscan time.Duration) *Scanner {
	if stability <= 0 {
		stability = DefaultStabilityWindow
	}
	if overscan <= 0 {
		overscan = DefaultOverscan
	}
	return &Scanner{StabilityWindow: stability, Overscan: overscan, Now: time.Now}
}

// Scan walks root. Entries whose change time is not after since (epoch
// seconds) are assumed known. known reports whether a relative path already
// has a catalog row; unknown stable files are hashed.
func (s *Scanner) Scan(ctx context.Context, root string, since int64, patterns []string, known func(path string) bool) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrRootMissing)
	}

	now := s.Now()
	watermark := time.Unix(since, 0)
	res := &Result{
		AllReady:  true,
		Watermark: now.Add(-s.Overscan).Unix(),
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return walkErr
		}
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				res.AllReady = false
				return nil
			}
			res.skip(relPath(root, p), walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || ignore.IsIgnored(name, patterns) {
				return filepath.SkipDir
			}
		} else if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}

		ct, size, err := stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			res.AllReady = false
			return nil
		}
		if err != nil {
			res.skip(relPath(root, p), err)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() && size > 0 && now.Sub(ct) >= s.StabilityWindow {
			res.TotalSize += size
		}
		if !ct.After(watermark) {
			return nil
		}

		obs := Observation{Path: relPath(root, p), Name: name, IsFile: !d.IsDir(), Size: size}

		if obs.IsFile {
			if now.Sub(ct) < s.StabilityWindow || size == 0 {
				res.AllReady = false
				return nil
			}
			if known == nil || !known(obs.Path) {
				obs.Hash, err = hashutil.File(p)
				if errors.Is(err, fs.ErrNotExist) {
					res.AllReady = false
					return nil
				}
				if err != nil {
					res.skip(obs.Path, fmt.Errorf("hash: %w", err))
					return nil
				}
			}
		}
		res.Observations = append(res.Observations, obs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func relPath(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

// stat returns the change time and size of p. Platforms without a change time
// fall back to birth time, then modification time.
func stat(p string) (time.Time, int64, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return time.Time{}, 0, err
	}
	ts := times.Get(fi)
	switch {
	case ts.HasChangeTime():
		return ts.ChangeTime(), fi.Size(), nil
	case ts.HasBirthTime():
		return ts.BirthTime(), fi.Size(), nil
	default:
		return ts.ModTime(), fi.Size(), nil
	}
}
