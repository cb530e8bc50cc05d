// Package s3store implements remote.Store on an S3 compatible bucket. Each
// top-level prefix is a project, folders are zero-byte "key/" markers and the
// object key is the asset id. Content hashes travel as user metadata.
package s3store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chmdznr/oss-asset-sync/internal/hashutil"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
)

// HashMetaKey is the user metadata entry holding the xxh64 hex digest.
const HashMetaKey = "xxhash"

type Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
}

type Store struct {
	client *minio.Client
	bucket string
	log    logging.Logger
}

var _ remote.Store = (*Store)(nil)

// New creates a Store for one bucket.
func New(opt Options, log logging.Logger) (*Store, error) {
	if opt.Endpoint == "" || opt.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	if log == nil {
		log = logging.Nop()
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(opt.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opt.AccessKey, opt.SecretKey, ""),
		Secure:       opt.Secure,
		Transport:    tr,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return &Store{client: client, bucket: opt.Bucket, log: log}, nil
}

// mapErr sorts minio failures into the remote taxonomy.
func mapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", op, key, remote.ErrNotFound)
	case resp.StatusCode != 0:
		return fmt.Errorf("%w: %s %s: %s", remote.ErrConnectivity, op, key, resp.Code)
	default:
		return fmt.Errorf("%w: %s %s: %v", remote.ErrConnectivity, op, key, err)
	}
}

// The bucket stands in for the single team.
func (s *Store) ListTeams(ctx context.Context) ([]remote.Team, error) {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return nil, mapErr("bucket", s.bucket, err)
	}
	if !ok {
		return nil, fmt.Errorf("bucket %s: %w", s.bucket, remote.ErrNotFound)
	}
	return []remote.Team{{ID: s.bucket, Name: s.bucket}}, nil
}

func (s *Store) ListProjects(ctx context.Context, teamID string) ([]remote.Project, error) {
	var projects []remote.Project
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{}) {
		if obj.Err != nil {
			return nil, mapErr("list", s.bucket, obj.Err)
		}
		if !strings.HasSuffix(obj.Key, "/") {
			continue
		}
		projects = append(projects, s.project(strings.TrimSuffix(obj.Key, "/")))
	}
	return projects, nil
}

func (s *Store) GetProject(ctx context.Context, projectID string) (*remote.Project, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := minio.ListObjectsOptions{Prefix: projectID + "/", MaxKeys: 1}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, mapErr("list", projectID, obj.Err)
		}
		p := s.project(projectID)
		return &p, nil
	}
	return nil, fmt.Errorf("project %s: %w", projectID, remote.ErrNotFound)
}

func (s *Store) project(id string) remote.Project {
	return remote.Project{
		ID:          id,
		Name:        id,
		TeamID:      s.bucket,
		RootAssetID: id + "/",
		AccountID:   s.bucket,
	}
}

func (s *Store) ListAssetsUpdatedSince(ctx context.Context, accountID, projectID string, since time.Time) ([]remote.Asset, error) {
	opts := minio.ListObjectsOptions{Prefix: projectID + "/", Recursive: true, WithMetadata: true}
	var objects []minio.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, mapErr("list", projectID, obj.Err)
		}
		objects = append(objects, obj)
	}
	return expandObjects(projectID, objects, since), nil
}

func (s *Store) CreateAsset(ctx context.Context, parentID string, a remote.NewAsset) (*remote.Asset, error) {
	key := childKey(parentID, a.Name, a.Type == remote.TypeFolder)
	if a.Type == remote.TypeFolder {
		_, err := s.client.PutObject(ctx, s.bucket, key, strings.NewReader(""), 0, minio.PutObjectOptions{})
		if err != nil {
			return nil, mapErr("create", key, err)
		}
		now := time.Now().UTC()
		return &remote.Asset{
			ID:                key,
			ParentID:          parentID,
			ProjectID:         projectOf(key),
			Name:              a.Name,
			Type:              remote.TypeFolder,
			InsertedAt:        now,
			UpdatedAt:         now,
			UploadCompletedAt: &now,
		}, nil
	}

	// Files materialise on Upload.
	return &remote.Asset{
		ID:        key,
		ParentID:  parentID,
		ProjectID: projectOf(key),
		Name:      a.Name,
		Type:      remote.TypeFile,
		FileType:  a.FileType,
		FileSize:  a.FileSize,
		Original:  key,
	}, nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (*remote.Asset, error) {
	info, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapErr("stat", id, err)
	}
	a := assetFromObject(info)
	return &a, nil
}

func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return mapErr("delete", id, err)
	}
	return nil
}

// Upload hashes f, rewinds it and stores it with the digest in metadata.
func (s *Store) Upload(ctx context.Context, a *remote.Asset, f *os.File) error {
	sum, err := hashutil.Reader(f)
	if err != nil {
		return fmt.Errorf("hash %s: %w", f.Name(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, s.bucket, a.ID, f, a.FileSize, minio.PutObjectOptions{
		ContentType:  a.FileType,
		UserMetadata: map[string]string{HashMetaKey: sum},
	})
	if err != nil {
		return mapErr("upload", a.ID, err)
	}
	s.log.Debug(ctx, "object stored", "key", a.ID, "size", a.FileSize)
	return nil
}

func (s *Store) Download(ctx context.Context, a *remote.Asset, folder string, replace bool) error {
	dest := filepath.Join(folder, a.Name)
	if !replace {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s: %w", dest, remote.ErrExists)
		}
	}
	key := a.Original
	if key == "" {
		key = a.ID
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return mapErr("download", key, err)
	}
	return nil
}

// childKey builds the key of name under the parent folder key.
func childKey(parentID, name string, folder bool) string {
	key := strings.TrimSuffix(parentID, "/") + "/" + name
	if folder {
		key += "/"
	}
	return key
}

// parentKey returns the folder key that contains key.
func parentKey(key string) string {
	dir := path.Dir(strings.TrimSuffix(key, "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir + "/"
}

func projectOf(key string) string {
	if i := strings.Index(key, "/"); i >= 0 {
		return key[:i]
	}
	return key
}

// checksum finds the digest among user metadata whatever the header casing.
func checksum(meta map[string]string) string {
	for k, v := range meta {
		k = strings.ToLower(k)
		if k == HashMetaKey || strings.HasSuffix(k, "-meta-"+HashMetaKey) {
			return v
		}
	}
	return ""
}

func assetFromObject(obj minio.ObjectInfo) remote.Asset {
	mod := obj.LastModified.UTC()
	a := remote.Asset{
		ID:                obj.Key,
		ParentID:          parentKey(obj.Key),
		ProjectID:         projectOf(obj.Key),
		Name:              path.Base(strings.TrimSuffix(obj.Key, "/")),
		InsertedAt:        mod,
		UpdatedAt:         mod,
		UploadCompletedAt: &mod,
	}
	if strings.HasSuffix(obj.Key, "/") {
		a.Type = remote.TypeFolder
		return a
	}
	a.Type = remote.TypeFile
	a.FileType = obj.ContentType
	a.FileSize = obj.Size
	a.Original = obj.Key
	a.Checksum = checksum(obj.UserMetadata)
	if a.Checksum == "" {
		flat := make(map[string]string, len(obj.Metadata))
		for k, v := range obj.Metadata {
			if len(v) > 0 {
				flat[k] = v[0]
			}
		}
		a.Checksum = checksum(flat)
	}
	return a
}

// expandObjects turns a recursive listing into assets changed since the
// watermark, synthesising folders that only exist as key prefixes.
func expandObjects(projectID string, objects []minio.ObjectInfo, since time.Time) []remote.Asset {
	root := projectID + "/"
	seen := make(map[string]bool)
	var out []remote.Asset

	add := func(a remote.Asset) {
		if seen[a.ID] {
			return
		}
		seen[a.ID] = true
		out = append(out, a)
	}

	for _, obj := range objects {
		if obj.Key == root || obj.LastModified.Before(since) {
			continue
		}
		a := assetFromObject(obj)
		for dir := a.ParentID; dir != "" && dir != root; dir = parentKey(dir) {
			add(assetFromObject(minio.ObjectInfo{Key: dir, LastModified: obj.LastModified}))
		}
		add(a)
	}
	return out
}
