// Package remote defines the contract between the reconciliation engine and a
// remote asset store, the typed records it exchanges and its error taxonomy.
package remote

import (
	"context"
	"os"
	"time"
)

// Asset types.
const (
	TypeFile   = "file"
	TypeFolder = "folder"
)

type Team struct {
	ID   string
	Name string
}

type Project struct {
	ID          string
	Name        string
	TeamID      string
	RootAssetID string
	AccountID   string
}

// Asset is the metadata of a remote file or folder.
type Asset struct {
	ID        string
	ParentID  string
	ProjectID string
	Name      string
	Type      string

	FileType string
	FileSize int64

	// Original locates the file content for downloads.
	Original string
	// Checksum is the remote computed content hash, empty until available.
	Checksum string

	InsertedAt        time.Time
	UpdatedAt         time.Time
	UploadCompletedAt *time.Time

	// UploadURLs are pre-signed destinations, one per byte range, returned
	// when a file placeholder is created.
	UploadURLs []string
}

func (a *Asset) IsFolder() bool {
	return a.Type == TypeFolder
}

// UploadComplete reports whether the remote side has received the content.
func (a *Asset) UploadComplete() bool {
	return a.UploadCompletedAt != nil
}

// NewAsset describes an asset to create under a parent.
type NewAsset struct {
	Name     string
	Type     string
	FileType string
	FileSize int64
}

// Store is the remote asset service. Every call may fail with an error for
// which IsConnectivity reports true, or with ErrNotFound.
type Store interface {
	ListTeams(ctx context.Context) ([]Team, error)
	ListProjects(ctx context.Context, teamID string) ([]Project, error)
	GetProject(ctx context.Context, projectID string) (*Project, error)
	// ListAssetsUpdatedSince returns every asset of the project inserted or
	// updated at or after since. Order is not guaranteed.
	ListAssetsUpdatedSince(ctx context.Context, accountID, projectID string, since time.Time) ([]Asset, error)
	CreateAsset(ctx context.Context, parentID string, a NewAsset) (*Asset, error)
	GetAsset(ctx context.Context, id string) (*Asset, error)
	DeleteAsset(ctx context.Context, id string) error
	// Upload sends the content of f to the placeholder created by CreateAsset.
	Upload(ctx context.Context, a *Asset, f *os.File) error
	// Download writes the asset into folder under its remote name. With
	// replace false an existing file yields ErrExists.
	Download(ctx context.Context, a *Asset, folder string, replace bool) error
}
