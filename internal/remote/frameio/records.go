package frameio

import (
	"time"

	"github.com/chmdznr/oss-asset-sync/internal/remote"
)

type teamRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r teamRecord) toRemote() (remote.Team, error) {
	if r.ID == "" {
		return remote.Team{}, remote.SchemaError("team", "id")
	}
	return remote.Team{ID: r.ID, Name: r.Name}, nil
}

type projectRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TeamID      string `json:"team_id"`
	RootAssetID string `json:"root_asset_id"`
	RootAsset   *struct {
		AccountID string `json:"account_id"`
	} `json:"root_asset"`
}

func (r projectRecord) toRemote() (remote.Project, error) {
	switch {
	case r.ID == "":
		return remote.Project{}, remote.SchemaError("project", "id")
	case r.RootAssetID == "":
		return remote.Project{}, remote.SchemaError("project "+r.ID, "root_asset_id")
	}
	p := remote.Project{
		ID:          r.ID,
		Name:        r.Name,
		TeamID:      r.TeamID,
		RootAssetID: r.RootAssetID,
	}
	if r.RootAsset != nil {
		p.AccountID = r.RootAsset.AccountID
	}
	return p, nil
}

type assetRecord struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`

	FileType string `json:"filetype"`
	FileSize int64  `json:"filesize"`
	Original string `json:"original"`

	Checksums *struct {
		XXHash string `json:"xx_hash"`
	} `json:"checksums"`

	InsertedAt        *time.Time `json:"inserted_at"`
	UpdatedAt         *time.Time `json:"updated_at"`
	UploadCompletedAt *time.Time `json:"upload_completed_at"`

	UploadURLs []string `json:"upload_urls"`
}

func (r assetRecord) toRemote() (remote.Asset, error) {
	switch {
	case r.ID == "":
		return remote.Asset{}, remote.SchemaError("asset", "id")
	case r.Name == "":
		return remote.Asset{}, remote.SchemaError("asset "+r.ID, "name")
	case r.Type == "":
		return remote.Asset{}, remote.SchemaError("asset "+r.ID, "type")
	}

	a := remote.Asset{
		ID:                r.ID,
		ParentID:          r.ParentID,
		ProjectID:         r.ProjectID,
		Name:              r.Name,
		Type:              r.Type,
		FileType:          r.FileType,
		FileSize:          r.FileSize,
		Original:          r.Original,
		UploadCompletedAt: r.UploadCompletedAt,
		UploadURLs:        r.UploadURLs,
	}
	if r.Checksums != nil {
		a.Checksum = r.Checksums.XXHash
	}
	if r.InsertedAt != nil {
		a.InsertedAt = *r.InsertedAt
	}
	if r.UpdatedAt != nil {
		a.UpdatedAt = *r.UpdatedAt
	}
	return a, nil
}

func convertAll[R interface{ toRemote() (T, error) }, T any](records []R) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		v, err := r.toRemote()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
