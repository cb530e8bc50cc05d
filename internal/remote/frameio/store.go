package frameio

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chmdznr/oss-asset-sync/internal/remote"
)

// TimeLayout is the ISO-8601 form the search filter expects.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

var _ remote.Store = (*Client)(nil)

func (c *Client) ListTeams(ctx context.Context) ([]remote.Team, error) {
	recs, err := getAll[teamRecord](ctx, c, "/teams")
	if err != nil {
		return nil, err
	}
	return convertAll[teamRecord, remote.Team](recs)
}

func (c *Client) ListProjects(ctx context.Context, teamID string) ([]remote.Project, error) {
	recs, err := getAll[projectRecord](ctx, c, "/teams/"+teamID+"/projects")
	if err != nil {
		return nil, err
	}
	return convertAll[projectRecord, remote.Project](recs)
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*remote.Project, error) {
	var rec projectRecord
	if _, err := c.doJSON(ctx, http.MethodGet, "/projects/"+projectID, nil, nil, &rec); err != nil {
		return nil, err
	}
	p, err := rec.toRemote()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListAssetsUpdatedSince queries the library search for assets of one project
// updated at or after since.
func (c *Client) ListAssetsUpdatedSince(ctx context.Context, accountID, projectID string, since time.Time) ([]remote.Asset, error) {
	payload := map[string]any{
		"account_id": accountID,
		"page_size":  searchPerPage,
		"include":    "children",
		"sort":       "-inserted_at",
		"filter": map[string]any{
			"project_id": map[string]string{"op": "eq", "value": projectID},
			"updated_at": map[string]string{"op": "gte", "value": since.UTC().Format(TimeLayout)},
		},
	}
	recs, err := searchAll[assetRecord](ctx, c, "/search/library", payload)
	if err != nil {
		return nil, err
	}
	return convertAll[assetRecord, remote.Asset](recs)
}

func (c *Client) CreateAsset(ctx context.Context, parentID string, a remote.NewAsset) (*remote.Asset, error) {
	body := map[string]any{
		"name": a.Name,
		"type": a.Type,
	}
	if a.Type == remote.TypeFile {
		body["filetype"] = a.FileType
		body["filesize"] = a.FileSize
	}

	var rec assetRecord
	if _, err := c.doJSON(ctx, http.MethodPost, "/assets/"+parentID+"/children", nil, body, &rec); err != nil {
		return nil, err
	}
	created, err := rec.toRemote()
	if err != nil {
		return nil, err
	}
	if a.Type == remote.TypeFile && a.FileSize > 0 && len(created.UploadURLs) == 0 {
		return nil, remote.SchemaError("asset "+created.ID, "upload_urls")
	}
	return &created, nil
}

func (c *Client) GetAsset(ctx context.Context, id string) (*remote.Asset, error) {
	var rec assetRecord
	if _, err := c.doJSON(ctx, http.MethodGet, "/assets/"+id, nil, nil, &rec); err != nil {
		return nil, err
	}
	a, err := rec.toRemote()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) DeleteAsset(ctx context.Context, id string) error {
	if _, err := c.doJSON(ctx, http.MethodDelete, "/assets/"+id, nil, nil, nil); err != nil {
		return fmt.Errorf("delete asset %s: %w", id, err)
	}
	return nil
}
