package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chmdznr/oss-asset-sync/internal/hashutil"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
)

// memStore is an in-memory remote.Store. Listing order follows insertion
// unless order is set.
type memStore struct {
	now func() time.Time

	teams    []remote.Team
	projects []remote.Project
	assets   map[string]*remote.Asset
	content  map[string][]byte
	order    []string
	seq      int

	// Behaviour switches.
	offline    bool
	badHash    bool
	noChecksum bool
	// garbled projects return listings that fail to decode.
	garbled map[string]bool

	created, deleted, uploads, downloads int
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:     now,
		assets:  make(map[string]*remote.Asset),
		garbled: make(map[string]bool),
		content: make(map[string][]byte),
	}
}

func (m *memStore) addProject(teamID, id, name string) remote.Project {
	found := false
	for _, t := range m.teams {
		found = found || t.ID == teamID
	}
	if !found {
		m.teams = append(m.teams, remote.Team{ID: teamID, Name: teamID})
	}
	p := remote.Project{ID: id, Name: name, TeamID: teamID, RootAssetID: "root-" + id, AccountID: "acct"}
	m.projects = append(m.projects, p)
	return p
}

func (m *memStore) projectOfParent(parentID string) string {
	for _, p := range m.projects {
		if p.RootAssetID == parentID {
			return p.ID
		}
	}
	if a, ok := m.assets[parentID]; ok {
		return a.ProjectID
	}
	// Seeded children may be added before their parent.
	if len(m.projects) > 0 {
		return m.projects[0].ID
	}
	return ""
}

func (m *memStore) put(a *remote.Asset) {
	m.assets[a.ID] = a
	m.order = append(m.order, a.ID)
}

// seedFolder adds a folder created by someone else.
func (m *memStore) seedFolder(id, parentID, name string, inserted time.Time) {
	m.put(&remote.Asset{
		ID:                id,
		ParentID:          parentID,
		ProjectID:         m.projectOfParent(parentID),
		Name:              name,
		Type:              remote.TypeFolder,
		InsertedAt:        inserted,
		UpdatedAt:         inserted,
		UploadCompletedAt: &inserted,
	})
}

// seedFile adds a fully uploaded file created by someone else.
func (m *memStore) seedFile(id, parentID, name, data string, inserted time.Time) {
	sum, _ := hashutil.Reader(bytes.NewReader([]byte(data)))
	m.put(&remote.Asset{
		ID:                id,
		ParentID:          parentID,
		ProjectID:         m.projectOfParent(parentID),
		Name:              name,
		Type:              remote.TypeFile,
		FileSize:          int64(len(data)),
		Original:          "https://cdn.example/" + id,
		Checksum:          sum,
		InsertedAt:        inserted,
		UpdatedAt:         inserted,
		UploadCompletedAt: &inserted,
	})
	m.content[id] = []byte(data)
}

func (m *memStore) check() error {
	if m.offline {
		return fmt.Errorf("%w: dial tcp: connection refused", remote.ErrConnectivity)
	}
	return nil
}

func (m *memStore) ListTeams(ctx context.Context) ([]remote.Team, error) {
	return m.teams, m.check()
}

func (m *memStore) ListProjects(ctx context.Context, teamID string) ([]remote.Project, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []remote.Project
	for _, p := range m.projects {
		if p.TeamID == teamID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetProject(ctx context.Context, projectID string) (*remote.Project, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	for _, p := range m.projects {
		if p.ID == projectID {
			cp := p
			return &cp, nil
		}
	}
	return nil, remote.ErrNotFound
}

func (m *memStore) ListAssetsUpdatedSince(ctx context.Context, accountID, projectID string, since time.Time) ([]remote.Asset, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	if m.garbled[projectID] {
		return nil, fmt.Errorf("%w: asset record without id", remote.ErrSchema)
	}
	var out []remote.Asset
	for _, id := range m.order {
		a, ok := m.assets[id]
		if !ok || a.ProjectID != projectID {
			continue
		}
		if a.InsertedAt.Before(since) && a.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (m *memStore) CreateAsset(ctx context.Context, parentID string, na remote.NewAsset) (*remote.Asset, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.seq++
	m.created++
	now := m.now().UTC()
	a := &remote.Asset{
		ID:         fmt.Sprintf("asset-%d", m.seq),
		ParentID:   parentID,
		ProjectID:  m.projectOfParent(parentID),
		Name:       na.Name,
		Type:       na.Type,
		FileType:   na.FileType,
		FileSize:   na.FileSize,
		InsertedAt: now,
		UpdatedAt:  now,
	}
	if na.Type == remote.TypeFolder {
		a.UploadCompletedAt = &now
	} else {
		a.Original = "https://cdn.example/" + a.ID
	}
	m.put(a)
	cp := *a
	return &cp, nil
}

func (m *memStore) GetAsset(ctx context.Context, id string) (*remote.Asset, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	a, ok := m.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, remote.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) DeleteAsset(ctx context.Context, id string) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.assets[id]; !ok {
		return fmt.Errorf("asset %s: %w", id, remote.ErrNotFound)
	}
	m.deleted++
	delete(m.assets, id)
	delete(m.content, id)
	return nil
}

func (m *memStore) Upload(ctx context.Context, a *remote.Asset, f *os.File) error {
	if err := m.check(); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	stored, ok := m.assets[a.ID]
	if !ok {
		return fmt.Errorf("asset %s: %w", a.ID, remote.ErrNotFound)
	}
	m.uploads++
	m.content[a.ID] = data

	now := m.now().UTC()
	stored.UploadCompletedAt = &now
	stored.UpdatedAt = now
	switch {
	case m.noChecksum:
	case m.badHash:
		stored.Checksum = "0000000000000000"
	default:
		stored.Checksum, _ = hashutil.Reader(bytes.NewReader(data))
	}
	return nil
}

func (m *memStore) Download(ctx context.Context, a *remote.Asset, folder string, replace bool) error {
	if err := m.check(); err != nil {
		return err
	}
	dest := filepath.Join(folder, a.Name)
	if _, err := os.Stat(dest); err == nil && !replace {
		return fmt.Errorf("%s: %w", dest, remote.ErrExists)
	}
	data, ok := m.content[a.ID]
	if !ok {
		return fmt.Errorf("asset %s: %w", a.ID, remote.ErrNotFound)
	}
	m.downloads++
	return os.WriteFile(dest, data, 0o644)
}
