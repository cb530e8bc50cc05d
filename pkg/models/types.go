package models

// Project pairs one remote project with one local directory.
type Project struct {
	ProjectID   string
	Name        string
	TeamID      string
	RootAssetID string

	LocalPath   string
	PathChanged bool

	Sync            bool
	NewData         bool
	DeletedRemotely bool
	DeleteRequested bool

	// LastRemoteScan is an ISO-8601 UTC timestamp with microsecond precision.
	LastRemoteScan string
	// LastLocalScan is epoch seconds.
	LastLocalScan int64

	LocalSize  int64
	RemoteSize int64
}

// HasLocalPath reports whether the user has bound the project to a directory.
func (p *Project) HasLocalPath() bool {
	return p.LocalPath != ""
}

// Pattern origins.
const (
	OriginSystem = "system"
	OriginUser   = "user"
)

// IgnorePattern is a folder name or glob excluded from transfer. Removed patterns
// are kept as tombstones until the sync loop has cleared the flags they set.
type IgnorePattern struct {
	ID      int64
	Name    string
	Origin  string
	Removed bool
}

// Credential types.
const (
	CredentialDevToken = "devtoken"
	CredentialOAuth    = "oauth"
)

// Credentials is the single stored login.
type Credentials struct {
	Type         string
	AccessToken  string
	RefreshToken string
	// Expiry is epoch seconds, zero for tokens that never expire.
	Expiry int64
}
