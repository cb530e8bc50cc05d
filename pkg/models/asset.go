package models

// Asset represents a file or folder tracked by the catalog. Path is relative to
// the project root using "/" as separator.
type Asset struct {
	ID        int64
	ProjectID string
	Name      string
	Path      string
	IsFile    bool

	RemoteID       string
	RemoteParentID string
	// Original is the remote content locator used for downloads.
	Original string

	Ignore    bool
	Duplicate bool
	OnRemote  bool
	OnLocal   bool

	LocalHash  string
	RemoteHash string

	// UploadedAt is epoch seconds of the last upload from this side.
	UploadedAt  int64
	Verified    bool
	Unconfirmed bool
	Retries     int
}

// Depth returns the number of path segments below the project root.
func (a *Asset) Depth() int {
	if a.Path == "" {
		return 0
	}
	n := 1
	for i := 0; i < len(a.Path); i++ {
		if a.Path[i] == '/' {
			n++
		}
	}
	return n
}
