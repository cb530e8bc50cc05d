package models

// Stats represents project statistics
type Stats struct {
	TotalFiles      int64
	TotalFolders    int64
	LocalFiles      int64
	RemoteFiles     int64
	PendingUploads  int64
	PendingDownload int64
	Unverified      int64
	Unconfirmed     int64
	Ignored         int64
	Duplicates      int64
}
