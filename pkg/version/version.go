// Package version holds build metadata set through -ldflags:
//
//	go build -ldflags "-X github.com/chmdznr/oss-asset-sync/pkg/version.Version=v1.2.0"
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String is the one-line form printed by the version command.
func String() string {
	commit := GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("assetsync %s (commit %s, built %s)", Version, commit, BuildTime)
}

// UserAgent identifies the client to the remote API.
func UserAgent() string {
	return "assetsync/" + Version
}
