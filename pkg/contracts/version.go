// Package contracts holds the versioned surface shared between the server
// and its clients.
package contracts

import (
	"fmt"
	"runtime"
)

const (
	// Version is the release string reported by health checks and logs.
	Version = "0.3.0"

	// VersionStage tracks how far the release has been promoted.
	VersionStage = "beta"

	// DataFormatVersion names the stored item layout. Bump it when a
	// migration changes what the sweeper and exporters must understand.
	DataFormatVersion = "v1"

	// APIVersion covers the HTTP routes and WebSocket message shapes.
	APIVersion = "v1"
)

// Populated at link time via -ldflags "-X sankeyhub/pkg/contracts.BuildTime=...".
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

// VersionInfo is the full build fingerprint, reported by the version flag
// and attached to support bundles.
type VersionInfo struct {
	Version      string `json:"version"`
	Stage        string `json:"stage"`
	BuildTime    string `json:"build_time"`
	GitCommit    string `json:"git_commit"`
	GitBranch    string `json:"git_branch"`
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	DataFormat   string `json:"data_format"`
	APIVersion   string `json:"api_version"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:      Version,
		Stage:        VersionStage,
		BuildTime:    BuildTime,
		GitCommit:    GitCommit,
		GitBranch:    GitBranch,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		DataFormat:   DataFormatVersion,
		APIVersion:   APIVersion,
	}
}

// GetVersionString is the one-line form used in banners and greetings.
func GetVersionString() string {
	return fmt.Sprintf("Sankey EA License Hub v%s", Version)
}

// GetFullVersionString expands the one-line form with the build fingerprint.
func GetFullVersionString() string {
	info := GetVersionInfo()
	return fmt.Sprintf(
		"%s (built: %s, commit: %s, go: %s, os: %s/%s)",
		GetVersionString(),
		info.BuildTime,
		info.GitCommit,
		info.GoVersion,
		info.OS,
		info.Architecture,
	)
}
