// Package buildinfo contains build-time information embedded via ldflags
package buildinfo

// Version and Commit are set at build time via ldflags
// Example: go build -ldflags "-X github.com/YoshitsuguKoike/deeplay/internal/buildinfo.Version=v1.0.0"
var (
	Version = "dev"
	Commit  = ""
)

// GetVersion returns the current version, with "dev" as default for development builds
func GetVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// GetCommit returns the short commit hash, or "unknown"
func GetCommit() string {
	if Commit == "" {
		return "unknown"
	}
	if len(Commit) > 12 {
		return Commit[:12]
	}
	return Commit
}
