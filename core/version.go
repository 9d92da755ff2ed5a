package core

// Build metadata, injected with:
//
//	go build -ldflags "-X trainwatch/core.Version=$(git describe --tags --always) \
//	    -X trainwatch/core.GitCommit=$(git rev-parse --short HEAD) \
//	    -X trainwatch/core.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionInfo returns e.g. "v1.0.0 (built 2024-01-15T10:30:00Z, commit abc1234)".
func VersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}
