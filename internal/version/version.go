// Package version holds build-time identifiers injected via -ldflags.
package version

// Version and Commit are overridden at build time with:
//
//	-ldflags "-X github.com/wisbric/orchestra/internal/version.Version=... -X github.com/wisbric/orchestra/internal/version.Commit=..."
var (
	Version = "dev"
	Commit  = "unknown"
)
