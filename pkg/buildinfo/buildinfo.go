// Package buildinfo holds the application's identity and version.
package buildinfo

// Name is the canonical name of the application used for logging.
const Name = "Piper-Provision"

// Version holds the application's version string.
// It's a `var` so it can be set at compile time using ldflags.
// Example: go build -ldflags="-X github.com/piperlabs/piper-provision/pkg/buildinfo.Version=1.0.0"
var Version = "dev"
